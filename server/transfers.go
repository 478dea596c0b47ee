package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pshare/models"
	"pshare/protocol"
	"pshare/store"
)

// OfflineTransferService queues transfer notices for recipients who
// were offline when the sender announced a file, and flushes them as a
// push on the recipient's next login/resume. Best-effort, at-most-once:
// a notice is deleted once pushed.
type OfflineTransferService struct {
	users     store.UserStore
	transfers store.TransferStore
	log       *logrus.Logger
}

func NewOfflineTransferService(users store.UserStore, transfers store.TransferStore, log *logrus.Logger) *OfflineTransferService {
	return &OfflineTransferService{users: users, transfers: transfers, log: log}
}

// Enqueue records a transfer notice for an offline recipient. Called
// by the data-plane layer.
func (s *OfflineTransferService) Enqueue(fromUserID, toUserID, filename string, size int64) (*models.OfflineTransfer, error) {
	t := &models.OfflineTransfer{
		ID:         uuid.NewString(),
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Filename:   filename,
		Size:       size,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.transfers.CreateTransfer(t); err != nil {
		return nil, err
	}
	return t, nil
}

// FlushTo pushes and consumes every queued notice addressed to userID.
// A notice whose sender no longer resolves is dropped per-item, same
// as the friend-request flush.
func (s *OfflineTransferService) FlushTo(client *Client, userID string) {
	queued, err := s.transfers.TransfersTo(userID)
	if err != nil {
		s.log.WithError(err).WithField("userId", userID).Warn("offline transfer flush failed")
		return
	}
	if len(queued) == 0 {
		return
	}

	infos := make([]protocol.OfflineTransferInfo, 0, len(queued))
	for _, t := range queued {
		from, err := s.users.UserByID(t.FromUserID)
		if err != nil {
			s.log.WithError(err).WithField("transferId", t.ID).Warn("dropping transfer with unresolvable sender")
			continue
		}
		infos = append(infos, protocol.OfflineTransferInfo{
			ID:           t.ID,
			FromUserID:   t.FromUserID,
			FromUsername: from.Username,
			Filename:     t.Filename,
			Size:         t.Size,
		})
	}
	if len(infos) == 0 {
		return
	}

	client.Push(protocol.PushOfflineTransfers, protocol.OfflineTransfersPush{OfflineTransfers: infos})

	for _, t := range queued {
		if err := s.transfers.DeleteTransfer(t.ID); err != nil {
			s.log.WithError(err).WithField("transferId", t.ID).Warn("failed to delete flushed transfer")
		}
	}
}
