package server

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pshare/models"
	"pshare/protocol"
	"pshare/store"
)

var (
	ErrNoSuchUser    = errors.New("no such user")
	ErrAccessDenied  = errors.New("access denied")
	ErrNoSuchRequest = errors.New("no such friend request")
)

// PendingRequest is a pending friend request joined with the
// requester's display name.
type PendingRequest struct {
	ID           string
	FromUserID   string
	FromUsername string
}

// FriendRequestService owns the pending-request store and the
// accept/reject state machine: pending -> resolved, terminal, record
// removed on resolution.
type FriendRequestService struct {
	users    store.UserStore
	requests store.FriendRequestStore
	presence *PresenceRouter
	log      *logrus.Logger
}

func NewFriendRequestService(users store.UserStore, requests store.FriendRequestStore, presence *PresenceRouter, log *logrus.Logger) *FriendRequestService {
	return &FriendRequestService{
		users:    users,
		requests: requests,
		presence: presence,
		log:      log,
	}
}

// Send creates a pending request addressed to toUsername. The caller's
// OK does not depend on the recipient push: the durable record is the
// source of truth and is flushed again on the recipient's next
// login/resume. Duplicate pending requests between the same pair are
// allowed.
func (s *FriendRequestService) Send(fromUserID, toUsername string) error {
	to, err := s.users.UserByUsername(toUsername)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoSuchUser
	}
	if err != nil {
		return err
	}

	fr := &models.FriendRequest{
		ID:         uuid.NewString(),
		FromUserID: fromUserID,
		ToUserID:   to.ID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.requests.CreateFriendRequest(fr); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"requestId":  fr.ID,
		"fromUserId": fromUserID,
		"toUserId":   to.ID,
	}).Debug("friend request created")

	// Fire-and-forget live notification; no acknowledgment, no retry.
	go s.notify(to.ID)
	return nil
}

func (s *FriendRequestService) notify(userID string) {
	client, ok := s.presence.ResolveOnlineClient(userID)
	if !ok {
		return
	}
	s.FlushTo(client, userID)
}

// ListPending returns all pending requests addressed to userID, each
// annotated with the requester's username. A requester whose User
// record is gone is dropped rather than failing the whole listing.
func (s *FriendRequestService) ListPending(userID string) ([]PendingRequest, error) {
	requests, err := s.requests.FriendRequestsTo(userID)
	if err != nil {
		return nil, err
	}

	pending := make([]PendingRequest, 0, len(requests))
	for _, fr := range requests {
		from, err := s.users.UserByID(fr.FromUserID)
		if err != nil {
			s.log.WithError(err).WithField("requestId", fr.ID).Warn("dropping request with unresolvable sender")
			continue
		}
		pending = append(pending, PendingRequest{
			ID:           fr.ID,
			FromUserID:   fr.FromUserID,
			FromUsername: from.Username,
		})
	}

	return pending, nil
}

// FlushTo pushes every pending request for userID to the given client.
func (s *FriendRequestService) FlushTo(client *Client, userID string) {
	pending, err := s.ListPending(userID)
	if err != nil {
		s.log.WithError(err).WithField("userId", userID).Warn("friend request flush failed")
		return
	}
	if len(pending) == 0 {
		return
	}

	infos := make([]protocol.FriendRequestInfo, 0, len(pending))
	for _, p := range pending {
		infos = append(infos, protocol.FriendRequestInfo{
			ID:           p.ID,
			FromUserID:   p.FromUserID,
			FromUsername: p.FromUsername,
		})
	}

	client.Push(protocol.PushFriendRequests, protocol.FriendRequestsPush{FriendRequests: infos})
}

// Answer resolves a pending request. Accept applies the symmetric
// friendship as one atomic, idempotent store operation; reject mutates
// no friend set. The record is deleted in both cases; deletion failure
// is logged and does not change the outcome already decided.
func (s *FriendRequestService) Answer(requestID, responderUserID, decision string) error {
	fr, err := s.requests.FriendRequestByID(requestID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoSuchRequest
	}
	if err != nil {
		return err
	}

	if fr.ToUserID != responderUserID {
		return ErrAccessDenied
	}

	if decision == protocol.DecisionAccept {
		if err := s.users.AddFriendship(fr.FromUserID, fr.ToUserID); err != nil {
			return err
		}
	}

	if err := s.requests.DeleteFriendRequest(fr.ID); err != nil {
		s.log.WithError(err).WithField("requestId", fr.ID).Warn("failed to delete resolved friend request")
	}

	s.log.WithFields(logrus.Fields{
		"requestId": fr.ID,
		"decision":  decision,
	}).Debug("friend request resolved")
	return nil
}

// DeleteFriend removes friendID from userID's own friend set only; the
// reciprocal entry is deliberately left untouched.
func (s *FriendRequestService) DeleteFriend(userID, friendID string) error {
	return s.users.RemoveFriend(userID, friendID)
}
