package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pshare/models"
	"pshare/store"
)

var ErrNoSuchSession = errors.New("no such session")

// SessionRegistry owns session lifecycle. Sessions are persisted so a
// token resume survives a coordinator restart; the single active
// session per user is enforced here, not in the store.
type SessionRegistry struct {
	sessions store.SessionStore
	log      *logrus.Logger
}

func NewSessionRegistry(sessions store.SessionStore, log *logrus.Logger) *SessionRegistry {
	return &SessionRegistry{sessions: sessions, log: log}
}

// Create retires any session the user already owns, then stores a new
// one with a fresh random token.
func (r *SessionRegistry) Create(userID, address string, controlPort, transferPort int) (*models.Session, error) {
	if err := r.sessions.DeleteSessionByUser(userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Token:        newSessionToken(),
		Address:      address,
		ControlPort:  controlPort,
		TransferPort: transferPort,
		NATStatus:    models.NATUnknown,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.sessions.CreateSession(sess); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"sessionId": sess.ID,
		"userId":    userID,
	}).Debug("session created")
	return sess, nil
}

// Resume rebinds the session identified by token to a new endpoint.
// Identity and everything hanging off the user (friends, pending
// requests) are preserved; only the volatile connection fields change.
func (r *SessionRegistry) Resume(token, address string, controlPort, transferPort int) (*models.Session, error) {
	sess, err := r.sessions.SessionByToken(token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSuchSession
	}
	if err != nil {
		return nil, err
	}

	if err := r.sessions.UpdateEndpoint(sess.ID, address, controlPort, transferPort); err != nil {
		return nil, err
	}

	sess.Address = address
	sess.ControlPort = controlPort
	sess.TransferPort = transferPort

	r.log.WithFields(logrus.Fields{
		"sessionId": sess.ID,
		"userId":    sess.UserID,
	}).Debug("session resumed")
	return sess, nil
}

// UpdateTransferPort rewrites the announced data-plane port only. The
// caller is expected to re-trigger the NAT probe.
func (r *SessionRegistry) UpdateTransferPort(sess *models.Session, port int) error {
	if err := r.sessions.UpdateTransferPort(sess.ID, port); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSuchSession
		}
		return err
	}
	sess.TransferPort = port
	return nil
}

// End deletes the session.
func (r *SessionRegistry) End(sessionID string) error {
	err := r.sessions.DeleteSession(sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoSuchSession
	}
	return err
}

// Delete is End without the domain-error mapping, for maintenance
// sweeps.
func (r *SessionRegistry) Delete(sessionID string) error {
	return r.sessions.DeleteSession(sessionID)
}

// LookupByEndpoint resolves the session bound to a live control
// connection. This is how requests without an explicit token are
// authorized.
func (r *SessionRegistry) LookupByEndpoint(address string, controlPort int) (*models.Session, error) {
	sess, err := r.sessions.SessionByEndpoint(address, controlPort)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSuchSession
	}
	return sess, err
}

func (r *SessionRegistry) LookupByUserID(userID string) (*models.Session, error) {
	sess, err := r.sessions.SessionByUser(userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSuchSession
	}
	return sess, err
}

func (r *SessionRegistry) IdleSessions(cutoff time.Time) ([]models.Session, error) {
	return r.sessions.IdleSessions(cutoff)
}

func newSessionToken() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
