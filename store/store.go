// Package store defines the repository interfaces behind the
// coordinator and its two implementations: a sqlite-backed durable
// store and a mutex-guarded in-memory store for tests.
package store

import (
	"errors"
	"time"

	"pshare/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

type UserStore interface {
	// CreateUser persists a new user. Returns ErrDuplicate when the
	// username is taken.
	CreateUser(u *models.User) error
	UserByID(id string) (*models.User, error)
	UserByUsername(username string) (*models.User, error)
	UpdateCredentials(id, credentialHash, salt string) error
	UpdatePublicKey(id, publicKey string) error
	UpdateLastSeen(id string, t time.Time) error

	// Friends returns the user's adjacency list.
	Friends(id string) ([]string, error)
	IsFriend(ownerID, friendID string) (bool, error)
	// AddFriendship records the symmetric relation a<->b as one atomic,
	// idempotent operation.
	AddFriendship(a, b string) error
	// RemoveFriend removes friendID from ownerID's own list only. The
	// reciprocal entry is left untouched. Removing an absent entry is
	// not an error.
	RemoveFriend(ownerID, friendID string) error
}

type SessionStore interface {
	CreateSession(s *models.Session) error
	SessionByToken(token string) (*models.Session, error)
	SessionByEndpoint(address string, controlPort int) (*models.Session, error)
	SessionByUser(userID string) (*models.Session, error)
	// UpdateEndpoint rewrites the volatile connection fields in place,
	// preserving id, owner and token.
	UpdateEndpoint(id, address string, controlPort, transferPort int) error
	UpdateTransferPort(id string, port int) error
	UpdateNATStatus(id string, status models.NATStatus) error
	DeleteSession(id string) error
	DeleteSessionByUser(userID string) error
	// IdleSessions returns sessions not updated since the cutoff.
	IdleSessions(cutoff time.Time) ([]models.Session, error)
}

type FriendRequestStore interface {
	CreateFriendRequest(fr *models.FriendRequest) error
	FriendRequestByID(id string) (*models.FriendRequest, error)
	FriendRequestsTo(userID string) ([]models.FriendRequest, error)
	DeleteFriendRequest(id string) error
}

type TransferStore interface {
	CreateTransfer(t *models.OfflineTransfer) error
	TransfersTo(userID string) ([]models.OfflineTransfer, error)
	DeleteTransfer(id string) error
}
