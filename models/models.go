package models

import "time"

// NATStatus classifies whether a peer is directly reachable on its
// announced transfer port.
type NATStatus string

const (
	NATUnknown NATStatus = "unknown"
	NATOpen    NATStatus = "open"
	NATBehind  NATStatus = "behind-nat"
)

type User struct {
	ID             string
	Username       string
	CredentialHash string
	Salt           string
	PublicKey      string
	LastSeen       time.Time
}

// Session is the ephemeral per-login record. At most one exists per
// user; the token allows reconnection without re-authentication.
type Session struct {
	ID           string
	UserID       string
	Token        string
	Address      string
	ControlPort  int
	TransferPort int
	NATStatus    NATStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FriendRequest is a pending request instance, consumed by exactly one
// resolution. No history is kept once answered.
type FriendRequest struct {
	ID         string
	FromUserID string
	ToUserID   string
	CreatedAt  time.Time
}

// OfflineTransfer is a queued transfer notice for a recipient who was
// offline when the sender announced a file.
type OfflineTransfer struct {
	ID         string
	FromUserID string
	ToUserID   string
	Filename   string
	Size       int64
	CreatedAt  time.Time
}
