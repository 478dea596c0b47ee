// Package protocol defines the newline-delimited JSON control protocol.
// Every request carries an action tag and an opaque correlation id that
// is echoed in the response; server-initiated pushes carry an action
// tag but no correlation id.
package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrInvalidPacket = errors.New("invalid packet format")

// Client-initiated actions.
const (
	ActionRegister            = "register"
	ActionLogin               = "login"
	ActionLogout              = "logout"
	ActionChangePassword      = "changePassword"
	ActionChangePublicKey     = "changePublicKey"
	ActionRequestPublicKey    = "requestPublicKey"
	ActionResumeSession       = "resumeSession"
	ActionUpdateTransferPort  = "updateTransferPort"
	ActionRequestFriendList   = "requestFriendList"
	ActionSendFriendRequest   = "sendFriendRequest"
	ActionDeleteFriend        = "deleteFriend"
	ActionAnswerFriendRequest = "answerFriendRequest"
)

// Server-initiated push actions.
const (
	PushFriendRequests   = "sendFriendRequests"
	PushOfflineTransfers = "sendOfflineTransfers"
)

// Response statuses. Domain failures are statuses, never panics;
// unexpected infrastructure failures collapse to StatusUnknownError.
const (
	StatusOK                      = "OK"
	StatusUnknownError            = "UnknownError"
	StatusAccessDenied            = "AccessDenied"
	StatusNoSuchSession           = "NoSuchSession"
	StatusNoSuchUser              = "NoSuchUser"
	StatusDuplicatedUsername      = "DuplicatedUsername"
	StatusWrongUsernameOrPassword = "WrongUsernameOrPassword"
)

// DecisionAccept is the only decision that mutates friend sets; any
// other value is a reject.
const DecisionAccept = "accept"

type Request struct {
	Action string          `json:"action"`
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type Response struct {
	ID     string      `json:"id,omitempty"`
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

type Push struct {
	Action string      `json:"action"`
	Data   interface{} `json:"data,omitempty"`
}

// ParseRequest decodes one protocol line into a request.
func ParseRequest(line string) (*Request, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return nil, ErrInvalidPacket
	}
	if req.Action == "" {
		return nil, ErrInvalidPacket
	}
	return &req, nil
}

// Encode marshals a response or push and appends the line terminator.
func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Request payloads.

type RegisterData struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	PublicKey string `json:"publicKey"`
}

type LoginData struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	TransferPort int    `json:"transferPort"`
}

type ChangePasswordData struct {
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

type ChangePublicKeyData struct {
	PublicKey string `json:"publicKey"`
}

type RequestPublicKeyData struct {
	UserID string `json:"userId"`
}

type ResumeSessionData struct {
	SessionToken string `json:"sessionToken"`
	TransferPort int    `json:"transferPort"`
}

type UpdateTransferPortData struct {
	Port int `json:"port"`
}

type SendFriendRequestData struct {
	Username string `json:"username"`
}

type DeleteFriendData struct {
	UserID string `json:"userId"`
}

type AnswerFriendRequestData struct {
	RequestID string `json:"requestId"`
	Decision  string `json:"decision"`
}

// Response payloads.

type RegisterResult struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type LoginResult struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	SessionToken string `json:"sessionToken"`
}

type PublicKeyResult struct {
	PublicKey string `json:"publicKey"`
}

type Friend struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	LastSeen string `json:"lastSeen"`
	IsOnline bool   `json:"isOnline"`
	Address  string `json:"address,omitempty"`
	Port     int    `json:"port,omitempty"`
	IsNAT    bool   `json:"isNAT"`
}

type FriendListResult struct {
	Friends []Friend `json:"friends"`
}

// Push payloads.

type FriendRequestInfo struct {
	ID           string `json:"id"`
	FromUserID   string `json:"fromUserId"`
	FromUsername string `json:"fromUsername"`
}

type FriendRequestsPush struct {
	FriendRequests []FriendRequestInfo `json:"friendRequests"`
}

type OfflineTransferInfo struct {
	ID           string `json:"id"`
	FromUserID   string `json:"fromUserId"`
	FromUsername string `json:"fromUsername"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
}

type OfflineTransfersPush struct {
	OfflineTransfers []OfflineTransferInfo `json:"offlineTransfers"`
}
