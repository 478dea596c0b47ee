package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pshare/models"
	"pshare/protocol"
	"pshare/store"
)

func (s *Server) dispatch(c *Client, req *protocol.Request) {
	switch req.Action {
	case protocol.ActionRegister:
		s.handleRegister(c, req)
	case protocol.ActionLogin:
		s.handleLogin(c, req)
	case protocol.ActionLogout:
		s.handleLogout(c, req)
	case protocol.ActionChangePassword:
		s.handleChangePassword(c, req)
	case protocol.ActionChangePublicKey:
		s.handleChangePublicKey(c, req)
	case protocol.ActionRequestPublicKey:
		s.handleRequestPublicKey(c, req)
	case protocol.ActionResumeSession:
		s.handleResumeSession(c, req)
	case protocol.ActionUpdateTransferPort:
		s.handleUpdateTransferPort(c, req)
	case protocol.ActionRequestFriendList:
		s.handleRequestFriendList(c, req)
	case protocol.ActionSendFriendRequest:
		s.handleSendFriendRequest(c, req)
	case protocol.ActionDeleteFriend:
		s.handleDeleteFriend(c, req)
	case protocol.ActionAnswerFriendRequest:
		s.handleAnswerFriendRequest(c, req)
	default:
		s.log.WithFields(logrus.Fields{
			"action": req.Action,
			"remote": c.Endpoint(),
		}).Warn("unknown action")
		c.Reply(req.ID, protocol.StatusUnknownError, nil)
	}
}

// decode unmarshals the request payload, collapsing malformed data to
// UnknownError (the status taxonomy has no bad-request code).
func (s *Server) decode(c *Client, req *protocol.Request, v interface{}) bool {
	if err := json.Unmarshal(req.Data, v); err != nil {
		s.log.WithError(err).WithField("action", req.Action).Warn("undecodable payload")
		c.Reply(req.ID, protocol.StatusUnknownError, nil)
		return false
	}
	return true
}

// failInfra logs an unexpected store/infra failure and collapses it to
// the generic UnknownError status. No retry is attempted anywhere.
func (s *Server) failInfra(c *Client, req *protocol.Request, err error) {
	s.log.WithError(err).WithField("action", req.Action).Error("request failed")
	c.Reply(req.ID, protocol.StatusUnknownError, nil)
}

// requireSession resolves the session bound to the caller's endpoint,
// replying with the given status (NoSuchSession or AccessDenied,
// depending on the action's taxonomy) when there is none.
func (s *Server) requireSession(c *Client, req *protocol.Request, missingStatus string) (*models.Session, bool) {
	sess, err := s.registry.LookupByEndpoint(c.address, c.controlPort)
	if errors.Is(err, ErrNoSuchSession) {
		c.Reply(req.ID, missingStatus, nil)
		return nil, false
	}
	if err != nil {
		s.failInfra(c, req, err)
		return nil, false
	}
	return sess, true
}

// attach runs the post-login/resume fan-out: flush pending friend
// requests, flush queued offline transfers, and probe the announced
// transfer port. All three run concurrently after the reply; writes to
// the client are serialized by its connection lock.
func (s *Server) attach(c *Client, sess *models.Session) {
	go s.friends.FlushTo(c, sess.UserID)
	go s.offline.FlushTo(c, sess.UserID)
	go s.nat.Probe(sess.Address, sess.TransferPort, sess.ID)
}

func (s *Server) handleRegister(c *Client, req *protocol.Request) {
	var d protocol.RegisterData
	if !s.decode(c, req, &d) {
		return
	}

	salt := newSalt()
	user := &models.User{
		ID:             uuid.NewString(),
		Username:       d.Username,
		CredentialHash: hashCredential(d.Password, salt),
		Salt:           salt,
		PublicKey:      d.PublicKey,
		LastSeen:       time.Now().UTC(),
	}

	err := s.users.CreateUser(user)
	if errors.Is(err, store.ErrDuplicate) {
		c.Reply(req.ID, protocol.StatusDuplicatedUsername, nil)
		return
	}
	if err != nil {
		s.failInfra(c, req, err)
		return
	}

	s.log.WithField("username", user.Username).Info("user registered")
	c.Reply(req.ID, protocol.StatusOK, protocol.RegisterResult{ID: user.ID, Username: user.Username})
}

func (s *Server) handleLogin(c *Client, req *protocol.Request) {
	var d protocol.LoginData
	if !s.decode(c, req, &d) {
		return
	}

	user, err := s.users.UserByUsername(d.Username)
	if errors.Is(err, store.ErrNotFound) {
		c.Reply(req.ID, protocol.StatusWrongUsernameOrPassword, nil)
		return
	}
	if err != nil {
		s.failInfra(c, req, err)
		return
	}

	if !verifyCredential(d.Password, user.Salt, user.CredentialHash) {
		s.log.WithField("username", d.Username).Debug("login rejected, wrong password")
		c.Reply(req.ID, protocol.StatusWrongUsernameOrPassword, nil)
		return
	}

	sess, err := s.registry.Create(user.ID, c.address, c.controlPort, d.TransferPort)
	if err != nil {
		s.failInfra(c, req, err)
		return
	}

	s.log.WithFields(logrus.Fields{
		"username": user.Username,
		"remote":   c.Endpoint(),
	}).Info("user logged in")

	c.Reply(req.ID, protocol.StatusOK, protocol.LoginResult{
		ID:           user.ID,
		Username:     user.Username,
		SessionToken: sess.Token,
	})

	if err := s.users.UpdateLastSeen(user.ID, time.Now().UTC()); err != nil {
		s.log.WithError(err).WithField("userId", user.ID).Warn("failed to update lastSeen")
	}

	s.attach(c, sess)
}

func (s *Server) handleLogout(c *Client, req *protocol.Request) {
	sess, ok := s.requireSession(c, req, protocol.StatusNoSuchSession)
	if !ok {
		return
	}

	if err := s.registry.End(sess.ID); err != nil {
		if errors.Is(err, ErrNoSuchSession) {
			c.Reply(req.ID, protocol.StatusNoSuchSession, nil)
		} else {
			s.failInfra(c, req, err)
		}
		return
	}

	s.log.WithField("remote", c.Endpoint()).Info("user logged out")
	c.Reply(req.ID, protocol.StatusOK, nil)
}

func (s *Server) handleChangePassword(c *Client, req *protocol.Request) {
	var d protocol.ChangePasswordData
	if !s.decode(c, req, &d) {
		return
	}

	sess, ok := s.requireSession(c, req, protocol.StatusNoSuchSession)
	if !ok {
		return
	}

	user, err := s.users.UserByID(sess.UserID)
	if err != nil {
		s.failInfra(c, req, err)
		return
	}

	if !verifyCredential(d.Password, user.Salt, user.CredentialHash) {
		c.Reply(req.ID, protocol.StatusWrongUsernameOrPassword, nil)
		return
	}

	salt := newSalt()
	if err := s.users.UpdateCredentials(user.ID, hashCredential(d.NewPassword, salt), salt); err != nil {
		s.failInfra(c, req, err)
		return
	}

	c.Reply(req.ID, protocol.StatusOK, nil)
}

func (s *Server) handleChangePublicKey(c *Client, req *protocol.Request) {
	var d protocol.ChangePublicKeyData
	if !s.decode(c, req, &d) {
		return
	}

	sess, ok := s.requireSession(c, req, protocol.StatusNoSuchSession)
	if !ok {
		return
	}

	if err := s.users.UpdatePublicKey(sess.UserID, d.PublicKey); err != nil {
		s.failInfra(c, req, err)
		return
	}

	c.Reply(req.ID, protocol.StatusOK, nil)
}

func (s *Server) handleRequestPublicKey(c *Client, req *protocol.Request) {
	var d protocol.RequestPublicKeyData
	if !s.decode(c, req, &d) {
		return
	}

	sess, ok := s.requireSession(c, req, protocol.StatusAccessDenied)
	if !ok {
		return
	}

	// Public keys are only handed out to friends.
	isFriend, err := s.users.IsFriend(sess.UserID, d.UserID)
	if err != nil {
		s.failInfra(c, req, err)
		return
	}
	if !isFriend {
		c.Reply(req.ID, protocol.StatusAccessDenied, nil)
		return
	}

	target, err := s.users.UserByID(d.UserID)
	if errors.Is(err, store.ErrNotFound) {
		c.Reply(req.ID, protocol.StatusNoSuchUser, nil)
		return
	}
	if err != nil {
		s.failInfra(c, req, err)
		return
	}

	c.Reply(req.ID, protocol.StatusOK, protocol.PublicKeyResult{PublicKey: target.PublicKey})
}

func (s *Server) handleResumeSession(c *Client, req *protocol.Request) {
	var d protocol.ResumeSessionData
	if !s.decode(c, req, &d) {
		return
	}

	sess, err := s.registry.Resume(d.SessionToken, c.address, c.controlPort, d.TransferPort)
	if errors.Is(err, ErrNoSuchSession) {
		c.Reply(req.ID, protocol.StatusNoSuchSession, nil)
		return
	}
	if err != nil {
		s.failInfra(c, req, err)
		return
	}

	s.log.WithFields(logrus.Fields{
		"userId": sess.UserID,
		"remote": c.Endpoint(),
	}).Info("session resumed")

	c.Reply(req.ID, protocol.StatusOK, nil)
	s.attach(c, sess)
}

func (s *Server) handleUpdateTransferPort(c *Client, req *protocol.Request) {
	var d protocol.UpdateTransferPortData
	if !s.decode(c, req, &d) {
		return
	}

	sess, ok := s.requireSession(c, req, protocol.StatusNoSuchSession)
	if !ok {
		return
	}

	if err := s.registry.UpdateTransferPort(sess, d.Port); err != nil {
		if errors.Is(err, ErrNoSuchSession) {
			c.Reply(req.ID, protocol.StatusNoSuchSession, nil)
		} else {
			s.failInfra(c, req, err)
		}
		return
	}

	c.Reply(req.ID, protocol.StatusOK, nil)

	// A new announced port always gets reclassified.
	go s.nat.Probe(sess.Address, sess.TransferPort, sess.ID)
}

func (s *Server) handleRequestFriendList(c *Client, req *protocol.Request) {
	sess, ok := s.requireSession(c, req, protocol.StatusAccessDenied)
	if !ok {
		return
	}

	friendIDs, err := s.users.Friends(sess.UserID)
	if err != nil {
		s.failInfra(c, req, err)
		return
	}

	friends := make([]protocol.Friend, 0, len(friendIDs))
	for _, friendID := range friendIDs {
		friend, err := s.users.UserByID(friendID)
		if err != nil {
			// A dangling adjacency entry must not fail the listing.
			s.log.WithError(err).WithField("userId", friendID).Warn("skipping unresolvable friend")
			continue
		}

		entry := protocol.Friend{
			ID:       friend.ID,
			Username: friend.Username,
			LastSeen: friend.LastSeen.UTC().Format(time.RFC3339),
		}

		if fsess, err := s.registry.LookupByUserID(friendID); err == nil {
			if _, live := s.clients.Get(fsess.Address, fsess.ControlPort); live {
				entry.IsOnline = true
				entry.Address = fsess.Address
				entry.Port = fsess.TransferPort
				entry.IsNAT = fsess.NATStatus == models.NATBehind
			}
		}

		friends = append(friends, entry)
	}

	c.Reply(req.ID, protocol.StatusOK, protocol.FriendListResult{Friends: friends})
}

func (s *Server) handleSendFriendRequest(c *Client, req *protocol.Request) {
	var d protocol.SendFriendRequestData
	if !s.decode(c, req, &d) {
		return
	}

	sess, ok := s.requireSession(c, req, protocol.StatusNoSuchSession)
	if !ok {
		return
	}

	err := s.friends.Send(sess.UserID, d.Username)
	if errors.Is(err, ErrNoSuchUser) {
		c.Reply(req.ID, protocol.StatusNoSuchUser, nil)
		return
	}
	if err != nil {
		s.failInfra(c, req, err)
		return
	}

	c.Reply(req.ID, protocol.StatusOK, nil)
}

func (s *Server) handleDeleteFriend(c *Client, req *protocol.Request) {
	var d protocol.DeleteFriendData
	if !s.decode(c, req, &d) {
		return
	}

	sess, ok := s.requireSession(c, req, protocol.StatusNoSuchSession)
	if !ok {
		return
	}

	if err := s.friends.DeleteFriend(sess.UserID, d.UserID); err != nil {
		s.failInfra(c, req, err)
		return
	}

	c.Reply(req.ID, protocol.StatusOK, nil)
}

func (s *Server) handleAnswerFriendRequest(c *Client, req *protocol.Request) {
	var d protocol.AnswerFriendRequestData
	if !s.decode(c, req, &d) {
		return
	}

	sess, ok := s.requireSession(c, req, protocol.StatusAccessDenied)
	if !ok {
		return
	}

	err := s.friends.Answer(d.RequestID, sess.UserID, d.Decision)
	if errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrNoSuchRequest) {
		c.Reply(req.ID, protocol.StatusAccessDenied, nil)
		return
	}
	if err != nil {
		s.failInfra(c, req, err)
		return
	}

	c.Reply(req.ID, protocol.StatusOK, nil)
}
