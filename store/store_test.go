package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pshare/models"
)

// stores bundles the interfaces under test so the same suite runs
// against the memory and sqlite implementations.
type stores struct {
	UserStore
	SessionStore
	FriendRequestStore
	TransferStore
}

func withStores(t *testing.T, test func(t *testing.T, s stores)) {
	t.Run("memory", func(t *testing.T) {
		m := NewMemory()
		test(t, stores{m, m, m, m})
	})

	t.Run("sqlite", func(t *testing.T) {
		tmpfile, err := os.CreateTemp("", "pshare-test-*.db")
		require.NoError(t, err)
		tmpfile.Close()
		os.Remove(tmpfile.Name())

		db, err := OpenSQLite(tmpfile.Name())
		require.NoError(t, err)
		t.Cleanup(func() {
			db.Close()
			os.Remove(tmpfile.Name())
		})

		test(t, stores{db, db, db, db})
	})
}

func newUser(id, username string) *models.User {
	return &models.User{
		ID:             id,
		Username:       username,
		CredentialHash: "digest-" + username,
		Salt:           "salt-" + username,
		PublicKey:      "pk-" + username,
		LastSeen:       time.Now().UTC().Truncate(time.Second),
	}
}

func newSession(id, userID, token string) *models.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Session{
		ID:           id,
		UserID:       userID,
		Token:        token,
		Address:      "10.0.0.1",
		ControlPort:  4000,
		TransferPort: 5000,
		NATStatus:    models.NATUnknown,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestUserCRUD(t *testing.T) {
	withStores(t, func(t *testing.T, s stores) {
		require.NoError(t, s.CreateUser(newUser("u1", "alice")))

		err := s.CreateUser(newUser("u2", "alice"))
		assert.ErrorIs(t, err, ErrDuplicate)

		u, err := s.UserByUsername("alice")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
		assert.Equal(t, "pk-alice", u.PublicKey)

		_, err = s.UserByID("missing")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.UpdatePublicKey("u1", "pk-new"))
		require.NoError(t, s.UpdateCredentials("u1", "digest-new", "salt-new"))

		u, err = s.UserByID("u1")
		require.NoError(t, err)
		assert.Equal(t, "pk-new", u.PublicKey)
		assert.Equal(t, "digest-new", u.CredentialHash)
		assert.Equal(t, "salt-new", u.Salt)
	})
}

func TestFriendshipSymmetricAndIdempotent(t *testing.T) {
	withStores(t, func(t *testing.T, s stores) {
		require.NoError(t, s.CreateUser(newUser("u1", "alice")))
		require.NoError(t, s.CreateUser(newUser("u2", "bob")))

		require.NoError(t, s.AddFriendship("u1", "u2"))
		require.NoError(t, s.AddFriendship("u1", "u2")) // idempotent

		aFriends, err := s.Friends("u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"u2"}, aFriends)

		bFriends, err := s.Friends("u2")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, bFriends)

		ok, err := s.IsFriend("u1", "u2")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestRemoveFriendIsOneDirectional(t *testing.T) {
	withStores(t, func(t *testing.T, s stores) {
		require.NoError(t, s.AddFriendship("u1", "u2"))
		require.NoError(t, s.RemoveFriend("u1", "u2"))

		aFriends, err := s.Friends("u1")
		require.NoError(t, err)
		assert.Empty(t, aFriends)

		// The reciprocal entry stays.
		bFriends, err := s.Friends("u2")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, bFriends)

		// Removing an absent entry is not an error.
		require.NoError(t, s.RemoveFriend("u1", "u2"))
	})
}

func TestSessionLookups(t *testing.T) {
	withStores(t, func(t *testing.T, s stores) {
		require.NoError(t, s.CreateSession(newSession("s1", "u1", "tok1")))

		byToken, err := s.SessionByToken("tok1")
		require.NoError(t, err)
		assert.Equal(t, "s1", byToken.ID)

		byEndpoint, err := s.SessionByEndpoint("10.0.0.1", 4000)
		require.NoError(t, err)
		assert.Equal(t, "s1", byEndpoint.ID)

		byUser, err := s.SessionByUser("u1")
		require.NoError(t, err)
		assert.Equal(t, "s1", byUser.ID)

		_, err = s.SessionByToken("nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSessionUpdates(t *testing.T) {
	withStores(t, func(t *testing.T, s stores) {
		require.NoError(t, s.CreateSession(newSession("s1", "u1", "tok1")))

		require.NoError(t, s.UpdateEndpoint("s1", "10.0.0.9", 4100, 5100))
		sess, err := s.SessionByToken("tok1")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.9", sess.Address)
		assert.Equal(t, 4100, sess.ControlPort)
		assert.Equal(t, 5100, sess.TransferPort)
		assert.Equal(t, "u1", sess.UserID)

		require.NoError(t, s.UpdateTransferPort("s1", 6000))
		require.NoError(t, s.UpdateNATStatus("s1", models.NATOpen))
		sess, err = s.SessionByUser("u1")
		require.NoError(t, err)
		assert.Equal(t, 6000, sess.TransferPort)
		assert.Equal(t, models.NATOpen, sess.NATStatus)

		assert.ErrorIs(t, s.UpdateTransferPort("missing", 1), ErrNotFound)
	})
}

func TestSessionDelete(t *testing.T) {
	withStores(t, func(t *testing.T, s stores) {
		require.NoError(t, s.CreateSession(newSession("s1", "u1", "tok1")))

		require.NoError(t, s.DeleteSession("s1"))
		assert.ErrorIs(t, s.DeleteSession("s1"), ErrNotFound)

		require.NoError(t, s.CreateSession(newSession("s2", "u1", "tok2")))
		require.NoError(t, s.DeleteSessionByUser("u1"))
		_, err := s.SessionByUser("u1")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting sessions of a user with none is fine.
		require.NoError(t, s.DeleteSessionByUser("u1"))
	})
}

func TestIdleSessions(t *testing.T) {
	withStores(t, func(t *testing.T, s stores) {
		old := newSession("s1", "u1", "tok1")
		old.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
		require.NoError(t, s.CreateSession(old))

		fresh := newSession("s2", "u2", "tok2")
		fresh.Address = "10.0.0.2"
		require.NoError(t, s.CreateSession(fresh))

		idle, err := s.IdleSessions(time.Now().Add(-24 * time.Hour))
		require.NoError(t, err)
		require.Len(t, idle, 1)
		assert.Equal(t, "s1", idle[0].ID)
	})
}

func TestFriendRequestCRUD(t *testing.T) {
	withStores(t, func(t *testing.T, s stores) {
		now := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, s.CreateFriendRequest(&models.FriendRequest{
			ID: "r1", FromUserID: "u1", ToUserID: "u2", CreatedAt: now,
		}))
		// Duplicate pending requests between the same pair are allowed.
		require.NoError(t, s.CreateFriendRequest(&models.FriendRequest{
			ID: "r2", FromUserID: "u1", ToUserID: "u2", CreatedAt: now.Add(time.Second),
		}))

		requests, err := s.FriendRequestsTo("u2")
		require.NoError(t, err)
		assert.Len(t, requests, 2)

		fr, err := s.FriendRequestByID("r1")
		require.NoError(t, err)
		assert.Equal(t, "u1", fr.FromUserID)

		require.NoError(t, s.DeleteFriendRequest("r1"))
		assert.ErrorIs(t, s.DeleteFriendRequest("r1"), ErrNotFound)

		requests, err = s.FriendRequestsTo("u2")
		require.NoError(t, err)
		assert.Len(t, requests, 1)
	})
}

func TestTransferCRUD(t *testing.T) {
	withStores(t, func(t *testing.T, s stores) {
		require.NoError(t, s.CreateTransfer(&models.OfflineTransfer{
			ID: "t1", FromUserID: "u1", ToUserID: "u2",
			Filename: "report.pdf", Size: 1024,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		}))

		transfers, err := s.TransfersTo("u2")
		require.NoError(t, err)
		require.Len(t, transfers, 1)
		assert.Equal(t, "report.pdf", transfers[0].Filename)
		assert.Equal(t, int64(1024), transfers[0].Size)

		require.NoError(t, s.DeleteTransfer("t1"))
		assert.ErrorIs(t, s.DeleteTransfer("t1"), ErrNotFound)
	})
}
