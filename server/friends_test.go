package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pshare/models"
	"pshare/protocol"
	"pshare/store"
)

func setupFriendService(t *testing.T) (*FriendRequestService, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	log := testLogger()
	registry := NewSessionRegistry(mem, log)
	presence := NewPresenceRouter(registry, NewClientRegistry())
	svc := NewFriendRequestService(mem, mem, presence, log)

	require.NoError(t, mem.CreateUser(&models.User{ID: "ua", Username: "UserA"}))
	require.NoError(t, mem.CreateUser(&models.User{ID: "ub", Username: "UserB"}))
	return svc, mem
}

func TestSendFriendRequestToUnknownUser(t *testing.T) {
	svc, mem := setupFriendService(t)

	err := svc.Send("ua", "nobody")
	assert.ErrorIs(t, err, ErrNoSuchUser)

	requests, err := mem.FriendRequestsTo("ub")
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestSendFriendRequestPersistsWhileRecipientOffline(t *testing.T) {
	svc, mem := setupFriendService(t)

	require.NoError(t, svc.Send("ua", "UserB"))

	requests, err := mem.FriendRequestsTo("ub")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "ua", requests[0].FromUserID)
}

func TestDuplicatePendingRequestsAllowed(t *testing.T) {
	svc, mem := setupFriendService(t)

	require.NoError(t, svc.Send("ua", "UserB"))
	require.NoError(t, svc.Send("ua", "UserB"))

	requests, err := mem.FriendRequestsTo("ub")
	require.NoError(t, err)
	assert.Len(t, requests, 2)
}

func TestListPendingAnnotatesUsernames(t *testing.T) {
	svc, _ := setupFriendService(t)

	require.NoError(t, svc.Send("ua", "UserB"))

	pending, err := svc.ListPending("ub")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ua", pending[0].FromUserID)
	assert.Equal(t, "UserA", pending[0].FromUsername)
}

func TestListPendingDropsUnresolvableSender(t *testing.T) {
	svc, mem := setupFriendService(t)

	require.NoError(t, svc.Send("ua", "UserB"))
	require.NoError(t, mem.CreateFriendRequest(&models.FriendRequest{
		ID: "orphan", FromUserID: "gone", ToUserID: "ub", CreatedAt: time.Now().UTC(),
	}))

	pending, err := svc.ListPending("ub")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ua", pending[0].FromUserID)
}

func TestAnswerByNonRecipientDenied(t *testing.T) {
	svc, mem := setupFriendService(t)

	require.NoError(t, svc.Send("ua", "UserB"))
	requests, err := mem.FriendRequestsTo("ub")
	require.NoError(t, err)
	requestID := requests[0].ID

	err = svc.Answer(requestID, "ua", protocol.DecisionAccept)
	assert.ErrorIs(t, err, ErrAccessDenied)

	// Request and both friend sets are untouched.
	_, err = mem.FriendRequestByID(requestID)
	require.NoError(t, err)
	aFriends, _ := mem.Friends("ua")
	bFriends, _ := mem.Friends("ub")
	assert.Empty(t, aFriends)
	assert.Empty(t, bFriends)
}

func TestAcceptIsSymmetricAndConsumesRequest(t *testing.T) {
	svc, mem := setupFriendService(t)

	require.NoError(t, svc.Send("ua", "UserB"))
	requests, err := mem.FriendRequestsTo("ub")
	require.NoError(t, err)
	requestID := requests[0].ID

	require.NoError(t, svc.Answer(requestID, "ub", protocol.DecisionAccept))

	aFriends, _ := mem.Friends("ua")
	bFriends, _ := mem.Friends("ub")
	assert.Equal(t, []string{"ub"}, aFriends)
	assert.Equal(t, []string{"ua"}, bFriends)

	pending, err := svc.ListPending("ub")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A repeated accept on the consumed request surfaces as no such
	// request, not as a second mutation.
	err = svc.Answer(requestID, "ub", protocol.DecisionAccept)
	assert.ErrorIs(t, err, ErrNoSuchRequest)
	aFriends, _ = mem.Friends("ua")
	assert.Equal(t, []string{"ub"}, aFriends)
}

func TestRejectConsumesRequestWithoutFriendship(t *testing.T) {
	svc, mem := setupFriendService(t)

	require.NoError(t, svc.Send("ua", "UserB"))
	requests, err := mem.FriendRequestsTo("ub")
	require.NoError(t, err)

	require.NoError(t, svc.Answer(requests[0].ID, "ub", "reject"))

	aFriends, _ := mem.Friends("ua")
	bFriends, _ := mem.Friends("ub")
	assert.Empty(t, aFriends)
	assert.Empty(t, bFriends)

	remaining, err := mem.FriendRequestsTo("ub")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

// Deleting a friend removes the entry from the caller's set only; the
// reciprocal entry survives. This asymmetry is deliberate.
func TestDeleteFriendIsOneDirectional(t *testing.T) {
	svc, mem := setupFriendService(t)

	require.NoError(t, mem.AddFriendship("ua", "ub"))
	require.NoError(t, svc.DeleteFriend("ua", "ub"))

	aFriends, _ := mem.Friends("ua")
	bFriends, _ := mem.Friends("ub")
	assert.Empty(t, aFriends)
	assert.Equal(t, []string{"ua"}, bFriends)
}
