package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest(`{"action":"login","id":"42","data":{"username":"alice","password":"secret","transferPort":5000}}` + "\n")
	require.NoError(t, err)
	assert.Equal(t, "login", req.Action)
	assert.Equal(t, "42", req.ID)

	var d LoginData
	require.NoError(t, json.Unmarshal(req.Data, &d))
	assert.Equal(t, "alice", d.Username)
	assert.Equal(t, 5000, d.TransferPort)
}

func TestParseRequestCRLF(t *testing.T) {
	req, err := ParseRequest(`{"action":"logout","id":"7"}` + "\r\n")
	require.NoError(t, err)
	assert.Equal(t, "logout", req.Action)
}

func TestParseRequestInvalid(t *testing.T) {
	for _, line := range []string{
		"not json",
		"",
		`{"id":"1"}`, // missing action
		`{"action":""}`,
	} {
		_, err := ParseRequest(line)
		assert.ErrorIs(t, err, ErrInvalidPacket, "line %q", line)
	}
}

func TestEncodeAppendsNewline(t *testing.T) {
	data, err := Encode(Response{ID: "1", Status: StatusOK})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestPushHasNoCorrelationID(t *testing.T) {
	data, err := Encode(Push{Action: PushFriendRequests, Data: FriendRequestsPush{
		FriendRequests: []FriendRequestInfo{{ID: "r1", FromUserID: "u1", FromUsername: "alice"}},
	}})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "id")
	assert.Equal(t, PushFriendRequests, decoded["action"])
}
