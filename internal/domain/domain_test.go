package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- SessionKey tests ---

func TestSessionKeyString(t *testing.T) {
	tests := []struct {
		name string
		key  SessionKey
		want string
	}{
		{
			name: "with sender",
			key:  SessionKey{ChannelID: "irc", ChatID: "#general", SenderID: "alice"},
			want: "irc:#general:alice",
		},
		{
			name: "without sender",
			key:  SessionKey{ChannelID: "irc", ChatID: "#general"},
			want: "irc:#general",
		},
		{
			name: "empty fields",
			key:  SessionKey{},
			want: ":",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.String())
		})
	}
}

func TestSessionKeyEquality(t *testing.T) {
	k1 := SessionKey{ChannelID: "irc", ChatID: "#test", SenderID: "alice"}
	k2 := SessionKey{ChannelID: "irc", ChatID: "#test", SenderID: "alice"}
	k3 := SessionKey{ChannelID: "irc", ChatID: "#test", SenderID: "bob"}

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1.String(), k3.String())
}

// --- Session tests ---

func TestSessionShortID(t *testing.T) {
	s := Session{ID: "session_0123456789abcdef0123456789abcdef_v1.0.0"}
	assert.Equal(t, "session_01234567***", s.ShortID())

	short := Session{ID: "abc"}
	assert.Equal(t, "abc", short.ShortID())
}

// --- OutboundMessage tests ---

func TestOutboundMessageEmpty(t *testing.T) {
	assert.True(t, OutboundMessage{RawText: "   "}.Empty())
	assert.False(t, OutboundMessage{RawText: "hi", SanitizedText: "hi"}.Empty())
}

// --- Attempt tests ---

func TestAttemptJSON_OmitsEmpty(t *testing.T) {
	data, err := json.Marshal(Attempt{Ordinal: 0, Outcome: OutcomeSuccess})
	require.NoError(t, err)

	raw := string(data)
	assert.Contains(t, raw, `"outcome":"success"`)
	assert.NotContains(t, raw, "statusCode")
	assert.NotContains(t, raw, "detail")
	assert.NotContains(t, raw, "backoff")
}

func TestChannelMessageJSON_OmitsNotice(t *testing.T) {
	data, err := json.Marshal(ChannelMessage{ChannelID: "irc", To: "#general", Body: "hi"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "notice")
}
