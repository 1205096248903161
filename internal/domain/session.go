package domain

import "time"

// Session is the client-generated identity that correlates a sequence of
// exchanges with the chat backend. It is created lazily on the first send
// and never changes afterwards.
type Session struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"createdAt"`
	ProtocolVersion string    `json:"protocolVersion"`
}

// ShortID returns a log-safe prefix of the session ID.
func (s Session) ShortID() string {
	const keep = 16
	if len(s.ID) <= keep {
		return s.ID
	}
	return s.ID[:keep] + "***"
}

// SessionKey identifies the conversation a channel message belongs to.
// Each distinct key gets its own conversation controller.
type SessionKey struct {
	ChannelID string `json:"channelId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId,omitempty"`
}

// String returns a canonical string form of the session key.
func (k SessionKey) String() string {
	s := k.ChannelID + ":" + k.ChatID
	if k.SenderID != "" {
		s += ":" + k.SenderID
	}
	return s
}
