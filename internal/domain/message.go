package domain

import "time"

// OutboundMessage is user input on its way to the backend.
// SanitizedText is what actually goes over the wire.
type OutboundMessage struct {
	RawText       string `json:"rawText"`
	SanitizedText string `json:"sanitizedText"`
}

// Empty reports whether there is nothing left to send after sanitizing.
func (m OutboundMessage) Empty() bool {
	return m.SanitizedText == ""
}

// Exchange records one accepted send: the user text, the reply shown for it
// and every network attempt made on the way.
type Exchange struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionId"`
	Protocol  string        `json:"protocol"`
	Source    string        `json:"source,omitempty"` // host that drove the exchange: "repl", "gateway", "irc"
	UserText  string        `json:"userText"`
	ReplyText string        `json:"replyText"`
	Delivered bool          `json:"delivered"` // false when ReplyText is a local failure message
	Attempts  []Attempt     `json:"attempts,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// ChatType classifies where a channel message came from.
type ChatType string

const (
	ChatTypeDM    ChatType = "dm"
	ChatTypeGroup ChatType = "group"
)

// InboundMessage is a user line received from a messaging channel.
type InboundMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	From      string    `json:"from"`
	ChatID    string    `json:"chatId"`
	ChatType  ChatType  `json:"chatType"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelMessage is a line to deliver through a messaging channel.
type ChannelMessage struct {
	ChannelID string `json:"channelId"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Notice    bool   `json:"notice,omitempty"` // status lines such as the typing placeholder
}
