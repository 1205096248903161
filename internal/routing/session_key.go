package routing

import "github.com/soyeahso/chatwidget/internal/domain"

// Session scopes.
const (
	ScopePerSender = "per-sender"
	ScopePerChat   = "per-chat"
)

// ResolveSessionKey builds a session key from an inbound message and the configured scope.
//
// Scopes:
//   - "per-sender": separate conversation per user per chat (default)
//   - "per-chat": one conversation per chat, shared among all users
//
// Direct messages are always per sender since the chat is the sender.
func ResolveSessionKey(msg domain.InboundMessage, scope string) domain.SessionKey {
	key := domain.SessionKey{
		ChannelID: msg.ChannelID,
		ChatID:    msg.ChatID,
	}

	switch scope {
	case ScopePerChat:
		// No sender ID: all users in a chat share one conversation
	default:
		key.SenderID = msg.From
	}

	return key
}
