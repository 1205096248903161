// Package routing connects messaging channels to per-sender conversations.
package routing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/soyeahso/chatwidget/internal/config"
	"github.com/soyeahso/chatwidget/internal/conversation"
	"github.com/soyeahso/chatwidget/internal/domain"
	"github.com/soyeahso/chatwidget/internal/hooks"
	"github.com/soyeahso/chatwidget/internal/logging"
	"github.com/soyeahso/chatwidget/internal/transport"
)

// MsgBusy is sent when a sender writes again before their last reply arrived.
const MsgBusy = "Still working on your previous message, one moment."

// Sender delivers lines through a channel. *channel.Registry implements it.
type Sender interface {
	Send(ctx context.Context, msg domain.ChannelMessage) error
}

// Source registers inbound handlers. *channel.Registry channels implement it.
type Source interface {
	ID() string
	OnMessage(handler func(msg domain.InboundMessage))
}

// Router gives each session key its own conversation and relays replies
// back through the originating channel.
type Router struct {
	widget   config.WidgetConfig
	scope    string
	idle     time.Duration
	backend  transport.Exchanger
	sender   Sender
	recorder conversation.Recorder
	now      func() time.Time
	log      *logging.Logger

	mu    sync.Mutex
	convs map[domain.SessionKey]*route

	inflight sync.WaitGroup
}

type route struct {
	conv     *conversation.Controller
	lastUsed time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithRecorder stores every exchange the router drives.
func WithRecorder(rec conversation.Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// WithClock sets the time source for idle eviction and conversations.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a message router. backend is shared by every
// conversation; sessions stay separate because each conversation owns one.
func NewRouter(cfg config.Config, backend transport.Exchanger, sender Sender, log *logging.Logger, opts ...Option) *Router {
	r := &Router{
		widget:  cfg.Widget,
		scope:   cfg.Session.Scope,
		idle:    cfg.Session.IdleTimeout(),
		backend: backend,
		sender:  sender,
		now:     time.Now,
		log:     log.Sub("routing"),
		convs:   make(map[domain.SessionKey]*route),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleInbound runs one channel message through its sender's conversation
// and sends the outcome back.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) {
	key := ResolveSessionKey(msg, r.scope)
	target := replyTarget(msg)

	r.log.Debug().
		Str("channel", msg.ChannelID).
		Str("key", key.String()).
		Str("chatType", string(msg.ChatType)).
		Msg("routing inbound message")

	conv := r.conversation(key, msg.ChannelID, target)
	reply, err := conv.Send(ctx, msg.Body)

	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return
	case errors.Is(err, conversation.ErrBusy):
		r.send(ctx, msg.ChannelID, target, addressTo(msg, MsgBusy), true)
		return
	case err != nil:
		r.log.Error().Err(err).Str("key", key.String()).Msg("conversation failed")
		r.send(ctx, msg.ChannelID, target, addressTo(msg, conversation.MsgUnavailable), true)
		return
	}

	notice := reply.Kind == conversation.ReplyWarning
	r.send(ctx, msg.ChannelID, target, addressTo(msg, reply.Text), notice)

	if ex := reply.Exchange; ex != nil {
		r.log.Info().
			Str("channel", msg.ChannelID).
			Str("to", target).
			Bool("delivered", reply.Delivered).
			Int("attempts", len(ex.Attempts)).
			Dur("duration", ex.Duration).
			Msg("reply sent")
	}
}

// conversation returns the controller for key, creating it on first use.
// Idle conversations are evicted on the way.
func (r *Router) conversation(key domain.SessionKey, channelID, target string) *conversation.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.evictLocked(now)

	if rt, ok := r.convs[key]; ok {
		rt.lastUsed = now
		return rt.conv
	}

	events := hooks.NewManager(r.log)
	if r.widget.TypingIndicator() {
		events.On(hooks.EventReplyPending, "routing", func(ctx context.Context, p hooks.Payload) error {
			placeholder, _ := p.Data["placeholder"].(string)
			if placeholder == "" {
				return nil
			}
			return r.sender.Send(ctx, domain.ChannelMessage{
				ChannelID: channelID,
				To:        target,
				Body:      placeholder,
				Notice:    true,
			})
		})
	}

	opts := []conversation.Option{
		conversation.WithHooks(events),
		conversation.WithSource(channelID),
		conversation.WithClock(r.now),
	}
	if r.recorder != nil {
		opts = append(opts, conversation.WithRecorder(r.recorder))
	}

	conv := conversation.New(r.widget, r.backend, r.log.With("key", key.String()), opts...)
	r.convs[key] = &route{conv: conv, lastUsed: now}
	r.log.Debug().Str("key", key.String()).Int("active", len(r.convs)).Msg("conversation created")
	return conv
}

// evictLocked drops idle conversations that are not mid-send.
func (r *Router) evictLocked(now time.Time) {
	if r.idle <= 0 {
		return
	}
	for key, rt := range r.convs {
		if now.Sub(rt.lastUsed) >= r.idle && rt.conv.State() == conversation.Idle {
			delete(r.convs, key)
			r.log.Debug().Str("key", key.String()).Msg("idle conversation evicted")
		}
	}
}

// Sweep evicts idle conversations now.
func (r *Router) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(r.now())
}

// Active returns the number of live conversations.
func (r *Router) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

func (r *Router) send(ctx context.Context, channelID, to, body string, notice bool) {
	err := r.sender.Send(ctx, domain.ChannelMessage{
		ChannelID: channelID,
		To:        to,
		Body:      body,
		Notice:    notice,
	})
	if err != nil {
		r.log.Error().Err(err).
			Str("channel", channelID).
			Str("to", to).
			Msg("failed to send reply")
	}
}

// Wire registers the router as the inbound handler of every source. Each
// message is handled on its own goroutine so a slow backend never blocks
// the channel's read loop; a sender's second message is answered with
// MsgBusy instead of queueing.
func (r *Router) Wire(ctx context.Context, sources ...Source) {
	for _, src := range sources {
		src.OnMessage(func(msg domain.InboundMessage) {
			r.inflight.Add(1)
			go func() {
				defer r.inflight.Done()
				r.HandleInbound(ctx, msg)
			}()
		})
		r.log.Debug().Str("channel", src.ID()).Msg("wired message handler")
	}
}

// Wait blocks until every message dispatched by Wire has been handled.
func (r *Router) Wait() { r.inflight.Wait() }

// replyTarget determines where to send the response.
func replyTarget(msg domain.InboundMessage) string {
	switch msg.ChatType {
	case domain.ChatTypeDM:
		return msg.From
	default:
		return msg.ChatID
	}
}

// addressTo prefixes group replies with the sender's nick.
func addressTo(msg domain.InboundMessage, text string) string {
	if msg.ChatType == domain.ChatTypeGroup && msg.From != "" {
		return msg.From + ": " + text
	}
	return text
}
