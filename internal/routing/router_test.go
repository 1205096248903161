package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatwidget/internal/channel"
	"github.com/soyeahso/chatwidget/internal/config"
	"github.com/soyeahso/chatwidget/internal/conversation"
	"github.com/soyeahso/chatwidget/internal/domain"
	"github.com/soyeahso/chatwidget/internal/logging"
	"github.com/soyeahso/chatwidget/internal/retry"
	"github.com/soyeahso/chatwidget/internal/transport"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// mockChannel is a test double for domain.Channel.
type mockChannel struct {
	id string

	mu      sync.Mutex
	sent    []domain.ChannelMessage
	handler func(domain.InboundMessage)
}

func (m *mockChannel) ID() string                    { return m.id }
func (m *mockChannel) Start(_ context.Context) error { return nil }
func (m *mockChannel) Stop(_ context.Context) error  { return nil }
func (m *mockChannel) Send(_ context.Context, msg domain.ChannelMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}
func (m *mockChannel) OnMessage(handler func(domain.InboundMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *mockChannel) messages() []domain.ChannelMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChannelMessage(nil), m.sent...)
}

// replies drops typing notices.
func (m *mockChannel) replies() []domain.ChannelMessage {
	var out []domain.ChannelMessage
	for _, msg := range m.messages() {
		if msg.Body == "Typing..." || msg.Body == config.DefaultWidget().ColdStartMessage {
			continue
		}
		out = append(out, msg)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ch      *mockChannel
	backend *transport.MockExchanger
	clock   *clock
	router  *Router
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	log := testLogger()
	cfg := config.Defaults()
	zero := 0
	cfg.Widget.MaxRetries = &zero
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		ch:      &mockChannel{id: "irc"},
		backend: &transport.MockExchanger{},
		clock:   &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	reg := channel.NewRegistry(log)
	reg.Register(f.ch)

	f.router = NewRouter(cfg, f.backend, reg, log, WithClock(f.clock.Now))
	return f
}

func dm(from, body string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:        "msg-" + from,
		ChannelID: "irc",
		From:      from,
		ChatID:    from,
		ChatType:  domain.ChatTypeDM,
		Body:      body,
		Timestamp: time.Now(),
	}
}

func group(from, chat, body string) domain.InboundMessage {
	msg := dm(from, body)
	msg.ChatID = chat
	msg.ChatType = domain.ChatTypeGroup
	return msg
}

func TestRouter_HandleInbound_DM(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleInbound(context.Background(), dm("alice", "Hi there"))

	sent := f.ch.messages()
	require.Len(t, sent, 2)
	assert.True(t, sent[0].Notice, "placeholder is a notice")
	assert.Equal(t, config.DefaultWidget().ColdStartMessage, sent[0].Body)

	assert.Equal(t, "alice", sent[1].To)
	assert.Equal(t, "mock response", sent[1].Body)
	assert.Equal(t, "irc", sent[1].ChannelID)
	assert.False(t, sent[1].Notice)
}

func TestRouter_HandleInbound_GroupAddressesSender(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleInbound(context.Background(), group("bob", "#general", "Hello channel"))

	replies := f.ch.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, "#general", replies[0].To)
	assert.Equal(t, "bob: mock response", replies[0].Body)
}

func TestRouter_NoPlaceholderWhenIndicatorOff(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		off := false
		c.Widget.ShowTypingIndicator = &off
	})

	f.router.HandleInbound(context.Background(), dm("alice", "Hi"))
	assert.Len(t, f.ch.messages(), 1)
}

func TestRouter_SeparateConversationsPerSender(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleInbound(context.Background(), group("alice", "#help", "one"))
	f.router.HandleInbound(context.Background(), group("bob", "#help", "two"))
	f.clock.Advance(2 * time.Second)
	f.router.HandleInbound(context.Background(), group("alice", "#help", "three"))

	assert.Equal(t, 2, f.router.Active())

	calls := f.backend.Calls()
	require.Len(t, calls, 3)
	assert.NotEqual(t, calls[0].Session.ID, calls[1].Session.ID)
	assert.Equal(t, calls[0].Session.ID, calls[2].Session.ID)
}

func TestRouter_PerChatScopeSharesConversation(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Session.Scope = ScopePerChat })

	f.router.HandleInbound(context.Background(), group("alice", "#help", "one"))
	f.clock.Advance(2 * time.Second)
	f.router.HandleInbound(context.Background(), group("bob", "#help", "two"))

	assert.Equal(t, 1, f.router.Active())
	calls := f.backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Session.ID, calls[1].Session.ID)
}

func TestRouter_RateLimitedSendsNotice(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleInbound(context.Background(), dm("alice", "one"))
	f.router.HandleInbound(context.Background(), dm("alice", "two"))

	replies := f.ch.replies()
	require.Len(t, replies, 2)
	assert.Equal(t, conversation.MsgSlowDown, replies[1].Body)
	assert.True(t, replies[1].Notice)
	assert.Len(t, f.backend.Calls(), 1)
}

func TestRouter_EmptyMessageIgnored(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleInbound(context.Background(), dm("alice", "  \n  "))
	f.router.HandleInbound(context.Background(), dm("alice", "   "))

	assert.Empty(t, f.ch.messages())
	assert.Empty(t, f.backend.Calls())
}

func TestRouter_BackendFailureText(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.ExchangeFunc = func(ctx context.Context, s domain.Session, text string) (*transport.Reply, error) {
		return nil, &transport.Error{Kind: transport.Timeout}
	}

	f.router.HandleInbound(context.Background(), dm("alice", "hello"))

	replies := f.ch.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, retry.MsgTimeout, replies[0].Body)
}

func TestRouter_BusySenderGetsNotice(t *testing.T) {
	f := newFixture(t, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.ExchangeFunc = func(ctx context.Context, s domain.Session, text string) (*transport.Reply, error) {
		close(entered)
		<-release
		return &transport.Reply{Text: "done"}, nil
	}

	done := make(chan struct{})
	go func() {
		f.router.HandleInbound(context.Background(), dm("alice", "first"))
		close(done)
	}()
	<-entered

	f.clock.Advance(5 * time.Second)
	f.router.HandleInbound(context.Background(), dm("alice", "second"))

	close(release)
	<-done

	replies := f.ch.replies()
	require.Len(t, replies, 2)
	assert.Equal(t, MsgBusy, replies[0].Body)
	assert.True(t, replies[0].Notice)
	assert.Equal(t, "done", replies[1].Body)
	assert.Len(t, f.backend.Calls(), 1)
}

func TestRouter_IdleEviction(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Session.IdleMinutes = 10 })

	f.router.HandleInbound(context.Background(), dm("alice", "one"))
	first := f.backend.Calls()[0].Session.ID
	assert.Equal(t, 1, f.router.Active())

	f.clock.Advance(9 * time.Minute)
	f.router.Sweep()
	assert.Equal(t, 1, f.router.Active())

	f.clock.Advance(2 * time.Minute)
	f.router.Sweep()
	assert.Equal(t, 0, f.router.Active())

	f.router.HandleInbound(context.Background(), dm("alice", "two"))
	calls := f.backend.Calls()
	require.Len(t, calls, 2)
	assert.NotEqual(t, first, calls[1].Session.ID, "evicted sender starts a new session")
}

func TestRouter_WireDispatchesInbound(t *testing.T) {
	f := newFixture(t, nil)
	f.router.Wire(context.Background(), f.ch)

	f.ch.mu.Lock()
	handler := f.ch.handler
	f.ch.mu.Unlock()
	require.NotNil(t, handler)

	handler(dm("carol", "hi"))
	f.router.Wait()

	replies := f.ch.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, "carol", replies[0].To)
}

func TestResolveSessionKey(t *testing.T) {
	msg := group("alice", "#help", "hi")

	perSender := ResolveSessionKey(msg, ScopePerSender)
	assert.Equal(t, "irc:#help:alice", perSender.String())

	perChat := ResolveSessionKey(msg, ScopePerChat)
	assert.Equal(t, "irc:#help", perChat.String())

	assert.Equal(t, perSender, ResolveSessionKey(msg, ""), "default scope is per-sender")
}
