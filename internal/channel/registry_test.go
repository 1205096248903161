package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatwidget/internal/domain"
	"github.com/soyeahso/chatwidget/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// mockChannel is a test double for domain.Channel.
type mockChannel struct {
	id       string
	startErr error
	stopErr  error
	sendErr  error
	block    bool // Start waits for ctx when set

	mu      sync.Mutex
	started bool
	stopped bool
	sent    []domain.ChannelMessage
	handler func(domain.InboundMessage)
}

func (m *mockChannel) ID() string { return m.id }
func (m *mockChannel) Start(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.startErr
}
func (m *mockChannel) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return m.stopErr
}
func (m *mockChannel) Send(_ context.Context, msg domain.ChannelMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.sendErr
}
func (m *mockChannel) OnMessage(handler func(domain.InboundMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}
func (m *mockChannel) Status() domain.ChannelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.ChannelStatus{
		ChannelID: m.id,
		Connected: m.started && !m.stopped,
		Running:   m.started && !m.stopped,
	}
}

func (m *mockChannel) wasStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())
	ch := &mockChannel{id: "test"}
	reg.Register(ch)

	got, ok := reg.Get("test")
	require.True(t, ok)
	assert.Equal(t, "test", got.ID())

	_, ok = reg.Get("nonexistent")
	assert.False(t, ok)
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&mockChannel{id: "irc"})
	reg.Register(&mockChannel{id: "discord"})

	assert.Equal(t, []string{"discord", "irc"}, reg.List())
}

func TestRegistry_Count(t *testing.T) {
	reg := NewRegistry(testLogger())
	assert.Equal(t, 0, reg.Count())

	reg.Register(&mockChannel{id: "irc"})
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_Status(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&mockChannel{id: "irc"})

	statuses := reg.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "irc", statuses[0].ChannelID)
	assert.False(t, statuses[0].Running)
}

func TestRegistry_Send(t *testing.T) {
	reg := NewRegistry(testLogger())
	ch := &mockChannel{id: "irc"}
	reg.Register(ch)

	err := reg.Send(context.Background(), domain.ChannelMessage{ChannelID: "irc", To: "#help", Body: "hi"})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "#help", ch.sent[0].To)

	err = reg.Send(context.Background(), domain.ChannelMessage{ChannelID: "matrix", To: "x", Body: "hi"})
	assert.ErrorContains(t, err, "unknown channel")
}

func TestRegistry_RunUntilCancelled(t *testing.T) {
	reg := NewRegistry(testLogger())
	ch1 := &mockChannel{id: "irc", block: true}
	ch2 := &mockChannel{id: "broken", startErr: assert.AnError}
	reg.Register(ch1)
	reg.Register(ch2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()

	assert.Eventually(t, ch1.wasStarted, time.Second, 10*time.Millisecond)
	assert.Eventually(t, ch2.wasStarted, time.Second, 10*time.Millisecond)

	// A failed channel does not end the run.
	select {
	case <-done:
		t.Fatal("Run returned before cancellation")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRegistry_RunEmpty(t *testing.T) {
	reg := NewRegistry(testLogger())
	assert.NoError(t, reg.Run(context.Background()))
}

func TestRegistry_StopAll(t *testing.T) {
	reg := NewRegistry(testLogger())
	ch1 := &mockChannel{id: "irc"}
	ch2 := &mockChannel{id: "discord", stopErr: assert.AnError}
	reg.Register(ch1)
	reg.Register(ch2)

	reg.StopAll(context.Background())
	assert.True(t, ch1.stopped)
	assert.True(t, ch2.stopped)
}
