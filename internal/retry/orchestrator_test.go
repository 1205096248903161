package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/soyeahso/chatwidget/internal/domain"
	"github.com/soyeahso/chatwidget/internal/logging"
	"github.com/soyeahso/chatwidget/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testSession = domain.Session{ID: "session_abc_v1.0.0", ProtocolVersion: "1.0.0"}

// recordingSleep captures requested delays without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func scripted(errs ...error) *transport.MockExchanger {
	var mu sync.Mutex
	i := 0
	return &transport.MockExchanger{
		ExchangeFunc: func(ctx context.Context, s domain.Session, text string) (*transport.Reply, error) {
			mu.Lock()
			defer mu.Unlock()
			idx := i
			i++
			if idx < len(errs) && errs[idx] != nil {
				return nil, errs[idx]
			}
			return &transport.Reply{Text: "pong", StatusCode: 200}, nil
		},
	}
}

func newTestOrchestrator(ex transport.Exchanger, opts ...Option) (*Orchestrator, *recordingSleep) {
	rs := &recordingSleep{}
	opts = append([]Option{WithSleep(rs.Sleep)}, opts...)
	o := New(ex, Config{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}, logging.New(nil, "silent"), opts...)
	return o, rs
}

func serverErr() error { return &transport.Error{Kind: transport.ServerError, StatusCode: 500, Body: "boom"} }

func TestSend_SuccessFirstTry(t *testing.T) {
	ex := scripted()
	o, rs := newTestOrchestrator(ex)

	res := o.Send(context.Background(), testSession, "ping")
	assert.Equal(t, "pong", res.Text)
	assert.True(t, res.Delivered)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, domain.OutcomeSuccess, res.Attempts[0].Outcome)
	assert.Empty(t, rs.delays)
}

func TestSend_ServerErrorsExhaustBudget(t *testing.T) {
	ex := scripted(serverErr(), serverErr(), serverErr(), serverErr())
	o, rs := newTestOrchestrator(ex)

	res := o.Send(context.Background(), testSession, "ping")
	assert.Equal(t, MsgFallback, res.Text)
	assert.False(t, res.Delivered)
	assert.Len(t, ex.Calls(), 3, "exactly three attempts")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rs.delays)

	require.Len(t, res.Attempts, 3)
	for i, a := range res.Attempts {
		assert.Equal(t, i, a.Ordinal)
		assert.Equal(t, domain.OutcomeServerError, a.Outcome)
		assert.Equal(t, 500, a.StatusCode)
	}
	assert.Equal(t, time.Duration(0), res.Attempts[2].Backoff)
}

func TestSend_RateLimitedIsTerminal(t *testing.T) {
	ex := scripted(&transport.Error{Kind: transport.RateLimited, StatusCode: 429})
	o, rs := newTestOrchestrator(ex)

	res := o.Send(context.Background(), testSession, "ping")
	assert.Equal(t, MsgRateLimited, res.Text)
	assert.Len(t, ex.Calls(), 1)
	assert.Empty(t, rs.delays)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, domain.OutcomeRateLimited, res.Attempts[0].Outcome)
}

func TestSend_TimeoutIsTerminal(t *testing.T) {
	ex := scripted(&transport.Error{Kind: transport.Timeout, Err: context.DeadlineExceeded})
	o, _ := newTestOrchestrator(ex)

	res := o.Send(context.Background(), testSession, "ping")
	assert.Equal(t, MsgTimeout, res.Text)
	assert.Len(t, ex.Calls(), 1)
}

func TestSend_NetworkFailureThenSuccess(t *testing.T) {
	ex := scripted(&transport.Error{Kind: transport.NetworkFailure, Err: errors.New("connection refused")})
	o, rs := newTestOrchestrator(ex)

	res := o.Send(context.Background(), testSession, "ping")
	assert.Equal(t, "pong", res.Text)
	assert.True(t, res.Delivered)
	assert.Len(t, ex.Calls(), 2)
	assert.Equal(t, []time.Duration{time.Second}, rs.delays)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, domain.OutcomeNetworkError, res.Attempts[0].Outcome)
	assert.Equal(t, time.Second, res.Attempts[0].Backoff)
}

func TestSend_MalformedIsRetried(t *testing.T) {
	ex := scripted(&transport.Error{Kind: transport.MalformedResponse}, serverErr())
	o, _ := newTestOrchestrator(ex)

	res := o.Send(context.Background(), testSession, "ping")
	assert.True(t, res.Delivered)
	assert.Len(t, ex.Calls(), 3)
	assert.Equal(t, domain.OutcomeInvalidPayload, res.Attempts[0].Outcome)
}

func TestSend_ZeroRetries(t *testing.T) {
	ex := scripted(serverErr())
	o := New(ex, Config{MaxRetries: 0, BaseDelay: time.Second}, logging.New(nil, "silent"))

	res := o.Send(context.Background(), testSession, "ping")
	assert.Equal(t, MsgFallback, res.Text)
	assert.Len(t, ex.Calls(), 1)
}

func TestSend_CancelledDuringBackoff(t *testing.T) {
	ex := scripted(serverErr(), serverErr(), serverErr())
	o := New(ex, Config{MaxRetries: 2, BaseDelay: time.Hour}, logging.New(nil, "silent"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result)
	go func() { done <- o.Send(ctx, testSession, "ping") }()

	require.Eventually(t, func() bool { return len(ex.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, MsgFallback, res.Text)
		assert.Len(t, ex.Calls(), 1)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after cancel")
	}
}

func TestSend_RealSleepHonorsDelay(t *testing.T) {
	ex := scripted(serverErr())
	o := New(ex, Config{MaxRetries: 1, BaseDelay: 20 * time.Millisecond}, logging.New(nil, "silent"))

	start := time.Now()
	res := o.Send(context.Background(), testSession, "ping")
	assert.True(t, res.Delivered)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestColdStart_FiresOnce(t *testing.T) {
	calls := 0
	ex := scripted()
	o, _ := newTestOrchestrator(ex, WithColdStartHandler(func() { calls++ }))

	assert.True(t, o.ColdStart())
	o.Send(context.Background(), testSession, "one")
	assert.False(t, o.ColdStart())
	o.Send(context.Background(), testSession, "two")
	assert.Equal(t, 1, calls)
}

func TestColdStart_NotClearedByFailure(t *testing.T) {
	ex := scripted(&transport.Error{Kind: transport.RateLimited, StatusCode: 429})
	o, _ := newTestOrchestrator(ex)

	o.Send(context.Background(), testSession, "ping")
	assert.True(t, o.ColdStart())
}

func TestSend_AttemptTimestamps(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ex := scripted(serverErr())
	o, _ := newTestOrchestrator(ex, WithClock(func() time.Time { return fixed }))

	res := o.Send(context.Background(), testSession, "ping")
	for _, a := range res.Attempts {
		assert.Equal(t, fixed, a.StartedAt)
	}
}
