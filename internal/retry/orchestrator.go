// Package retry drives a transport through a bounded sequence of attempts
// and turns the outcome into the text shown to the user.
package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/soyeahso/chatwidget/internal/domain"
	"github.com/soyeahso/chatwidget/internal/logging"
	"github.com/soyeahso/chatwidget/internal/transport"
)

// User-facing texts for terminal failures.
const (
	MsgRateLimited = "Please wait a moment before sending another message."
	MsgTimeout     = "Request timed out. Please try again."
	MsgFallback    = "Sorry, I encountered an error. Please try again later."
)

// Defaults match the widget: three attempts, waiting 1s then 2s.
const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = time.Second
)

// Config bounds the retry sequence.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Result is the final outcome of a send. Text is always set.
type Result struct {
	Text      string
	Delivered bool
	Attempts  []domain.Attempt
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Orchestrator retries transient transport failures with linear backoff.
type Orchestrator struct {
	exchanger  transport.Exchanger
	maxRetries int
	baseDelay  time.Duration
	sleep      SleepFunc
	now        func() time.Time
	log        *logging.Logger

	warm        atomic.Bool
	onColdStart func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithClock sets the time source for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithColdStartHandler is called once, on the first successful exchange.
func WithColdStartHandler(fn func()) Option {
	return func(o *Orchestrator) { o.onColdStart = fn }
}

// New creates an Orchestrator over exchanger.
func New(exchanger transport.Exchanger, cfg Config, log *logging.Logger, opts ...Option) *Orchestrator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	o := &Orchestrator{
		exchanger:  exchanger,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		sleep:      sleepContext,
		now:        time.Now,
		log:        log.Sub("retry"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ColdStart reports whether no exchange has succeeded yet.
func (o *Orchestrator) ColdStart() bool { return !o.warm.Load() }

// Send delivers text, retrying transient failures. It never returns an error;
// failures become one of the Msg* texts.
func (o *Orchestrator) Send(ctx context.Context, session domain.Session, text string) Result {
	var attempts []domain.Attempt

	for ordinal := 0; ordinal <= o.maxRetries; ordinal++ {
		att := domain.Attempt{Ordinal: ordinal, StartedAt: o.now()}

		reply, err := o.exchanger.Exchange(ctx, session, text)
		if err == nil {
			att.Outcome = domain.OutcomeSuccess
			att.StatusCode = reply.StatusCode
			attempts = append(attempts, att)
			o.markWarm()
			return Result{Text: reply.Text, Delivered: true, Attempts: attempts}
		}

		kind := transport.KindOf(err)
		att.Outcome = kind.Outcome()
		att.Detail = err.Error()
		var te *transport.Error
		if errors.As(err, &te) {
			att.StatusCode = te.StatusCode
		}

		logEvt := o.log.Warn().
			Str("sessionId", session.ShortID()).
			Int("ordinal", ordinal).
			Str("outcome", string(att.Outcome)).
			Err(err)

		switch kind {
		case transport.RateLimited:
			logEvt.Msg("rate limited by backend")
			return Result{Text: MsgRateLimited, Attempts: append(attempts, att)}
		case transport.Timeout:
			logEvt.Msg("exchange timed out")
			return Result{Text: MsgTimeout, Attempts: append(attempts, att)}
		}

		if ordinal == o.maxRetries {
			logEvt.Msg("retry budget exhausted")
			attempts = append(attempts, att)
			break
		}

		att.Backoff = o.baseDelay * time.Duration(ordinal+1)
		attempts = append(attempts, att)
		logEvt.Dur("backoff", att.Backoff).Msg("exchange failed, retrying")

		if err := o.sleep(ctx, att.Backoff); err != nil {
			o.log.Debug().Err(err).Msg("backoff interrupted")
			break
		}
	}

	return Result{Text: MsgFallback, Attempts: attempts}
}

func (o *Orchestrator) markWarm() {
	if o.warm.CompareAndSwap(false, true) {
		o.log.Info().Msg("backend warmed up")
		if o.onColdStart != nil {
			o.onColdStart()
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
