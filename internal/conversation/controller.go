// Package conversation coordinates one embedded chat: sanitizing input,
// enforcing the send interval, owning the session and turning backend
// exchanges into replies for the host to display.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/chatwidget/internal/config"
	"github.com/soyeahso/chatwidget/internal/domain"
	"github.com/soyeahso/chatwidget/internal/hooks"
	"github.com/soyeahso/chatwidget/internal/logging"
	"github.com/soyeahso/chatwidget/internal/ratelimit"
	"github.com/soyeahso/chatwidget/internal/retry"
	"github.com/soyeahso/chatwidget/internal/sanitize"
	"github.com/soyeahso/chatwidget/internal/session"
	"github.com/soyeahso/chatwidget/internal/transport"
)

var (
	// ErrBusy is returned when a send is already in flight.
	ErrBusy = errors.New("conversation is busy")
	// ErrEmptyMessage is returned when input is empty after sanitizing.
	ErrEmptyMessage = errors.New("message is empty")
)

// MsgSlowDown is shown when the user sends faster than the configured interval.
const MsgSlowDown = "Please wait before sending another message"

// MsgUnavailable is what hosts show when a send fails fatally.
const MsgUnavailable = "Service temporarily unavailable. Please try again in a moment."

// State is the controller's lifecycle state.
type State int32

const (
	Idle State = iota
	Busy
)

func (s State) String() string {
	if s == Busy {
		return "busy"
	}
	return "idle"
}

// ReplyKind tells the host how to present a reply.
type ReplyKind string

const (
	ReplyBot     ReplyKind = "bot"     // backend answer or a retry failure text
	ReplyWarning ReplyKind = "warning" // local notice, nothing was sent
)

// Reply is the result of a Send.
type Reply struct {
	Kind      ReplyKind
	Text      string
	Delivered bool
	Exchange  *domain.Exchange // nil for warnings
}

// Recorder persists completed exchanges.
type Recorder interface {
	RecordExchange(ctx context.Context, ex domain.Exchange) error
}

// Controller is the single-writer state machine for one conversation.
type Controller struct {
	cfg       config.WidgetConfig
	sanitizer *sanitize.Sanitizer
	limiter   *ratelimit.Limiter
	identity  *session.Identity
	orch      *retry.Orchestrator
	log       *logging.Logger

	hooks    *hooks.Manager
	recorder Recorder
	source   string
	now      func() time.Time

	state   atomic.Int32
	pending atomic.Value // string

	sessionMu sync.Mutex
	current   *domain.Session
}

type options struct {
	hooks    *hooks.Manager
	recorder Recorder
	source   string
	now      func() time.Time
	entropy  io.Reader
	sleep    retry.SleepFunc
}

// Option configures a Controller.
type Option func(*options)

// WithHooks publishes lifecycle events on m.
func WithHooks(m *hooks.Manager) Option { return func(o *options) { o.hooks = m } }

// WithRecorder stores every accepted exchange.
func WithRecorder(r Recorder) Option { return func(o *options) { o.recorder = r } }

// WithSource tags recorded exchanges with the host name.
func WithSource(s string) Option { return func(o *options) { o.source = s } }

// WithClock sets the time source for rate limiting and records.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithEntropy replaces the session ID randomness source.
func WithEntropy(r io.Reader) Option { return func(o *options) { o.entropy = r } }

// WithSleep replaces the retry backoff wait.
func WithSleep(fn retry.SleepFunc) Option { return func(o *options) { o.sleep = fn } }

// New builds a Controller around exchanger using the widget settings.
func New(cfg config.WidgetConfig, exchanger transport.Exchanger, log *logging.Logger, opts ...Option) *Controller {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller{
		cfg:       cfg,
		sanitizer: sanitize.New(cfg.MaxMessageLength),
		limiter:   ratelimit.New(cfg.RateLimitInterval()),
		log:       log.Sub("conversation"),
		hooks:     o.hooks,
		recorder:  o.recorder,
		source:    o.source,
		now:       o.now,
	}

	idOpts := []session.Option{session.WithClock(o.now)}
	if o.entropy != nil {
		idOpts = append(idOpts, session.WithEntropy(o.entropy))
	}
	c.identity = session.NewIdentity(cfg.Version, idOpts...)

	retryOpts := []retry.Option{
		retry.WithClock(o.now),
		retry.WithColdStartHandler(func() { c.emit(context.Background(), hooks.EventColdStartComplete, nil) }),
	}
	if o.sleep != nil {
		retryOpts = append(retryOpts, retry.WithSleep(o.sleep))
	}
	c.orch = retry.New(exchanger, retry.Config{
		MaxRetries: cfg.Retries(),
		BaseDelay:  cfg.BaseDelay(),
	}, log, retryOpts...)

	c.pending.Store("")
	return c
}

// Send runs one user message through the conversation. Concurrent calls
// while a send is in flight fail fast with ErrBusy.
func (c *Controller) Send(ctx context.Context, rawText string) (Reply, error) {
	if !c.state.CompareAndSwap(int32(Idle), int32(Busy)) {
		return Reply{}, ErrBusy
	}

	msg := c.sanitizer.Message(rawText)
	if msg.Empty() {
		c.state.Store(int32(Idle))
		return Reply{}, ErrEmptyMessage
	}

	if !c.limiter.TryAcquire(c.now()) {
		c.state.Store(int32(Idle))
		c.log.Debug().Msg("send rejected by rate limiter")
		c.emit(ctx, hooks.EventRateLimited, map[string]any{"text": MsgSlowDown})
		return Reply{Kind: ReplyWarning, Text: MsgSlowDown}, nil
	}

	c.emit(ctx, hooks.EventStateChanged, map[string]any{"state": Busy.String()})
	defer c.release(ctx)

	sess, err := c.ensureSession(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("cannot create session")
		return Reply{}, fmt.Errorf("starting session: %w", err)
	}

	coldStart := c.orch.ColdStart()
	placeholder := c.cfg.TypingMessage
	if coldStart {
		placeholder = c.cfg.ColdStartMessage
	}
	c.pending.Store(placeholder)
	c.emit(ctx, hooks.EventReplyPending, map[string]any{
		"placeholder": placeholder,
		"coldStart":   coldStart,
	})

	started := c.now()
	res := c.orch.Send(ctx, sess, msg.SanitizedText)

	ex := domain.Exchange{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Protocol:  sess.ProtocolVersion,
		Source:    c.source,
		UserText:  msg.SanitizedText,
		ReplyText: res.Text,
		Delivered: res.Delivered,
		Attempts:  res.Attempts,
		StartedAt: started,
		Duration:  c.now().Sub(started),
	}

	c.log.Info().
		Str("sessionId", sess.ShortID()).
		Int("attempts", len(res.Attempts)).
		Bool("delivered", res.Delivered).
		Dur("duration", ex.Duration).
		Msg("exchange finished")

	if c.recorder != nil {
		if err := c.recorder.RecordExchange(context.WithoutCancel(ctx), ex); err != nil {
			c.log.Warn().Err(err).Msg("failed to record exchange")
		}
	}

	c.emit(ctx, hooks.EventReplyReceived, map[string]any{
		"text":      res.Text,
		"delivered": res.Delivered,
		"attempts":  len(res.Attempts),
	})

	return Reply{Kind: ReplyBot, Text: res.Text, Delivered: res.Delivered, Exchange: &ex}, nil
}

func (c *Controller) ensureSession(ctx context.Context) (domain.Session, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.current != nil {
		return *c.current, nil
	}
	sess, err := c.identity.Ensure()
	if err != nil {
		return domain.Session{}, err
	}
	c.current = &sess
	c.log.Info().Str("sessionId", sess.ShortID()).Msg("session started")
	c.emit(ctx, hooks.EventSessionStart, map[string]any{"sessionId": sess.ID})
	return sess, nil
}

// release announces Idle before unlocking, so a caller that races in after
// the announcement is the one whose busy event hosts see last.
func (c *Controller) release(ctx context.Context) {
	c.pending.Store("")
	c.emit(ctx, hooks.EventStateChanged, map[string]any{"state": Idle.String()})
	c.state.Store(int32(Idle))
}

func (c *Controller) emit(ctx context.Context, event string, data map[string]any) {
	if c.hooks == nil {
		return
	}
	c.hooks.Emit(ctx, event, data)
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Pending returns the placeholder shown while a send is in flight, or "".
func (c *Controller) Pending() string { return c.pending.Load().(string) }

// Session returns the session once the first accepted send has created it.
func (c *Controller) Session() (domain.Session, bool) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.current == nil {
		return domain.Session{}, false
	}
	return *c.current, true
}

// ColdStart reports whether the backend has not answered successfully yet.
func (c *Controller) ColdStart() bool { return c.orch.ColdStart() }

// Welcome returns the greeting hosts display before the first message.
func (c *Controller) Welcome() string { return c.cfg.WelcomeMessage }

// Config returns the widget settings the controller was built with.
func (c *Controller) Config() config.WidgetConfig { return c.cfg }
