package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/chatwidget/internal/config"
	"github.com/soyeahso/chatwidget/internal/conversation"
	"github.com/soyeahso/chatwidget/internal/hooks"
	"github.com/soyeahso/chatwidget/internal/logging"
	"github.com/soyeahso/chatwidget/internal/transport"
	"github.com/soyeahso/chatwidget/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

const maxFrameBytes = 64 * 1024

// ExchangerFactory builds the backend client for one connection. warn is
// called when the backend reports a different protocol version.
type ExchangerFactory func(warn func(client, server string)) transport.Exchanger

// Server is the widget HTTP + WebSocket host.
type Server struct {
	cfg      config.Config
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]handlerEntry
	version  string
	eventSeq atomic.Int64

	newExchanger ExchangerFactory
	recorder     conversation.Recorder
	hooks        *hooks.Manager

	mu         sync.Mutex
	listener   net.Listener
	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
	throttle   *connThrottle
}

type handlerEntry struct {
	fn    RequestHandler
	async bool
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for gateway lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithRecorder stores every exchange made through the gateway.
func WithRecorder(r conversation.Recorder) ServerOption {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithExchangerFactory replaces the HTTP backend client.
func WithExchangerFactory(f ExchangerFactory) ServerOption {
	return func(s *Server) {
		s.newExchanger = f
	}
}

// New creates a new gateway server.
func New(cfg config.Config, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log.Sub("gateway"),
		clients:  NewClientRegistry(log.Sub("clients")),
		handlers: make(map[string]handlerEntry),
		version:  version.Version,
		throttle: newConnThrottle(cfg.Gateway.ConnectRate, cfg.Gateway.ConnectBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.newExchanger == nil {
		s.newExchanger = s.httpExchanger()
	}

	s.registerRPCHandlers()
	return s
}

// httpExchanger shares one http.Client between per-connection backend clients.
func (s *Server) httpExchanger() ExchangerFactory {
	hc := &http.Client{}
	w := s.cfg.Widget
	return func(warn func(client, server string)) transport.Exchanger {
		return transport.NewClient(w.APIBaseURL, w.Version, s.log,
			transport.WithHTTPClient(hc),
			transport.WithTimeout(w.Timeout()),
			transport.WithVersionWarning(warn),
		)
	}
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler that runs inline on the read loop.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handlerEntry{fn: handler}
}

// HandleAsync registers an RPC method handler that runs in its own goroutine,
// so the connection keeps reading while it works.
func (s *Server) HandleAsync(method string, handler RequestHandler) {
	s.handlers[method] = handlerEntry{fn: handler, async: true}
}

// Methods returns the sorted list of registered RPC method names.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the HTTP handler with routes and middleware installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Gateway.Bind != "loopback" {
		s.log.Warn().Msg("gateway is reachable off-host; terminate TLS in front of it")
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = httpServer
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Str("backend", s.cfg.Widget.APIBaseURL).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
			"addr": ln.Addr().String(),
		})
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		s.log.Info().Msg("shutting down gateway server")
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.Broadcast(EventShutdown, nil, s.eventSeq.Add(1))
		s.clients.CloseAll()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listen address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Uptime reports how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.throttle.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("connection rate exceeded")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(conn, r.RemoteAddr, s.log.Sub("ws"))
	s.attachConversation(client)

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
		client.Wait()
	}()

	if err := s.sendWelcome(client); err != nil {
		s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("welcome failed")
		return
	}

	s.readLoop(client)
}

// attachConversation gives the client its own controller, with controller
// events forwarded to the socket.
func (s *Server) attachConversation(client *Client) {
	events := hooks.NewManager(s.log.Sub("hooks"))
	forward := func(name string, build func(map[string]any) any) hooks.Handler {
		return func(ctx context.Context, p hooks.Payload) error {
			return client.SendEvent(name, build(p.Data), s.eventSeq.Add(1))
		}
	}

	events.On(hooks.EventStateChanged, "ws", forward(EventStateChanged, func(d map[string]any) any {
		return map[string]any{"state": d["state"]}
	}))
	if s.cfg.Widget.TypingIndicator() {
		events.On(hooks.EventReplyPending, "ws", forward(EventReplyPending, func(d map[string]any) any {
			return map[string]any{"placeholder": d["placeholder"], "coldStart": d["coldStart"]}
		}))
	}
	events.On(hooks.EventVersionMismatch, "ws", forward(EventVersionWarning, func(d map[string]any) any {
		return d
	}))

	warn := func(clientVersion, serverVersion string) {
		data := map[string]any{"clientVersion": clientVersion, "serverVersion": serverVersion}
		events.Emit(client.Context(), hooks.EventVersionMismatch, data)
		if s.hooks != nil {
			// gateway-wide observers must not hold up the exchange
			s.hooks.EmitAsync(context.WithoutCancel(client.Context()), hooks.EventVersionMismatch, data)
		}
	}

	opts := []conversation.Option{
		conversation.WithHooks(events),
		conversation.WithSource("gateway"),
	}
	if s.recorder != nil {
		opts = append(opts, conversation.WithRecorder(s.recorder))
	}
	client.Conversation = conversation.New(s.cfg.Widget, s.newExchanger(warn), s.log, opts...)
}

func (s *Server) sendWelcome(client *Client) error {
	w := s.cfg.Widget
	return client.SendEvent(EventWelcome, Welcome{
		Protocol: ProtocolVersion,
		ConnID:   client.ConnID,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
		},
		Widget: WidgetOptions{
			WelcomeMessage:      w.WelcomeMessage,
			TypingMessage:       w.TypingMessage,
			ColdStartMessage:    w.ColdStartMessage,
			MaxMessageLength:    w.MaxMessageLength,
			RateLimitDelayMs:    w.RateLimitDelay,
			ShowTypingIndicator: w.TypingIndicator(),
			Version:             w.Version,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventWelcome, EventStateChanged, EventReplyPending, EventVersionWarning, EventShutdown},
		},
	}, s.eventSeq.Add(1))
}

// readLoop processes incoming frames until the connection drops.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}

		s.dispatch(client, frame)
	}
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(client *Client, frame Frame) {
	entry, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	rc := &RequestContext{
		Client: client,
		Frame:  frame,
		Server: s,
	}

	if entry.async {
		client.Go(func() { entry.fn(rc) })
		return
	}
	entry.fn(rc)
}
