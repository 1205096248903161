package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/soyeahso/chatwidget/internal/conversation"
	"github.com/soyeahso/chatwidget/internal/session"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /widget/config", s.handleWidgetConfig)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("state.get", s.rpcStateGet)
	s.Handle("session.get", s.rpcSessionGet)
	s.HandleAsync("chat.send", s.rpcChatSend)
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Clients:  s.clients.Count(),
		UptimeMs: s.Uptime().Milliseconds(),
	})
}

type stateResult struct {
	State     string `json:"state"`
	Pending   string `json:"pending,omitempty"`
	ColdStart bool   `json:"coldStart"`
}

func (s *Server) rpcStateGet(rc *RequestContext) {
	conv := rc.Client.Conversation
	rc.Respond(stateResult{
		State:     conv.State().String(),
		Pending:   conv.Pending(),
		ColdStart: conv.ColdStart(),
	})
}

type sessionResult struct {
	Active          bool   `json:"active"`
	SessionID       string `json:"sessionId,omitempty"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"`
}

func (s *Server) rpcSessionGet(rc *RequestContext) {
	sess, ok := rc.Client.Conversation.Session()
	if !ok {
		rc.Respond(sessionResult{})
		return
	}
	rc.Respond(sessionResult{
		Active:          true,
		SessionID:       sess.ID,
		ProtocolVersion: sess.ProtocolVersion,
		CreatedAt:       sess.CreatedAt.UTC().Format(time.RFC3339),
	})
}

type chatSendParams struct {
	Message string `json:"message"`
}

type chatSendResult struct {
	Kind       string `json:"kind"`
	Text       string `json:"text"`
	Delivered  bool   `json:"delivered"`
	SessionID  string `json:"sessionId,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	reply, err := rc.Client.Conversation.Send(rc.Client.Context(), p.Message)
	switch {
	case errors.Is(err, conversation.ErrBusy):
		rc.RespondErrorShape(ErrorShape{
			Code:      "busy",
			Message:   "a message is already being sent",
			Retryable: true,
		})
		return
	case errors.Is(err, conversation.ErrEmptyMessage):
		rc.RespondError("invalid_params", "message is required")
		return
	case errors.Is(err, session.ErrEntropyUnavailable):
		s.log.Error().Err(err).Str("connId", rc.Client.ConnID).Msg("chat.send failed")
		rc.RespondError("unavailable", conversation.MsgUnavailable)
		return
	case err != nil:
		s.log.Error().Err(err).Str("connId", rc.Client.ConnID).Msg("chat.send failed")
		rc.RespondError("internal", conversation.MsgUnavailable)
		return
	}

	res := chatSendResult{
		Kind:      string(reply.Kind),
		Text:      reply.Text,
		Delivered: reply.Delivered,
	}
	if ex := reply.Exchange; ex != nil {
		res.SessionID = ex.SessionID
		res.Attempts = len(ex.Attempts)
		res.DurationMs = ex.Duration.Milliseconds()
	}
	rc.Respond(res)
}
