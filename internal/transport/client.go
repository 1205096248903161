// Package transport performs single request/response exchanges with the
// chat backend over HTTP.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/chatwidget/internal/domain"
	"github.com/soyeahso/chatwidget/internal/logging"
)

// DefaultTimeout bounds a single attempt.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a non-2xx body is kept on the error.
const maxErrorBody = 4096

// maxResponseBody caps how much of any response is read.
const maxResponseBody = 1 << 20

// Exchanger sends one message and returns the backend's reply.
type Exchanger interface {
	Exchange(ctx context.Context, session domain.Session, text string) (*Reply, error)
}

// Reply is a successful backend answer.
type Reply struct {
	Text          string
	SessionID     string
	ServerVersion string
	StatusCode    int
	Duration      time.Duration
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Version   string `json:"version"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Client is the HTTP Exchanger for the chat backend.
type Client struct {
	baseURL       string
	version       string
	timeout       time.Duration
	http          *http.Client
	log           *logging.Logger
	onVersionWarn func(client, server string)
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithVersionWarning registers a callback for replies whose protocol version
// differs from the client's.
func WithVersionWarning(fn func(client, server string)) Option {
	return func(c *Client) { c.onVersionWarn = fn }
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL, version string, log *logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		version: version,
		timeout: DefaultTimeout,
		http:    &http.Client{},
		log:     log.Sub("transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Exchange performs exactly one POST /chat. Every failure is a *Error.
func (c *Client) Exchange(ctx context.Context, session domain.Session, text string) (*Reply, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(chatRequest{Message: text, SessionID: session.ID})
	if err != nil {
		return nil, &Error{Kind: NetworkFailure, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: NetworkFailure, Err: fmt.Errorf("create request: %w", err)}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("User-Agent", "chatwidget/"+c.version)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Debug().Str("requestId", requestID).Dur("timeout", c.timeout).Msg("exchange timed out")
			return nil, &Error{Kind: Timeout, Err: err}
		}
		return nil, &Error{Kind: NetworkFailure, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: Timeout, Err: err}
		}
		return nil, &Error{Kind: NetworkFailure, Err: fmt.Errorf("read response: %w", err)}
	}

	c.log.Debug().
		Str("requestId", requestID).
		Str("sessionId", session.ShortID()).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("exchange completed")

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Kind: RateLimited, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(body)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &Error{Kind: ServerError, StatusCode: resp.StatusCode, Body: text}
	}

	if len(body) > maxResponseBody {
		return nil, &Error{Kind: MalformedResponse, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("response body exceeds %d bytes", maxResponseBody)}
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &Error{Kind: MalformedResponse, StatusCode: resp.StatusCode, Err: err}
	}
	if result.Response == "" {
		return nil, &Error{Kind: MalformedResponse, StatusCode: resp.StatusCode}
	}

	if result.Version != "" && result.Version != c.version {
		c.log.Warn().
			Str("clientVersion", c.version).
			Str("serverVersion", result.Version).
			Msg("protocol version mismatch")
		if c.onVersionWarn != nil {
			c.onVersionWarn(c.version, result.Version)
		}
	}

	return &Reply{
		Text:          result.Response,
		SessionID:     result.SessionID,
		ServerVersion: result.Version,
		StatusCode:    resp.StatusCode,
		Duration:      time.Since(start),
	}, nil
}

// Health probes GET /health and returns the backend's reported status.
func (c *Client) Health(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "chatwidget/"+c.version)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("health check returned %d", resp.StatusCode)
	}

	var result healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse health response: %w", err)
	}
	return result.Status, nil
}
