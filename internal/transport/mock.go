package transport

import (
	"context"
	"sync"

	"github.com/soyeahso/chatwidget/internal/domain"
)

// MockExchanger is a test double for Exchanger.
// It records every call; ExchangeFunc decides the outcome.
type MockExchanger struct {
	ExchangeFunc func(ctx context.Context, session domain.Session, text string) (*Reply, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall is one recorded Exchange invocation.
type MockCall struct {
	Session domain.Session
	Text    string
}

func (m *MockExchanger) Exchange(ctx context.Context, session domain.Session, text string) (*Reply, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Session: session, Text: text})
	m.mu.Unlock()

	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, session, text)
	}
	return &Reply{Text: "mock response", SessionID: session.ID, StatusCode: 200}, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockExchanger) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}
