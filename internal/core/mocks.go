package core

import (
	"context"
	"sync"
	"time"

	"lexledger/internal/types"
)

// MockAuthenticator is an Authenticator for handler tests. ResolveTokenFunc
// wins over Err, which wins over Actor.
type MockAuthenticator struct {
	Actor            *types.Actor
	Err              error
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// MockCronVerifier accepts exactly Secret.
type MockCronVerifier struct {
	Secret string
}

func (m MockCronVerifier) Verify(presented string) bool {
	return m.Secret != "" && presented == m.Secret
}

// MetricsCall is one request recorded by MockMetricsCollector.
type MetricsCall struct {
	Method, Endpoint, Status string
	Duration                 time.Duration
}

// MockMetricsCollector records RecordRequest calls.
type MockMetricsCollector struct {
	mu    sync.Mutex
	Calls []MetricsCall
}

func (m *MockMetricsCollector) RecordRequest(method, endpoint, status string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MetricsCall{method, endpoint, status, d})
}

// Recorded returns a copy of the recorded calls.
func (m *MockMetricsCollector) Recorded() []MetricsCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MetricsCall(nil), m.Calls...)
}
