// Package session holds the bearer credential shared by every API call.
//
// A Holder is the single owner of the token: the gateway reads it before
// each request and clears it on a 401, login writes it, logout clears it.
// Expiry is measured from the last write.
package session

import (
	"context"
	"sync"
	"time"
)

// MaxAge is the default token lifetime after its last write.
const MaxAge = 30 * 24 * time.Hour

// TokenName is the slot under which the credential is persisted.
const TokenName = "token"

// Holder owns a single session credential.
type Holder interface {
	// Token returns the current token and whether one is present.
	// An expired token reads as absent.
	Token(ctx context.Context) (string, bool, error)

	// Set stores token and restarts its expiry. An empty token clears.
	Set(ctx context.Context, token string) error

	// Clear removes the token. Clearing an absent token is not an error.
	Clear(ctx context.Context) error
}

// Option configures a holder.
type Option func(*options)

type options struct {
	now    func() time.Time
	maxAge time.Duration
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMaxAge overrides the token lifetime.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxAge = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, maxAge: MaxAge}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Memory is an in-process Holder.
type Memory struct {
	opts options

	mu      sync.RWMutex
	token   string
	expires time.Time
}

// NewMemory creates an empty in-memory holder.
func NewMemory(opts ...Option) *Memory {
	return &Memory{opts: buildOptions(opts)}
}

// Token implements Holder.
func (m *Memory) Token(_ context.Context) (string, bool, error) {
	m.mu.RLock()
	token, expires := m.token, m.expires
	m.mu.RUnlock()

	if token == "" {
		return "", false, nil
	}
	if !m.opts.now().Before(expires) {
		m.mu.Lock()
		// Only drop it if nobody rewrote the token meanwhile.
		if m.token == token {
			m.token = ""
			m.expires = time.Time{}
		}
		m.mu.Unlock()
		return "", false, nil
	}
	return token, true, nil
}

// Set implements Holder.
func (m *Memory) Set(ctx context.Context, token string) error {
	if token == "" {
		return m.Clear(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expires = m.opts.now().Add(m.opts.maxAge)
	return nil
}

// Clear implements Holder.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expires = time.Time{}
	return nil
}
