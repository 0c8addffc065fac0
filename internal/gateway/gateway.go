// Package gateway is the single path through which deckhand talks to the
// projects API. It attaches the session credential to every request and
// handles authentication failures the same way no matter which caller hit
// them: the session is cleared, OnAuthFailure fires once, and the caller
// still receives an UNAUTHORIZED error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/hpungsan/deckhand/internal/errors"
	"github.com/hpungsan/deckhand/internal/session"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 16 << 20

// Hooks are the pluggable side effects of failed calls.
// Both are optional; the gateway logs every failure regardless.
type Hooks struct {
	// OnAuthFailure runs once per 401, after the session has been cleared.
	// Surfaces use it to navigate to their login view.
	OnAuthFailure func(ctx context.Context, err *errors.DeckError)

	// OnOtherError runs for transport failures, non-401 error statuses and
	// payloads that fail validation.
	OnOtherError func(ctx context.Context, err *errors.DeckError)
}

// Gateway wraps every outbound API call.
type Gateway struct {
	baseURL *url.URL
	holder  session.Holder
	client  *http.Client
	logger  *slog.Logger
	hooks   Hooks
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the HTTP client. The default is http.DefaultClient,
// so timeouts are whatever the transport does.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.client = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithHooks installs failure hooks.
func WithHooks(h Hooks) Option {
	return func(g *Gateway) {
		g.hooks = h
	}
}

// New creates a Gateway for the API rooted at baseURL.
func New(baseURL string, holder session.Holder, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("base url must be absolute, got %q", baseURL)
	}
	if holder == nil {
		return nil, fmt.Errorf("session holder is required")
	}

	g := &Gateway{
		baseURL: u,
		holder:  holder,
		client:  http.DefaultClient,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// BaseURL returns the API root this gateway talks to.
func (g *Gateway) BaseURL() string {
	return g.baseURL.String()
}

// CallOptions describes one request.
type CallOptions struct {
	// Method defaults to GET.
	Method string

	// Query is appended to the URL.
	Query url.Values

	// Body is JSON-encoded when non-nil.
	Body any
}

// Call sends a request to path (already escaped, relative to the base URL)
// and returns the response body of a 2xx reply.
func (g *Gateway) Call(ctx context.Context, path string, opts CallOptions) ([]byte, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	u := g.baseURL.JoinPath(path)
	if len(opts.Query) > 0 {
		u.RawQuery = opts.Query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("encode request body: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("build request: %w", err))
	}
	requestID := uuid.Must(uuid.NewV7()).String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, ok, err := g.holder.Token(ctx)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("read session: %w", err))
	}
	if ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	log := g.logger.With("method", method, "path", path, "request_id", requestID)

	resp, err := g.client.Do(req)
	if err != nil {
		dErr := errors.NewTransport(err)
		g.otherError(ctx, log, dErr)
		return nil, dErr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		dErr := errors.NewTransport(fmt.Errorf("read response: %w", err))
		g.otherError(ctx, log, dErr)
		return nil, dErr
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		dErr := errors.NewUnauthorized(errorMessage(data))
		g.authFailure(ctx, log, dErr)
		return nil, dErr
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		dErr := errors.NewUpstream(resp.StatusCode, path, errorMessage(data))
		g.otherError(ctx, log, dErr)
		return nil, dErr
	}

	log.Debug("api call ok", "status", resp.StatusCode, "bytes", len(data))
	return data, nil
}

// authFailure clears the session and fires OnAuthFailure exactly once.
func (g *Gateway) authFailure(ctx context.Context, log *slog.Logger, dErr *errors.DeckError) {
	// The session must be cleared even if the caller's context is done.
	if err := g.holder.Clear(context.WithoutCancel(ctx)); err != nil {
		log.Error("clear session after 401", "error", err)
	}
	log.Warn("api rejected credentials; session cleared")
	if g.hooks.OnAuthFailure != nil {
		g.hooks.OnAuthFailure(ctx, dErr)
	}
}

func (g *Gateway) otherError(ctx context.Context, log *slog.Logger, dErr *errors.DeckError) {
	log.Error("api call failed", "code", dErr.Code, "status", dErr.Status, "error", dErr.Message)
	if g.hooks.OnOtherError != nil {
		g.hooks.OnOtherError(ctx, dErr)
	}
}

// errorMessage extracts a human-readable message from an error body.
// The API answers with {"error": "..."} or plain text.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

// callJSON performs a call and decodes a validated JSON payload into T.
func callJSON[T any](ctx context.Context, g *Gateway, path string, opts CallOptions, validate func(T) error) (T, error) {
	var out T
	data, err := g.Call(ctx, path, opts)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		dErr := errors.NewInvalidResponse(path, err)
		g.otherError(ctx, g.logger.With("path", path), dErr)
		return out, dErr
	}
	if validate != nil {
		if err := validate(out); err != nil {
			dErr := errors.NewInvalidResponse(path, err)
			g.otherError(ctx, g.logger.With("path", path), dErr)
			return out, dErr
		}
	}
	return out, nil
}
