// Package source defines the client contract for external nutrition
// providers and the typed errors the fallback chain recovers from.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/nutriflow/nutrition-core/internal/model"
)

// ErrorKind classifies a source failure. All kinds are recoverable from the
// chain's point of view: the resolver logs the attempt and moves on.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindNotFound    ErrorKind = "not_found"
	KindRateLimited ErrorKind = "rate_limited"
	KindMalformed   ErrorKind = "malformed"
)

// Error is a classified failure from a single source attempt.
type Error struct {
	Kind   ErrorKind
	Source model.DataSource
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a classified source failure.
func NewError(kind ErrorKind, src model.DataSource, err error) *Error {
	return &Error{Kind: kind, Source: src, Err: err}
}

// KindOf extracts the error kind from an error chain. Context deadline
// expiry counts as a timeout; anything unclassified reports as malformed.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindMalformed
}

// ClassifyStatus maps an HTTP status code to a source error kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindMalformed
	}
}

// Client is the only contract the core requires from a nutrition provider.
// Query must honor the ctx deadline, have no side effects, and be safely
// retryable.
type Client interface {
	// Name returns the provider identifier used for rate-limit keying and audit.
	Name() string
	// Source returns which data-source variant this client represents.
	Source() model.DataSource
	// Query fetches nutrition data for a food reference.
	Query(ctx context.Context, ref model.FoodRef) (*model.NutritionData, model.Attribution, error)
}

// Registry manages the configured source clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds a client, preserving registration order.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.Name()]; !ok {
		r.order = append(r.order, c.Name())
	}
	r.clients[c.Name()] = c
}

// Get returns a client by name, or nil if not registered.
func (r *Registry) Get(name string) Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[name]
}

// List returns clients in registration order.
func (r *Registry) List() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.clients[name])
	}
	return out
}
