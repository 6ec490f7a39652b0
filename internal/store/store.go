// Package store persists resolution audit records, balance days, the
// domain-event outbox, and rate-limit windows.
package store

import (
	"context"

	"github.com/nutriflow/nutrition-core/internal/model"
)

// ResolutionFilter specifies criteria for listing resolution records.
type ResolutionFilter struct {
	SuccessfulSource model.DataSource `json:"successful_source,omitempty"`
	FallbackOnly     bool             `json:"fallback_only,omitempty"`
	Limit            int              `json:"limit,omitempty"`
	Offset           int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the resolution core.
type Store interface {
	// Resolution audit
	AppendResolution(ctx context.Context, rec model.ResolutionRecord) error
	ListResolutions(ctx context.Context, filter ResolutionFilter) ([]model.ResolutionRecord, error)

	// Balance ledger
	UserBalanceDays(ctx context.Context, userID string) ([]model.DailyCalorieEntry, error)
	GetBalanceDay(ctx context.Context, userID, date string) (*model.DailyCalorieEntry, error)
	// SaveBalance upserts day entries and appends outbox events in one
	// transaction: events are never persisted without their state change.
	SaveBalance(ctx context.Context, userID string, entries []model.DailyCalorieEntry, events []model.Event) error

	// Outbox drain (poll model)
	PendingEvents(ctx context.Context, limit int) ([]model.Event, error)
	MarkEventsProcessed(ctx context.Context, ids []string) error

	// Rate-limit windows
	SaveRateLimitState(ctx context.Context, states []model.RateLimitState) error
	LoadRateLimitState(ctx context.Context) ([]model.RateLimitState, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
