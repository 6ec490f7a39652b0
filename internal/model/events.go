package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// EventKind identifies a domain event type in the outbox.
type EventKind string

const (
	EventBalanceUpdated EventKind = "balance_updated"
	EventGoalAchieved   EventKind = "goal_achieved"
	EventSyncDegraded   EventKind = "sync_degraded"
)

// Event is the outbox envelope for a domain event. Events are queued by the
// aggregate, persisted alongside its state, and drained by pollers.
type Event struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Kind       EventKind       `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// BalanceUpdatedPayload reports a change in a day's net balance.
type BalanceUpdatedPayload struct {
	Date       string  `json:"date"`
	OldBalance float64 `json:"old_balance"`
	NewBalance float64 `json:"new_balance"`
	Confidence float64 `json:"confidence"`
}

// GoalAchievedPayload fires when consumed calories land within 10% of the
// daily goal.
type GoalAchievedPayload struct {
	Date             string  `json:"date"`
	ConsumedCalories float64 `json:"consumed_calories"`
	GoalCalories     float64 `json:"goal_calories"`
}

// SyncDegradedPayload reports a drop in device sync quality for a day.
type SyncDegradedPayload struct {
	Date string      `json:"date"`
	From SyncQuality `json:"from"`
	To   SyncQuality `json:"to"`
}

// NewEvent wraps a payload into an outbox envelope.
func NewEvent(userID string, kind EventKind, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, eris.Wrapf(err, "marshal %s payload", kind)
	}
	return Event{
		ID:         uuid.New().String(),
		UserID:     userID,
		Kind:       kind,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}
