package balance

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nutriflow/nutrition-core/internal/model"
)

// Repository is the persistence surface the manager needs. SaveBalance must
// write the day entries and the outbox events in one transaction.
type Repository interface {
	UserBalanceDays(ctx context.Context, userID string) ([]model.DailyCalorieEntry, error)
	SaveBalance(ctx context.Context, userID string, entries []model.DailyCalorieEntry, events []model.Event) error
}

// Manager serializes aggregate mutations per user. Concurrent calls for the
// same user queue behind a per-user lock instead of racing to a
// last-write-wins outcome.
type Manager struct {
	repo Repository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a manager over the given repository.
func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo, locks: make(map[string]*sync.Mutex)}
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// WithUser loads the user's aggregate, runs fn under the user's lock, and
// persists the touched days plus queued events in one transaction. If fn
// returns an error nothing is persisted.
func (m *Manager) WithUser(ctx context.Context, userID string, goalCalories float64, fn func(*Aggregate) error) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	days, err := m.repo.UserBalanceDays(ctx, userID)
	if err != nil {
		return eris.Wrapf(err, "load balance for user %s", userID)
	}
	agg := LoadAggregate(userID, goalCalories, days)

	if err := fn(agg); err != nil {
		return err
	}

	entries := agg.TouchedEntries()
	events := agg.PendingEvents()
	if len(entries) == 0 && len(events) == 0 {
		return nil
	}

	if err := m.repo.SaveBalance(ctx, userID, entries, events); err != nil {
		return eris.Wrapf(err, "save balance for user %s", userID)
	}

	zap.L().Debug("balance persisted",
		zap.String("user_id", userID),
		zap.Int("days", len(entries)),
		zap.Int("events", len(events)),
	)
	return nil
}
