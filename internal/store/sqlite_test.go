package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutriflow/nutrition-core/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleRecord(source model.DataSource) model.ResolutionRecord {
	src := source
	return model.ResolutionRecord{
		ID:               uuid.NewString(),
		FoodQuery:        model.FoodRef{Name: "oatmeal"},
		AttemptedSources: []model.DataSource{model.SourceRegionalDatabase, source},
		SuccessfulSource: &src,
		ResolutionTimeMS: 42,
		FinalConfidence:  0.85,
		FallbackApplied:  true,
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLite_ResolutionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord(model.SourceCommunityDatabase)
	require.NoError(t, s.AppendResolution(ctx, rec))

	got, err := s.ListResolutions(ctx, ResolutionFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, "oatmeal", got[0].FoodQuery.Name)
	assert.Equal(t, rec.AttemptedSources, got[0].AttemptedSources)
	require.NotNil(t, got[0].SuccessfulSource)
	assert.Equal(t, model.SourceCommunityDatabase, *got[0].SuccessfulSource)
	assert.True(t, got[0].FallbackApplied)
	assert.InDelta(t, 0.85, got[0].FinalConfidence, 1e-9)
}

func TestSQLite_ResolutionFailedAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := model.ResolutionRecord{
		ID:               uuid.NewString(),
		FoodQuery:        model.FoodRef{Barcode: "6411401"},
		AttemptedSources: []model.DataSource{model.SourceRegionalDatabase, model.SourceCommunityDatabase},
		ResolutionTimeMS: 310,
		ErrorDetails:     "regional_database: not_found; community_database: timeout",
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, s.AppendResolution(ctx, rec))

	got, err := s.ListResolutions(ctx, ResolutionFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].SuccessfulSource)
	assert.Contains(t, got[0].ErrorDetails, "timeout")
}

func TestSQLite_ListResolutionsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendResolution(ctx, sampleRecord(model.SourceCommunityDatabase)))
	require.NoError(t, s.AppendResolution(ctx, sampleRecord(model.SourceRegionalDatabase)))
	direct := sampleRecord(model.SourceManual)
	direct.FallbackApplied = false
	require.NoError(t, s.AppendResolution(ctx, direct))

	bySource, err := s.ListResolutions(ctx, ResolutionFilter{SuccessfulSource: model.SourceRegionalDatabase})
	require.NoError(t, err)
	require.Len(t, bySource, 1)

	fallbacks, err := s.ListResolutions(ctx, ResolutionFilter{FallbackOnly: true})
	require.NoError(t, err)
	assert.Len(t, fallbacks, 2)

	limited, err := s.ListResolutions(ctx, ResolutionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_SaveBalanceIsTransactional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := model.DailyCalorieEntry{
		Date:               "2026-08-10",
		UserID:             "user-1",
		ConsumedCalories:   1800,
		ConsumedConfidence: 0.8,
		SyncQuality:        model.SyncUnknown,
		MealIDs:            []string{"meal-1", "meal-2"},
		UpdatedAt:          time.Now().UTC(),
	}
	ev, err := model.NewEvent("user-1", model.EventBalanceUpdated, model.BalanceUpdatedPayload{
		Date: "2026-08-10", OldBalance: 0, NewBalance: 1800,
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveBalance(ctx, "user-1", []model.DailyCalorieEntry{entry}, []model.Event{ev}))

	days, err := s.UserBalanceDays(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, 1800.0, days[0].ConsumedCalories)
	assert.Equal(t, []string{"meal-1", "meal-2"}, days[0].MealIDs)

	pending, err := s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.EventBalanceUpdated, pending[0].Kind)
}

func TestSQLite_SaveBalanceUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := model.DailyCalorieEntry{
		Date: "2026-08-10", UserID: "user-1",
		ConsumedCalories: 500, ConsumedConfidence: 0.9,
		SyncQuality: model.SyncUnknown, UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveBalance(ctx, "user-1", []model.DailyCalorieEntry{entry}, nil))

	entry.ConsumedCalories = 900
	entry.SyncQuality = model.SyncGood
	require.NoError(t, s.SaveBalance(ctx, "user-1", []model.DailyCalorieEntry{entry}, nil))

	got, err := s.GetBalanceDay(ctx, "user-1", "2026-08-10")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 900.0, got.ConsumedCalories)
	assert.Equal(t, model.SyncGood, got.SyncQuality)
}

func TestSQLite_GetBalanceDayMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetBalanceDay(context.Background(), "user-1", "2026-01-01")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_OutboxDrain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ev, err := model.NewEvent("user-1", model.EventBalanceUpdated, model.BalanceUpdatedPayload{Date: "2026-08-10"})
		require.NoError(t, err)
		ids = append(ids, ev.ID)
		require.NoError(t, s.SaveBalance(ctx, "user-1", nil, []model.Event{ev}))
	}

	pending, err := s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	require.NoError(t, s.MarkEventsProcessed(ctx, ids[:2]))

	pending, err = s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[2], pending[0].ID)

	// Marking twice is a no-op.
	require.NoError(t, s.MarkEventsProcessed(ctx, ids))
	pending, err = s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSQLite_RateLimitStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	states := []model.RateLimitState{
		{APIName: "openfood", WindowStart: time.Now().UTC().Truncate(time.Second), RequestsCount: 7, WindowSizeMinutes: 1, MaxRequests: 100},
		{APIName: "fineli", UserID: "user-1", WindowStart: time.Now().UTC().Truncate(time.Second), RequestsCount: 2, WindowSizeMinutes: 1, MaxRequests: 50},
	}
	require.NoError(t, s.SaveRateLimitState(ctx, states))

	// Second save overwrites in place.
	states[0].RequestsCount = 8
	require.NoError(t, s.SaveRateLimitState(ctx, states))

	got, err := s.LoadRateLimitState(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byAPI := make(map[string]model.RateLimitState)
	for _, st := range got {
		byAPI[st.APIName] = st
	}
	assert.Equal(t, 8, byAPI["openfood"].RequestsCount)
	assert.Equal(t, "user-1", byAPI["fineli"].UserID)
}
