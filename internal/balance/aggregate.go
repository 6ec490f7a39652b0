// Package balance maintains the per-user daily calorie ledger and its
// domain-event outbox.
package balance

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nutriflow/nutrition-core/internal/model"
)

// goalTolerance is the fraction of the daily goal within which the goal
// counts as achieved (boundary inclusive).
const goalTolerance = 0.10

// trendDeadBand is the relative dead-band that keeps weekly trend direction
// from flipping on noise.
const trendDeadBand = 0.02

// Aggregate is the per-user calorie balance. It is not safe for concurrent
// use: Manager serializes access per user.
type Aggregate struct {
	UserID       string
	GoalCalories float64

	days    map[string]*model.DailyCalorieEntry
	touched map[string]bool
	pending []model.Event

	nowFunc func() time.Time
}

// NewAggregate creates an empty aggregate for a user.
func NewAggregate(userID string, goalCalories float64) *Aggregate {
	return &Aggregate{
		UserID:       userID,
		GoalCalories: goalCalories,
		days:         make(map[string]*model.DailyCalorieEntry),
		touched:      make(map[string]bool),
		nowFunc:      time.Now,
	}
}

// LoadAggregate rebuilds an aggregate from persisted day entries.
func LoadAggregate(userID string, goalCalories float64, entries []model.DailyCalorieEntry) *Aggregate {
	a := NewAggregate(userID, goalCalories)
	for i := range entries {
		e := entries[i]
		a.days[e.Date] = &e
	}
	return a
}

// WithNow sets a fixed clock for testing.
func (a *Aggregate) WithNow(fn func() time.Time) *Aggregate {
	a.nowFunc = fn
	return a
}

// day returns the entry for a date, creating it lazily on first touch.
func (a *Aggregate) day(date string) *model.DailyCalorieEntry {
	if e, ok := a.days[date]; ok {
		return e
	}
	e := &model.DailyCalorieEntry{Date: date, UserID: a.UserID, SyncQuality: model.SyncUnknown}
	a.days[date] = e
	return e
}

// Entry returns the entry for a date, or nil if the date was never touched.
func (a *Aggregate) Entry(date string) *model.DailyCalorieEntry {
	return a.days[date]
}

// AddMealToBalance folds a resolved meal into the day's consumed total. The
// day's confidence becomes a calorie-weighted blend of the old confidence
// and the meal's, so a big uncertain meal drags the day down more than a
// small one.
func (a *Aggregate) AddMealToBalance(date time.Time, calories, confidence float64, mealID string) error {
	if calories < 0 {
		return eris.Wrapf(model.ErrValidation, "meal calories %v must be non-negative", calories)
	}
	if confidence < 0 || confidence > 1 {
		return eris.Wrapf(model.ErrValidation, "meal confidence %v outside [0,1]", confidence)
	}

	key := model.DateKey(date)
	e := a.day(key)
	oldBalance := e.NetBalance()
	oldTotal := e.ConsumedCalories

	if oldTotal == 0 {
		e.ConsumedConfidence = confidence
	} else {
		e.ConsumedConfidence = (e.ConsumedConfidence*oldTotal + confidence*calories) / (oldTotal + calories)
	}
	e.ConsumedCalories = oldTotal + calories
	e.MealIDs = append(e.MealIDs, mealID)
	e.UpdatedAt = a.nowFunc().UTC()
	a.touched[key] = true

	if err := a.queue(model.EventBalanceUpdated, model.BalanceUpdatedPayload{
		Date:       key,
		OldBalance: oldBalance,
		NewBalance: e.NetBalance(),
		Confidence: e.OverallConfidence(),
	}); err != nil {
		return err
	}

	if a.goalAchieved(e.ConsumedCalories) {
		if err := a.queue(model.EventGoalAchieved, model.GoalAchievedPayload{
			Date:             key,
			ConsumedCalories: e.ConsumedCalories,
			GoalCalories:     a.GoalCalories,
		}); err != nil {
			return err
		}
	}

	zap.L().Debug("meal added to balance",
		zap.String("user_id", a.UserID),
		zap.String("date", key),
		zap.Float64("consumed", e.ConsumedCalories),
		zap.Float64("confidence", e.ConsumedConfidence),
	)
	return nil
}

// goalAchieved is boundary inclusive: exactly 10% off still counts.
func (a *Aggregate) goalAchieved(consumed float64) bool {
	if a.GoalCalories <= 0 {
		return false
	}
	return math.Abs(consumed-a.GoalCalories) <= goalTolerance*a.GoalCalories
}

// UpdateExpenditureFromSync records burned calories from a device sync. A
// worse sync quality than before lowers confidence and emits SyncDegraded;
// it never raises an error.
func (a *Aggregate) UpdateExpenditureFromSync(date time.Time, active, basal float64, quality model.SyncQuality) error {
	if active < 0 || basal < 0 {
		return eris.Wrapf(model.ErrValidation, "burned calories must be non-negative, got active=%v basal=%v", active, basal)
	}

	key := model.DateKey(date)
	e := a.day(key)
	oldBalance := e.NetBalance()
	oldQuality := e.SyncQuality

	e.ActiveBurned = active
	e.BasalBurned = basal
	e.ExpenditureConfidence = quality.Confidence()
	e.SyncQuality = quality
	e.UpdatedAt = a.nowFunc().UTC()
	a.touched[key] = true

	if err := a.queue(model.EventBalanceUpdated, model.BalanceUpdatedPayload{
		Date:       key,
		OldBalance: oldBalance,
		NewBalance: e.NetBalance(),
		Confidence: e.OverallConfidence(),
	}); err != nil {
		return err
	}

	if quality.WorseThan(oldQuality) {
		if err := a.queue(model.EventSyncDegraded, model.SyncDegradedPayload{
			Date: key,
			From: oldQuality,
			To:   quality,
		}); err != nil {
			return err
		}
	}
	return nil
}

// GetWeeklyTrend averages balance and confidence over a window of whole
// weeks ending at endDate, and classifies the direction by comparing the
// first and last week with a 2% dead-band.
func (a *Aggregate) GetWeeklyTrend(endDate time.Time, weeks int) (model.WeeklyTrend, error) {
	if weeks < 1 {
		return model.WeeklyTrend{}, eris.Wrapf(model.ErrValidation, "weeks %d must be positive", weeks)
	}

	end := endDate.UTC().Truncate(24 * time.Hour)
	trend := model.WeeklyTrend{EndDate: model.DateKey(end), Weeks: weeks}

	var balanceSum, confSum float64
	var firstSum, lastSum float64
	var firstN, lastN int

	totalDays := weeks * 7
	for i := 0; i < totalDays; i++ {
		date := model.DateKey(end.AddDate(0, 0, -i))
		e, ok := a.days[date]
		if !ok {
			continue
		}
		trend.DaysWithData++
		balanceSum += e.NetBalance()
		confSum += e.OverallConfidence()

		if i < 7 { // most recent week
			lastSum += e.NetBalance()
			lastN++
		}
		if i >= totalDays-7 { // oldest week
			firstSum += e.NetBalance()
			firstN++
		}
	}

	if trend.DaysWithData > 0 {
		trend.AverageBalance = balanceSum / float64(trend.DaysWithData)
		trend.AverageConfidence = confSum / float64(trend.DaysWithData)
	}

	trend.Direction = model.TrendStable
	if firstN > 0 && lastN > 0 {
		first := firstSum / float64(firstN)
		last := lastSum / float64(lastN)
		band := trendDeadBand * math.Max(math.Abs(first), math.Abs(last))
		switch {
		case last-first > band:
			trend.Direction = model.TrendIncreasing
		case first-last > band:
			trend.Direction = model.TrendDecreasing
		}
	}
	return trend, nil
}

// DrainEvents returns all queued events and clears the queue. Callers drain
// after persisting; events are stored with the aggregate state in the same
// transaction so nothing is lost on crash.
func (a *Aggregate) DrainEvents() []model.Event {
	out := a.pending
	a.pending = nil
	return out
}

// PendingEvents exposes the queue without draining, for persistence.
func (a *Aggregate) PendingEvents() []model.Event {
	return append([]model.Event(nil), a.pending...)
}

// TouchedEntries returns the day entries modified since load, for upsert.
func (a *Aggregate) TouchedEntries() []model.DailyCalorieEntry {
	out := make([]model.DailyCalorieEntry, 0, len(a.touched))
	for date := range a.touched {
		out = append(out, *a.days[date])
	}
	return out
}

func (a *Aggregate) queue(kind model.EventKind, payload any) error {
	ev, err := model.NewEvent(a.UserID, kind, payload)
	if err != nil {
		return err
	}
	a.pending = append(a.pending, ev)
	return nil
}
