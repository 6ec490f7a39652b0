package model

import "time"

// DateKey formats a time as the canonical per-day key (UTC civil date).
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DailyCalorieEntry is the per-user, per-day rolling calorie ledger row.
// NetBalance and OverallConfidence are derived and never stored.
type DailyCalorieEntry struct {
	Date                  string      `json:"date"` // YYYY-MM-DD
	UserID                string      `json:"user_id"`
	ConsumedCalories      float64     `json:"consumed_calories"`
	ConsumedConfidence    float64     `json:"consumed_confidence"`
	ActiveBurned          float64     `json:"active_burned"`
	BasalBurned           float64     `json:"basal_burned"`
	ExpenditureConfidence float64     `json:"expenditure_confidence"`
	SyncQuality           SyncQuality `json:"sync_quality"`
	MealIDs               []string    `json:"meal_ids,omitempty"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// NetBalance is consumed minus active and basal expenditure.
func (e *DailyCalorieEntry) NetBalance() float64 {
	return e.ConsumedCalories - e.ActiveBurned - e.BasalBurned
}

// OverallConfidence combines intake and expenditure confidence, weighted by
// the calorie volume each side contributes. A day with no recorded calories
// has zero confidence.
func (e *DailyCalorieEntry) OverallConfidence() float64 {
	burned := e.ActiveBurned + e.BasalBurned
	total := e.ConsumedCalories + burned
	if total == 0 {
		return 0
	}
	return (e.ConsumedConfidence*e.ConsumedCalories + e.ExpenditureConfidence*burned) / total
}

// TrendDirection classifies a weekly balance trend.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// WeeklyTrend summarizes average balance and confidence across a window of
// whole weeks ending at a given date.
type WeeklyTrend struct {
	EndDate           string         `json:"end_date"`
	Weeks             int            `json:"weeks"`
	AverageBalance    float64        `json:"average_balance"`
	AverageConfidence float64        `json:"average_confidence"`
	Direction         TrendDirection `json:"direction"`
	DaysWithData      int            `json:"days_with_data"`
}
