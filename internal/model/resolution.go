package model

import "time"

// FoodRef identifies the food being resolved. Exactly one of Barcode or Name
// is typically set; Quantity scales per-serving values downstream.
type FoodRef struct {
	Name     string             `json:"name,omitempty"`
	Barcode  string             `json:"barcode,omitempty"`
	ImageB64 string             `json:"image_b64,omitempty"`
	Quantity *PrecisionQuantity `json:"-"`
}

// ResolutionRecord is the audit row written for every resolution attempt,
// successful or not.
type ResolutionRecord struct {
	ID                     string       `json:"id"`
	FoodQuery              FoodRef      `json:"food_query"`
	AttemptedSources       []DataSource `json:"attempted_sources"`
	SuccessfulSource       *DataSource  `json:"successful_source,omitempty"`
	ResolutionTimeMS       int64        `json:"resolution_time_ms"`
	FinalConfidence        float64      `json:"final_confidence"`
	FallbackApplied        bool         `json:"fallback_applied"`
	CrowdsourcingRequested bool         `json:"crowdsourcing_requested"`
	ErrorDetails           string       `json:"error_details,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
}

// RateLimitState is the persisted snapshot of one fixed-window counter.
type RateLimitState struct {
	APIName           string    `json:"api_name"`
	UserID            string    `json:"user_id,omitempty"`
	WindowStart       time.Time `json:"window_start"`
	RequestsCount     int       `json:"requests_count"`
	WindowSizeMinutes int       `json:"window_size_minutes"`
	MaxRequests       int       `json:"max_requests"`
}
