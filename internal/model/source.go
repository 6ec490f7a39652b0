// Package model defines the core domain types for nutrition resolution and
// calorie balance tracking.
package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ErrValidation is the sentinel for constructor and field validation failures.
var ErrValidation = eris.New("validation failed")

// DataSource identifies where a nutrition record came from.
type DataSource string

const (
	SourceManual            DataSource = "manual"
	SourceRegionalDatabase  DataSource = "regional_database"
	SourceCommunityDatabase DataSource = "community_database"
	SourceAIEstimate        DataSource = "ai_estimate"
	SourceGeneric           DataSource = "generic"
)

// Valid reports whether s is one of the known data sources.
func (s DataSource) Valid() bool {
	switch s {
	case SourceManual, SourceRegionalDatabase, SourceCommunityDatabase, SourceAIEstimate, SourceGeneric:
		return true
	}
	return false
}

// Attribution describes which source produced a value and how much to trust it.
type Attribution struct {
	Source      DataSource     `json:"source"`
	Confidence  float64        `json:"confidence"`
	Timestamp   time.Time      `json:"timestamp"`
	SyncLatency *time.Duration `json:"sync_latency,omitempty"`
}

// NewAttribution builds an Attribution, rejecting confidence outside [0,1].
func NewAttribution(source DataSource, confidence float64, ts time.Time) (Attribution, error) {
	if !source.Valid() {
		return Attribution{}, eris.Wrapf(ErrValidation, "unknown data source %q", source)
	}
	if confidence < 0 || confidence > 1 {
		return Attribution{}, eris.Wrapf(ErrValidation, "confidence %v outside [0,1]", confidence)
	}
	return Attribution{Source: source, Confidence: confidence, Timestamp: ts}, nil
}

// WithSyncLatency returns a copy carrying the observed source latency.
func (a Attribution) WithSyncLatency(d time.Duration) Attribution {
	a.SyncLatency = &d
	return a
}

// SyncQuality classifies how trustworthy a wearable/device sync was.
type SyncQuality string

const (
	SyncGood     SyncQuality = "good"
	SyncDegraded SyncQuality = "degraded"
	SyncStale    SyncQuality = "stale"
	SyncUnknown  SyncQuality = "unknown"
)

// syncQualityConfidence maps sync quality to an expenditure confidence score.
var syncQualityConfidence = map[SyncQuality]float64{
	SyncGood:     0.9,
	SyncDegraded: 0.7,
	SyncStale:    0.5,
	SyncUnknown:  0.3,
}

// Confidence returns the fixed confidence score for the sync quality.
// Unrecognized values map to the unknown score.
func (q SyncQuality) Confidence() float64 {
	if c, ok := syncQualityConfidence[q]; ok {
		return c
	}
	return syncQualityConfidence[SyncUnknown]
}

// WorseThan reports whether q is a lower-quality sync than other.
func (q SyncQuality) WorseThan(other SyncQuality) bool {
	return q.Confidence() < other.Confidence()
}
