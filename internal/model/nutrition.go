package model

import (
	"github.com/rotisserie/eris"
)

// MicronutrientValue is a single open-ended nutrient reading with its own
// confidence. Keys are open-ended by design; everything else in
// NutritionData is a fixed field.
type MicronutrientValue struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
}

// NutritionData is a resolved nutrition record for one food item, normalized
// per serving. All macro fields are non-negative.
type NutritionData struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`

	Fiber  *float64 `json:"fiber,omitempty"`
	Sugar  *float64 `json:"sugar,omitempty"`
	Sodium *float64 `json:"sodium,omitempty"`

	Micronutrients map[string]MicronutrientValue `json:"micronutrients,omitempty"`

	Attribution Attribution  `json:"attribution"`
	SourcesUsed []DataSource `json:"sources_used,omitempty"`
}

// Validate checks the macro non-negativity invariant.
func (n *NutritionData) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"calories", n.Calories},
		{"protein", n.Protein},
		{"carbs", n.Carbs},
		{"fat", n.Fat},
	} {
		if f.value < 0 {
			return eris.Wrapf(ErrValidation, "%s must be non-negative, got %v", f.name, f.value)
		}
	}
	for _, opt := range []struct {
		name  string
		value *float64
	}{
		{"fiber", n.Fiber},
		{"sugar", n.Sugar},
		{"sodium", n.Sodium},
	} {
		if opt.value != nil && *opt.value < 0 {
			return eris.Wrapf(ErrValidation, "%s must be non-negative, got %v", opt.name, *opt.value)
		}
	}
	return nil
}

// AppendSource adds src to SourcesUsed, preserving order and dropping
// duplicates.
func (n *NutritionData) AppendSource(src DataSource) {
	for _, s := range n.SourcesUsed {
		if s == src {
			return
		}
	}
	n.SourcesUsed = append(n.SourcesUsed, src)
}

// Float64Ptr is a convenience for populating optional nutrient fields.
func Float64Ptr(v float64) *float64 { return &v }
