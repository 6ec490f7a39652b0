package resolver

import (
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/nutriflow/nutrition-core/internal/model"
)

// ErrInvalidArgument marks programmer errors such as an empty merge input.
var ErrInvalidArgument = eris.New("invalid argument")

// Scored pairs a source result with its attribution for merging.
type Scored struct {
	Data        *model.NutritionData
	Attribution model.Attribution
}

// Conflict merges multiple source results into one record using
// confidence-and-priority weighting.
type Conflict struct {
	cfg  *Config
	fold cases.Caser
}

// NewConflict creates a conflict resolver with injected priorities.
func NewConflict(cfg *Config) *Conflict {
	return &Conflict{cfg: cfg, fold: cases.Fold()}
}

// Resolve merges N source results. A single input passes through unchanged
// (no dilution). For N>=2 every macro nutrient is a weighted average with
// weight_i = confidence_i * base_priority(source_i), and the resolved
// confidence is the plain average of the weights: deliberately diluted by
// low-weight contributors, not renormalized. The merge is commutative under
// input permutation.
func (c *Conflict) Resolve(inputs []Scored) (*model.NutritionData, float64, error) {
	switch len(inputs) {
	case 0:
		return nil, 0, eris.Wrap(ErrInvalidArgument, "conflict resolve: empty input")
	case 1:
		out := *inputs[0].Data
		out.AppendSource(inputs[0].Attribution.Source)
		return &out, inputs[0].Attribution.Confidence, nil
	}

	weights := make([]float64, len(inputs))
	var weightSum float64
	for i, in := range inputs {
		weights[i] = in.Attribution.Confidence * c.cfg.Priority(in.Attribution.Source)
		weightSum += weights[i]
	}
	if weightSum == 0 {
		// All-zero weights carry no signal; treat like a programmer error
		// rather than dividing by zero.
		return nil, 0, eris.Wrap(ErrInvalidArgument, "conflict resolve: all weights are zero")
	}

	resolved := &model.NutritionData{
		Calories: c.weighted(inputs, weights, weightSum, func(n *model.NutritionData) float64 { return n.Calories }),
		Protein:  c.weighted(inputs, weights, weightSum, func(n *model.NutritionData) float64 { return n.Protein }),
		Carbs:    c.weighted(inputs, weights, weightSum, func(n *model.NutritionData) float64 { return n.Carbs }),
		Fat:      c.weighted(inputs, weights, weightSum, func(n *model.NutritionData) float64 { return n.Fat }),
	}

	resolved.Fiber = c.weightedOptional(inputs, weights, func(n *model.NutritionData) *float64 { return n.Fiber })
	resolved.Sugar = c.weightedOptional(inputs, weights, func(n *model.NutritionData) *float64 { return n.Sugar })
	resolved.Sodium = c.weightedOptional(inputs, weights, func(n *model.NutritionData) *float64 { return n.Sodium })
	resolved.Micronutrients = c.mergeMicronutrients(inputs, weights)

	confidence := weightSum / float64(len(inputs))

	// Deterministic source order regardless of input permutation: by weight
	// descending, name as tie-break.
	order := make([]int, len(inputs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if weights[order[a]] != weights[order[b]] {
			return weights[order[a]] > weights[order[b]]
		}
		return inputs[order[a]].Attribution.Source < inputs[order[b]].Attribution.Source
	})
	for _, i := range order {
		resolved.AppendSource(inputs[i].Attribution.Source)
	}

	attr, err := model.NewAttribution(inputs[order[0]].Attribution.Source, confidence, time.Now().UTC())
	if err != nil {
		return nil, 0, err
	}
	resolved.Attribution = attr

	return resolved, confidence, nil
}

func (c *Conflict) weighted(inputs []Scored, weights []float64, weightSum float64, get func(*model.NutritionData) float64) float64 {
	var sum float64
	for i, in := range inputs {
		sum += get(in.Data) * weights[i]
	}
	return sum / weightSum
}

// weightedOptional averages only over sources that carry the field, with
// weights renormalized over those carriers. Absent everywhere stays absent.
func (c *Conflict) weightedOptional(inputs []Scored, weights []float64, get func(*model.NutritionData) *float64) *float64 {
	var sum, wsum float64
	found := false
	for i, in := range inputs {
		v := get(in.Data)
		if v == nil {
			continue
		}
		found = true
		sum += *v * weights[i]
		wsum += weights[i]
	}
	if !found || wsum == 0 {
		return nil
	}
	out := sum / wsum
	return &out
}

// mergeMicronutrients folds open-ended nutrient keys into canonical form and
// merges per key with the same weighting as the macros.
func (c *Conflict) mergeMicronutrients(inputs []Scored, weights []float64) map[string]model.MicronutrientValue {
	type acc struct {
		valueSum float64
		confSum  float64
		wsum     float64
		n        int
	}
	merged := make(map[string]*acc)
	for i, in := range inputs {
		for name, mv := range in.Data.Micronutrients {
			key := c.canonicalKey(name)
			a, ok := merged[key]
			if !ok {
				a = &acc{}
				merged[key] = a
			}
			a.valueSum += mv.Value * weights[i]
			a.confSum += mv.Confidence * weights[i]
			a.wsum += weights[i]
			a.n++
		}
	}
	if len(merged) == 0 {
		return nil
	}
	out := make(map[string]model.MicronutrientValue, len(merged))
	for key, a := range merged {
		if a.wsum == 0 {
			continue
		}
		out[key] = model.MicronutrientValue{
			Value:      a.valueSum / a.wsum,
			Confidence: a.confSum / a.wsum,
		}
	}
	return out
}

// canonicalKey case-folds a micronutrient name and normalizes separators so
// "Vitamin C" and "vitamin_c" merge into one key.
func (c *Conflict) canonicalKey(name string) string {
	folded := c.fold.String(strings.TrimSpace(name))
	folded = strings.ReplaceAll(folded, " ", "_")
	folded = strings.ReplaceAll(folded, "-", "_")
	return folded
}
