package source

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nutriflow/nutrition-core/internal/model"
)

// ManualClient serves user-entered nutrition facts from an in-memory table.
// Manual entries carry the highest trust in the chain; the confidence is
// configurable because even hand-typed labels get transcribed wrong.
type ManualClient struct {
	mu         sync.RWMutex
	entries    map[string]model.NutritionData
	confidence float64
}

// NewManualClient creates a manual-entry source with the given confidence.
func NewManualClient(confidence float64) *ManualClient {
	return &ManualClient{
		entries:    make(map[string]model.NutritionData),
		confidence: confidence,
	}
}

// Put stores a manual entry keyed by normalized food name.
func (c *ManualClient) Put(name string, data model.NutritionData) error {
	if err := data.Validate(); err != nil {
		return eris.Wrap(err, "manual entry")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[normalizeKey(name)] = data
	return nil
}

func (c *ManualClient) Name() string             { return "manual" }
func (c *ManualClient) Source() model.DataSource { return model.SourceManual }

// Query looks up a manual entry by name. Lookup is pure and idempotent.
func (c *ManualClient) Query(ctx context.Context, ref model.FoodRef) (*model.NutritionData, model.Attribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.Attribution{}, NewError(KindTimeout, model.SourceManual, err)
	}

	c.mu.RLock()
	data, ok := c.entries[normalizeKey(ref.Name)]
	c.mu.RUnlock()
	if !ok {
		return nil, model.Attribution{}, NewError(KindNotFound, model.SourceManual,
			eris.Errorf("no manual entry for %q", ref.Name))
	}

	attr, err := model.NewAttribution(model.SourceManual, c.confidence, time.Now().UTC())
	if err != nil {
		return nil, model.Attribution{}, err
	}
	out := data
	out.Attribution = attr
	out.AppendSource(model.SourceManual)
	return &out, attr, nil
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
