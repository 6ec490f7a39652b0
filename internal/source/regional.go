package source

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nutriflow/nutrition-core/internal/model"
	"github.com/nutriflow/nutrition-core/pkg/fineli"
)

// RegionalClient resolves food names against the Fineli national food
// composition database. Lab-measured values, so confidence is high and fixed.
type RegionalClient struct {
	api        fineli.Client
	confidence float64
}

// NewRegionalClient wraps a Fineli client as a source client.
func NewRegionalClient(api fineli.Client) *RegionalClient {
	return &RegionalClient{api: api, confidence: 0.92}
}

func (c *RegionalClient) Name() string { return "fineli" }

func (c *RegionalClient) Source() model.DataSource { return model.SourceRegionalDatabase }

func (c *RegionalClient) Query(ctx context.Context, ref model.FoodRef) (*model.NutritionData, model.Attribution, error) {
	if ref.Name == "" {
		return nil, model.Attribution{}, NewError(KindNotFound, c.Source(),
			eris.New("regional lookup requires a food name"))
	}

	foods, err := c.api.Search(ctx, ref.Name)
	if err != nil {
		return nil, model.Attribution{}, classifyFineliErr(c.Source(), err)
	}
	if len(foods) == 0 {
		return nil, model.Attribution{}, NewError(KindNotFound, c.Source(),
			eris.Errorf("no match for %q", ref.Name))
	}

	// The API returns best matches first; take the top hit.
	f := foods[0]
	data := per100gToServing(&model.NutritionData{
		Calories: f.EnergyKcal(),
		Protein:  f.Protein,
		Carbs:    f.Carbs,
		Fat:      f.Fat,
		Fiber:    f.Fiber,
		Sugar:    f.Sugar,
		Sodium:   f.SodiumMG,
	}, ref.Quantity)

	attr, err := model.NewAttribution(c.Source(), c.confidence, time.Now().UTC())
	if err != nil {
		return nil, model.Attribution{}, NewError(KindMalformed, c.Source(), err)
	}
	data.Attribution = attr
	data.AppendSource(c.Source())
	return data, attr, nil
}

func classifyFineliErr(src model.DataSource, err error) *Error {
	var apiErr *fineli.APIError
	if errors.As(err, &apiErr) {
		return NewError(ClassifyStatus(apiErr.StatusCode), src, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(KindTimeout, src, err)
	}
	return NewError(KindMalformed, src, err)
}
