package source

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nutriflow/nutrition-core/internal/model"
	"github.com/nutriflow/nutrition-core/pkg/openfood"
)

// CommunityClient resolves barcodes against the Open Food Facts community
// database.
type CommunityClient struct {
	api openfood.Client
	// baseConfidence is scaled by the product's community completeness score.
	baseConfidence float64
}

// NewCommunityClient wraps an Open Food Facts client as a source client.
func NewCommunityClient(api openfood.Client) *CommunityClient {
	return &CommunityClient{api: api, baseConfidence: 0.85}
}

func (c *CommunityClient) Name() string { return "openfood" }

func (c *CommunityClient) Source() model.DataSource { return model.SourceCommunityDatabase }

func (c *CommunityClient) Query(ctx context.Context, ref model.FoodRef) (*model.NutritionData, model.Attribution, error) {
	if ref.Barcode == "" {
		return nil, model.Attribution{}, NewError(KindNotFound, c.Source(),
			eris.New("community lookup requires a barcode"))
	}

	p, err := c.api.Product(ctx, ref.Barcode)
	if err != nil {
		return nil, model.Attribution{}, classifyOpenFoodErr(c.Source(), err)
	}

	data := per100gToServing(nutritionFromOpenFood(p), ref.Quantity)

	// Community data quality varies wildly per product; scale confidence by
	// the completeness score, floored so a matched barcode is never worthless.
	conf := c.baseConfidence * p.Completeness
	if conf < 0.3 {
		conf = 0.3
	}
	attr, err := model.NewAttribution(c.Source(), conf, time.Now().UTC())
	if err != nil {
		return nil, model.Attribution{}, NewError(KindMalformed, c.Source(), err)
	}
	data.Attribution = attr
	data.AppendSource(c.Source())
	return data, attr, nil
}

func nutritionFromOpenFood(p *openfood.Product) *model.NutritionData {
	return &model.NutritionData{
		Calories: p.Nutriments.EnergyKcal,
		Protein:  p.Nutriments.Protein,
		Carbs:    p.Nutriments.Carbs,
		Fat:      p.Nutriments.Fat,
		Fiber:    p.Nutriments.Fiber,
		Sugar:    p.Nutriments.Sugar,
		// Open Food Facts reports sodium in grams; the model carries mg.
		Sodium: scalePtr(p.Nutriments.SodiumG, 1000),
	}
}

func classifyOpenFoodErr(src model.DataSource, err error) *Error {
	if errors.Is(err, openfood.ErrNotFound) {
		return NewError(KindNotFound, src, err)
	}
	var apiErr *openfood.APIError
	if errors.As(err, &apiErr) {
		return NewError(ClassifyStatus(apiErr.StatusCode), src, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(KindTimeout, src, err)
	}
	return NewError(KindMalformed, src, err)
}

// per100gToServing scales a per-100g record to the requested serving size.
// Without a quantity the record is returned as-is (one 100g serving).
func per100gToServing(data *model.NutritionData, qty *model.PrecisionQuantity) *model.NutritionData {
	if qty == nil {
		return data
	}
	factor := qty.ToBaseUnit().Value() / 100.0
	data.Calories *= factor
	data.Protein *= factor
	data.Carbs *= factor
	data.Fat *= factor
	data.Fiber = scalePtr(data.Fiber, factor)
	data.Sugar = scalePtr(data.Sugar, factor)
	data.Sodium = scalePtr(data.Sodium, factor)
	for k, m := range data.Micronutrients {
		m.Value *= factor
		data.Micronutrients[k] = m
	}
	return data
}

func scalePtr(v *float64, factor float64) *float64 {
	if v == nil {
		return nil
	}
	return model.Float64Ptr(*v * factor)
}
