package source

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nutriflow/nutrition-core/internal/model"
	"github.com/nutriflow/nutrition-core/pkg/vision"
)

// AIEstimateClient estimates nutrition from a meal photo or description via
// the vision model. Last resort before the generic fallback: confidence comes
// from the model itself (already capped by the vision client).
type AIEstimateClient struct {
	api vision.Client
}

// NewAIEstimateClient wraps a vision client as a source client.
func NewAIEstimateClient(api vision.Client) *AIEstimateClient {
	return &AIEstimateClient{api: api}
}

func (c *AIEstimateClient) Name() string { return "vision" }

func (c *AIEstimateClient) Source() model.DataSource { return model.SourceAIEstimate }

func (c *AIEstimateClient) Query(ctx context.Context, ref model.FoodRef) (*model.NutritionData, model.Attribution, error) {
	var est *vision.Estimate
	var err error
	switch {
	case ref.ImageB64 != "":
		est, err = c.api.EstimateFromImage(ctx, ref.ImageB64)
	case ref.Name != "":
		est, err = c.api.EstimateFromDescription(ctx, ref.Name)
	default:
		return nil, model.Attribution{}, NewError(KindNotFound, c.Source(),
			eris.New("estimation requires an image or a description"))
	}
	if err != nil {
		return nil, model.Attribution{}, classifyVisionErr(c.Source(), err)
	}

	// Estimates describe the whole meal; no per-100g scaling applies.
	data := &model.NutritionData{
		Calories: est.Calories,
		Protein:  est.Protein,
		Carbs:    est.Carbs,
		Fat:      est.Fat,
	}
	attr, err := model.NewAttribution(c.Source(), est.Confidence, time.Now().UTC())
	if err != nil {
		return nil, model.Attribution{}, NewError(KindMalformed, c.Source(), err)
	}
	data.Attribution = attr
	data.AppendSource(c.Source())
	return data, attr, nil
}

func classifyVisionErr(src model.DataSource, err error) *Error {
	if errors.Is(err, vision.ErrUnparseable) {
		return NewError(KindMalformed, src, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(KindTimeout, src, err)
	}
	return NewError(KindMalformed, src, err)
}
