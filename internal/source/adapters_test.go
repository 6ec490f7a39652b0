package source

import (
	"context"
	"net/http"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutriflow/nutrition-core/internal/model"
	"github.com/nutriflow/nutrition-core/pkg/fineli"
	"github.com/nutriflow/nutrition-core/pkg/openfood"
	"github.com/nutriflow/nutrition-core/pkg/vision"
)

// --- fakes ---

type fakeOpenFood struct {
	product *openfood.Product
	err     error
}

func (f *fakeOpenFood) Product(context.Context, string) (*openfood.Product, error) {
	return f.product, f.err
}

type fakeFineli struct {
	foods []fineli.Food
	err   error
}

func (f *fakeFineli) Search(context.Context, string) ([]fineli.Food, error) {
	return f.foods, f.err
}

type fakeVision struct {
	est *vision.Estimate
	err error

	imageCalls, textCalls int
}

func (f *fakeVision) EstimateFromImage(context.Context, string) (*vision.Estimate, error) {
	f.imageCalls++
	return f.est, f.err
}

func (f *fakeVision) EstimateFromDescription(context.Context, string) (*vision.Estimate, error) {
	f.textCalls++
	return f.est, f.err
}

func grams(t *testing.T, g float64) *model.PrecisionQuantity {
	t.Helper()
	q, err := model.NewPrecisionQuantityWithPrecision(g, model.UnitGram, 1)
	require.NoError(t, err)
	return &q
}

// --- community ---

func TestCommunityClient_ScalesPer100gToServing(t *testing.T) {
	c := NewCommunityClient(&fakeOpenFood{product: &openfood.Product{
		Barcode: "6411401", Name: "Oat drink", Completeness: 1.0,
		Nutriments: openfood.Nutriments{
			EnergyKcal: 46, Protein: 1.0, Carbs: 6.6, Fat: 1.5,
			SodiumG: model.Float64Ptr(0.04),
		},
	}})

	data, attr, err := c.Query(context.Background(), model.FoodRef{
		Barcode: "6411401", Quantity: grams(t, 250),
	})
	require.NoError(t, err)
	assert.InDelta(t, 115.0, data.Calories, 1e-9) // 46 * 2.5
	assert.InDelta(t, 2.5, data.Protein, 1e-9)
	require.NotNil(t, data.Sodium)
	assert.InDelta(t, 100.0, *data.Sodium, 1e-9) // 0.04 g -> 40 mg -> *2.5
	assert.Equal(t, model.SourceCommunityDatabase, attr.Source)
	assert.InDelta(t, 0.85, attr.Confidence, 1e-9)
}

func TestCommunityClient_ConfidenceScaledByCompleteness(t *testing.T) {
	c := NewCommunityClient(&fakeOpenFood{product: &openfood.Product{
		Barcode: "123", Completeness: 0.5,
		Nutriments: openfood.Nutriments{EnergyKcal: 100},
	}})

	_, attr, err := c.Query(context.Background(), model.FoodRef{Barcode: "123"})
	require.NoError(t, err)
	assert.InDelta(t, 0.425, attr.Confidence, 1e-9)
}

func TestCommunityClient_ConfidenceFloor(t *testing.T) {
	c := NewCommunityClient(&fakeOpenFood{product: &openfood.Product{
		Barcode: "123", Completeness: 0.05,
		Nutriments: openfood.Nutriments{EnergyKcal: 100},
	}})

	_, attr, err := c.Query(context.Background(), model.FoodRef{Barcode: "123"})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, attr.Confidence, 1e-9)
}

func TestCommunityClient_NotFound(t *testing.T) {
	c := NewCommunityClient(&fakeOpenFood{err: openfood.ErrNotFound})
	_, _, err := c.Query(context.Background(), model.FoodRef{Barcode: "000"})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestCommunityClient_RateLimitedStatus(t *testing.T) {
	c := NewCommunityClient(&fakeOpenFood{err: &openfood.APIError{StatusCode: http.StatusTooManyRequests}})
	_, _, err := c.Query(context.Background(), model.FoodRef{Barcode: "123"})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestCommunityClient_RequiresBarcode(t *testing.T) {
	c := NewCommunityClient(&fakeOpenFood{})
	_, _, err := c.Query(context.Background(), model.FoodRef{Name: "bread"})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

// --- regional ---

func TestRegionalClient_TakesFirstHit(t *testing.T) {
	c := NewRegionalClient(&fakeFineli{foods: []fineli.Food{
		{ID: 101, Name: fineli.Names{En: "Rye bread"}, EnergyKJ: 962.3, Protein: 8.0, Carbs: 41.0, Fat: 1.5},
		{ID: 102, Name: fineli.Names{En: "Rye bread, low salt"}, EnergyKJ: 950.0},
	}})

	data, attr, err := c.Query(context.Background(), model.FoodRef{Name: "ruisleipä"})
	require.NoError(t, err)
	assert.InDelta(t, 230.0, data.Calories, 0.1)
	assert.Equal(t, 8.0, data.Protein)
	assert.Equal(t, model.SourceRegionalDatabase, attr.Source)
	assert.InDelta(t, 0.92, attr.Confidence, 1e-9)
}

func TestRegionalClient_EmptyResultIsNotFound(t *testing.T) {
	c := NewRegionalClient(&fakeFineli{})
	_, _, err := c.Query(context.Background(), model.FoodRef{Name: "nonexistent"})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestRegionalClient_ServerErrorIsMalformed(t *testing.T) {
	c := NewRegionalClient(&fakeFineli{err: &fineli.APIError{StatusCode: http.StatusInternalServerError}})
	_, _, err := c.Query(context.Background(), model.FoodRef{Name: "bread"})
	require.Error(t, err)
	assert.Equal(t, KindMalformed, KindOf(err))
}

// --- ai estimate ---

func TestAIEstimateClient_PrefersImage(t *testing.T) {
	fake := &fakeVision{est: &vision.Estimate{Name: "pasta", Calories: 600, Protein: 20, Carbs: 80, Fat: 18, Confidence: 0.55}}
	c := NewAIEstimateClient(fake)

	data, attr, err := c.Query(context.Background(), model.FoodRef{Name: "pasta", ImageB64: "aGVsbG8="})
	require.NoError(t, err)
	assert.Equal(t, 600.0, data.Calories)
	assert.Equal(t, 0.55, attr.Confidence)
	assert.Equal(t, 1, fake.imageCalls)
	assert.Equal(t, 0, fake.textCalls)
}

func TestAIEstimateClient_FallsBackToDescription(t *testing.T) {
	fake := &fakeVision{est: &vision.Estimate{Calories: 300, Confidence: 0.4}}
	c := NewAIEstimateClient(fake)

	_, _, err := c.Query(context.Background(), model.FoodRef{Name: "bowl of soup"})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.textCalls)
}

func TestAIEstimateClient_UnparseableIsMalformed(t *testing.T) {
	c := NewAIEstimateClient(&fakeVision{err: eris.Wrap(vision.ErrUnparseable, "no JSON")})
	_, _, err := c.Query(context.Background(), model.FoodRef{Name: "meal"})
	require.Error(t, err)
	assert.Equal(t, KindMalformed, KindOf(err))
}

func TestAIEstimateClient_RequiresInput(t *testing.T) {
	c := NewAIEstimateClient(&fakeVision{})
	_, _, err := c.Query(context.Background(), model.FoodRef{})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

// --- generic ---

func TestGenericClient_CategoryMatch(t *testing.T) {
	c := NewGenericClient()

	data, attr, err := c.Query(context.Background(), model.FoodRef{Name: "Grilled Chicken Breast"})
	require.NoError(t, err)
	assert.Equal(t, 165.0, data.Calories)
	assert.Equal(t, model.SourceGeneric, attr.Source)
	assert.InDelta(t, 0.25, attr.Confidence, 1e-9)
}

func TestGenericClient_UnknownFoodGetsFallbackProfile(t *testing.T) {
	c := NewGenericClient()

	data, _, err := c.Query(context.Background(), model.FoodRef{Name: "xylotherm casserole"})
	require.NoError(t, err)
	assert.Equal(t, 200.0, data.Calories)
}

func TestGenericClient_ScalesByQuantity(t *testing.T) {
	c := NewGenericClient()

	data, _, err := c.Query(context.Background(), model.FoodRef{Name: "rice", Quantity: grams(t, 200)})
	require.NoError(t, err)
	assert.InDelta(t, 300.0, data.Calories, 1e-9)
}

func TestGenericClient_RequiresName(t *testing.T) {
	c := NewGenericClient()
	_, _, err := c.Query(context.Background(), model.FoodRef{Barcode: "123"})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}
