package source

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nutriflow/nutrition-core/internal/model"
)

// genericProfile is a coarse category-average nutrition profile per 100g.
type genericProfile struct {
	keywords []string
	data     model.NutritionData
}

// genericProfiles are last-resort category averages. Deliberately coarse:
// the low confidence keeps them from ever outweighing a real source.
var genericProfiles = []genericProfile{
	{[]string{"bread", "toast", "roll", "bun", "bagel"}, model.NutritionData{Calories: 265, Protein: 9, Carbs: 49, Fat: 3.2}},
	{[]string{"chicken", "turkey", "poultry"}, model.NutritionData{Calories: 165, Protein: 31, Carbs: 0, Fat: 3.6}},
	{[]string{"beef", "steak", "pork", "lamb"}, model.NutritionData{Calories: 250, Protein: 26, Carbs: 0, Fat: 15}},
	{[]string{"fish", "salmon", "tuna", "cod"}, model.NutritionData{Calories: 150, Protein: 22, Carbs: 0, Fat: 6}},
	{[]string{"rice", "pasta", "noodle"}, model.NutritionData{Calories: 150, Protein: 4, Carbs: 31, Fat: 1}},
	{[]string{"salad", "vegetable", "greens"}, model.NutritionData{Calories: 35, Protein: 2, Carbs: 6, Fat: 0.3}},
	{[]string{"fruit", "apple", "banana", "berry", "orange"}, model.NutritionData{Calories: 60, Protein: 0.7, Carbs: 15, Fat: 0.2}},
	{[]string{"cheese", "dairy"}, model.NutritionData{Calories: 350, Protein: 23, Carbs: 2, Fat: 28}},
	{[]string{"soup", "stew", "broth"}, model.NutritionData{Calories: 60, Protein: 3, Carbs: 7, Fat: 2}},
}

// fallbackProfile covers foods matching no category keyword.
var fallbackProfile = model.NutritionData{Calories: 200, Protein: 8, Carbs: 25, Fat: 8}

// GenericClient answers from coarse category averages. It never fails for a
// named food, which makes it the terminal link of the fallback chain.
type GenericClient struct {
	confidence float64
}

// NewGenericClient creates the category-average fallback client.
func NewGenericClient() *GenericClient {
	return &GenericClient{confidence: 0.25}
}

func (c *GenericClient) Name() string { return "generic" }

func (c *GenericClient) Source() model.DataSource { return model.SourceGeneric }

func (c *GenericClient) Query(_ context.Context, ref model.FoodRef) (*model.NutritionData, model.Attribution, error) {
	if ref.Name == "" {
		return nil, model.Attribution{}, NewError(KindNotFound, c.Source(),
			eris.New("generic estimate requires a food name"))
	}

	name := strings.ToLower(ref.Name)
	profile := fallbackProfile
	for _, p := range genericProfiles {
		if matchesAny(name, p.keywords) {
			profile = p.data
			break
		}
	}

	data := per100gToServing(&model.NutritionData{
		Calories: profile.Calories,
		Protein:  profile.Protein,
		Carbs:    profile.Carbs,
		Fat:      profile.Fat,
	}, ref.Quantity)

	attr, err := model.NewAttribution(c.Source(), c.confidence, time.Now().UTC())
	if err != nil {
		return nil, model.Attribution{}, NewError(KindMalformed, c.Source(), err)
	}
	data.Attribution = attr
	data.AppendSource(c.Source())
	return data, attr, nil
}

func matchesAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}
