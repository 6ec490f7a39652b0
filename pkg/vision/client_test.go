package vision

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMessages scripts the SDK message service.
type fakeMessages struct {
	text string
	err  error

	gotParams sdk.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, params sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.gotParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: f.text}},
	}, nil
}

func newTestClient(fake *fakeMessages, opts ...Option) *sdkClient {
	c := &sdkClient{messages: fake, model: defaultModel, maxConfidence: 0.75}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func TestEstimateFromDescription(t *testing.T) {
	fake := &fakeMessages{text: `{"name":"chicken salad","calories":420,"protein_g":35,"carbs_g":12,"fat_g":24,"confidence":0.6}`}
	c := newTestClient(fake)

	est, err := c.EstimateFromDescription(context.Background(), "large chicken salad with dressing")
	require.NoError(t, err)
	assert.Equal(t, "chicken salad", est.Name)
	assert.Equal(t, 420.0, est.Calories)
	assert.Equal(t, 0.6, est.Confidence)
}

func TestEstimate_ConfidenceCappedByCeiling(t *testing.T) {
	fake := &fakeMessages{text: `{"name":"apple","calories":95,"protein_g":0.5,"carbs_g":25,"fat_g":0.3,"confidence":0.99}`}
	c := newTestClient(fake, WithMaxConfidence(0.6))

	est, err := c.EstimateFromDescription(context.Background(), "one apple")
	require.NoError(t, err)
	assert.Equal(t, 0.6, est.Confidence)
}

func TestEstimate_NegativeConfidenceClampedToZero(t *testing.T) {
	fake := &fakeMessages{text: `{"name":"mystery","calories":100,"protein_g":1,"carbs_g":1,"fat_g":1,"confidence":-0.2}`}
	c := newTestClient(fake)

	est, err := c.EstimateFromDescription(context.Background(), "something")
	require.NoError(t, err)
	assert.Equal(t, 0.0, est.Confidence)
}

func TestEstimate_ToleratesMarkdownFences(t *testing.T) {
	fake := &fakeMessages{text: "```json\n{\"name\":\"toast\",\"calories\":150,\"protein_g\":5,\"carbs_g\":25,\"fat_g\":3,\"confidence\":0.5}\n```"}
	c := newTestClient(fake)

	est, err := c.EstimateFromDescription(context.Background(), "two slices of toast")
	require.NoError(t, err)
	assert.Equal(t, 150.0, est.Calories)
}

func TestEstimate_UnparseableOutput(t *testing.T) {
	fake := &fakeMessages{text: "I cannot estimate this meal."}
	c := newTestClient(fake)

	_, err := c.EstimateFromDescription(context.Background(), "blurry photo")
	require.ErrorIs(t, err, ErrUnparseable)
}

func TestEstimate_NegativeMacrosRejected(t *testing.T) {
	fake := &fakeMessages{text: `{"name":"bad","calories":-50,"protein_g":1,"carbs_g":1,"fat_g":1,"confidence":0.5}`}
	c := newTestClient(fake)

	_, err := c.EstimateFromDescription(context.Background(), "meal")
	require.ErrorIs(t, err, ErrUnparseable)
}

func TestEstimate_APIFailureSurfaces(t *testing.T) {
	fake := &fakeMessages{err: eris.New("overloaded")}
	c := newTestClient(fake)

	_, err := c.EstimateFromDescription(context.Background(), "meal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create message")
}

func TestEstimateFromImage_SendsImageBlock(t *testing.T) {
	fake := &fakeMessages{text: `{"name":"pasta","calories":600,"protein_g":20,"carbs_g":80,"fat_g":18,"confidence":0.55}`}
	c := newTestClient(fake)

	est, err := c.EstimateFromImage(context.Background(), "aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "pasta", est.Name)
	require.Len(t, fake.gotParams.Messages, 1)
	require.NotEmpty(t, fake.gotParams.Messages[0].Content)
}

func TestEstimate_EmptyInputsRejected(t *testing.T) {
	c := newTestClient(&fakeMessages{})
	_, err := c.EstimateFromImage(context.Background(), "")
	require.Error(t, err)
	_, err = c.EstimateFromDescription(context.Background(), "")
	require.Error(t, err)
}
