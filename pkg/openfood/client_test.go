package openfood

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/product/6411401.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": 1,
			"product": {
				"code": "6411401",
				"product_name": "Oat drink",
				"completeness": 0.8,
				"nutriments": {
					"energy-kcal_100g": 46,
					"proteins_100g": 1.0,
					"carbohydrates_100g": 6.6,
					"fat_100g": 1.5,
					"fiber_100g": 0.8
				}
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000))
	p, err := c.Product(context.Background(), "6411401")
	require.NoError(t, err)
	assert.Equal(t, "Oat drink", p.Name)
	assert.Equal(t, 46.0, p.Nutriments.EnergyKcal)
	require.NotNil(t, p.Nutriments.Fiber)
	assert.Equal(t, 0.8, *p.Nutriments.Fiber)
	assert.Nil(t, p.Nutriments.Sugar)
}

func TestProduct_NotFoundStatusZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 0}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000))
	_, err := c.Product(context.Background(), "0000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProduct_NotFound404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000))
	_, err := c.Product(context.Background(), "0000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProduct_RateLimitedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000))
	_, err := c.Product(context.Background(), "6411401")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestProduct_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(1000))
	_, err := c.Product(context.Background(), "6411401")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestProduct_EmptyBarcode(t *testing.T) {
	c := NewClient(WithRateLimit(1000))
	_, err := c.Product(context.Background(), "")
	require.Error(t, err)
}
