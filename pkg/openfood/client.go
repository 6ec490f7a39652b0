// Package openfood provides a client for the Open Food Facts community
// database, keyed by product barcode.
package openfood

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Default base URL for the Open Food Facts v2 API.
const defaultBaseURL = "https://world.openfoodfacts.org/api/v2"

// Client defines the Open Food Facts operations used by the resolver.
type Client interface {
	// Product looks up one product by barcode.
	Product(ctx context.Context, barcode string) (*Product, error)
}

// Product is the per-100g nutrition payload for one barcode.
type Product struct {
	Barcode    string     `json:"code"`
	Name       string     `json:"product_name"`
	Nutriments Nutriments `json:"nutriments"`
	// Completeness is the community data-quality score in [0,1].
	Completeness float64 `json:"completeness"`
}

// Nutriments holds per-100g values as Open Food Facts reports them.
type Nutriments struct {
	EnergyKcal float64  `json:"energy-kcal_100g"`
	Protein    float64  `json:"proteins_100g"`
	Carbs      float64  `json:"carbohydrates_100g"`
	Fat        float64  `json:"fat_100g"`
	Fiber      *float64 `json:"fiber_100g,omitempty"`
	Sugar      *float64 `json:"sugars_100g,omitempty"`
	SodiumG    *float64 `json:"sodium_100g,omitempty"`
}

type productResponse struct {
	Status  int     `json:"status"`
	Product Product `json:"product"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openfood: HTTP %d: %s", e.StatusCode, e.Body)
}

// ErrNotFound is returned when no product exists for a barcode.
var ErrNotFound = eris.New("openfood: product not found")

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second politeness limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Open Food Facts client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		// Open Food Facts asks for at most 100 req/min on product reads.
		limiter: rate.NewLimiter(rate.Limit(100.0/60.0), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Product(ctx context.Context, barcode string) (*Product, error) {
	if barcode == "" {
		return nil, eris.New("openfood: empty barcode")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "openfood: wait for rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/product/%s.json", c.baseURL, barcode), nil)
	if err != nil {
		return nil, eris.Wrap(err, "openfood: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "openfood: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "openfood: read response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var pr productResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, eris.Wrap(err, "openfood: decode response")
	}
	// The API reports missing barcodes as status 0 with HTTP 200.
	if pr.Status == 0 {
		return nil, ErrNotFound
	}
	return &pr.Product, nil
}
