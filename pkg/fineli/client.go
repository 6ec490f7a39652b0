// Package fineli provides a client for the Fineli food composition database
// maintained by the Finnish Institute for Health and Welfare.
package fineli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Default base URL for the Fineli open API.
const defaultBaseURL = "https://fineli.fi/fineli/api/v1"

// Client defines the Fineli operations used by the resolver.
type Client interface {
	// Search finds foods matching a free-text query, best matches first.
	Search(ctx context.Context, query string) ([]Food, error)
}

// Food is one food record with per-100g composition values.
type Food struct {
	ID   int64  `json:"id"`
	Name Names  `json:"name"`
	Type FoodT  `json:"type"`
	// Per-100g values. Energy arrives in kJ and is converted by EnergyKcal.
	EnergyKJ float64  `json:"energy"`
	Protein  float64  `json:"protein"`
	Carbs    float64  `json:"carbohydrate"`
	Fat      float64  `json:"fat"`
	Fiber    *float64 `json:"fiber,omitempty"`
	Sugar    *float64 `json:"sugar,omitempty"`
	SodiumMG *float64 `json:"sodium,omitempty"`
}

// Names holds the localized food names.
type Names struct {
	Fi string `json:"fi"`
	En string `json:"en"`
}

// FoodT describes the record class (e.g. FOOD, DISH).
type FoodT struct {
	Code string `json:"code"`
}

const kjPerKcal = 4.184

// EnergyKcal converts the reported kJ energy to kcal.
func (f Food) EnergyKcal() float64 {
	return f.EnergyKJ / kjPerKcal
}

// APIError is returned when Fineli responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fineli: HTTP %d: %s", e.StatusCode, e.Body)
}

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

// NewClient creates a new Fineli client.
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
		limiter: rate.NewLimiter(2, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string) ([]Food, error) {
	if query == "" {
		return nil, eris.New("fineli: empty query")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fineli: wait for rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/foods?q=%s", c.baseURL, url.QueryEscape(query)), nil)
	if err != nil {
		return nil, eris.Wrap(err, "fineli: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fineli: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "fineli: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var foods []Food
	if err := json.Unmarshal(data, &foods); err != nil {
		return nil, eris.Wrap(err, "fineli: decode response")
	}
	return foods, nil
}
