package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/terrawatch/eo-analyzer/internal/resilience"
)

// NominatimOption configures the Nominatim provider.
type NominatimOption func(*NominatimClient)

// WithNominatimBaseURL sets a custom base URL (for testing).
func WithNominatimBaseURL(u string) NominatimOption {
	return func(c *NominatimClient) { c.baseURL = u }
}

// WithNominatimHTTPClient sets a custom HTTP client.
func WithNominatimHTTPClient(hc *http.Client) NominatimOption {
	return func(c *NominatimClient) { c.http = hc }
}

// WithNominatimRetry overrides the retry policy for transient failures.
func WithNominatimRetry(cfg resilience.RetryConfig) NominatimOption {
	return func(c *NominatimClient) { c.retry = cfg }
}

// NominatimClient resolves places via the OpenStreetMap Nominatim API.
type NominatimClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
}

// NewNominatim creates a Nominatim provider. Nominatim's usage policy
// requires an identifying User-Agent.
func NewNominatim(userAgent string, opts ...NominatimOption) *NominatimClient {
	c := &NominatimClient{
		baseURL:   "https://nominatim.openstreetmap.org",
		userAgent: userAgent,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker("nominatim", 5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *NominatimClient) Name() string { return "nominatim" }

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		Country string `json:"country"`
	} `json:"address"`
}

// Resolve retries transient API failures with backoff. ErrNotFound is
// never retried.
func (c *NominatimClient) Resolve(ctx context.Context, place, country string) (*Result, error) {
	q := place
	if country != "" {
		q = fmt.Sprintf("%s, %s", place, country)
	}

	reqURL := fmt.Sprintf("%s/search?q=%s&format=json&limit=1&addressdetails=1",
		c.baseURL, url.QueryEscape(q))

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("nominatim", "search")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Result, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*Result, error) {
			return c.resolve(ctx, reqURL, place, country)
		})
	})
}

func (c *NominatimClient) resolve(ctx context.Context, reqURL, place, country string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &resilience.ProviderError{Provider: "nominatim", Op: "search", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &resilience.ProviderError{Provider: "nominatim", Op: "search", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &resilience.RateLimitedError{
			Provider: "nominatim",
			Err:      eris.Errorf("status %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &resilience.ProviderError{
			Provider:   "nominatim",
			Op:         "search",
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, &resilience.ProviderError{Provider: "nominatim", Op: "parse response", Err: err}
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, &resilience.ProviderError{Provider: "nominatim", Op: "parse latitude", Err: err}
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, &resilience.ProviderError{Provider: "nominatim", Op: "parse longitude", Err: err}
	}

	resolvedCountry := results[0].Address.Country
	if resolvedCountry == "" {
		resolvedCountry = country
	}

	return &Result{
		Name:      place,
		Country:   resolvedCountry,
		Latitude:  lat,
		Longitude: lon,
	}, nil
}
