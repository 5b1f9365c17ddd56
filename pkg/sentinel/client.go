// Package sentinel provides a client for a Sentinel Hub compatible
// satellite imagery API: OAuth2 client-credentials auth, catalog search
// over an AOI and time window, and raster retrieval per scene.
package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"golang.org/x/time/rate"

	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/internal/resilience"
)

// ErrNoImagery is returned when no scene covers the requested AOI and
// time window. Non-fatal: callers record it and continue.
var ErrNoImagery = eris.New("sentinel: no imagery found")

// FetchRequest describes one imagery lookup for a disaster record.
type FetchRequest struct {
	RecordID string
	Bounds   *geom.Bounds
	From     time.Time
	To       time.Time
	MaxTiles int
	MaxCloud float64 // percent; scenes above this are skipped
}

// Client defines the imagery provider operations.
type Client interface {
	Fetch(ctx context.Context, req FetchRequest) ([]model.ImageryTile, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithTokenURL sets a custom OAuth token URL (for testing).
func WithTokenURL(u string) Option {
	return func(c *httpClient) { c.tokenURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

// WithRetry overrides the retry policy for transient API failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	tokenURL     string
	http         *http.Client
	limiter      *rate.Limiter
	retry        resilience.RetryConfig
	breaker      *resilience.CircuitBreaker

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a Sentinel Hub client.
func NewClient(clientID, clientSecret string, opts ...Option) Client {
	c := &httpClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      "https://services.sentinel-hub.com",
		tokenURL:     "https://services.sentinel-hub.com/oauth/token",
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker("sentinel", 5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// token returns a cached OAuth access token, refreshing when expired.
func (c *httpClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "sentinel: create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &resilience.ProviderError{Provider: "sentinel", Op: "auth", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		// Auth failures are not retryable; report the status as-is.
		return "", &resilience.ProviderError{
			Provider:   "sentinel",
			Op:         "auth",
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("token request rejected: %s", strings.TrimSpace(string(body))),
		}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", &resilience.ProviderError{Provider: "sentinel", Op: "auth", Err: err}
	}
	if tok.AccessToken == "" {
		return "", &resilience.ProviderError{
			Provider: "sentinel",
			Op:       "auth",
			Err:      eris.New("empty access token"),
		}
	}

	c.accessToken = tok.AccessToken
	// Refresh one minute early.
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

// catalogFeature is one scene in a catalog search response.
type catalogFeature struct {
	ID         string `json:"id"`
	BBox       []float64
	Properties struct {
		Datetime   string  `json:"datetime"`
		CloudCover float64 `json:"eo:cloud_cover"`
	} `json:"properties"`
}

type catalogResponse struct {
	Features []catalogFeature `json:"features"`
}

func (c *httpClient) Fetch(ctx context.Context, req FetchRequest) ([]model.ImageryTile, error) {
	if req.Bounds == nil {
		return nil, eris.New("sentinel: fetch requires bounds")
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	features, err := c.searchCatalog(ctx, token, req)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, ErrNoImagery
	}

	maxTiles := req.MaxTiles
	if maxTiles <= 0 {
		maxTiles = 4
	}

	var tiles []model.ImageryTile
	for _, f := range features {
		if req.MaxCloud > 0 && f.Properties.CloudCover > req.MaxCloud {
			continue
		}
		if len(tiles) >= maxTiles {
			break
		}

		raster, width, height, bands, err := c.process(ctx, token, req.Bounds, f)
		if err != nil {
			return tiles, err
		}

		acquired, _ := time.Parse(time.RFC3339, f.Properties.Datetime)
		tile := model.ImageryTile{
			RecordID:        req.RecordID,
			TileID:          f.ID,
			AcquisitionDate: acquired.UTC(),
			Raster:          raster,
			Width:           width,
			Height:          height,
			Bands:           bands,
			CloudCover:      f.Properties.CloudCover,
		}
		tile.SetBounds(req.Bounds)
		tiles = append(tiles, tile)
	}

	if len(tiles) == 0 {
		return nil, ErrNoImagery
	}
	return tiles, nil
}

func (c *httpClient) searchCatalog(ctx context.Context, token string, req FetchRequest) ([]catalogFeature, error) {
	payload := map[string]any{
		"collections": []string{"sentinel-2-l2a"},
		"bbox": []float64{
			req.Bounds.Min(0), req.Bounds.Min(1),
			req.Bounds.Max(0), req.Bounds.Max(1),
		},
		"datetime": fmt.Sprintf("%s/%s",
			req.From.UTC().Format(time.RFC3339),
			req.To.UTC().Format(time.RFC3339)),
		"limit": 20,
	}

	body, err := c.doJSON(ctx, token, "/api/v1/catalog/1.0.0/search", payload)
	if err != nil {
		return nil, err
	}

	var result catalogResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &resilience.ProviderError{Provider: "sentinel", Op: "catalog search", Err: err}
	}
	return result.Features, nil
}

// process retrieves the raster for one scene clipped to the AOI. The
// response body is a TIFF-encoded RGB image at the requested output
// size; the preprocessor decodes it and fills in the real dimensions.
func (c *httpClient) process(ctx context.Context, token string, bounds *geom.Bounds, f catalogFeature) ([]byte, int, int, int, error) {
	payload := map[string]any{
		"input": map[string]any{
			"bounds": map[string]any{
				"bbox": []float64{bounds.Min(0), bounds.Min(1), bounds.Max(0), bounds.Max(1)},
			},
			"data": []map[string]any{
				{
					"type": "sentinel-2-l2a",
					"dataFilter": map[string]any{
						"timeRange": map[string]string{
							"from": f.Properties.Datetime,
							"to":   f.Properties.Datetime,
						},
					},
				},
			},
		},
		"output": map[string]any{
			"width":  512,
			"height": 512,
			"responses": []map[string]any{
				{"identifier": "default", "format": map[string]string{"type": "image/tiff"}},
			},
		},
	}

	body, err := c.doJSON(ctx, token, "/api/v1/process", payload)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	return body, 512, 512, 3, nil
}

// doJSON posts a JSON payload and returns the response body, mapping
// HTTP failures onto the pipeline error taxonomy. Transient failures
// are retried with backoff; repeated failures trip the provider's
// circuit breaker.
func (c *httpClient) doJSON(ctx context.Context, token, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "sentinel: marshal payload")
	}

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("sentinel", path)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
			return c.postOnce(ctx, token, path, data)
		})
	})
}

func (c *httpClient) postOnce(ctx context.Context, token, path string, data []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "sentinel: rate limiter")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "sentinel: create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &resilience.ProviderError{Provider: "sentinel", Op: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &resilience.ProviderError{Provider: "sentinel", Op: path, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &resilience.RateLimitedError{
			Provider: "sentinel",
			Err:      eris.Errorf("status %d", resp.StatusCode),
		}
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoImagery
	case resp.StatusCode != http.StatusOK:
		return nil, &resilience.ProviderError{
			Provider:   "sentinel",
			Op:         path,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("unexpected status: %s", truncate(string(body), 200)),
		}
	}

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
