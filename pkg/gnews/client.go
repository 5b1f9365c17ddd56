// Package gnews provides a client for the Google News RSS search feed.
package gnews

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/internal/resilience"
)

// Client defines the news provider operations.
type Client interface {
	// Search queries the RSS feed for articles matching the keywords
	// within the recency period (e.g. "24h", "7d").
	Search(ctx context.Context, keywords, period string, maxResults int) ([]model.NewsItem, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithLanguage sets the feed language. Default "en".
func WithLanguage(lang string) Option {
	return func(c *httpClient) { c.language = lang }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetry overrides the retry policy for transient feed failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	baseURL  string
	language string
	http     *http.Client
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
}

// NewClient creates a Google News RSS client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:  "https://news.google.com/rss",
		language: "en",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker("gnews", 5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rssFeed mirrors the subset of the RSS 2.0 schema the feed emits.
type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	PubDate     string    `xml:"pubDate"`
	Description string    `xml:"description"`
	Source      rssSource `xml:"source"`
}

type rssSource struct {
	URL  string `xml:"url,attr"`
	Name string `xml:",chardata"`
}

// Search retries transient feed failures (429, 5xx, network errors)
// with backoff; repeated failures trip the provider's circuit breaker.
func (c *httpClient) Search(ctx context.Context, keywords, period string, maxResults int) ([]model.NewsItem, error) {
	q := keywords
	if period != "" {
		q += " when:" + period
	}

	reqURL := fmt.Sprintf("%s/search?q=%s&hl=%s&gl=US&ceid=US:%s",
		c.baseURL, url.QueryEscape(q), c.language, c.language)

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("gnews", "search")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]model.NewsItem, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]model.NewsItem, error) {
			return c.search(ctx, reqURL, maxResults)
		})
	})
}

func (c *httpClient) search(ctx context.Context, reqURL string, maxResults int) ([]model.NewsItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "gnews: create request")
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &resilience.ProviderError{Provider: "gnews", Op: "search", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &resilience.ProviderError{Provider: "gnews", Op: "search", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &resilience.RateLimitedError{
			Provider: "gnews",
			Err:      eris.Errorf("status %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &resilience.ProviderError{
			Provider:   "gnews",
			Op:         "search",
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("unexpected status: %s", strings.TrimSpace(string(body))),
		}
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, &resilience.ProviderError{Provider: "gnews", Op: "parse feed", Err: err}
	}

	items := feed.Channel.Items
	if maxResults > 0 && len(items) > maxResults {
		items = items[:maxResults]
	}

	out := make([]model.NewsItem, 0, len(items))
	for _, it := range items {
		out = append(out, model.NewsItem{
			ID:          uuid.New().String(),
			Source:      it.Source.Name,
			Title:       it.Title,
			Link:        it.Link,
			PublishedAt: parsePubDate(it.PubDate),
			RawText:     it.Description,
		})
	}
	return out, nil
}

// parsePubDate handles the RFC1123 variants Google News emits. A zero
// time is returned for unparsable dates rather than failing the fetch.
func parsePubDate(s string) time.Time {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
