// Package geocode resolves place names to coordinates. A cascade of
// providers is tried in order, with an in-memory cache in front so a
// run that mentions the same city repeatedly hits the network once.
package geocode

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no provider could resolve the place.
var ErrNotFound = eris.New("geocode: place not found")

// Result is a resolved place.
type Result struct {
	Name      string
	Country   string
	Latitude  float64
	Longitude float64
	Provider  string
}

// Provider resolves a place name, optionally scoped to a country.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, place, country string) (*Result, error)
}

// CascadeClient tries providers in order and caches successful lookups.
type CascadeClient struct {
	providers []Provider
	cacheTTL  time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	result  *Result
	expires time.Time
}

// NewCascade builds a cascade over the given providers.
func NewCascade(cacheTTL time.Duration, providers ...Provider) *CascadeClient {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &CascadeClient{
		providers: providers,
		cacheTTL:  cacheTTL,
		cache:     make(map[string]cacheEntry),
	}
}

// Resolve tries each provider until one succeeds. ErrNotFound from a
// provider falls through to the next; other errors are logged and also
// fall through so one flaky provider does not sink the lookup.
func (c *CascadeClient) Resolve(ctx context.Context, place, country string) (*Result, error) {
	if place == "" {
		return nil, ErrNotFound
	}

	key := place + "|" + country
	if r := c.cached(key); r != nil {
		return r, nil
	}

	var lastErr error
	for _, p := range c.providers {
		result, err := p.Resolve(ctx, place, country)
		if err == nil && result != nil {
			result.Provider = p.Name()
			c.put(key, result)
			return result, nil
		}
		if err != nil && !eris.Is(err, ErrNotFound) {
			lastErr = err
			zap.L().Warn("geocode: provider failed",
				zap.String("provider", p.Name()),
				zap.String("place", place),
				zap.Error(err),
			)
		}
	}

	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "geocode: all providers failed")
	}
	return nil, ErrNotFound
}

func (c *CascadeClient) cached(key string) *Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return nil
	}
	return entry.result
}

func (c *CascadeClient) put(key string, r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{result: r, expires: time.Now().Add(c.cacheTTL)}
}
