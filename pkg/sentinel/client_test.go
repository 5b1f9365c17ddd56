package sentinel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/internal/resilience"
)

func tokenHandler(calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"expires_in":   3600,
		})
	}
}

func catalogResponseJSON(ids ...string) []byte {
	features := make([]map[string]any, len(ids))
	for i, id := range ids {
		features[i] = map[string]any{
			"id": id,
			"properties": map[string]any{
				"datetime":       "2026-08-20T10:30:00Z",
				"eo:cloud_cover": 12.5,
			},
		}
	}
	out, _ := json.Marshal(map[string]any{"features": features})
	return out
}

func newTestClient(t *testing.T, apiHandler http.HandlerFunc) Client {
	t.Helper()

	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler(&tokenCalls))
	mux.HandleFunc("/", apiHandler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewClient("id", "secret",
		WithBaseURL(srv.URL),
		WithTokenURL(srv.URL+"/oauth/token"),
		WithRateLimit(1000),
		WithRetry(fastRetry(1)),
	)
}

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func testRequest() FetchRequest {
	return FetchRequest{
		RecordID: "rec-1",
		Bounds:   model.AOIBounds(-118.2, 34.1, 0.25),
		From:     time.Now().Add(-240 * time.Hour),
		To:       time.Now(),
		MaxTiles: 2,
		MaxCloud: 60,
	}
}

func TestFetch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/catalog/1.0.0/search":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Contains(t, payload, "bbox")
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			w.Write(catalogResponseJSON("S2A-001", "S2A-002", "S2A-003"))
		case "/api/v1/process":
			w.Write([]byte("raster-bytes"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	tiles, err := c.Fetch(context.Background(), testRequest())
	require.NoError(t, err)

	// MaxTiles caps the result.
	require.Len(t, tiles, 2)
	assert.Equal(t, "rec-1", tiles[0].RecordID)
	assert.Equal(t, "S2A-001", tiles[0].TileID)
	assert.Equal(t, []byte("raster-bytes"), tiles[0].Raster)
	assert.Equal(t, 12.5, tiles[0].CloudCover)
	assert.Equal(t, 2026, tiles[0].AcquisitionDate.Year())
	assert.NotZero(t, tiles[0].BBox)
}

func TestFetch_CloudCoverFiltered(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/catalog/1.0.0/search":
			w.Write([]byte(`{"features": [{"id": "cloudy", "properties": {"datetime": "2026-08-20T10:30:00Z", "eo:cloud_cover": 95.0}}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	_, err := c.Fetch(context.Background(), testRequest())
	assert.True(t, eris.Is(err, ErrNoImagery))
}

func TestFetch_NoImagery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features": []}`))
	})

	_, err := c.Fetch(context.Background(), testRequest())
	assert.True(t, eris.Is(err, ErrNoImagery))
}

func TestFetch_RateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Fetch(context.Background(), testRequest())
	require.Error(t, err)

	var rateErr *resilience.RateLimitedError
	assert.True(t, eris.As(err, &rateErr))
}

func TestFetch_RetriesTransientStatus(t *testing.T) {
	var searchCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler(nil))
	mux.HandleFunc("/api/v1/catalog/1.0.0/search", func(w http.ResponseWriter, r *http.Request) {
		if searchCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(catalogResponseJSON("S2A-001"))
	})
	mux.HandleFunc("/api/v1/process", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("raster-bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient("id", "secret",
		WithBaseURL(srv.URL),
		WithTokenURL(srv.URL+"/oauth/token"),
		WithRateLimit(1000),
		WithRetry(fastRetry(3)),
	)

	tiles, err := c.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Len(t, tiles, 1)
	assert.Equal(t, int32(2), searchCalls.Load())
}

func TestFetch_RequiresBounds(t *testing.T) {
	c := NewClient("id", "secret")
	req := testRequest()
	req.Bounds = nil

	_, err := c.Fetch(context.Background(), req)
	assert.Error(t, err)
}

func TestToken_CachedAcrossCalls(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", tokenHandler(&tokenCalls))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/catalog/1.0.0/search" {
			w.Write(catalogResponseJSON("S2A-001"))
			return
		}
		w.Write([]byte("raster"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient("id", "secret",
		WithBaseURL(srv.URL),
		WithTokenURL(srv.URL+"/oauth/token"),
		WithRateLimit(1000),
	)

	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), testRequest())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestToken_AuthRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "invalid_client"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient("bad", "creds",
		WithBaseURL(srv.URL),
		WithTokenURL(srv.URL+"/oauth/token"),
	)

	_, err := c.Fetch(context.Background(), testRequest())
	require.Error(t, err)

	var provErr *resilience.ProviderError
	require.True(t, eris.As(err, &provErr))
	assert.Equal(t, http.StatusUnauthorized, provErr.StatusCode)
	assert.False(t, resilience.IsRetryable(err))
}
