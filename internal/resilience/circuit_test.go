package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transientErr() error {
	return &ProviderError{Provider: "test", StatusCode: 503}
}

func failingFn(calls *int, err error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		*calls++
		return err
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, time.Minute)
	ctx := context.Background()

	calls := 0
	_ = cb.Execute(ctx, failingFn(&calls, transientErr()))
	assert.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute(ctx, failingFn(&calls, transientErr()))
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(ctx, failingFn(&calls, nil))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrCircuitOpen))
	assert.Equal(t, 2, calls, "open circuit must not invoke fn")
}

func TestCircuitBreaker_NonTransientNeverTrips(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, time.Minute)
	ctx := context.Background()

	calls := 0
	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, failingFn(&calls, eris.New("schema rejected")))
	}
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 5, calls)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)
	ctx := context.Background()

	now := time.Now()
	cb.now = func() time.Time { return now }

	calls := 0
	_ = cb.Execute(ctx, failingFn(&calls, transientErr()))
	assert.Equal(t, CircuitOpen, cb.State())

	// Before the reset timeout the circuit stays open.
	err := cb.Execute(ctx, failingFn(&calls, nil))
	assert.True(t, eris.Is(err, ErrCircuitOpen))

	// After the timeout a probe goes through; success closes the circuit.
	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, failingFn(&calls, nil)))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 2, calls)
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)
	ctx := context.Background()

	now := time.Now()
	cb.now = func() time.Time { return now }

	_ = cb.Execute(ctx, func(ctx context.Context) error { return transientErr() })
	now = now.Add(2 * time.Minute)
	_ = cb.Execute(ctx, func(ctx context.Context) error { return transientErr() })

	assert.Equal(t, CircuitOpen, cb.State())
	err := cb.Execute(ctx, func(ctx context.Context) error { return nil })
	assert.True(t, eris.Is(err, ErrCircuitOpen))
}

func TestExecuteVal_PassesValueThrough(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	val, err := ExecuteVal(context.Background(), cb, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
}
