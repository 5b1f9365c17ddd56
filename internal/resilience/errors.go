package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ProviderError wraps a failure from an external collaborator (news,
// LLM, imagery, geocode). Network and 5xx failures are retryable;
// auth failures are not.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *ProviderError) Retryable() bool {
	if e.StatusCode > 0 {
		return IsTransientHTTPStatus(e.StatusCode)
	}
	return isTransientNetwork(e.Err)
}

// RateLimitedError signals a 429 from a provider. Always retryable
// with backoff.
type RateLimitedError struct {
	Provider string
	Err      error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited: %v", e.Provider, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// SchemaValidationError signals that a model's structured output did not
// conform to the fixed record schema. Non-retryable; the item is dropped
// from the report with a recorded reason.
type SchemaValidationError struct {
	ItemID string
	Field  string
	Reason string
}

func (e *SchemaValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema validation: item %s: field %q: %s", e.ItemID, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema validation: item %s: %s", e.ItemID, e.Reason)
}

// ConfigError is fatal: it fails the run before any stage executes.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

// IsRetryable reports whether err (or anything in its chain) is safe to
// retry: an explicitly retryable ProviderError, a RateLimitedError, or a
// transient network failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}

	var sv *SchemaValidationError
	if errors.As(err, &sv) {
		return false
	}

	return isTransientNetwork(err)
}

// IsTransientHTTPStatus reports whether the status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func isTransientNetwork(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
