package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// newHTTPClient builds the pooled HTTP client shared by the provider
// variants.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// wireErr maps a transport-level failure to the common taxonomy: timeouts and
// network errors are transient, everything else at this layer is too (the
// request never reached the provider).
func wireErr(provider, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s request canceled: %w", provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transientErr(provider, op, fmt.Errorf("request timed out: %w", err))
	}
	return transientErr(provider, op, fmt.Errorf("request failed: %w", err))
}

// statusErr maps a non-200 provider status to the common taxonomy. Rate
// limiting and server-side failures are transient; authentication and
// malformed-request rejections are fatal.
func statusErr(provider, op string, status int, body []byte) error {
	msg := fmt.Errorf("%s API error (status %d): %s", provider, status, string(body))
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return transientErr(provider, op, msg)
	case status >= 500:
		return transientErr(provider, op, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fatalErr(provider, op, fmt.Errorf("authentication failed: %w", msg))
	default:
		return fatalErr(provider, op, msg)
	}
}
