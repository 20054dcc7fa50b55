package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/notruri/pahe/internal/types"
)

const (
	DefaultMaxRetries     = 3
	DefaultRequestTimeout = 30 * time.Second
	DefaultSegmentTimeout = 15 * time.Minute
)

// TransportConfig controls retry/backoff behavior for downloader HTTP requests.
type TransportConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero selects DefaultMaxRetries; a negative value disables retries.
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RetryStatusCodes []int
	// RequestTimeout bounds the probe request.
	RequestTimeout time.Duration
	// SegmentTimeout bounds one attempt at one segment, body included.
	SegmentTimeout time.Duration
}

type effectiveTransportConfig struct {
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RetryStatusCodes []int
	RequestTimeout   time.Duration
	SegmentTimeout   time.Duration
}

type downloadHTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *downloadHTTPStatusError) Error() string {
	return fmt.Sprintf("download failed: status=%d", e.StatusCode)
}

var (
	errRangeNotSupported = errors.New("range not supported")
	errRangeMismatch     = errors.New("content-range does not match request")
)

func normalizeTransportConfig(cfg TransportConfig) effectiveTransportConfig {
	maxRetries := cfg.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = DefaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 3 * time.Second
	}
	statusCodes := cfg.RetryStatusCodes
	if len(statusCodes) == 0 {
		statusCodes = []int{
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	segmentTimeout := cfg.SegmentTimeout
	if segmentTimeout <= 0 {
		segmentTimeout = DefaultSegmentTimeout
	}
	return effectiveTransportConfig{
		MaxRetries:       maxRetries,
		InitialBackoff:   initialBackoff,
		MaxBackoff:       maxBackoff,
		RetryStatusCodes: statusCodes,
		RequestTimeout:   requestTimeout,
		SegmentTimeout:   segmentTimeout,
	}
}

func (c effectiveTransportConfig) backoffFor(attempt int) time.Duration {
	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return backoff
}

// delayFor is the wait before the next attempt, honouring Retry-After.
func (c effectiveTransportConfig) delayFor(attempt int, err error) time.Duration {
	backoff := c.backoffFor(attempt)
	var statusErr *downloadHTTPStatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > backoff {
		backoff = statusErr.RetryAfter
	}
	return backoff
}

// isRetryableError reports whether err from one attempt may be retried.
// A deadline error here comes from the per-attempt timeout; callers check
// the parent context separately before retrying.
func isRetryableError(err error, cfg effectiveTransportConfig) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, errRangeNotSupported) ||
		errors.Is(err, types.ErrOutputWriteFailed) {
		return false
	}
	var statusErr *downloadHTTPStatusError
	if errors.As(err, &statusErr) {
		for _, code := range cfg.RetryStatusCodes {
			if statusErr.StatusCode == code {
				return true
			}
		}
		return false
	}
	return true
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

func statusError(resp *http.Response) error {
	return &downloadHTTPStatusError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}
