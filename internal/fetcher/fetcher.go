// Package fetcher retrieves raw image bytes over HTTP with bounded retries.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// TransientError marks a failure worth retrying: 5xx responses, 429, network
// timeouts, and connection drops. StatusCode is zero when no response arrived.
type TransientError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: any 4xx response
// other than 429.
type PermanentError struct {
	URL        string
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Fetcher downloads source images. Each attempt runs under its own timeout;
// transient failures are retried with exponential backoff and jitter up to
// the configured retry budget.
type Fetcher struct {
	client    *http.Client
	retries   int
	timeout   time.Duration
	baseDelay time.Duration
	maxBytes  int64
	log       *slog.Logger
}

// New constructs a Fetcher. retries is the number of additional attempts
// after the first one.
func New(retries int, timeout time.Duration, maxBytes int64, log *slog.Logger) *Fetcher {
	if retries < 0 {
		retries = 0
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		client:    &http.Client{},
		retries:   retries,
		timeout:   timeout,
		baseDelay: 500 * time.Millisecond,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// Fetch GETs the URL and returns the body. It fails with *PermanentError
// immediately on non-retryable statuses, and with a *TransientError once the
// retry budget is exhausted.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for try := 0; try <= f.retries; try++ {
		if try > 0 {
			if err := f.wait(ctx, try); err != nil {
				return nil, &TransientError{URL: url, Err: err}
			}
		}
		data, err := f.attempt(ctx, url)
		if err == nil {
			return data, nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return nil, err
		}
		lastErr = err
		f.log.Debug("fetch attempt failed", "url", url, "try", try+1, "error", err)
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(actx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &PermanentError{URL: url}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransientError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
		if err != nil {
			return nil, &TransientError{URL: url, Err: err}
		}
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{URL: url, StatusCode: resp.StatusCode}
	default:
		return nil, &PermanentError{URL: url, StatusCode: resp.StatusCode}
	}
}

// wait sleeps for the backoff delay of the given retry, doubling per retry
// with jitter in [delay/2, delay).
func (f *Fetcher) wait(ctx context.Context, try int) error {
	delay := f.baseDelay << (try - 1)
	half := delay / 2
	sleep := half + time.Duration(rand.Int63n(int64(half)+1))
	t := time.NewTimer(sleep)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
