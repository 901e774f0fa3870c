package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher(retries int) *Fetcher {
	f := New(retries, 2*time.Second, 1<<20, slog.Default())
	f.baseDelay = time.Millisecond
	return f
}

func TestFetchSucceedsAfterTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("pixels"))
	}))
	defer srv.Close()

	f := newTestFetcher(3)
	data, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected success after three 503s: %v", err)
	}
	if string(data) != "pixels" {
		t.Fatalf("unexpected body %q", data)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
}

func TestFetchExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(3)
	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error after four consecutive 503s")
	}
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("want TransientError, got %T: %v", err, err)
	}
	if te.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("want status 503, got %d", te.StatusCode)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("expected 4 attempts (1 + 3 retries), got %d", got)
	}
}

func TestFetchPermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(3)
	_, err := f.Fetch(context.Background(), srv.URL)
	var pe *PermanentError
	if !errors.As(err, &pe) {
		t.Fatalf("want PermanentError, got %T: %v", err, err)
	}
	if pe.StatusCode != http.StatusNotFound {
		t.Fatalf("want status 404, got %d", pe.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("404 must not be retried, got %d attempts", got)
	}
}

func TestFetchRetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(3)
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("429 should be retried: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestFetchPerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	f := New(0, 20*time.Millisecond, 1<<20, slog.Default())
	f.baseDelay = time.Millisecond
	_, err := f.Fetch(context.Background(), srv.URL)
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("timeout must surface as TransientError, got %T: %v", err, err)
	}
}

func TestFetchConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := newTestFetcher(1)
	_, err := f.Fetch(context.Background(), url)
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("connection failure must be transient, got %T: %v", err, err)
	}
}
