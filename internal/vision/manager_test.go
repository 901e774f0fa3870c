package vision

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireLoadsExactlyOnce(t *testing.T) {
	var loads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		loads.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewManager(srv.URL, 2*time.Second, slog.Default())

	const callers = 10
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.Acquire(context.Background())
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
	for i, h := range handles {
		if h == nil {
			t.Fatalf("caller %d got nil handle", i)
		}
		if h != handles[0] {
			t.Fatalf("caller %d got a different handle", i)
		}
	}
}

func TestAcquireRetriesAfterFailedLoad(t *testing.T) {
	var loads atomic.Int32
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loads.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewManager(srv.URL, time.Second, slog.Default())

	if _, err := m.Acquire(context.Background()); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("want ErrModelUnavailable while service is down, got %v", err)
	}

	healthy.Store(true)
	h, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire should retry the load: %v", err)
	}
	if h == nil {
		t.Fatal("nil handle after successful load")
	}
	if got := loads.Load(); got != 2 {
		t.Fatalf("expected 2 load attempts, got %d", got)
	}

	// A loaded handle is reused without another probe.
	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("third acquire: %v", err)
	}
	if got := loads.Load(); got != 2 {
		t.Fatalf("loaded handle must be shared, saw %d probes", got)
	}
}

func TestHandleCaption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/caption":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, "bad form", http.StatusBadRequest)
				return
			}
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, "missing file", http.StatusBadRequest)
				return
			}
			f.Close()
			json.NewEncoder(w).Encode(map[string]string{"caption": "a red car on a street"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := NewManager(srv.URL, time.Second, slog.Default())
	caption, err := m.Caption(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47})
	if err != nil {
		t.Fatalf("caption: %v", err)
	}
	if caption != "a red car on a street" {
		t.Fatalf("unexpected caption %q", caption)
	}
}

func TestHandleCaptionServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewManager(srv.URL, time.Second, slog.Default())
	if _, err := m.Caption(context.Background(), []byte("img")); err == nil {
		t.Fatal("expected error from 503 caption response")
	}
}
