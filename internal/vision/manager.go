// Package vision owns the caption model handle shared by all analysis tasks.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ErrModelUnavailable reports that no model handle could be obtained. Callers
// degrade to fallback content; the next Acquire retries the load.
var ErrModelUnavailable = errors.New("caption model unavailable")

// Manager lazily creates the process-wide model handle. Exactly one caller
// performs the load while concurrent callers wait on the mutex; a failed load
// is never latched, so a later Acquire attempts it again.
type Manager struct {
	mu     sync.Mutex
	handle *Handle
	load   func(ctx context.Context) (*Handle, error)
	log    *slog.Logger
}

// NewManager builds a Manager for the model service at baseURL. timeout
// bounds individual caption calls and the warmup probe.
func NewManager(baseURL string, timeout time.Duration, log *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	client := &http.Client{Timeout: timeout}
	m := &Manager{log: log}
	m.load = func(ctx context.Context) (*Handle, error) {
		return warmup(ctx, baseURL, client)
	}
	return m
}

// Acquire returns the shared handle, loading it on first use.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		return m.handle, nil
	}
	start := time.Now()
	h, err := m.load(ctx)
	if err != nil {
		m.log.Warn("caption model load failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	m.handle = h
	m.log.Info("caption model loaded", "duration_ms", time.Since(start).Milliseconds())
	return m.handle, nil
}

// Caption acquires the shared handle and runs one inference call.
func (m *Manager) Caption(ctx context.Context, image []byte) (string, error) {
	h, err := m.Acquire(ctx)
	if err != nil {
		return "", err
	}
	return h.Caption(ctx, image)
}

// warmup verifies the model service answers before handing out a handle.
func warmup(ctx context.Context, baseURL string, client *http.Client) (*Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("build warmup request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warmup request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("warmup status %d", resp.StatusCode)
	}
	return &Handle{baseURL: baseURL, client: client}, nil
}
