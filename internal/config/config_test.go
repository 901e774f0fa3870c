package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != defaultAddress {
		t.Errorf("address: got %q, want %q", cfg.Address, defaultAddress)
	}
	if cfg.FetchRetries != defaultFetchRetries {
		t.Errorf("fetch retries: got %d, want %d", cfg.FetchRetries, defaultFetchRetries)
	}
	if cfg.AnalyzeBudget != defaultAnalyzeBudget {
		t.Errorf("analyze budget: got %v, want %v", cfg.AnalyzeBudget, defaultAnalyzeBudget)
	}
	if cfg.PollInterval != defaultPollInterval {
		t.Errorf("poll interval: got %v, want %v", cfg.PollInterval, defaultPollInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GALLERYMIND_ADDRESS", ":9090")
	t.Setenv("GALLERYMIND_FETCH_RETRIES", "5")
	t.Setenv("GALLERYMIND_FETCH_TIMEOUT", "3s")
	t.Setenv("GALLERYMIND_S3_USE_SSL", "true")
	t.Setenv("GALLERYMIND_WORKERS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != ":9090" {
		t.Errorf("address: got %q", cfg.Address)
	}
	if cfg.FetchRetries != 5 {
		t.Errorf("fetch retries: got %d", cfg.FetchRetries)
	}
	if cfg.FetchTimeout != 3*time.Second {
		t.Errorf("fetch timeout: got %v", cfg.FetchTimeout)
	}
	if !cfg.S3UseSSL {
		t.Error("expected SSL enabled")
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("workers: got %d", cfg.WorkerCount)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Setenv("GALLERYMIND_WORKERS", "-2")
	t.Setenv("GALLERYMIND_FETCH_TIMEOUT", "soon")
	t.Setenv("GALLERYMIND_ANALYZE_BUDGET", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerCount != defaultWorkerCount {
		t.Errorf("negative worker count accepted: %d", cfg.WorkerCount)
	}
	if cfg.FetchTimeout != defaultFetchTimeout {
		t.Errorf("unparseable timeout accepted: %v", cfg.FetchTimeout)
	}
	if cfg.AnalyzeBudget != defaultAnalyzeBudget {
		t.Errorf("zero budget accepted: %v", cfg.AnalyzeBudget)
	}
}
