package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"gallerymind/internal/model"
)

// APIReader reads record status from a running gallerymind server.
type APIReader struct {
	base   string
	client *http.Client
}

var _ StatusReader = (*APIReader)(nil)

// NewAPIReader points a reader at the server's base URL.
func NewAPIReader(base string) *APIReader {
	return &APIReader{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{},
	}
}

// Status fetches one record from the status endpoint.
func (r *APIReader) Status(ctx context.Context, recordID string) (*model.AnalysisRecord, error) {
	endpoint := fmt.Sprintf("%s/api/images/%s/status", r.base, url.PathEscape(recordID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request for %s: HTTP %d", recordID, resp.StatusCode)
	}
	var rec model.AnalysisRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &rec, nil
}
