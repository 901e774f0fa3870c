package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// Handle is a shared client for the caption model service. It is safe for
// concurrent use once constructed; inference calls need no coordination.
type Handle struct {
	baseURL string
	client  *http.Client
}

// Caption posts the image bytes to the model service and returns the
// generated caption sentence.
func (h *Handle) Caption(ctx context.Context, image []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "image")
	if err != nil {
		return "", fmt.Errorf("build caption request: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("build caption request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build caption request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/caption", &body)
	if err != nil {
		return "", fmt.Errorf("build caption request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("caption request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("caption service status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read caption response: %w", err)
	}
	var parsed struct {
		Caption string `json:"caption"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode caption response: %w", err)
	}
	caption := strings.TrimSpace(parsed.Caption)
	if caption == "" {
		return "", fmt.Errorf("caption service returned empty caption")
	}
	return caption, nil
}
