// Package ocr provides an HTTP client for a Tesseract-style OCR sidecar.
// The sidecar is treated as a capability provider: image bytes and a
// language set in, recognized text out. Recognition may take seconds per
// page, so calls always carry the request context.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds one recognition call. OCR is slow; give it room.
const DefaultTimeout = 120 * time.Second

// Client calls the OCR sidecar over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an OCR client. A zero timeout uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type recognizeRequest struct {
	Image     string   `json:"image"` // base64 PNG/JPEG
	Languages []string `json:"languages,omitempty"`
}

type recognizeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Recognize runs OCR over one image and returns the recognized text.
func (c *Client) Recognize(ctx context.Context, image []byte, languages []string) (string, error) {
	body, _ := json.Marshal(recognizeRequest{
		Image:     base64.StdEncoding.EncodeToString(image),
		Languages: languages,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr status %d", resp.StatusCode)
	}

	var parsed recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("ocr decode: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ocr: %s", parsed.Error)
	}
	return parsed.Text, nil
}
