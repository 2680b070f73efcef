// Package embed provides an HTTP client for OpenAI-compatible embedding
// backends (/v1/embeddings). It batches large inputs, paces requests
// against backend rate limits, and retries transient failures with
// exponential backoff.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DocuMindAI/docindex/pkg/fn"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL targets the OpenAI API; any compatible endpoint works.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is a 1536-dimension embedding model.
	DefaultModel = "text-embedding-3-small"
	// DefaultMaxBatch caps texts per backend call.
	DefaultMaxBatch = 100
	// DefaultTimeout bounds one backend call.
	DefaultTimeout = 60 * time.Second
)

// modelDimensions maps known models to their vector size.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// ErrEmpty is returned when EmbedBatch is called with zero texts.
// The orchestrator is expected to short-circuit empty documents instead.
var ErrEmpty = errors.New("embed: no input texts")

// Config holds client configuration. The zero value gets defaults.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int // overrides the model's known dimension when > 0

	MaxBatch int
	Timeout  time.Duration
	Retry    fn.RetryOpts

	// RequestsPerSecond paces backend calls; 0 means unlimited.
	RequestsPerSecond float64
}

// Client calls an embedding backend over HTTP.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	cfg     Config
}

// NewClient creates an embedding client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = fn.DefaultRetry
	}
	if cfg.Dimensions <= 0 {
		if d, ok := modelDimensions[cfg.Model]; ok {
			cfg.Dimensions = d
		} else {
			cfg.Dimensions = 1536
		}
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: lim,
		cfg:     cfg,
	}
}

// Dimensions returns the vector size this client produces.
func (c *Client) Dimensions() int { return c.cfg.Dimensions }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.cfg.Model }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// EmbedBatch returns one vector per input text, in input order. Inputs
// larger than MaxBatch are split into multiple backend calls and the
// results concatenated. Transient failures (429, 5xx, transport) are
// retried with backoff; exhaustion surfaces the last error.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmpty
	}

	out := make([][]float32, 0, len(texts))
	for _, batch := range fn.Chunk(texts, c.cfg.MaxBatch) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		result := fn.Retry(ctx, c.cfg.Retry, func(ctx context.Context) fn.Result[[][]float32] {
			return fn.FromPair(c.embedOnce(ctx, batch))
		})
		vecs, err := result.Unwrap()
		if err != nil {
			return nil, fmt.Errorf("embed batch of %d: %w", len(batch), err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedOnce performs a single backend call for at most MaxBatch texts.
func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, fn.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fn.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("embed backend status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
		if transientStatus(resp.StatusCode) {
			return nil, err
		}
		return nil, fn.Permanent(err)
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fn.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return nil, fn.Permanent(fmt.Errorf("embed backend: %s", parsed.Error.Message))
	}
	if len(parsed.Data) != len(texts) {
		return nil, fn.Permanent(fmt.Errorf("embed backend returned %d vectors for %d texts", len(parsed.Data), len(texts)))
	}

	// Reassemble in input order; the backend may reorder by index.
	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fn.Permanent(fmt.Errorf("embed backend returned index %d out of range", d.Index))
		}
		v := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float32(f)
		}
		vecs[d.Index] = v
	}
	return vecs, nil
}

// transientStatus reports whether a response status is worth retrying.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
