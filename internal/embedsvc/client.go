// Package embedsvc talks to the external embedding service over
// HTTP/JSON: embedding texts, delegated semantic search, and the
// background sweeper that drains chunks awaiting vectors.
package embedsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tessera-kg/tessera/internal/terrors"
)

// Defaults applied by New when options are zero.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	defaultPoolSize   = 4
)

// Options configures the embedding-service client.
type Options struct {
	// BaseURL is the service root, e.g. "http://localhost:8001".
	BaseURL string
	// Model names the embedding model requested for every call.
	Model string
	// Dim is the expected vector dimension; responses with a different
	// dimension are rejected.
	Dim int
	// Timeout bounds each request attempt.
	Timeout time.Duration
	// MaxRetries bounds attempts per call, with exponential backoff.
	MaxRetries int
}

// Client is a retrying HTTP client for the embedding service.
type Client struct {
	client  *http.Client
	baseURL string
	model   string
	dim     int
	timeout time.Duration
	retries int

	mu     sync.RWMutex
	closed bool
}

// New creates a Client. BaseURL must be non-empty.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, terrors.Config("embedding service URL is empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	transport := &http.Transport{
		MaxIdleConns:        defaultPoolSize,
		MaxIdleConnsPerHost: defaultPoolSize,
		IdleConnTimeout:     10 * time.Second,
	}
	return &Client{
		client:  &http.Client{Transport: transport},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		dim:     opts.Dim,
		timeout: opts.Timeout,
		retries: opts.MaxRetries,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Dim returns the configured vector dimension.
func (c *Client) Dim() int { return c.dim }

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
	Dim        int         `json:"dim"`
}

// Embed returns one vector per input text, in order. Empty inputs get
// zero vectors without a service call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var pending []string
	var pendingIdx []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = make([]float32, c.dim)
			continue
		}
		pending = append(pending, t)
		pendingIdx = append(pendingIdx, i)
	}
	if len(pending) == 0 {
		return results, nil
	}

	var resp embedResponse
	err := c.doWithRetry(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/embed", embedRequest{Texts: pending, Model: c.model}, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(pending) {
		return nil, terrors.Service(
			fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors", len(pending), len(resp.Embeddings)), nil)
	}
	for i, vec := range resp.Embeddings {
		if c.dim > 0 && len(vec) != c.dim {
			return nil, terrors.Service(
				fmt.Sprintf("embedding dimension mismatch: want %d, got %d", c.dim, len(vec)), nil)
		}
		results[pendingIdx[i]] = vec
	}
	return results, nil
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, terrors.Service("no embedding returned", nil)
	}
	return vecs[0], nil
}

type searchRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit"`
	MinSimilarity float64 `json:"min_similarity"`
}

// SearchChunk is one hit from delegated semantic search.
type SearchChunk struct {
	ChunkID      int64   `json:"chunk_id"`
	ArticleID    int64   `json:"article_id"`
	ArticleTitle string  `json:"article_title"`
	Content      string  `json:"content"`
	SectionName  string  `json:"section_name"`
	ChunkType    string  `json:"chunk_type"`
	Similarity   float64 `json:"similarity"`
}

type searchResponse struct {
	Chunks []SearchChunk `json:"chunks"`
}

// Search delegates semantic search to the service.
func (c *Client) Search(ctx context.Context, query string, limit int, minSimilarity float64) ([]SearchChunk, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	var resp searchResponse
	err := c.doWithRetry(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/search", searchRequest{
			Query:         query,
			Limit:         limit,
			MinSimilarity: minSimilarity,
		}, &resp)
	})
	if err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

// Available reports whether the service answers its health endpoint.
func (c *Client) Available(ctx context.Context) bool {
	if err := c.checkOpen(); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections. Subsequent calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if t, ok := c.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return terrors.Service("embedding client is closed", nil)
	}
	return nil
}

// doWithRetry runs fn with a per-attempt timeout and exponential
// backoff between attempts. Cancelled contexts are not retried.
func (c *Client) doWithRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return terrors.Cancelled("embedding call cancelled")
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return terrors.Cancelled("embedding call cancelled")
		}
	}
	return terrors.Service(fmt.Sprintf("embedding service failed after %d attempts", c.retries), lastErr)
}

// postJSON posts a JSON body and decodes a JSON response. Non-2xx
// statuses are errors.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
