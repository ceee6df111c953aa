// Package fetch provides the polite HTTP fetcher used by the crawl engine.
//
// Two pacing limits apply cumulatively to every request this process makes:
// an inter-request delay (min_delay between any two request starts) and a
// per-minute cap counted against a rolling 60-second window. Pacing state
// is shared across all callers; the fetcher is safe for concurrent use.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tessera-kg/tessera/internal/terrors"
)

// maxRedirects bounds redirect chains.
const maxRedirects = 5

// Options configures a Fetcher.
type Options struct {
	// MinDelay is the minimum gap between request starts (default 1s).
	MinDelay time.Duration
	// MaxPerMinute caps requests started in any rolling 60s window
	// (default 30).
	MaxPerMinute int
	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration
	// UserAgent is sent with every request.
	UserAgent string
}

// Response is the outcome of a completed HTTP exchange.
// Non-2xx statuses are returned here, not as errors; only transport
// failures produce an error.
type Response struct {
	Status  int
	Body    []byte
	Headers http.Header
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Fetcher is a rate-limited HTTP client with shared pacing state.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options

	// Rolling-window state for the per-minute cap.
	mu          sync.Mutex
	windowStart time.Time
	windowCount int
	window      time.Duration // time.Minute; shortened in tests
}

// New creates a Fetcher with the given options.
func New(opts Options) *Fetcher {
	if opts.MinDelay <= 0 {
		opts.MinDelay = time.Second
	}
	if opts.MaxPerMinute <= 0 {
		opts.MaxPerMinute = 30
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "TesseraBot/1.0 (personal knowledge graph builder; polite crawler)"
	}

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(opts.MinDelay), 1),
		opts:    opts,
		window:  time.Minute,
	}
}

// Fetch performs a paced GET against the given URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, terrors.Validation(fmt.Sprintf("invalid URL %q", url))
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	return f.do(req)
}

// FetchJSON performs a paced POST with a JSON body, decoding a JSON reply
// into out. A non-positive timeout falls back to the fetcher default.
func (f *Fetcher) FetchJSON(ctx context.Context, url string, body any, out any, timeout time.Duration) error {
	if err := f.acquire(ctx); err != nil {
		return err
	}

	if timeout <= 0 {
		timeout = f.opts.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return terrors.Validation(fmt.Sprintf("invalid URL %q", url))
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.do(req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return terrors.Service(fmt.Sprintf("POST %s returned status %d", url, resp.Status), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return terrors.Service(fmt.Sprintf("POST %s returned malformed JSON", url), err)
	}
	return nil
}

// do executes the request and drains the body.
func (f *Fetcher) do(req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, terrors.Transport(fmt.Sprintf("%s %s", req.Method, req.URL), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, terrors.Transport(fmt.Sprintf("read body of %s", req.URL), err)
	}

	slog.Debug("fetch_completed",
		slog.String("url", req.URL.String()),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)))

	return &Response{Status: resp.StatusCode, Body: body, Headers: resp.Header}, nil
}

// acquire blocks until both pacing limits admit a new request.
func (f *Fetcher) acquire(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return terrors.Cancelled("fetch cancelled while pacing")
	}

	for {
		f.mu.Lock()
		now := time.Now()
		if f.windowStart.IsZero() || now.Sub(f.windowStart) >= f.window {
			f.windowStart = now
			f.windowCount = 0
		}
		if f.windowCount < f.opts.MaxPerMinute {
			f.windowCount++
			f.mu.Unlock()
			return nil
		}
		wait := f.windowStart.Add(f.window).Sub(now)
		f.mu.Unlock()

		slog.Debug("fetch_window_full", slog.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return terrors.Cancelled("fetch cancelled while waiting for rate window")
		case <-time.After(wait):
		}
	}
}
