// Package chatsvc is a thin HTTP client for the external chat service.
// The service owns its schemas; this client carries the fields the CLI
// surfaces and passes the rest through untouched.
package chatsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tessera-kg/tessera/internal/terrors"
)

// DefaultTimeout bounds each request. Chat completions are slow.
const DefaultTimeout = 2 * time.Minute

// Options configures the chat-service client.
type Options struct {
	// BaseURL is the service root, e.g. "http://localhost:8002".
	BaseURL string
	// Timeout bounds each request.
	Timeout time.Duration
}

// Client talks to the chat service.
type Client struct {
	client  *http.Client
	baseURL string
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// New creates a Client. BaseURL must be non-empty.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, terrors.Config("chat service URL is empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		client:  &http.Client{},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
	}, nil
}

// ChatRequest is one turn sent to the service.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	Model          string `json:"model,omitempty"`
}

// ChatResponse is the service's answer; Extra keeps fields this client
// does not model.
type ChatResponse struct {
	Response       string          `json:"response"`
	ConversationID string          `json:"conversation_id"`
	Model          string          `json:"model,omitempty"`
	Extra          json.RawMessage `json:"-"`
}

// Chat sends one message and returns the reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	raw, err := c.do(ctx, http.MethodPost, "/chat", req, &resp)
	if err != nil {
		return nil, err
	}
	resp.Extra = raw
	return &resp, nil
}

// KnowledgeQuery asks the service to answer grounded in the knowledge
// base it fronts.
func (c *Client) KnowledgeQuery(ctx context.Context, query string) (*ChatResponse, error) {
	var resp ChatResponse
	raw, err := c.do(ctx, http.MethodPost, "/knowledge-query", map[string]string{"query": query}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Extra = raw
	return &resp, nil
}

// Conversation is one listed conversation.
type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Conversations lists stored conversations.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var resp struct {
		Conversations []Conversation `json:"conversations"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Message is one turn of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History returns the message history of a conversation.
func (c *Client) History(ctx context.Context, conversationID string) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
	}
	path := "/conversation/" + url.PathEscape(conversationID) + "/history"
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/conversation/" + url.PathEscape(conversationID)
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// Models lists model names the service offers.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var resp struct {
		Models []string `json:"models"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// Available reports whether the service answers its health endpoint.
func (c *Client) Available(ctx context.Context) bool {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	return err == nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.client.CloseIdleConnections()
	return nil
}

// do performs one request. The response body is returned raw and, when
// out is non-nil, also decoded into it. Non-2xx statuses and transport
// failures surface as service errors.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (json.RawMessage, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, terrors.Service("chat client is closed", nil)
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, terrors.Service(fmt.Sprintf("chat service request %s %s failed", method, path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, terrors.Service("read chat service response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, terrors.Service(
			fmt.Sprintf("chat service %s %s returned status %d", method, path, resp.StatusCode), nil)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, terrors.Service("decode chat service response", err)
		}
	}
	return raw, nil
}
