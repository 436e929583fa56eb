// Package rest is the HTTP client for the Nestmate chat backend. The engine
// treats these endpoints as opaque request/response collaborators: each call
// either succeeds with the canonical server-side record or fails with an error.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds background requests when no custom client is supplied.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: HTTP %d: %s", e.Status, e.Body)
}

// Client calls the chat backend's REST endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a chat backend client.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListConversations fetches all conversations the user participates in.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]ConversationRecord, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID)+"/conversations", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]ConversationRecord](data)
}

// History fetches the full message history of a conversation.
func (c *Client) History(ctx context.Context, conversationID string) ([]MessageRecord, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]MessageRecord](data)
}

// SendMessage delivers a message and returns the confirmed server record.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*MessageRecord, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/api/messages", req)
	if err != nil {
		return nil, err
	}
	rec, err := decodeJSON[MessageRecord](data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkRead acknowledges a batch of message ids as read.
func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/messages/read", MarkReadRequest{MessageIDs: ids})
	return err
}

// DeleteMessage removes a message server-side.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil)
	return err
}

// UnreadCounts fetches per-conversation unread counters for the user.
func (c *Client) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID)+"/unread", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[map[string]int](data)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (T, error) {
	var result T
	if len(data) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("unmarshal response: %w", err)
	}
	return result, nil
}
