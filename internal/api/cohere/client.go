package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openmaas/openmaas-gateway/internal/domain"
	"github.com/openmaas/openmaas-gateway/internal/pkg/sse"
)

const defaultBaseURL = "https://api.cohere.com"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// Client is an HTTP client for the Cohere API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Cohere API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamResult wraps a streamed event or error.
type StreamResult struct {
	Event *StreamEvent
	Err   error
}

// StreamChat sends a streaming chat request. The channel closes after
// message-end, on error, or when ctx is cancelled.
func (c *Client) StreamChat(ctx context.Context, req *ChatRequest) (<-chan StreamResult, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("User-Agent", "openmaas-gateway/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.ErrTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if apiErr, err := ParseErrorResponse(respBody); err == nil && apiErr != nil {
			return nil, apiErr.ToCanonical(resp.StatusCode)
		}
		return nil, domain.ErrFromStatus(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	out := make(chan StreamResult)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

func (c *Client) streamReader(ctx context.Context, body io.ReadCloser, out chan<- StreamResult) {
	defer close(out)
	defer body.Close()

	send := func(r StreamResult) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	reader := sse.NewReader(body)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			send(StreamResult{Err: domain.ErrStreamTruncated("stream ended before message-end")})
			return
		}
		if err != nil {
			send(StreamResult{Err: domain.ErrTransport(err)})
			return
		}

		var event StreamEvent
		if err := json.Unmarshal(ev.Data, &event); err != nil {
			send(StreamResult{Err: domain.ErrProviderProtocol(fmt.Sprintf("failed to unmarshal event: %v", err))})
			return
		}
		if !send(StreamResult{Event: &event}) {
			return
		}
		if event.Type == EventMessageEnd {
			return
		}
	}
}
