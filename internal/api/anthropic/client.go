package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
)

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

// WithVersion sets the API version.
func WithVersion(version string) ClientOption {
	return func(c *Client) {
		c.version = version
	}
}

// Client is a custom HTTP client for the Anthropic API.
type Client struct {
	apiKey     string
	baseURL    string
	version    string
	httpClient *http.Client
}

// NewClient creates a new Anthropic API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		version:    defaultVersion,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamEventResult wraps a streaming event or error.
type StreamEventResult struct {
	EventType string
	Data      json.RawMessage
	Err       error
}

// ParseContentBlockDelta parses a content_block_delta event.
func (r *StreamEventResult) ParseContentBlockDelta() (*ContentBlockDeltaEvent, error) {
	var event ContentBlockDeltaEvent
	if err := json.Unmarshal(r.Data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseError parses an in-stream error event.
func (r *StreamEventResult) ParseError() (*APIError, error) {
	apiErr, err := ParseErrorResponse(r.Data)
	if err != nil {
		return nil, err
	}
	if apiErr == nil {
		return nil, errors.New("error event without error payload")
	}
	return apiErr, nil
}

// StreamMessage sends a streaming messages request and returns a channel of events.
// The channel closes after message_stop, on error, or when ctx is cancelled.
func (c *Client) StreamMessage(ctx context.Context, req *MessagesRequest) (<-chan StreamEventResult, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

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

	out := make(chan StreamEventResult)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

func (c *Client) streamReader(ctx context.Context, body io.ReadCloser, out chan<- StreamEventResult) {
	defer close(out)
	defer body.Close()

	send := func(r StreamEventResult) bool {
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
			send(StreamEventResult{Err: domain.ErrStreamTruncated("stream ended before message_stop")})
			return
		}
		if err != nil {
			send(StreamEventResult{Err: domain.ErrTransport(err)})
			return
		}

		if !send(StreamEventResult{EventType: ev.Event, Data: json.RawMessage(ev.Data)}) {
			return
		}

		// Stop on message_stop
		if ev.Event == "message_stop" || ev.Event == "error" {
			return
		}
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)
	req.Header.Set("User-Agent", "openmaas-gateway/1.0")
}
