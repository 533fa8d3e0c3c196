package gemini

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
	defaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	defaultMusicURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateMusic"
	apiKeyHeader    = "x-goog-api-key"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL, e.g. a Vertex AI publisher endpoint.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithMusicURL sets the Lyria RealTime WebSocket endpoint.
func WithMusicURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.musicURL = url
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

// Client is an HTTP client for the Gemini API.
type Client struct {
	apiKey     string
	baseURL    string
	musicURL   string
	httpClient *http.Client
}

// NewClient creates a new Gemini API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		musicURL:   defaultMusicURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamResult wraps a streamed response increment or error.
type StreamResult struct {
	Response *GenerateContentResponse
	Err      error
}

// StreamGenerateContent streams a response. The channel closes at end of
// stream without an error; callers use FinishReason to detect completion.
func (c *Client) StreamGenerateContent(ctx context.Context, model string, req *GenerateContentRequest) (<-chan StreamResult, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, modelPath(model)+":streamGenerateContent?alt=sse", req)
	if err != nil {
		return nil, err
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
			return
		}
		if err != nil {
			send(StreamResult{Err: domain.ErrTransport(err)})
			return
		}

		// Errors after the stream opened arrive as an error object.
		if status, perr := ParseErrorResponse(ev.Data); perr == nil && status != nil {
			send(StreamResult{Err: ToCanonical(status.Code, status)})
			return
		}

		var resp GenerateContentResponse
		if err := json.Unmarshal(ev.Data, &resp); err != nil {
			send(StreamResult{Err: domain.ErrProviderProtocol(fmt.Sprintf("failed to unmarshal chunk: %v", err))})
			return
		}
		if !send(StreamResult{Response: &resp}) {
			return
		}
	}
}

// GenerateContent sends a unary generation request.
func (c *Client) GenerateContent(ctx context.Context, model string, req *GenerateContentRequest) (*GenerateContentResponse, error) {
	var result GenerateContentResponse
	if err := c.callJSON(ctx, http.MethodPost, modelPath(model)+":generateContent", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Predict runs a synchronous prediction (Imagen).
func (c *Client) Predict(ctx context.Context, model string, req *PredictRequest) (*PredictResponse, error) {
	var result PredictResponse
	if err := c.callJSON(ctx, http.MethodPost, modelPath(model)+":predict", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PredictLongRunning starts a long-running prediction (Veo).
func (c *Client) PredictLongRunning(ctx context.Context, model string, req *PredictRequest) (*Operation, error) {
	var op Operation
	if err := c.callJSON(ctx, http.MethodPost, modelPath(model)+":predictLongRunning", req, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// GetOperation polls a long-running operation by its resource name.
func (c *Client) GetOperation(ctx context.Context, name string) (*Operation, error) {
	var op Operation
	if err := c.callJSON(ctx, http.MethodGet, "/"+strings.TrimPrefix(name, "/"), nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// Download fetches a file URI returned by the API, authenticating with the
// API key header so the key never appears in the URL.
func (c *Client) Download(ctx context.Context, uri string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.send(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", domain.ErrTransport(err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return data, mimeType, nil
}

func modelPath(model string) string {
	return "/models/" + strings.TrimPrefix(model, "models/")
}

func (c *Client) callJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.doJSON(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.ErrProviderProtocol(fmt.Sprintf("failed to unmarshal response: %v", err))
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(apiKeyHeader, c.apiKey)
	httpReq.Header.Set("User-Agent", "openmaas-gateway/1.0")

	return c.send(httpReq)
}

func (c *Client) send(httpReq *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.ErrTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if status, err := ParseErrorResponse(respBody); err == nil && status != nil {
			return nil, ToCanonical(resp.StatusCode, status)
		}
		return nil, domain.ErrFromStatus(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp, nil
}
