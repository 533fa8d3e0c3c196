package proxy

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

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// Client forwards calls to a pass-through proxy. It implements the router's
// Forwarder.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the proxy at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Forward sends one generate call and re-exposes the proxy's event stream as
// chunks. Cancelling ctx aborts the HTTP request, which ends the upstream call.
func (c *Client) Forward(ctx context.Context, id domain.ProviderID, secret string, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	resp, err := c.post(ctx, GeneratePath, "text/event-stream", GenerateCall{ProviderID: id, Secret: secret, Request: req})
	if err != nil {
		return nil, err
	}

	out := make(chan domain.Chunk)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

// ForwardTranscribe sends one transcription call.
func (c *Client) ForwardTranscribe(ctx context.Context, id domain.ProviderID, secret string, audio *domain.AudioBlob, model string) (string, error) {
	resp, err := c.post(ctx, TranscribePath, "application/json", TranscribeCall{ProviderID: id, Secret: secret, Model: model, Audio: audio})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result TranscribeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", domain.ErrProxyForward(fmt.Errorf("failed to decode transcription: %w", err))
	}
	return result.Text, nil
}

func (c *Client) streamReader(ctx context.Context, body io.ReadCloser, out chan<- domain.Chunk) {
	defer close(out)
	defer body.Close()

	send := func(ch domain.Chunk) bool {
		select {
		case out <- ch:
			return true
		case <-ctx.Done():
			return false
		}
	}

	reader := sse.NewReader(body)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			send(domain.ErrorChunk(domain.ErrStreamTruncated("proxy stream ended without a final chunk")))
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			send(domain.ErrorChunk(domain.ErrTransport(err)))
			return
		}

		switch ev.Event {
		case EventChunk:
			var chunk domain.Chunk
			if err := json.Unmarshal(ev.Data, &chunk); err != nil {
				send(domain.ErrorChunk(domain.ErrProxyForward(fmt.Errorf("failed to decode chunk: %w", err))))
				return
			}
			if !send(chunk) || chunk.IsFinal {
				return
			}
		case EventError:
			send(domain.ErrorChunk(decodeError(ev.Data, 0)))
			return
		}
	}
}

func (c *Client) post(ctx context.Context, path, accept string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	// The encoded body carries the secret.
	defer clear(data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ErrTransport(ctx.Err())
		}
		return nil, domain.ErrProxyForward(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, decodeError(respBody, resp.StatusCode)
	}
	return resp, nil
}

// decodeError rebuilds a canonical error from an ErrorBody payload.
func decodeError(data []byte, status int) *domain.APIError {
	var body ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error == nil || body.Error.Type == "" {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return domain.ErrProxyForward(fmt.Errorf("proxy returned status %d: %s", status, msg))
	}
	if status != 0 {
		body.Error.StatusCode = status
	}
	return body.Error
}
