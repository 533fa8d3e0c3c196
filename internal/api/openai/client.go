package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/openmaas/openmaas-gateway/internal/domain"
	"github.com/openmaas/openmaas-gateway/internal/pkg/sse"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	userAgent      = "openmaas-gateway/1.0"
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

// WithAPIKeyHeader sends the key in the named header instead of a bearer
// Authorization header. Azure OpenAI uses "api-key".
func WithAPIKeyHeader(name string) ClientOption {
	return func(c *Client) {
		c.keyHeader = name
	}
}

// Client is a custom HTTP client for the OpenAI API.
type Client struct {
	apiKey     string
	baseURL    string
	keyHeader  string
	httpClient *http.Client
}

// NewClient creates a new OpenAI API client. An empty apiKey sends no
// credential, as required by Ollama.
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

// StreamResult wraps a chunk or error from streaming.
type StreamResult struct {
	Chunk *ChatCompletionChunk
	Err   error
}

// StreamChatCompletion sends a streaming chat completion request and returns a channel of chunks.
// The channel is closed after [DONE], on error, or when ctx is cancelled.
func (c *Client) StreamChatCompletion(ctx context.Context, req *ChatCompletionRequest) (<-chan StreamResult, error) {
	req.Stream = true

	resp, err := c.doJSON(ctx, http.MethodPost, "/chat/completions", req)
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
			send(StreamResult{Err: domain.ErrStreamTruncated("stream ended without [DONE]")})
			return
		}
		if err != nil {
			send(StreamResult{Err: domain.ErrTransport(err)})
			return
		}

		// Check for stream end
		if string(ev.Data) == "[DONE]" {
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			send(StreamResult{Err: domain.ErrProviderProtocol(fmt.Sprintf("failed to unmarshal chunk: %v", err))})
			return
		}
		if !send(StreamResult{Chunk: &chunk}) {
			return
		}
	}
}

// CreateImage generates images.
func (c *Client) CreateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error) {
	var result ImageResponse
	if err := c.callJSON(ctx, http.MethodPost, "/images/generations", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateVideo starts a video generation job.
func (c *Client) CreateVideo(ctx context.Context, req *VideoRequest) (*Video, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{{"model", req.Model}, {"prompt", req.Prompt}, {"size", req.Size}, {"seconds", req.Seconds}}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to encode form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode form: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/videos", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var video Video
	if err := decodeBody(resp, &video); err != nil {
		return nil, err
	}
	return &video, nil
}

// GetVideo fetches the current state of a video job.
func (c *Client) GetVideo(ctx context.Context, id string) (*Video, error) {
	var video Video
	if err := c.callJSON(ctx, http.MethodGet, "/videos/"+id, nil, &video); err != nil {
		return nil, err
	}
	return &video, nil
}

// DownloadVideoContent fetches the rendered MP4 of a completed job.
func (c *Client) DownloadVideoContent(ctx context.Context, id string) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/videos/"+id+"/content", nil, "")
	if err != nil {
		return nil, "", err
	}
	return readBinary(resp, "video/mp4")
}

// CreateSpeech synthesizes speech and returns the audio bytes and MIME type.
func (c *Client) CreateSpeech(ctx context.Context, req *SpeechRequest) ([]byte, string, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/audio/speech", req)
	if err != nil {
		return nil, "", err
	}
	return readBinary(resp, "audio/mpeg")
}

// CreateTranscription transcribes an audio file.
func (c *Client) CreateTranscription(ctx context.Context, req *TranscriptionRequest) (*Transcription, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("model", req.Model); err != nil {
		return nil, fmt.Errorf("failed to encode form: %w", err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.Filename))
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode form: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, fmt.Errorf("failed to encode form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode form: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/audio/transcriptions", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var result Transcription
	if err := decodeBody(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) callJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.doJSON(ctx, method, path, body)
	if err != nil {
		return err
	}
	return decodeBody(resp, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if body == nil {
		return c.do(ctx, method, path, nil, "")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, method, path, bytes.NewReader(data), "application/json")
}

// do sends the request and converts transport failures and non-2xx statuses
// into canonical errors. The caller owns the returned body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq, contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.ErrTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if apiErr, err := ParseErrorResponse(respBody); err == nil && apiErr != nil {
			return nil, apiErr.ToCanonical(resp.StatusCode)
		}
		return nil, domain.ErrFromStatus(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return resp, nil
}

func (c *Client) setHeaders(req *http.Request, contentType string) {
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		if c.keyHeader != "" {
			req.Header.Set(c.keyHeader, c.apiKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
	}
	req.Header.Set("User-Agent", userAgent)
}

func decodeBody(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.ErrProviderProtocol(fmt.Sprintf("failed to unmarshal response: %v", err))
	}
	return nil
}

func readBinary(resp *http.Response, fallbackType string) ([]byte, string, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", domain.ErrTransport(err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = fallbackType
	}
	return data, mimeType, nil
}
