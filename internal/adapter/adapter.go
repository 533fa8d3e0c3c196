// Package adapter holds the pieces shared by the per-provider adapters: the
// stream runner that turns a producer function into a normalized chunk
// stream, job polling, and media encoding helpers.
package adapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// DefaultPollInterval is used when Options.PollInterval is zero.
const DefaultPollInterval = 5 * time.Second

// Options configures an adapter instance.
type Options struct {
	// BaseURL overrides the provider's default endpoint.
	BaseURL string
	// HTTPClient is used for all upstream requests.
	HTTPClient *http.Client
	// PollInterval is the delay between status checks of long-running jobs.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Interval returns the configured poll interval or the default.
func (o Options) Interval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return DefaultPollInterval
}

// Log returns the configured logger or the default one.
func (o Options) Log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Emit delivers a chunk downstream. It returns false once the consumer has
// gone away, after which the producer must stop.
type Emit func(domain.Chunk) bool

// Run starts fn in a goroutine and returns the stream it produces. When fn
// returns nil the stream ends with a final chunk; otherwise it ends with a
// normalized error chunk. The channel is always closed.
func Run(ctx context.Context, fn func(ctx context.Context, emit Emit) error) <-chan domain.Chunk {
	out := make(chan domain.Chunk)
	go func() {
		defer close(out)

		emit := func(c domain.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if err := fn(ctx, emit); err != nil {
			emit(domain.ErrorChunk(domain.Normalize(err)))
			return
		}
		emit(domain.FinalChunk())
	}()
	return out
}

// Single returns a stream holding c followed by the final chunk.
func Single(ctx context.Context, c domain.Chunk) <-chan domain.Chunk {
	return Run(ctx, func(_ context.Context, emit Emit) error {
		emit(c)
		return nil
	})
}

// Poll calls check every interval until it reports done, returns an error,
// or ctx ends. The first check happens immediately.
func Poll(ctx context.Context, interval time.Duration, check func(ctx context.Context) (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return domain.ErrTransport(ctx.Err())
		case <-ticker.C:
		}
	}
}

// UnsupportedModality is returned when a model's modality has no
// implementation in the adapter.
func UnsupportedModality(id domain.ProviderID, m domain.Modality) *domain.APIError {
	return domain.ErrInvalidRequest("modality " + string(m) + " is not supported by " + string(id)).
		WithCode(domain.ErrorCodeUnsupportedModality).
		WithProvider(id)
}

// RequirePrompt returns the last user message or an invalid-request error
// for endpoints that take a single prompt.
func RequirePrompt(req *domain.GenerateRequest) (string, error) {
	prompt := req.LastUserText()
	if prompt == "" {
		return "", domain.ErrInvalidRequest("a user message is required").WithParam("messages")
	}
	return prompt, nil
}
