package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openmaas/openmaas-gateway/internal/credential"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// guard sits between an adapter (or proxy client) stream and the caller.
// It guarantees that the caller sees exactly one terminal chunk, enforces the
// idle timeout, and releases the credential lease when the call ends.
type guard struct {
	in     <-chan domain.Chunk
	idle   time.Duration
	cancel context.CancelFunc
	lease  *credential.Lease
	span   trace.Span
	log    *slog.Logger
	id     domain.ProviderID
	start  time.Time

	firstChunk time.Duration
	chunks     int
}

func (g *guard) run(ctx context.Context) <-chan domain.Chunk {
	out := make(chan domain.Chunk)
	go func() {
		defer close(out)
		err := g.pump(ctx, out)

		// Stop the producer before releasing the credential it may still hold.
		g.cancel()
		secret := g.lease.Secret
		g.lease.Release()

		var apiErr *domain.APIError
		if err != nil {
			apiErr = scrub(err, secret).WithProvider(g.id)
		}
		g.finish(apiErr)
		if apiErr == nil {
			return
		}
		if ctx.Err() != nil {
			// The caller may have stopped reading.
			select {
			case out <- domain.ErrorChunk(apiErr):
			default:
			}
			return
		}
		out <- domain.ErrorChunk(apiErr)
	}()
	return out
}

// pump forwards chunks until the stream ends. It returns nil after delivering
// the final chunk and the terminal error otherwise; the caller delivers it.
func (g *guard) pump(ctx context.Context, out chan<- domain.Chunk) error {
	timer := time.NewTimer(g.idle)
	defer timer.Stop()

	send := func(c domain.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return domain.ErrTransport(ctx.Err())

		case <-timer.C:
			return domain.ErrIdleTimeout(fmt.Sprintf("no data from %s for %s", g.id, g.idle))

		case c, ok := <-g.in:
			if !ok {
				return domain.ErrStreamTruncated("stream closed without a final chunk")
			}
			timer.Reset(g.idle)

			if c.Err != nil {
				return c.Err
			}
			if c.HasDelta() {
				if g.chunks == 0 {
					g.firstChunk = time.Since(g.start)
				}
				g.chunks++
				delta := c
				delta.IsFinal = false
				if !send(delta) {
					return domain.ErrTransport(ctx.Err())
				}
			}
			if c.IsFinal {
				if !send(domain.FinalChunk()) {
					return domain.ErrTransport(ctx.Err())
				}
				return nil
			}
		}
	}
}

func (g *guard) finish(err *domain.APIError) {
	elapsed := time.Since(g.start)
	g.span.SetAttributes(
		attribute.Int("chunks", g.chunks),
		attribute.Int64("ttfc_ms", g.firstChunk.Milliseconds()),
	)
	endSpan(g.span, err)

	if err != nil {
		g.log.Warn("generate ended with error",
			"error_type", err.Type,
			"error_code", err.Code,
			"chunks", g.chunks,
			"duration", elapsed,
		)
		return
	}
	g.log.Info("generate completed",
		"chunks", g.chunks,
		"ttfc", g.firstChunk,
		"duration", elapsed,
	)
}
