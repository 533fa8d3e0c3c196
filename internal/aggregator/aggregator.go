// Package aggregator folds a chunk stream into one GeneratedMessage.
package aggregator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// Aggregator accumulates one stream. It is not safe for concurrent use; a
// stream has exactly one consumer.
type Aggregator struct {
	start  time.Time
	now    func() time.Time
	text   strings.Builder
	images []domain.Image
	videos []domain.Video
	audios []domain.Audio

	ttfc     time.Duration
	gotDelta bool
	done     bool
	err      error
}

// New starts aggregating a call that began at start.
func New(start time.Time) *Aggregator {
	return &Aggregator{start: start, now: time.Now}
}

// Add folds in one chunk. It returns true once the stream has terminated,
// either with the final chunk or with an error; later chunks are ignored.
func (a *Aggregator) Add(c domain.Chunk) bool {
	if a.done {
		return true
	}
	if c.Err != nil {
		a.err = c.Err
		a.done = true
		return true
	}
	if c.HasDelta() {
		if !a.gotDelta {
			a.gotDelta = true
			a.ttfc = a.now().Sub(a.start)
		}
		a.text.WriteString(c.TextDelta)
		a.images = append(a.images, c.Images...)
		a.videos = append(a.videos, c.Videos...)
		a.audios = append(a.audios, c.Audios...)
	}
	if c.IsFinal {
		a.done = true
	}
	return a.done
}

// Result returns the message accumulated so far and the terminal error, if
// any. A partial message is returned alongside the error.
func (a *Aggregator) Result() (*domain.GeneratedMessage, error) {
	msg := &domain.GeneratedMessage{
		ID:                     uuid.NewString(),
		Role:                   domain.RoleAssistant,
		Content:                a.text.String(),
		Images:                 append([]domain.Image{}, a.images...),
		Videos:                 append([]domain.Video{}, a.videos...),
		Audios:                 append([]domain.Audio{}, a.audios...),
		TimeToFirstChunkMillis: a.ttfc.Milliseconds(),
		CreatedAt:              a.now(),
	}
	return msg, a.err
}

// Collect drains stream into a message. onChunk, when set, sees every
// chunk in arrival order before it is folded in. Cancelling ctx stops
// collection and returns the partial message with a transport error.
func Collect(ctx context.Context, start time.Time, stream <-chan domain.Chunk, onChunk func(domain.Chunk)) (*domain.GeneratedMessage, error) {
	a := New(start)
	for {
		select {
		case <-ctx.Done():
			a.Add(domain.ErrorChunk(domain.ErrTransport(ctx.Err())))
			return a.Result()
		case c, ok := <-stream:
			if !ok {
				if !a.done {
					a.Add(domain.ErrorChunk(domain.ErrStreamTruncated("stream closed without a final chunk")))
				}
				return a.Result()
			}
			if onChunk != nil {
				onChunk(c)
			}
			if a.Add(c) {
				return a.Result()
			}
		}
	}
}
