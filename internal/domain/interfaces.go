package domain

import (
	"context"
)

// Adapter translates unified requests into one provider family's native
// protocol and normalizes the responses back into chunks.
type Adapter interface {
	Name() string

	// GenerateStream opens a normalized chunk stream. Errors detected before
	// the response body is read are returned directly; later errors arrive as
	// a terminal chunk. The channel MUST be closed by the adapter when done,
	// and every send MUST honour ctx.
	GenerateStream(ctx context.Context, secret string, req *GenerateRequest) (<-chan Chunk, error)

	// Transcribe converts speech to text. It is not streamed.
	Transcribe(ctx context.Context, secret string, audio *AudioBlob, model string) (string, error)
}
