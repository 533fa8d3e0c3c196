// Package proxy implements the non-persisting pass-through proxy: an HTTP
// handler that invokes an adapter on behalf of a remote caller using a
// per-call secret, and the client the router uses to reach it.
package proxy

import (
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// Routes served by Handler.
const (
	GeneratePath   = "/v1/generate"
	TranscribePath = "/v1/transcribe"
)

// Stream event names.
const (
	EventChunk = "chunk"
	EventError = "error"
)

// maxBodyBytes bounds request bodies; transcription uploads dominate.
const maxBodyBytes = 32 << 20

// GenerateCall is the body of POST /v1/generate. The secret is used for
// exactly one upstream call.
type GenerateCall struct {
	ProviderID domain.ProviderID       `json:"providerId"`
	Secret     string                  `json:"secret"`
	Request    *domain.GenerateRequest `json:"request"`
}

// TranscribeCall is the body of POST /v1/transcribe.
type TranscribeCall struct {
	ProviderID domain.ProviderID `json:"providerId"`
	Secret     string            `json:"secret"`
	Model      string            `json:"model"`
	Audio      *domain.AudioBlob `json:"audio"` // data is base64 on the wire
}

// TranscribeResult is the success body of POST /v1/transcribe.
type TranscribeResult struct {
	Text string `json:"text"`
}

// ErrorBody is the error payload of non-2xx responses and of error events.
type ErrorBody struct {
	Error *domain.APIError `json:"error"`
}
