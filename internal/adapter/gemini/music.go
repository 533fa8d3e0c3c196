package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"io"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	api "github.com/openmaas/openmaas-gateway/internal/api/gemini"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// Lyria RealTime streams 48 kHz stereo 16-bit PCM.
const (
	musicSampleRate = 48000
	musicChannels   = 2
	musicBits       = 16
)

func (a *Adapter) generateMusic(ctx context.Context, client *api.Client, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	prompt, err := adapter.RequirePrompt(req)
	if err != nil {
		return nil, err
	}

	cfg := domain.DefaultMusicConfig()
	if req.ModalityConfig != nil && req.ModalityConfig.Music != nil {
		cfg = *req.ModalityConfig.Music
	}
	if cfg.DurationSeconds <= 0 {
		cfg.DurationSeconds = domain.DefaultMusicConfig().DurationSeconds
	}

	session, err := client.ConnectMusic(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	if err := session.Start(
		[]api.WeightedPrompt{{Text: prompt, Weight: 1.0}},
		&api.MusicGenerationConfig{BPM: clamp(cfg.BPM, 60, 200)},
	); err != nil {
		session.Close()
		return nil, err
	}

	log := a.opts.Log().With("provider", a.id, "model", req.Model)
	log.Info("music session started", "duration_seconds", cfg.DurationSeconds)

	return adapter.Run(ctx, func(ctx context.Context, emit adapter.Emit) error {
		defer session.Close()

		pcm, mimeType, err := collectMusic(session, cfg.DurationSeconds)
		if err != nil {
			return err
		}
		_ = session.Stop()

		rate, channels := adapter.PCMFormat(mimeType, musicSampleRate, musicChannels)
		log.Info("music session completed", "bytes", len(pcm))
		emit(domain.Chunk{Audios: []domain.Audio{{URL: adapter.DataURL("audio/wav", adapter.WAV(pcm, rate, channels, musicBits))}}})
		return nil
	}), nil
}

// collectMusic reads audio chunks until the requested duration has been
// received. A normal close by the server ends collection early.
func collectMusic(session *api.MusicSession, seconds int) ([]byte, string, error) {
	want := seconds * musicSampleRate * musicChannels * musicBits / 8
	pcm := make([]byte, 0, want)
	var mimeType string

	for len(pcm) < want {
		msg, err := session.Receive()
		if errors.Is(err, io.EOF) {
			if len(pcm) == 0 {
				return nil, "", domain.ErrStreamTruncated("music session closed before any audio arrived")
			}
			break
		}
		if err != nil {
			return nil, "", err
		}
		if msg.FilteredPrompt != nil {
			return nil, "", domain.ErrInvalidRequest("prompt filtered: " + msg.FilteredPrompt.FilteredReason)
		}
		if msg.ServerContent == nil {
			continue
		}
		for _, chunk := range msg.ServerContent.AudioChunks {
			data, err := base64.StdEncoding.DecodeString(chunk.Data)
			if err != nil {
				return nil, "", domain.ErrProviderProtocol("invalid base64 audio chunk")
			}
			if mimeType == "" {
				mimeType = chunk.MimeType
			}
			pcm = append(pcm, data...)
		}
	}

	if len(pcm) > want {
		pcm = pcm[:want]
	}
	return pcm, mimeType, nil
}
