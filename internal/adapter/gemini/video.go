package gemini

import (
	"context"
	"strings"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	api "github.com/openmaas/openmaas-gateway/internal/api/gemini"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

func (a *Adapter) generateVideo(ctx context.Context, client *api.Client, req *domain.GenerateRequest) (<-chan domain.Chunk, error) {
	prompt, err := adapter.RequirePrompt(req)
	if err != nil {
		return nil, err
	}

	cfg := domain.DefaultVideoConfig()
	if req.ModalityConfig != nil && req.ModalityConfig.Video != nil {
		cfg = *req.ModalityConfig.Video
	}

	op, err := client.PredictLongRunning(ctx, req.Model, &api.PredictRequest{
		Instances:  []api.PredictInstance{{Prompt: prompt}},
		Parameters: VideoParameters(req.Model, cfg),
	})
	if err != nil {
		return nil, err
	}

	log := a.opts.Log().With("provider", a.id, "operation", op.Name)
	log.Info("video operation started", "model", req.Model)

	return adapter.Run(ctx, func(ctx context.Context, emit adapter.Emit) error {
		current := op
		err := adapter.Poll(ctx, a.opts.Interval(), func(ctx context.Context) (bool, error) {
			if current.Done {
				return true, nil
			}
			next, err := client.GetOperation(ctx, op.Name)
			if err != nil {
				return false, err
			}
			current = next
			return current.Done, nil
		})
		if err != nil {
			return err
		}

		uri, err := a.videoURI(current)
		if err != nil {
			return err
		}
		data, mimeType, err := client.Download(ctx, uri)
		if err != nil {
			return err
		}
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = "video/mp4"
		}
		log.Info("video operation completed", "bytes", len(data))
		emit(domain.Chunk{Videos: []domain.Video{{URL: adapter.DataURL(mimeType, data)}}})
		return nil
	}), nil
}

func (a *Adapter) videoURI(op *api.Operation) (string, error) {
	if op.Error != nil {
		return "", domain.ErrProviderProtocol(op.Error.Message).WithCode(domain.ErrorCodeJobFailed).WithProvider(a.id)
	}
	if op.Response == nil || op.Response.GenerateVideoResponse == nil {
		return "", domain.ErrProviderProtocol("operation finished without a video response").WithCode(domain.ErrorCodeJobFailed).WithProvider(a.id)
	}
	resp := op.Response.GenerateVideoResponse
	if len(resp.GeneratedSamples) == 0 || resp.GeneratedSamples[0].Video.URI == "" {
		msg := "operation finished without a generated video"
		if len(resp.RaiMediaFilteredReasons) > 0 {
			msg = strings.Join(resp.RaiMediaFilteredReasons, "; ")
		}
		return "", domain.ErrProviderProtocol(msg).WithCode(domain.ErrorCodeJobFailed).WithProvider(a.id)
	}
	return resp.GeneratedSamples[0].Video.URI, nil
}

// VideoParameters converts a video config into Veo parameters. Veo 3 takes
// 4, 6 or 8 seconds and a resolution; Veo 2 takes 5 to 8 seconds and no
// resolution.
func VideoParameters(model string, cfg domain.VideoConfig) *api.PredictParameters {
	params := &api.PredictParameters{AspectRatio: cfg.AspectRatio}
	if strings.HasPrefix(model, "veo-2") {
		params.DurationSeconds = clamp(cfg.DurationSeconds, 5, 8)
		return params
	}

	params.Resolution = cfg.Resolution
	switch d := cfg.DurationSeconds; {
	case d <= 5:
		params.DurationSeconds = 4
	case d <= 7:
		params.DurationSeconds = 6
	default:
		params.DurationSeconds = 8
	}
	return params
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
