package adapter

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

func drain(ch <-chan domain.Chunk) []domain.Chunk {
	var out []domain.Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestRun(t *testing.T) {
	tests := []struct {
		name      string
		fn        func(ctx context.Context, emit Emit) error
		wantText  string
		wantFinal bool
		wantErr   domain.ErrorType
	}{
		{
			name: "success ends with final",
			fn: func(_ context.Context, emit Emit) error {
				emit(domain.Chunk{TextDelta: "Hel"})
				emit(domain.Chunk{TextDelta: "lo"})
				return nil
			},
			wantText:  "Hello",
			wantFinal: true,
		},
		{
			name: "api error passes through",
			fn: func(_ context.Context, emit Emit) error {
				emit(domain.Chunk{TextDelta: "A"})
				return domain.ErrRateLimit("slow down")
			},
			wantText: "A",
			wantErr:  domain.ErrorTypeRateLimit,
		},
		{
			name: "plain error is normalized",
			fn: func(_ context.Context, _ Emit) error {
				return errors.New("boom")
			},
			wantErr: domain.ErrorTypeProviderProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := drain(Run(context.Background(), tt.fn))
			if len(chunks) == 0 {
				t.Fatal("Run() produced no chunks")
			}

			var text strings.Builder
			for _, c := range chunks[:len(chunks)-1] {
				text.WriteString(c.TextDelta)
			}
			if got := text.String(); got != tt.wantText {
				t.Errorf("text = %q, want %q", got, tt.wantText)
			}

			last := chunks[len(chunks)-1]
			if last.IsFinal != tt.wantFinal {
				t.Errorf("last.IsFinal = %v, want %v", last.IsFinal, tt.wantFinal)
			}
			if tt.wantErr != "" && !domain.IsType(last.Err, tt.wantErr) {
				t.Errorf("last.Err = %v, want %s", last.Err, tt.wantErr)
			}
		})
	}
}

func TestRun_StopsWhenConsumerLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	ch := Run(ctx, func(ctx context.Context, emit Emit) error {
		defer close(stopped)
		for emit(domain.Chunk{TextDelta: "x"}) {
		}
		return ctx.Err()
	})

	<-ch
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("producer kept running after cancellation")
	}
	drain(ch)
}

func TestSingle(t *testing.T) {
	chunks := drain(Single(context.Background(), domain.Chunk{TextDelta: "hi"}))
	if len(chunks) != 2 || chunks[0].TextDelta != "hi" || !chunks[1].IsFinal {
		t.Errorf("Single() = %+v", chunks)
	}
}

func TestPoll(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Poll(ctx, time.Hour, func(context.Context) (bool, error) { return false, nil })
	if !domain.IsType(err, domain.ErrorTypeTransport) {
		t.Errorf("Poll() after cancel error = %v, want transport", err)
	}
}

func TestWAV(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wav := WAV(pcm, 24000, 1, 16)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Errorf("unexpected header %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 24000 {
		t.Errorf("sample rate = %d, want 24000", rate)
	}
	if byteRate := binary.LittleEndian.Uint32(wav[28:32]); byteRate != 48000 {
		t.Errorf("byte rate = %d, want 48000", byteRate)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("PCM payload not preserved")
	}
}

func TestPCMFormat(t *testing.T) {
	tests := []struct {
		mime         string
		wantRate     int
		wantChannels int
	}{
		{"audio/L16;codec=pcm;rate=24000", 24000, 1},
		{"audio/l16; rate=48000; channels=2", 48000, 2},
		{"audio/L16", 16000, 1},
		{"audio/L16;rate=bogus", 16000, 1},
	}
	for _, tt := range tests {
		rate, ch := PCMFormat(tt.mime, 16000, 1)
		if rate != tt.wantRate || ch != tt.wantChannels {
			t.Errorf("PCMFormat(%q) = %d, %d, want %d, %d", tt.mime, rate, ch, tt.wantRate, tt.wantChannels)
		}
	}
	if !IsPCM("audio/L16;rate=24000") || IsPCM("audio/mpeg") {
		t.Error("IsPCM() misclassified")
	}
}

func TestDataURL(t *testing.T) {
	if got := DataURL("audio/wav", []byte("hi")); got != "data:audio/wav;base64,aGk=" {
		t.Errorf("DataURL() = %q", got)
	}
}

func TestParseDataURL(t *testing.T) {
	mimeType, data, err := ParseDataURL(DataURL("video/mp4", []byte("mp4")))
	if err != nil {
		t.Fatalf("ParseDataURL() error = %v", err)
	}
	if mimeType != "video/mp4" || string(data) != "mp4" {
		t.Errorf("ParseDataURL() = %q, %q", mimeType, data)
	}

	for _, bad := range []string{"https://example.com/a.png", "data:image/png;base64", "data:text/plain,hello", "data:image/png;base64,***"} {
		if _, _, err := ParseDataURL(bad); err == nil {
			t.Errorf("ParseDataURL(%q) should fail", bad)
		}
	}
}
