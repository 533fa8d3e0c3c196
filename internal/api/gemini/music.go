package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/openmaas/openmaas-gateway/internal/domain"
)

// WeightedPrompt steers Lyria generation.
type WeightedPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// MusicGenerationConfig tunes the generated music.
type MusicGenerationConfig struct {
	BPM int `json:"bpm,omitempty"`
}

// Playback control values.
const (
	PlaybackPlay = "PLAY"
	PlaybackStop = "STOP"
)

type musicSetup struct {
	Model string `json:"model"`
}

type musicClientContent struct {
	WeightedPrompts []WeightedPrompt `json:"weightedPrompts"`
}

type musicClientMessage struct {
	Setup                 *musicSetup            `json:"setup,omitempty"`
	ClientContent         *musicClientContent    `json:"clientContent,omitempty"`
	MusicGenerationConfig *MusicGenerationConfig `json:"musicGenerationConfig,omitempty"`
	PlaybackControl       string                 `json:"playbackControl,omitempty"`
}

// AudioChunk is a piece of raw PCM audio.
type AudioChunk struct {
	Data     string `json:"data"` // base64
	MimeType string `json:"mimeType"`
}

// MusicServerContent carries generated audio.
type MusicServerContent struct {
	AudioChunks []AudioChunk `json:"audioChunks"`
}

// FilteredPrompt reports a prompt rejected by safety filters.
type FilteredPrompt struct {
	Text           string `json:"text"`
	FilteredReason string `json:"filteredReason"`
}

// MusicServerMessage is one message from the Lyria session.
type MusicServerMessage struct {
	SetupComplete  *struct{}           `json:"setupComplete,omitempty"`
	ServerContent  *MusicServerContent `json:"serverContent,omitempty"`
	FilteredPrompt *FilteredPrompt     `json:"filteredPrompt,omitempty"`
	Warning        string              `json:"warning,omitempty"`
}

// MusicSession is an open Lyria RealTime WebSocket session.
type MusicSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// ConnectMusic dials the Lyria endpoint and completes the setup handshake.
// Cancelling ctx closes the session.
func (c *Client) ConnectMusic(ctx context.Context, model string) (*MusicSession, error) {
	header := http.Header{}
	header.Set(apiKeyHeader, c.apiKey)

	dialer := *websocket.DefaultDialer
	conn, resp, err := dialer.DialContext(ctx, c.musicURL, header)
	if err != nil {
		if resp != nil {
			return nil, domain.ErrFromStatus(resp.StatusCode, "music session rejected")
		}
		return nil, domain.ErrTransport(err)
	}

	s := &MusicSession{conn: conn, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	if err := s.write(musicClientMessage{Setup: &musicSetup{Model: model}}); err != nil {
		s.Close()
		return nil, err
	}

	msg, err := s.Receive()
	if err != nil {
		s.Close()
		if errors.Is(err, io.EOF) {
			return nil, domain.ErrProviderProtocol("music session closed during setup")
		}
		return nil, err
	}
	if msg.SetupComplete == nil {
		s.Close()
		return nil, domain.ErrProviderProtocol("music session did not acknowledge setup")
	}
	return s, nil
}

// Start sends the prompt and configuration and begins playback.
func (s *MusicSession) Start(prompts []WeightedPrompt, cfg *MusicGenerationConfig) error {
	if err := s.write(musicClientMessage{ClientContent: &musicClientContent{WeightedPrompts: prompts}}); err != nil {
		return err
	}
	if cfg != nil {
		if err := s.write(musicClientMessage{MusicGenerationConfig: cfg}); err != nil {
			return err
		}
	}
	return s.write(musicClientMessage{PlaybackControl: PlaybackPlay})
}

// Stop asks the server to stop generating.
func (s *MusicSession) Stop() error {
	return s.write(musicClientMessage{PlaybackControl: PlaybackStop})
}

// Receive reads the next server message. It returns io.EOF when the server
// closes the session normally.
func (s *MusicSession) Receive() (*MusicServerMessage, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			if ce.Code == websocket.CloseNormalClosure {
				return nil, io.EOF
			}
			return nil, closeErrorToCanonical(ce)
		}
		return nil, domain.ErrTransport(err)
	}
	var msg MusicServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, domain.ErrProviderProtocol(fmt.Sprintf("failed to unmarshal music message: %v", err))
	}
	return &msg, nil
}

// Close closes the underlying connection. It is safe to call more than once.
func (s *MusicSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *MusicSession) write(msg musicClientMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		return domain.ErrTransport(err)
	}
	return nil
}

// closeErrorToCanonical maps WebSocket close codes. Policy violations are
// how the endpoint reports a bad key.
func closeErrorToCanonical(ce *websocket.CloseError) *domain.APIError {
	switch ce.Code {
	case websocket.ClosePolicyViolation:
		if strings.Contains(strings.ToLower(ce.Text), "quota") {
			return domain.ErrRateLimit(ce.Text)
		}
		return domain.ErrAuthentication(ce.Text)
	case websocket.CloseTryAgainLater:
		return domain.ErrRateLimit(ce.Text)
	default:
		return domain.ErrProviderProtocol(fmt.Sprintf("music session closed (%d): %s", ce.Code, ce.Text))
	}
}
