package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	"github.com/openmaas/openmaas-gateway/internal/domain"
	"github.com/openmaas/openmaas-gateway/internal/telemetry"
	"github.com/openmaas/openmaas-gateway/pkg/gateway"
)

// open builds a caller-side gateway. The returned func ends the session and
// flushes traces.
func (a *app) open(cmd *cli.Command, extra ...gateway.Option) (*gateway.Gateway, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.Log, a.stderr)

	shutdown, err := telemetry.InitTracer(telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		Exporter:    cfg.Telemetry.Exporter,
		Writer:      a.stderr,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize tracer: %w", err)
	}

	opts := append([]gateway.Option{gateway.WithConfig(cfg), gateway.WithLogger(logger)}, extra...)
	gw, err := gateway.New(opts...)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, nil, err
	}

	return gw, func() {
		if err := gw.Close(); err != nil {
			logger.Warn("failed to close gateway", slog.String("error", err.Error()))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}, nil
}

func (a *app) generateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "send a prompt and stream the reply",
		ArgsUsage: "<prompt>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "provider id", Required: true},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model id", Required: true},
			&cli.StringFlag{Name: "system", Usage: "system prompt"},
			&cli.FloatFlag{Name: "temperature", Usage: "sampling temperature"},
			&cli.IntFlag{Name: "max-tokens", Usage: "maximum output tokens"},
			&cli.BoolFlag{Name: "key-stdin", Usage: "read a single-use key from stdin; stored keys are left untouched"},
			&cli.BoolFlag{Name: "no-history", Usage: "do not record the exchange"},
			&cli.StringFlag{Name: "out", Usage: "directory for generated media", Value: "."},
			&cli.StringFlag{Name: "aspect-ratio", Usage: "video aspect ratio"},
			&cli.StringFlag{Name: "resolution", Usage: "video resolution"},
			&cli.IntFlag{Name: "duration", Usage: "video or music length in seconds"},
			&cli.IntFlag{Name: "bpm", Usage: "music tempo"},
			&cli.StringFlag{Name: "voice", Usage: "speech voice"},
			&cli.FloatFlag{Name: "speed", Usage: "speech speed multiplier"},
		},
		Action: a.runGenerate,
	}
}

func (a *app) runGenerate(ctx context.Context, cmd *cli.Command) error {
	prompt := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if prompt == "" {
		return errors.New("a prompt is required")
	}

	var extra []gateway.Option
	if cmd.Bool("no-history") {
		extra = append(extra, gateway.WithoutHistory())
	}
	gw, done, err := a.open(cmd, extra...)
	if err != nil {
		return err
	}
	defer done()

	id := domain.ProviderID(cmd.String("provider"))
	callOpts, err := a.callOptions(cmd)
	if err != nil {
		return err
	}

	req := &domain.GenerateRequest{
		ProviderID: id,
		Model:      cmd.String("model"),
		MaxTokens:  cmd.Int("max-tokens"),
	}
	if system := cmd.String("system"); system != "" {
		req.Messages = append(req.Messages, domain.Message{Role: domain.RoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, domain.Message{Role: domain.RoleUser, Content: prompt})
	if cmd.IsSet("temperature") {
		t := cmd.Float("temperature")
		req.Temperature = &t
	}
	if p, err := gw.Catalog().Lookup(id); err == nil {
		if m, err := p.Model(req.Model); err == nil {
			req.ModalityConfig = modalityConfig(cmd, m.Modality)
		}
	}

	msg, genErr := gw.GenerateMessage(ctx, id, req, func(c domain.Chunk) {
		if c.TextDelta != "" {
			fmt.Fprint(a.stdout, c.TextDelta)
		}
	}, callOpts...)
	if msg != nil {
		if msg.Content != "" {
			fmt.Fprintln(a.stdout)
		}
		paths, err := saveMedia(cmd.String("out"), msg)
		for _, path := range paths {
			fmt.Fprintln(a.stderr, "saved", path)
		}
		if err != nil && genErr == nil {
			return err
		}
	}
	return genErr
}

// modalityConfig starts from the playground defaults and applies any flags
// that were set.
func modalityConfig(cmd *cli.Command, modality domain.Modality) *domain.ModalityConfig {
	switch modality {
	case domain.ModalityVideo:
		v := domain.DefaultVideoConfig()
		if cmd.IsSet("aspect-ratio") {
			v.AspectRatio = cmd.String("aspect-ratio")
		}
		if cmd.IsSet("resolution") {
			v.Resolution = cmd.String("resolution")
		}
		if cmd.IsSet("duration") {
			v.DurationSeconds = cmd.Int("duration")
		}
		return &domain.ModalityConfig{Video: &v}
	case domain.ModalityMusic:
		m := domain.DefaultMusicConfig()
		if cmd.IsSet("bpm") {
			m.BPM = cmd.Int("bpm")
		}
		if cmd.IsSet("duration") {
			m.DurationSeconds = cmd.Int("duration")
		}
		return &domain.ModalityConfig{Music: &m}
	case domain.ModalityTTS:
		s := domain.DefaultSpeechConfig()
		if cmd.IsSet("voice") {
			s.Voice = cmd.String("voice")
		}
		if cmd.IsSet("speed") {
			s.SpeedMultiplier = cmd.Float("speed")
		}
		return &domain.ModalityConfig{Speech: &s}
	}
	return nil
}

// saveMedia writes every image, video and audio in msg to dir. Media that is
// a remote URL rather than inline data is reported as-is.
func saveMedia(dir string, msg *domain.GeneratedMessage) ([]string, error) {
	type item struct {
		kind     string
		mimeType string
		data     []byte
	}
	var items []item
	var saved []string

	for _, img := range msg.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return saved, fmt.Errorf("decode image: %w", err)
		}
		items = append(items, item{"image", img.MimeType, data})
	}
	inline := func(kind, url string) {
		mimeType, data, err := adapter.ParseDataURL(url)
		if err != nil {
			saved = append(saved, url)
			return
		}
		items = append(items, item{kind, mimeType, data})
	}
	for _, v := range msg.Videos {
		inline("video", v.URL)
	}
	for _, au := range msg.Audios {
		inline("audio", au.URL)
	}
	if len(items) == 0 {
		return saved, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return saved, fmt.Errorf("create output directory: %w", err)
	}
	prefix := msg.ID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	for i, it := range items {
		path := filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", prefix, it.kind, i+1, extension(it.mimeType)))
		if err := os.WriteFile(path, it.data, 0o644); err != nil {
			return saved, fmt.Errorf("write %s: %w", it.kind, err)
		}
		saved = append(saved, path)
	}
	return saved, nil
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/ogg":  ".ogg",
}

func extension(mimeType string) string {
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	if ext, ok := extensions[base]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func (a *app) transcribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "transcribe",
		Usage:     "convert an audio file to text",
		ArgsUsage: "<audio-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "provider id", Required: true},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "speech-to-text model id", Required: true},
			&cli.BoolFlag{Name: "key-stdin", Usage: "read a single-use key from stdin; stored keys are left untouched"},
		},
		Action: a.runTranscribe,
	}
}

func (a *app) runTranscribe(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("an audio file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	gw, done, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer done()

	callOpts, err := a.callOptions(cmd)
	if err != nil {
		return err
	}

	text, err := gw.Transcribe(ctx, domain.ProviderID(cmd.String("provider")), &domain.AudioBlob{
		Filename: filepath.Base(path),
		MimeType: mimeType,
		Data:     data,
	}, cmd.String("model"), callOpts...)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, text)
	return nil
}

func (a *app) keysCommand() *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "manage provider credentials",
		Commands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "store a key read from stdin",
				ArgsUsage: "<provider>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "volatility", Usage: "durable, session or ephemeral", Value: string(domain.VolatilityDurable)},
				},
				Action: a.runKeysPut,
			},
			{
				Name:   "list",
				Usage:  "list providers with a stored key",
				Action: a.runKeysList,
			},
			{
				Name:      "remove",
				Usage:     "delete a provider's key",
				ArgsUsage: "<provider>",
				Action:    a.runKeysRemove,
			},
		},
	}
}

func (a *app) runKeysPut(ctx context.Context, cmd *cli.Command) error {
	id := domain.ProviderID(cmd.Args().First())
	if id == "" {
		return errors.New("a provider id is required")
	}
	v, err := domain.ParseVolatility(cmd.String("volatility"))
	if err != nil {
		return err
	}

	gw, done, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer done()

	fmt.Fprintf(a.stderr, "Paste the %s key and press Enter: ", id)
	secret, err := readSecret(a.stdin)
	if err != nil {
		return err
	}
	if err := gw.PutKey(ctx, id, secret, v); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "stored %s key (%s)\n", id, v)
	return nil
}

func (a *app) runKeysList(ctx context.Context, cmd *cli.Command) error {
	gw, done, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer done()

	ids, err := gw.ListKeys(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(a.stdout, id)
	}
	return nil
}

func (a *app) runKeysRemove(ctx context.Context, cmd *cli.Command) error {
	id := domain.ProviderID(cmd.Args().First())
	if id == "" {
		return errors.New("a provider id is required")
	}
	gw, done, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer done()

	if err := gw.RemoveKey(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "removed %s key\n", id)
	return nil
}

// callOptions reads a single-use key from stdin when --key-stdin is set. The
// key is used for this call only and the key store is left as it was.
func (a *app) callOptions(cmd *cli.Command) ([]gateway.CallOption, error) {
	if !cmd.Bool("key-stdin") {
		return nil, nil
	}
	secret, err := readSecret(a.stdin)
	if err != nil {
		return nil, err
	}
	return []gateway.CallOption{gateway.WithSecret(secret)}, nil
}

// readSecret reads one line from r. The value is never echoed back.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read key: %w", err)
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return "", errors.New("no key on stdin")
	}
	return secret, nil
}

func (a *app) catalogCommand() *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "list providers and models",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the catalog as JSON"},
		},
		Action: a.runCatalog,
	}
}

func (a *app) runCatalog(ctx context.Context, cmd *cli.Command) error {
	gw, done, err := a.open(cmd, gateway.WithMemoryStorage())
	if err != nil {
		return err
	}
	defer done()

	providers := gw.Catalog().Providers()
	if cmd.Bool("json") {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(providers)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tROUTE\tMODEL\tMODALITY\tCONTEXT")
	for _, p := range providers {
		route, _ := gw.Route(p.ID)
		for _, m := range p.Models {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", p.ID, route, m.ID, m.Modality, m.ContextWindow)
		}
		if len(p.Models) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t%s\t\t\n", p.ID, route, "(dynamic)")
		}
	}
	return tw.Flush()
}

func (a *app) historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "show or clear a model's conversation log",
		Commands: []*cli.Command{
			{
				Name:      "show",
				ArgsUsage: "<model>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print entries as JSON"},
				},
				Action: a.runHistoryShow,
			},
			{
				Name:      "clear",
				ArgsUsage: "<model>",
				Action:    a.runHistoryClear,
			},
		},
	}
}

func (a *app) runHistoryShow(ctx context.Context, cmd *cli.Command) error {
	model := cmd.Args().First()
	if model == "" {
		return errors.New("a model id is required")
	}
	gw, done, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer done()

	entries, err := gw.History(ctx, model)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	for _, e := range entries {
		media := len(e.Images) + len(e.Videos) + len(e.Audios)
		fmt.Fprintf(a.stdout, "[%s] %s: %s", e.CreatedAt.Format(time.RFC3339), e.Role, e.Content)
		if media > 0 {
			fmt.Fprintf(a.stdout, " (+%d media)", media)
		}
		fmt.Fprintln(a.stdout)
	}
	return nil
}

func (a *app) runHistoryClear(ctx context.Context, cmd *cli.Command) error {
	model := cmd.Args().First()
	if model == "" {
		return errors.New("a model id is required")
	}
	gw, done, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer done()
	return gw.ClearHistory(ctx, model)
}
