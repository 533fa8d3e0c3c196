package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openmaas/openmaas-gateway/internal/adapter"
	"github.com/openmaas/openmaas-gateway/internal/config"
	"github.com/openmaas/openmaas-gateway/internal/domain"
)

func writeConfig(t *testing.T, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "storage:\n  type: sqlite\n  sqlite:\n    path: " + filepath.Join(dir, "keys.db") + "\nlog:\n  level: error\n" + strings.Join(extra, "")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := &app{stdin: strings.NewReader(stdin), stdout: &stdout, stderr: &stderr}
	err := a.command().Run(context.Background(), append([]string{"openmaas"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestKeysPutListRemove(t *testing.T) {
	cfg := writeConfig(t)
	secret := "sk-" + strings.Repeat("q", 40)

	stdout, stderr, err := run(t, secret+"\n", "--config", cfg, "keys", "put", "openai")
	if err != nil {
		t.Fatalf("keys put error = %v", err)
	}
	if strings.Contains(stdout+stderr, secret) {
		t.Fatal("keys put echoed the secret")
	}

	stdout, _, err = run(t, "", "--config", cfg, "keys", "list")
	if err != nil {
		t.Fatalf("keys list error = %v", err)
	}
	if strings.TrimSpace(stdout) != "openai" {
		t.Errorf("keys list = %q, want openai", stdout)
	}

	if _, _, err := run(t, "", "--config", cfg, "keys", "remove", "openai"); err != nil {
		t.Fatalf("keys remove error = %v", err)
	}
	stdout, _, _ = run(t, "", "--config", cfg, "keys", "list")
	if strings.TrimSpace(stdout) != "" {
		t.Errorf("keys list after remove = %q", stdout)
	}
}

func TestKeysPutRejectsBadFormat(t *testing.T) {
	cfg := writeConfig(t)
	_, _, err := run(t, "not-a-key\n", "--config", cfg, "keys", "put", "openai")
	if !domain.IsType(err, domain.ErrorTypeInvalidKeyFormat) {
		t.Fatalf("keys put error = %v, want invalid_key_format", err)
	}
	if strings.Contains(err.Error(), "not-a-key") {
		t.Error("error quotes the rejected key")
	}
}

func TestCatalogCommand(t *testing.T) {
	stdout, _, err := run(t, "", "--config", writeConfig(t), "catalog")
	if err != nil {
		t.Fatalf("catalog error = %v", err)
	}
	for _, want := range []string{"PROVIDER", "openai", "direct", "anthropic", "proxied", "gpt-4o"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("catalog output missing %q", want)
		}
	}
}

func TestGenerateRequiresPrompt(t *testing.T) {
	_, _, err := run(t, "", "--config", writeConfig(t), "generate", "-p", "openai", "-m", "gpt-4o")
	if err == nil || !strings.Contains(err.Error(), "prompt") {
		t.Fatalf("generate error = %v", err)
	}
}

func TestSaveMedia(t *testing.T) {
	dir := t.TempDir()
	msg := &domain.GeneratedMessage{
		ID:     "0123456789abcdef",
		Images: []domain.Image{{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString([]byte("png"))}},
		Videos: []domain.Video{{URL: "https://cdn.example.com/v.mp4"}},
		Audios: []domain.Audio{{URL: adapter.DataURL("audio/wav", []byte("wav"))}},
	}

	paths, err := saveMedia(dir, msg)
	if err != nil {
		t.Fatalf("saveMedia() error = %v", err)
	}
	want := []string{
		"https://cdn.example.com/v.mp4",
		filepath.Join(dir, "01234567-image-1.png"),
		filepath.Join(dir, "01234567-audio-2.wav"),
	}
	if len(paths) != len(want) {
		t.Fatalf("saveMedia() = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
	if data, _ := os.ReadFile(want[2]); string(data) != "wav" {
		t.Errorf("audio file = %q", data)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "loud", Format: "text"}, &buf)
	logger.Debug("hidden")
	logger.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestGenerateKeyStdinKeepsStoredKey(t *testing.T) {
	stored := "sk-" + strings.Repeat("d", 40)
	single := "sk-" + strings.Repeat("e", 40)

	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"pong\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer ts.Close()

	cfg := writeConfig(t, "providers:\n  openai:\n    base_url: "+ts.URL+"\n")
	if _, _, err := run(t, stored+"\n", "--config", cfg, "keys", "put", "openai"); err != nil {
		t.Fatalf("keys put error = %v", err)
	}

	stdout, stderr, err := run(t, single+"\n", "--config", cfg, "generate", "--key-stdin", "--no-history", "-p", "openai", "-m", "gpt-4o", "ping")
	if err != nil {
		t.Fatalf("generate error = %v", err)
	}
	if strings.TrimSpace(stdout) != "pong" {
		t.Errorf("generate output = %q, want pong", stdout)
	}
	if gotAuth != "Bearer "+single {
		t.Error("provider did not receive the single-use key")
	}
	if strings.Contains(stdout+stderr, single) {
		t.Error("generate echoed the single-use key")
	}

	stdout, _, err = run(t, "", "--config", cfg, "keys", "list")
	if err != nil {
		t.Fatalf("keys list error = %v", err)
	}
	if strings.TrimSpace(stdout) != "openai" {
		t.Errorf("keys list after single-use call = %q, want openai", stdout)
	}
}
