package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/culturaltourmate/tourmate/pkg/config"
)

// isolate clears the variables the CLI reads so tests see the defaults.
func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TOURMATE_CONFIG", "GOOGLE_API_KEY", "GEMINI_API_KEY", "API_KEY", "OPENAI_API_KEY",
		"GOOGLE_CLOUD_PROJECT", "TOURMATE_PROVIDER", "TOURMATE_MODEL", "TOURMATE_LANGUAGE",
		"TOURMATE_ATTACHMENT_POLICY", "TOURMATE_JOURNAL", "TOURMATE_SESSION_DIR", "TOURMATE_SESSION_DB",
		"TOURMATE_ADDR",
		"TOURMATE_LOG_LEVEL", "TOURMATE_LOG_FORMAT", "REDIS_ADDR", "REDIS_PASSWORD",
		"OTEL_TRACES_ENABLED",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("TOURMATE_LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writePNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		for y := 0; y < 30; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(y * 8), B: uint8(x * 6), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, "temple.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	return path
}

func TestRootCommand(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"version flag", []string{"--version"}, "tourmate dev"},
		{"version command", []string{"version"}, "tourmate dev"},
		{"help flag", []string{"--help"}, "Quick Start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestAsk(t *testing.T) {
	isolate(t)
	img := writePNG(t, t.TempDir())

	out, err := execute(t, "--provider", "mock", "ask", "--image", img, "What", "is", "this?")
	require.NoError(t, err)
	assert.Equal(t, "Mock response\n", out)
}

func TestAsk_NoImage(t *testing.T) {
	isolate(t)

	_, err := execute(t, "--provider", "mock", "ask", "What is this?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Please upload or capture an image")
}

func TestAsk_UnsupportedImage(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just text"), 0600))

	_, err := execute(t, "--provider", "mock", "ask", "--image", path, "What is this?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Only JPEG, PNG and WebP")
}

func TestAsk_MissingCredential(t *testing.T) {
	isolate(t)
	img := writePNG(t, t.TempDir())

	_, err := execute(t, "--provider", "gemini", "ask", "--image", img, "What is this?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrMissingCredential), "got %v", err)
}

func TestConfigInit(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "tourmate.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Provider)
	assert.Equal(t, config.Default().Session.Primer, cfg.Session.Primer)

	_, err = execute(t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "config", "init", "--force", path)
	require.NoError(t, err)
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	isolate(t)
	t.Setenv("GOOGLE_API_KEY", "AIzaSyA-super-secret-1234")

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "****1234")
	assert.Contains(t, out, "provider: gemini")
}

func TestHistory(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv("TOURMATE_JOURNAL", "file")
	t.Setenv("TOURMATE_SESSION_DIR", dir)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Provider = "mock"

	a, err := newApp(cfg, "museum-visit")
	require.NoError(t, err)
	_, err = a.stageFile(writePNG(t, t.TempDir()))
	require.NoError(t, err)
	_, err = a.ctrl.Submit(context.Background(), "What is this?")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	out, err := execute(t, "history", "museum-visit")
	require.NoError(t, err)
	assert.Equal(t, "You: What is this?\nTourMate: Mock response\n", out)

	out, err = execute(t, "history", "--json", "museum-visit")
	require.NoError(t, err)
	assert.Contains(t, out, `"role": "user"`)

	_, err = execute(t, "history", "unknown-session")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no journal"), "got %v", err)

	out, err = execute(t, "history")
	require.NoError(t, err)
	assert.Equal(t, "museum-visit\n", out)
}

func TestHistory_SQLiteJournal(t *testing.T) {
	isolate(t)
	t.Setenv("TOURMATE_JOURNAL", "sqlite")
	t.Setenv("TOURMATE_SESSION_DB", filepath.Join(t.TempDir(), "sessions.db"))

	out, err := execute(t, "history")
	require.NoError(t, err)
	assert.Equal(t, "No journaled sessions.\n", out)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Provider = "mock"

	a, err := newApp(cfg, "temple-walk")
	require.NoError(t, err)
	_, err = a.stageFile(writePNG(t, t.TempDir()))
	require.NoError(t, err)
	_, err = a.ctrl.Submit(context.Background(), "Who built this?")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	out, err = execute(t, "history", "temple-walk")
	require.NoError(t, err)
	assert.Equal(t, "You: Who built this?\nTourMate: Mock response\n", out)

	out, err = execute(t, "history", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"temple-walk"`)
}

func TestHistory_ListUnsupported(t *testing.T) {
	isolate(t)
	_, err := execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot list sessions")
}
