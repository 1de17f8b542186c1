package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \":9090\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, 0.7, cfg.Overlay.Alpha)
	assert.False(t, cfg.Overlay.PreserveUnmasked)
	assert.Equal(t, "go", cfg.Overlay.Engine)
	assert.Equal(t, 0.25, cfg.Segmenter.Confidence)
	assert.Equal(t, 3, cfg.Segmenter.MaxConcurrent)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "./static/processed", cfg.Upload.ProcessedDir)
}

func TestLoadReadsSections(t *testing.T) {
	path := writeConfig(t, `
overlay:
  alpha: 0.6
  preserve_unmasked: true
segmenter:
  inference_url: http://segmenter:5000/predict
  timeout: 5s
  label: nucleus
upload:
  allowed_types: ["image/png"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Overlay.Alpha)
	assert.True(t, cfg.Overlay.PreserveUnmasked)
	assert.Equal(t, "http://segmenter:5000/predict", cfg.Segmenter.InferenceURL)
	assert.Equal(t, 5*time.Second, cfg.Segmenter.Timeout)
	assert.Equal(t, "nucleus", cfg.Segmenter.Label)
	assert.Equal(t, []string{"image/png"}, cfg.Upload.AllowedTypes)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CELLOVERLAY_SERVER_PUBLIC_URL", "https://cells.example.org")
	path := writeConfig(t, "server:\n  mode: release\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://cells.example.org", cfg.Server.PublicURL)
	assert.Equal(t, "release", cfg.Server.Mode)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"alpha above one", "overlay:\n  alpha: 1.5\n"},
		{"negative alpha", "overlay:\n  alpha: -0.1\n"},
		{"unknown engine", "overlay:\n  engine: cuda\n"},
		{"zero concurrency", "segmenter:\n  max_concurrent: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  port: [\n"))
	require.Error(t, err)
}

func TestLoadInvalidValueKeepsError(t *testing.T) {
	path := writeConfig(t, `
server:
  port: ":9999"
segmenter:
  inference_url: http://seg:1/predict
overlay:
  alpha: 1.5
`)

	cfg, err := Load(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "overlay.alpha")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFileAppliesEnv(t *testing.T) {
	t.Setenv("CELLOVERLAY_SERVER_PORT", ":7777")
	t.Setenv("CELLOVERLAY_OVERLAY_PRESERVE_UNMASKED", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Port)
	assert.True(t, cfg.Overlay.PreserveUnmasked)
	assert.Equal(t, Default().Segmenter.InferenceURL, cfg.Segmenter.InferenceURL)
}

func TestLoadMissingFileRejectsInvalidEnv(t *testing.T) {
	t.Setenv("CELLOVERLAY_OVERLAY_ENGINE", "cuda")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
