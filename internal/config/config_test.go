package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leadpilot.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\njwt_secret = \"s\"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, "s", cfg.Server.JWTSecret)
	assert.Equal(t, 90*time.Second, cfg.Autopilot.PipelineTimeout)
	assert.Equal(t, 30*time.Second, cfg.Autopilot.CallTimeout)
	assert.Equal(t, 5, cfg.Autopilot.GhostAfterDays)
	assert.Equal(t, 10, cfg.Reactivation.BatchQuota)
	assert.InDelta(t, 10000.0, cfg.Reactivation.DealValueLimit, 0.001)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leadpilot.toml")
	require.NoError(t, os.WriteFile(path, []byte("[llm]\nprovider = \"openai\"\n"), 0o644))
	t.Setenv("LEADPILOT_LLM_API_KEY", "sk-test")
	t.Setenv("LEADPILOT_AUTOPILOT_GHOST_AFTER_DAYS", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 7, cfg.Autopilot.GhostAfterDays)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, Validate(cfg))

	cfg.Database.URL = "postgres://x"
	cfg.Server.JWTSecret = "secret"
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "k"
	cfg.Autopilot.Workers = 2
	cfg.Reactivation.BatchQuota = 10
	assert.NoError(t, Validate(cfg))

	cfg.Reactivation.BatchQuota = 11
	assert.Error(t, Validate(cfg))
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leadpilot.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "change-me", cfg.Server.JWTSecret)
	assert.Equal(t, "meta-app-secret", cfg.Webhooks.Secrets["whatsapp"])
}
