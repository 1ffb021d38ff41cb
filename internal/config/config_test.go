package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "projectos", cfg.Name)
	assert.Equal(t, "America/Chicago", cfg.Time.DefaultTimezone)
	assert.Equal(t, 3, cfg.Memory.DistillEveryNTurns)
	assert.Equal(t, 30, cfg.Memory.FactsCompactMax)
	assert.Equal(t, 2400, cfg.Memory.FactsCompactChars)
	assert.Equal(t, 8, cfg.Memory.MaxTimeAnchors)
	assert.Equal(t, 24, cfg.Memory.ForbiddenSubstrMax)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Memory, cfg.Memory)
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "gemini"
	cfg.Server.ListenAddr = ":9000"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", loaded.LLM.Provider)
	assert.Equal(t, ":9000", loaded.Server.ListenAddr)
}

func TestEnvOverrides(t *testing.T) {
	os.Setenv("PROJECTOS_LLM_MODEL", "override-model")
	defer os.Unsetenv("PROJECTOS_LLM_MODEL")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "override-model", cfg.LLM.Model)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 2*time.Minute, ParseDuration("2m", time.Second))
	assert.Equal(t, time.Second, ParseDuration("", time.Second))
	assert.Equal(t, time.Second, ParseDuration("garbage", time.Second))
}
