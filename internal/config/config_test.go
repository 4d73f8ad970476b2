package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	require.Equal(t, ":8000", cfg.Server.Addr)
	require.Equal(t, "claude-agent", cfg.Agents["claude"].Command)
	require.Equal(t, "codex-agent", cfg.Agents["codex"].Command)
	require.Equal(t, 5*time.Minute, cfg.Orchestrator.SpeakTimeout)
	require.Equal(t, 3*time.Minute, cfg.Orchestrator.PrepareTimeout)
	require.Equal(t, time.Second, cfg.Orchestrator.TurnDelay)
	require.Equal(t, 2, cfg.Orchestrator.Lookahead)
	require.Equal(t, "ja", cfg.Language)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `server:
  addr: ":9001"
database_url: "postgres://localhost/discussion"
agents:
  claude:
    command: /usr/local/bin/claude-agent
    args: ["--verbose"]
orchestrator:
  speak_timeout: 90s
  lookahead: 3
language: en
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9001", cfg.Server.Addr)
	require.Equal(t, "postgres://localhost/discussion", cfg.DatabaseURL)
	require.Equal(t, "/usr/local/bin/claude-agent", cfg.Agents["claude"].Command)
	require.Equal(t, []string{"--verbose"}, cfg.Agents["claude"].Args)
	require.Equal(t, 90*time.Second, cfg.Orchestrator.SpeakTimeout)
	require.Equal(t, 3, cfg.Orchestrator.Lookahead)
	require.Equal(t, "en", cfg.Language)
	// Untouched keys keep defaults.
	require.Equal(t, time.Second, cfg.Orchestrator.TurnDelay)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8000", cfg.Server.Addr)
	require.Equal(t, "ja", cfg.Language)

	// Second write must not clobber.
	require.Error(t, WriteDefault(path))
}
