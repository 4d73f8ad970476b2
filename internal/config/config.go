// Package config loads application configuration from YAML via viper, with
// environment overrides and defaults tuned for local development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AgentConfig describes how to invoke one agent CLI kind.
type AgentConfig struct {
	// Command is the executable launched per call, e.g. "claude-agent".
	Command string `mapstructure:"command"`
	// Args are prepended before the per-call flags.
	Args []string `mapstructure:"args"`
}

// OrchestratorConfig holds the turn-loop tuning knobs.
type OrchestratorConfig struct {
	// SpeakTimeout bounds a single speaking subprocess.
	SpeakTimeout time.Duration `mapstructure:"speak_timeout"`
	// PrepareTimeout bounds a background preparation subprocess.
	PrepareTimeout time.Duration `mapstructure:"prepare_timeout"`
	// TurnDelay is the pause between consecutive turns.
	TurnDelay time.Duration `mapstructure:"turn_delay"`
	// Lookahead is how many upcoming queued speakers to prepare in advance.
	Lookahead int `mapstructure:"lookahead"`
}

// ServerConfig holds the HTTP/WebSocket server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the root application configuration.
type Config struct {
	Server       ServerConfig           `mapstructure:"server"`
	DatabaseURL  string                 `mapstructure:"database_url"`
	Agents       map[string]AgentConfig `mapstructure:"agents"`
	Orchestrator OrchestratorConfig     `mapstructure:"orchestrator"`
	// Language is the default discussion language ("ja" or "en").
	Language string `mapstructure:"language"`
	LogPath  string `mapstructure:"log_path"`
}

// DefaultPath returns the standard config location under the user's home.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cc-discussion", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("database_url", "")
	v.SetDefault("agents.claude.command", "claude-agent")
	v.SetDefault("agents.codex.command", "codex-agent")
	v.SetDefault("orchestrator.speak_timeout", 5*time.Minute)
	v.SetDefault("orchestrator.prepare_timeout", 3*time.Minute)
	v.SetDefault("orchestrator.turn_delay", time.Second)
	v.SetDefault("orchestrator.lookahead", 2)
	v.SetDefault("language", "ja")
	v.SetDefault("log_path", "")
}

// localPath is the project-local config location, preferred over DefaultPath
// when it exists.
const localPath = ".cc-discussion/config.yaml"

// Load reads configuration from path. An empty path prefers a project-local
// .cc-discussion/config.yaml, then falls back to DefaultPath; a missing file
// yields defaults alone. Environment variables prefixed with CC_DISCUSSION_
// override file values (e.g. CC_DISCUSSION_DATABASE_URL).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CC_DISCUSSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if _, err := os.Stat(localPath); err == nil {
			path = localPath
		} else {
			path = DefaultPath()
		}
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault creates a commented starter config at path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

const defaultConfigYAML = `# cc-discussion configuration
server:
  addr: ":8000"

# Postgres connection string. Leave empty to use the in-memory store.
database_url: ""

agents:
  claude:
    command: claude-agent
  codex:
    command: codex-agent

orchestrator:
  speak_timeout: 5m
  prepare_timeout: 3m
  turn_delay: 1s
  lookahead: 2

# Default discussion language: ja or en.
language: ja

# Log file location. Empty uses ~/.cc-discussion/cc-discussion.log.
log_path: ""
`
