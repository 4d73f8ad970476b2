// Package settings persists per-user runtime settings, kept separate from the
// static config file so the server can update them on behalf of the UI.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/nogataka/cc-discussion/internal/log"
)

// ToolPermissionMode controls which tools speaking agents may use.
type ToolPermissionMode string

const (
	// ModeReadOnly restricts agents to non-mutating tools.
	ModeReadOnly ToolPermissionMode = "read_only"
	// ModeSystemDefault defers to each agent CLI's own permission config.
	ModeSystemDefault ToolPermissionMode = "system_default"
)

// IsValid reports whether m is a known mode.
func (m ToolPermissionMode) IsValid() bool {
	return m == ModeReadOnly || m == ModeSystemDefault
}

// Settings is the persisted settings document.
type Settings struct {
	ToolPermissionMode ToolPermissionMode `json:"tool_permission_mode" mapstructure:"tool_permission_mode"`
}

// DefaultPath returns the standard settings location under the user's home.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cc-discussion", "settings.json")
}

// Store reads and writes settings with a process-wide lock so concurrent
// WebSocket handlers cannot interleave writes.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store backed by path, or DefaultPath when empty.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

// Load returns the current settings, falling back to defaults when the file
// is absent or unreadable.
func (s *Store) Load() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() Settings {
	defaults := Settings{ToolPermissionMode: ModeReadOnly}

	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			log.Warn(log.CatConfig, "settings unreadable, using defaults", "path", s.path, "error", err)
		}
		return defaults
	}

	var loaded Settings
	if err := v.Unmarshal(&loaded); err != nil {
		log.Warn(log.CatConfig, "settings malformed, using defaults", "path", s.path, "error", err)
		return defaults
	}
	if !loaded.ToolPermissionMode.IsValid() {
		loaded.ToolPermissionMode = defaults.ToolPermissionMode
	}
	return loaded
}

// SetToolPermissionMode validates and persists a new mode, returning the
// resulting settings.
func (s *Store) SetToolPermissionMode(mode ToolPermissionMode) (Settings, error) {
	if !mode.IsValid() {
		return Settings{}, fmt.Errorf("invalid tool permission mode %q", mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.loadLocked()
	current.ToolPermissionMode = mode

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return Settings{}, fmt.Errorf("create settings dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	v.Set("tool_permission_mode", string(current.ToolPermissionMode))
	if err := v.WriteConfig(); err != nil {
		return Settings{}, fmt.Errorf("write settings: %w", err)
	}

	log.Info(log.CatConfig, "tool permission mode updated", "mode", mode)
	return current, nil
}
