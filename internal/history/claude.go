package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nogataka/cc-discussion/internal/log"
)

// Project is a directory of recorded sessions for one workspace.
type Project struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	LastModifiedAt time.Time `json:"last_modified_at"`
	SessionCount   int       `json:"session_count,omitempty"`
}

// Session is one recorded conversation.
type Session struct {
	ID               string    `json:"id"`
	FilePath         string    `json:"jsonl_file_path"`
	LastModifiedAt   time.Time `json:"last_modified_at"`
	MessageCount     int       `json:"message_count"`
	FirstUserMessage string    `json:"first_user_message,omitempty"`
}

// Message is one turn extracted from a session log.
type Message struct {
	Type        string // "user", "assistant", "system", "summary"
	UUID        string
	Timestamp   string
	Text        string
	IsSidechain bool
}

// ClaudeReader lists and loads claude CLI session logs.
type ClaudeReader struct {
	// ProjectsDir overrides the default ~/.claude/projects, used in tests.
	ProjectsDir string
}

func (r *ClaudeReader) projectsDir() string {
	if r.ProjectsDir != "" {
		return r.ProjectsDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude", "projects")
}

// isRegularSessionFile excludes sidechain agent logs from session listings.
func isRegularSessionFile(name string) bool {
	return strings.HasSuffix(name, ".jsonl") && !strings.HasPrefix(name, "agent-")
}

// claudeEntry is the superset of JSONL line shapes we care about. Content can
// be a plain string or a list of typed blocks, hence the RawMessage fields.
type claudeEntry struct {
	Type        string          `json:"type"`
	UUID        string          `json:"uuid"`
	Timestamp   string          `json:"timestamp"`
	IsSidechain bool            `json:"isSidechain"`
	Cwd         string          `json:"cwd"`
	Summary     string          `json:"summary"`
	Content     json.RawMessage `json:"content"`
	Message     struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking"`
}

// blockText flattens string-or-block-list content into display text.
func blockText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		var str string
		if err := json.Unmarshal(b, &str); err == nil {
			parts = append(parts, str)
			continue
		}
		var cb contentBlock
		if err := json.Unmarshal(b, &cb); err != nil {
			continue
		}
		switch cb.Type {
		case "text":
			parts = append(parts, cb.Text)
		case "thinking":
			parts = append(parts, "<thinking>"+cb.Thinking+"</thinking>")
		}
	}
	return strings.Join(parts, "\n")
}

// scanJSONL calls fn for each decodable line; malformed lines are skipped.
func scanJSONL(path string, fn func(claudeEntry) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry claudeEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if !fn(entry) {
			break
		}
	}
	return scanner.Err()
}

// projectPath recovers the workspace path for a project directory by reading
// cwd from the oldest session log. The directory name is a lossy fallback.
func (r *ClaudeReader) projectPath(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return filepath.Base(dir)
	}

	type candidate struct {
		path  string
		mtime time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || !isRegularSessionFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{filepath.Join(dir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })

	for _, f := range files {
		var cwd string
		_ = scanJSONL(f.path, func(entry claudeEntry) bool {
			if entry.Cwd != "" {
				cwd = entry.Cwd
				return false
			}
			return true
		})
		if cwd != "" {
			return cwd
		}
	}
	return filepath.Base(dir)
}

// ProjectWorkdir resolves the original workspace path for an encoded project
// ID. Callers should verify the path still exists before using it as an
// agent working directory.
func (r *ClaudeReader) ProjectWorkdir(projectID string) (string, error) {
	dir, err := DecodePath(projectID)
	if err != nil {
		return "", err
	}
	return r.projectPath(dir), nil
}

// ListProjects returns all recorded projects, newest first. A missing
// projects directory yields an empty list, not an error.
func (r *ClaudeReader) ListProjects() ([]Project, error) {
	dir := r.projectsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read projects dir: %w", err)
	}

	var projects []Project
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		full := filepath.Join(dir, e.Name())
		modified := time.Now()
		if info, err := e.Info(); err == nil {
			modified = info.ModTime()
		}
		path := r.projectPath(full)
		projects = append(projects, Project{
			ID:             EncodePath(full),
			Name:           filepath.Base(path),
			Path:           path,
			LastModifiedAt: modified,
		})
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].LastModifiedAt.After(projects[j].LastModifiedAt)
	})
	return projects, nil
}

// ListSessions returns up to limit sessions for a project, newest first.
func (r *ClaudeReader) ListSessions(projectID string, limit int) ([]Session, error) {
	dir, err := DecodePath(projectID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read project dir: %w", err)
	}

	var sessions []Session
	for _, e := range entries {
		if e.IsDir() || !isRegularSessionFile(e.Name()) {
			continue
		}
		full := filepath.Join(dir, e.Name())
		modified := time.Now()
		if info, err := e.Info(); err == nil {
			modified = info.ModTime()
		}

		var count int
		var firstUser string
		if err := scanJSONL(full, func(entry claudeEntry) bool {
			if entry.Type == "user" || entry.Type == "assistant" {
				count++
			}
			if entry.Type == "user" && firstUser == "" {
				firstUser = truncateRunes(blockText(entry.Message.Content), 300)
			}
			return true
		}); err != nil {
			log.Warn(log.CatHistory, "skipping unreadable session", "path", full, "error", err)
			continue
		}

		sessions = append(sessions, Session{
			ID:               EncodePath(full),
			FilePath:         full,
			LastModifiedAt:   modified,
			MessageCount:     count,
			FirstUserMessage: firstUser,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastModifiedAt.After(sessions[j].LastModifiedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// LoadSession reads all conversation messages from a session log.
func (r *ClaudeReader) LoadSession(sessionID string) ([]Message, error) {
	path, err := DecodePath(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}

	var messages []Message
	err = scanJSONL(path, func(entry claudeEntry) bool {
		var text string
		switch entry.Type {
		case "summary":
			text = entry.Summary
		case "system":
			text = blockText(entry.Content)
		case "user", "assistant":
			text = blockText(entry.Message.Content)
		default:
			return true
		}
		messages = append(messages, Message{
			Type:        entry.Type,
			UUID:        entry.UUID,
			Timestamp:   entry.Timestamp,
			Text:        text,
			IsSidechain: entry.IsSidechain,
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

const (
	// DefaultContextChars bounds the formatted context injected into an
	// agent's system prompt.
	DefaultContextChars = 50000

	perMessageCap = 3000
)

// FormatContext renders messages as markdown for system-prompt injection,
// capping individual messages and stopping with a truncation marker once
// maxChars is reached. Sidechain messages are omitted.
func FormatContext(messages []Message, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}

	var b strings.Builder
	for _, msg := range messages {
		if msg.IsSidechain {
			continue
		}
		label := "Claude"
		if msg.Type == "user" {
			label = "Human"
		}
		line := fmt.Sprintf("**%s**: %s\n\n", label, truncateRunes(msg.Text, perMessageCap))
		if b.Len()+len(line) > maxChars {
			b.WriteString("... [earlier context truncated] ...")
			break
		}
		b.WriteString(line)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
