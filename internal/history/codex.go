package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nogataka/cc-discussion/internal/log"
)

// CodexReader lists and loads codex CLI session logs. Unlike claude logs,
// codex sessions are grouped by the cwd recorded in each file's session_meta
// header rather than by directory.
type CodexReader struct {
	// SessionsDir overrides the default ~/.codex/sessions, used in tests.
	SessionsDir string
}

func (r *CodexReader) sessionsDir() string {
	if r.SessionsDir != "" {
		return r.SessionsDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".codex", "sessions")
}

type codexEntry struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Cwd     string          `json:"cwd"`
	ID      string          `json:"id"`
}

type codexPayload struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Name    string          `json:"name"`
	Text    string          `json:"text"`
	Content json.RawMessage `json:"content"`
	Cwd     string          `json:"cwd"`
	ID      string          `json:"id"`
}

type codexContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// sessionHeader reads session metadata from the first line of a codex log.
func sessionHeader(path string) (codexPayload, bool) {
	var header codexPayload

	f, err := os.Open(path)
	if err != nil {
		return header, false
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	n, _ := f.Read(buf)
	line, _, _ := strings.Cut(string(buf[:n]), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return header, false
	}

	var entry codexEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return header, false
	}
	if entry.Type == "session_meta" {
		if err := json.Unmarshal(entry.Payload, &header); err != nil {
			return header, false
		}
		return header, true
	}
	// Some files carry the metadata inline on the first entry.
	if entry.Cwd != "" {
		header.Cwd = entry.Cwd
		header.ID = entry.ID
		return header, true
	}
	return header, false
}

func (r *CodexReader) walkSessions(fn func(path string, header codexPayload, mtime time.Time)) error {
	root := r.sessionsDir()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable subtrees
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		header, ok := sessionHeader(path)
		if !ok || header.Cwd == "" {
			return nil
		}
		mtime := time.Now()
		if info, err := d.Info(); err == nil {
			mtime = info.ModTime()
		}
		fn(path, header, mtime)
		return nil
	})
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListProjects groups all sessions by workspace, newest first.
func (r *CodexReader) ListProjects() ([]Project, error) {
	byPath := make(map[string]*Project)
	err := r.walkSessions(func(_ string, header codexPayload, mtime time.Time) {
		p, ok := byPath[header.Cwd]
		if !ok {
			p = &Project{
				ID:             EncodePath(header.Cwd),
				Name:           filepath.Base(header.Cwd),
				Path:           header.Cwd,
				LastModifiedAt: mtime,
			}
			byPath[header.Cwd] = p
		}
		p.SessionCount++
		if mtime.After(p.LastModifiedAt) {
			p.LastModifiedAt = mtime
		}
	})
	if err != nil {
		return nil, fmt.Errorf("walk codex sessions: %w", err)
	}

	projects := make([]Project, 0, len(byPath))
	for _, p := range byPath {
		projects = append(projects, *p)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].LastModifiedAt.After(projects[j].LastModifiedAt)
	})
	return projects, nil
}

// ListSessions returns all sessions whose recorded cwd matches projectID.
func (r *CodexReader) ListSessions(projectID string) ([]Session, error) {
	workspace, err := DecodePath(projectID)
	if err != nil {
		return nil, err
	}

	var sessions []Session
	walkErr := r.walkSessions(func(path string, header codexPayload, mtime time.Time) {
		if header.Cwd != workspace {
			return
		}
		count := 0
		firstUser := ""
		if err := forEachCodexEntry(path, func(entry codexEntry) {
			count++
			if firstUser != "" {
				return
			}
			firstUser = truncateRunes(codexUserText(entry), 200)
		}); err != nil {
			log.Warn(log.CatHistory, "skipping unreadable codex session", "path", path, "error", err)
			return
		}
		sessions = append(sessions, Session{
			ID:               EncodePath(path),
			FilePath:         path,
			LastModifiedAt:   mtime,
			MessageCount:     count,
			FirstUserMessage: firstUser,
		})
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk codex sessions: %w", walkErr)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastModifiedAt.After(sessions[j].LastModifiedAt)
	})
	return sessions, nil
}

// SessionContext formats a codex session for system-prompt injection. When
// the transcript exceeds maxChars the oldest part is dropped, resuming at a
// message boundary.
func (r *CodexReader) SessionContext(sessionID string, maxChars int) (string, error) {
	path, err := DecodePath(sessionID)
	if err != nil {
		return "", err
	}
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}

	var lines []string
	if err := forEachCodexEntry(path, func(entry codexEntry) {
		if formatted := formatCodexEntry(entry); formatted != "" {
			lines = append(lines, formatted)
		}
	}); err != nil {
		return "", err
	}

	context := strings.Join(lines, "\n")
	if len(context) > maxChars {
		context = context[len(context)-maxChars:]
		if idx := strings.Index(context, "\n["); idx > 0 {
			context = context[idx+1:]
		}
	}
	return context, nil
}

func forEachCodexEntry(path string, fn func(codexEntry)) error {
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
		var entry codexEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		fn(entry)
	}
	return scanner.Err()
}

func codexUserText(entry codexEntry) string {
	var payload codexPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return ""
	}
	switch entry.Type {
	case "response_item":
		if payload.Role == "user" {
			return codexText(payload.Content, "input_text")
		}
	case "event_msg":
		if payload.Type == "user_message" {
			return payload.Text
		}
	}
	return ""
}

func codexText(raw json.RawMessage, wantType string) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []codexContentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}
	var texts []string
	for _, item := range items {
		if item.Type == wantType {
			texts = append(texts, item.Text)
		}
	}
	return strings.Join(texts, " ")
}

func formatCodexEntry(entry codexEntry) string {
	var payload codexPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return ""
	}

	switch entry.Type {
	case "response_item":
		switch {
		case payload.Role == "user":
			if text := codexText(payload.Content, "input_text"); text != "" {
				return "[User]: " + text
			}
		case payload.Role == "assistant":
			if text := codexText(payload.Content, "output_text"); text != "" {
				return "[Assistant]: " + text
			}
		case payload.Type == "function_call":
			name := payload.Name
			if name == "" {
				name = "unknown"
			}
			return "[Tool Call]: " + name
		}
	case "event_msg":
		switch payload.Type {
		case "user_message":
			return "[User]: " + payload.Text
		case "agent_message":
			return "[Assistant]: " + payload.Text
		}
	}
	return ""
}
