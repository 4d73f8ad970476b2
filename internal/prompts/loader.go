// Package prompts holds the embedded meeting-type templates and the builders
// for every prompt the orchestrator hands to agent subprocesses: facilitator
// opening/interjection/designation/closing, participant nomination rules, and
// language instructions.
package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nogataka/cc-discussion/internal/room"
)

// MeetingPrompt is one parsed meeting-type template.
type MeetingPrompt struct {
	// Type matches the template filename without extension.
	Type room.MeetingType
	// Name is the display name from frontmatter.
	Name        string
	Description string
	// Body is the prompt text below the frontmatter.
	Body string
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

const frontmatterDelimiter = "---"

// Library indexes the built-in meeting prompts by type.
type Library struct {
	byType map[room.MeetingType]MeetingPrompt
}

// LoadBuiltin parses all embedded templates into a Library.
func LoadBuiltin() (*Library, error) {
	return loadFromFS(builtinTemplates, "templates")
}

func loadFromFS(fsys fs.FS, dir string) (*Library, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading template directory: %w", err)
	}

	lib := &Library{byType: make(map[room.MeetingType]MeetingPrompt)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		// Embedded filesystems always use forward slashes.
		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", entry.Name(), err)
		}

		mp, err := parseTemplate(string(content), entry.Name())
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", entry.Name(), err)
		}
		lib.byType[mp.Type] = mp
	}

	return lib, nil
}

func parseTemplate(content, filename string) (MeetingPrompt, error) {
	if !strings.HasPrefix(content, frontmatterDelimiter) {
		return MeetingPrompt{}, fmt.Errorf("content does not start with frontmatter delimiter")
	}

	rest := content[len(frontmatterDelimiter):]
	yamlContent, body, found := strings.Cut(rest, "\n"+frontmatterDelimiter)
	if !found {
		return MeetingPrompt{}, fmt.Errorf("no closing frontmatter delimiter found")
	}
	yamlContent = strings.TrimPrefix(yamlContent, "\n")

	var fm frontmatter
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(yamlContent)))
	if err := decoder.Decode(&fm); err != nil {
		return MeetingPrompt{}, fmt.Errorf("parsing YAML: %w", err)
	}
	if fm.Name == "" {
		return MeetingPrompt{}, fmt.Errorf("frontmatter missing required field: name")
	}

	mt := room.MeetingType(strings.TrimSuffix(filename, ".md"))
	if !mt.IsValid() {
		return MeetingPrompt{}, fmt.Errorf("template filename %q is not a meeting type", filename)
	}

	return MeetingPrompt{
		Type:        mt,
		Name:        fm.Name,
		Description: fm.Description,
		Body:        strings.TrimPrefix(body, "\n"),
	}, nil
}

// Get returns the template for mt, falling back to MeetingOther for unknown
// types so callers always get a usable prompt.
func (l *Library) Get(mt room.MeetingType) MeetingPrompt {
	if mp, ok := l.byType[mt]; ok {
		return mp
	}
	return l.byType[room.MeetingOther]
}

// TypePrompt renders the meeting-type section of an agent prompt. For the
// "other" type the room's free-form description is substituted into the body.
func (l *Library) TypePrompt(mt room.MeetingType, customDescription string) string {
	mp := l.Get(mt)
	body := mp.Body
	if mp.Type == room.MeetingOther {
		body = strings.ReplaceAll(body, "{custom_description}", customDescription)
	}
	return body
}

// TypeName returns the display name of a meeting type.
func (l *Library) TypeName(mt room.MeetingType) string {
	return l.Get(mt).Name
}

// All returns every loaded template, for listing endpoints.
func (l *Library) All() []MeetingPrompt {
	out := make([]MeetingPrompt, 0, len(l.byType))
	for _, mp := range l.byType {
		out = append(out, mp)
	}
	return out
}
