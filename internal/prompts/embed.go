package prompts

import "embed"

// builtinTemplates embeds the meeting-type prompt templates.
//
//go:embed templates/*.md
var builtinTemplates embed.FS
