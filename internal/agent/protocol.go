// Package agent wraps external agent CLI invocations as subprocesses speaking
// a line-delimited JSON protocol, and exposes a per-participant controller
// with exclusive prepare and speak slots.
package agent

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies one protocol event from an agent subprocess.
type EventType string

// Protocol event types.
const (
	EventText             EventType = "text"
	EventToolUse          EventType = "tool_use"
	EventDebug            EventType = "debug"
	EventResponseComplete EventType = "response_complete"
	EventError            EventType = "error"
)

// Event is one line of agent subprocess output. text events carry incremental
// content; response_complete is terminal and its FullContent is authoritative
// over concatenated text chunks.
type Event struct {
	Type        EventType `json:"type"`
	Content     string    `json:"content,omitempty"`
	Tool        string    `json:"tool,omitempty"`
	Input       string    `json:"input,omitempty"`
	FullContent string    `json:"full_content,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	Timestamp   time.Time `json:"-"`
}

// ParseEvent decodes a single protocol line.
func ParseEvent(line []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(line, &event); err != nil {
		return Event{}, fmt.Errorf("parse agent event: %w", err)
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("agent event missing type")
	}
	return event, nil
}

// Mode selects what an invocation produces.
type Mode string

// Invocation modes.
const (
	ModePrepare Mode = "prepare"
	ModeSpeak   Mode = "speak"
)

// DataPayload is the per-invocation context written to a transient JSON file
// and handed to the subprocess via --data-file.
type DataPayload struct {
	SystemPrompt             string `json:"system_prompt"`
	RoomTopic                string `json:"room_topic"`
	ContextText              string `json:"context_text"`
	ConversationHistory      string `json:"conversation_history"`
	PreparationNotes         string `json:"preparation_notes"`
	MeetingType              string `json:"meeting_type"`
	CustomMeetingDescription string `json:"custom_meeting_description"`
	Language                 string `json:"language"`
}
