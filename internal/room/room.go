// Package room defines the domain model for discussion rooms: rooms,
// participants, and the append-only message log that forms the conversation
// history fed back into every agent prompt.
package room

import (
	"time"
)

// Status is the lifecycle state of a discussion room.
// Transitions are monotonic except Paused <-> Active.
type Status string

// Room statuses.
const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// IsValid returns true if s is a known room status.
func (s Status) IsValid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// MeetingType selects the discussion guidance template injected into prompts.
type MeetingType string

// Meeting types.
const (
	MeetingProgressCheck   MeetingType = "progress_check"
	MeetingSpecAlignment   MeetingType = "spec_alignment"
	MeetingTechnicalReview MeetingType = "technical_review"
	MeetingIssueResolution MeetingType = "issue_resolution"
	MeetingReview          MeetingType = "review"
	MeetingPlanning        MeetingType = "planning"
	MeetingReleaseOps      MeetingType = "release_ops"
	MeetingRetrospective   MeetingType = "retrospective"
	MeetingOther           MeetingType = "other"
)

// IsValid returns true if m is a known meeting type.
func (m MeetingType) IsValid() bool {
	switch m {
	case MeetingProgressCheck, MeetingSpecAlignment, MeetingTechnicalReview,
		MeetingIssueResolution, MeetingReview, MeetingPlanning,
		MeetingReleaseOps, MeetingRetrospective, MeetingOther:
		return true
	}
	return false
}

// AgentKind selects which external agent backend a participant invokes.
type AgentKind string

// Agent kinds.
const (
	AgentClaude AgentKind = "claude"
	AgentCodex  AgentKind = "codex"
)

// IsValid returns true if k is a known agent kind.
func (k AgentKind) IsValid() bool {
	return k == AgentClaude || k == AgentCodex
}

// MessageRole distinguishes who authored a message.
type MessageRole string

// Message roles.
const (
	RoleSystem      MessageRole = "system"
	RoleParticipant MessageRole = "participant"
	RoleModerator   MessageRole = "moderator"
)

// Room is a discussion room where multiple agents converse.
// Invariant: CurrentTurn <= MaxTurns while the room is Active.
type Room struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Topic              string      `json:"topic"`
	Status             Status      `json:"status"`
	MaxTurns           int         `json:"max_turns"`
	CurrentTurn        int         `json:"current_turn"`
	MeetingType        MeetingType `json:"meeting_type"`
	MeetingDescription string      `json:"meeting_description,omitempty"` // custom description for MeetingOther
	Language           string      `json:"language"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Participant is one agent seat in a room. Name is unique within the room
// and doubles as the mention key.
type Participant struct {
	ID     string `json:"id"`
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
	Color  string `json:"color,omitempty"`

	// Context injection from a prior agent session.
	ContextProjectDir string `json:"context_project_dir,omitempty"`
	ContextSessionID  string `json:"context_session_id,omitempty"`
	ContextSummary    string `json:"context_summary,omitempty"`

	IsFacilitator bool      `json:"is_facilitator"`
	AgentKind     AgentKind `json:"agent_kind"`

	IsSpeaking   bool `json:"is_speaking"`
	MessageCount int  `json:"message_count"`
}

// Message is one entry in a room's append-only conversation log.
// ParticipantID is empty for moderator and system messages.
type Message struct {
	ID            string      `json:"id"`
	RoomID        string      `json:"room_id"`
	ParticipantID string      `json:"participant_id,omitempty"`
	Role          MessageRole `json:"role"`
	Content       string      `json:"content"`
	TurnNumber    int         `json:"turn_number"`
	CreatedAt     time.Time   `json:"created_at"`
}
