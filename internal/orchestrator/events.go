// Package orchestrator drives chain-driven multi-agent discussions: the
// facilitator opens and nominates, each speaker nominates the next via
// @mention, and the facilitator designates when the chain breaks. A bounded
// background queue carries preparation progress from upcoming speakers into
// the outward event stream.
package orchestrator

import (
	"encoding/json"
	"fmt"
)

// Kind tags the outward event types broadcast to websocket clients and the
// watch TUI.
type Kind string

// Outward event kinds.
const (
	KindDiscussionStart     Kind = "discussion_start"
	KindTurnStart           Kind = "turn_start"
	KindText                Kind = "text"
	KindToolUse             Kind = "tool_use"
	KindBackgroundActivity  Kind = "background_activity"
	KindPreparationStart    Kind = "preparation_start"
	KindPreparationComplete Kind = "preparation_complete"
	KindTurnComplete        Kind = "turn_complete"
	KindWaitingForModerator Kind = "waiting_for_moderator"
	KindDiscussionPaused    Kind = "discussion_paused"
	KindDiscussionComplete  Kind = "discussion_complete"
	KindModeratorMessage    Kind = "moderator_message"
	KindError               Kind = "error"
)

// Event is one element of the outward discussion stream. Every concrete
// event marshals to a JSON object carrying its kind in a "type" field.
type Event interface {
	EventKind() Kind
}

// DiscussionStart opens the stream for one discussion run.
type DiscussionStart struct {
	RoomID         string `json:"room_id"`
	MaxTurns       int    `json:"max_turns"`
	HasFacilitator bool   `json:"has_facilitator"`
}

// TurnStart announces that a participant is about to speak. The facilitator
// flags distinguish the special facilitator turns from regular ones.
type TurnStart struct {
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	TurnNumber      int    `json:"turn_number"`
	IsFacilitator   bool   `json:"is_facilitator,omitempty"`
	IsClosing       bool   `json:"is_closing,omitempty"`
	IsInterjection  bool   `json:"is_interjection,omitempty"`
	IsDesignation   bool   `json:"is_designation,omitempty"`
}

// Text is a streamed chunk of the current speaker's response.
type Text struct {
	ParticipantID string `json:"participant_id"`
	Content       string `json:"content"`
}

// ToolUse reports a tool invocation by the current speaker.
type ToolUse struct {
	ParticipantID string `json:"participant_id"`
	Tool          string `json:"tool"`
	Input         string `json:"input,omitempty"`
}

// BackgroundActivity reports tool activity from a participant preparing in
// the background while someone else holds the floor.
type BackgroundActivity struct {
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	Activity        string `json:"activity"`
}

// PreparationStart announces that background preparation began.
type PreparationStart struct {
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
}

// PreparationComplete carries a preview of the finished preparation notes.
type PreparationComplete struct {
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	NotesPreview    string `json:"notes_preview"`
}

// TurnComplete closes a turn; MessageID references the persisted message.
type TurnComplete struct {
	ParticipantID  string `json:"participant_id"`
	MessageID      string `json:"message_id"`
	TurnNumber     int    `json:"turn_number"`
	IsFacilitator  bool   `json:"is_facilitator,omitempty"`
	IsClosing      bool   `json:"is_closing,omitempty"`
	IsInterjection bool   `json:"is_interjection,omitempty"`
	IsDesignation  bool   `json:"is_designation,omitempty"`
}

// WaitingForModerator signals that the discussion paused awaiting a human
// moderator reply.
type WaitingForModerator struct {
	Turn    int    `json:"turn"`
	Message string `json:"message"`
}

// DiscussionPaused signals a pause taken at a turn boundary.
type DiscussionPaused struct {
	Turn int `json:"turn"`
}

// DiscussionComplete closes the stream after the facilitator's closing turn.
type DiscussionComplete struct {
	TotalTurns int `json:"total_turns"`
}

// ModeratorMessage is a human moderator interjection injected via Moderate.
type ModeratorMessage struct {
	MessageID             string   `json:"message_id"`
	Content               string   `json:"content"`
	TurnNumber            int      `json:"turn_number"`
	MentionedParticipants []string `json:"mentioned_participants"`
}

// ErrorEvent reports a recoverable or fatal orchestration error.
// ParticipantID is set when the error belongs to one speaker's turn.
type ErrorEvent struct {
	ParticipantID string `json:"participant_id,omitempty"`
	Content       string `json:"content"`
}

// EventKind implementations.
func (DiscussionStart) EventKind() Kind     { return KindDiscussionStart }
func (TurnStart) EventKind() Kind           { return KindTurnStart }
func (Text) EventKind() Kind                { return KindText }
func (ToolUse) EventKind() Kind             { return KindToolUse }
func (BackgroundActivity) EventKind() Kind  { return KindBackgroundActivity }
func (PreparationStart) EventKind() Kind    { return KindPreparationStart }
func (PreparationComplete) EventKind() Kind { return KindPreparationComplete }
func (TurnComplete) EventKind() Kind        { return KindTurnComplete }
func (WaitingForModerator) EventKind() Kind { return KindWaitingForModerator }
func (DiscussionPaused) EventKind() Kind    { return KindDiscussionPaused }
func (DiscussionComplete) EventKind() Kind  { return KindDiscussionComplete }
func (ModeratorMessage) EventKind() Kind    { return KindModeratorMessage }
func (ErrorEvent) EventKind() Kind          { return KindError }

// MarshalEvent serializes e as a flat JSON object with its kind under "type".
func MarshalEvent(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	tag, err := json.Marshal(e.EventKind())
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// UnmarshalEvent decodes a JSON object produced by MarshalEvent back into its
// concrete event type.
func UnmarshalEvent(data []byte) (Event, error) {
	var tag struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var (
		e   Event
		err error
	)
	switch tag.Type {
	case KindDiscussionStart:
		e, err = decodeEvent[DiscussionStart](data)
	case KindTurnStart:
		e, err = decodeEvent[TurnStart](data)
	case KindText:
		e, err = decodeEvent[Text](data)
	case KindToolUse:
		e, err = decodeEvent[ToolUse](data)
	case KindBackgroundActivity:
		e, err = decodeEvent[BackgroundActivity](data)
	case KindPreparationStart:
		e, err = decodeEvent[PreparationStart](data)
	case KindPreparationComplete:
		e, err = decodeEvent[PreparationComplete](data)
	case KindTurnComplete:
		e, err = decodeEvent[TurnComplete](data)
	case KindWaitingForModerator:
		e, err = decodeEvent[WaitingForModerator](data)
	case KindDiscussionPaused:
		e, err = decodeEvent[DiscussionPaused](data)
	case KindDiscussionComplete:
		e, err = decodeEvent[DiscussionComplete](data)
	case KindModeratorMessage:
		e, err = decodeEvent[ModeratorMessage](data)
	case KindError:
		e, err = decodeEvent[ErrorEvent](data)
	default:
		return nil, fmt.Errorf("unknown event type %q", tag.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", tag.Type, err)
	}
	return e, nil
}

func decodeEvent[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
