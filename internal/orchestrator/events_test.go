package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalEvent_CarriesTypeTag(t *testing.T) {
	data, err := MarshalEvent(TurnStart{
		ParticipantID:   "p1",
		ParticipantName: "Alice",
		TurnNumber:      3,
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "turn_start", raw["type"])
	assert.Equal(t, "Alice", raw["participant_name"])
	assert.Equal(t, float64(3), raw["turn_number"])
	// Unset facilitator flags are omitted.
	assert.NotContains(t, raw, "is_closing")
}

func TestUnmarshalEvent_RoundTrips(t *testing.T) {
	events := []Event{
		DiscussionStart{RoomID: "r1", MaxTurns: 20, HasFacilitator: true},
		TurnStart{ParticipantID: "p1", ParticipantName: "進行役", TurnNumber: 5, IsFacilitator: true, IsDesignation: true},
		Text{ParticipantID: "p2", Content: "こんにちは"},
		ToolUse{ParticipantID: "p2", Tool: "Read", Input: "main.go"},
		PreparationComplete{ParticipantID: "p3", ParticipantName: "Bob", NotesPreview: "notes..."},
		WaitingForModerator{Turn: 4, Message: "返答をお願いします。"},
		ModeratorMessage{MessageID: "m1", Content: "続けてください", TurnNumber: 4, MentionedParticipants: []string{"p2"}},
		DiscussionComplete{TotalTurns: 12},
		ErrorEvent{ParticipantID: "p1", Content: "boom"},
	}

	for _, original := range events {
		t.Run(string(original.EventKind()), func(t *testing.T) {
			data, err := MarshalEvent(original)
			require.NoError(t, err)

			decoded, err := UnmarshalEvent(data)
			require.NoError(t, err)
			assert.Equal(t, original, decoded)
		})
	}
}

func TestUnmarshalEvent_RejectsUnknownType(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{"type":"mystery"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")

	_, err = UnmarshalEvent([]byte(`not json`))
	require.Error(t, err)
}
