package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nogataka/cc-discussion/internal/agent"
	"github.com/nogataka/cc-discussion/internal/config"
	"github.com/nogataka/cc-discussion/internal/orchestrator"
	"github.com/nogataka/cc-discussion/internal/prompts"
	"github.com/nogataka/cc-discussion/internal/repository"
	"github.com/nogataka/cc-discussion/internal/room"
	"github.com/nogataka/cc-discussion/internal/settings"
)

// doneHandle is a pre-finished invocation handle.
type doneHandle struct {
	events chan agent.Event
	errs   chan error

	mu     sync.Mutex
	status agent.ProcessStatus
}

func newDoneHandle(events []agent.Event) *doneHandle {
	h := &doneHandle{
		events: make(chan agent.Event, len(events)+1),
		errs:   make(chan error, 1),
		status: agent.StatusCompleted,
	}
	for _, e := range events {
		h.events <- e
	}
	close(h.events)
	close(h.errs)
	return h
}

func (h *doneHandle) Events() <-chan agent.Event { return h.events }
func (h *doneHandle) Errors() <-chan error       { return h.errs }
func (h *doneHandle) Status() agent.ProcessStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}
func (h *doneHandle) Cancel() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.status.IsTerminal() {
		h.status = agent.StatusCancelled
	}
	return nil
}
func (h *doneHandle) Wait() error { return nil }

// stubRunner serves canned speak responses per participant, in order.
type stubRunner struct {
	mu    sync.Mutex
	speak map[string][]string
}

func newStubRunner() *stubRunner {
	return &stubRunner{speak: make(map[string][]string)}
}

func (r *stubRunner) say(name string, responses ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speak[name] = append(r.speak[name], responses...)
}

func (r *stubRunner) Start(_ context.Context, cfg agent.Config) (agent.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.Mode == agent.ModePrepare {
		return newDoneHandle([]agent.Event{{Type: agent.EventText, Content: "準備メモ"}}), nil
	}

	text := "特にありません。"
	if queue := r.speak[cfg.ParticipantName]; len(queue) > 0 {
		text = queue[0]
		r.speak[cfg.ParticipantName] = queue[1:]
	}
	return newDoneHandle([]agent.Event{
		{Type: agent.EventText, Content: text},
		{Type: agent.EventResponseComplete, FullContent: text},
	}), nil
}

type testEnv struct {
	srv    *Server
	store  *repository.Memory
	runner *stubRunner
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repository.NewMemory()
	library, err := prompts.LoadBuiltin()
	require.NoError(t, err)

	cfg := config.Config{
		Agents: map[string]config.AgentConfig{
			"claude": {Command: "claude-agent"},
			"codex":  {Command: "codex-agent"},
		},
		Orchestrator: config.OrchestratorConfig{
			TurnDelay: 10 * time.Millisecond,
			Lookahead: 2,
		},
		Language: "ja",
	}
	st := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))

	runner := newStubRunner()
	svc := orchestrator.NewService(store, library, cfg, st)
	svc.SetRunner(runner)

	srv := New(store, svc, cfg, st)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		svc.Shutdown()
		srv.Hub().Close()
		ts.Close()
	})
	return &testEnv{srv: srv, store: store, runner: runner, http: ts}
}

func (e *testEnv) seedRoom(t *testing.T, maxTurns int) (room.Room, map[string]room.Participant) {
	t.Helper()
	ctx := context.Background()

	rm, err := e.store.CreateRoom(ctx, room.Room{
		Name:        "設計レビュー",
		Topic:       "キャッシュ層の設計",
		Status:      room.StatusWaiting,
		MaxTurns:    maxTurns,
		MeetingType: room.MeetingTechnicalReview,
		Language:    "ja",
	})
	require.NoError(t, err)

	seats := make(map[string]room.Participant)
	for _, seat := range []room.Participant{
		{RoomID: rm.ID, Name: "Facilitator", IsFacilitator: true, AgentKind: room.AgentClaude},
		{RoomID: rm.ID, Name: "Alice", Role: "backend", AgentKind: room.AgentClaude},
		{RoomID: rm.ID, Name: "Bob", Role: "frontend", AgentKind: room.AgentCodex},
	} {
		p, err := e.store.AddParticipant(ctx, seat)
		require.NoError(t, err)
		seats[p.Name] = p
	}
	return rm, seats
}

func (e *testEnv) getJSON(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.http.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]string
	resp := env.getJSON(t, "/api/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestAvailableAgents(t *testing.T) {
	env := newTestEnv(t)
	env.srv.lookPath = func(cmd string) (string, error) {
		if cmd == "claude-agent" {
			return "/usr/local/bin/claude-agent", nil
		}
		return "", errors.New("not found")
	}

	var body struct {
		AvailableAgents []string `json:"available_agents"`
	}
	resp := env.getJSON(t, "/api/config/available-agents", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"claude"}, body.AvailableAgents)
}

func TestCreateRoom(t *testing.T) {
	env := newTestEnv(t)

	t.Run("applies defaults", func(t *testing.T) {
		var created roomResponse
		resp := env.doJSON(t, http.MethodPost, "/api/rooms", jsonObj{
			"name":         "週次レビュー",
			"topic":        "リリース準備",
			"meeting_type": "bogus-type",
			"participants": []jsonObj{
				{"name": "進行役", "is_facilitator": true},
				{"name": "Alice", "agent_type": "claude"},
			},
		}, &created)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		assert.Equal(t, 20, created.MaxTurns)
		assert.Equal(t, "technical_review", created.MeetingType)
		assert.Equal(t, "ja", created.Language)
		assert.Equal(t, 2, created.ParticipantCount)
		assert.Equal(t, "waiting", created.Status)

		participants, err := env.store.ListParticipants(context.Background(), created.ID)
		require.NoError(t, err)
		require.Len(t, participants, 2)
		for _, p := range participants {
			assert.Equal(t, "#6366f1", p.Color)
			assert.Equal(t, room.AgentClaude, p.AgentKind)
		}
	})

	t.Run("rejects wrong participant count", func(t *testing.T) {
		resp := env.doJSON(t, http.MethodPost, "/api/rooms", jsonObj{
			"name":         "一人会議",
			"participants": []jsonObj{{"name": "Solo"}},
		}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects unknown language", func(t *testing.T) {
		resp := env.doJSON(t, http.MethodPost, "/api/rooms", jsonObj{
			"name":     "会議",
			"language": "fr",
			"participants": []jsonObj{
				{"name": "A", "is_facilitator": true},
				{"name": "B"},
			},
		}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects out-of-range max_turns", func(t *testing.T) {
		resp := env.doJSON(t, http.MethodPost, "/api/rooms", jsonObj{
			"name":      "会議",
			"max_turns": 101,
			"participants": []jsonObj{
				{"name": "A", "is_facilitator": true},
				{"name": "B"},
			},
		}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

// jsonObj is shorthand for building request bodies and frames.
type jsonObj = map[string]any

func TestListRooms_NewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	older, err := env.store.CreateRoom(ctx, room.Room{
		Name: "古い部屋", Status: room.StatusWaiting, MaxTurns: 10,
		MeetingType: room.MeetingPlanning, Language: "ja",
		CreatedAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	newer, err := env.store.CreateRoom(ctx, room.Room{
		Name: "新しい部屋", Status: room.StatusWaiting, MaxTurns: 10,
		MeetingType: room.MeetingPlanning, Language: "ja",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	var rooms []roomResponse
	resp := env.getJSON(t, "/api/rooms", &rooms)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rooms, 2)
	assert.Equal(t, newer.ID, rooms[0].ID)
	assert.Equal(t, older.ID, rooms[1].ID)
}

func TestGetRoomDetail(t *testing.T) {
	env := newTestEnv(t)
	rm, seats := env.seedRoom(t, 20)

	_, err := env.store.AppendMessage(context.Background(), room.Message{
		RoomID:        rm.ID,
		ParticipantID: seats["Alice"].ID,
		Role:          room.RoleParticipant,
		Content:       "最初の発言です。",
		TurnNumber:    1,
	})
	require.NoError(t, err)

	var detail roomDetailResponse
	resp := env.getJSON(t, "/api/rooms/"+rm.ID, &detail)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, rm.ID, detail.ID)
	assert.Len(t, detail.Participants, 3)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "最初の発言です。", detail.Messages[0].Content)
	assert.Equal(t, seats["Alice"].ID, detail.Messages[0].ParticipantID)

	var facilitator *participantResponse
	for i := range detail.Participants {
		if detail.Participants[i].IsFacilitator {
			facilitator = &detail.Participants[i]
		}
	}
	require.NotNil(t, facilitator)
	assert.Equal(t, "Facilitator", facilitator.Name)
	assert.False(t, facilitator.HasContext)
}

func TestGetRoom_NotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := env.getJSON(t, "/api/rooms/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteRoom(t *testing.T) {
	env := newTestEnv(t)
	rm, _ := env.seedRoom(t, 20)

	var body map[string]any
	resp := env.doJSON(t, http.MethodDelete, "/api/rooms/"+rm.ID, nil, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deleted", body["status"])
	assert.Equal(t, rm.ID, body["room_id"])

	resp = env.getJSON(t, "/api/rooms/"+rm.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartRoom(t *testing.T) {
	env := newTestEnv(t)
	rm, _ := env.seedRoom(t, 20)
	ctx := context.Background()

	t.Run("waiting room is ready", func(t *testing.T) {
		var body map[string]any
		resp := env.doJSON(t, http.MethodPost, "/api/rooms/"+rm.ID+"/start", nil, &body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ready", body["status"])
		assert.Equal(t, "/ws/rooms/"+rm.ID, body["websocket_url"])
	})

	t.Run("active room rejected", func(t *testing.T) {
		require.NoError(t, env.store.UpdateRoomStatus(ctx, rm.ID, room.StatusActive))
		resp := env.doJSON(t, http.MethodPost, "/api/rooms/"+rm.ID+"/start", nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("completed room rejected", func(t *testing.T) {
		require.NoError(t, env.store.UpdateRoomStatus(ctx, rm.ID, room.StatusCompleted))
		resp := env.doJSON(t, http.MethodPost, "/api/rooms/"+rm.ID+"/start", nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestPauseRoom_RequiresActive(t *testing.T) {
	env := newTestEnv(t)
	rm, _ := env.seedRoom(t, 20)
	ctx := context.Background()

	resp := env.doJSON(t, http.MethodPost, "/api/rooms/"+rm.ID+"/pause", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.NoError(t, env.store.UpdateRoomStatus(ctx, rm.ID, room.StatusActive))
	var body map[string]any
	resp = env.doJSON(t, http.MethodPost, "/api/rooms/"+rm.ID+"/pause", nil, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paused", body["status"])

	updated, err := env.store.GetRoom(ctx, rm.ID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusPaused, updated.Status)
}

func TestModerateRoom_PersistsMessage(t *testing.T) {
	env := newTestEnv(t)
	rm, _ := env.seedRoom(t, 20)

	var msg messageResponse
	resp := env.doJSON(t, http.MethodPost, "/api/rooms/"+rm.ID+"/moderate",
		jsonObj{"content": "その方針で進めてください。"}, &msg)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "moderator", msg.Role)
	assert.Equal(t, "その方針で進めてください。", msg.Content)
	assert.Equal(t, rm.CurrentTurn, msg.TurnNumber)

	messages, err := env.store.ListMessages(context.Background(), rm.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, room.RoleModerator, messages[0].Role)
}

func TestSettingsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("defaults to read_only", func(t *testing.T) {
		var body map[string]string
		resp := env.getJSON(t, "/api/settings", &body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "read_only", body["tool_permission_mode"])
	})

	t.Run("update persists", func(t *testing.T) {
		var body map[string]string
		resp := env.doJSON(t, http.MethodPut, "/api/settings",
			jsonObj{"tool_permission_mode": "system_default"}, &body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "system_default", body["tool_permission_mode"])

		resp = env.getJSON(t, "/api/settings", &body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "system_default", body["tool_permission_mode"])
	})

	t.Run("rejects unknown mode", func(t *testing.T) {
		resp := env.doJSON(t, http.MethodPut, "/api/settings",
			jsonObj{"tool_permission_mode": "yolo"}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("tool permissions report", func(t *testing.T) {
		var body struct {
			CurrentMode string         `json:"current_mode"`
			Claude      map[string]any `json:"claude"`
			Codex       map[string]any `json:"codex"`
		}
		resp := env.getJSON(t, "/api/settings/tool-permissions", &body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "system_default", body.CurrentMode)
		assert.NotEmpty(t, body.Claude["read_only"])
		assert.NotEmpty(t, body.Codex["system_default"])
	})
}

// dialRoom opens a websocket to the room and returns the decoded frames
// reader.
func dialRoom(t *testing.T, env *testEnv, roomID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/rooms/" + roomID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(10*time.Second)))
	var frame map[string]any
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

// readUntil consumes frames until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, wanted string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, ws)
		if frame["type"] == wanted {
			return frame
		}
	}
	t.Fatalf("never received frame of type %q", wanted)
	return nil
}

func TestRoomSocket_SnapshotAndPing(t *testing.T) {
	env := newTestEnv(t)
	rm, _ := env.seedRoom(t, 20)

	ws := dialRoom(t, env, rm.ID)

	state := readFrame(t, ws)
	assert.Equal(t, "room_state", state["type"])
	assert.Equal(t, rm.ID, state["room_id"])
	assert.Equal(t, "waiting", state["status"])
	participants, ok := state["participants"].([]any)
	require.True(t, ok)
	assert.Len(t, participants, 3)

	require.NoError(t, ws.WriteJSON(jsonObj{"type": "ping"}))
	pong := readFrame(t, ws)
	assert.Equal(t, "pong", pong["type"])
}

func TestRoomSocket_UnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	ws := dialRoom(t, env, "missing")

	frame := readFrame(t, ws)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "Room not found", frame["content"])
}

func TestRoomSocket_StartRunsDiscussion(t *testing.T) {
	env := newTestEnv(t)
	rm, _ := env.seedRoom(t, 2)
	env.runner.say("Facilitator", "@Alice お願いします。", "まとめます。")
	env.runner.say("Alice", "@Bob どう思いますか。")
	env.runner.say("Bob", "賛成です。")

	ws := dialRoom(t, env, rm.ID)
	readFrame(t, ws) // room_state

	require.NoError(t, ws.WriteJSON(jsonObj{"type": "start"}))
	starting := readFrame(t, ws)
	assert.Equal(t, "discussion_starting", starting["type"])

	started := readUntil(t, ws, "discussion_start")
	assert.Equal(t, rm.ID, started["room_id"])
	assert.Equal(t, true, started["has_facilitator"])

	complete := readUntil(t, ws, "discussion_complete")
	assert.Equal(t, float64(3), complete["total_turns"])

	// The orchestrator is released once the room completes.
	require.Eventually(t, func() bool {
		updated, err := env.store.GetRoom(context.Background(), rm.ID)
		return err == nil && updated.Status == room.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRoomSocket_StartTwiceReportsRunning(t *testing.T) {
	env := newTestEnv(t)
	rm, _ := env.seedRoom(t, 2)
	env.runner.say("Facilitator", "@Alice お願いします。")

	ws := dialRoom(t, env, rm.ID)
	readFrame(t, ws) // room_state

	require.NoError(t, ws.WriteJSON(jsonObj{"type": "start"}))
	readFrame(t, ws) // discussion_starting
	readUntil(t, ws, "discussion_start")

	require.NoError(t, ws.WriteJSON(jsonObj{"type": "start"}))
	info := readUntil(t, ws, "info")
	assert.Equal(t, "Discussion already running", info["content"])
}

func TestRoomSocket_StartWithoutFacilitatorReportsError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rm, err := env.store.CreateRoom(ctx, room.Room{
		Name:        "進行役なし",
		Status:      room.StatusWaiting,
		MaxTurns:    10,
		MeetingType: room.MeetingTechnicalReview,
		Language:    "ja",
	})
	require.NoError(t, err)
	for _, seat := range []room.Participant{
		{RoomID: rm.ID, Name: "Alice", AgentKind: room.AgentClaude},
		{RoomID: rm.ID, Name: "Bob", AgentKind: room.AgentCodex},
	} {
		_, err := env.store.AddParticipant(ctx, seat)
		require.NoError(t, err)
	}

	ws := dialRoom(t, env, rm.ID)
	readFrame(t, ws) // room_state

	require.NoError(t, ws.WriteJSON(jsonObj{"type": "start"}))
	frame := readFrame(t, ws)
	assert.Equal(t, "error", frame["type"])
	content, _ := frame["content"].(string)
	assert.Contains(t, content, "facilitator")

	// The room never went active.
	updated, err := env.store.GetRoom(ctx, rm.ID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusWaiting, updated.Status)
}

func TestRoomSocket_InterjectDuringModeratorWait(t *testing.T) {
	env := newTestEnv(t)
	rm, _ := env.seedRoom(t, 20)
	env.runner.say("Alice", "@モデレーター 確認をお願いします。")

	ws := dialRoom(t, env, rm.ID)
	readFrame(t, ws) // room_state

	require.NoError(t, ws.WriteJSON(jsonObj{"type": "start"}))
	readUntil(t, ws, "waiting_for_moderator")

	env.runner.say("Facilitator", "議論を続けてください。")
	require.NoError(t, ws.WriteJSON(jsonObj{"type": "interject"}))

	start := readUntil(t, ws, "turn_start")
	assert.Equal(t, true, start["is_interjection"])
	readUntil(t, ws, "turn_complete")
}

func TestRoomSocket_InterjectWithoutRunDeclined(t *testing.T) {
	env := newTestEnv(t)
	rm, _ := env.seedRoom(t, 20)

	ws := dialRoom(t, env, rm.ID)
	readFrame(t, ws) // room_state

	require.NoError(t, ws.WriteJSON(jsonObj{"type": "interject"}))
	info := readUntil(t, ws, "info")
	assert.Equal(t, "No discussion to interject", info["content"])
}

func TestRoomSocket_ModerateWithoutRunBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	rm, seats := env.seedRoom(t, 20)

	ws := dialRoom(t, env, rm.ID)
	readFrame(t, ws) // room_state

	require.NoError(t, ws.WriteJSON(jsonObj{
		"type":    "moderate",
		"content": "@Bob 補足をお願いします。",
	}))

	frame := readUntil(t, ws, "moderator_message")
	assert.Equal(t, "@Bob 補足をお願いします。", frame["content"])
	mentioned, ok := frame["mentioned_participants"].([]any)
	require.True(t, ok)
	require.Len(t, mentioned, 1)
	assert.Equal(t, seats["Bob"].ID, mentioned[0])

	messages, err := env.store.ListMessages(context.Background(), rm.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, room.RoleModerator, messages[0].Role)
}

func TestHub_BroadcastReachesWatcher(t *testing.T) {
	env := newTestEnv(t)
	rm, _ := env.seedRoom(t, 20)

	ws := dialRoom(t, env, rm.ID)
	readFrame(t, ws) // room_state

	// Broadcast into the server hub; the frame reaches the watcher.
	env.srv.Hub().BroadcastEvent(rm.ID, orchestrator.DiscussionPaused{Turn: 3})
	frame := readFrame(t, ws)
	assert.Equal(t, "discussion_paused", frame["type"])
	assert.Equal(t, float64(3), frame["turn"])
}

func TestHub_BroadcastCountsDeliveries(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, 0, hub.Broadcast("nobody", []byte(`{}`)))
}
