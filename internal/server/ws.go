package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nogataka/cc-discussion/internal/log"
	"github.com/nogataka/cc-discussion/internal/mention"
	"github.com/nogataka/cc-discussion/internal/orchestrator"
	"github.com/nogataka/cc-discussion/internal/room"
)

const (
	maxFrameSize = 1 << 20
	readWait     = 60 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The TUI connects from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientCommand is one inbound control frame from a watcher.
type clientCommand struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type participantState struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Color      string `json:"color"`
	IsSpeaking bool   `json:"is_speaking"`
}

type roomState struct {
	Type         string             `json:"type"`
	RoomID       string             `json:"room_id"`
	Status       string             `json:"status"`
	CurrentTurn  int                `json:"current_turn"`
	MaxTurns     int                `json:"max_turns"`
	Participants []participantState `json:"participants"`
}

// handleRoomSocket upgrades the request and serves the watch-and-control
// protocol for one room: a room_state snapshot on connect, discussion events
// as they happen, and start/pause/stop/moderate commands from the client.
func (s *Server) handleRoomSocket(c *gin.Context) {
	roomID := c.Param("roomID")

	ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error(log.CatServer, "WebSocket upgrade failed", "room_id", roomID, "error", err)
		return
	}

	rm, err := s.store.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		_ = ws.WriteJSON(gin.H{"type": "error", "content": "Room not found"})
		_ = ws.Close()
		return
	}

	conn := NewConnection(ws)
	s.hub.Attach(roomID, conn)
	defer func() {
		s.hub.Detach(roomID, conn)
		conn.Close(websocket.CloseNormalClosure, "")
	}()

	log.Info(log.CatServer, "WebSocket connected", "room_id", roomID, "conn_id", conn.ID)

	if err := s.sendRoomState(c.Request.Context(), conn, rm); err != nil {
		return
	}

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Info(log.CatServer, "WebSocket disconnected", "room_id", roomID, "conn_id", conn.ID)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = conn.SendJSON(gin.H{"type": "error", "content": "Invalid JSON"})
			continue
		}
		s.dispatchCommand(conn, roomID, cmd)
	}
}

func (s *Server) sendRoomState(ctx context.Context, conn *Connection, rm room.Room) error {
	participants, err := s.store.ListParticipants(ctx, rm.ID)
	if err != nil {
		return err
	}
	state := roomState{
		Type:         "room_state",
		RoomID:       rm.ID,
		Status:       string(rm.Status),
		CurrentTurn:  rm.CurrentTurn,
		MaxTurns:     rm.MaxTurns,
		Participants: make([]participantState, 0, len(participants)),
	}
	for _, p := range participants {
		state.Participants = append(state.Participants, participantState{
			ID:         p.ID,
			Name:       p.Name,
			Role:       p.Role,
			Color:      p.Color,
			IsSpeaking: p.IsSpeaking,
		})
	}
	return conn.SendJSON(state)
}

func (s *Server) dispatchCommand(conn *Connection, roomID string, cmd clientCommand) {
	ctx := context.Background()

	switch cmd.Type {
	case "ping":
		_ = conn.SendJSON(gin.H{"type": "pong"})

	case "start":
		s.startDiscussion(ctx, conn, roomID)

	case "pause":
		if o := s.svc.Get(roomID); o != nil {
			if err := o.Pause(ctx); err != nil {
				log.Error(log.CatServer, "Pause failed", "room_id", roomID, "error", err)
				return
			}
			s.hub.BroadcastEvent(roomID, orchestrator.DiscussionPaused{Turn: o.Room().CurrentTurn})
		}

	case "stop":
		if o := s.svc.Get(roomID); o != nil {
			if err := o.Stop(ctx); err != nil {
				log.Error(log.CatServer, "Stop failed", "room_id", roomID, "error", err)
			}
		}

	case "moderate":
		s.moderate(ctx, roomID, strings.TrimSpace(cmd.Content))

	case "interject":
		s.interject(ctx, conn, roomID)

	default:
		log.Warn(log.CatServer, "Unknown command", "room_id", roomID, "type", cmd.Type)
	}
}

func (s *Server) startDiscussion(ctx context.Context, conn *Connection, roomID string) {
	_, events, err := s.svc.Start(ctx, roomID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrAlreadyRunning) {
			_ = conn.SendJSON(gin.H{"type": "info", "content": "Discussion already running"})
			log.Info(log.CatServer, "Start declined", "room_id", roomID, "reason", err)
			return
		}
		// Roster and store failures are fatal for this run; the client gets
		// a single error event.
		_ = conn.SendJSON(gin.H{"type": "error", "content": err.Error()})
		log.Error(log.CatServer, "Start failed", "room_id", roomID, "error", err)
		return
	}
	_ = conn.SendJSON(gin.H{"type": "discussion_starting"})
	go s.pumpEvents(roomID, events)
}

// interject asks the facilitator for an on-demand steering turn. Only valid
// against a registered orchestrator whose loop is not mid-turn.
func (s *Server) interject(ctx context.Context, conn *Connection, roomID string) {
	o := s.svc.Get(roomID)
	if o == nil {
		_ = conn.SendJSON(gin.H{"type": "info", "content": "No discussion to interject"})
		return
	}
	events, err := o.Interject(ctx)
	if err != nil {
		_ = conn.SendJSON(gin.H{"type": "info", "content": "Interjection unavailable while a turn is in progress"})
		log.Info(log.CatServer, "Interject declined", "room_id", roomID, "reason", err)
		return
	}
	go func() {
		for e := range events {
			s.hub.BroadcastEvent(roomID, e)
		}
	}()
}

// pumpEvents relays one discussion run to every watcher, then releases the
// orchestrator once the room can no longer resume.
func (s *Server) pumpEvents(roomID string, events <-chan orchestrator.Event) {
	for e := range events {
		s.hub.BroadcastEvent(roomID, e)
	}

	rm, err := s.store.GetRoom(context.Background(), roomID)
	if err != nil || rm.Status == room.StatusCompleted {
		if o := s.svc.Get(roomID); o != nil {
			o.Shutdown()
			s.svc.Registry().Unregister(roomID)
		}
	}
}

// moderate injects a moderator message. With a live orchestrator the message
// reseeds the speaker queue via mentions and resumes a discussion that was
// waiting on the moderator; otherwise it is persisted and broadcast as-is.
func (s *Server) moderate(ctx context.Context, roomID, content string) {
	if content == "" {
		return
	}

	if o := s.svc.Get(roomID); o != nil {
		event, resume, err := o.Moderate(ctx, content)
		if err != nil {
			log.Error(log.CatServer, "Moderate failed", "room_id", roomID, "error", err)
			return
		}
		s.hub.BroadcastEvent(roomID, event)
		if resume {
			_, events, err := s.svc.Start(ctx, roomID)
			if err != nil {
				log.Error(log.CatServer, "Resume after moderation failed", "room_id", roomID, "error", err)
				return
			}
			go s.pumpEvents(roomID, events)
		}
		return
	}

	rm, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		log.Error(log.CatServer, "Moderate on unknown room", "room_id", roomID, "error", err)
		return
	}
	participants, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		log.Error(log.CatServer, "Moderate failed", "room_id", roomID, "error", err)
		return
	}

	msg, err := s.store.AppendMessage(ctx, room.Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		Role:       room.RoleModerator,
		Content:    content,
		TurnNumber: rm.CurrentTurn,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		log.Error(log.CatServer, "Moderate persist failed", "room_id", roomID, "error", err)
		return
	}

	result := mention.Parse(content)
	mentioned := mention.Resolve(result, participants)
	s.hub.BroadcastEvent(roomID, orchestrator.ModeratorMessage{
		MessageID:             msg.ID,
		Content:               content,
		TurnNumber:            msg.TurnNumber,
		MentionedParticipants: mentioned,
	})
}
