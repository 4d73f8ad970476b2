package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nogataka/cc-discussion/internal/history"
	"github.com/nogataka/cc-discussion/internal/log"
	"github.com/nogataka/cc-discussion/internal/repository"
	"github.com/nogataka/cc-discussion/internal/room"
)

type participantCreate struct {
	Name              string `json:"name" binding:"required,min=1,max=50"`
	Role              string `json:"role" binding:"max=100"`
	Color             string `json:"color"`
	ContextProjectDir string `json:"context_project_dir"`
	ContextSessionID  string `json:"context_session_id"`
	IsFacilitator     bool   `json:"is_facilitator"`
	AgentType         string `json:"agent_type"`
}

type roomCreate struct {
	Name                     string              `json:"name" binding:"required,min=1,max=200"`
	Topic                    string              `json:"topic"`
	MaxTurns                 int                 `json:"max_turns"`
	MeetingType              string              `json:"meeting_type"`
	CustomMeetingDescription string              `json:"custom_meeting_description"`
	Language                 string              `json:"language"`
	Participants             []participantCreate `json:"participants" binding:"required,dive"`
}

type moderatorRequest struct {
	Content string `json:"content" binding:"required,min=1"`
}

type roomResponse struct {
	ID                       string `json:"id"`
	Name                     string `json:"name"`
	Topic                    string `json:"topic"`
	Status                   string `json:"status"`
	CurrentTurn              int    `json:"current_turn"`
	MaxTurns                 int    `json:"max_turns"`
	MeetingType              string `json:"meeting_type"`
	CustomMeetingDescription string `json:"custom_meeting_description,omitempty"`
	Language                 string `json:"language"`
	ParticipantCount         int    `json:"participant_count"`
	CreatedAt                string `json:"created_at"`
}

type participantResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	Color         string `json:"color"`
	HasContext    bool   `json:"has_context"`
	IsSpeaking    bool   `json:"is_speaking"`
	MessageCount  int    `json:"message_count"`
	IsFacilitator bool   `json:"is_facilitator"`
	AgentType     string `json:"agent_type"`
	ProjectName   string `json:"project_name,omitempty"`
}

type messageResponse struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participant_id,omitempty"`
	Role          string `json:"role"`
	Content       string `json:"content"`
	TurnNumber    int    `json:"turn_number"`
	CreatedAt     string `json:"created_at"`
}

type roomDetailResponse struct {
	roomResponse
	Participants []participantResponse `json:"participants"`
	Messages     []messageResponse     `json:"messages"`
}

func toRoomResponse(r room.Room, participantCount int) roomResponse {
	return roomResponse{
		ID:                       r.ID,
		Name:                     r.Name,
		Topic:                    r.Topic,
		Status:                   string(r.Status),
		CurrentTurn:              r.CurrentTurn,
		MaxTurns:                 r.MaxTurns,
		MeetingType:              string(r.MeetingType),
		CustomMeetingDescription: r.MeetingDescription,
		Language:                 r.Language,
		ParticipantCount:         participantCount,
		CreatedAt:                r.CreatedAt.Format(time.RFC3339),
	}
}

func toMessageResponse(m room.Message) messageResponse {
	return messageResponse{
		ID:            m.ID,
		ParticipantID: m.ParticipantID,
		Role:          string(m.Role),
		Content:       m.Content,
		TurnNumber:    m.TurnNumber,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
}

// projectName resolves the workspace directory name a participant's context
// came from, best effort; an unresolvable dir just leaves the field empty.
func (s *Server) projectName(p room.Participant) string {
	if p.ContextProjectDir == "" {
		return ""
	}
	if p.AgentKind == room.AgentCodex {
		path, err := history.DecodePath(p.ContextProjectDir)
		if err != nil {
			return ""
		}
		return filepath.Base(path)
	}
	path, err := s.claude.ProjectWorkdir(p.ContextProjectDir)
	if err != nil {
		return ""
	}
	return filepath.Base(path)
}

func toParticipantResponse(p room.Participant, projectName string) participantResponse {
	return participantResponse{
		ID:            p.ID,
		Name:          p.Name,
		Role:          p.Role,
		Color:         p.Color,
		HasContext:    p.ContextSessionID != "",
		IsSpeaking:    p.IsSpeaking,
		MessageCount:  p.MessageCount,
		IsFacilitator: p.IsFacilitator,
		AgentType:     string(p.AgentKind),
		ProjectName:   projectName,
	}
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	var req roomCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Participants) < 2 || len(req.Participants) > 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rooms must have 2-3 participants"})
		return
	}
	if req.MaxTurns == 0 {
		req.MaxTurns = 20
	}
	if req.MaxTurns < 1 || req.MaxTurns > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_turns must be between 1 and 100"})
		return
	}
	if req.Language == "" {
		req.Language = s.cfg.Language
	}
	if req.Language != "ja" && req.Language != "en" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "language must be ja or en"})
		return
	}

	meetingType := room.MeetingType(req.MeetingType)
	if !meetingType.IsValid() {
		meetingType = room.MeetingTechnicalReview
	}

	now := time.Now()
	created, err := s.store.CreateRoom(c.Request.Context(), room.Room{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		Topic:              req.Topic,
		Status:             room.StatusWaiting,
		MaxTurns:           req.MaxTurns,
		MeetingType:        meetingType,
		MeetingDescription: req.CustomMeetingDescription,
		Language:           req.Language,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	for _, pd := range req.Participants {
		kind := room.AgentKind(pd.AgentType)
		if !kind.IsValid() {
			kind = room.AgentClaude
		}
		color := pd.Color
		if color == "" {
			color = "#6366f1"
		}
		if _, err := s.store.AddParticipant(c.Request.Context(), room.Participant{
			ID:                uuid.NewString(),
			RoomID:            created.ID,
			Name:              pd.Name,
			Role:              pd.Role,
			Color:             color,
			ContextProjectDir: pd.ContextProjectDir,
			ContextSessionID:  pd.ContextSessionID,
			IsFacilitator:     pd.IsFacilitator,
			AgentKind:         kind,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	log.Info(log.CatServer, "Room created", "room_id", created.ID, "name", created.Name)
	c.JSON(http.StatusOK, toRoomResponse(created, len(req.Participants)))
}

func (s *Server) handleListRooms(c *gin.Context) {
	rooms, err := s.store.ListRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})

	out := make([]roomResponse, 0, len(rooms))
	for _, r := range rooms {
		participants, err := s.store.ListParticipants(c.Request.Context(), r.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, toRoomResponse(r, len(participants)))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetRoom(c *gin.Context) {
	rm, ok := s.loadRoom(c)
	if !ok {
		return
	}

	participants, err := s.store.ListParticipants(c.Request.Context(), rm.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	messages, err := s.store.ListMessages(c.Request.Context(), rm.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	detail := roomDetailResponse{
		roomResponse: toRoomResponse(rm, len(participants)),
		Participants: make([]participantResponse, 0, len(participants)),
		Messages:     make([]messageResponse, 0, len(messages)),
	}
	for _, p := range participants {
		detail.Participants = append(detail.Participants, toParticipantResponse(p, s.projectName(p)))
	}
	for _, m := range messages {
		detail.Messages = append(detail.Messages, toMessageResponse(m))
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleDeleteRoom(c *gin.Context) {
	rm, ok := s.loadRoom(c)
	if !ok {
		return
	}
	if err := s.store.DeleteRoom(c.Request.Context(), rm.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "room_id": rm.ID})
}

// handleStartRoom validates that a discussion can begin; the actual run is
// driven over the websocket.
func (s *Server) handleStartRoom(c *gin.Context) {
	rm, ok := s.loadRoom(c)
	if !ok {
		return
	}
	switch rm.Status {
	case room.StatusActive:
		c.JSON(http.StatusBadRequest, gin.H{"error": "discussion already active"})
		return
	case room.StatusCompleted:
		c.JSON(http.StatusBadRequest, gin.H{"error": "discussion already completed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ready",
		"room_id":       rm.ID,
		"websocket_url": "/ws/rooms/" + rm.ID,
	})
}

func (s *Server) handlePauseRoom(c *gin.Context) {
	rm, ok := s.loadRoom(c)
	if !ok {
		return
	}
	if rm.Status != room.StatusActive {
		c.JSON(http.StatusBadRequest, gin.H{"error": "discussion not active"})
		return
	}

	if o := s.svc.Get(rm.ID); o != nil {
		if err := o.Pause(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	} else if err := s.store.UpdateRoomStatus(c.Request.Context(), rm.ID, room.StatusPaused); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused", "room_id": rm.ID})
}

// handleModerateRoom persists a moderator message at the current turn. It does
// not touch a running discussion's speaker queue; that path is the websocket
// moderate command.
func (s *Server) handleModerateRoom(c *gin.Context) {
	rm, ok := s.loadRoom(c)
	if !ok {
		return
	}
	var req moderatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.store.AppendMessage(c.Request.Context(), room.Message{
		ID:         uuid.NewString(),
		RoomID:     rm.ID,
		Role:       room.RoleModerator,
		Content:    req.Content,
		TurnNumber: rm.CurrentTurn,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toMessageResponse(msg))
}

// loadRoom fetches the room named in the path, writing the error response
// itself when the lookup fails.
func (s *Server) loadRoom(c *gin.Context) (room.Room, bool) {
	rm, err := s.store.GetRoom(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return room.Room{}, false
	}
	return rm, true
}
