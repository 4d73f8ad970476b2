package server

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nogataka/cc-discussion/internal/history"
)

type conversationResponse struct {
	Type        string `json:"type"`
	UUID        string `json:"uuid"`
	Timestamp   string `json:"timestamp"`
	Content     string `json:"content"`
	IsSidechain bool   `json:"is_sidechain"`
}

type sessionDetailResponse struct {
	ID            string                 `json:"id"`
	FilePath      string                 `json:"jsonl_file_path"`
	Conversations []conversationResponse `json:"conversations"`
}

func (s *Server) handleListProjects(c *gin.Context) {
	projects, err := s.claude.ListProjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if projects == nil {
		projects = []history.Project{}
	}
	c.JSON(http.StatusOK, projects)
}

func (s *Server) handleListSessions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	sessions, err := s.claude.ListSessions(c.Param("projectID"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sessionID := c.Param("sessionID")
	messages, err := s.claude.LoadSession(sessionID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	path, _ := history.DecodePath(sessionID)
	detail := sessionDetailResponse{
		ID:            sessionID,
		FilePath:      path,
		Conversations: make([]conversationResponse, 0, len(messages)),
	}
	for _, m := range messages {
		detail.Conversations = append(detail.Conversations, conversationResponse{
			Type:        m.Type,
			UUID:        m.UUID,
			Timestamp:   m.Timestamp,
			Content:     m.Text,
			IsSidechain: m.IsSidechain,
		})
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleListCodexProjects(c *gin.Context) {
	projects, err := s.codex.ListProjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if projects == nil {
		projects = []history.Project{}
	}
	c.JSON(http.StatusOK, projects)
}

func (s *Server) handleListCodexSessions(c *gin.Context) {
	sessions, err := s.codex.ListSessions(c.Param("projectID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}
