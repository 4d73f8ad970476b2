package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nogataka/cc-discussion/internal/settings"
)

type settingsUpdateRequest struct {
	ToolPermissionMode string `json:"tool_permission_mode" binding:"required"`
}

func (s *Server) handleGetSettings(c *gin.Context) {
	current := s.settings.Load()
	c.JSON(http.StatusOK, gin.H{"tool_permission_mode": string(current.ToolPermissionMode)})
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req settingsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := s.settings.SetToolPermissionMode(settings.ToolPermissionMode(req.ToolPermissionMode))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool_permission_mode": string(updated.ToolPermissionMode)})
}

// handleToolPermissions reports the tool set each agent CLI is allowed per
// permission mode, so a client can preview what a mode change unlocks.
func (s *Server) handleToolPermissions(c *gin.Context) {
	current := s.settings.Load()
	c.JSON(http.StatusOK, gin.H{
		"current_mode": string(current.ToolPermissionMode),
		"claude": gin.H{
			"read_only": []string{"Read", "Grep", "Glob", "WebFetch", "WebSearch"},
			"system_default": []string{
				"Read", "Grep", "Glob", "WebFetch", "WebSearch",
				"Edit", "Write", "Bash", "Task", "TodoWrite", "NotebookEdit",
			},
		},
		"codex": gin.H{
			"read_only": []string{"read_file", "list_dir", "web_search", "url_fetch"},
			"system_default": []string{
				"read_file", "list_dir", "web_search", "url_fetch",
				"shell", "apply_patch",
			},
		},
	})
}
