package server

import (
	"context"
	"net/http"
	"os/exec"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nogataka/cc-discussion/internal/config"
	"github.com/nogataka/cc-discussion/internal/history"
	"github.com/nogataka/cc-discussion/internal/log"
	"github.com/nogataka/cc-discussion/internal/orchestrator"
	"github.com/nogataka/cc-discussion/internal/repository"
	"github.com/nogataka/cc-discussion/internal/settings"
)

// Server wires the REST API, the websocket endpoint, and the discussion
// service behind one gin engine.
type Server struct {
	store    repository.Store
	svc      *orchestrator.Service
	hub      *Hub
	cfg      config.Config
	settings *settings.Store
	claude   *history.ClaudeReader
	codex    *history.CodexReader
	engine   *gin.Engine

	// lookPath is swapped in tests.
	lookPath func(string) (string, error)
}

// New builds a server around an already-constructed discussion service.
func New(store repository.Store, svc *orchestrator.Service, cfg config.Config, st *settings.Store) *Server {
	s := &Server{
		store:    store,
		svc:      svc,
		hub:      NewHub(),
		cfg:      cfg,
		settings: st,
		claude:   &history.ClaudeReader{},
		codex:    &history.CodexReader{},
		lookPath: exec.LookPath,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), corsMiddleware())
	s.routes(engine)
	s.engine = engine
	return s
}

// Handler exposes the routing tree, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub exposes the websocket fan-out, mainly for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(log.CatServer, "Listening", "addr", s.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.svc.Shutdown()
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/api/health", s.handleHealth)
	r.GET("/api/config/available-agents", s.handleAvailableAgents)

	rooms := r.Group("/api/rooms")
	{
		rooms.POST("", s.handleCreateRoom)
		rooms.GET("", s.handleListRooms)
		rooms.GET("/:roomID", s.handleGetRoom)
		rooms.DELETE("/:roomID", s.handleDeleteRoom)
		rooms.POST("/:roomID/start", s.handleStartRoom)
		rooms.POST("/:roomID/pause", s.handlePauseRoom)
		rooms.POST("/:roomID/moderate", s.handleModerateRoom)
	}

	hist := r.Group("/api/history")
	{
		hist.GET("/projects", s.handleListProjects)
		hist.GET("/projects/:projectID/sessions", s.handleListSessions)
		hist.GET("/sessions/:sessionID", s.handleGetSession)
		hist.GET("/codex/projects", s.handleListCodexProjects)
		hist.GET("/codex/projects/:projectID/sessions", s.handleListCodexSessions)
	}

	st := r.Group("/api/settings")
	{
		st.GET("", s.handleGetSettings)
		st.PUT("", s.handleUpdateSettings)
		st.GET("/tool-permissions", s.handleToolPermissions)
	}

	r.GET("/ws/rooms/:roomID", s.handleRoomSocket)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleAvailableAgents reports which configured agent CLIs resolve on PATH.
func (s *Server) handleAvailableAgents(c *gin.Context) {
	kinds := make([]string, 0, len(s.cfg.Agents))
	for kind := range s.cfg.Agents {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	available := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		if s.cfg.Agents[kind].Command == "" {
			continue
		}
		if _, err := s.lookPath(s.cfg.Agents[kind].Command); err == nil {
			available = append(available, kind)
		}
	}
	c.JSON(http.StatusOK, gin.H{"available_agents": available})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
