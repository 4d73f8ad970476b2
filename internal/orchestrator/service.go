package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nogataka/cc-discussion/internal/agent"
	"github.com/nogataka/cc-discussion/internal/config"
	"github.com/nogataka/cc-discussion/internal/history"
	"github.com/nogataka/cc-discussion/internal/log"
	"github.com/nogataka/cc-discussion/internal/prompts"
	"github.com/nogataka/cc-discussion/internal/repository"
	"github.com/nogataka/cc-discussion/internal/room"
	"github.com/nogataka/cc-discussion/internal/settings"
)

// contextMaxChars bounds the imported session context injected into agent
// prompts.
const contextMaxChars = 50000

// ErrAlreadyRunning is returned by Start when the room's discussion is
// already in progress. Callers distinguish it from fatal roster or store
// errors with errors.Is.
var ErrAlreadyRunning = errors.New("discussion already running")

// Service builds and tracks orchestrators. It resolves each participant's
// imported session context and working directory from the history readers
// and wires the configured agent commands.
type Service struct {
	store    repository.Store
	library  *prompts.Library
	cfg      config.Config
	settings *settings.Store
	registry *Registry

	claude *history.ClaudeReader
	codex  *history.CodexReader

	// runner overrides the subprocess runner, used in tests.
	runner agent.Runner
}

// NewService wires a Service from its collaborators.
func NewService(store repository.Store, library *prompts.Library, cfg config.Config, st *settings.Store) *Service {
	return &Service{
		store:    store,
		library:  library,
		cfg:      cfg,
		settings: st,
		registry: NewRegistry(),
		claude:   &history.ClaudeReader{},
		codex:    &history.CodexReader{},
		runner:   &agent.CLIRunner{},
	}
}

// SetRunner overrides the subprocess runner. Test seam.
func (s *Service) SetRunner(r agent.Runner) {
	s.runner = r
}

// Registry exposes the live orchestrator registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Get returns the running orchestrator for a room, or nil.
func (s *Service) Get(roomID string) *Orchestrator {
	return s.registry.Get(roomID)
}

// Start builds (or reuses) the orchestrator for a room and begins a run.
// Starting a completed room reopens it with twenty more turns.
func (s *Service) Start(ctx context.Context, roomID string) (*Orchestrator, <-chan Event, error) {
	if existing := s.registry.Get(roomID); existing != nil {
		rm, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return nil, nil, err
		}
		if rm.Status == room.StatusActive {
			return nil, nil, fmt.Errorf("%w for room %s", ErrAlreadyRunning, roomID)
		}
		existing.mu.Lock()
		existing.rm = rm
		existing.mu.Unlock()
		return existing, existing.Run(ctx), nil
	}

	rm, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}

	if rm.Status == room.StatusCompleted {
		rm.Status = room.StatusWaiting
		rm.MaxTurns = rm.CurrentTurn + 20
		if err := s.store.UpdateRoomStatus(ctx, roomID, rm.Status); err != nil {
			return nil, nil, err
		}
		if err := s.store.UpdateRoomMaxTurns(ctx, roomID, rm.MaxTurns); err != nil {
			return nil, nil, err
		}
		log.Info(log.CatOrch, "Reopened completed room", "room", roomID, "maxTurns", rm.MaxTurns)
	}

	participants, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if err := validateRoster(participants); err != nil {
		return nil, nil, err
	}

	o := s.build(rm, participants)
	s.registry.Register(roomID, o)
	return o, o.Run(ctx), nil
}

// Stop terminates the room's discussion and releases its orchestrator.
func (s *Service) Stop(ctx context.Context, roomID string) error {
	o := s.registry.Get(roomID)
	if o == nil {
		return fmt.Errorf("no running discussion for room %s", roomID)
	}
	err := o.Stop(ctx)
	s.registry.Unregister(roomID)
	return err
}

// Shutdown stops all running discussions.
func (s *Service) Shutdown() {
	s.registry.Shutdown()
}

func validateRoster(participants []room.Participant) error {
	if len(participants) < 2 {
		return fmt.Errorf("a discussion needs at least 2 participants, got %d", len(participants))
	}
	facilitators := 0
	for _, p := range participants {
		if p.IsFacilitator {
			facilitators++
		}
	}
	if facilitators != 1 {
		return fmt.Errorf("a discussion needs exactly one facilitator, got %d", facilitators)
	}
	return nil
}

func (s *Service) build(rm room.Room, participants []room.Participant) *Orchestrator {
	mode := s.settings.Load().ToolPermissionMode

	factory := func(p room.Participant, notifications chan<- agent.PrepNotification) *agent.Participant {
		ac := s.agentConfig(p.AgentKind)
		opts := agent.Options{
			Command:                  ac.Command,
			Args:                     ac.Args,
			WorkDir:                  s.resolveWorkdir(p),
			SystemPrompt:             prompts.SystemPrompt(p.IsFacilitator, rm.Language),
			RoomTopic:                rm.Topic,
			ContextText:              s.resolveContext(p),
			MeetingType:              string(rm.MeetingType),
			CustomMeetingDescription: rm.MeetingDescription,
			Language:                 rm.Language,
			PermissionMode:           string(mode),
			SpeakTimeout:             s.cfg.Orchestrator.SpeakTimeout,
			PrepareTimeout:           s.cfg.Orchestrator.PrepareTimeout,
			Notifications:            notifications,
		}
		return agent.NewParticipant(p, s.runner, opts)
	}

	return New(rm, participants, factory, Options{
		Store:     s.store,
		Prompts:   s.library,
		Lookahead: s.cfg.Orchestrator.Lookahead,
		TurnDelay: s.cfg.Orchestrator.TurnDelay,
	})
}

func (s *Service) agentConfig(kind room.AgentKind) config.AgentConfig {
	if ac, ok := s.cfg.Agents[string(kind)]; ok {
		return ac
	}
	// Unknown kinds fall back to the claude agent command.
	return s.cfg.Agents[string(room.AgentClaude)]
}

// resolveWorkdir recovers the participant's workspace path from their
// imported project reference. Codex project IDs encode the path directly;
// claude project IDs name an internal log directory whose session cwd holds
// the real path.
func (s *Service) resolveWorkdir(p room.Participant) string {
	if p.ContextProjectDir == "" {
		return ""
	}

	var (
		path string
		err  error
	)
	switch p.AgentKind {
	case room.AgentCodex:
		path, err = history.DecodePath(p.ContextProjectDir)
	default:
		path, err = s.claude.ProjectWorkdir(p.ContextProjectDir)
	}
	if err != nil {
		log.Warn(log.CatOrch, "Failed to resolve workdir", "participant", p.Name, "error", err)
		return ""
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		log.Warn(log.CatOrch, "Resolved workdir does not exist", "participant", p.Name, "path", path)
		return ""
	}
	log.Info(log.CatOrch, "Resolved workdir", "participant", p.Name, "path", path)
	return path
}

// resolveContext loads the participant's imported session history for prompt
// injection, falling back to the stored summary.
func (s *Service) resolveContext(p room.Participant) string {
	if p.ContextProjectDir == "" || p.ContextSessionID == "" {
		return p.ContextSummary
	}

	switch p.AgentKind {
	case room.AgentCodex:
		text, err := s.codex.SessionContext(p.ContextSessionID, contextMaxChars)
		if err != nil {
			log.Warn(log.CatOrch, "Failed to load codex context", "participant", p.Name, "error", err)
			return p.ContextSummary
		}
		return text
	default:
		messages, err := s.claude.LoadSession(p.ContextSessionID)
		if err != nil {
			log.Warn(log.CatOrch, "Failed to load claude context", "participant", p.Name, "error", err)
			return p.ContextSummary
		}
		log.Info(log.CatOrch, "Loaded session context", "participant", p.Name, "messages", len(messages))
		return history.FormatContext(messages, contextMaxChars)
	}
}
