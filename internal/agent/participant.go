package agent

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nogataka/cc-discussion/internal/log"
	"github.com/nogataka/cc-discussion/internal/room"
)

// State is a participant's position in the prepare/speak cycle. Ready is
// optional: a participant may go straight from Idle to Speaking when no
// preparation ran.
type State string

// Participant states.
const (
	StateIdle      State = "idle"
	StatePreparing State = "preparing"
	StateReady     State = "ready"
	StateSpeaking  State = "speaking"
)

// PrepKind distinguishes preparation notifications.
type PrepKind string

// Preparation notification kinds.
const (
	PrepActivity PrepKind = "activity"
	PrepComplete PrepKind = "complete"
)

// PrepNotification is sent on the notification channel as background
// preparation progresses.
type PrepNotification struct {
	ParticipantID   string
	ParticipantName string
	Kind            PrepKind
	Detail          string
}

// Options configures a Participant controller.
type Options struct {
	Command string
	Args    []string
	WorkDir string

	// SystemPrompt carries the seat's role instructions (facilitator guide
	// or nomination contract) into every invocation's data payload.
	SystemPrompt             string
	RoomTopic                string
	ContextText              string
	MeetingType              string
	CustomMeetingDescription string
	Language                 string
	PermissionMode           string

	SpeakTimeout   time.Duration
	PrepareTimeout time.Duration

	// Notifications receives preparation progress. Sends never block; when
	// the channel is full the notification is dropped.
	Notifications chan<- PrepNotification
}

// Participant owns the two mutually exclusive process slots (prepare, speak)
// for one discussion participant.
type Participant struct {
	info   room.Participant
	runner Runner
	opts   Options

	mu        sync.Mutex
	state     State
	prepNotes string
	prepDone  bool
	prep      Handle
	speak     Handle
}

// NewParticipant returns an idle controller for p.
func NewParticipant(p room.Participant, runner Runner, opts Options) *Participant {
	return &Participant{info: p, runner: runner, opts: opts, state: StateIdle}
}

// Info returns the participant record this controller drives.
func (a *Participant) Info() room.Participant {
	return a.info
}

// State returns the current lifecycle state.
func (a *Participant) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// HasPreparation reports whether unconsumed preparation notes exist.
func (a *Participant) HasPreparation() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prepDone
}

func (a *Participant) invocation(mode Mode, history, notes string, timeout time.Duration) Config {
	return Config{
		Command:         a.opts.Command,
		Args:            a.opts.Args,
		ParticipantID:   a.info.ID,
		ParticipantName: a.info.Name,
		Role:            a.info.Role,
		Mode:            mode,
		WorkDir:         a.opts.WorkDir,
		Language:        a.opts.Language,
		MeetingType:     a.opts.MeetingType,
		IsFacilitator:   a.info.IsFacilitator,
		PermissionMode:  a.opts.PermissionMode,
		Timeout:         timeout,
		Data: DataPayload{
			SystemPrompt:             a.opts.SystemPrompt,
			RoomTopic:                a.opts.RoomTopic,
			ContextText:              a.opts.ContextText,
			ConversationHistory:      history,
			PreparationNotes:         notes,
			MeetingType:              a.opts.MeetingType,
			CustomMeetingDescription: a.opts.CustomMeetingDescription,
			Language:                 a.opts.Language,
		},
	}
}

func (a *Participant) notifyPrep(kind PrepKind, detail string) {
	if a.opts.Notifications == nil {
		return
	}
	n := PrepNotification{
		ParticipantID:   a.info.ID,
		ParticipantName: a.info.Name,
		Kind:            kind,
		Detail:          detail,
	}
	select {
	case a.opts.Notifications <- n:
	default:
		log.Debug(log.CatAgent, "Preparation notification dropped", "participant", a.info.Name, "kind", kind)
	}
}

// StartPreparation launches a background prepare invocation. No-op if already
// preparing or if unconsumed notes exist.
func (a *Participant) StartPreparation(ctx context.Context, history string) {
	a.mu.Lock()
	if a.state == StatePreparing || a.prepDone {
		a.mu.Unlock()
		return
	}
	a.state = StatePreparing
	a.prepNotes = ""
	a.mu.Unlock()

	handle, err := a.runner.Start(ctx, a.invocation(ModePrepare, history, "", a.opts.PrepareTimeout))
	if err != nil {
		log.Warn(log.CatAgent, "Failed to start preparation", "participant", a.info.Name, "error", err)
		a.mu.Lock()
		a.state = StateIdle
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	a.prep = handle
	a.mu.Unlock()

	log.Info(log.CatAgent, "Preparation started", "participant", a.info.Name)
	go a.collectPreparation(handle)
}

// collectPreparation accumulates prepare output and publishes the notes once
// the invocation finishes, success or failure.
func (a *Participant) collectPreparation(handle Handle) {
	var notes string
	for event := range handle.Events() {
		switch event.Type {
		case EventText:
			notes += event.Content
		case EventResponseComplete:
			if event.FullContent != "" {
				notes = event.FullContent
			}
		case EventToolUse:
			a.notifyPrep(PrepActivity, "Using "+event.Tool+": "+truncate(event.Input, 50))
		}
	}
	for err := range handle.Errors() {
		log.Warn(log.CatAgent, "Preparation error", "participant", a.info.Name, "error", err)
	}
	handle.Wait()

	a.mu.Lock()
	cancelled := handle.Status() == StatusCancelled
	if cancelled {
		// Stop() won the race; abandon the notes.
		a.prepNotes = ""
		a.prepDone = false
		if a.state == StatePreparing {
			a.state = StateIdle
		}
	} else {
		a.prepNotes = notes
		a.prepDone = true
		if a.state == StatePreparing {
			a.state = StateReady
		}
	}
	a.prep = nil
	a.mu.Unlock()

	if cancelled {
		return
	}

	log.Info(log.CatAgent, "Preparation complete", "participant", a.info.Name, "chars", len(notes))
	preview := notes
	if utf8.RuneCountInString(preview) > 200 {
		preview = truncate(preview, 200) + "..."
	}
	a.notifyPrep(PrepComplete, preview)
}

// Speak launches a speak invocation and returns its event stream. The stream
// is finite and single-consumption: it carries text/tool_use/error events in
// process output order (debug suppressed) and closes when the invocation
// ends. Unless the invocation was cancelled or produced nothing at all, the
// final element is a response_complete event whose FullContent is the
// resolved turn content: the subprocess's own full_content when it reported
// one, otherwise the concatenated text chunks. Preparation notes are consumed
// immediately, before the subprocess starts, so an interrupted turn cannot
// reuse them.
func (a *Participant) Speak(ctx context.Context, history string) (<-chan Event, error) {
	a.mu.Lock()
	notes := a.prepNotes
	a.prepNotes = ""
	a.prepDone = false
	a.state = StateSpeaking
	a.mu.Unlock()

	handle, err := a.runner.Start(ctx, a.invocation(ModeSpeak, history, notes, a.opts.SpeakTimeout))
	if err != nil {
		a.mu.Lock()
		a.state = StateIdle
		a.mu.Unlock()
		return nil, err
	}

	a.mu.Lock()
	a.speak = handle
	a.mu.Unlock()

	log.Info(log.CatAgent, "Speech started", "participant", a.info.Name, "prepChars", len(notes))

	out := make(chan Event, 100)
	go a.streamSpeech(handle, out)
	return out, nil
}

func (a *Participant) streamSpeech(handle Handle, out chan<- Event) {
	defer func() {
		close(out)
		a.mu.Lock()
		a.speak = nil
		if a.state == StateSpeaking {
			a.state = StateIdle
		}
		a.mu.Unlock()
	}()

	var text strings.Builder
	fullContent := ""
	for event := range handle.Events() {
		switch event.Type {
		case EventDebug:
			continue
		case EventResponseComplete:
			// Held back; the resolved content is emitted once at the end.
			if event.FullContent != "" {
				fullContent = event.FullContent
			}
			continue
		case EventText:
			text.WriteString(event.Content)
		}
		out <- event
	}
	if fullContent == "" {
		fullContent = text.String()
	}

	var procErr error
	for err := range handle.Errors() {
		procErr = err
	}
	handle.Wait()

	if handle.Status() == StatusCancelled {
		return
	}

	// Partial output survives a failed exit; only a fully silent failure
	// becomes an error event.
	if procErr != nil && fullContent == "" {
		log.Error(log.CatAgent, "Speech failed with no output", "participant", a.info.Name, "error", procErr)
		out <- Event{Type: EventError, Content: procErr.Error(), Timestamp: time.Now()}
		return
	}
	if fullContent == "" {
		return
	}
	out <- Event{Type: EventResponseComplete, FullContent: fullContent, Timestamp: time.Now()}
}

// Stop terminates any in-flight prepare and speak invocations. Safe to call
// from any state, idempotent.
func (a *Participant) Stop() {
	a.mu.Lock()
	prep, speak := a.prep, a.speak
	a.prep, a.speak = nil, nil
	a.state = StateIdle
	a.mu.Unlock()

	if prep != nil {
		_ = prep.Cancel()
	}
	if speak != nil {
		_ = speak.Cancel()
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
