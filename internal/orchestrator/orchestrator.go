package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nogataka/cc-discussion/internal/agent"
	"github.com/nogataka/cc-discussion/internal/log"
	"github.com/nogataka/cc-discussion/internal/mention"
	"github.com/nogataka/cc-discussion/internal/prompts"
	"github.com/nogataka/cc-discussion/internal/repository"
	"github.com/nogataka/cc-discussion/internal/room"
)

const (
	// defaultLookahead is how many queued speakers prepare in the background.
	defaultLookahead = 2
	// defaultTurnDelay separates consecutive turns.
	defaultTurnDelay = time.Second
	// prepBuffer bounds the background notification queue; overflow is
	// dropped at the sender.
	prepBuffer = 256
	// eventBuffer bounds the outward stream per run.
	eventBuffer = 64
)

// mention sources; @END is honored only from the facilitator.
const (
	sourceParticipant = "participant"
	sourceFacilitator = "facilitator"
	sourceModerator   = "moderator"
)

// AgentFactory builds the process controller for one participant seat.
// Preparation progress must be reported on notifications.
type AgentFactory func(p room.Participant, notifications chan<- agent.PrepNotification) *agent.Participant

// Options configures an Orchestrator.
type Options struct {
	Store   repository.Store
	Prompts *prompts.Library

	// Lookahead is how many mention-queue entries prepare ahead; <= 0 means
	// the default of 2.
	Lookahead int
	// TurnDelay is the pause between turns; <= 0 means the default of 1s.
	TurnDelay time.Duration
}

// Orchestrator runs the chain-driven discussion loop for one room. One
// Orchestrator instance survives pauses: Run may be called again after a
// moderator reply or an explicit restart, and the mention queue carries over.
type Orchestrator struct {
	store   repository.Store
	library *prompts.Library

	rm          room.Room
	roster      []room.Participant
	facilitator *agent.Participant
	regular     []*agent.Participant

	lookahead int
	turnDelay time.Duration
	prepCh    chan agent.PrepNotification

	mu                  sync.Mutex
	queue               []string
	running             bool
	paused              bool
	shouldEnd           bool
	waitingForModerator bool
}

// New assembles an orchestrator for r. participants is the full roster in
// seating order; factory is invoked once per seat.
func New(r room.Room, participants []room.Participant, factory AgentFactory, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:     opts.Store,
		library:   opts.Prompts,
		rm:        r,
		roster:    participants,
		lookahead: opts.Lookahead,
		turnDelay: opts.TurnDelay,
		prepCh:    make(chan agent.PrepNotification, prepBuffer),
	}
	if o.lookahead <= 0 {
		o.lookahead = defaultLookahead
	}
	if o.turnDelay <= 0 {
		o.turnDelay = defaultTurnDelay
	}
	for _, p := range participants {
		a := factory(p, o.prepCh)
		if p.IsFacilitator {
			o.facilitator = a
		} else {
			o.regular = append(o.regular, a)
		}
	}
	return o
}

// Room returns the room snapshot the orchestrator last observed.
func (o *Orchestrator) Room() room.Room {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rm
}

// Run starts (or resumes) the discussion loop and returns its event stream.
// The channel closes when the loop stops: completion, pause, moderator wait,
// or context cancellation.
func (o *Orchestrator) Run(ctx context.Context) <-chan Event {
	out := make(chan Event, eventBuffer)
	go func() {
		defer close(out)
		o.run(ctx, out)
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, out chan<- Event) {
	// Chain-driven flow cannot work without a facilitator to open and
	// designate.
	if o.facilitator == nil {
		o.emit(ctx, out, ErrorEvent{Content: "ファシリテーターが必要です。ルームにファシリテーターを追加してください。"})
		return
	}

	o.mu.Lock()
	o.running = true
	o.paused = false
	o.rm.Status = room.StatusActive
	o.mu.Unlock()
	if err := o.store.UpdateRoomStatus(ctx, o.rm.ID, room.StatusActive); err != nil {
		o.emit(ctx, out, ErrorEvent{Content: err.Error()})
		return
	}

	o.emit(ctx, out, DiscussionStart{
		RoomID:         o.rm.ID,
		MaxTurns:       o.rm.MaxTurns,
		HasFacilitator: true,
	})

	// Fresh rooms get the templated opening; resumed runs re-enter the loop
	// directly so the moderator exchange stays in place.
	opened, err := o.hasMessages(ctx)
	if err != nil {
		o.emit(ctx, out, ErrorEvent{Content: err.Error()})
		return
	}
	if !opened {
		if !o.facilitatorOpening(ctx, out) {
			return
		}
		if !o.sleep(ctx, o.turnDelay) {
			return
		}
	}

	for o.loopActive() {
		speaker := o.nextSpeaker()

		if speaker == nil {
			// Chain broke: facilitator designates the next speaker.
			if !o.facilitatorTurn(ctx, out, facDesignation) {
				return
			}
			if !o.sleep(ctx, o.turnDelay) {
				return
			}

			if o.endRequested() {
				log.Info(log.CatOrch, "Facilitator requested end during designation", "room", o.rm.ID)
				break
			}
			speaker = o.nextSpeaker()
			if speaker == nil {
				log.Info(log.CatOrch, "No speaker after designation, closing", "room", o.rm.ID)
				break
			}
		}

		if !o.runTurn(ctx, out, speaker) {
			return
		}

		if o.moderatorRequested() {
			o.emit(ctx, out, WaitingForModerator{
				Turn:    o.currentTurn(),
				Message: "モデレーターへの質問があります。返答をお願いします。",
			})
			o.setPaused(ctx, true)
			return
		}

		if !o.sleep(ctx, o.turnDelay) {
			return
		}

		// An external Pause lands here, at the turn boundary.
		stored, err := o.store.GetRoom(ctx, o.rm.ID)
		if err == nil && stored.Status == room.StatusPaused {
			o.mu.Lock()
			o.paused = true
			o.mu.Unlock()
			o.emit(ctx, out, DiscussionPaused{Turn: o.currentTurn()})
			return
		}
	}

	if o.isPaused() {
		return
	}

	if !o.facilitatorTurn(ctx, out, facClosing) {
		return
	}

	o.mu.Lock()
	o.rm.Status = room.StatusCompleted
	o.mu.Unlock()
	if err := o.store.UpdateRoomStatus(ctx, o.rm.ID, room.StatusCompleted); err != nil {
		log.Warn(log.CatOrch, "Failed to mark room completed", "room", o.rm.ID, "error", err)
	}
	o.emit(ctx, out, DiscussionComplete{TotalTurns: o.currentTurn()})
}

// Pause requests a pause; it takes effect at the next turn boundary and
// leaves any in-flight speech running to completion.
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.mu.Lock()
	o.paused = true
	o.rm.Status = room.StatusPaused
	o.mu.Unlock()
	return o.store.UpdateRoomStatus(ctx, o.rm.ID, room.StatusPaused)
}

// Stop ends the discussion immediately, terminating all agent subprocesses,
// and marks the room completed.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.running = false
	o.rm.Status = room.StatusCompleted
	o.mu.Unlock()

	o.stopAgents()
	return o.store.UpdateRoomStatus(ctx, o.rm.ID, room.StatusCompleted)
}

// Shutdown terminates all agent subprocesses without touching room state.
func (o *Orchestrator) Shutdown() {
	o.stopAgents()
}

func (o *Orchestrator) stopAgents() {
	if o.facilitator != nil {
		o.facilitator.Stop()
	}
	for _, a := range o.regular {
		a.Stop()
	}
}

// Moderate injects a human moderator message: it is persisted at the current
// turn, its @mentions reseed the speaker queue, and, if the discussion was
// waiting on the moderator, the wait is cleared. The returned resume flag
// tells the caller to invoke Run again.
func (o *Orchestrator) Moderate(ctx context.Context, content string) (ModeratorMessage, bool, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return ModeratorMessage{}, false, fmt.Errorf("empty moderator message")
	}

	msg, err := o.store.AppendMessage(ctx, room.Message{
		RoomID:     o.rm.ID,
		Role:       room.RoleModerator,
		Content:    content,
		TurnNumber: o.currentTurn(),
	})
	if err != nil {
		return ModeratorMessage{}, false, err
	}

	d := mention.Parse(content)
	mentioned := mention.Resolve(d, o.roster)

	o.mu.Lock()
	if len(mentioned) > 0 {
		o.queue = append([]string(nil), mentioned...)
		log.Info(log.CatOrch, "Moderator reseeded speaker queue", "room", o.rm.ID, "speakers", mentioned)
	}
	resume := o.waitingForModerator
	if resume {
		o.waitingForModerator = false
		o.paused = false
	}
	o.mu.Unlock()

	if resume {
		if err := o.store.UpdateRoomStatus(ctx, o.rm.ID, room.StatusWaiting); err != nil {
			return ModeratorMessage{}, false, err
		}
		log.Info(log.CatOrch, "Moderator responded, resuming discussion", "room", o.rm.ID)
	}

	return ModeratorMessage{
		MessageID:             msg.ID,
		Content:               content,
		TurnNumber:            msg.TurnNumber,
		MentionedParticipants: mentioned,
	}, resume, nil
}

// Interject runs a facilitator steering turn on demand. It is only available
// while the main loop is idle or paused: an in-flight run owns the
// facilitator's speak slot, so interjecting then would race the current turn.
// The returned stream carries just that turn's events.
func (o *Orchestrator) Interject(ctx context.Context) (<-chan Event, error) {
	o.mu.Lock()
	busy := o.running && !o.paused
	o.mu.Unlock()
	if busy {
		return nil, fmt.Errorf("discussion in progress; pause before interjecting")
	}

	out := make(chan Event, eventBuffer)
	go func() {
		defer close(out)
		if o.facilitator == nil {
			o.emit(ctx, out, ErrorEvent{Content: "ファシリテーターが必要です。"})
			return
		}
		o.facilitatorTurn(ctx, out, facInterjection)
	}()
	return out, nil
}

// loopActive reports whether the main loop should take another turn.
func (o *Orchestrator) loopActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running && !o.paused && !o.shouldEnd && o.rm.CurrentTurn < o.rm.MaxTurns
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) endRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shouldEnd
}

func (o *Orchestrator) moderatorRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.waitingForModerator
}

func (o *Orchestrator) currentTurn() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rm.CurrentTurn
}

func (o *Orchestrator) setPaused(ctx context.Context, paused bool) {
	o.mu.Lock()
	o.paused = paused
	if paused {
		o.rm.Status = room.StatusPaused
	}
	o.mu.Unlock()
	if paused {
		if err := o.store.UpdateRoomStatus(ctx, o.rm.ID, room.StatusPaused); err != nil {
			log.Warn(log.CatOrch, "Failed to persist paused status", "room", o.rm.ID, "error", err)
		}
	}
}

func (o *Orchestrator) hasMessages(ctx context.Context) (bool, error) {
	msgs, err := o.store.ListMessages(ctx, o.rm.ID)
	if err != nil {
		return false, err
	}
	return len(msgs) > 0, nil
}

// emit delivers e unless ctx is done; false means the run should unwind.
func (o *Orchestrator) emit(ctx context.Context, out chan<- Event, e Event) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// drainPrep forwards queued background preparation notices.
func (o *Orchestrator) drainPrep(ctx context.Context, out chan<- Event) bool {
	for {
		select {
		case n := <-o.prepCh:
			var e Event
			switch n.Kind {
			case agent.PrepComplete:
				e = PreparationComplete{
					ParticipantID:   n.ParticipantID,
					ParticipantName: n.ParticipantName,
					NotesPreview:    n.Detail,
				}
			default:
				e = BackgroundActivity{
					ParticipantID:   n.ParticipantID,
					ParticipantName: n.ParticipantName,
					Activity:        n.Detail,
				}
			}
			if !o.emit(ctx, out, e) {
				return false
			}
		default:
			return true
		}
	}
}

// history renders the conversation so far in the bracketed-speaker format
// every agent prompt consumes.
func (o *Orchestrator) history(ctx context.Context) (string, error) {
	msgs, err := o.store.ListMessages(ctx, o.rm.ID)
	if err != nil {
		return "", err
	}

	names := make(map[string]string, len(o.roster))
	for _, p := range o.roster {
		names[p.ID] = p.Name
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case room.RoleSystem:
			lines = append(lines, "[System]: "+m.Content+"\n")
		case room.RoleModerator:
			lines = append(lines, "[Moderator]: "+m.Content+"\n")
		default:
			name := names[m.ParticipantID]
			if name == "" {
				name = "Unknown"
			}
			lines = append(lines, "["+name+"]: "+m.Content+"\n")
		}
	}
	return strings.Join(lines, "\n"), nil
}

// checkMentions updates the directive state from one message. Named mentions
// replace the queue; @ALL queues the whole regular roster; @END is honored
// only from the facilitator; the moderator token flags a human-input wait
// without suppressing other mentions in the same message.
func (o *Orchestrator) checkMentions(content, source string) {
	d := mention.Parse(content)

	if d.IsEnd && source == sourceFacilitator {
		o.mu.Lock()
		o.shouldEnd = true
		o.mu.Unlock()
		log.Info(log.CatOrch, "End directive from facilitator", "room", o.rm.ID)
		return
	}

	if d.IsModerator {
		o.mu.Lock()
		o.waitingForModerator = true
		o.mu.Unlock()
		log.Info(log.CatOrch, "Moderator requested", "room", o.rm.ID, "source", source)
	}

	if d.IsAll {
		ids := make([]string, 0, len(o.regular))
		for _, a := range o.regular {
			ids = append(ids, a.Info().ID)
		}
		o.mu.Lock()
		o.queue = ids
		o.mu.Unlock()
		log.Info(log.CatOrch, "All participants queued", "room", o.rm.ID, "source", source)
		return
	}

	mentioned := mention.Resolve(d, o.roster)
	if len(mentioned) > 0 {
		o.mu.Lock()
		o.queue = mentioned
		o.mu.Unlock()
		log.Info(log.CatOrch, "Speaker queue replaced", "room", o.rm.ID, "source", source, "speakers", mentioned)
	}
}

// nextSpeaker pops the mention queue. nil means nobody was nominated and the
// facilitator must intervene; there is no round-robin fallback.
func (o *Orchestrator) nextSpeaker() *agent.Participant {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.queue) > 0 {
		id := o.queue[0]
		o.queue = o.queue[1:]
		for _, a := range o.regular {
			if a.Info().ID == id {
				return a
			}
		}
		log.Warn(log.CatOrch, "Queued participant not found", "room", o.rm.ID, "participant", id)
	}
	return nil
}

func (o *Orchestrator) speakersToPrepare() []*agent.Participant {
	o.mu.Lock()
	head := append([]string(nil), o.queue...)
	o.mu.Unlock()
	if len(head) > o.lookahead {
		head = head[:o.lookahead]
	}

	var agents []*agent.Participant
	for _, id := range head {
		for _, a := range o.regular {
			if a.Info().ID == id {
				agents = append(agents, a)
				break
			}
		}
	}
	return agents
}

// startPreparations kicks off background preparation for the queue head.
func (o *Orchestrator) startPreparations(ctx context.Context, out chan<- Event, history string) bool {
	for _, a := range o.speakersToPrepare() {
		if a.State() == agent.StatePreparing || a.HasPreparation() {
			continue
		}
		info := a.Info()
		if !o.emit(ctx, out, PreparationStart{ParticipantID: info.ID, ParticipantName: info.Name}) {
			return false
		}
		a.StartPreparation(ctx, history)
	}
	return true
}

// runTurn executes one regular speaking turn; false means the run should
// unwind (context cancelled).
func (o *Orchestrator) runTurn(ctx context.Context, out chan<- Event, speaker *agent.Participant) bool {
	p := speaker.Info()
	turn := o.currentTurn() + 1
	log.Info(log.CatOrch, "Turn starting", "room", o.rm.ID, "speaker", p.Name, "turn", turn)

	if !o.emit(ctx, out, TurnStart{ParticipantID: p.ID, ParticipantName: p.Name, TurnNumber: turn}) {
		return false
	}

	if err := o.store.SetSpeaking(ctx, p.ID, true); err != nil {
		log.Warn(log.CatOrch, "Failed to flag speaker", "participant", p.Name, "error", err)
	}
	defer func() {
		if err := o.store.SetSpeaking(ctx, p.ID, false); err != nil {
			log.Warn(log.CatOrch, "Failed to clear speaker flag", "participant", p.Name, "error", err)
		}
	}()

	history, err := o.history(ctx)
	if err != nil {
		return o.emit(ctx, out, ErrorEvent{ParticipantID: p.ID, Content: err.Error()})
	}

	if !o.startPreparations(ctx, out, history) {
		return false
	}
	if !o.drainPrep(ctx, out) {
		return false
	}

	stream, err := speaker.Speak(ctx, history)
	if err != nil {
		return o.emit(ctx, out, ErrorEvent{ParticipantID: p.ID, Content: err.Error()})
	}

	fullContent := ""
	for ev := range stream {
		switch ev.Type {
		case agent.EventText:
			if !o.emit(ctx, out, Text{ParticipantID: p.ID, Content: ev.Content}) {
				return false
			}
		case agent.EventToolUse:
			if !o.emit(ctx, out, ToolUse{ParticipantID: p.ID, Tool: ev.Tool, Input: ev.Input}) {
				return false
			}
		case agent.EventResponseComplete:
			fullContent = ev.FullContent
		case agent.EventError:
			if !o.emit(ctx, out, ErrorEvent{ParticipantID: p.ID, Content: ev.Content}) {
				return false
			}
		}
		if !o.drainPrep(ctx, out) {
			return false
		}
	}

	msg, err := o.store.AppendMessage(ctx, room.Message{
		RoomID:        o.rm.ID,
		ParticipantID: p.ID,
		Role:          room.RoleParticipant,
		Content:       fullContent,
		TurnNumber:    turn,
	})
	if err != nil {
		return o.emit(ctx, out, ErrorEvent{ParticipantID: p.ID, Content: err.Error()})
	}
	if err := o.store.IncrementMessageCount(ctx, p.ID); err != nil {
		log.Warn(log.CatOrch, "Failed to bump message count", "participant", p.Name, "error", err)
	}

	o.mu.Lock()
	o.rm.CurrentTurn = turn
	o.mu.Unlock()
	if err := o.store.UpdateRoomTurn(ctx, o.rm.ID, turn); err != nil {
		log.Warn(log.CatOrch, "Failed to persist turn", "room", o.rm.ID, "error", err)
	}

	if fullContent != "" {
		o.checkMentions(fullContent, sourceParticipant)
	}

	return o.emit(ctx, out, TurnComplete{ParticipantID: p.ID, MessageID: msg.ID, TurnNumber: turn})
}

// facilitatorOpening emits the deterministic templated opening that nominates
// the first speaker. Turn number stays at zero.
func (o *Orchestrator) facilitatorOpening(ctx context.Context, out chan<- Event) bool {
	p := o.facilitator.Info()

	if !o.emit(ctx, out, TurnStart{
		ParticipantID:   p.ID,
		ParticipantName: p.Name,
		TurnNumber:      0,
		IsFacilitator:   true,
	}) {
		return false
	}

	if err := o.store.SetSpeaking(ctx, p.ID, true); err != nil {
		log.Warn(log.CatOrch, "Failed to flag facilitator", "error", err)
	}
	defer func() {
		if err := o.store.SetSpeaking(ctx, p.ID, false); err != nil {
			log.Warn(log.CatOrch, "Failed to clear facilitator flag", "error", err)
		}
	}()

	firstSpeaker := "参加者"
	if len(o.regular) > 0 {
		firstSpeaker = o.regular[0].Info().Name
	}
	opening := o.library.Opening(o.rm, o.roster, firstSpeaker)
	if opening == "" {
		return true
	}

	if !o.emit(ctx, out, Text{ParticipantID: p.ID, Content: opening}) {
		return false
	}

	msg, err := o.store.AppendMessage(ctx, room.Message{
		RoomID:        o.rm.ID,
		ParticipantID: p.ID,
		Role:          room.RoleParticipant,
		Content:       opening,
		TurnNumber:    0,
	})
	if err != nil {
		return o.emit(ctx, out, ErrorEvent{ParticipantID: p.ID, Content: err.Error()})
	}
	if err := o.store.IncrementMessageCount(ctx, p.ID); err != nil {
		log.Warn(log.CatOrch, "Failed to bump facilitator count", "error", err)
	}

	// The opening nominates the first speaker.
	o.checkMentions(opening, sourceFacilitator)

	return o.emit(ctx, out, TurnComplete{
		ParticipantID: p.ID,
		MessageID:     msg.ID,
		TurnNumber:    0,
		IsFacilitator: true,
	})
}

// facTurnKind selects which special facilitator turn to run.
type facTurnKind int

const (
	facDesignation facTurnKind = iota
	facInterjection
	facClosing
)

// facilitatorTurn invokes the facilitator agent with the conversation so far
// plus the turn-specific prompt appended, persists the result as a numbered
// turn, and (except for closing) feeds the response back through mention
// parsing.
func (o *Orchestrator) facilitatorTurn(ctx context.Context, out chan<- Event, kind facTurnKind) bool {
	p := o.facilitator.Info()
	turn := o.currentTurn() + 1

	start := TurnStart{
		ParticipantID:   p.ID,
		ParticipantName: p.Name,
		TurnNumber:      turn,
		IsFacilitator:   true,
		IsDesignation:   kind == facDesignation,
		IsInterjection:  kind == facInterjection,
		IsClosing:       kind == facClosing,
	}
	if !o.emit(ctx, out, start) {
		return false
	}

	if err := o.store.SetSpeaking(ctx, p.ID, true); err != nil {
		log.Warn(log.CatOrch, "Failed to flag facilitator", "error", err)
	}
	defer func() {
		if err := o.store.SetSpeaking(ctx, p.ID, false); err != nil {
			log.Warn(log.CatOrch, "Failed to clear facilitator flag", "error", err)
		}
	}()

	history, err := o.history(ctx)
	if err != nil {
		return o.emit(ctx, out, ErrorEvent{ParticipantID: p.ID, Content: err.Error()})
	}

	var prompt string
	switch kind {
	case facDesignation:
		roster, rerr := o.store.ListParticipants(ctx, o.rm.ID)
		if rerr != nil {
			roster = o.roster
		}
		prompt = prompts.DesignationPrompt(roster)
	case facInterjection:
		prompt = prompts.InterjectionPrompt
	case facClosing:
		prompt = prompts.ClosingPrompt
	}
	history += "\n\n" + prompt

	stream, err := o.facilitator.Speak(ctx, history)
	if err != nil {
		return o.emit(ctx, out, ErrorEvent{ParticipantID: p.ID, Content: err.Error()})
	}

	fullContent := ""
	for ev := range stream {
		switch ev.Type {
		case agent.EventText:
			if !o.emit(ctx, out, Text{ParticipantID: p.ID, Content: ev.Content}) {
				return false
			}
		case agent.EventResponseComplete:
			fullContent = ev.FullContent
		case agent.EventError:
			if !o.emit(ctx, out, ErrorEvent{ParticipantID: p.ID, Content: ev.Content}) {
				return false
			}
		}
		if !o.drainPrep(ctx, out) {
			return false
		}
	}

	msg, err := o.store.AppendMessage(ctx, room.Message{
		RoomID:        o.rm.ID,
		ParticipantID: p.ID,
		Role:          room.RoleParticipant,
		Content:       fullContent,
		TurnNumber:    turn,
	})
	if err != nil {
		return o.emit(ctx, out, ErrorEvent{ParticipantID: p.ID, Content: err.Error()})
	}
	if err := o.store.IncrementMessageCount(ctx, p.ID); err != nil {
		log.Warn(log.CatOrch, "Failed to bump facilitator count", "error", err)
	}

	o.mu.Lock()
	o.rm.CurrentTurn = turn
	o.mu.Unlock()
	if err := o.store.UpdateRoomTurn(ctx, o.rm.ID, turn); err != nil {
		log.Warn(log.CatOrch, "Failed to persist turn", "room", o.rm.ID, "error", err)
	}

	if kind != facClosing && fullContent != "" {
		o.checkMentions(fullContent, sourceFacilitator)
	}

	return o.emit(ctx, out, TurnComplete{
		ParticipantID:  p.ID,
		MessageID:      msg.ID,
		TurnNumber:     turn,
		IsFacilitator:  true,
		IsDesignation:  kind == facDesignation,
		IsInterjection: kind == facInterjection,
		IsClosing:      kind == facClosing,
	})
}
