package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nogataka/cc-discussion/internal/agent"
	"github.com/nogataka/cc-discussion/internal/prompts"
	"github.com/nogataka/cc-discussion/internal/repository"
	"github.com/nogataka/cc-discussion/internal/room"
)

// doneHandle is a pre-finished invocation handle.
type doneHandle struct {
	events chan agent.Event
	errs   chan error

	mu     sync.Mutex
	status agent.ProcessStatus
}

func newDoneHandle(events []agent.Event, err error, status agent.ProcessStatus) *doneHandle {
	h := &doneHandle{
		events: make(chan agent.Event, len(events)+1),
		errs:   make(chan error, 1),
		status: status,
	}
	for _, e := range events {
		h.events <- e
	}
	close(h.events)
	if err != nil {
		h.errs <- err
	}
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

// scriptedRunner serves canned speak responses per participant, in order, and
// a fixed preparation transcript for everyone.
type scriptedRunner struct {
	mu    sync.Mutex
	speak map[string][]string
	prep  []agent.Event
	calls []agent.Config
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{speak: make(map[string][]string)}
}

func (r *scriptedRunner) say(name string, responses ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speak[name] = append(r.speak[name], responses...)
}

func (r *scriptedRunner) Start(_ context.Context, cfg agent.Config) (agent.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cfg)

	if cfg.Mode == agent.ModePrepare {
		events := r.prep
		if events == nil {
			events = []agent.Event{{Type: agent.EventText, Content: "preparation notes"}}
		}
		return newDoneHandle(events, nil, agent.StatusCompleted), nil
	}

	text := "特にありません。"
	if queue := r.speak[cfg.ParticipantName]; len(queue) > 0 {
		text = queue[0]
		r.speak[cfg.ParticipantName] = queue[1:]
	}
	return newDoneHandle([]agent.Event{
		{Type: agent.EventText, Content: text},
		{Type: agent.EventResponseComplete, FullContent: text},
	}, nil, agent.StatusCompleted), nil
}

func (r *scriptedRunner) speakCalls(name string) []agent.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	var calls []agent.Config
	for _, c := range r.calls {
		if c.Mode == agent.ModeSpeak && c.ParticipantName == name {
			calls = append(calls, c)
		}
	}
	return calls
}

type fixture struct {
	store  *repository.Memory
	runner *scriptedRunner
	orch   *Orchestrator
	rm     room.Room
	seats  map[string]room.Participant // by name
}

func newFixture(t *testing.T, maxTurns int) *fixture {
	t.Helper()

	store := repository.NewMemory()
	ctx := context.Background()

	rm, err := store.CreateRoom(ctx, room.Room{
		Name:        "設計レビュー",
		Topic:       "キャッシュ層の設計",
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
		p, err := store.AddParticipant(ctx, seat)
		require.NoError(t, err)
		seats[p.Name] = p
	}

	roster, err := store.ListParticipants(ctx, rm.ID)
	require.NoError(t, err)

	library, err := prompts.LoadBuiltin()
	require.NoError(t, err)

	runner := newScriptedRunner()
	factory := func(p room.Participant, notifications chan<- agent.PrepNotification) *agent.Participant {
		return agent.NewParticipant(p, runner, agent.Options{
			Command:       "fake-agent",
			RoomTopic:     rm.Topic,
			Language:      rm.Language,
			Notifications: notifications,
		})
	}

	orch := New(rm, roster, factory, Options{
		Store:     store,
		Prompts:   library,
		TurnDelay: 20 * time.Millisecond,
	})
	return &fixture{store: store, runner: runner, orch: orch, rm: rm, seats: seats}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events", len(events))
		}
	}
}

func kinds(events []Event) []Kind {
	out := make([]Kind, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventKind())
	}
	return out
}

func eventsOf[T Event](events []Event) []T {
	var out []T
	for _, e := range events {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func TestRun_OpeningSeedsFirstSpeakerAndChainsNominations(t *testing.T) {
	f := newFixture(t, 2)
	f.runner.say("Alice", "私の意見です。次は @Bob さんどうぞ。")
	f.runner.say("Bob", "同意します。")
	f.runner.say("Facilitator", "本日はここまでとします。ありがとうございました。")

	events := collect(t, f.orch.Run(context.Background()))

	require.NotEmpty(t, events)
	assert.Equal(t, KindDiscussionStart, events[0].EventKind())

	starts := eventsOf[TurnStart](events)
	require.Len(t, starts, 4) // opening, Alice, Bob, closing
	assert.True(t, starts[0].IsFacilitator)
	assert.Equal(t, 0, starts[0].TurnNumber)
	assert.Equal(t, "Alice", starts[1].ParticipantName)
	assert.Equal(t, 1, starts[1].TurnNumber)
	assert.Equal(t, "Bob", starts[2].ParticipantName)
	assert.Equal(t, 2, starts[2].TurnNumber)
	assert.True(t, starts[3].IsClosing)

	last := events[len(events)-1]
	complete, ok := last.(DiscussionComplete)
	require.True(t, ok, "stream should end with discussion_complete, got %T", last)
	assert.Equal(t, 3, complete.TotalTurns) // two speakers + closing

	rm, err := f.store.GetRoom(context.Background(), f.rm.ID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusCompleted, rm.Status)
}

func TestRun_TurnNumbersAreMonotonic(t *testing.T) {
	f := newFixture(t, 3)
	f.runner.say("Alice", "次は @Bob さん。")
	f.runner.say("Bob", "では @Alice さん。")
	f.runner.say("Alice", "以上です。次は @Bob さん。")

	events := collect(t, f.orch.Run(context.Background()))

	prev := -1
	for _, e := range eventsOf[TurnComplete](events) {
		assert.Greater(t, e.TurnNumber, prev-1)
		if e.TurnNumber > 0 {
			assert.Greater(t, e.TurnNumber, prev)
		}
		prev = e.TurnNumber
	}

	rm, err := f.store.GetRoom(context.Background(), f.rm.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, rm.CurrentTurn, rm.MaxTurns+1) // closing may add one
}

func TestRun_ParticipantEndDirectiveIsIgnored(t *testing.T) {
	f := newFixture(t, 2)
	f.runner.say("Alice", "@END これで終わりにしましょう。@Bob さんどうぞ。")
	f.runner.say("Bob", "続けます。")

	events := collect(t, f.orch.Run(context.Background()))

	// @END from a participant must not end the discussion; Bob still speaks.
	var bobSpoke bool
	for _, e := range eventsOf[TurnStart](events) {
		if e.ParticipantName == "Bob" && !e.IsFacilitator {
			bobSpoke = true
		}
	}
	assert.True(t, bobSpoke)
}

func TestRun_FacilitatorEndDirectiveClosesDiscussion(t *testing.T) {
	f := newFixture(t, 10)
	// Alice nominates nobody, forcing a designation; the facilitator ends it.
	f.runner.say("Alice", "特に付け加えることはありません。")
	f.runner.say("Facilitator", "議論は尽くされたようです。@END", "それでは会議を終了します。")

	events := collect(t, f.orch.Run(context.Background()))

	var designations, closings int
	for _, e := range eventsOf[TurnComplete](events) {
		if e.IsDesignation {
			designations++
		}
		if e.IsClosing {
			closings++
		}
	}
	assert.Equal(t, 1, designations)
	assert.Equal(t, 1, closings)
	assert.Equal(t, KindDiscussionComplete, events[len(events)-1].EventKind())
}

func TestRun_DesignationFallbackSelectsSpeaker(t *testing.T) {
	f := newFixture(t, 2)
	f.runner.say("Alice", "以上です。") // no nomination
	f.runner.say("Facilitator",
		"それでは @Bob さん、お願いします。", // designation
		"本日のまとめです。")             // closing
	f.runner.say("Bob", "承知しました。")

	events := collect(t, f.orch.Run(context.Background()))

	var sawDesignation bool
	for i, e := range events {
		if ts, ok := e.(TurnStart); ok && ts.IsDesignation {
			sawDesignation = true
			// Bob must speak after the designation.
			found := false
			for _, later := range events[i+1:] {
				if ts2, ok := later.(TurnStart); ok && ts2.ParticipantName == "Bob" && !ts2.IsFacilitator {
					found = true
				}
			}
			assert.True(t, found, "Bob should speak after designation")
		}
	}
	assert.True(t, sawDesignation)
}

func TestRun_AllMentionQueuesEveryRegularParticipant(t *testing.T) {
	f := newFixture(t, 3)
	f.runner.say("Alice", "全員の意見を聞きたいです。@ALL")
	f.runner.say("Bob", "賛成です。@Alice さん続きをどうぞ。")
	f.runner.say("Alice", "締めくくります。@Bob さん。", "終わりです。")
	f.runner.say("Facilitator", "まとめます。")

	events := collect(t, f.orch.Run(context.Background()))

	var order []string
	for _, e := range eventsOf[TurnStart](events) {
		if !e.IsFacilitator {
			order = append(order, e.ParticipantName)
		}
	}
	// @ALL replaces the queue with the roster in seating order.
	require.GreaterOrEqual(t, len(order), 3)
	assert.Equal(t, []string{"Alice", "Alice", "Bob"}, order[:3])
}

func TestRun_ModeratorDirectivePausesAndModerateResumes(t *testing.T) {
	f := newFixture(t, 4)
	f.runner.say("Alice", "判断に迷います。@モデレーター いかがでしょうか。")

	events := collect(t, f.orch.Run(context.Background()))

	waiting := eventsOf[WaitingForModerator](events)
	require.Len(t, waiting, 1)
	assert.NotEqual(t, KindDiscussionComplete, events[len(events)-1].EventKind())

	rm, err := f.store.GetRoom(context.Background(), f.rm.ID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusPaused, rm.Status)

	// Moderator responds and nominates Bob.
	msg, resume, err := f.orch.Moderate(context.Background(), "その方針で進めてください。@Bob さんどうぞ。")
	require.NoError(t, err)
	assert.True(t, resume)
	assert.Equal(t, []string{f.seats["Bob"].ID}, msg.MentionedParticipants)

	f.runner.say("Bob", "了解しました。")
	f.runner.say("Facilitator", "それではまとめます。")

	resumed := collect(t, f.orch.Run(context.Background()))

	starts := eventsOf[TurnStart](resumed)
	require.NotEmpty(t, starts)
	// The opening must not run again; the first turn is Bob's.
	assert.Equal(t, "Bob", starts[0].ParticipantName)
	assert.False(t, starts[0].IsFacilitator)

	// The moderator message is part of the history Bob sees.
	calls := f.runner.speakCalls("Bob")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Data.ConversationHistory, "[Moderator]: その方針で進めてください。")
}

func TestRun_ModerateWithoutWaitDoesNotResume(t *testing.T) {
	f := newFixture(t, 2)

	_, resume, err := f.orch.Moderate(context.Background(), "補足情報です。")
	require.NoError(t, err)
	assert.False(t, resume)

	msgs, err := f.store.ListMessages(context.Background(), f.rm.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, room.RoleModerator, msgs[0].Role)
}

func TestRun_BackgroundPreparationEventsSurfaceDuringTurn(t *testing.T) {
	f := newFixture(t, 3)
	f.runner.prep = []agent.Event{
		{Type: agent.EventText, Content: "調査メモ"},
		{Type: agent.EventToolUse, Tool: "Grep", Input: "cache"},
	}
	// @ALL leaves Bob queued behind Alice's second turn, so Bob prepares in
	// the background while Alice speaks.
	f.runner.say("Alice", "全員にお聞きします。@ALL", "補足です。")
	f.runner.say("Bob", "準備できています。")
	f.runner.say("Facilitator", "まとめます。")

	events := collect(t, f.orch.Run(context.Background()))

	var prepStarts []PreparationStart
	for _, e := range events {
		if v, ok := e.(PreparationStart); ok {
			prepStarts = append(prepStarts, v)
		}
	}
	require.NotEmpty(t, prepStarts)
	assert.Equal(t, "Bob", prepStarts[0].ParticipantName)

	completes := eventsOf[PreparationComplete](events)
	require.NotEmpty(t, completes)
	assert.Equal(t, "Bob", completes[0].ParticipantName)
	assert.Contains(t, completes[0].NotesPreview, "調査メモ")

	// Bob's speak invocation received the preparation notes.
	calls := f.runner.speakCalls("Bob")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Data.PreparationNotes, "調査メモ")
}

func TestRun_MissingFacilitatorIsFatal(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()
	rm, err := store.CreateRoom(ctx, room.Room{Name: "r", MaxTurns: 5})
	require.NoError(t, err)
	p, err := store.AddParticipant(ctx, room.Participant{RoomID: rm.ID, Name: "Alice"})
	require.NoError(t, err)

	library, err := prompts.LoadBuiltin()
	require.NoError(t, err)
	runner := newScriptedRunner()
	factory := func(p room.Participant, n chan<- agent.PrepNotification) *agent.Participant {
		return agent.NewParticipant(p, runner, agent.Options{Notifications: n})
	}

	o := New(rm, []room.Participant{p}, factory, Options{Store: store, Prompts: library, TurnDelay: time.Millisecond})
	events := collect(t, o.Run(ctx))

	require.Len(t, events, 1)
	errEvent, ok := events[0].(ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, errEvent.Content, "ファシリテーター")
}

func TestRun_ClosingContentDoesNotReseedQueue(t *testing.T) {
	f := newFixture(t, 1)
	f.runner.say("Alice", "以上です。")
	f.runner.say("Facilitator", "まとめです。@Alice さんの論点が重要でした。")

	collect(t, f.orch.Run(context.Background()))

	f.orch.mu.Lock()
	queued := len(f.orch.queue)
	f.orch.mu.Unlock()
	assert.Zero(t, queued, "closing mentions must not nominate speakers")
}

func TestRun_PauseTakesEffectAtTurnBoundary(t *testing.T) {
	f := newFixture(t, 10)
	f.runner.say("Alice", "次は @Bob さん。")
	f.runner.say("Bob", "では @Alice さん。")

	ctx := context.Background()
	ch := f.orch.Run(ctx)

	var events []Event
	paused := false
	for e := range ch {
		events = append(events, e)
		if tc, ok := e.(TurnComplete); ok && !tc.IsFacilitator && tc.TurnNumber == 1 {
			require.NoError(t, f.orch.Pause(ctx))
			paused = true
		}
	}
	require.True(t, paused)

	last := events[len(events)-1]
	_, ok := last.(DiscussionPaused)
	assert.True(t, ok, "stream should end with discussion_paused, got %T", last)

	rm, err := f.store.GetRoom(ctx, f.rm.ID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusPaused, rm.Status)
}

func TestStop_CompletesRoom(t *testing.T) {
	f := newFixture(t, 5)
	require.NoError(t, f.orch.Stop(context.Background()))

	rm, err := f.store.GetRoom(context.Background(), f.rm.ID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusCompleted, rm.Status)
}

func TestInterject_RunsSingleFacilitatorTurn(t *testing.T) {
	f := newFixture(t, 5)
	f.runner.say("Facilitator", "ここまでの議論を整理します。")

	stream, err := f.orch.Interject(context.Background())
	require.NoError(t, err)
	events := collect(t, stream)

	require.NotEmpty(t, events)
	starts := eventsOf[TurnStart](events)
	require.Len(t, starts, 1)
	assert.True(t, starts[0].IsInterjection)

	completes := eventsOf[TurnComplete](events)
	require.Len(t, completes, 1)
	assert.True(t, completes[0].IsInterjection)

	msgs, err := f.store.ListMessages(context.Background(), f.rm.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "整理します")
}

func TestInterject_RejectedWhileLoopRunning(t *testing.T) {
	f := newFixture(t, 5)

	f.orch.mu.Lock()
	f.orch.running = true
	f.orch.mu.Unlock()

	_, err := f.orch.Interject(context.Background())
	require.Error(t, err)

	// A paused loop releases the facilitator's speak slot again.
	f.orch.mu.Lock()
	f.orch.paused = true
	f.orch.mu.Unlock()

	f.runner.say("Facilitator", "議論を続けてください。")
	stream, err := f.orch.Interject(context.Background())
	require.NoError(t, err)
	events := collect(t, stream)
	require.NotEmpty(t, events)
}
