package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nogataka/cc-discussion/internal/room"
)

// Memory is an in-process Store for local runs and tests.
type Memory struct {
	mu           sync.RWMutex
	rooms        map[string]room.Room
	participants map[string]room.Participant
	messages     map[string][]room.Message // keyed by room id, append order

	participantOrder map[string][]string // room id -> participant ids in insertion order
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rooms:            make(map[string]room.Room),
		participants:     make(map[string]room.Participant),
		messages:         make(map[string][]room.Message),
		participantOrder: make(map[string][]string),
	}
}

// CreateRoom stores r, assigning an id and timestamps when absent.
func (m *Memory) CreateRoom(_ context.Context, r room.Room) (room.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = room.StatusWaiting
	}
	m.rooms[r.ID] = r
	return r, nil
}

func (m *Memory) GetRoom(_ context.Context, id string) (room.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return room.Room{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRooms(_ context.Context) ([]room.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]room.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateRoomStatus(_ context.Context, id string, status room.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	m.rooms[id] = r
	return nil
}

func (m *Memory) UpdateRoomTurn(_ context.Context, id string, turn int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return ErrNotFound
	}
	r.CurrentTurn = turn
	r.UpdatedAt = time.Now()
	m.rooms[id] = r
	return nil
}

func (m *Memory) UpdateRoomMaxTurns(_ context.Context, id string, maxTurns int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return ErrNotFound
	}
	r.MaxTurns = maxTurns
	r.UpdatedAt = time.Now()
	m.rooms[id] = r
	return nil
}

func (m *Memory) DeleteRoom(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; !ok {
		return ErrNotFound
	}
	delete(m.rooms, id)
	delete(m.messages, id)
	for _, pid := range m.participantOrder[id] {
		delete(m.participants, pid)
	}
	delete(m.participantOrder, id)
	return nil
}

// AddParticipant stores p in roster order.
func (m *Memory) AddParticipant(_ context.Context, p room.Participant) (room.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[p.RoomID]; !ok {
		return room.Participant{}, ErrNotFound
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.participants[p.ID] = p
	m.participantOrder[p.RoomID] = append(m.participantOrder[p.RoomID], p.ID)
	return p, nil
}

// ListParticipants returns the roster in insertion (declared) order.
func (m *Memory) ListParticipants(_ context.Context, roomID string) ([]room.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.participantOrder[roomID]
	out := make([]room.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.participants[id])
	}
	return out, nil
}

func (m *Memory) SetSpeaking(_ context.Context, participantID string, speaking bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantID]
	if !ok {
		return ErrNotFound
	}
	p.IsSpeaking = speaking
	m.participants[participantID] = p
	return nil
}

func (m *Memory) IncrementMessageCount(_ context.Context, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantID]
	if !ok {
		return ErrNotFound
	}
	p.MessageCount++
	m.participants[participantID] = p
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, msg room.Message) (room.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[msg.RoomID]; !ok {
		return room.Message{}, ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], msg)
	return msg, nil
}

// ListMessages returns messages ordered by creation time, append order
// breaking ties.
func (m *Memory) ListMessages(_ context.Context, roomID string) ([]room.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := make([]room.Message, len(m.messages[roomID]))
	copy(msgs, m.messages[roomID])
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

// Ensure Memory implements Store at compile time.
var _ Store = (*Memory)(nil)
