// Package repository persists rooms, participants, and messages. Two
// implementations exist: an in-memory store for local runs and tests, and a
// Postgres store for durable deployments.
package repository

import (
	"context"
	"errors"

	"github.com/nogataka/cc-discussion/internal/room"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator the orchestrator and server depend
// on. Messages are append-only; ordering by CreatedAt defines the
// conversation history fed into every subsequent prompt.
type Store interface {
	CreateRoom(ctx context.Context, r room.Room) (room.Room, error)
	GetRoom(ctx context.Context, id string) (room.Room, error)
	ListRooms(ctx context.Context) ([]room.Room, error)
	UpdateRoomStatus(ctx context.Context, id string, status room.Status) error
	UpdateRoomTurn(ctx context.Context, id string, turn int) error
	UpdateRoomMaxTurns(ctx context.Context, id string, maxTurns int) error
	DeleteRoom(ctx context.Context, id string) error

	AddParticipant(ctx context.Context, p room.Participant) (room.Participant, error)
	ListParticipants(ctx context.Context, roomID string) ([]room.Participant, error)
	SetSpeaking(ctx context.Context, participantID string, speaking bool) error
	IncrementMessageCount(ctx context.Context, participantID string) error

	AppendMessage(ctx context.Context, m room.Message) (room.Message, error)
	ListMessages(ctx context.Context, roomID string) ([]room.Message, error)
}
