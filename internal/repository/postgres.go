package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nogataka/cc-discussion/internal/room"
)

// Connect creates a pgx connection pool from a DSN and verifies it with a
// ping. SQLAlchemy-style driver suffixes ("+asyncpg") found in reused .env
// files are normalized away.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	s = strings.Replace(s, "postgresql+asyncpg://", "postgresql://", 1)
	s = strings.Replace(s, "postgres+asyncpg://", "postgres://", 1)
	return s
}

// Postgres is the durable Store implementation.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			max_turns INT NOT NULL,
			current_turn INT NOT NULL DEFAULT 0,
			meeting_type TEXT NOT NULL,
			meeting_description TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'ja',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS participants (
			id UUID PRIMARY KEY,
			room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			context_project_dir TEXT NOT NULL DEFAULT '',
			context_session_id TEXT NOT NULL DEFAULT '',
			context_summary TEXT NOT NULL DEFAULT '',
			is_facilitator BOOLEAN NOT NULL DEFAULT FALSE,
			agent_kind TEXT NOT NULL,
			is_speaking BOOLEAN NOT NULL DEFAULT FALSE,
			message_count INT NOT NULL DEFAULT 0,
			seq BIGSERIAL
		);
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			participant_id UUID REFERENCES participants(id) ON DELETE SET NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			turn_number INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) CreateRoom(ctx context.Context, r room.Room) (room.Room, error) {
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, name, topic, status, max_turns, current_turn, meeting_type, meeting_description, language, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.ID, r.Name, r.Topic, r.Status, r.MaxTurns, r.CurrentTurn, r.MeetingType, r.MeetingDescription, r.Language, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return room.Room{}, err
	}
	return r, nil
}

func (s *Postgres) GetRoom(ctx context.Context, id string) (room.Room, error) {
	var r room.Room
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, name, topic, status, max_turns, current_turn, meeting_type, meeting_description, language, created_at, updated_at
		FROM rooms WHERE id = $1::uuid
	`, id).Scan(&r.ID, &r.Name, &r.Topic, &r.Status, &r.MaxTurns, &r.CurrentTurn, &r.MeetingType, &r.MeetingDescription, &r.Language, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return room.Room{}, ErrNotFound
	}
	if err != nil {
		return room.Room{}, err
	}
	return r, nil
}

func (s *Postgres) ListRooms(ctx context.Context) ([]room.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, name, topic, status, max_turns, current_turn, meeting_type, meeting_description, language, created_at, updated_at
		FROM rooms ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []room.Room
	for rows.Next() {
		var r room.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Topic, &r.Status, &r.MaxTurns, &r.CurrentTurn, &r.MeetingType, &r.MeetingDescription, &r.Language, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) updateRoom(ctx context.Context, id, column string, value any) error {
	ct, err := s.pool.Exec(ctx,
		fmt.Sprintf("UPDATE rooms SET %s = $2, updated_at = now() WHERE id = $1::uuid", column),
		id, value)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) UpdateRoomStatus(ctx context.Context, id string, status room.Status) error {
	return s.updateRoom(ctx, id, "status", status)
}

func (s *Postgres) UpdateRoomTurn(ctx context.Context, id string, turn int) error {
	return s.updateRoom(ctx, id, "current_turn", turn)
}

func (s *Postgres) UpdateRoomMaxTurns(ctx context.Context, id string, maxTurns int) error {
	return s.updateRoom(ctx, id, "max_turns", maxTurns)
}

func (s *Postgres) DeleteRoom(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, "DELETE FROM rooms WHERE id = $1::uuid", id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) AddParticipant(ctx context.Context, p room.Participant) (room.Participant, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participants (id, room_id, name, role, color, context_project_dir, context_session_id, context_summary, is_facilitator, agent_kind, is_speaking, message_count)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.RoomID, p.Name, p.Role, p.Color, p.ContextProjectDir, p.ContextSessionID, p.ContextSummary, p.IsFacilitator, p.AgentKind, p.IsSpeaking, p.MessageCount)
	if err != nil {
		return room.Participant{}, err
	}
	return p, nil
}

// ListParticipants returns the roster in declared (insertion) order.
func (s *Postgres) ListParticipants(ctx context.Context, roomID string) ([]room.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, room_id::text, name, role, color, context_project_dir, context_session_id, context_summary, is_facilitator, agent_kind, is_speaking, message_count
		FROM participants WHERE room_id = $1::uuid ORDER BY seq
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []room.Participant
	for rows.Next() {
		var p room.Participant
		if err := rows.Scan(&p.ID, &p.RoomID, &p.Name, &p.Role, &p.Color, &p.ContextProjectDir, &p.ContextSessionID, &p.ContextSummary, &p.IsFacilitator, &p.AgentKind, &p.IsSpeaking, &p.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) SetSpeaking(ctx context.Context, participantID string, speaking bool) error {
	ct, err := s.pool.Exec(ctx, "UPDATE participants SET is_speaking = $2 WHERE id = $1::uuid", participantID, speaking)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) IncrementMessageCount(ctx context.Context, participantID string) error {
	ct, err := s.pool.Exec(ctx, "UPDATE participants SET message_count = message_count + 1 WHERE id = $1::uuid", participantID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) AppendMessage(ctx context.Context, m room.Message) (room.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	var participantID any
	if m.ParticipantID != "" {
		participantID = m.ParticipantID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, participant_id, role, content, turn_number, created_at)
		VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7)
	`, m.ID, m.RoomID, participantID, m.Role, m.Content, m.TurnNumber, m.CreatedAt)
	if err != nil {
		return room.Message{}, err
	}
	return m, nil
}

func (s *Postgres) ListMessages(ctx context.Context, roomID string) ([]room.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, room_id::text, COALESCE(participant_id::text, ''), role, content, turn_number, created_at
		FROM messages WHERE room_id = $1::uuid ORDER BY created_at
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []room.Message
	for rows.Next() {
		var m room.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.ParticipantID, &m.Role, &m.Content, &m.TurnNumber, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Ensure Postgres implements Store at compile time.
var _ Store = (*Postgres)(nil)
