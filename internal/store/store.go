// Package store persists CallSession records across process restarts and
// for cross-process visibility (the admin API's GET /api/calls).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is the call's lifecycle state. The terminal states are
// Completed, Failed, Busy, NoAnswer, and Canceled.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
)

// IsTerminal reports whether s is one of the five states that end a
// call's session and trigger teardown.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// Direction is which side placed the call.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallSession is the persisted record for one call.
type CallSession struct {
	CallID        string
	CarrierCallID string
	PeerNumber    string
	Prompt        string
	Direction     Direction
	Status        Status
	StartTime     time.Time
	AnsweredAt    *time.Time
	CompletedAt   *time.Time
	ErrorMessage  string
	TranscriptText string
	Metadata      map[string]interface{}
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is a Postgres-backed CallSession repository.
type Store struct {
	db *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Connect opens a pgxpool against dsn. Callers own the returned pool's
// lifetime and should Close it on shutdown.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return pool, nil
}

// schema is applied idempotently on startup; the store does not ship a
// separate migration tool.
const schema = `
CREATE TABLE IF NOT EXISTS call_sessions (
	call_id          TEXT PRIMARY KEY,
	carrier_call_id  TEXT NOT NULL,
	peer_number      TEXT NOT NULL,
	prompt           TEXT NOT NULL DEFAULT '',
	direction        TEXT NOT NULL,
	status           TEXT NOT NULL,
	start_time       TIMESTAMPTZ NOT NULL,
	answered_at      TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	error_message    TEXT NOT NULL DEFAULT '',
	transcript_text  TEXT NOT NULL DEFAULT '',
	metadata         JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS call_sessions_carrier_call_id_idx ON call_sessions (carrier_call_id);
`

// Migrate applies the store's schema, creating the call_sessions table
// if it does not already exist.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Create inserts a new session with the status it carries (callers
// create records in StatusInitiating).
func (s *Store) Create(ctx context.Context, session *CallSession) error {
	metadataJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO call_sessions (
			call_id, carrier_call_id, peer_number, prompt, direction,
			status, start_time, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`,
		session.CallID, session.CarrierCallID, session.PeerNumber, session.Prompt,
		session.Direction, session.Status, session.StartTime, metadataJSON, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("store: create: %w", err)
	}
	return nil
}

// UpdateStatus transitions a session's status, stamping AnsweredAt on
// entry to in-progress and CompletedAt on entry to any terminal status.
func (s *Store) UpdateStatus(ctx context.Context, callID string, status Status, errorMessage string) error {
	now := time.Now()

	var answeredAt, completedAt *time.Time
	if status == StatusInProgress {
		answeredAt = &now
	}
	if status.IsTerminal() {
		completedAt = &now
	}

	_, err := s.db.Exec(ctx, `
		UPDATE call_sessions SET
			status = $1,
			answered_at = COALESCE(answered_at, $2),
			completed_at = COALESCE($3, completed_at),
			error_message = CASE WHEN $4 <> '' THEN $4 ELSE error_message END,
			updated_at = $5
		WHERE call_id = $6
	`, status, answeredAt, completedAt, errorMessage, now, callID)
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	return nil
}

// SetTranscript stores the call's accumulated transcript text.
func (s *Store) SetTranscript(ctx context.Context, callID, transcript string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE call_sessions SET transcript_text = $1, updated_at = $2 WHERE call_id = $3
	`, transcript, time.Now(), callID)
	if err != nil {
		return fmt.Errorf("store: set transcript: %w", err)
	}
	return nil
}

var sessionColumns = `call_id, carrier_call_id, peer_number, prompt, direction, status,
	start_time, answered_at, completed_at, error_message, transcript_text,
	metadata, created_at, updated_at`

func scanSession(row pgx.Row) (*CallSession, error) {
	var session CallSession
	var metadataJSON []byte

	err := row.Scan(
		&session.CallID, &session.CarrierCallID, &session.PeerNumber, &session.Prompt,
		&session.Direction, &session.Status, &session.StartTime, &session.AnsweredAt,
		&session.CompletedAt, &session.ErrorMessage, &session.TranscriptText,
		&metadataJSON, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &session.Metadata); err != nil {
			return nil, fmt.Errorf("store: unmarshal metadata: %w", err)
		}
	}
	return &session, nil
}

// Get fetches one session by call id.
func (s *Store) Get(ctx context.Context, callID string) (*CallSession, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM call_sessions WHERE call_id = $1`, callID)
	session, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", callID, err)
	}
	return session, nil
}

// GetByCarrierCallID fetches one session by the carrier's own call id,
// used when a status webhook arrives with only that identifier.
func (s *Store) GetByCarrierCallID(ctx context.Context, carrierCallID string) (*CallSession, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM call_sessions WHERE carrier_call_id = $1`, carrierCallID)
	session, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("store: get by carrier id %s: %w", carrierCallID, err)
	}
	return session, nil
}

// List returns the most recent sessions, newest first, up to limit.
func (s *Store) List(ctx context.Context, limit int) ([]*CallSession, error) {
	rows, err := s.db.Query(ctx, `SELECT `+sessionColumns+` FROM call_sessions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var sessions []*CallSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan list row: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
