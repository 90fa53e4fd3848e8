package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VoiceEvent is one finished recording session and what came of it.
type VoiceEvent struct {
	ID             string
	SessionID      string
	ConversationID string
	CreatedAt      time.Time
	StopReason     string
	ClipBytes      int
	ClipDuration   time.Duration
	Transcript     string
	Response       string
	Latency        time.Duration
	Success        bool
	Error          string
}

// VoiceEventStore reads and writes voice_events.
type VoiceEventStore struct {
	db *Database
}

func NewVoiceEventStore(db *Database) *VoiceEventStore {
	return &VoiceEventStore{db: db}
}

// Insert stores ev, assigning an id and timestamp when missing.
func (s *VoiceEventStore) Insert(ctx context.Context, ev *VoiceEvent) error {
	if ev.SessionID == "" {
		return errors.New("insert voice event: session id is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO voice_events (
			id, session_id, conversation_id, created_at,
			stop_reason, clip_bytes, clip_duration_ms, transcript,
			response, latency_ms, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.ConversationID, ev.CreatedAt.UnixMilli(),
		ev.StopReason, ev.ClipBytes, ev.ClipDuration.Milliseconds(), ev.Transcript,
		ev.Response, ev.Latency.Milliseconds(), ev.Success, ev.Error,
	)
	if err != nil {
		return fmt.Errorf("insert voice event: %w", err)
	}
	return nil
}

// SetResponse records the assistant reply for an existing event.
func (s *VoiceEventStore) SetResponse(ctx context.Context, id, response string) error {
	res, err := s.db.db.ExecContext(ctx, `UPDATE voice_events SET response = ? WHERE id = ?`, response, id)
	if err != nil {
		return fmt.Errorf("update voice event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update voice event %s: %w", id, ErrNotFound)
	}
	return nil
}

// List returns up to limit events, newest first.
func (s *VoiceEventStore) List(ctx context.Context, limit int) ([]VoiceEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, session_id, conversation_id, created_at,
		       stop_reason, clip_bytes, clip_duration_ms, transcript,
		       response, latency_ms, success, error_message
		FROM voice_events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query voice events: %w", err)
	}
	defer rows.Close()

	var out []VoiceEvent
	for rows.Next() {
		var (
			ev                       VoiceEvent
			created, clipMS, latency int64
		)
		if err := rows.Scan(
			&ev.ID, &ev.SessionID, &ev.ConversationID, &created,
			&ev.StopReason, &ev.ClipBytes, &clipMS, &ev.Transcript,
			&ev.Response, &latency, &ev.Success, &ev.Error,
		); err != nil {
			return nil, fmt.Errorf("scan voice event: %w", err)
		}
		ev.CreatedAt = time.UnixMilli(created).UTC()
		ev.ClipDuration = time.Duration(clipMS) * time.Millisecond
		ev.Latency = time.Duration(latency) * time.Millisecond
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voice events: %w", err)
	}
	return out, nil
}
