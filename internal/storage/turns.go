package storage

import (
	"context"
	"fmt"
	"time"
)

// Turn is one persisted conversation message.
type Turn struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// TurnStore reads and writes conversation_turns.
type TurnStore struct {
	db *Database
}

func NewTurnStore(db *Database) *TurnStore {
	return &TurnStore{db: db}
}

// Append stores a turn and returns its row id.
func (s *TurnStore) Append(ctx context.Context, conversationID, role, content string) (int64, error) {
	res, err := s.db.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, role, content, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("append turn: %w", err)
	}
	return res.LastInsertId()
}

// List returns a conversation's turns in insertion order.
func (s *TurnStore) List(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM conversation_turns
		WHERE conversation_id = ?
		ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t       Turn
			created int64
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes every turn of a conversation.
func (s *TurnStore) Delete(ctx context.Context, conversationID string) error {
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}
