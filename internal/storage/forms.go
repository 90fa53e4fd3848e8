package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/keralacert/voiceassist/internal/formfill"
)

// FormStore persists form drafts as JSON documents.
type FormStore struct {
	db *Database
}

func NewFormStore(db *Database) *FormStore {
	return &FormStore{db: db}
}

// Load returns the stored draft or ErrNotFound.
func (s *FormStore) Load(ctx context.Context, id string) (*formfill.Draft, error) {
	var body string
	err := s.db.db.QueryRowContext(ctx, `SELECT body FROM form_drafts WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("form draft %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load form draft: %w", err)
	}

	var d formfill.Draft
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return nil, fmt.Errorf("decode form draft %s: %w", id, err)
	}
	return &d, nil
}

// LoadOrNew returns the stored draft or a fresh one with the given id.
func (s *FormStore) LoadOrNew(ctx context.Context, id string) (*formfill.Draft, error) {
	d, err := s.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return formfill.NewDraft(id), nil
	}
	return d, err
}

// Save upserts d.
func (s *FormStore) Save(ctx context.Context, d *formfill.Draft) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode form draft: %w", err)
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO form_drafts (id, body, complete, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, complete = excluded.complete, updated_at = excluded.updated_at`,
		d.ID, string(body), d.IsComplete, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save form draft: %w", err)
	}
	return nil
}

// Delete removes a draft. Deleting a missing draft is not an error.
func (s *FormStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM form_drafts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete form draft: %w", err)
	}
	return nil
}
