// Package events fans assistant activity out to other processes.
package events

import (
	"context"
	"errors"
	"time"
)

// Kind classifies an event and selects its subject.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindResponse      Kind = "response"
	KindStatus        Kind = "status"
	KindError         Kind = "error"
)

// Event is the JSON document published for every kind.
type Event struct {
	Kind           Kind      `json:"kind"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Text           string    `json:"text,omitempty"`
	State          string    `json:"state,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// PublisherFunc adapts a function to Publisher. Close is a no-op.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }
func (PublisherFunc) Close() error                                  { return nil }

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Multi publishes to each member and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
