package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keralacert/voiceassist/internal/formfill"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "voiceassist.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "", nil)
	require.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voiceassist.db")
	first, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	require.NoError(t, second.Ping(context.Background()))
	require.Equal(t, path, second.Path())
	require.NoError(t, second.Close())
}

func TestVoiceEventsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewVoiceEventStore(openTestDB(t))

	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	first := &VoiceEvent{
		SessionID:    "s-1",
		CreatedAt:    base,
		StopReason:   "silence",
		ClipBytes:    9644,
		ClipDuration: 1500 * time.Millisecond,
		Transcript:   "I need an income certificate",
		Latency:      420 * time.Millisecond,
		Success:      true,
	}
	second := &VoiceEvent{
		SessionID: "s-2",
		CreatedAt: base.Add(time.Minute),
		Success:   false,
		Error:     "transcription failed",
	}
	require.NoError(t, store.Insert(ctx, first))
	require.NoError(t, store.Insert(ctx, second))
	require.NotEmpty(t, first.ID)

	require.NoError(t, store.SetResponse(ctx, first.ID, "Please tell me your name."))

	events, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "s-2", events[0].SessionID)
	require.False(t, events[0].Success)
	require.Equal(t, "transcription failed", events[0].Error)

	got := events[1]
	require.Equal(t, first.ID, got.ID)
	require.Equal(t, base, got.CreatedAt)
	require.Equal(t, 1500*time.Millisecond, got.ClipDuration)
	require.Equal(t, 420*time.Millisecond, got.Latency)
	require.Equal(t, "Please tell me your name.", got.Response)
	require.True(t, got.Success)

	limited, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestVoiceEventValidation(t *testing.T) {
	store := NewVoiceEventStore(openTestDB(t))
	require.Error(t, store.Insert(context.Background(), &VoiceEvent{}))
	require.ErrorIs(t, store.SetResponse(context.Background(), "missing", "x"), ErrNotFound)
}

func TestTurns(t *testing.T) {
	ctx := context.Background()
	store := NewTurnStore(openTestDB(t))

	_, err := store.Append(ctx, "conv-1", "user", "hello")
	require.NoError(t, err)
	_, err = store.Append(ctx, "conv-1", "assistant", "Hi, how can I help?")
	require.NoError(t, err)
	_, err = store.Append(ctx, "conv-2", "user", "other")
	require.NoError(t, err)

	_, err = store.Append(ctx, "conv-1", "system", "nope")
	require.Error(t, err, "system turns are not persisted")

	turns, err := store.List(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "user", turns[0].Role)
	require.Equal(t, "Hi, how can I help?", turns[1].Content)

	require.NoError(t, store.Delete(ctx, "conv-1"))
	turns, err = store.List(ctx, "conv-1")
	require.NoError(t, err)
	require.Empty(t, turns)

	turns, err = store.List(ctx, "conv-2")
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestFormDrafts(t *testing.T) {
	ctx := context.Background()
	store := NewFormStore(openTestDB(t))

	_, err := store.Load(ctx, "d-1")
	require.ErrorIs(t, err, ErrNotFound)

	d, err := store.LoadOrNew(ctx, "d-1")
	require.NoError(t, err)
	require.Equal(t, "d-1", d.ID)

	require.NoError(t, d.Update(formfill.FullName, "anjali menon"))
	require.NoError(t, store.Save(ctx, d))

	require.NoError(t, d.Update(formfill.Gender, "female"))
	require.NoError(t, store.Save(ctx, d))

	loaded, err := store.Load(ctx, "d-1")
	require.NoError(t, err)
	name, ok := loaded.Get(formfill.FullName)
	require.True(t, ok)
	require.Equal(t, "Anjali Menon", name)
	gender, _ := loaded.Get(formfill.Gender)
	require.Equal(t, "female", gender)
	require.NotNil(t, loaded.LastUpdated)
	require.False(t, loaded.IsComplete)

	require.NoError(t, store.Delete(ctx, "d-1"))
	require.NoError(t, store.Delete(ctx, "d-1"))
	_, err = store.Load(ctx, "d-1")
	require.ErrorIs(t, err, ErrNotFound)
}
