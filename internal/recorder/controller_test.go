package recorder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keralacert/voiceassist/internal/audio"
	"github.com/keralacert/voiceassist/internal/fsm"
)

func TestForceStopFromEveryState(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		c := New(nil, DefaultSettings(), nil, &recordingTranscriber{}, nil)
		t.Cleanup(func() { _ = c.Close() })

		c.ForceStop()
		c.handle(forceStopRequest{})
		require.Equal(t, fsm.StateIdle, c.State())
	})

	t.Run("listening", func(t *testing.T) {
		h := newHarness(t, DefaultSettings())
		h.c.handle(forceStopRequest{})
		require.Equal(t, fsm.StateListening, h.c.state)
	})

	t.Run("recording", func(t *testing.T) {
		rec := &stubbornRecorder{inner: audio.NewMemoryRecorder()}
		h := newHarness(t, DefaultSettings(), WithRecorderFactory(func() audio.Recorder { return rec }))
		h.feed(50, 0)
		h.feed(50, ms(100))
		require.Equal(t, fsm.StateRecording, h.c.state)

		h.c.ForceStop()
		h.pump()
		require.Equal(t, fsm.StateListening, h.c.state)
		require.Nil(t, h.c.session)
		require.Equal(t, 1, rec.aborts)
		require.Zero(t, h.clock.pending())

		h.clock.Advance(30 * time.Second)
		require.Empty(t, h.results)
		require.Empty(t, h.transcriber.calls())
	})

	t.Run("processing", func(t *testing.T) {
		h := newHarness(t, DefaultSettings())
		h.transcriber.block = true
		h.feed(50, 0)
		require.NoError(t, h.c.Stop())
		h.pump()
		require.Equal(t, fsm.StateProcessing, h.c.state)

		h.c.ForceStop()
		h.pump()
		require.Equal(t, fsm.StateListening, h.c.state)

		// The cancelled handoff still reports back and must be dropped.
		select {
		case ev := <-h.c.events:
			_, ok := ev.(handoffDone)
			require.True(t, ok)
			h.c.handle(ev)
		case <-time.After(2 * time.Second):
			t.Fatal("cancelled handoff never reported")
		}
		require.Empty(t, h.results)
		require.Equal(t, fsm.StateListening, h.c.state)
	})
}

func TestStaleHandoffIsDiscarded(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.feed(50, 0)
	require.NoError(t, h.c.Stop())
	h.pump()

	var done handoffDone
	select {
	case ev := <-h.c.events:
		done = ev.(handoffDone)
	case <-time.After(2 * time.Second):
		t.Fatal("handoff never reported")
	}

	h.c.handle(forceStopRequest{})
	h.c.handle(done)
	require.Empty(t, h.results)

	// A fresh session after the force-stop is delivered normally.
	h.feed(50, ms(100))
	require.NoError(t, h.c.Stop())
	h.pump()
	h.awaitHandoff()
	require.Len(t, h.results, 1)
}

func TestStaleTimerFireIsIgnored(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	h.feed(50, 0)
	gen := h.c.maxDur.gen
	require.NotZero(t, gen)

	h.c.cancelTimer(&h.c.maxDur)
	h.c.handle(timerFired{kind: timerMaxDuration, gen: gen})
	require.Equal(t, fsm.StateRecording, h.c.state)

	h.c.handle(timerFired{kind: timerSilence, gen: 0})
	require.Equal(t, fsm.StateRecording, h.c.state)
}

func TestStopOutsideRecording(t *testing.T) {
	h := newHarness(t, DefaultSettings())
	require.ErrorIs(t, h.c.Stop(), ErrNotRecording)

	// A stop request that loses the race with a silence stop is a no-op.
	h.c.handle(stopRequest{})
	require.Equal(t, fsm.StateListening, h.c.state)
}

func TestListenLifecycle(t *testing.T) {
	stream := newFakeStream()
	opens := 0
	opener := audio.OpenerFunc(func(context.Context, audio.Constraints) (audio.Stream, error) {
		opens++
		return stream, nil
	})
	c := New(nil, DefaultSettings(), opener, &recordingTranscriber{}, nil)

	require.NoError(t, c.Listen(context.Background()))
	require.Equal(t, fsm.StateListening, c.State())
	require.ErrorIs(t, c.Listen(context.Background()), ErrAlreadyListening)
	require.Equal(t, 1, opens)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, fsm.StateIdle, c.State())
	require.Equal(t, 1, stream.closeCount())
	require.ErrorIs(t, c.Listen(context.Background()), ErrClosed)
}

func TestStreamEndReturnsToIdle(t *testing.T) {
	first := newFakeStream()
	second := newFakeStream()
	streams := []*fakeStream{first, second}
	opener := audio.OpenerFunc(func(context.Context, audio.Constraints) (audio.Stream, error) {
		s := streams[0]
		streams = streams[1:]
		return s, nil
	})
	c := New(nil, DefaultSettings(), opener, &recordingTranscriber{}, nil)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Listen(context.Background()))
	close(first.frames)
	require.Eventually(t, func() bool { return c.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Listen(context.Background()))
	require.Equal(t, fsm.StateListening, c.State())
}

func TestRunLoopProcessesFrames(t *testing.T) {
	stream := newFakeStream()
	opener := audio.OpenerFunc(func(context.Context, audio.Constraints) (audio.Stream, error) {
		return stream, nil
	})

	var mu sync.Mutex
	var states []fsm.State
	c := New(nil, DefaultSettings(), opener, &recordingTranscriber{}, nil,
		WithStateListener(func(s Status) {
			mu.Lock()
			states = append(states, s.State)
			mu.Unlock()
		}),
	)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Listen(context.Background()))
	stream.frames <- frameAt(60, 1600, time.Now())
	require.Eventually(t, func() bool { return c.State() == fsm.StateRecording }, time.Second, 5*time.Millisecond)

	c.ForceStop()
	require.Eventually(t, func() bool { return c.State() == fsm.StateListening }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []fsm.State{
		fsm.StateListening,
		fsm.StateRecording,
		fsm.StateListening,
		fsm.StateIdle,
	}, states)
}

func TestStatusReportsHistoryAndSession(t *testing.T) {
	settings := DefaultSettings()
	settings.HistoryLength = 3
	h := newHarness(t, settings)

	h.feed(0, 0)
	h.feed(1, ms(100))
	h.feed(10, ms(200))
	h.feed(20, ms(300))

	status := h.c.Status()
	require.Equal(t, fsm.StateRecording, status.State)
	require.NotEmpty(t, status.SessionID)
	require.Equal(t, ms(100), status.Elapsed)
	require.True(t, status.Speaking)
	require.EqualValues(t, 20, status.Volume)
	require.EqualValues(t, []float64{1, 10, 20}, status.Payload().History)
	require.Equal(t, settings.Tunables, status.Tunables)
}

func TestSetTunables(t *testing.T) {
	h := newHarness(t, DefaultSettings())

	next := Tunables{SpeechThreshold: 25, MaxRecording: 20 * time.Second, StopSensitivity: 7}
	require.NoError(t, h.c.SetTunables(next))
	require.Equal(t, next, h.c.Settings().Tunables)
	require.Equal(t, 35, h.c.Settings().LowFrameLimit())

	h.feed(20, 0)
	require.Equal(t, fsm.StateListening, h.c.state, "20 is below the raised threshold")
	h.feed(26, ms(100))
	require.Equal(t, fsm.StateRecording, h.c.state)

	err := h.c.SetTunables(Tunables{SpeechThreshold: 0.1, MaxRecording: 10 * time.Second, StopSensitivity: 3})
	require.ErrorContains(t, err, "speech_threshold")
	require.Equal(t, next, h.c.Settings().Tunables)
}
