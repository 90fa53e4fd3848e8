package recorder

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keralacert/voiceassist/internal/audio"
	"github.com/keralacert/voiceassist/internal/fsm"
)

var epoch0 = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// fakeClock fires AfterFunc callbacks in deadline order as time is advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	onFire func()
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch0}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// AdvanceTo moves time forward to target, firing due timers one at a time
// with the clock set to each timer's deadline.
func (c *fakeClock) AdvanceTo(target time.Time) {
	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			if target.After(c.now) {
				c.now = target
			}
			c.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		onFire := c.onFire
		c.mu.Unlock()

		next.f()
		if onFire != nil {
			onFire()
		}
	}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.AdvanceTo(c.Now().Add(d))
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeStream struct {
	frames chan audio.Frame
	format audio.Format

	mu     sync.Mutex
	closed int
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		frames: make(chan audio.Frame, 16),
		format: audio.Format{SampleRate: 16000, Channels: 1},
	}
}

func (s *fakeStream) Frames() <-chan audio.Frame { return s.frames }
func (s *fakeStream) Format() audio.Format       { return s.format }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// recordingTranscriber captures every clip it is asked to transcribe.
type recordingTranscriber struct {
	mu    sync.Mutex
	clips []audio.Clip
	text  string
	err   error
	block bool
}

func (r *recordingTranscriber) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	r.mu.Lock()
	r.clips = append(r.clips, clip)
	block := r.block
	r.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

func (r *recordingTranscriber) calls() []audio.Clip {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audio.Clip(nil), r.clips...)
}

// harness drives a controller synchronously from the test goroutine.
type harness struct {
	t           *testing.T
	c           *Controller
	clock       *fakeClock
	stream      *fakeStream
	transcriber *recordingTranscriber
	results     []Result
	frameSize   int
}

func newHarness(t *testing.T, settings Settings, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:           t,
		clock:       newFakeClock(),
		stream:      newFakeStream(),
		transcriber: &recordingTranscriber{text: "income certificate"},
		frameSize:   1600,
	}
	opener := audio.OpenerFunc(func(context.Context, audio.Constraints) (audio.Stream, error) {
		return h.stream, nil
	})
	sink := SinkFunc(func(_ context.Context, r Result) {
		h.results = append(h.results, r)
	})
	all := append([]Option{WithClock(h.clock)}, opts...)
	h.c = New(nil, settings, opener, h.transcriber, sink, all...)
	h.clock.onFire = h.pump

	_, done, err := h.c.open(context.Background())
	require.NoError(t, err)
	require.Equal(t, fsm.StateListening, h.c.State())

	t.Cleanup(func() {
		h.c.teardown("test done")
		close(done)
		_ = h.c.Close()
	})
	return h
}

// pump handles every event already queued.
func (h *harness) pump() {
	for {
		select {
		case ev := <-h.c.events:
			h.c.handle(ev)
		default:
			return
		}
	}
}

// feed delivers one frame at volume v at offset at from the start of the test.
func (h *harness) feed(v int, at time.Duration) {
	h.clock.AdvanceTo(epoch0.Add(at))
	h.pump()
	h.c.handle(frameEvent{frame: frameAt(v, h.frameSize, epoch0.Add(at))})
	h.pump()
}

// awaitHandoff blocks until the in-flight transcription result is handled.
func (h *harness) awaitHandoff() {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for h.c.state == fsm.StateProcessing {
		select {
		case ev := <-h.c.events:
			h.c.handle(ev)
		case <-timeout:
			h.t.Fatalf("handoff did not complete")
		}
	}
}

// frameAt builds a frame whose estimated volume is exactly v.
func frameAt(v, samples int, at time.Time) audio.Frame {
	amp := (float64(v) + 0.5) / 10000
	if v >= 100 {
		amp = 0.5
	}
	s := make([]float64, samples)
	for i := range s {
		s[i] = amp
	}
	return audio.Frame{Samples: s, PCM: audio.EncodePCM16(s), At: at}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// stubbornRecorder never acknowledges Stop.
type stubbornRecorder struct {
	inner  *audio.MemoryRecorder
	stops  int
	aborts int
}

func (r *stubbornRecorder) Start(f audio.Format) error { return r.inner.Start(f) }
func (r *stubbornRecorder) Write(p []byte) error       { return r.inner.Write(p) }
func (r *stubbornRecorder) Stop()                      { r.stops++ }
func (r *stubbornRecorder) Stopped() bool              { return false }
func (r *stubbornRecorder) Abort()                     { r.aborts++; r.inner.Abort() }
func (r *stubbornRecorder) Clip() (audio.Clip, error)  { return r.inner.Clip() }
