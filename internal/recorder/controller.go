// Package recorder turns a live microphone stream into speech clips: it
// detects speech onset, decides when the speaker has finished, and hands each
// finished clip to a transcriber.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keralacert/voiceassist/internal/audio"
	"github.com/keralacert/voiceassist/internal/fsm"
	"github.com/keralacert/voiceassist/internal/observe"
	"github.com/keralacert/voiceassist/internal/vad"
)

var (
	// ErrEmptyClip marks a stop that produced no usable audio.
	ErrEmptyClip = errors.New("recorded clip is empty or too small")
	// ErrTranscriptionFailed wraps transcriber failures delivered to the sink.
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrStopNotConfirmed marks a recorder that never acknowledged stop.
	ErrStopNotConfirmed = errors.New("recorder stop not confirmed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("recorder controller closed")
	// ErrAlreadyListening is returned by Listen when a stream is already open.
	ErrAlreadyListening = errors.New("already listening")
	// ErrNotRecording is returned by Stop outside a recording session.
	ErrNotRecording = errors.New("no recording in progress")
)

// StopReason names what ended a session.
type StopReason string

const (
	StopSilence     StopReason = "silence"
	StopLowVolume   StopReason = "low_volume"
	StopMaxDuration StopReason = "max_duration"
	StopRequested   StopReason = "requested"
)

// Transcriber converts a finished clip into text.
type Transcriber interface {
	Transcribe(context.Context, audio.Clip) (string, error)
}

// TranscriberFunc adapts a function to the Transcriber interface.
type TranscriberFunc func(context.Context, audio.Clip) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	return f(ctx, clip)
}

// Result is the outcome of one session handoff.
type Result struct {
	SessionID    string
	Transcript   string
	Err          error
	StopReason   StopReason
	StartedAt    time.Time
	StoppedAt    time.Time
	FinishedAt   time.Time
	ClipBytes    int
	ClipDuration time.Duration
	MIMEType     string
	Latency      time.Duration
}

// Sink receives handoff results. Deliver runs on the controller goroutine and
// must not block.
type Sink interface {
	Deliver(context.Context, Result)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(context.Context, Result)

func (f SinkFunc) Deliver(ctx context.Context, r Result) {
	f(ctx, r)
}

// Indicator surfaces controller state to the user. Calls must not block.
type Indicator interface {
	ShowListening(context.Context)
	ShowRecording(context.Context)
	ShowProcessing(context.Context)
	ShowError(context.Context, string)
	Hide(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) ShowListening(context.Context)     {}
func (noopIndicator) ShowRecording(context.Context)     {}
func (noopIndicator) ShowProcessing(context.Context)    {}
func (noopIndicator) ShowError(context.Context, string) {}
func (noopIndicator) Hide(context.Context)              {}

// Status is a point-in-time view of the controller.
type Status struct {
	State       fsm.State
	Volume      vad.Volume
	Speaking    bool
	Paused      bool
	SessionID   string
	Elapsed     time.Duration
	PeakReached bool
	LowFrames   int
	Tunables    Tunables
	History     []vad.Volume
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithIndicator wires a user-facing indicator.
func WithIndicator(ind Indicator) Option {
	return func(c *Controller) {
		if ind != nil {
			c.indicator = ind
		}
	}
}

// WithMetrics wires metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithRecorderFactory replaces the per-session recorder.
func WithRecorderFactory(f func() audio.Recorder) Option {
	return func(c *Controller) { c.newRecorder = f }
}

// WithStateListener registers a callback invoked on every state change. It
// runs on the controller goroutine and must not block.
func WithStateListener(f func(Status)) Option {
	return func(c *Controller) { c.onState = f }
}

// Controller owns the capture stream and the recording lifecycle.
type Controller struct {
	logger      *slog.Logger
	opener      audio.Opener
	transcriber Transcriber
	sink        Sink
	indicator   Indicator
	clock       Clock
	metrics     *observe.Metrics
	newRecorder func() audio.Recorder
	onState     func(Status)

	ctx       context.Context
	cancel    context.CancelFunc
	quit      chan struct{}
	closeOnce sync.Once
	events    chan event

	listenMu sync.Mutex
	loopDone chan struct{}

	mu       sync.RWMutex
	settings Settings
	snapshot Status
	history  *vad.History
	paused   atomic.Bool

	// Owned by the controller goroutine.
	state    fsm.State
	stream   audio.Stream
	session  *session
	stopping *session
	handoff  context.CancelFunc
	epoch    uint64
	timerGen uint64
	silence  timerSlot
	maxDur   timerSlot
	stopChk  timerSlot
}

// New constructs an idle controller. Settings must already be valid.
func New(
	logger *slog.Logger,
	settings Settings,
	opener audio.Opener,
	transcriber Transcriber,
	sink Sink,
	opts ...Option,
) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if sink == nil {
		sink = SinkFunc(func(context.Context, Result) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		logger:      logger,
		opener:      opener,
		transcriber: transcriber,
		sink:        sink,
		indicator:   noopIndicator{},
		clock:       realClock{},
		newRecorder: func() audio.Recorder { return audio.NewMemoryRecorder() },
		ctx:         ctx,
		cancel:      cancel,
		quit:        make(chan struct{}),
		events:      make(chan event, 64),
		settings:    settings,
		history:     vad.NewHistory(settings.HistoryLength),
		state:       fsm.StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snapshot = Status{State: fsm.StateIdle, Tunables: settings.Tunables}
	return c
}

// Listen opens the capture device and starts processing frames. Device
// failures leave the controller idle.
func (c *Controller) Listen(ctx context.Context) error {
	stream, done, err := c.open(ctx)
	if err != nil {
		return err
	}
	go c.run(stream, done)
	return nil
}

func (c *Controller) open(ctx context.Context) (audio.Stream, chan struct{}, error) {
	select {
	case <-c.quit:
		return nil, nil, ErrClosed
	default:
	}

	c.listenMu.Lock()
	defer c.listenMu.Unlock()

	if c.State() != fsm.StateIdle {
		return nil, nil, ErrAlreadyListening
	}
	// A loop that already reported idle is finishing its teardown.
	if c.loopDone != nil {
		<-c.loopDone
	}

	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(c.ctx, cancel)
	defer stopAfter()

	stream, err := audio.OpenWithFallback(openCtx, c.opener, c.logger)
	if err != nil {
		c.logger.Error("open capture device failed", "error", err.Error())
		c.indicator.ShowError(c.ctx, "Microphone unavailable")
		if c.ctx.Err() != nil {
			return nil, nil, ErrClosed
		}
		return nil, nil, err
	}

	select {
	case <-c.quit:
		_ = stream.Close()
		return nil, nil, ErrClosed
	default:
	}

	c.drainEvents()
	c.stream = stream
	c.loopDone = make(chan struct{})
	c.transition(fsm.EventOpen)
	c.indicator.ShowListening(c.ctx)
	c.logger.Info("listening", "sample_rate", stream.Format().SampleRate)
	return stream, c.loopDone, nil
}

// run is the controller goroutine.
func (c *Controller) run(stream audio.Stream, done chan struct{}) {
	defer close(done)
	frames := stream.Frames()
	for {
		select {
		case <-c.quit:
			c.teardown("closed")
			return
		case f, ok := <-frames:
			if !ok {
				c.logger.Warn("capture stream ended")
				c.teardown("stream ended")
				return
			}
			c.handle(frameEvent{frame: f})
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// Stop requests the active session to stop and hand off its clip.
func (c *Controller) Stop() error {
	if c.State() != fsm.StateRecording {
		return ErrNotRecording
	}
	c.post(stopRequest{})
	return nil
}

// ForceStop abandons any session or in-flight handoff without sending.
func (c *Controller) ForceStop() {
	if !c.State().Active() {
		return
	}
	c.post(forceStopRequest{})
}

// Close releases the stream and stops the controller. It is idempotent.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.cancel()
	})

	c.listenMu.Lock()
	done := c.loopDone
	c.listenMu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}

// State returns the current lifecycle state.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.State
}

// Status returns a snapshot including recent volume history.
func (c *Controller) Status() Status {
	c.mu.RLock()
	out := c.snapshot
	out.Tunables = c.settings.Tunables
	c.mu.RUnlock()
	out.Paused = c.paused.Load()
	out.History = c.history.Snapshot()
	return out
}

// Settings returns the active configuration.
func (c *Controller) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// SetTunables validates and applies new operator tunables. An open session
// keeps its armed max-duration timer.
func (c *Controller) SetTunables(t Tunables) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.settings
	next.Tunables = t
	if err := next.Validate(); err != nil {
		return err
	}
	c.settings = next
	c.logger.Info("tunables updated",
		"speech_threshold", t.SpeechThreshold,
		"max_recording_ms", t.MaxRecording.Milliseconds(),
		"stop_sensitivity", t.StopSensitivity,
	)
	return nil
}

// SetPaused suppresses new sessions while true, e.g. during reply playback.
func (c *Controller) SetPaused(paused bool) {
	c.paused.Store(paused)
}

func (c *Controller) currentSettings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// post enqueues an event for the controller goroutine.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *Controller) drainEvents() {
	for {
		select {
		case <-c.events:
		default:
			return
		}
	}
}

// transition applies one FSM event and publishes the new state.
func (c *Controller) transition(event fsm.Event) {
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.logger.Error("state transition rejected", "error", err.Error())
		return
	}
	c.state = next

	c.mu.Lock()
	c.snapshot.State = next
	if next != fsm.StateRecording {
		c.snapshot.SessionID = ""
		c.snapshot.Elapsed = 0
		c.snapshot.PeakReached = false
		c.snapshot.LowFrames = 0
	}
	c.mu.Unlock()

	if c.onState != nil {
		c.onState(c.Status())
	}
}

// teardown drops all session state and releases the stream.
func (c *Controller) teardown(reason string) {
	c.abandon()
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			c.logger.Warn("close capture stream failed", "error", err.Error())
		}
		c.stream = nil
	}
	c.transition(fsm.EventClose)
	c.history.Reset()
	c.indicator.Hide(context.Background())
	c.logger.Info("controller stopped listening", "reason", reason)
}

// abandon cancels timers, aborts recorders, and invalidates in-flight handoffs.
func (c *Controller) abandon() {
	c.cancelTimer(&c.silence)
	c.cancelTimer(&c.maxDur)
	c.cancelTimer(&c.stopChk)
	if c.session != nil {
		c.session.rec.Abort()
		c.session = nil
	}
	if c.stopping != nil {
		c.stopping.rec.Abort()
		c.stopping = nil
	}
	if c.handoff != nil {
		c.handoff()
		c.handoff = nil
	}
	c.epoch++
}

func (c *Controller) arm(slot *timerSlot, kind timerKind, d time.Duration) {
	c.cancelTimer(slot)
	c.timerGen++
	gen := c.timerGen
	slot.gen = gen
	slot.timer = c.clock.AfterFunc(d, func() {
		c.post(timerFired{kind: kind, gen: gen})
	})
}

func (c *Controller) cancelTimer(slot *timerSlot) {
	if slot.timer != nil {
		slot.timer.Stop()
	}
	slot.timer = nil
	slot.gen = 0
}

func (c *Controller) slot(kind timerKind) *timerSlot {
	switch kind {
	case timerSilence:
		return &c.silence
	case timerMaxDuration:
		return &c.maxDur
	case timerStopCheck:
		return &c.stopChk
	default:
		return nil
	}
}
