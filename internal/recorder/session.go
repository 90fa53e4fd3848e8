package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keralacert/voiceassist/internal/audio"
	"github.com/keralacert/voiceassist/internal/fsm"
	"github.com/keralacert/voiceassist/internal/vad"
)

// event is anything the controller goroutine reacts to.
type event interface{ isEvent() }

type frameEvent struct{ frame audio.Frame }

type timerFired struct {
	kind timerKind
	gen  uint64
}

type stopRequest struct{}

type forceStopRequest struct{}

type handoffDone struct {
	epoch uint64
	sess  *session
	clip  audio.Clip
	text  string
	err   error
}

func (frameEvent) isEvent()       {}
func (timerFired) isEvent()       {}
func (stopRequest) isEvent()      {}
func (forceStopRequest) isEvent() {}
func (handoffDone) isEvent()      {}

// session is one open recording.
type session struct {
	id        string
	rec       audio.Recorder
	format    audio.Format
	startedAt time.Time
	stoppedAt time.Time
	reason    StopReason

	// pending holds silent frames that are only committed once speech resumes.
	pending     [][]byte
	peakReached bool
	lowFrames   int
	attempts    int
}

func (c *Controller) handle(ev event) {
	switch ev := ev.(type) {
	case frameEvent:
		c.handleFrame(ev.frame)
	case timerFired:
		c.handleTimer(ev)
	case stopRequest:
		if c.state == fsm.StateRecording && c.session != nil {
			c.stop(StopRequested)
		}
	case forceStopRequest:
		c.forceStop()
	case handoffDone:
		c.handleHandoff(ev)
	}
}

func (c *Controller) handleFrame(f audio.Frame) {
	settings := c.currentSettings()
	vol := vad.Estimate(f.Samples)
	speaking := vad.Classifier{Threshold: settings.SpeechThreshold}.IsSpeech(vol)
	c.history.Push(vol)
	now := f.At
	if now.IsZero() {
		now = c.clock.Now()
	}

	switch c.state {
	case fsm.StateListening:
		if speaking && !c.paused.Load() {
			c.startSession(f, now, settings)
		}
	case fsm.StateRecording:
		c.recordFrame(f, vol, speaking, now, settings)
	}

	c.mu.Lock()
	c.snapshot.Volume = vol
	c.snapshot.Speaking = speaking
	if s := c.session; s != nil {
		c.snapshot.SessionID = s.id
		c.snapshot.Elapsed = now.Sub(s.startedAt)
		c.snapshot.PeakReached = s.peakReached
		c.snapshot.LowFrames = s.lowFrames
	}
	c.mu.Unlock()
}

func (c *Controller) startSession(f audio.Frame, now time.Time, settings Settings) {
	rec := c.newRecorder()
	format := c.stream.Format()
	if err := rec.Start(format); err != nil {
		c.logger.Error("start recorder failed", "error", err.Error())
		return
	}
	if err := rec.Write(f.PCM); err != nil {
		c.logger.Error("write first frame failed", "error", err.Error())
		rec.Abort()
		return
	}

	c.session = &session{
		id:        uuid.NewString(),
		rec:       rec,
		format:    format,
		startedAt: now,
	}
	c.transition(fsm.EventSpeech)
	c.arm(&c.maxDur, timerMaxDuration, settings.MaxRecording)

	c.indicator.ShowRecording(c.ctx)
	c.metrics.RecordSessionStarted(c.ctx)
	c.logger.Debug("recording started", "session_id", c.session.id)
}

func (c *Controller) recordFrame(f audio.Frame, vol vad.Volume, speaking bool, now time.Time, settings Settings) {
	s := c.session
	if s == nil {
		return
	}
	elapsed := now.Sub(s.startedAt)

	if float64(vol) >= settings.PeakVolumeThreshold {
		s.peakReached = true
		s.lowFrames = 0
	}

	if speaking {
		c.cancelTimer(&c.silence)
		s.lowFrames = 0
		if elapsed >= settings.MaxRecording {
			c.stop(StopMaxDuration)
			return
		}
		for _, chunk := range s.pending {
			c.write(s, chunk)
		}
		s.pending = s.pending[:0]
		c.write(s, f.PCM)
		return
	}

	s.pending = append(s.pending, f.PCM)
	if elapsed < settings.MinRecording {
		return
	}

	if s.peakReached {
		if float64(vol) < settings.LowVolumeStopThreshold {
			s.lowFrames++
		} else {
			s.lowFrames = 0
		}
		if s.lowFrames >= settings.LowFrameLimit() {
			c.stop(StopLowVolume)
			return
		}
	}

	if !c.silence.armed() {
		c.arm(&c.silence, timerSilence, settings.MaxSilence)
	}
}

func (c *Controller) write(s *session, pcm []byte) {
	if err := s.rec.Write(pcm); err != nil {
		c.logger.Warn("recorder write failed", "session_id", s.id, "error", err.Error())
	}
}

func (c *Controller) handleTimer(ev timerFired) {
	slot := c.slot(ev.kind)
	if slot == nil || slot.gen == 0 || slot.gen != ev.gen {
		return
	}
	slot.timer = nil
	slot.gen = 0

	switch ev.kind {
	case timerSilence:
		if c.state == fsm.StateRecording {
			c.stop(StopSilence)
		}
	case timerMaxDuration:
		if c.state == fsm.StateRecording {
			c.stop(StopMaxDuration)
		}
	case timerStopCheck:
		c.checkStopped()
	}
}

// stop closes the open session and begins confirming the recorder stopped.
func (c *Controller) stop(reason StopReason) {
	s := c.session
	if s == nil {
		return
	}
	c.cancelTimer(&c.silence)
	c.cancelTimer(&c.maxDur)

	s.stoppedAt = c.clock.Now()
	s.reason = reason
	s.pending = nil
	c.session = nil
	c.stopping = s
	c.transition(fsm.EventStop)

	c.indicator.ShowProcessing(c.ctx)
	c.metrics.RecordSessionStopped(c.ctx, string(reason), s.stoppedAt.Sub(s.startedAt))
	c.logger.Debug("recording stopped",
		"session_id", s.id,
		"reason", string(reason),
		"duration_ms", s.stoppedAt.Sub(s.startedAt).Milliseconds(),
	)

	s.attempts = 1
	s.rec.Stop()
	if s.rec.Stopped() {
		c.finalize()
		return
	}
	c.arm(&c.stopChk, timerStopCheck, c.currentSettings().StopConfirmDelay)
}

func (c *Controller) checkStopped() {
	s := c.stopping
	if s == nil {
		return
	}
	if s.rec.Stopped() {
		c.finalize()
		return
	}

	settings := c.currentSettings()
	if s.attempts >= settings.StopAttempts {
		c.logger.Warn("recorder ignored stop; aborting",
			"session_id", s.id,
			"attempts", s.attempts,
			"error", ErrStopNotConfirmed.Error(),
		)
		s.rec.Abort()
		c.finalize()
		return
	}
	s.attempts++
	s.rec.Stop()
	c.arm(&c.stopChk, timerStopCheck, settings.StopConfirmDelay)
}

// finalize extracts the clip and starts the handoff, or discards an
// undersized clip.
func (c *Controller) finalize() {
	s := c.stopping
	if s == nil {
		return
	}
	c.cancelTimer(&c.stopChk)
	c.stopping = nil

	settings := c.currentSettings()
	clip, err := s.rec.Clip()
	if err == nil && (clip.PCMBytes == 0 || clip.Size() < settings.MinClipBytes) {
		err = ErrEmptyClip
	}
	if err != nil {
		c.logger.Debug("discarding clip", "session_id", s.id, "error", err.Error())
		c.metrics.RecordClipDiscarded(c.ctx)
		c.transition(fsm.EventDone)
		c.indicator.ShowListening(c.ctx)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, settings.HandoffTimeout)
	c.handoff = cancel
	epoch := c.epoch
	go func() {
		defer cancel()
		text, err := c.transcriber.Transcribe(ctx, clip)
		c.post(handoffDone{epoch: epoch, sess: s, clip: clip, text: text, err: err})
	}()
}

func (c *Controller) handleHandoff(ev handoffDone) {
	if ev.epoch != c.epoch || c.state != fsm.StateProcessing {
		c.logger.Debug("dropping stale transcription", "session_id", ev.sess.id)
		return
	}
	if c.handoff != nil {
		c.handoff()
		c.handoff = nil
	}

	finished := c.clock.Now()
	result := Result{
		SessionID:    ev.sess.id,
		Transcript:   ev.text,
		StopReason:   ev.sess.reason,
		StartedAt:    ev.sess.startedAt,
		StoppedAt:    ev.sess.stoppedAt,
		FinishedAt:   finished,
		ClipBytes:    ev.clip.Size(),
		ClipDuration: ev.clip.Duration,
		MIMEType:     ev.clip.MIMEType,
		Latency:      finished.Sub(ev.sess.stoppedAt),
	}
	if ev.err != nil {
		result.Err = fmt.Errorf("%w: %w", ErrTranscriptionFailed, ev.err)
		c.logger.Error("transcription failed", "session_id", ev.sess.id, "error", ev.err.Error())
		if !errors.Is(ev.err, context.Canceled) {
			c.indicator.ShowError(c.ctx, "Speech recognition failed")
		}
	} else {
		c.logger.Info("transcription ready",
			"session_id", ev.sess.id,
			"chars", len(ev.text),
			"latency_ms", result.Latency.Milliseconds(),
		)
	}
	c.metrics.RecordHandoff(c.ctx, result.Latency, ev.err)

	c.transition(fsm.EventDone)
	c.sink.Deliver(c.ctx, result)
	if ev.err == nil {
		c.indicator.ShowListening(c.ctx)
	}
}

// forceStop discards any open session or pending handoff. With an open stream
// the controller keeps listening.
func (c *Controller) forceStop() {
	prior := c.state
	c.abandon()
	c.transition(fsm.EventForceStop)
	c.metrics.RecordForceStop(c.ctx)
	c.logger.Info("force stop", "from", string(prior))
	if c.state == fsm.StateListening {
		c.indicator.ShowListening(c.ctx)
	}
}
