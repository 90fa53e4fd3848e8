// Package indicator shows controller state as desktop notifications and
// short audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/keralacert/voiceassist/internal/config"
)

const (
	queueSize       = 16
	dispatchTimeout = 400 * time.Millisecond
	stickyTimeoutMS = 300000
)

// Notifier implements recorder.Indicator. Every call is queued and handled on
// a single worker goroutine so callers never block.
type Notifier struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages Messages
	cue      func(context.Context, cueKind) error

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the worker.
	notificationID uint32
}

// New starts a notifier for cfg.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	n := &Notifier{
		cfg:      cfg,
		logger:   logger,
		messages: MessagesFor(cfg.Locale),
		cue:      emitCue,
		ops:      make(chan func(), queueSize),
		done:     make(chan struct{}),
	}
	go n.work()
	return n
}

func (n *Notifier) ShowListening(context.Context) {
	n.enqueue(func() {
		n.playCue(cueReady)
		n.notify(stickyTimeoutMS, urgencyLow, n.messages.Listening)
	})
}

func (n *Notifier) ShowRecording(context.Context) {
	n.enqueue(func() {
		n.playCue(cueStart)
		n.notify(stickyTimeoutMS, urgencyNormal, n.messages.Recording)
	})
}

func (n *Notifier) ShowProcessing(context.Context) {
	n.enqueue(func() {
		n.playCue(cueStop)
		n.notify(stickyTimeoutMS, urgencyNormal, n.messages.Processing)
	})
}

// ShowError shows text, or the generic error message when text is empty.
func (n *Notifier) ShowError(_ context.Context, text string) {
	if text == "" {
		text = n.messages.Error
	}
	timeout := n.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	n.enqueue(func() {
		n.playCue(cueError)
		n.notify(timeout, urgencyCritical, text)
	})
}

func (n *Notifier) Hide(context.Context) {
	n.enqueue(n.dismiss)
}

// Close stops the worker after it has handled everything already queued.
func (n *Notifier) Close() error {
	n.closeOnce.Do(func() { close(n.ops) })
	<-n.done
	return nil
}

func (n *Notifier) enqueue(op func()) {
	defer func() {
		// Send on a closed queue after Close.
		_ = recover()
	}()
	select {
	case n.ops <- op:
	default:
		n.logger.Debug("indicator queue full; dropping update")
	}
}

func (n *Notifier) work() {
	defer close(n.done)
	for op := range n.ops {
		op()
	}
}

func (n *Notifier) desktop() bool {
	return n.cfg.Enable && strings.EqualFold(strings.TrimSpace(n.cfg.Backend), "desktop")
}

func (n *Notifier) notify(timeoutMS int, urgency byte, text string) {
	if !n.desktop() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "voiceassist"
	}
	id, err := desktopNotify(ctx, appName, n.notificationID, text, timeoutMS, urgency)
	if err != nil {
		n.logger.Debug("indicator dispatch failed", "error", err)
		return
	}
	n.notificationID = id
}

func (n *Notifier) dismiss() {
	if !n.desktop() || n.notificationID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	id := n.notificationID
	n.notificationID = 0
	if err := desktopDismiss(ctx, id); err != nil {
		n.logger.Debug("indicator dismiss failed", "error", err)
	}
}

func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.cue(ctx, kind); err != nil {
		n.logger.Debug("indicator audio cue failed", "error", err)
	}
}
