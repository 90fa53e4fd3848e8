// Package pipeline wraps the clip transcriber with the logging and debug
// capture that surround every handoff.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keralacert/voiceassist/internal/audio"
	"github.com/keralacert/voiceassist/internal/config"
)

// ClipTranscriber is the provider call being wrapped.
type ClipTranscriber interface {
	Transcribe(context.Context, audio.Clip) (string, error)
}

// Transcriber logs each clip handoff and optionally dumps the clip as WAV.
type Transcriber struct {
	inner  ClipTranscriber
	debug  config.DebugConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewTranscriber wraps inner.
func NewTranscriber(inner ClipTranscriber, debug config.DebugConfig, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transcriber{inner: inner, debug: debug, logger: logger, now: time.Now}
}

// Transcribe dumps the clip when enabled, then forwards it.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	t.writeDebugAudio(clip)

	started := t.now()
	text, err := t.inner.Transcribe(ctx, clip)
	fields := []any{
		"clip_bytes", clip.Size(),
		"clip_ms", clip.Duration.Milliseconds(),
		"latency_ms", t.now().Sub(started).Milliseconds(),
	}
	if err != nil {
		t.logger.Warn("transcription failed", append(fields, "error", err.Error())...)
		return "", err
	}
	t.logger.Debug("transcription complete", append(fields, "transcript_length", len(text))...)
	return text, nil
}

// writeDebugAudio writes the encoded clip when debug.enable_audio_dump is set.
func (t *Transcriber) writeDebugAudio(clip audio.Clip) {
	if !t.debug.EnableAudioDump || clip.Size() == 0 {
		return
	}

	file, err := createDebugFile(t.debug.DumpDir, "clip", extensionFor(clip.MIMEType), t.now())
	if err != nil {
		t.logger.Warn("unable to create debug audio dump", "error", err)
		return
	}
	defer file.Close()

	if _, err := file.Write(clip.Data); err != nil {
		t.logger.Warn("unable to write debug audio dump", "path", file.Name(), "error", err)
		return
	}
	t.logger.Debug("debug audio dump written", "path", file.Name())
}

// createDebugFile creates a timestamped artifact under dir, or under the
// state directory when dir is empty.
func createDebugFile(dir, prefix, extension string, at time.Time) (*os.File, error) {
	if strings.TrimSpace(dir) == "" {
		stateDir, err := config.StateDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(stateDir, "debug")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.%s", prefix, at.Format("20060102-150405.000"), extension))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug file %q: %w", path, err)
	}
	return file, nil
}

func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return "wav"
	case strings.Contains(mimeType, "webm"):
		return "webm"
	case strings.Contains(mimeType, "ogg"):
		return "ogg"
	default:
		return "bin"
	}
}
