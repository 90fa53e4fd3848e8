package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrDeviceUnavailable indicates no capture device could be opened.
	ErrDeviceUnavailable = errors.New("audio capture device unavailable")
	// ErrPermissionDenied indicates the audio server refused capture access.
	ErrPermissionDenied = errors.New("audio capture permission denied")
)

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate for f.
func (f Format) BytesPerSecond() int {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	return f.SampleRate * channels * 2
}

// Duration returns the playback length of n PCM bytes.
func (f Format) Duration(n int) time.Duration {
	rate := f.BytesPerSecond()
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// Frame is one processing tick of captured audio.
type Frame struct {
	Samples []float64
	PCM     []byte
	At      time.Time
}

// Stream is an open capture stream delivering fixed-size frames.
type Stream interface {
	Frames() <-chan Frame
	Format() Format
	Close() error
}

// Constraints are the capture preferences requested when opening a device.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	Channels         int
}

// DetailedConstraints asks for a processed 48 kHz mono stream.
func DetailedConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       48000,
		Channels:         1,
	}
}

// BasicConstraints asks for any unprocessed mono stream.
func BasicConstraints() Constraints {
	return Constraints{SampleRate: 16000, Channels: 1}
}

// Processing reports whether any signal processing was requested.
func (c Constraints) Processing() bool {
	return c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl
}

// Opener opens capture streams.
type Opener interface {
	Open(context.Context, Constraints) (Stream, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(context.Context, Constraints) (Stream, error)

func (f OpenerFunc) Open(ctx context.Context, c Constraints) (Stream, error) {
	return f(ctx, c)
}

// OpenWithFallback tries detailed constraints first and falls back to basic ones.
func OpenWithFallback(ctx context.Context, opener Opener, logger *slog.Logger) (Stream, error) {
	stream, err := opener.Open(ctx, DetailedConstraints())
	if err == nil {
		return stream, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if logger != nil {
		logger.Warn("detailed capture constraints rejected; retrying with basic constraints", "error", err.Error())
	}

	stream, err = opener.Open(ctx, BasicConstraints())
	if err != nil {
		return nil, classifyOpenError(err)
	}
	return stream, nil
}

// classifyOpenError maps open failures onto the capture error taxonomy.
func classifyOpenError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "access denied") || strings.Contains(lower, "permission") || strings.Contains(lower, "not allowed") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

// DecodePCM16 converts little-endian s16 PCM into samples in [-1, 1].
func DecodePCM16(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float64(v) / 32768
	}
	return out
}

// EncodePCM16 converts samples in [-1, 1] into little-endian s16 PCM.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}
