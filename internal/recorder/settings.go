package recorder

import (
	"fmt"
	"time"
)

// Operator tunable bounds.
const (
	MinSpeechThreshold = 0.5
	MaxSpeechThreshold = 30.0
	MinMaxRecording    = 5 * time.Second
	MaxMaxRecording    = 30 * time.Second
	MinStopSensitivity = 1
	MaxStopSensitivity = 10
)

// Tunables are the runtime-adjustable detection knobs.
type Tunables struct {
	SpeechThreshold float64
	MaxRecording    time.Duration
	StopSensitivity int
}

// DefaultTunables returns the stock detection knobs.
func DefaultTunables() Tunables {
	return Tunables{
		SpeechThreshold: 2,
		MaxRecording:    10 * time.Second,
		StopSensitivity: 3,
	}
}

// Validate enforces the operator ranges.
func (t Tunables) Validate() error {
	if t.SpeechThreshold < MinSpeechThreshold || t.SpeechThreshold > MaxSpeechThreshold {
		return fmt.Errorf("speech_threshold must be between %.1f and %.1f, got %v", MinSpeechThreshold, MaxSpeechThreshold, t.SpeechThreshold)
	}
	if t.MaxRecording < MinMaxRecording || t.MaxRecording > MaxMaxRecording {
		return fmt.Errorf("max_recording_seconds must be between %d and %d, got %v", int(MinMaxRecording.Seconds()), int(MaxMaxRecording.Seconds()), t.MaxRecording.Seconds())
	}
	if t.StopSensitivity < MinStopSensitivity || t.StopSensitivity > MaxStopSensitivity {
		return fmt.Errorf("stop_sensitivity must be between %d and %d, got %d", MinStopSensitivity, MaxStopSensitivity, t.StopSensitivity)
	}
	return nil
}

// Settings is the full controller configuration.
type Settings struct {
	Tunables

	PeakVolumeThreshold     float64
	LowVolumeStopThreshold  float64
	MaxSilence              time.Duration
	MinRecording            time.Duration
	LowFramesPerSensitivity int
	HistoryLength           int
	MinClipBytes            int
	StopAttempts            int
	StopConfirmDelay        time.Duration
	HandoffTimeout          time.Duration
}

// DefaultSettings returns the stock controller configuration.
func DefaultSettings() Settings {
	return Settings{
		Tunables:                DefaultTunables(),
		PeakVolumeThreshold:     95,
		LowVolumeStopThreshold:  50,
		MaxSilence:              800 * time.Millisecond,
		MinRecording:            1000 * time.Millisecond,
		LowFramesPerSensitivity: 5,
		HistoryLength:           50,
		MinClipBytes:            100,
		StopAttempts:            3,
		StopConfirmDelay:        100 * time.Millisecond,
		HandoffTimeout:          30 * time.Second,
	}
}

// Validate checks tunables and fixed constants.
func (s Settings) Validate() error {
	if err := s.Tunables.Validate(); err != nil {
		return err
	}
	if s.PeakVolumeThreshold <= 0 || s.PeakVolumeThreshold > 100 {
		return fmt.Errorf("peak_volume_threshold must be in (0, 100]")
	}
	if s.LowVolumeStopThreshold <= 0 || s.LowVolumeStopThreshold > 100 {
		return fmt.Errorf("low_volume_stop_threshold must be in (0, 100]")
	}
	if s.MaxSilence <= 0 {
		return fmt.Errorf("max_silence must be > 0")
	}
	if s.MinRecording < 0 || s.MinRecording >= s.MaxRecording {
		return fmt.Errorf("min_recording must be >= 0 and below max_recording_seconds")
	}
	if s.LowFramesPerSensitivity <= 0 {
		return fmt.Errorf("consecutive_low_frames must be > 0")
	}
	if s.StopAttempts <= 0 {
		return fmt.Errorf("stop_attempts must be > 0")
	}
	if s.StopConfirmDelay <= 0 {
		return fmt.Errorf("stop_confirm_delay must be > 0")
	}
	if s.HandoffTimeout <= 0 {
		return fmt.Errorf("handoff_timeout must be > 0")
	}
	return nil
}

// LowFrameLimit is the low-volume run length that stops a peaked session.
func (s Settings) LowFrameLimit() int {
	return s.LowFramesPerSensitivity * s.StopSensitivity
}
