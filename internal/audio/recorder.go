package audio

import (
	"errors"
	"sync"
)

var (
	// ErrRecorderNotStarted is returned by Write/Clip before Start.
	ErrRecorderNotStarted = errors.New("recorder not started")
	// ErrRecorderStopped is returned by Write after Stop or Abort.
	ErrRecorderStopped = errors.New("recorder already stopped")
)

// Recorder accumulates one session's audio into a clip. Stop requests the
// recorder to finish; Stopped reports whether the request was acknowledged.
type Recorder interface {
	Start(Format) error
	Write([]byte) error
	Stop()
	Stopped() bool
	Abort()
	Clip() (Clip, error)
}

// MemoryRecorder buffers PCM in memory and encodes WAV on Clip. Stop is
// acknowledged immediately.
type MemoryRecorder struct {
	mu      sync.Mutex
	format  Format
	pcm     []byte
	started bool
	stopped bool
	aborted bool
}

// NewMemoryRecorder returns an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Start(format Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.format = format
	r.pcm = r.pcm[:0]
	r.started = true
	r.stopped = false
	r.aborted = false
	return nil
}

func (r *MemoryRecorder) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return ErrRecorderNotStarted
	}
	if r.stopped {
		return ErrRecorderStopped
	}
	r.pcm = append(r.pcm, pcm...)
	return nil
}

func (r *MemoryRecorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

func (r *MemoryRecorder) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Abort stops the recorder without waiting for acknowledgement. Audio written
// so far remains available to Clip.
func (r *MemoryRecorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.aborted = true
}

// Clip encodes everything written since Start.
func (r *MemoryRecorder) Clip() (Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return Clip{}, ErrRecorderNotStarted
	}
	if len(r.pcm) == 0 {
		return Clip{MIMEType: MIMETypeWAV}, nil
	}
	return Clip{
		Data:     EncodeWAV(r.pcm, r.format),
		MIMEType: MIMETypeWAV,
		PCMBytes: len(r.pcm),
		Duration: r.format.Duration(len(r.pcm)),
	}, nil
}
