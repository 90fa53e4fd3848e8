package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// DefaultFrameSamples is the per-frame sample count used for volume analysis.
const DefaultFrameSamples = 4096

// Microphone opens Pulse capture streams for the configured input preference.
type Microphone struct {
	Input        string
	Fallback     string
	FrameSamples int

	logger *slog.Logger
	list   func(context.Context) ([]Device, error)
	start  func(context.Context, Device, Constraints, int) (Stream, error)
}

// NewMicrophone creates a Pulse-backed Opener.
func NewMicrophone(input, fallback string, frameSamples int, logger *slog.Logger) *Microphone {
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	return &Microphone{
		Input:        input,
		Fallback:     fallback,
		FrameSamples: frameSamples,
		logger:       logger,
		list:         ListDevices,
		start: func(ctx context.Context, dev Device, c Constraints, n int) (Stream, error) {
			capture, err := StartCapture(ctx, dev, c, n)
			if err != nil {
				return nil, err
			}
			return capture, nil
		},
	}
}

// Open resolves the input device and starts a capture stream honoring c.
func (m *Microphone) Open(ctx context.Context, c Constraints) (Stream, error) {
	devices, err := m.list(ctx)
	if err != nil {
		return nil, classifyOpenError(err)
	}

	selection, err := selectDeviceFromList(devices, m.Input, m.Fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if selection.Warning != "" && m.logger != nil {
		m.logger.Warn("audio device fallback", "warning", selection.Warning)
	}

	device := selection.Device
	if c.Processing() && isDefaultTerm(m.Input) {
		var processed bool
		device, processed = preferProcessedSource(devices, device)
		if !processed && m.logger != nil {
			m.logger.Debug("no echo-cancel source loaded; capturing unprocessed input", "device", device.ID)
		}
	}

	stream, err := m.start(ctx, device, c, m.FrameSamples)
	if err != nil {
		return nil, classifyOpenError(err)
	}
	if m.logger != nil {
		m.logger.Info("audio capture opened",
			"device", device.ID,
			"sample_rate", stream.Format().SampleRate,
			"channels", stream.Format().Channels,
		)
	}
	return stream, nil
}

// Capture streams fixed-size frames from one selected Pulse source.
type Capture struct {
	device     Device
	format     Format
	frameBytes int

	client *pulse.Client
	stream *pulse.RecordStream

	frames chan Frame
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// StartCapture creates and starts an s16 record stream at the requested rate.
func StartCapture(ctx context.Context, selected Device, c Constraints, frameSamples int) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	format := Format{SampleRate: c.SampleRate, Channels: 1}
	capture := newCapture(selected, format, frameSamples)
	capture.client = client

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(c.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(capture.frameBytes)),
		pulse.RecordMediaName("voiceassist microphone"),
	)
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()
	return capture, nil
}

func newCapture(device Device, format Format, frameSamples int) *Capture {
	return &Capture{
		device:     device,
		format:     format,
		frameBytes: frameSamples * 2 * format.Channels,
		frames:     make(chan Frame, 64),
		stopCh:     make(chan struct{}),
	}
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// Format returns the PCM layout of delivered frames.
func (c *Capture) Format() Format {
	return c.format
}

// Frames returns the frame channel. It is closed by Close.
func (c *Capture) Frames() <-chan Frame {
	return c.frames
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Close halts the stream and closes Frames exactly once. A trailing partial
// frame is dropped.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	close(c.frames)
	return nil
}

// onPCM receives raw Pulse buffers and emits frameBytes-sized frames.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)

	c.pending = append(c.pending, buffer...)

	chunks := make([][]byte, 0, len(c.pending)/c.frameBytes)
	for len(c.pending) >= c.frameBytes {
		chunk := make([]byte, c.frameBytes)
		copy(chunk, c.pending[:c.frameBytes])
		c.pending = c.pending[c.frameBytes:]
		chunks = append(chunks, chunk)
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(buffer)))

	for _, chunk := range chunks {
		frame := Frame{Samples: DecodePCM16(chunk), PCM: chunk, At: time.Now()}
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.frames <- frame:
		}
	}

	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
