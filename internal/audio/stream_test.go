package audio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	frames chan Frame
	format Format
}

func (f *fakeStream) Frames() <-chan Frame { return f.frames }
func (f *fakeStream) Format() Format       { return f.format }
func (f *fakeStream) Close() error         { return nil }

func TestOpenWithFallbackUsesDetailedFirst(t *testing.T) {
	var calls []Constraints
	opener := OpenerFunc(func(_ context.Context, c Constraints) (Stream, error) {
		calls = append(calls, c)
		return &fakeStream{format: Format{SampleRate: c.SampleRate, Channels: 1}}, nil
	})

	stream, err := OpenWithFallback(context.Background(), opener, nil)
	require.NoError(t, err)
	require.Equal(t, 48000, stream.Format().SampleRate)
	require.Len(t, calls, 1)
	require.True(t, calls[0].EchoCancellation)
	require.True(t, calls[0].NoiseSuppression)
	require.True(t, calls[0].AutoGainControl)
}

func TestOpenWithFallbackRetriesBasic(t *testing.T) {
	var calls []Constraints
	opener := OpenerFunc(func(_ context.Context, c Constraints) (Stream, error) {
		calls = append(calls, c)
		if c.Processing() {
			return nil, errors.New("overconstrained")
		}
		return &fakeStream{format: Format{SampleRate: c.SampleRate, Channels: 1}}, nil
	})

	stream, err := OpenWithFallback(context.Background(), opener, nil)
	require.NoError(t, err)
	require.Equal(t, 16000, stream.Format().SampleRate)
	require.Len(t, calls, 2)
	require.False(t, calls[1].Processing())
}

func TestOpenWithFallbackClassifiesBasicFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "permission", err: errors.New("Access denied"), want: ErrPermissionDenied},
		{name: "not allowed", err: errors.New("capture not allowed by policy"), want: ErrPermissionDenied},
		{name: "unavailable", err: errors.New("no such entity"), want: ErrDeviceUnavailable},
		{name: "already classified", err: ErrPermissionDenied, want: ErrPermissionDenied},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opener := OpenerFunc(func(context.Context, Constraints) (Stream, error) {
				return nil, tc.err
			})
			_, err := OpenWithFallback(context.Background(), opener, nil)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestOpenWithFallbackStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	opener := OpenerFunc(func(context.Context, Constraints) (Stream, error) {
		calls++
		cancel()
		return nil, errors.New("interrupted")
	})

	_, err := OpenWithFallback(ctx, opener, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestPCM16RoundTripPreservesShape(t *testing.T) {
	samples := []float64{0, 0.5, -0.5, 1, -1}
	decoded := DecodePCM16(EncodePCM16(samples))
	require.Len(t, decoded, len(samples))
	for i := range samples {
		require.InDelta(t, samples[i], decoded[i], 0.001)
	}
}

func TestEncodePCM16Clamps(t *testing.T) {
	decoded := DecodePCM16(EncodePCM16([]float64{3, -3}))
	require.InDelta(t, 1, decoded[0], 0.001)
	require.InDelta(t, -1, decoded[1], 0.001)
}

func TestFormatDuration(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1}
	require.Equal(t, 32000, f.BytesPerSecond())
	require.Equal(t, time.Second, f.Duration(32000))
	require.Equal(t, time.Duration(0), f.Duration(0))
	require.Equal(t, time.Duration(0), Format{}.Duration(100))
}
