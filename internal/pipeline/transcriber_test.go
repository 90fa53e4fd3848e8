package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keralacert/voiceassist/internal/audio"
	"github.com/keralacert/voiceassist/internal/config"
)

type fakeTranscriber struct {
	text  string
	err   error
	clips []audio.Clip
}

func (f *fakeTranscriber) Transcribe(_ context.Context, clip audio.Clip) (string, error) {
	f.clips = append(f.clips, clip)
	return f.text, f.err
}

func wavClip() audio.Clip {
	return audio.Clip{
		Data:     append([]byte("RIFF"), make([]byte, 200)...),
		MIMEType: audio.MIMETypeWAV,
		PCMBytes: 160,
		Duration: 250 * time.Millisecond,
	}
}

func TestTranscriberForwardsClip(t *testing.T) {
	inner := &fakeTranscriber{text: "birth certificate"}
	tr := NewTranscriber(inner, config.DebugConfig{}, nil)

	text, err := tr.Transcribe(context.Background(), wavClip())
	require.NoError(t, err)
	require.Equal(t, "birth certificate", text)
	require.Len(t, inner.clips, 1)
}

func TestTranscriberLogsFailures(t *testing.T) {
	var logs bytes.Buffer
	cause := errors.New("upstream 503")
	tr := NewTranscriber(&fakeTranscriber{err: cause}, config.DebugConfig{}, slog.New(slog.NewJSONHandler(&logs, nil)))

	_, err := tr.Transcribe(context.Background(), wavClip())
	require.ErrorIs(t, err, cause)
	require.Contains(t, logs.String(), "transcription failed")
	require.Contains(t, logs.String(), `"clip_bytes":204`)
}

func TestTranscriberWritesDebugDump(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	tr := NewTranscriber(&fakeTranscriber{text: "ok"}, config.DebugConfig{EnableAudioDump: true, DumpDir: dir}, nil)
	tr.now = func() time.Time { return time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC) }

	clip := wavClip()
	_, err := tr.Transcribe(context.Background(), clip)
	require.NoError(t, err)

	path := filepath.Join(dir, "clip-20260314-103000.000.wav")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, clip.Data, data)

	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())
}

func TestTranscriberSkipsDumpWhenDisabled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	tr := NewTranscriber(&fakeTranscriber{text: "ok"}, config.DebugConfig{DumpDir: dir}, nil)

	_, err := tr.Transcribe(context.Background(), wavClip())
	require.NoError(t, err)
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func TestCreateDebugFileFallsBackToStateDir(t *testing.T) {
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)

	file, err := createDebugFile("", "clip", "wav", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, file.Close())
	require.Equal(t, filepath.Join(state, "voiceassist", "debug", "clip-20260102-030405.000.wav"), file.Name())
}

func TestExtensionFor(t *testing.T) {
	require.Equal(t, "wav", extensionFor("audio/wav"))
	require.Equal(t, "webm", extensionFor("audio/webm;codecs=opus"))
	require.Equal(t, "ogg", extensionFor("audio/ogg"))
	require.Equal(t, "bin", extensionFor(""))
}
