package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keralacert/voiceassist/internal/dialogue"
	"github.com/keralacert/voiceassist/internal/fsm"
	"github.com/keralacert/voiceassist/internal/recorder"
	"github.com/keralacert/voiceassist/internal/speech"
	"github.com/keralacert/voiceassist/internal/storage"
	"github.com/keralacert/voiceassist/internal/transcribe"
)

type fakeSpeech struct {
	err  error
	text string
}

func (f *fakeSpeech) Synthesize(_ context.Context, text string, format speech.Format) (speech.Audio, error) {
	f.text = text
	if f.err != nil {
		return speech.Audio{}, f.err
	}
	return speech.Audio{Data: []byte("mp3:" + text), Format: format, ContentType: "audio/mpeg"}, nil
}

type fakeTranscriber struct {
	mime string
	size int
	text string
	err  error
}

func (f *fakeTranscriber) TranscribeBytes(_ context.Context, data []byte, mime string) (string, error) {
	f.mime = mime
	f.size = len(data)
	return f.text, f.err
}

type fakeRecorder struct {
	mu       sync.Mutex
	settings recorder.Settings
}

func (f *fakeRecorder) Status() recorder.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return recorder.Status{State: fsm.StateListening, Tunables: f.settings.Tunables}
}

func (f *fakeRecorder) Settings() recorder.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeRecorder) SetTunables(t recorder.Tunables) error {
	next := f.Settings()
	next.Tunables = t
	if err := next.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.settings = next
	f.mu.Unlock()
	return nil
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(deps).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func openForms(t *testing.T) *storage.FormStore {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "va.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewFormStore(db)
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSay(t *testing.T) {
	fs := &fakeSpeech{}
	srv := newTestServer(t, Deps{Speech: fs})

	resp, err := http.Post(srv.URL+"/api/say", "application/json", strings.NewReader(`{"text":"Hello there"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	body := new(bytes.Buffer)
	_, _ = body.ReadFrom(resp.Body)
	require.Equal(t, "mp3:Hello there", body.String())
}

func TestSayErrors(t *testing.T) {
	srv := newTestServer(t, Deps{Speech: &fakeSpeech{err: errors.New("upstream 500")}})

	resp, err := http.Post(srv.URL+"/api/say", "application/json", strings.NewReader(`{"text":"  "}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/say", "application/json", strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "Error generating speech", body["error"])

	unconfigured := newTestServer(t, Deps{})
	resp, err = http.Post(unconfigured.URL+"/api/say", "application/json", strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func uploadAudio(t *testing.T, url string, data []byte, mime string, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio"; filename="clip.webm"`)
	h.Set("Content-Type", mime)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write(data)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/transcribe", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func TestTranscribeUpload(t *testing.T) {
	ft := &fakeTranscriber{text: "income certificate please"}
	srv := newTestServer(t, Deps{Transcriber: ft})

	resp := uploadAudio(t, srv.URL, make([]byte, 2048), "audio/webm;codecs=opus", nil)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "income certificate please", body["text"])
	require.Equal(t, "audio/webm;codecs=opus", ft.mime)
	require.Equal(t, 2048, ft.size)
}

func TestTranscribeRejectsUnknownConversation(t *testing.T) {
	ft := &fakeTranscriber{text: "my aadhaar is 1234 5678 9012"}
	hub := NewHub(nil, dialogue.NewConversations("", 0), nil, nil, nil)
	srv := newTestServer(t, Deps{Transcriber: ft, Hub: hub})

	resp := uploadAudio(t, srv.URL, make([]byte, 2048), "audio/webm", map[string]string{"conversation_id": "someone-else"})
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["error"], "conversation_id")
	require.Zero(t, ft.size, "nothing is transcribed for a foreign conversation")

	_, id := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	require.Eventually(t, func() bool { return hub.Owns(id) }, time.Second, 5*time.Millisecond)
	resp = uploadAudio(t, srv.URL, make([]byte, 2048), "audio/webm", map[string]string{"conversation_id": id})
	decodeBody(t, resp, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "my aadhaar is 1234 5678 9012", body["text"])

	noHub := newTestServer(t, Deps{Transcriber: &fakeTranscriber{text: "x"}})
	resp = uploadAudio(t, noHub.URL, make([]byte, 2048), "audio/webm", map[string]string{"conversation_id": id})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTranscribeErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{transcribe.ErrClipTooSmall, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: bad", transcribe.ErrInvalidFormat), http.StatusUnprocessableEntity},
		{transcribe.ErrNoSpeechDetected, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: 500", transcribe.ErrServiceError), http.StatusBadGateway},
	}
	for _, tc := range cases {
		srv := newTestServer(t, Deps{Transcriber: &fakeTranscriber{err: tc.err}})
		resp := uploadAudio(t, srv.URL, []byte("x"), "audio/wav", nil)
		resp.Body.Close()
		require.Equal(t, tc.want, resp.StatusCode, tc.err.Error())
	}

	srv := newTestServer(t, Deps{Transcriber: &fakeTranscriber{}})
	resp, err := http.Post(srv.URL+"/api/transcribe", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFormRoutes(t *testing.T) {
	srv := newTestServer(t, Deps{Forms: openForms(t)})

	resp, err := http.Post(srv.URL+"/api/form/field", "application/json",
		strings.NewReader(`{"draft":"d-1","field":"phone","value":"+91 94470 01122"}`))
	require.NoError(t, err)
	var draft struct {
		ID       string             `json:"id"`
		FormData map[string]*string `json:"formData"`
		Complete bool               `json:"isComplete"`
	}
	decodeBody(t, resp, &draft)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "d-1", draft.ID)
	require.Equal(t, "9447001122", *draft.FormData["phone"])
	require.Nil(t, draft.FormData["fullName"])

	resp, err = http.Post(srv.URL+"/api/form/field", "application/json",
		strings.NewReader(`{"draft":"d-1","field":"pincode","value":"12"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/form/field", "application/json",
		strings.NewReader(`{"draft":"d-1","field":"age","value":"12"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/form?draft=d-1")
	require.NoError(t, err)
	decodeBody(t, resp, &draft)
	require.Equal(t, "9447001122", *draft.FormData["phone"])

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/form?draft=d-1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/form?draft=d-1")
	require.NoError(t, err)
	decodeBody(t, resp, &draft)
	require.Nil(t, draft.FormData["phone"])
}

func TestVADRoutes(t *testing.T) {
	rec := &fakeRecorder{settings: recorder.DefaultSettings()}
	srv := newTestServer(t, Deps{Recorder: rec})

	resp, err := http.Get(srv.URL + "/api/vad")
	require.NoError(t, err)
	var status recorder.StatusPayload
	decodeBody(t, resp, &status)
	require.Equal(t, "listening", status.State)
	require.EqualValues(t, 2, status.SpeechThreshold)

	resp, err = http.Post(srv.URL+"/api/vad", "application/json",
		strings.NewReader(`{"speech_threshold": 12.5, "stop_sensitivity": 6}`))
	require.NoError(t, err)
	decodeBody(t, resp, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.InDelta(t, 12.5, status.SpeechThreshold, 1e-9)
	require.Equal(t, 6, status.StopSensitivity)
	require.Equal(t, 10, status.MaxRecordingSec)

	resp, err = http.Post(srv.URL+"/api/vad", "application/json",
		strings.NewReader(`{"max_recording_seconds": 99}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, 10*time.Second, rec.Settings().MaxRecording)
}

func TestHealthzAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	srv := newTestServer(t, Deps{Recorder: &fakeRecorder{settings: recorder.DefaultSettings()}, MetricsHandler: metrics})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "listening", body["state"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
