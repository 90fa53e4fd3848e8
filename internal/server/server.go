// Package server exposes the assistant over HTTP, websockets, and the gRPC
// health protocol.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/keralacert/voiceassist/internal/formfill"
	"github.com/keralacert/voiceassist/internal/recorder"
	"github.com/keralacert/voiceassist/internal/speech"
	"github.com/keralacert/voiceassist/internal/transcribe"
)

const (
	maxJSONBody     = 1 << 20
	maxUploadBytes  = 5 << 20
	defaultDraftID  = "voice"
	shutdownTimeout = 5 * time.Second
)

// Synthesizer renders text as audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, format speech.Format) (speech.Audio, error)
}

// Transcriber converts an uploaded recording into text.
type Transcriber interface {
	TranscribeBytes(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Forms stores application drafts.
type Forms interface {
	LoadOrNew(ctx context.Context, id string) (*formfill.Draft, error)
	Save(ctx context.Context, d *formfill.Draft) error
	Delete(ctx context.Context, id string) error
}

// Recorder is the live controller surface the HTTP API reads and tunes.
type Recorder interface {
	Status() recorder.Status
	Settings() recorder.Settings
	SetTunables(recorder.Tunables) error
}

// Deps wires the server. Nil dependencies disable their routes with 503.
type Deps struct {
	Logger         *slog.Logger
	Speech         Synthesizer
	Transcriber    Transcriber
	Forms          Forms
	Recorder       Recorder
	Responder      Responder
	Hub            *Hub
	MetricsHandler http.Handler
	Middleware     func(http.Handler) http.Handler
}

// Server is the HTTP surface.
type Server struct {
	deps    Deps
	logger  *slog.Logger
	handler http.Handler
}

// New builds the route table.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{deps: deps, logger: deps.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/say", s.handleSay)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /api/form", s.handleGetForm)
	mux.HandleFunc("POST /api/form/field", s.handleSetField)
	mux.HandleFunc("DELETE /api/form", s.handleDeleteForm)
	mux.HandleFunc("GET /api/vad", s.handleGetVAD)
	mux.HandleFunc("POST /api/vad", s.handleSetVAD)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if deps.Hub != nil {
		mux.Handle("GET /ws", deps.Hub)
	}
	if deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", deps.MetricsHandler)
	}

	var h http.Handler = mux
	if deps.Middleware != nil {
		h = deps.Middleware(h)
	}
	s.handler = h
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	s.logger.Info("http server listening", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	if s.deps.Hub != nil {
		_ = s.deps.Hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	<-errCh
	return nil
}

type sayRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSay(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speech == nil {
		writeError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
		return
	}
	var req sayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	out, err := s.deps.Speech.Synthesize(r.Context(), req.Text, speech.FormatMP3)
	if err != nil {
		s.logger.Error("generate speech failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Error generating speech")
		return
	}
	contentType := out.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with an audio file")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read audio upload")
		return
	}
	mimeType := header.Header.Get("Content-Type")

	id := r.FormValue("conversation_id")
	if id != "" && (s.deps.Hub == nil || !s.deps.Hub.Owns(id)) {
		writeError(w, http.StatusBadRequest, "conversation_id does not belong to a connected client")
		return
	}

	text, err := s.deps.Transcriber.TranscribeBytes(r.Context(), data, mimeType)
	switch {
	case errors.Is(err, transcribe.ErrClipTooSmall),
		errors.Is(err, transcribe.ErrNoSpeechDetected),
		errors.Is(err, transcribe.ErrInvalidFormat):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.logger.Error("transcription failed", "error", err)
		writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}

	if id != "" && s.deps.Responder != nil {
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := s.deps.Responder.Respond(ctx, id, text); err != nil {
				s.logger.Warn("reply to uploaded audio failed", "conversation_id", id, "error", err)
			}
		}()
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	if s.deps.Forms == nil {
		writeError(w, http.StatusServiceUnavailable, "form storage is not configured")
		return
	}
	d, err := s.deps.Forms.LoadOrNew(r.Context(), draftID(r.URL.Query().Get("draft")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type fieldRequest struct {
	Draft string `json:"draft"`
	Field string `json:"field"`
	Value string `json:"value"`
}

func (s *Server) handleSetField(w http.ResponseWriter, r *http.Request) {
	if s.deps.Forms == nil {
		writeError(w, http.StatusServiceUnavailable, "form storage is not configured")
		return
	}
	var req fieldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	field, err := formfill.ParseField(req.Field)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.deps.Forms.LoadOrNew(r.Context(), draftID(req.Draft))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := d.Update(field, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Forms.Save(r.Context(), d); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	if s.deps.Forms == nil {
		writeError(w, http.StatusServiceUnavailable, "form storage is not configured")
		return
	}
	if err := s.deps.Forms.Delete(r.Context(), draftID(r.URL.Query().Get("draft"))); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetVAD(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "no recorder is running")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Recorder.Status().Payload())
}

func (s *Server) handleSetVAD(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "no recorder is running")
		return
	}
	var raw map[string]json.Number
	if err := decodeJSON(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	args := make(map[string]string, len(raw))
	for k, v := range raw {
		args[k] = v.String()
	}
	tunables, err := recorder.ParseTunables(s.deps.Recorder.Settings().Tunables, args)
	if err == nil {
		err = s.deps.Recorder.SetTunables(tunables)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Recorder.Status().Payload())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "ok"}
	if s.deps.Recorder != nil {
		body["state"] = string(s.deps.Recorder.Status().State)
	}
	writeJSON(w, http.StatusOK, body)
}

func draftID(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return defaultDraftID
	}
	return id
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
