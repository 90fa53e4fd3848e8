// Package transcribe sends recorded clips to the OpenAI transcription API.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/keralacert/voiceassist/internal/audio"
	"github.com/keralacert/voiceassist/internal/observe"
)

// MinClipBytes is the smallest clip worth uploading.
const MinClipBytes = 100

var (
	// ErrClipTooSmall is returned for clips below MinClipBytes.
	ErrClipTooSmall = errors.New("audio clip too short")
	// ErrInvalidFormat is returned when every container guess was rejected.
	ErrInvalidFormat = errors.New("audio format not accepted by transcription service")
	// ErrNoSpeechDetected is returned when the service heard nothing.
	ErrNoSpeechDetected = errors.New("no speech detected")
	// ErrServiceError wraps any other service failure.
	ErrServiceError = errors.New("transcription service error")
)

// fallbackExtensions are retried in order when the service rejects a container.
var fallbackExtensions = []string{"webm", "mp3", "wav", "ogg", "mp4", "m4a", "flac"}

// Client transcribes audio through the OpenAI audio API.
type Client struct {
	client   oai.Client
	model    string
	language string
	prompt   string
	logger   *slog.Logger
	metrics  *observe.Metrics
}

type config struct {
	baseURL     string
	model       string
	language    string
	phrases     []string
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *observe.Metrics
	requestOpts []option.RequestOption
}

// Option configures a Client.
type Option func(*config)

func WithBaseURL(url string) Option { return func(c *config) { c.baseURL = url } }

func WithModel(model string) Option { return func(c *config) { c.model = model } }

// WithLanguage sets the ISO-639-1 language hint.
func WithLanguage(lang string) Option { return func(c *config) { c.language = lang } }

// WithVocabulary biases recognition toward the given phrases.
func WithVocabulary(phrases []string) Option { return func(c *config) { c.phrases = phrases } }

func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

func WithMetrics(m *observe.Metrics) Option { return func(c *config) { c.metrics = m } }

// WithRequestOptions appends raw SDK request options.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *config) { c.requestOpts = append(c.requestOpts, opts...) }
}

// New constructs a transcription client.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("transcribe: apiKey must not be empty")
	}
	cfg := &config{model: "whisper-1"}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	reqOpts = append(reqOpts, cfg.requestOpts...)

	return &Client{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
		prompt:   BuildPrompt(cfg.phrases),
		logger:   cfg.logger,
		metrics:  cfg.metrics,
	}, nil
}

// BuildPrompt joins vocabulary phrases into a transcription prompt.
func BuildPrompt(phrases []string) string {
	clean := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, ", ")
}

// Transcribe uploads clip and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	return c.TranscribeBytes(ctx, clip.Data, clip.MIMEType)
}

// TranscribeBytes uploads raw container bytes of the given MIME type. When the
// service rejects the container it retries the remaining known extensions.
func (c *Client) TranscribeBytes(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) < MinClipBytes {
		return "", ErrClipTooSmall
	}

	first := ExtensionFor(mimeType)
	attempts := append([]string{first}, without(fallbackExtensions, first)...)

	var lastErr error
	for _, ext := range attempts {
		text, err := c.transcribeOnce(ctx, data, ext, mimeType)
		if err == nil {
			return text, nil
		}
		if !isInvalidFormat(err) {
			return "", err
		}
		lastErr = err
		c.logger.Warn("transcription rejected container; retrying", "extension", ext, "error", err.Error())
	}
	return "", fmt.Errorf("%w: %v", ErrInvalidFormat, lastErr)
}

func (c *Client) transcribeOnce(ctx context.Context, data []byte, ext, mimeType string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(data), "recording."+ext, mimeType),
		Model: oai.AudioModel(c.model),
	}
	if c.language != "" {
		params.Language = oai.String(c.language)
	}
	if c.prompt != "" {
		params.Prompt = oai.String(c.prompt)
	}

	start := time.Now()
	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	c.metrics.RecordProvider(ctx, "transcribe", time.Since(start), err)
	if err != nil {
		if isInvalidFormat(err) || ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrServiceError, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrNoSpeechDetected
	}
	return text, nil
}

// ExtensionFor maps a MIME type onto the upload file extension.
func ExtensionFor(mimeType string) string {
	m := strings.ToLower(mimeType)
	switch {
	case strings.Contains(m, "mp4"):
		return "mp4"
	case strings.Contains(m, "m4a"):
		return "m4a"
	case strings.Contains(m, "webm"):
		return "webm"
	case strings.Contains(m, "wav"):
		return "wav"
	case strings.Contains(m, "ogg"):
		return "ogg"
	case strings.Contains(m, "mpeg"), strings.Contains(m, "mp3"):
		return "mp3"
	case strings.Contains(m, "flac"):
		return "flac"
	default:
		return "webm"
	}
}

func isInvalidFormat(err error) bool {
	var apiErr *oai.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(apiErr.Error())
	return strings.Contains(msg, "invalid file format") || strings.Contains(msg, "unrecognized")
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
