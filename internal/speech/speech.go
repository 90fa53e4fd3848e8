// Package speech synthesizes assistant replies with the OpenAI speech API.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/keralacert/voiceassist/internal/observe"
)

// PCMSampleRate is the rate of FormatPCM output.
const PCMSampleRate = 24000

// Format is a synthesized audio container.
type Format string

const (
	FormatMP3 Format = "mp3"
	// FormatPCM is raw s16le mono at PCMSampleRate.
	FormatPCM Format = "pcm"
)

// ErrEmptyText is returned when there is nothing to say.
var ErrEmptyText = errors.New("text to synthesize is empty")

// Audio is one synthesized utterance.
type Audio struct {
	Data        []byte
	Format      Format
	ContentType string
}

// Client wraps the speech endpoint.
type Client struct {
	client  oai.Client
	model   string
	voice   string
	metrics *observe.Metrics
}

type config struct {
	baseURL     string
	model       string
	voice       string
	timeout     time.Duration
	metrics     *observe.Metrics
	requestOpts []option.RequestOption
}

// Option configures a Client.
type Option func(*config)

func WithBaseURL(url string) Option { return func(c *config) { c.baseURL = url } }

func WithModel(model string) Option { return func(c *config) { c.model = model } }

func WithVoice(voice string) Option { return func(c *config) { c.voice = voice } }

func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

func WithMetrics(m *observe.Metrics) Option { return func(c *config) { c.metrics = m } }

func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *config) { c.requestOpts = append(c.requestOpts, opts...) }
}

// New constructs a speech client with tts-1 and the alloy voice by default.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("speech: apiKey must not be empty")
	}
	cfg := &config{model: "tts-1", voice: "alloy"}
	for _, o := range opts {
		o(cfg)
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
		client:  oai.NewClient(reqOpts...),
		model:   cfg.model,
		voice:   cfg.voice,
		metrics: cfg.metrics,
	}, nil
}

// Synthesize renders text in the requested format.
func (c *Client) Synthesize(ctx context.Context, text string, format Format) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	if format == "" {
		format = FormatMP3
	}

	start := time.Now()
	resp, err := c.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(c.model),
		Voice:          oai.AudioSpeechNewParamsVoice(c.voice),
		Input:          text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(format),
	})
	if err != nil {
		c.metrics.RecordProvider(ctx, "speech", time.Since(start), err)
		return Audio{}, fmt.Errorf("synthesize speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.metrics.RecordProvider(ctx, "speech", time.Since(start), err)
	if err != nil {
		return Audio{}, fmt.Errorf("read speech body: %w", err)
	}

	return Audio{Data: data, Format: format, ContentType: contentType(format)}, nil
}

func contentType(f Format) string {
	switch f {
	case FormatPCM:
		return "audio/L16;rate=24000;channels=1"
	case FormatMP3:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
