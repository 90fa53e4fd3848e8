package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/keralacert/voiceassist/internal/observe"
)

// ErrEmptyReply is returned when the model produced no text.
var ErrEmptyReply = errors.New("chat model returned an empty reply")

const extractPrompt = `Extract Kerala government certificate application details from the user's message.
Reply with a JSON object using only these keys when the value is clearly stated:
fullName, dob, gender, email, phone, address, pincode, aadharNumber, certificateType.
Omit keys that are not mentioned. Reply with {} when nothing applies.`

// Client asks the chat model for replies and structured extractions.
type Client struct {
	client  oai.Client
	model   string
	metrics *observe.Metrics
}

type config struct {
	baseURL     string
	model       string
	timeout     time.Duration
	metrics     *observe.Metrics
	requestOpts []option.RequestOption
}

// Option configures a Client.
type Option func(*config)

func WithBaseURL(url string) Option { return func(c *config) { c.baseURL = url } }

func WithModel(model string) Option { return func(c *config) { c.model = model } }

func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

func WithMetrics(m *observe.Metrics) Option { return func(c *config) { c.metrics = m } }

func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *config) { c.requestOpts = append(c.requestOpts, opts...) }
}

// New constructs a chat client.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("dialogue: apiKey must not be empty")
	}
	cfg := &config{model: "gpt-4o-mini"}
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

	return &Client{client: oai.NewClient(reqOpts...), model: cfg.model, metrics: cfg.metrics}, nil
}

// Reply returns the assistant's next turn for messages.
func (c *Client) Reply(ctx context.Context, messages []Message) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: convertMessages(messages),
	}
	text, err := c.complete(ctx, "chat", params)
	if err != nil {
		return "", err
	}
	return text, nil
}

// ExtractForm asks the model for form fields mentioned in text. Unknown keys
// and non-string values are dropped.
func (c *Client) ExtractForm(ctx context.Context, text string) (map[string]string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(extractPrompt),
			oai.UserMessage(text),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	raw, err := c.complete(ctx, "extract", params)
	if err != nil {
		return nil, err
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("decode extracted fields: %w", err)
	}
	out := make(map[string]string, len(decoded))
	for k, v := range decoded {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out[k] = s
		}
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, kind string, params oai.ChatCompletionNewParams) (string, error) {
	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	c.metrics.RecordProvider(ctx, kind, time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func convertMessages(messages []Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			out = append(out, oai.UserMessage(m.Content))
		}
	}
	return out
}
