// Package assistant turns finished transcripts into spoken replies: it keeps
// the conversation, fills the application form, and plays the answer back.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/keralacert/voiceassist/internal/dialogue"
	"github.com/keralacert/voiceassist/internal/events"
	"github.com/keralacert/voiceassist/internal/formfill"
	"github.com/keralacert/voiceassist/internal/recorder"
	"github.com/keralacert/voiceassist/internal/speech"
	"github.com/keralacert/voiceassist/internal/storage"
	"github.com/keralacert/voiceassist/internal/transcript"
)

// VoiceConversation is the conversation id used for microphone sessions.
const VoiceConversation = "voice"

// ErrEmptyTranscript is returned when normalization leaves nothing to answer.
var ErrEmptyTranscript = errors.New("transcript is empty")

// Replier produces the assistant's next turn.
type Replier interface {
	Reply(ctx context.Context, messages []dialogue.Message) (string, error)
}

// Extractor pulls form fields out of free text.
type Extractor interface {
	ExtractForm(ctx context.Context, text string) (map[string]string, error)
}

// Synthesizer renders reply text as audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, format speech.Format) (speech.Audio, error)
}

// Player plays s16le mono PCM.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}

// Pauser suspends speech detection while a reply is playing.
type Pauser interface {
	SetPaused(bool)
}

// VoiceEvents persists one row per voice session.
type VoiceEvents interface {
	Insert(ctx context.Context, ev *storage.VoiceEvent) error
	SetResponse(ctx context.Context, id, response string) error
}

// Turns persists conversation turns.
type Turns interface {
	Append(ctx context.Context, conversationID, role, content string) (int64, error)
}

// Forms persists form drafts.
type Forms interface {
	LoadOrNew(ctx context.Context, id string) (*formfill.Draft, error)
	Save(ctx context.Context, d *formfill.Draft) error
}

// Reply is the outcome of one answered turn.
type Reply struct {
	ConversationID string
	UserText       string
	Text           string
	Draft          *formfill.Draft
	Rejected       map[string]error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSpeech enables spoken replies. The pauser is held paused while playing.
func WithSpeech(s Synthesizer, p Player, pauser Pauser) Option {
	return func(pl *Pipeline) {
		pl.synth = s
		pl.player = p
		pl.pauser = pauser
	}
}

// WithFormFill enables form extraction into the draft named draftID.
func WithFormFill(x Extractor, forms Forms, draftID string) Option {
	return func(pl *Pipeline) {
		pl.extractor = x
		pl.forms = forms
		if draftID != "" {
			pl.draftID = draftID
		}
	}
}

// WithStore persists voice events and turns.
func WithStore(ev VoiceEvents, turns Turns) Option {
	return func(pl *Pipeline) {
		pl.voiceEvents = ev
		pl.turns = turns
	}
}

// WithPublisher fans events out.
func WithPublisher(p events.Publisher) Option {
	return func(pl *Pipeline) {
		if p != nil {
			pl.publisher = p
		}
	}
}

// WithQueueSize bounds the number of results waiting for the worker.
func WithQueueSize(n int) Option {
	return func(pl *Pipeline) {
		if n > 0 {
			pl.queue = make(chan recorder.Result, n)
		}
	}
}

// WithTranscriptOptions overrides transcript normalization.
func WithTranscriptOptions(o transcript.Options) Option {
	return func(pl *Pipeline) { pl.normalize = o }
}

// Pipeline implements recorder.Sink.
type Pipeline struct {
	logger        *slog.Logger
	conversations *dialogue.Conversations
	replier       Replier
	extractor     Extractor
	synth         Synthesizer
	player        Player
	pauser        Pauser
	voiceEvents   VoiceEvents
	turns         Turns
	forms         Forms
	publisher     events.Publisher
	normalize     transcript.Options
	draftID       string

	queue   chan recorder.Result
	dropped atomic.Int64
}

// New builds a pipeline. Run must be started for delivered results to be
// processed.
func New(logger *slog.Logger, conversations *dialogue.Conversations, replier Replier, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Pipeline{
		logger:        logger,
		conversations: conversations,
		replier:       replier,
		publisher:     events.Noop{},
		normalize:     transcript.DefaultOptions(),
		draftID:       VoiceConversation,
		queue:         make(chan recorder.Result, 8),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Deliver enqueues r without blocking. Results arriving while the queue is
// full are dropped.
func (p *Pipeline) Deliver(_ context.Context, r recorder.Result) {
	select {
	case p.queue <- r:
	default:
		n := p.dropped.Add(1)
		p.logger.Warn("assistant queue full; dropping result", "session_id", r.SessionID, "dropped_total", n)
	}
}

// Dropped reports how many results were discarded because the queue was full.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

// Run processes queued results until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-p.queue:
			p.Process(ctx, r)
		}
	}
}

// Process handles one voice session result. Failures are logged and
// published, never returned.
func (p *Pipeline) Process(ctx context.Context, r recorder.Result) {
	logger := p.logger.With("session_id", r.SessionID)

	ev := &storage.VoiceEvent{
		SessionID:      r.SessionID,
		ConversationID: VoiceConversation,
		CreatedAt:      r.FinishedAt,
		StopReason:     string(r.StopReason),
		ClipBytes:      r.ClipBytes,
		ClipDuration:   r.ClipDuration,
		Latency:        r.Latency,
		Success:        r.Err == nil,
	}

	if r.Err != nil {
		ev.Error = r.Err.Error()
		p.persistEvent(ctx, logger, ev)
		p.publishError(ctx, r.SessionID, VoiceConversation, r.Err)
		logger.Warn("voice session failed", "error", r.Err)
		return
	}

	ev.Transcript = transcript.Normalize(r.Transcript, p.normalize)
	p.persistEvent(ctx, logger, ev)
	if ev.Transcript == "" {
		logger.Info("voice session produced no text")
		return
	}

	reply, err := p.respond(ctx, VoiceConversation, r.SessionID, ev.Transcript)
	if err != nil {
		p.publishError(ctx, r.SessionID, VoiceConversation, err)
		logger.Error("assistant reply failed", "error", err)
		return
	}
	if reply.Text == "" {
		return
	}
	if p.voiceEvents != nil && ev.ID != "" {
		if err := p.voiceEvents.SetResponse(ctx, ev.ID, reply.Text); err != nil {
			logger.Warn("record reply failed", "error", err)
		}
	}

	if err := p.speak(ctx, reply.Text); err != nil && !errors.Is(err, context.Canceled) {
		p.publishError(ctx, r.SessionID, VoiceConversation, err)
		logger.Error("speak reply failed", "error", err)
	}
}

// Respond answers text typed or spoken in conversationID without playing audio.
func (p *Pipeline) Respond(ctx context.Context, conversationID, text string) (Reply, error) {
	text = transcript.Normalize(text, p.normalize)
	if text == "" {
		return Reply{}, ErrEmptyTranscript
	}
	return p.respond(ctx, conversationID, "", text)
}

func (p *Pipeline) respond(ctx context.Context, conversationID, sessionID, text string) (Reply, error) {
	logger := p.logger.With("conversation_id", conversationID)
	out := Reply{ConversationID: conversationID, UserText: text}

	if err := p.conversations.Append(conversationID, dialogue.RoleUser, text); err != nil {
		return out, err
	}
	p.persistTurn(ctx, logger, conversationID, dialogue.RoleUser, text)
	p.publish(ctx, events.Event{
		Kind:           events.KindTranscription,
		ConversationID: conversationID,
		SessionID:      sessionID,
		Text:           text,
	})

	if conversationID == VoiceConversation {
		out.Draft, out.Rejected = p.fillForm(ctx, logger, text)
	}

	if p.replier == nil {
		return out, nil
	}

	messages := p.conversations.Messages(conversationID)
	if note := formNote(out.Draft); note != "" {
		messages = append(messages, dialogue.Message{Role: dialogue.RoleSystem, Content: note})
	}

	answer, err := p.replier.Reply(ctx, messages)
	if err != nil {
		return out, fmt.Errorf("reply: %w", err)
	}
	out.Text = answer

	if err := p.conversations.Append(conversationID, dialogue.RoleAssistant, answer); err != nil {
		return out, err
	}
	p.persistTurn(ctx, logger, conversationID, dialogue.RoleAssistant, answer)
	p.publish(ctx, events.Event{
		Kind:           events.KindResponse,
		ConversationID: conversationID,
		SessionID:      sessionID,
		Text:           answer,
	})
	return out, nil
}

func (p *Pipeline) fillForm(ctx context.Context, logger *slog.Logger, text string) (*formfill.Draft, map[string]error) {
	if p.extractor == nil || p.forms == nil {
		return nil, nil
	}
	draft, err := p.forms.LoadOrNew(ctx, p.draftID)
	if err != nil {
		logger.Warn("load form draft failed", "error", err)
		return nil, nil
	}

	fields, err := p.extractor.ExtractForm(ctx, text)
	if err != nil {
		logger.Warn("form extraction failed", "error", err)
		return draft, nil
	}
	if len(fields) == 0 {
		return draft, nil
	}

	rejected := draft.Apply(fields)
	for name, rerr := range rejected {
		logger.Info("form field rejected", "field", name, "error", rerr)
	}
	if len(rejected) < len(fields) {
		if err := p.forms.Save(ctx, draft); err != nil {
			logger.Warn("save form draft failed", "error", err)
		}
	}
	return draft, rejected
}

// formNote tells the model which fields are still needed.
func formNote(d *formfill.Draft) string {
	if d == nil {
		return ""
	}
	if d.IsComplete {
		return "The application form is complete. Offer to review it with the user."
	}
	missing := d.Missing()
	names := make([]string, len(missing))
	for i, f := range missing {
		names[i] = string(f)
	}
	return "Application form fields still needed: " + strings.Join(names, ", ") + "."
}

func (p *Pipeline) speak(ctx context.Context, text string) error {
	if p.synth == nil || p.player == nil {
		return nil
	}
	audio, err := p.synth.Synthesize(ctx, text, speech.FormatPCM)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	if p.pauser != nil {
		p.pauser.SetPaused(true)
		defer p.pauser.SetPaused(false)
	}
	start := time.Now()
	if err := p.player.Play(ctx, audio.Data, speech.PCMSampleRate); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	p.logger.Debug("reply played", "bytes", len(audio.Data), "elapsed", time.Since(start))
	return nil
}

func (p *Pipeline) persistEvent(ctx context.Context, logger *slog.Logger, ev *storage.VoiceEvent) {
	if p.voiceEvents == nil {
		return
	}
	if err := p.voiceEvents.Insert(ctx, ev); err != nil {
		logger.Warn("record voice event failed", "error", err)
	}
}

func (p *Pipeline) persistTurn(ctx context.Context, logger *slog.Logger, conversationID string, role dialogue.Role, text string) {
	if p.turns == nil {
		return
	}
	if _, err := p.turns.Append(ctx, conversationID, string(role), text); err != nil {
		logger.Warn("record turn failed", "error", err)
	}
}

func (p *Pipeline) publishError(ctx context.Context, sessionID, conversationID string, err error) {
	p.publish(ctx, events.Event{
		Kind:           events.KindError,
		ConversationID: conversationID,
		SessionID:      sessionID,
		Error:          err.Error(),
	})
}

func (p *Pipeline) publish(ctx context.Context, ev events.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := p.publisher.Publish(ctx, ev); err != nil {
		p.logger.Warn("publish event failed", "kind", ev.Kind, "error", err)
	}
}
