package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/keralacert/voiceassist/internal/assistant"
	"github.com/keralacert/voiceassist/internal/dialogue"
	"github.com/keralacert/voiceassist/internal/events"
	"github.com/keralacert/voiceassist/internal/observe"
)

const (
	clientSendBuffer = 32
	writeTimeout     = 5 * time.Second
	maxMessageBytes  = 5 << 20
)

// Envelope is the JSON frame exchanged with browser clients.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Responder answers a conversation turn. assistant.Pipeline implements it.
type Responder interface {
	Respond(ctx context.Context, conversationID, text string) (assistant.Reply, error)
}

type historyEntry struct {
	Role    dialogue.Role `json:"role"`
	Content string        `json:"content"`
}

type messageContent struct {
	Text  string `json:"text"`
	Reply bool   `json:"reply,omitempty"`
}

type client struct {
	id   string
	send chan []byte
	conn *websocket.Conn
}

// Hub tracks websocket clients, each with its own conversation, and fans
// events out to them. It implements events.Publisher.
type Hub struct {
	logger        *slog.Logger
	conversations *dialogue.Conversations
	responder     Responder
	metrics       *observe.Metrics
	origins       []string

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a hub. responder may be nil, in which case messages are
// recorded but never answered.
func NewHub(logger *slog.Logger, conversations *dialogue.Conversations, responder Responder, metrics *observe.Metrics, origins []string) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		logger:        logger,
		conversations: conversations,
		responder:     responder,
		metrics:       metrics,
		origins:       origins,
		clients:       make(map[string]*client),
	}
}

// SetResponder wires the responder after construction.
func (h *Hub) SetResponder(r Responder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responder = r
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	c := &client{id: uuid.NewString(), send: make(chan []byte, clientSendBuffer), conn: conn}
	h.register(c)
	defer h.unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writeLoop(ctx, c)

	h.send(c, "connected", map[string]string{"id": c.id})
	h.readLoop(ctx, c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.conversations.Clear(c.id)
	h.metrics.ClientConnected(context.Background())
	h.logger.Info("websocket client connected", "client_id", c.id)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	h.conversations.Drop(c.id)
	h.metrics.ClientDisconnected(context.Background())
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("websocket client disconnected", "client_id", c.id)
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.logger.Debug("websocket read ended", "client_id", c.id, "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.send(c, "error", map[string]string{"error": "malformed message"})
			continue
		}
		h.dispatch(ctx, c, env)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Debug("websocket write failed", "client_id", c.id, "error", err)
				return
			}
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, c *client, env Envelope) {
	switch env.Event {
	case "message":
		h.handleMessage(ctx, c, env.Data)
	case "transcriptionResult":
		if text, ok := decodeText(env.Data); ok {
			_ = h.conversations.Append(c.id, dialogue.RoleUser, text)
		}
	case "assistantResponse":
		if text, ok := decodeText(env.Data); ok {
			_ = h.conversations.Append(c.id, dialogue.RoleAssistant, text)
		}
	case "getConversationHistory":
		history := h.conversations.History(c.id)
		out := make([]historyEntry, len(history))
		for i, m := range history {
			out[i] = historyEntry{Role: m.Role, Content: m.Content}
		}
		h.send(c, "conversationHistory", out)
	case "clearConversation":
		h.conversations.Clear(c.id)
		h.send(c, "conversationCleared", nil)
	default:
		h.send(c, "error", map[string]string{"error": "unknown event: " + env.Event})
	}
}

func (h *Hub) handleMessage(ctx context.Context, c *client, raw json.RawMessage) {
	var content messageContent
	if text, ok := decodeText(raw); ok {
		content.Text = text
	} else if err := json.Unmarshal(raw, &content); err != nil || content.Text == "" {
		h.send(c, "error", map[string]string{"error": "message text is required"})
		return
	}

	h.mu.RLock()
	responder := h.responder
	h.mu.RUnlock()

	answer := content.Reply && responder != nil
	if !answer {
		_ = h.conversations.Append(c.id, dialogue.RoleUser, content.Text)
	}
	h.send(c, "messageSent", map[string]any{
		"id":        c.id,
		"content":   content,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if !answer {
		return
	}

	// Replies reach the client through Publish, routed by conversation id.
	go func() {
		if _, err := responder.Respond(ctx, c.id, content.Text); err != nil {
			h.send(c, "error", map[string]string{"error": err.Error()})
		}
	}()
}

func decodeText(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// Owns reports whether a connected client owns conversation id.
func (h *Hub) Owns(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

// Publish forwards ev to the client owning its conversation. Status events and
// microphone conversation events go to every client. Events for a
// conversation nobody owns are dropped along with the conversation.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	shared := broadcast(ev)
	h.mu.RLock()
	var targets []*client
	if owner, owned := h.clients[ev.ConversationID]; owned {
		targets = append(targets, owner)
	} else if shared {
		targets = make([]*client, 0, len(h.clients))
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 && !shared {
		h.conversations.Drop(ev.ConversationID)
		h.logger.Debug("dropping event for unowned conversation", "kind", ev.Kind, "conversation_id", ev.ConversationID)
		return nil
	}
	for _, c := range targets {
		h.send(c, string(ev.Kind), ev)
	}
	return nil
}

func broadcast(ev events.Event) bool {
	return ev.Kind == events.KindStatus ||
		ev.ConversationID == "" ||
		ev.ConversationID == assistant.VoiceConversation
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}

// send queues one envelope. A client too slow to keep up loses the message.
func (h *Hub) send(c *client, event string, data any) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			h.logger.Error("encode websocket event", "event", event, "error", err)
			return
		}
		env.Data = raw
	}
	msg, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("websocket client too slow; dropping event", "client_id", c.id, "event", event)
	}
}
