package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/dental-frontdesk/internal/conversation"
	"github.com/wolfman30/dental-frontdesk/internal/policy"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

const channelWebChat = "webchat"

// Engine is the part of the conversation engine the chat widget needs.
type Engine interface {
	Handle(ctx context.Context, in conversation.Inbound) (conversation.Reply, error)
	EndSession(ctx context.Context, id string) (conversation.Reply, error)
	Get(ctx context.Context, id string) (*policy.Conversation, error)
	MaxMessageLength() int
}

// payloadLimit caps request bodies and socket frames before any text
// processing. Six bytes per rune covers JSON \u escapes.
func payloadLimit(maxMessageLength int) int64 {
	return int64(maxMessageLength)*6 + 1024
}

// Handler manages web chat connections and messages.
type Handler struct {
	engine Engine
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*wsConn // conversationID -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, msg)
}

// InboundMessage is what the widget sends over the socket.
type InboundMessage struct {
	Type string `json:"type"` // "message", "end", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type      string           `json:"type"` // "session", "message", "history", "closed", "error", "pong"
	Text      string           `json:"text,omitempty"`
	Role      string           `json:"role,omitempty"`
	Kind      string           `json:"kind,omitempty"`
	State     string           `json:"state,omitempty"`
	Ticket    string           `json:"ticket,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	Messages  []HistoryMessage `json:"messages,omitempty"`
}

type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func NewHandler(engine Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		engine:   engine,
		logger:   logger,
		sessions: make(map[string]*wsConn),
	}
}

// generateSessionID creates a random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	}
	ctx := r.Context()

	conn.MaxPayloadBytes = int(payloadLimit(h.engine.MaxMessageLength()))
	wsc := &wsConn{conn: conn}
	_ = wsc.send(OutboundMessage{Type: "session", SessionID: sessionID})
	if history := h.history(ctx, sessionID); len(history) > 0 {
		_ = wsc.send(OutboundMessage{Type: "history", Messages: history})
	}

	h.mu.Lock()
	h.sessions[sessionID] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.sessions[sessionID] == wsc {
			delete(h.sessions, sessionID)
		}
		h.mu.Unlock()
	}()

	h.logger.Info("webchat: connection opened", "session_id", sessionID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				_ = wsc.send(OutboundMessage{Type: "error", Text: "That message is too long. Please shorten it and try again."})
				continue
			}
			h.logger.Debug("webchat: connection closed", "session_id", sessionID, "error", err)
			return
		}

		switch msg.Type {
		case "ping":
			_ = wsc.send(OutboundMessage{Type: "pong"})
		case "end":
			reply, err := h.engine.EndSession(ctx, sessionID)
			if err != nil && !errors.Is(err, policy.ErrConversationClosed) {
				h.logger.Warn("webchat: end session failed", "session_id", sessionID, "error", err)
			}
			if reply.Text != "" {
				_ = wsc.send(outbound("closed", reply))
			}
			return
		case "message":
			reply, err := h.engine.Handle(ctx, conversation.Inbound{
				ConversationID: sessionID,
				Text:           msg.Text,
				At:             time.Now().UTC(),
				Channel:        channelWebChat,
			})
			if err != nil && reply.Text == "" {
				h.logger.Error("webchat: message failed", "session_id", sessionID, "error", err)
				_ = wsc.send(OutboundMessage{Type: "error", Text: "Sorry, something went wrong. Please try again."})
				continue
			}
			_ = wsc.send(outbound("message", reply))
		}
	}
}

func outbound(kind string, reply conversation.Reply) OutboundMessage {
	return OutboundMessage{
		Type:      kind,
		Role:      "assistant",
		Text:      reply.Text,
		Kind:      string(reply.Kind),
		State:     string(reply.State),
		Ticket:    reply.TaskID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// SendToSession pushes a message to an active WebSocket session.
func (h *Handler) SendToSession(sessionID string, msg OutboundMessage) bool {
	h.mu.RLock()
	wsc, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return wsc.send(msg) == nil
}

// Notify pushes a reply produced outside the socket, such as a retried
// escalation or an HTTP session end.
func (h *Handler) Notify(conversationID string, reply conversation.Reply) bool {
	kind := "message"
	if reply.Kind == conversation.KindClosed {
		kind = "closed"
	}
	return h.SendToSession(conversationID, outbound(kind, reply))
}

type messageRequest struct {
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
	Message        string `json:"message"`
	UserMessage    string `json:"user_message"`
	Channel        string `json:"channel"`
}

// HandleMessage handles POST /webchat/message, the HTTP fallback for the
// socket. session_id and user_message are accepted as aliases.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	body := http.MaxBytesReader(w, r.Body, payloadLimit(h.engine.MaxMessageLength()))
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "message too long", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id := firstNonEmpty(req.ConversationID, req.SessionID)
	if id == "" {
		id = generateSessionID()
	}
	channel := firstNonEmpty(req.Channel, channelWebChat)

	reply, err := h.engine.Handle(r.Context(), conversation.Inbound{
		ConversationID: id,
		Text:           firstNonEmpty(req.Message, req.UserMessage),
		At:             time.Now().UTC(),
		Channel:        channel,
	})
	if reply.ConversationID == "" {
		reply.ConversationID = id
	}
	conversation.WriteReply(w, h.logger, id, reply, err)
}

// HandleHistory returns chat history for a session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}
	history := h.history(r.Context(), sessionID)
	if history == nil {
		history = []HistoryMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": history})
}

func (h *Handler) history(ctx context.Context, sessionID string) []HistoryMessage {
	conv, err := h.engine.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, conversation.ErrConversationNotFound) {
			h.logger.Error("webchat: failed to load history", "session_id", sessionID, "error", err)
		}
		return nil
	}
	out := make([]HistoryMessage, 0, len(conv.Turns))
	for _, turn := range conv.Turns {
		role := "user"
		if turn.Role == policy.RoleSystem {
			role = "assistant"
		}
		out = append(out, HistoryMessage{Role: role, Text: turn.Text, Timestamp: turn.At.Format(time.RFC3339)})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
