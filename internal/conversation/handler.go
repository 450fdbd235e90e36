package conversation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
	"github.com/wolfman30/dental-frontdesk/internal/tasks"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

// retryAfterSeconds is sent with 503s caused by the task store.
const retryAfterSeconds = 5

// Notifier pushes a reply to a live channel session for the conversation.
// It reports false when no session is connected.
type Notifier interface {
	Notify(conversationID string, reply Reply) bool
}

// Handler exposes session lifecycle and the admin conversation view.
type Handler struct {
	engine   *Engine
	logger   *logging.Logger
	notifier Notifier
}

func NewHandler(engine *Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// SetNotifier lets replies produced over HTTP reach an open chat socket.
func (h *Handler) SetNotifier(n Notifier) {
	h.notifier = n
}

// EndSession handles POST /conversations/{conversationID}/end
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	reply, err := h.engine.EndSession(r.Context(), id)
	h.notify(id, reply, err)
	h.writeReply(w, id, reply, err)
}

// RetryEscalation handles POST /conversations/{conversationID}/escalate
func (h *Handler) RetryEscalation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	reply, err := h.engine.RetryEscalation(r.Context(), id)
	h.notify(id, reply, err)
	h.writeReply(w, id, reply, err)
}

func (h *Handler) notify(id string, reply Reply, err error) {
	if err != nil || h.notifier == nil || reply.Text == "" {
		return
	}
	if h.notifier.Notify(id, reply) {
		h.logger.Debug("reply pushed to live session", "conversation_id", id, "kind", reply.Kind)
	}
}

// ConversationView is the admin projection of a conversation.
type ConversationView struct {
	ID           string                     `json:"id"`
	State        policy.State               `json:"state"`
	Blocked      bool                       `json:"blocked"`
	ActiveIntent policy.Intent              `json:"active_intent,omitempty"`
	Awaiting     policy.Slot                `json:"awaiting,omitempty"`
	Slots        policy.Slots               `json:"slots"`
	Retries      map[policy.Slot]int        `json:"retries,omitempty"`
	Escalation   *policy.EscalationSnapshot `json:"escalation,omitempty"`
	TaskID       string                     `json:"task_id,omitempty"`
	Channel      string                     `json:"channel,omitempty"`
	Turns        []policy.Turn              `json:"turns"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// GetConversation handles GET /admin/conversations/{conversationID}
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	conv, err := h.engine.Get(r.Context(), id)
	if errors.Is(err, ErrConversationNotFound) {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		http.Error(w, "failed to load conversation", http.StatusInternalServerError)
		return
	}
	turns := conv.Turns
	if turns == nil {
		turns = []policy.Turn{}
	}
	writeJSON(w, http.StatusOK, ConversationView{
		ID:           conv.ID,
		State:        conv.State,
		Blocked:      conv.Blocked,
		ActiveIntent: conv.ActiveIntent,
		Awaiting:     conv.Awaiting,
		Slots:        conv.Slots,
		Retries:      conv.Retries,
		Escalation:   conv.Escalation,
		TaskID:       conv.TaskID,
		Channel:      conv.Channel,
		Turns:        turns,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	})
}

func (h *Handler) writeReply(w http.ResponseWriter, id string, reply Reply, err error) {
	WriteReply(w, h.logger, id, reply, err)
}

// WriteReply maps engine results onto HTTP status codes. Channels that
// speak HTTP share it so patients see the same reply text everywhere.
func WriteReply(w http.ResponseWriter, logger *logging.Logger, id string, reply Reply, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, reply)
	case errors.Is(err, ErrMissingConversationID):
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
	case errors.Is(err, ErrConversationNotFound):
		http.Error(w, "conversation not found", http.StatusNotFound)
	case policy.IsInputError(err):
		writeJSON(w, http.StatusUnprocessableEntity, reply)
	case errors.Is(err, policy.ErrConversationClosed), errors.Is(err, policy.ErrNotReadyToEscalate):
		writeJSON(w, http.StatusConflict, reply)
	case errors.Is(err, tasks.ErrTaskStoreUnavailable):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		writeJSON(w, http.StatusServiceUnavailable, reply)
	default:
		logger.Error("conversation request failed", "conversation_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
