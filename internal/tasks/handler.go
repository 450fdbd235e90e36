package tasks

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-frontdesk/internal/policy"
	"github.com/wolfman30/dental-frontdesk/pkg/logging"
)

// Handler serves the read-only staff inbox.
type Handler struct {
	store  Store
	logger *logging.Logger
}

func NewHandler(store Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

type ListTasksResponse struct {
	Tasks []policy.CallbackTask `json:"tasks"`
	Count int                   `json:"count"`
}

// ListTasks handles GET /staff/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list tasks", "error", err)
		http.Error(w, "failed to list tasks", http.StatusServiceUnavailable)
		return
	}
	if list == nil {
		list = []policy.CallbackTask{}
	}
	writeJSON(w, http.StatusOK, ListTasksResponse{Tasks: list, Count: len(list)})
}

// GetTask handles GET /staff/tasks/{taskID}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	task, err := h.store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get task", "task_id", id, "error", err)
		http.Error(w, "failed to get task", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
