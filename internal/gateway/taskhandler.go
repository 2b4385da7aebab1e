package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/sidekick/internal/tasks"
)

// TaskHandler serves the task REST surface.
type TaskHandler struct {
	service *tasks.Service
}

// NewTaskHandler creates the REST handler over the task service.
func NewTaskHandler(service *tasks.Service) *TaskHandler {
	return &TaskHandler{service: service}
}

// HandleList returns a page of the caller's tasks.
// Query: page, limit, cwd.
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filter := tasks.ListFilter{CWD: r.URL.Query().Get("cwd")}

	result, err := h.service.List(r.Context(), userID, page, limit, filter)
	if err != nil {
		writeStartError(w, err)
		return
	}
	writeJSON(w, result)
}

// HandleGet returns one task by its public uid.
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.GetByUID(r.Context(), UserID(r), chi.URLParam(r, "uid"))
	if err != nil {
		writeStartError(w, err)
		return
	}
	writeJSON(w, task)
}

// HandleDelete removes one task by its public uid.
func (h *TaskHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)
	task, err := h.service.GetByUID(r.Context(), userID, chi.URLParam(r, "uid"))
	if err != nil {
		writeStartError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), userID, task.TaskID); err != nil {
		writeStartError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "deleted"})
}

// HandleStreamID returns the task's most recent stream id, for clients
// deciding whether a resume is worth attempting. An existing task that
// never streamed yields an empty id.
func (h *TaskHandler) HandleStreamID(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)
	task, err := h.service.GetByUID(r.Context(), userID, chi.URLParam(r, "uid"))
	if err != nil {
		writeStartError(w, err)
		return
	}
	streamID, err := h.service.LatestStreamID(r.Context(), userID, task.TaskID)
	if err != nil {
		writeStartError(w, err)
		return
	}
	writeJSON(w, map[string]string{"streamId": streamID})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
