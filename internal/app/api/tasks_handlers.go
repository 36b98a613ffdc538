package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tasktracker/project/internal/app/tasks"
)

type deleteResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in tasks.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	task, err := h.Tasks.Create(r.Context(), callerFromContext(r.Context()), in)
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := h.Tasks.List(r.Context(), callerFromContext(r.Context()))
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch tasks.Patch
	// An empty body is an update with no fields.
	if err := decodeJSON(r, &patch); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	task, err := h.Tasks.Update(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Tasks.Delete(r.Context(), callerFromContext(r.Context()), id); err != nil {
		h.writeTaskError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deleteResponse{Message: "Task deleted", ID: id})
}

func (h *Handler) writeTaskError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tasks.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tasks.ErrNotFoundOrUnauthorized):
		h.writeError(w, http.StatusNotFound, "Task not found or unauthorized")
	case errors.Is(err, tasks.ErrCallerRequired):
		h.writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
	default:
		h.writeInternal(w, r, err)
	}
}
