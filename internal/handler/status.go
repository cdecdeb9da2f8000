package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/doorstep/internal/auth"
	"github.com/dukerupert/doorstep/internal/model"
	"github.com/dukerupert/doorstep/internal/store"
	"github.com/dukerupert/doorstep/internal/websocket"
)

type StatusHandler struct {
	statusStore *store.StatusStore
	hub         *websocket.Hub
	logger      *slog.Logger
}

func NewStatusHandler(ss *store.StatusStore, hub *websocket.Hub, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{statusStore: ss, hub: hub, logger: logger}
}

func (h *StatusHandler) publish(userID string, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Publish(userID, msg)
	}
}

type statusRequest struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

func (h *StatusHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.statusStore.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "failed to list statuses")
		return
	}
	if statuses == nil {
		statuses = []model.Status{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *StatusHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := auth.UserID(r.Context())
	st, err := h.statusStore.Add(r.Context(), userID, strings.TrimSpace(req.Name), strings.TrimSpace(req.Color), strings.TrimSpace(req.Description))
	if err != nil {
		writeError(w, h.logger, err, "failed to create status")
		return
	}

	h.publish(userID, websocket.NewMessage("status", "created", st.ID, nil))
	writeJSON(w, http.StatusCreated, st)
}

func (h *StatusHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := auth.UserID(r.Context())
	st, err := h.statusStore.Update(r.Context(), userID, pathID(r), strings.TrimSpace(req.Name), strings.TrimSpace(req.Color), strings.TrimSpace(req.Description))
	if err != nil {
		writeError(w, h.logger, err, "failed to update status")
		return
	}

	h.publish(userID, websocket.NewMessage("status", "updated", st.ID, nil))
	writeJSON(w, http.StatusOK, st)
}

func (h *StatusHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := pathID(r)
	if err := h.statusStore.Delete(r.Context(), userID, id); err != nil {
		writeError(w, h.logger, err, "failed to delete status")
		return
	}

	h.publish(userID, websocket.NewMessage("status", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

func (h *StatusHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeMessage(w, http.StatusBadRequest, "ids are required")
		return
	}

	userID := auth.UserID(r.Context())
	if err := h.statusStore.Reorder(r.Context(), userID, req.IDs); err != nil {
		writeError(w, h.logger, err, "failed to reorder statuses")
		return
	}

	statuses, err := h.statusStore.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "failed to list statuses")
		return
	}

	h.publish(userID, websocket.NewMessage("status", "reordered", "", nil))
	writeJSON(w, http.StatusOK, statuses)
}
