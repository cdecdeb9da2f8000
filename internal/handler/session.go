package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/doorstep/internal/auth"
	"github.com/dukerupert/doorstep/internal/canvass"
)

// SessionHandler exposes the canvassing session lifecycle. The service
// publishes change notifications itself.
type SessionHandler struct {
	service *canvass.Service
	logger  *slog.Logger
}

func NewSessionHandler(svc *canvass.Service, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{service: svc, logger: logger}
}

type startRequest struct {
	CityID string `json:"city_id"`
}

// Current returns the open session, or null.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.CurrentSession(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "failed to get current session")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CityID = strings.TrimSpace(req.CityID)
	if req.CityID == "" {
		writeMessage(w, http.StatusBadRequest, "city_id is required")
		return
	}

	sess, err := h.service.StartSession(r.Context(), auth.UserID(r.Context()), req.CityID)
	if err != nil {
		writeError(w, h.logger, err, "failed to start session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.PauseSession(r.Context(), auth.UserID(r.Context()), pathID(r))
	if err != nil {
		writeError(w, h.logger, err, "failed to pause session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.ResumeSession(r.Context(), auth.UserID(r.Context()), pathID(r))
	if err != nil {
		writeError(w, h.logger, err, "failed to resume session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.EndSession(r.Context(), auth.UserID(r.Context()), pathID(r))
	if err != nil {
		writeError(w, h.logger, err, "failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SessionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	if err := h.service.AbandonSession(r.Context(), auth.UserID(r.Context()), pathID(r)); err != nil {
		writeError(w, h.logger, err, "failed to abandon session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) RecordDoor(w http.ResponseWriter, r *http.Request) {
	var in canvass.DoorInput
	if !decodeJSON(w, r, &in) {
		return
	}

	result, err := h.service.RecordDoor(r.Context(), auth.UserID(r.Context()), pathID(r), in)
	if err != nil {
		writeError(w, h.logger, err, "failed to record door")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
