package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/doorstep/internal/auth"
	"github.com/dukerupert/doorstep/internal/canvass"
)

type AchievementHandler struct {
	service *canvass.Service
	logger  *slog.Logger
}

func NewAchievementHandler(svc *canvass.Service, logger *slog.Logger) *AchievementHandler {
	return &AchievementHandler{service: svc, logger: logger}
}

// List returns every achievement with the caller's progress, locked first.
func (h *AchievementHandler) List(w http.ResponseWriter, r *http.Request) {
	progress, err := h.service.Achievements(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "failed to list achievements")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
