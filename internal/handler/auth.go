package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/doorstep/internal/auth"
	"github.com/dukerupert/doorstep/internal/clock"
	"github.com/dukerupert/doorstep/internal/gaming"
	"github.com/dukerupert/doorstep/internal/store"
)

type AuthHandler struct {
	userStore  *store.UserStore
	tokenStore *store.TokenStore
	clock      clock.Clock
	tokenTTL   time.Duration
	logger     *slog.Logger
}

func NewAuthHandler(us *store.UserStore, ts *store.TokenStore, clk clock.Clock, tokenTTL time.Duration, logger *slog.Logger) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = store.DefaultTokenTTL
	}
	return &AuthHandler{userStore: us, tokenStore: ts, clock: clk, tokenTTL: tokenTTL, logger: logger}
}

type meResponse struct {
	ID          string `json:"id"`
	Nickname    string `json:"nickname"`
	XP          int    `json:"xp"`
	Level       int    `json:"level"`
	LevelXP     int    `json:"level_xp"`
	NextLevelXP int    `json:"next_level_xp"`
	TotalDoors  int    `json:"total_doors"`
}

// Me returns the caller's profile with progress through the current level.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.userStore.GetByID(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "failed to get user")
		return
	}
	if user == nil {
		writeMessage(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:          user.ID,
		Nickname:    user.Nickname,
		XP:          user.XP,
		Level:       user.Level,
		LevelXP:     user.XP % gaming.XPPerLevel,
		NextLevelXP: gaming.XPPerLevel,
		TotalDoors:  user.TotalDoors,
	})
}

// RotateToken issues a fresh token and revokes the one used for the request.
func (h *AuthHandler) RotateToken(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	token, err := h.tokenStore.Create(r.Context(), ac.UserID, h.clock.Now(), h.tokenTTL)
	if err != nil {
		writeError(w, h.logger, err, "failed to create token")
		return
	}
	if err := h.tokenStore.Delete(r.Context(), ac.Token); err != nil {
		h.logger.Error("failed to revoke rotated token", "user_id", ac.UserID, "error", err)
	}

	h.logger.Info("token rotated", "user_id", ac.UserID)
	writeJSON(w, http.StatusCreated, token)
}

// Logout revokes the token used for the request.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.tokenStore.Delete(r.Context(), ac.Token); err != nil {
		writeError(w, h.logger, err, "failed to revoke token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
