package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/doorstep/internal/auth"
	"github.com/dukerupert/doorstep/internal/canvass"
	"github.com/dukerupert/doorstep/internal/clock"
	"github.com/dukerupert/doorstep/internal/model"
	"github.com/dukerupert/doorstep/internal/store"
	"github.com/dukerupert/doorstep/internal/websocket"
)

type CityHandler struct {
	cityStore    *store.CityStore
	addressStore *store.AddressStore
	service      *canvass.Service
	hub          *websocket.Hub
	clock        clock.Clock
	logger       *slog.Logger
}

func NewCityHandler(cs *store.CityStore, as *store.AddressStore, svc *canvass.Service, hub *websocket.Hub, clk clock.Clock, logger *slog.Logger) *CityHandler {
	return &CityHandler{cityStore: cs, addressStore: as, service: svc, hub: hub, clock: clk, logger: logger}
}

func (h *CityHandler) publish(userID string, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Publish(userID, msg)
	}
}

type cityRequest struct {
	Name        string `json:"name"`
	PostalCode  string `json:"postal_code"`
	TargetDoors int    `json:"target_doors"`
}

// ownedCity loads the city and hides it from anyone but its owner.
func ownedCity(ctx context.Context, cs *store.CityStore, userID, id string) (*model.City, error) {
	city, err := cs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if city == nil || city.UserID != userID {
		return nil, nil
	}
	return city, nil
}

func (h *CityHandler) List(w http.ResponseWriter, r *http.Request) {
	cities, err := h.cityStore.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "failed to list cities")
		return
	}
	if cities == nil {
		cities = []model.City{}
	}
	writeJSON(w, http.StatusOK, cities)
}

func (h *CityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req cityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	userID := auth.UserID(r.Context())
	city, err := h.cityStore.Create(r.Context(), userID, req.Name, strings.TrimSpace(req.PostalCode), req.TargetDoors, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err, "failed to create city")
		return
	}

	h.publish(userID, websocket.NewMessage("city", "created", city.ID, nil))
	writeJSON(w, http.StatusCreated, city)
}

func (h *CityHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	existing, err := ownedCity(r.Context(), h.cityStore, userID, pathID(r))
	if err != nil {
		writeError(w, h.logger, err, "failed to get city")
		return
	}
	if existing == nil {
		writeMessage(w, http.StatusNotFound, "city not found")
		return
	}

	var req cityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeMessage(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.TargetDoors == 0 {
		req.TargetDoors = existing.TargetDoors
	}

	city, err := h.cityStore.Update(r.Context(), existing.ID, req.Name, strings.TrimSpace(req.PostalCode), req.TargetDoors, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err, "failed to update city")
		return
	}

	h.publish(userID, websocket.NewMessage("city", "updated", city.ID, nil))
	writeJSON(w, http.StatusOK, city)
}

func (h *CityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	existing, err := ownedCity(r.Context(), h.cityStore, userID, pathID(r))
	if err != nil {
		writeError(w, h.logger, err, "failed to get city")
		return
	}
	if existing == nil {
		writeMessage(w, http.StatusNotFound, "city not found")
		return
	}

	if err := h.cityStore.Delete(r.Context(), existing.ID); err != nil {
		writeError(w, h.logger, err, "failed to delete city")
		return
	}

	h.publish(userID, websocket.NewMessage("city", "deleted", existing.ID, nil))
	w.WriteHeader(http.StatusNoContent)
}

func (h *CityHandler) Progress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.service.CityProgress(r.Context(), auth.UserID(r.Context()), pathID(r))
	if err != nil {
		writeError(w, h.logger, err, "failed to compute progress")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// Stats breaks the city's addresses down by status.
func (h *CityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	city, err := ownedCity(r.Context(), h.cityStore, userID, pathID(r))
	if err != nil {
		writeError(w, h.logger, err, "failed to get city")
		return
	}
	if city == nil {
		writeMessage(w, http.StatusNotFound, "city not found")
		return
	}

	counts, err := h.addressStore.StatusCounts(r.Context(), city.ID)
	if err != nil {
		writeError(w, h.logger, err, "failed to count statuses")
		return
	}
	if counts == nil {
		counts = []model.StatusCount{}
	}
	total := 0
	for _, c := range counts {
		total += c.Count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"city_id":   city.ID,
		"addresses": total,
		"by_status": counts,
	})
}

func (h *CityHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.History(r.Context(), auth.UserID(r.Context()), pathID(r))
	if err != nil {
		writeError(w, h.logger, err, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
