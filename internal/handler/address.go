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
	"github.com/dukerupert/doorstep/internal/street"
	"github.com/dukerupert/doorstep/internal/websocket"
)

type AddressHandler struct {
	addressStore *store.AddressStore
	cityStore    *store.CityStore
	statusStore  *store.StatusStore
	service      *canvass.Service
	hub          *websocket.Hub
	clock        clock.Clock
	logger       *slog.Logger
}

func NewAddressHandler(as *store.AddressStore, cs *store.CityStore, ss *store.StatusStore, svc *canvass.Service, hub *websocket.Hub, clk clock.Clock, logger *slog.Logger) *AddressHandler {
	return &AddressHandler{addressStore: as, cityStore: cs, statusStore: ss, service: svc, hub: hub, clock: clk, logger: logger}
}

func (h *AddressHandler) publish(userID string, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Publish(userID, msg)
	}
}

type addressRequest struct {
	Number     string `json:"number"`
	StreetName string `json:"street_name"`
	Status     string `json:"status"`
	Note       string `json:"note"`
}

func (req *addressRequest) normalize() string {
	req.Number = strings.TrimSpace(req.Number)
	req.StreetName = street.Normalize(req.StreetName)
	req.Status = strings.TrimSpace(req.Status)
	req.Note = strings.TrimSpace(req.Note)
	switch {
	case req.Number == "":
		return "number is required"
	case req.StreetName == "":
		return "street_name is required"
	case req.Status == "":
		return "status is required"
	}
	return ""
}

// checkStatus writes a 400 and returns false when the user has no such status.
func (h *AddressHandler) checkStatus(ctx context.Context, w http.ResponseWriter, userID, status string) bool {
	ok, err := h.statusStore.Exists(ctx, userID, status)
	if err != nil {
		writeError(w, h.logger, err, "failed to check status")
		return false
	}
	if !ok {
		writeMessage(w, http.StatusBadRequest, "unknown status "+status)
		return false
	}
	return true
}

// ownedAddress resolves an address through its city to its owner.
func (h *AddressHandler) ownedAddress(ctx context.Context, userID, id string) (*model.Address, error) {
	addr, err := h.addressStore.GetByID(ctx, id)
	if err != nil || addr == nil {
		return nil, err
	}
	city, err := ownedCity(ctx, h.cityStore, userID, addr.CityID)
	if err != nil || city == nil {
		return nil, err
	}
	return addr, nil
}

func (h *AddressHandler) List(w http.ResponseWriter, r *http.Request) {
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

	q := r.URL.Query()
	filter := model.AddressFilter{
		Street: q.Get("street"),
		Status: q.Get("status"),
		Search: q.Get("q"),
		Sort:   model.AddressSort(q.Get("sort")),
	}
	addrs, err := h.addressStore.List(r.Context(), city.ID, filter)
	if err != nil {
		writeError(w, h.logger, err, "failed to list addresses")
		return
	}
	if addrs == nil {
		addrs = []model.Address{}
	}
	writeJSON(w, http.StatusOK, addrs)
}

// Create adds an address outside a session. The response carries the city
// progress and any milestone the new address reached.
func (h *AddressHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := req.normalize(); msg != "" {
		writeMessage(w, http.StatusBadRequest, msg)
		return
	}

	res, err := h.service.AddAddress(r.Context(), auth.UserID(r.Context()), pathID(r), model.Address{
		Number:     req.Number,
		StreetName: req.StreetName,
		Status:     req.Status,
		Note:       req.Note,
	})
	if err != nil {
		writeError(w, h.logger, err, "failed to create address")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *AddressHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	existing, err := h.ownedAddress(r.Context(), userID, pathID(r))
	if err != nil {
		writeError(w, h.logger, err, "failed to get address")
		return
	}
	if existing == nil {
		writeMessage(w, http.StatusNotFound, "address not found")
		return
	}

	var req addressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := req.normalize(); msg != "" {
		writeMessage(w, http.StatusBadRequest, msg)
		return
	}
	if req.Status != existing.Status && !h.checkStatus(r.Context(), w, userID, req.Status) {
		return
	}

	addr, err := h.addressStore.Update(r.Context(), existing.ID, req.Number, req.StreetName, req.Status, req.Note, h.clock.Now())
	if err != nil {
		writeError(w, h.logger, err, "failed to update address")
		return
	}

	h.publish(userID, websocket.NewMessage("address", "updated", addr.ID, map[string]any{"city_id": addr.CityID}))
	writeJSON(w, http.StatusOK, addr)
}

func (h *AddressHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	existing, err := h.ownedAddress(r.Context(), userID, pathID(r))
	if err != nil {
		writeError(w, h.logger, err, "failed to get address")
		return
	}
	if existing == nil {
		writeMessage(w, http.StatusNotFound, "address not found")
		return
	}

	if err := h.addressStore.Delete(r.Context(), existing.ID); err != nil {
		writeError(w, h.logger, err, "failed to delete address")
		return
	}

	h.publish(userID, websocket.NewMessage("address", "deleted", existing.ID, map[string]any{"city_id": existing.CityID}))
	w.WriteHeader(http.StatusNoContent)
}
