package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/doorstep/internal/canvass"
	"github.com/dukerupert/doorstep/internal/clock"
	"github.com/dukerupert/doorstep/internal/gaming"
	"github.com/dukerupert/doorstep/internal/handler"
	"github.com/dukerupert/doorstep/internal/middleware"
	"github.com/dukerupert/doorstep/internal/store"
	ws "github.com/dukerupert/doorstep/internal/websocket"
)

// Config carries the runtime knobs the HTTP server needs.
type Config struct {
	Clock          clock.Clock
	Catalog        []gaming.Definition
	TokenTTL       time.Duration
	DoorsPerMinute int
	OriginPatterns []string
}

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	service      *canvass.Service
	cityH        *handler.CityHandler
	addressH     *handler.AddressHandler
	statusH      *handler.StatusHandler
	sessionH     *handler.SessionHandler
	achievementH *handler.AchievementHandler
	authH        *handler.AuthHandler
	userStore    *store.UserStore
	tokenStore   *store.TokenStore
	rateLimiter  *middleware.RateLimiter
	clock        clock.Clock
	cfg          Config
	logger       *slog.Logger
}

// New wires stores, the canvass service and handlers. The achievement
// catalog is synced into the database before the server is returned.
func New(ctx context.Context, db *sql.DB, cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Catalog == nil {
		catalog, err := gaming.DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("load achievement catalog: %w", err)
		}
		cfg.Catalog = catalog
	}

	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	tokenStore := store.NewTokenStore(db)
	cityStore := store.NewCityStore(db)
	addressStore := store.NewAddressStore(db)
	statusStore := store.NewStatusStore(db)
	sessionStore := store.NewSessionStore(db)
	achievementStore := store.NewAchievementStore(db)

	if err := achievementStore.Sync(ctx, cfg.Catalog); err != nil {
		return nil, fmt.Errorf("sync achievements: %w", err)
	}

	svc := canvass.NewService(canvass.Stores{
		Sessions:     sessionStore,
		Cities:       cityStore,
		Addresses:    addressStore,
		Statuses:     statusStore,
		Achievements: achievementStore,
	}, cfg.Catalog, cfg.Clock, hub, logger)

	return &Server{
		db:           db,
		hub:          hub,
		service:      svc,
		cityH:        handler.NewCityHandler(cityStore, addressStore, svc, hub, cfg.Clock, logger.With("component", "city")),
		addressH:     handler.NewAddressHandler(addressStore, cityStore, statusStore, svc, hub, cfg.Clock, logger.With("component", "address")),
		statusH:      handler.NewStatusHandler(statusStore, hub, logger.With("component", "status")),
		sessionH:     handler.NewSessionHandler(svc, logger.With("component", "session")),
		achievementH: handler.NewAchievementHandler(svc, logger.With("component", "achievement")),
		authH:        handler.NewAuthHandler(userStore, tokenStore, cfg.Clock, cfg.TokenTTL, logger.With("component", "auth")),
		userStore:    userStore,
		tokenStore:   tokenStore,
		rateLimiter:  middleware.NewRateLimiter(cfg.Clock),
		clock:        cfg.Clock,
		cfg:          cfg,
		logger:       logger,
	}, nil
}

// Service returns the canvass service for the inactivity sweeper.
func (s *Server) Service() *canvass.Service {
	return s.service
}

// TokenStore returns the token store for cleanup tasks.
func (s *Server) TokenStore() *store.TokenStore {
	return s.tokenStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the realtime hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", promhttp.Handler())

	// Protected routes, wrapped with RequireUser
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireUser(s.tokenStore, s.userStore, s.clock)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.UserKey, s.cfg.DoorsPerMinute, time.Minute)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Account
	mux.HandleFunc("GET /api/me", s.authH.Me)
	mux.HandleFunc("POST /api/tokens", s.authH.RotateToken)
	mux.HandleFunc("DELETE /api/tokens/current", s.authH.Logout)

	// Cities
	mux.HandleFunc("GET /api/cities", s.cityH.List)
	mux.HandleFunc("POST /api/cities", s.cityH.Create)
	mux.HandleFunc("PUT /api/cities/{id}", s.cityH.Update)
	mux.HandleFunc("DELETE /api/cities/{id}", s.cityH.Delete)
	mux.HandleFunc("GET /api/cities/{id}/progress", s.cityH.Progress)
	mux.HandleFunc("GET /api/cities/{id}/stats", s.cityH.Stats)
	mux.HandleFunc("GET /api/cities/{id}/sessions", s.cityH.Sessions)

	// Addresses
	mux.HandleFunc("GET /api/cities/{id}/addresses", s.addressH.List)
	mux.HandleFunc("POST /api/cities/{id}/addresses", s.addressH.Create)
	mux.HandleFunc("PUT /api/addresses/{id}", s.addressH.Update)
	mux.HandleFunc("DELETE /api/addresses/{id}", s.addressH.Delete)

	// Statuses
	mux.HandleFunc("GET /api/statuses", s.statusH.List)
	mux.HandleFunc("POST /api/statuses", s.statusH.Create)
	mux.HandleFunc("PUT /api/statuses/order", s.statusH.Reorder)
	mux.HandleFunc("PUT /api/statuses/{id}", s.statusH.Update)
	mux.HandleFunc("DELETE /api/statuses/{id}", s.statusH.Delete)

	// Sessions
	mux.HandleFunc("GET /api/sessions/current", s.sessionH.Current)
	mux.HandleFunc("POST /api/sessions", s.sessionH.Start)
	mux.HandleFunc("POST /api/sessions/{id}/pause", s.sessionH.Pause)
	mux.HandleFunc("POST /api/sessions/{id}/resume", s.sessionH.Resume)
	mux.HandleFunc("POST /api/sessions/{id}/end", s.sessionH.End)
	mux.HandleFunc("POST /api/sessions/{id}/abandon", s.sessionH.Abandon)
	mux.Handle("POST /api/sessions/{id}/doors", s.rateLimitedHandler(s.sessionH.RecordDoor))

	// Achievements
	mux.HandleFunc("GET /api/achievements", s.achievementH.List)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.cfg.OriginPatterns, s.logger.With("component", "websocket")))
}
