package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/cluehunt/internal/activity"
	"github.com/ashureev/cluehunt/internal/domain"
	"github.com/ashureev/cluehunt/internal/identity"
	"github.com/ashureev/cluehunt/internal/middleware"
	"github.com/ashureev/cluehunt/internal/store"
)

// RouterConfig holds the dependencies of the HTTP surface.
type RouterConfig struct {
	Repo           store.Repository
	Service        *activity.Service
	Issuer         *identity.Issuer
	AllowedOrigins []string
	IsDev          bool
	// DevSessions exposes POST /api/session.
	DevSessions    bool
	HealthTimeout  time.Duration
	// Live serves the reveal stream; nil disables it.
	Live http.Handler
	// Streams is notified when an activity is deleted; may be nil.
	Streams StreamCloser
	// Static serves everything outside /api and /ws; nil disables it.
	Static http.Handler
	// RequestLogging enables chi's request logger.
	RequestLogging bool
}

// RegisterRoutes registers learner routes.
func (h *PlayHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/activities/{activityID}", h.View)
	r.Post("/api/activities/{activityID}/answer", h.Submit)
	// Any method reaches Clues so that it can answer 405 after authentication.
	r.HandleFunc("/api/clues", h.Clues)
}

// RegisterRoutes registers teacher routes.
func (h *AuthoringHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/activities", h.CreateActivity)
	r.Delete("/api/activities/{activityID}", h.DeleteActivity)
	r.Put("/api/activities/{activityID}/question", h.SaveQuestion)
	r.Put("/api/activities/{activityID}/clues", h.ReplaceClues)
	r.Post("/api/clues/{clueID}/remove", h.RemoveClue)
	r.Get("/api/activities/{activityID}/attempts", h.ListAttempts)
}

// NewRouter builds the complete HTTP handler.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if cfg.RequestLogging {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		Error(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	counter, _ := cfg.Streams.(StreamCounter)
	NewHealthHandler(cfg.Repo, counter, cfg.HealthTimeout).RegisterHealth(r)

	sessionHandler := NewSessionHandler(cfg.Issuer, cfg.IsDev, cfg.DevSessions)
	sessionHandler.RegisterPublic(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.Issuer, cfg.Repo))

		sessionHandler.RegisterRoutes(r)
		NewPlayHandler(cfg.Service).RegisterRoutes(r)
		if cfg.Live != nil {
			r.Get("/ws/activities/{activityID}/reveals", cfg.Live.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireRole(domain.RoleTeacher))
			NewAuthoringHandler(cfg.Service, cfg.Streams).RegisterRoutes(r)
		})
	})

	if cfg.Static != nil {
		r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Unknown API paths must not fall through to the page.
			if strings.HasPrefix(req.URL.Path, "/api/") || strings.HasPrefix(req.URL.Path, "/ws/") {
				Error(w, http.StatusNotFound, "not found")
				return
			}
			cfg.Static.ServeHTTP(w, req)
		}))
	}
	return r
}
