package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/cluehunt/internal/activity"
	"github.com/ashureev/cluehunt/internal/hunt"
	"github.com/ashureev/cluehunt/internal/identity"
)

const writeTimeout = 10 * time.Second

// Handler upgrades requests to reveal streams.
type Handler struct {
	svc            *activity.Service
	registry       *Registry
	watcher        Watcher
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a new reveal stream handler.
func NewHandler(svc *activity.Service, registry *Registry, tick time.Duration, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{
		svc:            svc,
		registry:       registry,
		watcher:        Watcher{Tick: tick, Now: svc.Now},
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	activityID, ok := hunt.ParseID(chi.URLParam(r, "activityID"))
	if !ok {
		http.Error(w, "invalid activity id", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Resolve before upgrading so a missing activity is a plain 404.
	sched, err := h.svc.Schedule(r.Context(), userID, activityID)
	if errors.Is(err, activity.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to load reveal schedule", "error", err, "user_id", userID, "activity_id", activityID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	reason := "stream ended"
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, reason); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Clients only listen; any inbound frame ends the stream.
	ctx = ws.CloseRead(ctx)

	h.registry.Register(userID, sessionID, activityID, ws, cancel)
	defer h.registry.Unregister(userID, sessionID, ws)

	streamID := uuid.NewString()
	slog.Info("Reveal stream started", "stream_id", streamID, "user_id", userID, "activity_id", activityID, "clues", len(sched.Clues), "ip", identity.IPFromRequest(r))
	err = h.watcher.Run(ctx, sched, func(ev Event) error {
		wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
		defer wcancel()
		return wsjson.Write(wctx, ws, ev)
	})
	switch {
	case err == nil:
		reason = "all clues revealed"
	case errors.Is(err, context.Canceled):
		slog.Debug("Reveal stream cancelled", "stream_id", streamID, "user_id", userID)
	default:
		slog.Warn("Reveal stream write error", "error", err, "stream_id", streamID, "user_id", userID)
	}
	slog.Info("Reveal stream ended", "stream_id", streamID, "user_id", userID, "activity_id", activityID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}
