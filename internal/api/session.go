package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/cluehunt/internal/domain"
	"github.com/ashureev/cluehunt/internal/identity"
)

// SessionHandler issues development sessions and reports the caller.
type SessionHandler struct {
	issuer      *identity.Issuer
	isDev       bool
	devSessions bool
}

// NewSessionHandler creates a new session handler. devSessions enables
// CreateSession; isDev only relaxes the cookie.
func NewSessionHandler(issuer *identity.Issuer, isDev, devSessions bool) *SessionHandler {
	return &SessionHandler{issuer: issuer, isDev: isDev, devSessions: devSessions}
}

type sessionRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Role   string `json:"role" validate:"required,oneof=teacher learner"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession issues a token for any user. Production deployments get
// tokens from their own login flow, so this only works when explicitly enabled.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if !h.devSessions {
		Error(w, http.StatusNotFound, "not found")
		return
	}
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	token, expires, err := h.issuer.Issue(req.UserID, domain.Role(req.Role))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	identity.SetSessionCookie(w, token, expires, h.isDev)
	JSON(w, http.StatusCreated, sessionResponse{Token: token, ExpiresAt: expires})
}

// GetMe returns the authenticated caller.
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.ID,
		"role":       user.Role,
		"can_author": user.CanAuthor(),
		"session_id": identity.SessionIDFromContext(r.Context()),
	})
}

// RegisterPublic registers routes that need no session.
func (h *SessionHandler) RegisterPublic(r chi.Router) {
	r.Post("/api/session", h.CreateSession)
}

// RegisterRoutes registers session routes that require authentication.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.GetMe)
}
