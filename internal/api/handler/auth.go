package handler

import (
	"net/http"

	"github.com/Rrens/ally-chat/internal/api/middleware"
	"github.com/Rrens/ally-chat/internal/api/response"
	"github.com/Rrens/ally-chat/internal/identity"
	"github.com/rs/zerolog/log"
)

// AuthHandler handles auth-state endpoints. Sign-in itself happens at the identity provider.
type AuthHandler struct {
	hub *identity.Hub
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(hub *identity.Hub) *AuthHandler {
	return &AuthHandler{hub: hub}
}

// SignOut announces that the caller signed out so per-user state can be dropped
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	h.hub.Publish(identity.Event{Kind: identity.SignedOut, UserID: userID})
	log.Info().Str("user_id", userID).Msg("user signed out")

	response.NoContent(w)
}

// Me returns the authenticated identity
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	email, _ := middleware.GetUserEmail(r.Context())
	response.OK(w, map[string]string{
		"user_id": userID,
		"email":   email,
	})
}
