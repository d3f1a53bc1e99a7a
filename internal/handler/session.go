package handler

import (
	"errors"
	"net/http"

	"github.com/pkordes/tripsync/internal/auth"
)

// SessionResponse is the body of the session endpoints.
type SessionResponse struct {
	Identity string `json:"identity"`
}

// CreateSession handles POST /session. The bearer token in the Authorization
// header is verified and its subject becomes the signed-in identity, which
// starts mirroring for that identity.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	identity, err := s.tokens.Verify(r.Header.Get("Authorization"))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingToken):
			unauthenticated(w, "bearer token required")
		case errors.Is(err, auth.ErrExpiredToken):
			unauthenticated(w, "token has expired")
		default:
			s.logger.InfoContext(r.Context(), "sign-in rejected", "error", err)
			unauthenticated(w, "invalid token")
		}
		return
	}

	s.identities.SignIn(identity)
	writeJSON(w, http.StatusOK, SessionResponse{Identity: identity})
}

// GetSession handles GET /session.
func (s *Server) GetSession(w http.ResponseWriter, _ *http.Request) {
	identity := s.identities.Current()
	if identity == "" {
		unauthenticated(w, "not signed in")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Identity: identity})
}

// DeleteSession handles DELETE /session. Signing out when nobody is signed
// in is not an error.
func (s *Server) DeleteSession(w http.ResponseWriter, _ *http.Request) {
	s.identities.SignOut()
	w.WriteHeader(http.StatusNoContent)
}
