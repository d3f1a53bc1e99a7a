// Package handler implements the HTTP handlers for the tripsync API.
// All handlers are methods on Server. Methods are split into domain-specific
// files (health.go, session.go, trip.go, status.go) but share the same Server
// struct so they can access its dependencies.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pkordes/tripsync/internal/domain"
	"github.com/pkordes/tripsync/internal/mirror"
	"github.com/pkordes/tripsync/spec"
)

// TripServicer defines the read operations the trip handlers depend on.
// Defining the interface here, in the consumer package, lets handler tests
// inject a mock without touching the store or service layer.
type TripServicer interface {
	List(ctx context.Context, identity string) ([]domain.Trip, error)
	GetByID(ctx context.Context, identity, id string) (domain.Trip, error)
}

// IdentityBroker is the part of auth.Broker the session handlers drive.
type IdentityBroker interface {
	SignIn(identity string)
	SignOut()
	Current() string
}

// TokenVerifier turns an Authorization header value into an identity.
type TokenVerifier interface {
	Verify(raw string) (string, error)
}

// MirrorStatuser reports what the trip mirror is doing.
type MirrorStatuser interface {
	Status() mirror.Status
}

// Server holds the dependencies of every endpoint.
type Server struct {
	trips      TripServicer
	identities IdentityBroker
	tokens     TokenVerifier
	mirror     MirrorStatuser
	logger     *slog.Logger
}

// NewServer constructs the Server with all its dependencies. A nil logger
// falls back to slog.Default.
func NewServer(trips TripServicer, identities IdentityBroker, tokens TokenVerifier, mirror MirrorStatuser, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{trips: trips, identities: identities, tokens: tokens, mirror: mirror, logger: logger}
}

// NewHealthHandler returns a Server for health-check-only use.
func NewHealthHandler() *Server {
	return NewServer(nil, nil, nil, nil, nil)
}

// Register mounts every endpoint on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", s.GetHealth)
	r.Get("/openapi.yaml", s.GetOpenAPI)

	r.Get("/session", s.GetSession)
	r.Post("/session", s.CreateSession)
	r.Delete("/session", s.DeleteSession)

	r.Get("/trips", s.ListTrips)
	r.Get("/trips/{id}", s.GetTrip)

	r.Get("/mirror/status", s.GetMirrorStatus)
}

// Handler returns a router serving only the Server's endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Register(r)
	return r
}

// GetOpenAPI handles GET /openapi.yaml.
func (s *Server) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(spec.OpenAPI)
}
