package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/pkordes/tripsync/internal/domain"
)

// Trip is the JSON shape of a mirrored trip.
type Trip struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	Region              string              `json:"region"`
	Status              string              `json:"status"`
	Arrival             *openapi_types.Date `json:"arrival"`
	Departure           *openapi_types.Date `json:"departure"`
	Budget              float64             `json:"budget"`
	AccomBudget         float64             `json:"accomBudget"`
	ActivityBudget      float64             `json:"activityBudget"`
	TotalBudget         float64             `json:"totalBudget"`
	AccomName           string              `json:"accomName"`
	AccomType           string              `json:"accomType"`
	Activities          []string            `json:"activities"`
	FromItineraryItemID string              `json:"fromItineraryItemId"`
	CreatedAt           *time.Time          `json:"createdAt,omitempty"`
	LastMirroredAt      *time.Time          `json:"lastMirroredAt,omitempty"`
}

// TripList is the body of GET /trips.
type TripList struct {
	Data []Trip `json:"data"`
}

// ListTrips handles GET /trips.
func (s *Server) ListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := s.trips.List(r.Context(), s.identities.Current())
	if err != nil {
		s.writeServiceError(w, r, err, "trips not found")
		return
	}

	data := make([]Trip, len(trips))
	for i, t := range trips {
		data[i] = tripToResponse(t)
	}
	writeJSON(w, http.StatusOK, TripList{Data: data})
}

// GetTrip handles GET /trips/{id}.
func (s *Server) GetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.trips.GetByID(r.Context(), s.identities.Current(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err, "trip not found")
		return
	}
	writeJSON(w, http.StatusOK, tripToResponse(trip))
}

// --- mapping helpers --------------------------------------------------------

// tripToResponse converts a domain.Trip to its API shape. Dates are reported
// as calendar days.
func tripToResponse(t domain.Trip) Trip {
	activities := t.Activities
	if activities == nil {
		activities = []string{}
	}
	return Trip{
		ID:                  t.ID,
		Name:                t.Name,
		Region:              t.Region,
		Status:              t.Status,
		Arrival:             toDate(t.Arrival),
		Departure:           toDate(t.Departure),
		Budget:              t.Budget,
		AccomBudget:         t.AccomBudget,
		ActivityBudget:      t.ActivityBudget,
		TotalBudget:         t.TotalBudget(),
		AccomName:           t.AccomName,
		AccomType:           t.AccomType,
		Activities:          activities,
		FromItineraryItemID: t.FromItineraryItemID,
		CreatedAt:           t.CreatedAt,
		LastMirroredAt:      t.LastMirroredAt,
	}
}

func toDate(t *time.Time) *openapi_types.Date {
	if t == nil {
		return nil
	}
	return &openapi_types.Date{Time: *t}
}
