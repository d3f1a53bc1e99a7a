// Package service contains the read-side business logic of the tripsync API.
// Services enforce who may see what and shape store documents into domain
// values. No SQL lives here; services depend on the docstore.Store interface.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pkordes/tripsync/internal/docstore"
	"github.com/pkordes/tripsync/internal/domain"
	"github.com/pkordes/tripsync/internal/mirror"
)

// TripService serves the mirrored trips of the signed-in identity.
type TripService struct {
	store docstore.Store
}

// NewTripService constructs a TripService reading from store.
func NewTripService(store docstore.Store) *TripService {
	return &TripService{store: store}
}

// List returns every trip of identity, ordered by arrival (undated last),
// then name, then id. It never returns nil.
func (s *TripService) List(ctx context.Context, identity string) ([]domain.Trip, error) {
	if identity == "" {
		return nil, fmt.Errorf("service.TripService.List: %w", domain.ErrUnauthenticated)
	}

	docs, err := s.store.ReadAll(ctx, docstore.UserCollection(identity, domain.TripsCollection))
	if err != nil {
		return nil, fmt.Errorf("service.TripService.List: %w", err)
	}

	trips := make([]domain.Trip, 0, len(docs))
	for _, d := range docs {
		trips = append(trips, mirror.DecodeTrip(d))
	}
	sort.SliceStable(trips, func(i, j int) bool { return tripLess(trips[i], trips[j]) })
	return trips, nil
}

// GetByID returns one trip of identity.
func (s *TripService) GetByID(ctx context.Context, identity, id string) (domain.Trip, error) {
	if identity == "" {
		return domain.Trip{}, fmt.Errorf("service.TripService.GetByID: %w", domain.ErrUnauthenticated)
	}
	if id == "" {
		return domain.Trip{}, fmt.Errorf("service.TripService.GetByID: %w: id is required", domain.ErrValidation)
	}

	doc, err := s.store.Get(ctx, docstore.UserCollection(identity, domain.TripsCollection), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Trip{}, fmt.Errorf("service.TripService.GetByID: %w", domain.ErrNotFound)
		}
		return domain.Trip{}, fmt.Errorf("service.TripService.GetByID: %w", err)
	}
	return mirror.DecodeTrip(doc), nil
}

func tripLess(a, b domain.Trip) bool {
	switch {
	case a.Arrival != nil && b.Arrival == nil:
		return true
	case a.Arrival == nil && b.Arrival != nil:
		return false
	case a.Arrival != nil && !a.Arrival.Equal(*b.Arrival):
		return a.Arrival.Before(*b.Arrival)
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}
