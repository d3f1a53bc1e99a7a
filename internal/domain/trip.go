// Package domain contains the core data types for tripsync.
// This package has zero external dependencies and is imported by every other
// internal package (docstore, mirror, service, handler).
package domain

import "time"

// Collection names under users/{identity}/.
const (
	ItineraryItemsCollection = "itineraryItems"
	TripsCollection          = "trips"
)

// Defaults applied when an itinerary item leaves the field empty.
const (
	DefaultTripName   = "Destination"
	DefaultTripStatus = "Upcoming"
)

// Document field names. Itinerary items and trips share the first group;
// the second group only exists on mirrored trips.
const (
	FieldName           = "name"
	FieldRegion         = "region"
	FieldStatus         = "status"
	FieldArrival        = "arrival"
	FieldDeparture      = "departure"
	FieldBudget         = "budget"
	FieldAccomBudget    = "accomBudget"
	FieldActivityBudget = "activityBudget"
	FieldAccomName      = "accomName"
	FieldAccomType      = "accomType"
	FieldActivities     = "activities"
	FieldCreatedAt      = "createdAt"

	FieldOwnerID             = "ownerId"
	FieldFromItineraryItemID = "fromItineraryItemId"
	FieldLastMirroredAt      = "lastMirroredAt"
)

// Trip is the mirrored, read-optimised form of an itinerary item.
// It lives in users/{OwnerID}/trips and is normally stored under the same id
// as the itinerary item it came from; FromItineraryItemID is the authoritative
// back-reference.
type Trip struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Region         string     `json:"region"`
	Status         string     `json:"status"`
	Arrival        *time.Time `json:"arrival,omitempty"`   // nil when not planned yet
	Departure      *time.Time `json:"departure,omitempty"` // nil when not planned yet
	Budget         float64    `json:"budget"`
	AccomBudget    float64    `json:"accomBudget"`
	ActivityBudget float64    `json:"activityBudget"`
	AccomName      string     `json:"accomName"`
	AccomType      string     `json:"accomType"`
	Activities     []string   `json:"activities"`

	OwnerID             string     `json:"ownerId"`
	FromItineraryItemID string     `json:"fromItineraryItemId"`
	CreatedAt           *time.Time `json:"createdAt,omitempty"`
	LastMirroredAt      *time.Time `json:"lastMirroredAt,omitempty"`
}

// TotalBudget is the sum of the three budget lines.
func (t Trip) TotalBudget() float64 {
	return t.Budget + t.AccomBudget + t.ActivityBudget
}
