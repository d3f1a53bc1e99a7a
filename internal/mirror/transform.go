package mirror

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkordes/tripsync/internal/docstore"
	"github.com/pkordes/tripsync/internal/domain"
)

// Transform maps one itinerary item onto its mirrored trip. It never fails:
// missing or mistyped fields fall back to defaults. The same input always
// yields the same Trip, which is what makes every mirror write idempotent.
func Transform(item map[string]any, itemID, identity string) domain.Trip {
	return domain.Trip{
		ID:             itemID,
		Name:           stringOr(item[domain.FieldName], domain.DefaultTripName),
		Region:         stringOr(item[domain.FieldRegion], ""),
		Status:         stringOr(item[domain.FieldStatus], domain.DefaultTripStatus),
		Arrival:        toTime(item[domain.FieldArrival]),
		Departure:      toTime(item[domain.FieldDeparture]),
		Budget:         toNumber(item[domain.FieldBudget]),
		AccomBudget:    toNumber(item[domain.FieldAccomBudget]),
		ActivityBudget: toNumber(item[domain.FieldActivityBudget]),
		AccomName:      stringOr(item[domain.FieldAccomName], ""),
		AccomType:      stringOr(item[domain.FieldAccomType], ""),
		Activities:     toStrings(item[domain.FieldActivities]),

		OwnerID:             identity,
		FromItineraryItemID: itemID,
		CreatedAt:           toTime(item[domain.FieldCreatedAt]),
	}
}

// tripFields renders a trip as the field set written with UpsertMerge.
// lastMirroredAt is stamped on every write; createdAt keeps the item's value
// or is stamped once when the trip is first created.
func tripFields(t domain.Trip) map[string]any {
	fields := map[string]any{
		domain.FieldName:           t.Name,
		domain.FieldRegion:         t.Region,
		domain.FieldStatus:         t.Status,
		domain.FieldArrival:        timeOrNil(t.Arrival),
		domain.FieldDeparture:      timeOrNil(t.Departure),
		domain.FieldBudget:         t.Budget,
		domain.FieldAccomBudget:    t.AccomBudget,
		domain.FieldActivityBudget: t.ActivityBudget,
		domain.FieldAccomName:      t.AccomName,
		domain.FieldAccomType:      t.AccomType,
		domain.FieldActivities:     t.Activities,

		domain.FieldOwnerID:             t.OwnerID,
		domain.FieldFromItineraryItemID: t.FromItineraryItemID,
		domain.FieldLastMirroredAt:      docstore.ServerTimestamp,
	}
	if t.CreatedAt != nil {
		fields[domain.FieldCreatedAt] = *t.CreatedAt
	} else {
		fields[domain.FieldCreatedAt] = docstore.ServerTimestampOnCreate
	}
	return fields
}

// DecodeTrip reads a stored trip document back into a domain.Trip using the
// same lenient coercions as Transform.
func DecodeTrip(doc docstore.Document) domain.Trip {
	f := doc.Fields
	return domain.Trip{
		ID:             doc.ID,
		Name:           stringOr(f[domain.FieldName], domain.DefaultTripName),
		Region:         stringOr(f[domain.FieldRegion], ""),
		Status:         stringOr(f[domain.FieldStatus], domain.DefaultTripStatus),
		Arrival:        toTime(f[domain.FieldArrival]),
		Departure:      toTime(f[domain.FieldDeparture]),
		Budget:         toNumber(f[domain.FieldBudget]),
		AccomBudget:    toNumber(f[domain.FieldAccomBudget]),
		ActivityBudget: toNumber(f[domain.FieldActivityBudget]),
		AccomName:      stringOr(f[domain.FieldAccomName], ""),
		AccomType:      stringOr(f[domain.FieldAccomType], ""),
		Activities:     toStrings(f[domain.FieldActivities]),

		OwnerID:             stringOr(f[domain.FieldOwnerID], ""),
		FromItineraryItemID: stringOr(f[domain.FieldFromItineraryItemID], ""),
		CreatedAt:           toTime(f[domain.FieldCreatedAt]),
		LastMirroredAt:      toTime(f[domain.FieldLastMirroredAt]),
	}
}

// stringOr returns v when it is a non-empty string, else fallback.
func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

// toNumber coerces numbers and numeric strings ("1500", " 12.5 ") to float64.
// Everything else, including NaN and ±Inf, becomes 0.
func toNumber(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// toStrings keeps the string members of a list; anything that is not a list
// becomes an empty, non-nil slice.
func toStrings(v any) []string {
	out := []string{}
	switch list := v.(type) {
	case []string:
		out = append(out, list...)
	case []any:
		for _, e := range list {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// dateLayouts are tried in order for string dates.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02"}

// toTime accepts time.Time, *time.Time, and RFC 3339 or YYYY-MM-DD strings.
// Anything else is nil.
func toTime(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil
		}
		u := t.UTC()
		return &u
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil
		}
		u := t.UTC()
		return &u
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				u := parsed.UTC()
				return &u
			}
		}
	}
	return nil
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
