// Package mirror keeps users/{identity}/trips in sync with
// users/{identity}/itineraryItems.
//
// The pieces, leaf first:
//
//   - Transform turns one itinerary item into one trip (pure, total).
//   - Backfill writes the trip for every item that already exists.
//   - ApplyBatch reconciles one batch of live changes.
//   - Start opens a Session: backfill plus a live subscription for one identity.
//   - Manager follows identity changes and keeps at most one Session running.
//
// Every store write is a merge of a deterministic field set, so writes may be
// repeated or reordered across backfill and subscription without harm.
// Individual write failures are logged and counted, never returned.
package mirror

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pkordes/tripsync/internal/docstore"
	"github.com/pkordes/tripsync/internal/domain"
)

const tracerName = "github.com/pkordes/tripsync/internal/mirror"

// Options configures a Mirror. Zero values get defaults.
type Options struct {
	Logger *slog.Logger

	// Metrics defaults to collectors registered on a private registry.
	Metrics *Metrics

	// OpTimeout bounds every single store write, delete or query. Default 10s.
	OpTimeout time.Duration
}

// Mirror applies itinerary-item changes to the trips collection.
type Mirror struct {
	store     docstore.Store
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	opTimeout time.Duration
}

// New constructs a Mirror over store.
func New(store docstore.Store, opts Options) *Mirror {
	m := &Mirror{
		store:     store,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer(tracerName),
		opTimeout: opts.OpTimeout,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if m.opTimeout <= 0 {
		m.opTimeout = 10 * time.Second
	}
	return m
}

// bestEffort runs one store operation and swallows its error after logging
// and counting it. The operation runs on a context that ignores ctx's
// cancellation but keeps its values, bounded by OpTimeout: once dispatched a
// write is allowed to finish even if the session is being torn down.
func (m *Mirror) bestEffort(ctx context.Context, op, identity, id string, fn func(ctx context.Context) error) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opTimeout)
	defer cancel()

	start := time.Now()
	err := fn(opCtx)
	m.metrics.observe(op, time.Since(start), err)
	if err != nil {
		m.logger.WarnContext(ctx, "mirror operation failed",
			"op", op,
			"identity", identity,
			"id", id,
			"error", err,
		)
	}
}

func sourceCollection(identity string) string {
	return docstore.UserCollection(identity, domain.ItineraryItemsCollection)
}

func tripsCollection(identity string) string {
	return docstore.UserCollection(identity, domain.TripsCollection)
}
