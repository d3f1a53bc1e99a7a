package mirror

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Backfill writes the trip of every itinerary item identity currently has.
// Writes fan out concurrently; one failing write is logged and does not stop
// the others. Only a failure to read the items is returned.
//
// Backfill is safe to run again at any time, including while a live
// subscription for the same identity is applying its initial snapshot.
func (m *Mirror) Backfill(ctx context.Context, identity string) error {
	ctx, span := m.tracer.Start(ctx, "mirror.Backfill",
		trace.WithAttributes(attribute.String("identity", identity)))
	defer span.End()

	items, err := m.store.ReadAll(ctx, sourceCollection(identity))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("mirror.Backfill: %w", err)
	}
	// Torn down while reading: dispatch nothing.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mirror.Backfill: %w", err)
	}

	var g errgroup.Group
	for _, item := range items {
		g.Go(func() error {
			m.upsert(ctx, identity, item.ID, item.Fields)
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("items", len(items)))
	m.metrics.Backfills.Inc()
	m.logger.InfoContext(ctx, "backfill complete", "identity", identity, "items", len(items))
	return nil
}
