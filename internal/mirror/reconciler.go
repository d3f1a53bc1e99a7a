package mirror

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pkordes/tripsync/internal/docstore"
	"github.com/pkordes/tripsync/internal/domain"
)

// ApplyBatch reconciles one batch of itinerary-item changes into the trips
// collection and returns when every change has been applied or has failed.
//
// Added and modified items are transformed and merged at the trip with the
// same id. Removed items are deleted at that id and, independently, by a
// lookup on fromItineraryItemId, so a trip stored under some other id is
// still found. All upserts run concurrently, as do all removals; no change
// can fail another.
func (m *Mirror) ApplyBatch(ctx context.Context, identity string, changes []docstore.Change) {
	ctx, span := m.tracer.Start(ctx, "mirror.ApplyBatch",
		trace.WithAttributes(
			attribute.String("identity", identity),
			attribute.Int("changes", len(changes)),
		))
	defer span.End()

	m.metrics.Batches.Inc()
	m.metrics.BatchChanges.Observe(float64(len(changes)))

	var upserts, removals errgroup.Group
	for _, c := range changes {
		switch c.Kind {
		case docstore.Added, docstore.Modified:
			upserts.Go(func() error {
				m.upsert(ctx, identity, c.ID, c.Fields)
				return nil
			})
		case docstore.Removed:
			removals.Go(func() error {
				m.remove(ctx, identity, c.ID)
				return nil
			})
		default:
			m.logger.WarnContext(ctx, "unknown change kind", "identity", identity, "id", c.ID, "kind", int(c.Kind))
		}
	}
	_ = upserts.Wait()
	_ = removals.Wait()
}

func (m *Mirror) upsert(ctx context.Context, identity, itemID string, item map[string]any) {
	trip := Transform(item, itemID, identity)
	m.bestEffort(ctx, opUpsert, identity, itemID, func(ctx context.Context) error {
		return m.store.UpsertMerge(ctx, tripsCollection(identity), trip.ID, tripFields(trip))
	})
}

func (m *Mirror) remove(ctx context.Context, identity, itemID string) {
	trips := tripsCollection(identity)

	var g errgroup.Group
	g.Go(func() error {
		m.bestEffort(ctx, opDelete, identity, itemID, func(ctx context.Context) error {
			return m.store.Delete(ctx, trips, itemID)
		})
		return nil
	})
	g.Go(func() error {
		var matches []docstore.Document
		m.bestEffort(ctx, opQuery, identity, itemID, func(ctx context.Context) error {
			var err error
			matches, err = m.store.QueryByField(ctx, trips, domain.FieldFromItineraryItemID, itemID)
			return err
		})

		var deletes errgroup.Group
		for _, doc := range matches {
			deletes.Go(func() error {
				m.bestEffort(ctx, opDelete, identity, doc.ID, func(ctx context.Context) error {
					return m.store.Delete(ctx, trips, doc.ID)
				})
				return nil
			})
		}
		return deletes.Wait()
	})
	_ = g.Wait()
}
