package mirror_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/internal/docstore"
	"github.com/pkordes/tripsync/internal/domain"
)

func TestApplyBatch_AddedAndModifiedAreUpserted(t *testing.T) {
	store := docstore.NewMemoryStore()
	m, metrics := newMirror(store)

	m.ApplyBatch(context.Background(), "u1", []docstore.Change{
		{Kind: docstore.Added, ID: "a", Fields: map[string]any{"name": "Boracay"}},
		{Kind: docstore.Modified, ID: "b", Fields: map[string]any{"name": "Siargao", "budget": 900}},
	})

	got := readTrips(t, store, "u1")
	require.Len(t, got, 2)
	assert.Equal(t, "Boracay", got["a"][domain.FieldName])
	assert.Equal(t, "Siargao", got["b"][domain.FieldName])
	assert.Equal(t, 900.0, got["b"][domain.FieldBudget])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Batches))
}

func TestApplyBatch_ModifiedOverwritesMirroredFields(t *testing.T) {
	store := docstore.NewMemoryStore()
	m, _ := newMirror(store)
	ctx := context.Background()

	m.ApplyBatch(ctx, "u1", []docstore.Change{{Kind: docstore.Added, ID: "a", Fields: map[string]any{"name": "Boracay"}}})
	m.ApplyBatch(ctx, "u1", []docstore.Change{{Kind: docstore.Modified, ID: "a", Fields: map[string]any{"name": "Coron"}}})

	assert.Equal(t, "Coron", readTrips(t, store, "u1")["a"][domain.FieldName])
}

func TestApplyBatch_RemovedDeletesTripWithSameID(t *testing.T) {
	store := docstore.NewMemoryStore()
	m, _ := newMirror(store)
	ctx := context.Background()
	m.ApplyBatch(ctx, "u1", []docstore.Change{{Kind: docstore.Added, ID: "a", Fields: map[string]any{}}})

	m.ApplyBatch(ctx, "u1", []docstore.Change{{Kind: docstore.Removed, ID: "a"}})

	assert.Empty(t, readTrips(t, store, "u1"))
}

func TestApplyBatch_RemovedFindsTripUnderOtherID(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()
	// A trip written by something other than the mirror, keyed differently
	// but pointing back at its item.
	require.NoError(t, store.UpsertMerge(ctx, trips("u1"), "legacy-trip-7", map[string]any{
		domain.FieldName:                "Boracay",
		domain.FieldFromItineraryItemID: "item123",
	}))
	require.NoError(t, store.UpsertMerge(ctx, trips("u1"), "unrelated", map[string]any{
		domain.FieldFromItineraryItemID: "item999",
	}))
	m, _ := newMirror(store)

	m.ApplyBatch(ctx, "u1", []docstore.Change{{Kind: docstore.Removed, ID: "item123"}})

	got := readTrips(t, store, "u1")
	assert.NotContains(t, got, "legacy-trip-7")
	assert.Contains(t, got, "unrelated")
}

func TestApplyBatch_RemovingUnknownItemIsQuiet(t *testing.T) {
	store := docstore.NewMemoryStore()
	m, metrics := newMirror(store)

	m.ApplyBatch(context.Background(), "u1", []docstore.Change{{Kind: docstore.Removed, ID: "ghost"}})

	assert.Zero(t, testutil.ToFloat64(metrics.Failures.WithLabelValues("delete")))
	assert.Zero(t, testutil.ToFloat64(metrics.Failures.WithLabelValues("query")))
}

func TestApplyBatch_FallbackQueryFailureStillDeletesByID(t *testing.T) {
	store := newFaultyStore()
	m, metrics := newMirror(store)
	ctx := context.Background()
	m.ApplyBatch(ctx, "u1", []docstore.Change{{Kind: docstore.Added, ID: "a", Fields: map[string]any{}}})
	store.failQuery = true

	m.ApplyBatch(ctx, "u1", []docstore.Change{{Kind: docstore.Removed, ID: "a"}})

	assert.Empty(t, readTrips(t, store, "u1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Failures.WithLabelValues("query")))
}

func TestApplyBatch_FailedChangeDoesNotAffectSiblings(t *testing.T) {
	store := newFaultyStore()
	store.failUpsertIDs["bad"] = true
	m, _ := newMirror(store)
	ctx := context.Background()
	require.NoError(t, store.MemoryStore.UpsertMerge(ctx, trips("u1"), "gone", map[string]any{}))

	m.ApplyBatch(ctx, "u1", []docstore.Change{
		{Kind: docstore.Added, ID: "ok", Fields: map[string]any{}},
		{Kind: docstore.Added, ID: "bad", Fields: map[string]any{}},
		{Kind: docstore.Removed, ID: "gone"},
	})

	got := readTrips(t, store, "u1")
	assert.Contains(t, got, "ok")
	assert.NotContains(t, got, "bad")
	assert.NotContains(t, got, "gone")
}

func TestApplyBatch_WritesOnlyUnderOwnIdentity(t *testing.T) {
	store := docstore.NewMemoryStore()
	m, _ := newMirror(store)

	m.ApplyBatch(context.Background(), "u2", []docstore.Change{
		{Kind: docstore.Added, ID: "a", Fields: map[string]any{"ownerId": "u1"}},
	})

	assert.Empty(t, readTrips(t, store, "u1"))
	assert.Equal(t, "u2", readTrips(t, store, "u2")["a"][domain.FieldOwnerID],
		"the owner comes from the session identity, never from the item")
}
