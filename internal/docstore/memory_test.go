package docstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/internal/docstore"
	"github.com/pkordes/tripsync/internal/domain"
)

const coll = "users/u1/itineraryItems"

// fakeClock hands out increasing instants one second apart.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// batchRecorder collects delivered batches for assertions from the test goroutine.
type batchRecorder struct {
	mu      sync.Mutex
	batches [][]docstore.Change
}

func (r *batchRecorder) record(b []docstore.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
}

func (r *batchRecorder) changes() []docstore.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []docstore.Change
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func (r *batchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := docstore.NewMemoryStore()

	_, err := s.Get(context.Background(), coll, "nope")

	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_AddThenGet(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()

	id, err := s.Add(ctx, coll, map[string]any{"name": "Boracay"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := s.Get(ctx, coll, id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, "Boracay", doc.Fields["name"])
}

func TestMemoryStore_UpsertMergeKeepsUnmentionedFields(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertMerge(ctx, coll, "a", map[string]any{"name": "Boracay", "note": "keep me"}))
	require.NoError(t, s.UpsertMerge(ctx, coll, "a", map[string]any{"name": "Siargao"}))

	doc, err := s.Get(ctx, coll, "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Siargao", "note": "keep me"}, doc.Fields)
}

func TestMemoryStore_ServerTimestamps(t *testing.T) {
	clock := newFakeClock()
	s := docstore.NewMemoryStore(docstore.WithClock(clock.Now))
	ctx := context.Background()
	fields := map[string]any{
		"touched": docstore.ServerTimestamp,
		"created": docstore.ServerTimestampOnCreate,
	}

	require.NoError(t, s.UpsertMerge(ctx, coll, "a", fields))
	first, err := s.Get(ctx, coll, "a")
	require.NoError(t, err)

	require.NoError(t, s.UpsertMerge(ctx, coll, "a", fields))
	second, err := s.Get(ctx, coll, "a")
	require.NoError(t, err)

	assert.IsType(t, time.Time{}, first.Fields["touched"])
	assert.Equal(t, first.Fields["created"], second.Fields["created"], "created is stamped once")
	assert.True(t, second.Fields["touched"].(time.Time).After(first.Fields["touched"].(time.Time)),
		"touched is stamped on every write")
}

func TestMemoryStore_ReturnedFieldsAreCopies(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertMerge(ctx, coll, "a", map[string]any{"activities": []string{"Dive"}}))

	doc, err := s.Get(ctx, coll, "a")
	require.NoError(t, err)
	doc.Fields["activities"].([]string)[0] = "changed"
	doc.Fields["extra"] = true

	again, err := s.Get(ctx, coll, "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"activities": []string{"Dive"}}, again.Fields)
}

func TestMemoryStore_DeleteMissingIsNoop(t *testing.T) {
	s := docstore.NewMemoryStore()

	require.NoError(t, s.Delete(context.Background(), coll, "nope"))
}

func TestMemoryStore_QueryByField(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertMerge(ctx, coll, "b", map[string]any{"src": "x"}))
	require.NoError(t, s.UpsertMerge(ctx, coll, "a", map[string]any{"src": "x"}))
	require.NoError(t, s.UpsertMerge(ctx, coll, "c", map[string]any{"src": "y"}))

	docs, err := s.QueryByField(ctx, coll, "src", "x")

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
}

func TestMemoryStore_CollectionsAreIsolated(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertMerge(ctx, "users/u1/trips", "a", map[string]any{"n": 1}))

	docs, err := s.ReadAll(ctx, "users/u2/trips")

	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryStore_SubscribeDeliversSnapshotThenChanges(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertMerge(ctx, coll, "a", map[string]any{"n": 1}))

	rec := &batchRecorder{}
	sub, err := s.Subscribe(ctx, coll, rec.record)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return rec.count() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []docstore.Change{{Kind: docstore.Added, ID: "a", Fields: map[string]any{"n": 1}}}, rec.changes())

	require.NoError(t, s.UpsertMerge(ctx, coll, "a", map[string]any{"n": 2}))
	require.NoError(t, s.Delete(ctx, "users/u1/other", "x"))
	require.NoError(t, s.Delete(ctx, coll, "a"))

	require.Eventually(t, func() bool {
		ch := rec.changes()
		return len(ch) > 0 && ch[len(ch)-1].Kind == docstore.Removed
	}, time.Second, 5*time.Millisecond)

	for _, c := range rec.changes() {
		assert.Equal(t, "a", c.ID, "changes of other collections must not be delivered")
	}
}

func TestMemoryStore_SubscribeEmptyCollectionSkipsSnapshot(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()

	rec := &batchRecorder{}
	sub, err := s.Subscribe(ctx, coll, rec.record)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, s.UpsertMerge(ctx, coll, "a", map[string]any{"n": 1}))

	require.Eventually(t, func() bool { return rec.count() >= 1 }, time.Second, 5*time.Millisecond)
	first := rec.changes()[0]
	assert.Equal(t, docstore.Added, first.Kind)
	assert.Equal(t, "a", first.ID)
}

func TestMemoryStore_UnsubscribeStopsDelivery(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()

	rec := &batchRecorder{}
	sub, err := s.Subscribe(ctx, coll, rec.record)
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	require.NoError(t, s.UpsertMerge(ctx, coll, "a", map[string]any{"n": 1}))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestMemoryStore_CancelledContextStopsDelivery(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	rec := &batchRecorder{}
	sub, err := s.Subscribe(ctx, coll, rec.record)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	cancel()
	// AfterFunc runs asynchronously; give it a moment before writing.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, s.UpsertMerge(context.Background(), coll, "a", map[string]any{"n": 1}))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestMemoryStore_SubscribeWithCancelledContextFails(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Subscribe(ctx, coll, func([]docstore.Change) {})

	require.ErrorIs(t, err, context.Canceled)
}
