package mirror_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/internal/docstore"
	"github.com/pkordes/tripsync/internal/domain"
	"github.com/pkordes/tripsync/internal/mirror"
)

var errInjected = errors.New("injected failure")

// faultyStore wraps a MemoryStore and fails the operations a test selects.
type faultyStore struct {
	*docstore.MemoryStore

	mu            sync.Mutex
	failUpsertIDs map[string]bool
	failReadAll   bool
	failSubscribe bool
	failQuery     bool
	upserts       []string // collection/id of every attempted upsert
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: docstore.NewMemoryStore(), failUpsertIDs: map[string]bool{}}
}

func (s *faultyStore) UpsertMerge(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	s.upserts = append(s.upserts, collection+"/"+id)
	fail := s.failUpsertIDs[id]
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.MemoryStore.UpsertMerge(ctx, collection, id, fields)
}

func (s *faultyStore) ReadAll(ctx context.Context, collection string) ([]docstore.Document, error) {
	if s.failReadAll {
		return nil, errInjected
	}
	return s.MemoryStore.ReadAll(ctx, collection)
}

func (s *faultyStore) QueryByField(ctx context.Context, collection, field string, value any) ([]docstore.Document, error) {
	if s.failQuery {
		return nil, errInjected
	}
	return s.MemoryStore.QueryByField(ctx, collection, field, value)
}

func (s *faultyStore) Subscribe(ctx context.Context, collection string, onBatch func([]docstore.Change)) (docstore.Subscription, error) {
	if s.failSubscribe {
		return nil, errInjected
	}
	return s.MemoryStore.Subscribe(ctx, collection, onBatch)
}

func (s *faultyStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upserts)
}

var _ docstore.Store = (*faultyStore)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newMirror returns a Mirror over store with metrics on a fresh registry.
func newMirror(store docstore.Store) (*mirror.Mirror, *mirror.Metrics) {
	metrics := mirror.NewMetrics(prometheus.NewRegistry())
	m := mirror.New(store, mirror.Options{
		Logger:    discardLogger(),
		Metrics:   metrics,
		OpTimeout: time.Second,
	})
	return m, metrics
}

func items(identity string) string {
	return docstore.UserCollection(identity, domain.ItineraryItemsCollection)
}

func trips(identity string) string {
	return docstore.UserCollection(identity, domain.TripsCollection)
}

func putItem(t *testing.T, store docstore.Store, identity, id string, fields map[string]any) {
	t.Helper()
	require.NoError(t, store.UpsertMerge(context.Background(), items(identity), id, fields))
}

func readTrips(t *testing.T, store docstore.Store, identity string) map[string]map[string]any {
	t.Helper()
	docs, err := store.ReadAll(context.Background(), trips(identity))
	require.NoError(t, err)
	out := make(map[string]map[string]any, len(docs))
	for _, d := range docs {
		out[d.ID] = d.Fields
	}
	return out
}

// withoutStamp drops lastMirroredAt, the only field that differs between two
// writes of the same item.
func withoutStamp(all map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(all))
	for id, fields := range all {
		c := make(map[string]any, len(fields))
		for k, v := range fields {
			if k != domain.FieldLastMirroredAt {
				c[k] = v
			}
		}
		out[id] = c
	}
	return out
}
