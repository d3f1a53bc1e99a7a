package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/tripsync/internal/domain"
)

// MemoryStore is an in-process Store. It keeps the same semantics as
// PGStore (merge upserts, sentinel resolution, initial snapshot, coalesced
// batches) and is used by tests and STORE_DRIVER=memory.
// Only top-level fields are merged and only top-level sentinels are resolved.
type MemoryStore struct {
	mu   sync.Mutex
	now  func() time.Time
	docs map[string]map[string]map[string]any // collection → id → fields
	subs map[string]map[*memorySubscription]struct{}
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces the clock used to resolve server timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:  time.Now,
		docs: make(map[string]map[string]map[string]any),
		subs: make(map[string]map[*memorySubscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one document or domain.ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.docs[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("docstore.MemoryStore.Get: %w", domain.ErrNotFound)
	}
	return Document{ID: id, Fields: cloneFields(fields)}, nil
}

// Add stores fields under a new UUID.
func (s *MemoryStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.UpsertMerge(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// ReadAll returns the collection ordered by id.
func (s *MemoryStore) ReadAll(_ context.Context, collection string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(collection), nil
}

// UpsertMerge creates or merges a document and notifies subscribers.
func (s *MemoryStore) UpsertMerge(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, stamp, stampOnCreate := splitSentinels(fields)
	now := s.now().UTC()

	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		s.docs[collection] = coll
	}
	existing, exists := coll[id]
	if !exists {
		existing = make(map[string]any, len(fields))
		coll[id] = existing
	}

	for _, k := range stampOnCreate {
		if _, has := existing[k]; !has {
			existing[k] = now
		}
	}
	for k, v := range cloneFields(plain) {
		existing[k] = v
	}
	for _, k := range stamp {
		existing[k] = now
	}

	kind := Modified
	if !exists {
		kind = Added
	}
	s.publishLocked(collection, Change{Kind: kind, ID: id, Fields: existing})
	return nil
}

// Delete removes a document; a missing document is a no-op.
func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[collection][id]; !ok {
		return nil
	}
	delete(s.docs[collection], id)
	s.publishLocked(collection, Change{Kind: Removed, ID: id})
	return nil
}

// QueryByField scans the collection; values are compared with reflect.DeepEqual.
func (s *MemoryStore) QueryByField(_ context.Context, collection, field string, value any) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Document
	for _, doc := range s.snapshotLocked(collection) {
		if v, ok := doc.Fields[field]; ok && reflect.DeepEqual(v, value) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Subscribe registers onBatch for collection. The snapshot is taken under
// the same lock that registers the subscription, so no write falls between
// the initial batch and the first change batch.
func (s *MemoryStore) Subscribe(ctx context.Context, collection string, onBatch func([]Change)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("docstore.MemoryStore.Subscribe: %w", err)
	}

	sub := &memorySubscription{
		store:      s,
		collection: collection,
		onBatch:    onBatch,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}

	s.mu.Lock()
	for _, doc := range s.snapshotLocked(collection) {
		sub.enqueue(Change{Kind: Added, ID: doc.ID, Fields: doc.Fields})
	}
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[*memorySubscription]struct{})
	}
	s.subs[collection][sub] = struct{}{}
	s.mu.Unlock()

	sub.stopAfter = context.AfterFunc(ctx, sub.close)
	go sub.run()
	return sub, nil
}

func (s *MemoryStore) snapshotLocked(collection string) []Document {
	coll := s.docs[collection]
	out := make([]Document, 0, len(coll))
	for id, fields := range coll {
		out = append(out, Document{ID: id, Fields: cloneFields(fields)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) publishLocked(collection string, c Change) {
	for sub := range s.subs[collection] {
		sub.enqueue(Change{Kind: c.Kind, ID: c.ID, Fields: cloneFields(c.Fields)})
	}
}

func (s *MemoryStore) removeSubscription(sub *memorySubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[sub.collection], sub)
}

type memorySubscription struct {
	store      *MemoryStore
	collection string
	onBatch    func([]Change)
	stopAfter  func() bool

	mu      sync.Mutex
	pending []Change

	wake      chan struct{}
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

func (sub *memorySubscription) enqueue(c Change) {
	sub.mu.Lock()
	sub.pending = append(sub.pending, c)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *memorySubscription) run() {
	defer close(sub.exited)
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}

		sub.mu.Lock()
		batch := Coalesce(sub.pending)
		sub.pending = nil
		sub.mu.Unlock()

		select {
		case <-sub.done:
			return
		default:
		}
		if len(batch) > 0 {
			sub.onBatch(batch)
		}
	}
}

func (sub *memorySubscription) close() {
	sub.closeOnce.Do(func() {
		sub.store.removeSubscription(sub)
		close(sub.done)
	})
}

// Unsubscribe stops delivery and waits for an in-progress batch to return.
func (sub *memorySubscription) Unsubscribe() {
	if sub.stopAfter != nil {
		sub.stopAfter()
	}
	sub.close()
	<-sub.exited
}

// cloneFields deep-copies the map, slice and time values a document can hold.
func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
