// Package docstore is the document-store layer tripsync runs on.
// A store holds schemaless documents (map[string]any) grouped into
// collections addressed by slash-separated paths such as
// "users/u1/itineraryItems", and can stream changes to a collection.
//
// Two implementations live here: PGStore (Postgres JSONB + LISTEN/NOTIFY) for
// production and MemoryStore for tests and local runs.
package docstore

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNoListener is returned by Subscribe when the store was built without a
// connection it can LISTEN on.
var ErrNoListener = errors.New("store has no change listener")

// Document is one stored document.
type Document struct {
	ID     string
	Fields map[string]any
}

// ChangeKind classifies a Change.
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Modified
	Removed
)

// String returns the lowercase name used in logs and notifications.
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// ParseChangeKind is the inverse of ChangeKind.String.
func ParseChangeKind(s string) (ChangeKind, bool) {
	switch s {
	case "added":
		return Added, true
	case "modified":
		return Modified, true
	case "removed":
		return Removed, true
	}
	return 0, false
}

// Change is one entry of a change batch. Fields is nil for Removed.
type Change struct {
	Kind   ChangeKind
	ID     string
	Fields map[string]any
}

// sentinel values are placeholders the store replaces at write time.
type sentinel int

const (
	// ServerTimestamp is replaced by the store's clock on every write.
	ServerTimestamp sentinel = iota + 1

	// ServerTimestampOnCreate is replaced by the store's clock only when the
	// stored document does not have the field yet; otherwise the stored value
	// is kept.
	ServerTimestampOnCreate
)

// Subscription is a live change stream. Unsubscribe stops delivery and
// returns once the delivering goroutine has exited, so no batch callback runs
// after it returns. It is idempotent. Calling it from inside the batch
// callback deadlocks.
type Subscription interface {
	Unsubscribe()
}

// Store is the document-store contract the mirror is written against.
type Store interface {
	// Get returns one document. Returns domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Add creates a document under a freshly generated id and returns the id.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)

	// ReadAll returns every document of a collection ordered by id.
	ReadAll(ctx context.Context, collection string) ([]Document, error)

	// UpsertMerge creates the document or merges fields into it at the top
	// level, leaving fields it does not mention untouched.
	UpsertMerge(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// QueryByField returns the documents of a collection whose field equals value.
	QueryByField(ctx context.Context, collection, field string, value any) ([]Document, error)

	// Subscribe streams batches of changes to a collection. The first batch is
	// the initial snapshot (every existing document as Added; skipped when the
	// collection is empty). Batches are delivered serially from one goroutine.
	// Delivery also stops when ctx is cancelled.
	Subscribe(ctx context.Context, collection string, onBatch func([]Change)) (Subscription, error)
}

// UserCollection returns the path of a per-identity collection,
// e.g. UserCollection("u1", "trips") == "users/u1/trips".
func UserCollection(identity, name string) string {
	return strings.Join([]string{"users", identity, name}, "/")
}

// splitSentinels separates plain fields from the names of fields holding
// sentinel values.
func splitSentinels(fields map[string]any) (plain map[string]any, stamp, stampOnCreate []string) {
	plain = make(map[string]any, len(fields))
	for k, v := range fields {
		s, ok := v.(sentinel)
		switch {
		case ok && s == ServerTimestamp:
			stamp = append(stamp, k)
		case ok && s == ServerTimestampOnCreate:
			stampOnCreate = append(stampOnCreate, k)
		default:
			plain[k] = v
		}
	}
	sort.Strings(stamp)
	sort.Strings(stampOnCreate)
	return plain, stamp, stampOnCreate
}
