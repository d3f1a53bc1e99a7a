package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pkordes/tripsync/internal/domain"
)

// notifyChannel is the channel the documents trigger publishes on
// (see migrations/00002_documents_notify.sql).
const notifyChannel = "documents_changed"

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting it instead of *pgxpool.Pool lets integration tests run the CRUD
// half of the store inside a transaction that is rolled back afterwards.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the Postgres implementation of Store. Every document is a row
// of the documents table keyed by (collection, id) with its fields in a JSONB
// column. Subscriptions LISTEN on notifyChannel from a dedicated pooled
// connection.
type PGStore struct {
	db          db
	listenPool  *pgxpool.Pool
	batchWindow time.Duration
	logger      *slog.Logger
}

// PGOption configures a PGStore.
type PGOption func(*PGStore)

// WithListenPool enables Subscribe. Each subscription holds one connection
// from pool for its whole lifetime.
func WithListenPool(pool *pgxpool.Pool) PGOption {
	return func(s *PGStore) { s.listenPool = pool }
}

// WithBatchWindow sets how long a subscription keeps collecting notifications
// after the first one before delivering them as one batch.
func WithBatchWindow(d time.Duration) PGOption {
	return func(s *PGStore) { s.batchWindow = d }
}

// WithLogger sets the logger used for subscription failures.
func WithLogger(l *slog.Logger) PGOption {
	return func(s *PGStore) { s.logger = l }
}

// NewPGStore constructs a PGStore backed by the provided db connection.
// In production pass *pgxpool.Pool together with WithListenPool; in tests a
// pgx.Tx is enough for everything but Subscribe.
func NewPGStore(db db, opts ...PGOption) *PGStore {
	s := &PGStore{
		db:          db,
		batchWindow: 50 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get retrieves one document by collection and id.
func (s *PGStore) Get(ctx context.Context, collection, id string) (Document, error) {
	const q = `
		SELECT id, data
		FROM documents
		WHERE collection = @collection AND id = @id`

	row := s.db.QueryRow(ctx, q, pgx.NamedArgs{"collection": collection, "id": id})
	doc, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("docstore.PGStore.Get: %w", err)
	}
	return doc, nil
}

// Add inserts a document under a new UUID.
func (s *PGStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.UpsertMerge(ctx, collection, id, fields); err != nil {
		return "", fmt.Errorf("docstore.PGStore.Add: %w", err)
	}
	return id, nil
}

// ReadAll returns every document of a collection ordered by id.
func (s *PGStore) ReadAll(ctx context.Context, collection string) ([]Document, error) {
	const q = `
		SELECT id, data
		FROM documents
		WHERE collection = @collection
		ORDER BY id`

	docs, err := s.queryDocuments(ctx, q, pgx.NamedArgs{"collection": collection})
	if err != nil {
		return nil, fmt.Errorf("docstore.PGStore.ReadAll: %w", err)
	}
	return docs, nil
}

// stampNow and stampOnCreate build a JSONB object mapping each named field to
// the current transaction time.
const (
	stampNow      = `(SELECT coalesce(jsonb_object_agg(f, to_jsonb(now())), '{}'::jsonb) FROM unnest(@stamp::text[]) AS f)`
	stampOnCreate = `(SELECT coalesce(jsonb_object_agg(f, to_jsonb(now())), '{}'::jsonb) FROM unnest(@stamp_on_create::text[]) AS f)`
)

// UpsertMerge inserts the document or merges fields into the stored JSONB
// with the || operator. ServerTimestampOnCreate fields sit left of the stored
// data so an existing value wins; ServerTimestamp fields sit rightmost.
func (s *PGStore) UpsertMerge(ctx context.Context, collection, id string, fields map[string]any) error {
	const q = `
		INSERT INTO documents (collection, id, data)
		VALUES (@collection, @id, ` + stampOnCreate + ` || @patch::jsonb || ` + stampNow + `)
		ON CONFLICT (collection, id) DO UPDATE
		SET data       = ` + stampOnCreate + ` || documents.data || @patch::jsonb || ` + stampNow + `,
		    updated_at = now()`

	plain, stamp, onCreate := splitSentinels(fields)
	patch, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("docstore.PGStore.UpsertMerge: encode: %w", err)
	}

	args := pgx.NamedArgs{
		"collection":      collection,
		"id":              id,
		"patch":           string(patch),
		"stamp":           stamp,    // nil becomes NULL, which unnest treats as empty
		"stamp_on_create": onCreate, // idem
	}
	if _, err := s.db.Exec(ctx, q, args); err != nil {
		return fmt.Errorf("docstore.PGStore.UpsertMerge: %w", err)
	}
	return nil
}

// Delete removes a document. Zero affected rows is not an error.
func (s *PGStore) Delete(ctx context.Context, collection, id string) error {
	const q = `DELETE FROM documents WHERE collection = @collection AND id = @id`

	if _, err := s.db.Exec(ctx, q, pgx.NamedArgs{"collection": collection, "id": id}); err != nil {
		return fmt.Errorf("docstore.PGStore.Delete: %w", err)
	}
	return nil
}

// QueryByField uses JSONB containment so the GIN index on data serves it.
// For scalar values containment is equality.
func (s *PGStore) QueryByField(ctx context.Context, collection, field string, value any) ([]Document, error) {
	const q = `
		SELECT id, data
		FROM documents
		WHERE collection = @collection AND data @> @probe::jsonb
		ORDER BY id`

	probe, err := json.Marshal(map[string]any{field: value})
	if err != nil {
		return nil, fmt.Errorf("docstore.PGStore.QueryByField: encode: %w", err)
	}

	docs, err := s.queryDocuments(ctx, q, pgx.NamedArgs{"collection": collection, "probe": string(probe)})
	if err != nil {
		return nil, fmt.Errorf("docstore.PGStore.QueryByField: %w", err)
	}
	return docs, nil
}

// Subscribe LISTENs before reading the initial snapshot, so a write racing
// the snapshot is seen twice (snapshot and notification) rather than never.
func (s *PGStore) Subscribe(ctx context.Context, collection string, onBatch func([]Change)) (Subscription, error) {
	if s.listenPool == nil {
		return nil, fmt.Errorf("docstore.PGStore.Subscribe: %w", ErrNoListener)
	}

	conn, err := s.listenPool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("docstore.PGStore.Subscribe: acquire: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("docstore.PGStore.Subscribe: listen: %w", err)
	}

	initial, err := s.ReadAll(ctx, collection)
	if err != nil {
		s.unlisten(conn)
		return nil, fmt.Errorf("docstore.PGStore.Subscribe: snapshot: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &pgSubscription{cancel: cancel, exited: make(chan struct{})}
	go s.listen(subCtx, conn, collection, initial, onBatch, sub.exited)
	return sub, nil
}

type pgSubscription struct {
	cancel context.CancelFunc
	exited chan struct{}
}

// Unsubscribe cancels the listener and waits for it to exit.
func (sub *pgSubscription) Unsubscribe() {
	sub.cancel()
	<-sub.exited
}

func (s *PGStore) listen(ctx context.Context, conn *pgxpool.Conn, collection string, initial []Document, onBatch func([]Change), exited chan<- struct{}) {
	defer close(exited)
	defer s.unlisten(conn)

	if len(initial) > 0 {
		batch := make([]Change, len(initial))
		for i, doc := range initial {
			batch[i] = Change{Kind: Added, ID: doc.ID, Fields: doc.Fields}
		}
		onBatch(batch)
	}

	for {
		notices, err := s.waitForNotices(ctx, conn, collection)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("change subscription ended", "collection", collection, "error", err)
			}
			return
		}

		batch, err := s.resolve(ctx, collection, notices)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("change batch dropped", "collection", collection, "changes", len(notices), "error", err)
			continue
		}
		if len(batch) > 0 {
			onBatch(batch)
		}
	}
}

// waitForNotices blocks for the first notification concerning collection,
// then keeps collecting for batchWindow.
func (s *PGStore) waitForNotices(ctx context.Context, conn *pgxpool.Conn, collection string) ([]Change, error) {
	var notices []Change
	for len(notices) == 0 {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return nil, err
		}
		if c, ok := parseNotice(n.Payload, collection); ok {
			notices = append(notices, c)
		}
	}

	if s.batchWindow <= 0 {
		return notices, nil
	}

	windowCtx, cancel := context.WithTimeout(ctx, s.batchWindow)
	defer cancel()
	for {
		n, err := conn.Conn().WaitForNotification(windowCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if windowCtx.Err() != nil {
				return notices, nil
			}
			return nil, err
		}
		if c, ok := parseNotice(n.Payload, collection); ok {
			notices = append(notices, c)
		}
	}
}

// notice is the JSON payload written by notify_document_change().
type notice struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Op         string `json:"op"`
}

func parseNotice(payload, collection string) (Change, bool) {
	var n notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil || n.Collection != collection {
		return Change{}, false
	}
	kind, ok := ParseChangeKind(n.Op)
	if !ok {
		return Change{}, false
	}
	return Change{Kind: kind, ID: n.ID}, true
}

// resolve coalesces notices and loads the current fields of every document
// that was added or modified. A document that no longer exists is skipped:
// its own removal notice is on the way.
func (s *PGStore) resolve(ctx context.Context, collection string, notices []Change) ([]Change, error) {
	const q = `
		SELECT id, data
		FROM documents
		WHERE collection = @collection AND id = ANY(@ids)`

	notices = Coalesce(notices)

	var ids []string
	for _, c := range notices {
		if c.Kind != Removed {
			ids = append(ids, c.ID)
		}
	}

	current := map[string]map[string]any{}
	if len(ids) > 0 {
		docs, err := s.queryDocuments(ctx, q, pgx.NamedArgs{"collection": collection, "ids": ids})
		if err != nil {
			return nil, fmt.Errorf("docstore.PGStore.resolve: %w", err)
		}
		for _, doc := range docs {
			current[doc.ID] = doc.Fields
		}
	}

	out := make([]Change, 0, len(notices))
	for _, c := range notices {
		if c.Kind != Removed {
			fields, ok := current[c.ID]
			if !ok {
				continue
			}
			c.Fields = fields
		}
		out = append(out, c)
	}
	return out, nil
}

// unlisten returns a listening connection to the pool. If UNLISTEN fails the
// connection is closed so the pool destroys it instead of reusing it.
func (s *PGStore) unlisten(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

func (s *PGStore) queryDocuments(ctx context.Context, q string, args pgx.NamedArgs) ([]Document, error) {
	rows, err := s.db.Query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return docs, nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanDocument maps an (id, data) row into a Document. The JSONB column is
// decoded by pgx straight into the map.
func scanDocument(s scanner) (Document, error) {
	var doc Document
	if err := s.Scan(&doc.ID, &doc.Fields); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, domain.ErrNotFound
		}
		return Document{}, err
	}
	if doc.Fields == nil {
		doc.Fields = map[string]any{}
	}
	return doc, nil
}
