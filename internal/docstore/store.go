// Package docstore provides a collection-of-documents store on SQLite with
// optimistic multi-document transactions and a commit change feed.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrTxConflict is returned when a document read by a transaction changed before commit.
	ErrTxConflict = errors.New("docstore: transaction conflict")
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	data       TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE TABLE IF NOT EXISTS commit_seq (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL
);

INSERT OR IGNORE INTO commit_seq (id, value) VALUES (1, 0);
`

// Document is a stored JSON document.
type Document struct {
	Collection string
	ID         string
	Data       json.RawMessage
	// Version is the commit sequence number of the last write; 0 means missing.
	Version    int64
	CreateTime time.Time
	UpdateTime time.Time
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("docstore: decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Change describes one committed write batch.
type Change struct {
	Version     int64
	Collections []string
}

// Getter reads single documents. Both *Store and *Tx implement it.
type Getter interface {
	Get(ctx context.Context, collection, id string) (Document, error)
}

// Store is the SQLite-backed document store.
type Store struct {
	conn     *sql.DB
	now      func() time.Time
	attempts uint64

	mu        sync.RWMutex
	listeners []func(Change)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used for server timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithMaxAttempts bounds how many times a conflicting transaction body is executed.
func WithMaxAttempts(n uint64) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// Open opens (or creates) the SQLite database at dsn and applies the schema.
func Open(dsn string, opts ...StoreOption) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("docstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: apply schema: %w", err)
	}

	s := &Store{conn: conn, now: time.Now, attempts: 8}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// OnCommit registers fn to be called after every successful commit.
// fn runs on the committing goroutine and must not write to the store.
func (s *Store) OnCommit(fn func(Change)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	listeners := append([]func(Change){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

// Get returns the committed document, or ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	return getDoc(ctx, s.conn, collection, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDoc(ctx context.Context, q queryer, collection, id string) (Document, error) {
	doc := Document{Collection: collection, ID: id}
	var data string
	var created, updated int64
	err := q.QueryRowContext(ctx,
		`SELECT data, version, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&data, &doc.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return doc, ErrNotFound
	}
	if err != nil {
		return doc, fmt.Errorf("docstore: get %s/%s: %w", collection, id, err)
	}
	doc.Data = json.RawMessage(data)
	doc.CreateTime = time.UnixMilli(created).UTC()
	doc.UpdateTime = time.UnixMilli(updated).UTC()
	return doc, nil
}

// Set writes data to collection/id outside of a transaction.
// With merge, top-level fields of data overlay the existing document.
func (s *Store) Set(ctx context.Context, collection, id string, data any, merge bool) error {
	tx := s.newTx()
	if err := tx.Set(collection, id, data, merge); err != nil {
		return err
	}
	return s.commit(ctx, tx)
}

// Update merges data into an existing document; it fails with ErrNotFound if missing.
func (s *Store) Update(ctx context.Context, collection, id string, data any) error {
	tx := s.newTx()
	if err := tx.Update(collection, id, data); err != nil {
		return err
	}
	return s.commit(ctx, tx)
}

// Delete removes collection/id. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	tx := s.newTx()
	tx.Delete(collection, id)
	return s.commit(ctx, tx)
}

func (s *Store) commit(ctx context.Context, tx *Tx) error {
	if len(tx.writes) == 0 {
		return nil
	}

	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck // best-effort on failure path

	for key, version := range tx.reads {
		var current int64
		err := sqlTx.QueryRowContext(ctx,
			`SELECT version FROM documents WHERE collection = ? AND id = ?`, key.collection, key.id,
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("docstore: verify read: %w", err)
		}
		if current != version {
			return ErrTxConflict
		}
	}

	var seq int64
	if err := sqlTx.QueryRowContext(ctx,
		`UPDATE commit_seq SET value = value + 1 WHERE id = 1 RETURNING value`,
	).Scan(&seq); err != nil {
		return fmt.Errorf("docstore: next seq: %w", err)
	}

	now := s.now().UnixMilli()
	touched := make(map[string]struct{})
	for _, w := range tx.writes {
		if err := applyWrite(ctx, sqlTx, w, seq, now); err != nil {
			return err
		}
		touched[w.key.collection] = struct{}{}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("docstore: commit: %w", err)
	}

	change := Change{Version: seq}
	for c := range touched {
		change.Collections = append(change.Collections, c)
	}
	s.notify(change)
	return nil
}

func applyWrite(ctx context.Context, sqlTx *sql.Tx, w write, seq, now int64) error {
	if w.kind == writeDelete {
		if _, err := sqlTx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND id = ?`, w.key.collection, w.key.id,
		); err != nil {
			return fmt.Errorf("docstore: delete %s/%s: %w", w.key.collection, w.key.id, err)
		}
		return nil
	}

	existing, err := getDoc(ctx, sqlTx, w.key.collection, w.key.id)
	missing := errors.Is(err, ErrNotFound)
	if err != nil && !missing {
		return err
	}
	if w.kind == writeUpdate && missing {
		return fmt.Errorf("update %s/%s: %w", w.key.collection, w.key.id, ErrNotFound)
	}

	data := w.data
	if w.kind != writeReplace && !missing {
		data, err = mergeFields(existing.Data, w.data)
		if err != nil {
			return err
		}
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			data       = excluded.data,
			version    = excluded.version,
			updated_at = excluded.updated_at
	`, w.key.collection, w.key.id, string(data), seq, now, now)
	if err != nil {
		return fmt.Errorf("docstore: write %s/%s: %w", w.key.collection, w.key.id, err)
	}
	return nil
}

// mergeFields overlays the top-level fields of patch onto base. Explicit nulls are kept as nulls.
func mergeFields(base, patch json.RawMessage) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, fmt.Errorf("docstore: merge base: %w", err)
	}
	overlay := make(map[string]json.RawMessage)
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, fmt.Errorf("docstore: merge patch: %w", err)
	}
	for k, v := range overlay {
		fields[k] = v
	}
	return json.Marshal(fields)
}
