package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type docKey struct {
	collection string
	id         string
}

type writeKind int

const (
	writeReplace writeKind = iota
	writeMerge
	writeUpdate
	writeDelete
)

type write struct {
	key  docKey
	kind writeKind
	data json.RawMessage
}

// Tx is an optimistic transaction. Reads observe committed state and record the
// version seen; writes are buffered and applied at commit only if no read document
// changed in the meantime.
//
// All reads must happen before the first write.
type Tx struct {
	store  *Store
	reads  map[docKey]int64
	writes []write
}

func (s *Store) newTx() *Tx {
	return &Tx{store: s, reads: make(map[docKey]int64)}
}

// Get reads a document and records its version for the commit check.
// A missing document is recorded too, so a concurrent create aborts the commit.
func (tx *Tx) Get(ctx context.Context, collection, id string) (Document, error) {
	if len(tx.writes) > 0 {
		return Document{}, fmt.Errorf("docstore: read of %s/%s after write", collection, id)
	}
	doc, err := getDoc(ctx, tx.store.conn, collection, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return doc, err
	}
	key := docKey{collection: collection, id: id}
	if prev, seen := tx.reads[key]; seen && prev != doc.Version {
		return doc, ErrTxConflict
	}
	tx.reads[key] = doc.Version
	return doc, err
}

// Now returns the store clock's current time.
func (tx *Tx) Now() time.Time {
	return tx.store.now()
}

// Set buffers a write of data to collection/id. With merge, top-level fields overlay
// the existing document; otherwise the document is replaced.
func (tx *Tx) Set(collection, id string, data any, merge bool) error {
	kind := writeReplace
	if merge {
		kind = writeMerge
	}
	return tx.add(collection, id, kind, data)
}

// Update buffers a merge into an existing document; the commit fails with ErrNotFound if missing.
func (tx *Tx) Update(collection, id string, data any) error {
	return tx.add(collection, id, writeUpdate, data)
}

// Delete buffers a delete of collection/id.
func (tx *Tx) Delete(collection, id string) {
	tx.writes = append(tx.writes, write{key: docKey{collection, id}, kind: writeDelete})
}

func (tx *Tx) add(collection, id string, kind writeKind, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, id, err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return fmt.Errorf("docstore: %s/%s: document must be a JSON object", collection, id)
	}
	tx.writes = append(tx.writes, write{key: docKey{collection, id}, kind: kind, data: raw})
	return nil
}

// RunTransaction executes fn inside an optimistic transaction and commits its writes.
// On a read conflict the body is re-executed with exponential backoff, so fn must
// have no side effects other than through tx. An error returned by fn aborts the
// transaction with no writes and is returned unchanged.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	op := func() error {
		tx := s.newTx()
		if err := fn(tx); err != nil {
			if errors.Is(err, ErrTxConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		err := s.commit(ctx, tx)
		if err == nil || errors.Is(err, ErrTxConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.attempts-1), ctx))
}
