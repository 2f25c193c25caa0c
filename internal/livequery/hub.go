// Package livequery delivers re-evaluated docstore query results to subscribers
// whenever a commit touches the queried collection.
package livequery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/starford/duet/internal/checksum"
	"github.com/starford/duet/internal/docstore"
)

// Snapshot is one ordered query result.
type Snapshot struct {
	Docs []docstore.Document
	Err  error
}

// Source is the part of the store the hub depends on.
type Source interface {
	Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error)
	OnCommit(fn func(docstore.Change))
}

// Feed is one subscriber's view of a live query. C always holds the latest
// snapshot not yet received; intermediate snapshots may be skipped.
type Feed struct {
	C <-chan Snapshot

	c    chan Snapshot
	key  string
	hub  *Hub
	once sync.Once
}

// Close stops observing the query and closes C.
func (f *Feed) Close() {
	f.once.Do(func() { f.hub.unsubscribe(f) })
}

type subscribeReq struct {
	key   string
	query docstore.Query
	feed  *Feed
}

type entry struct {
	query       docstore.Query
	feeds       map[*Feed]struct{}
	last        Snapshot
	fingerprint string
}

// Hub multicasts live queries: all subscribers using the same key share one
// evaluation per change.
//
// A single event loop owns all subscription state; public methods talk to it over
// channels.
type Hub struct {
	src    Source
	logger *slog.Logger

	subscribeCh   chan subscribeReq
	unsubscribeCh chan *Feed
	changeCh      chan docstore.Change
	countReqCh    chan chan int

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	closed  atomic.Bool
}

// NewHub creates a hub fed by src's commit notifications.
func NewHub(src Source, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		src:           src,
		logger:        logger,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan *Feed),
		changeCh:      make(chan docstore.Change, 256),
		countReqCh:    make(chan chan int),
		ctx:           ctx,
		cancel:        cancel,
		stopped:       make(chan struct{}),
	}
	src.OnCommit(h.notify)
	go h.run()
	return h
}

func (h *Hub) notify(c docstore.Change) {
	if h.closed.Load() {
		return
	}
	select {
	case h.changeCh <- c:
	case <-h.stopped:
	}
}

func (h *Hub) run() {
	defer close(h.stopped)

	entries := make(map[string]*entry)

	evaluate := func(e *entry) (Snapshot, string) {
		docs, err := h.src.Query(h.ctx, e.query)
		if err != nil {
			return Snapshot{Err: err}, "error:" + err.Error()
		}
		return Snapshot{Docs: docs}, fingerprint(docs)
	}

	for {
		select {
		case <-h.ctx.Done():
			for _, e := range entries {
				for f := range e.feeds {
					close(f.c)
				}
			}
			return

		case req := <-h.subscribeCh:
			e, ok := entries[req.key]
			if !ok {
				e = &entry{query: req.query, feeds: make(map[*Feed]struct{})}
				e.last, e.fingerprint = evaluate(e)
				entries[req.key] = e
			}
			e.feeds[req.feed] = struct{}{}
			deliver(req.feed.c, e.last)

		case f := <-h.unsubscribeCh:
			e, ok := entries[f.key]
			if !ok {
				continue
			}
			if _, ok := e.feeds[f]; ok {
				delete(e.feeds, f)
				close(f.c)
			}
			if len(e.feeds) == 0 {
				delete(entries, f.key)
			}

		case c := <-h.changeCh:
			touched := make(map[string]struct{}, len(c.Collections))
			for _, col := range c.Collections {
				touched[col] = struct{}{}
			}
			for key, e := range entries {
				if _, ok := touched[e.query.Collection]; !ok {
					continue
				}
				snap, fp := evaluate(e)
				if fp == e.fingerprint {
					continue
				}
				if snap.Err != nil {
					h.logger.Warn("livequery: evaluate failed",
						slog.String("key", key), slog.String("error", snap.Err.Error()))
				}
				e.last, e.fingerprint = snap, fp
				for f := range e.feeds {
					deliver(f.c, snap)
				}
			}

		case resp := <-h.countReqCh:
			n := 0
			for _, e := range entries {
				n += len(e.feeds)
			}
			resp <- n
		}
	}
}

// deliver replaces any unread snapshot in ch with snap. The hub loop is the
// only sender, so the second send cannot block.
func deliver(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- snap
}

func fingerprint(docs []docstore.Document) string {
	var b strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&b, "%s@%d;", d.ID, d.Version)
	}
	return checksum.Sum([]byte(b.String()))
}

// Subscribe starts observing q. Subscribers passing the same key share one
// evaluation; key defaults to q.Key(). The first snapshot is delivered immediately.
func (h *Hub) Subscribe(key string, q docstore.Query) *Feed {
	if key == "" {
		key = q.Key()
	}
	ch := make(chan Snapshot, 1)
	f := &Feed{C: ch, c: ch, key: key, hub: h}
	if h.closed.Load() {
		close(ch)
		return f
	}
	select {
	case h.subscribeCh <- subscribeReq{key: key, query: q, feed: f}:
	case <-h.stopped:
		close(ch)
	}
	return f
}

func (h *Hub) unsubscribe(f *Feed) {
	if h.closed.Load() {
		return
	}
	select {
	case h.unsubscribeCh <- f:
	case <-h.stopped:
	}
}

// FeedCount returns the number of open feeds.
func (h *Hub) FeedCount() int {
	if h.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case h.countReqCh <- resp:
	case <-h.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-h.stopped:
		return 0
	}
}

// Close stops the hub and closes every open feed.
func (h *Hub) Close() {
	if h.closed.CompareAndSwap(false, true) {
		h.cancel()
	}
	<-h.stopped
}
