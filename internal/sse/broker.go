// Package sse implements a Server-Sent Events broker for per-principal updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/duet/internal/identity"
)

// Event types.
const (
	PairUpdated     = "pair.updated"
	ProfileUpdated  = "profile.updated"
	ScheduleUpdated = "schedule.updated"
)

// Event represents an SSE event sent to one topic.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type opKind int

const (
	opSubscribe opKind = iota
	opUnsubscribe
	opPublish
	opCount
)

// op is one request to the event loop. A single queue keeps requests in call
// order, so a subscriber always sees every publish that returned before it.
type op struct {
	kind  opKind
	topic string
	ch    chan []byte
	event Event
	resp  chan int
}

// Broker manages SSE client connections. Each client subscribes to a topic
// (a principal ID) and receives only that topic's events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients and retained events). Public methods communicate with this loop
// through one ordered queue, so no mutexes are required.
//
// The last event of each type is retained per topic and replayed to a client
// when it subscribes, so a fresh connection starts from the current state.
type Broker struct {
	heartbeat time.Duration

	ops chan op

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. Streams emit a comment line every heartbeat
// interval to keep idle connections open.
func NewBroker(heartbeat time.Duration) *Broker {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}

	b := &Broker{
		heartbeat: heartbeat,
		ops:       make(chan op, 256),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	go b.run()
	return b
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
}

func send(ch chan []byte, msg []byte) {
	select {
	case ch <- msg:
	default:
		// Client buffer full; skip to avoid blocking broker loop.
	}
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	topics := make(map[string]map[chan []byte]struct{})
	// Retained messages in first-publish order of their type.
	type retainedMsg struct {
		typ string
		msg []byte
	}
	retained := make(map[string][]retainedMsg)

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case o := <-b.ops:
			switch o.kind {
			case opSubscribe:
				clients[o.ch] = o.topic
				if topics[o.topic] == nil {
					topics[o.topic] = make(map[chan []byte]struct{})
				}
				topics[o.topic][o.ch] = struct{}{}
				for _, r := range retained[o.topic] {
					send(o.ch, r.msg)
				}

			case opUnsubscribe:
				topic, ok := clients[o.ch]
				if !ok {
					continue
				}
				delete(clients, o.ch)
				delete(topics[topic], o.ch)
				if len(topics[topic]) == 0 {
					delete(topics, topic)
				}
				close(o.ch)

			case opPublish:
				msg, err := encode(o.event)
				if err != nil {
					continue
				}
				list := retained[o.topic]
				replaced := false
				for i := range list {
					if list[i].typ == o.event.Type {
						list[i].msg = msg
						replaced = true
					}
				}
				if !replaced {
					list = append(list, retainedMsg{typ: o.event.Type, msg: msg})
				}
				retained[o.topic] = list
				for ch := range topics[o.topic] {
					send(ch, msg)
				}

			case opCount:
				if o.topic == "" {
					o.resp <- len(clients)
				} else {
					o.resp <- len(topics[o.topic])
				}
			}
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client of topic and returns its channel.
func (b *Broker) Subscribe(topic string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.ops <- op{kind: opSubscribe, topic: topic, ch: ch}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.ops <- op{kind: opUnsubscribe, ch: ch}:
	case <-b.stopped:
	}
}

// ClientCount returns the number of clients of topic, or of all topics when
// topic is empty.
func (b *Broker) ClientCount(topic string) int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.ops <- op{kind: opCount, topic: topic, resp: resp}:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to the clients of topic and retains it for later subscribers.
func (b *Broker) Publish(topic string, event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.ops <- op{kind: opPublish, topic: topic, event: event}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The topic is the
// authenticated principal of the request.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(p.UID)
	defer b.Unsubscribe(ch)

	heartbeat := time.NewTicker(b.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
