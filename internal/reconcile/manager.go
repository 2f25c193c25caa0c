package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager owns at most one session per principal. With Deps.Idle set, a
// session nobody has ensured for that long is stopped.
type Manager struct {
	deps Deps

	ctx     context.Context
	cancel  context.CancelFunc
	sweeper chan struct{}

	mu       sync.Mutex
	sessions map[string]*Session
	seen     map[string]time.Time
	closed   bool
}

// NewManager creates a manager whose sessions share deps.
func NewManager(deps Deps) *Manager {
	deps.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		sweeper:  make(chan struct{}),
		sessions: make(map[string]*Session),
		seen:     make(map[string]time.Time),
	}
	if deps.Idle > 0 {
		go m.sweepLoop(max(deps.Idle/4, time.Millisecond))
	} else {
		close(m.sweeper)
	}
	return m
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer close(m.sweeper)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep stops sessions idle for longer than Deps.Idle and returns how many it stopped.
func (m *Manager) Sweep() int {
	if m.deps.Idle <= 0 {
		return 0
	}
	cutoff := m.deps.Now().Add(-m.deps.Idle)

	m.mu.Lock()
	var idle []*Session
	for uid, s := range m.sessions {
		if m.seen[uid].Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, uid)
			delete(m.seen, uid)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.deps.Logger.Info("reconciler: idle session stopped", slog.String("uid", s.uid))
		s.Stop()
	}
	return len(idle)
}

// Ensure starts the session of uid unless one is already running.
func (m *Manager) Ensure(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.seen[uid] = m.deps.Now()
	if s, ok := m.sessions[uid]; ok {
		select {
		case <-s.Done():
		default:
			return
		}
	}
	m.sessions[uid] = Start(m.ctx, uid, m.deps)
}

// Stop ends the session of uid, if any.
func (m *Manager) Stop(uid string) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	delete(m.sessions, uid)
	delete(m.seen, uid)
	m.mu.Unlock()
	if ok {
		s.Stop()
	}
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every session. Ensure is a no-op afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.seen = make(map[string]time.Time)
	m.mu.Unlock()

	m.cancel()
	<-m.sweeper
	for _, s := range sessions {
		<-s.Done()
	}
}
