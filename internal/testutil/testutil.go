// Package testutil provides shared test helpers for setting up stores, clocks and principals.
package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/repository"
)

// TestStore creates a temporary document store that is automatically cleaned up.
func TestStore(t *testing.T, opts ...docstore.StoreOption) *docstore.Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "duet-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	store, err := docstore.Open(dbFile.Name(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// SeedPrincipal writes the profile and public directory entry of a principal.
func SeedPrincipal(t *testing.T, store *docstore.Store, uid, email, name string) {
	t.Helper()
	ctx := context.Background()
	now := models.At(store.Now())
	if err := store.Set(ctx, repository.Profiles, uid, models.Profile{Email: email, DisplayName: name, UpdatedAt: now}, false); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, repository.Directory, uid, models.DirectoryEntry{Email: email, DisplayName: name}, false); err != nil {
		t.Fatal(err)
	}
}

// LoadProfile reads a profile, failing the test if it is missing.
func LoadProfile(t *testing.T, store *docstore.Store, uid string) models.Profile {
	t.Helper()
	p, err := repository.Profile(context.Background(), store, uid)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatalf("profile %s missing", uid)
	}
	return *p
}
