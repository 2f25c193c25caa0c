package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/identity"
	"github.com/starford/duet/internal/livequery"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/pairing"
	"github.com/starford/duet/internal/reconcile"
	"github.com/starford/duet/internal/repository"
	"github.com/starford/duet/internal/schedule"
	"github.com/starford/duet/internal/testutil"
)

func strp(s string) *string { return &s }

func TestReduce(t *testing.T) {
	active := &models.Pair{ID: "a_b", Members: []string{"a", "b"}, Status: models.PairActive}
	solo := &models.Pair{ID: "a_b", Members: []string{"a"}, Status: models.PairActive}

	tests := []struct {
		name    string
		profile *models.Profile
		active  *models.Pair
		want    *reconcile.Patch
	}{
		{"no profile", nil, active, nil},
		{"unpaired and no pair", &models.Profile{}, nil, nil},
		{"stale pairing cleared", &models.Profile{PairID: strp("x"), PartnerID: strp("y")}, nil, &reconcile.Patch{}},
		{"in sync", &models.Profile{PairID: strp("a_b"), PartnerID: strp("b")}, active, nil},
		{"missing pairing", &models.Profile{}, active, &reconcile.Patch{PairID: strp("a_b"), PartnerID: strp("b"), ResolveEmail: true}},
		{"wrong partner", &models.Profile{PairID: strp("a_b"), PartnerID: strp("z")}, active, &reconcile.Patch{PairID: strp("a_b"), PartnerID: strp("b"), ResolveEmail: true}},
		{"partner unknown", &models.Profile{}, solo, &reconcile.Patch{PairID: strp("a_b")}},
		{"partner unknown in sync", &models.Profile{PairID: strp("a_b")}, solo, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, reconcile.Reduce("a", tt.profile, tt.active))
		})
	}
}

func TestEvaluateConverges(t *testing.T) {
	ctx := context.Background()
	store := testutil.TestStore(t)
	testutil.SeedPrincipal(t, store, "a", "a@example.com", "A")
	require.NoError(t, store.Set(ctx, repository.Profiles, "a", map[string]any{
		"pairId": "X", "partnerId": "Y", "partnerEmail": "y@example.com",
	}, true))

	var commits int
	store.OnCommit(func(docstore.Change) { commits++ })

	r := reconcile.New(store, nil)
	stale := testutil.LoadProfile(t, store, "a")

	wrote, err := r.Evaluate(ctx, "a", &stale, nil)
	require.NoError(t, err)
	require.True(t, wrote)
	require.Equal(t, 1, commits)

	p := testutil.LoadProfile(t, store, "a")
	require.Nil(t, p.PairID)
	require.Nil(t, p.PartnerID)
	require.Nil(t, p.PartnerEmail)

	// Same inputs again, from the stale snapshot and from the fresh one.
	wrote, err = r.Evaluate(ctx, "a", &stale, nil)
	require.NoError(t, err)
	require.False(t, wrote)
	wrote, err = r.Evaluate(ctx, "a", &p, nil)
	require.NoError(t, err)
	require.False(t, wrote)
	require.Equal(t, 1, commits)
}

func TestEvaluateResolvesPartnerEmail(t *testing.T) {
	ctx := context.Background()
	store := testutil.TestStore(t)
	testutil.SeedPrincipal(t, store, "a", "a@example.com", "A")
	testutil.SeedPrincipal(t, store, "b", "b@example.com", "B")

	r := reconcile.New(store, nil)
	profile := testutil.LoadProfile(t, store, "a")
	active := &models.Pair{ID: "a_b", Members: []string{"a", "b"}, Status: models.PairActive}

	wrote, err := r.Evaluate(ctx, "a", &profile, active)
	require.NoError(t, err)
	require.True(t, wrote)

	p := testutil.LoadProfile(t, store, "a")
	require.Equal(t, "a_b", *p.PairID)
	require.Equal(t, "b", *p.PartnerID)
	require.Equal(t, "b@example.com", *p.PartnerEmail)
	require.Equal(t, "A", p.DisplayName)
}

func TestSyncEndedPairOnOpen(t *testing.T) {
	ctx := context.Background()
	store := testutil.TestStore(t)
	testutil.SeedPrincipal(t, store, "a", "a@example.com", "A")
	require.NoError(t, store.Set(ctx, repository.Profiles, "a", map[string]any{"pairId": "a_b", "partnerId": "b"}, true))
	r := reconcile.New(store, nil)

	require.NoError(t, store.Set(ctx, repository.Pairs, "a_b", map[string]any{
		"members": []string{"a", "b"}, "status": models.PairActive,
	}, false))
	cleared, err := r.SyncEndedPairOnOpen(ctx, "a", "a_b")
	require.NoError(t, err)
	require.False(t, cleared)
	require.NotNil(t, testutil.LoadProfile(t, store, "a").PairID)

	require.NoError(t, store.Set(ctx, repository.Pairs, "a_b", map[string]any{"status": models.PairEnded}, true))
	cleared, err = r.SyncEndedPairOnOpen(ctx, "a", "a_b")
	require.NoError(t, err)
	require.True(t, cleared)
	require.Nil(t, testutil.LoadProfile(t, store, "a").PairID)

	require.NoError(t, store.Set(ctx, repository.Profiles, "a", map[string]any{"pairId": "gone"}, true))
	cleared, err = r.SyncEndedPairOnOpen(ctx, "a", "gone")
	require.NoError(t, err)
	require.True(t, cleared)
}

type recorder struct {
	mu        sync.Mutex
	schedules []schedule.Schedule
	pairs     []*models.Pair
}

func (r *recorder) PairChanged(_ string, p *models.Pair) {
	r.mu.Lock()
	r.pairs = append(r.pairs, p)
	r.mu.Unlock()
}

func (r *recorder) ProfileChanged(string, *models.Profile) {}

func (r *recorder) ScheduleChanged(_ string, s schedule.Schedule) {
	r.mu.Lock()
	r.schedules = append(r.schedules, s)
	r.mu.Unlock()
}

func (r *recorder) lastSchedule() (schedule.Schedule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.schedules) == 0 {
		return schedule.Schedule{}, false
	}
	return r.schedules[len(r.schedules)-1], true
}

func TestSessionPairsSenderAndClearsOnBreak(t *testing.T) {
	ctx := context.Background()
	store := testutil.TestStore(t)
	alice := identity.Principal{UID: "uid-a", Email: "alice@example.com"}
	bob := identity.Principal{UID: "uid-b", Email: "bob@example.com"}
	testutil.SeedPrincipal(t, store, alice.UID, alice.Email, "Alice")
	testutil.SeedPrincipal(t, store, bob.UID, bob.Email, "Bob")

	hub := livequery.NewHub(store, nil)
	t.Cleanup(hub.Close)
	svc := pairing.NewService(store, nil)
	policy, err := schedule.NewPolicy(time.UTC, nil)
	require.NoError(t, err)
	events := &recorder{}

	mgr := reconcile.NewManager(reconcile.Deps{
		Hub:        hub,
		Reconciler: reconcile.New(store, nil),
		Attacher:   svc,
		Scheduler:  policy,
		Events:     events,
	})
	t.Cleanup(mgr.Close)

	mgr.Ensure(bob.UID)
	mgr.Ensure(bob.UID)
	require.Equal(t, 1, mgr.Count())

	require.Eventually(t, func() bool {
		s, ok := events.lastSchedule()
		return ok && !s.InPair
	}, 2*time.Second, 10*time.Millisecond)

	inv, err := svc.CreateInvite(ctx, bob, alice.Email)
	require.NoError(t, err)
	_, err = svc.AcceptInvite(ctx, alice.UID, inv.ID)
	require.NoError(t, err)

	// Bob's session attaches him through the accepted invite.
	require.Eventually(t, func() bool {
		p := testutil.LoadProfile(t, store, bob.UID)
		return p.PairID != nil && *p.PairID == inv.PairID && p.PartnerEmail != nil && *p.PartnerEmail == alice.Email
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		s, ok := events.lastSchedule()
		return ok && s.InPair && s.PairID == inv.PairID && s.ReportID != ""
	}, 2*time.Second, 10*time.Millisecond)

	// Alice ends the pair; Bob's reconciler clears his own profile.
	require.NoError(t, svc.BreakPair(ctx, alice.UID))
	require.Eventually(t, func() bool {
		return testutil.LoadProfile(t, store, bob.UID).PairID == nil
	}, 2*time.Second, 10*time.Millisecond)

	mgr.Stop(bob.UID)
	require.Equal(t, 0, mgr.Count())
	require.Eventually(t, func() bool { return hub.FeedCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSessionWritesOnceForStalePairing(t *testing.T) {
	ctx := context.Background()
	store := testutil.TestStore(t)
	testutil.SeedPrincipal(t, store, "a", "a@example.com", "A")
	require.NoError(t, store.Set(ctx, repository.Profiles, "a", map[string]any{"pairId": "X", "partnerId": "Y"}, true))

	var mu sync.Mutex
	profileWrites := 0
	store.OnCommit(func(c docstore.Change) {
		for _, col := range c.Collections {
			if col == repository.Profiles {
				mu.Lock()
				profileWrites++
				mu.Unlock()
			}
		}
	})

	hub := livequery.NewHub(store, nil)
	t.Cleanup(hub.Close)
	s := reconcile.Start(ctx, "a", reconcile.Deps{Hub: hub, Reconciler: reconcile.New(store, nil)})
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool {
		return testutil.LoadProfile(t, store, "a").PairID == nil
	}, 2*time.Second, 10*time.Millisecond)

	// Give the loop time to observe its own write.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, profileWrites)
}

func TestSessionTickPicksUpOverride(t *testing.T) {
	ctx := context.Background()
	store := testutil.TestStore(t)
	testutil.SeedPrincipal(t, store, "a", "a@example.com", "A")

	hub := livequery.NewHub(store, nil)
	t.Cleanup(hub.Close)
	policy, err := schedule.NewPolicy(time.UTC, nil)
	require.NoError(t, err)
	now := time.Date(2026, 2, 11, 10, 0, 0, 0, time.UTC)
	clock := testutil.NewClock(now)
	events := &recorder{}

	s := reconcile.Start(ctx, "a", reconcile.Deps{
		Hub:        hub,
		Reconciler: reconcile.New(store, nil),
		Scheduler:  policy,
		Events:     events,
		Tick:       20 * time.Millisecond,
		Now:        clock.Now,
	})
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool {
		_, ok := events.lastSchedule()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	first, _ := events.lastSchedule()
	require.False(t, first.InPair)
	require.True(t, first.NextAt.Equal(time.Date(2026, 2, 13, 18, 0, 0, 0, time.UTC)), first.NextAt)

	// Unchanged ticks emit nothing.
	clock.Advance(time.Minute)
	time.Sleep(100 * time.Millisecond)
	events.mu.Lock()
	emitted := len(events.schedules)
	events.mu.Unlock()
	require.Equal(t, 1, emitted)

	end := now.Add(83 * time.Minute)
	require.NoError(t, policy.SetOverride(&schedule.Override{Start: now.Add(-time.Hour), End: end}))
	require.Eventually(t, func() bool {
		last, _ := events.lastSchedule()
		return last.NextAt.Equal(end)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerStopsIdleSessions(t *testing.T) {
	store := testutil.TestStore(t)
	testutil.SeedPrincipal(t, store, "a", "a@example.com", "A")
	testutil.SeedPrincipal(t, store, "b", "b@example.com", "B")

	hub := livequery.NewHub(store, nil)
	t.Cleanup(hub.Close)
	clock := testutil.NewClock(time.Date(2026, 2, 11, 10, 0, 0, 0, time.UTC))

	mgr := reconcile.NewManager(reconcile.Deps{
		Hub:        hub,
		Reconciler: reconcile.New(store, nil),
		Idle:       time.Hour,
		Now:        clock.Now,
	})
	t.Cleanup(mgr.Close)

	mgr.Ensure("a")
	mgr.Ensure("b")
	require.Equal(t, 2, mgr.Count())

	clock.Advance(40 * time.Minute)
	mgr.Ensure("b")
	require.Equal(t, 0, mgr.Sweep())

	// a has been idle for 70 minutes, b for 30.
	clock.Advance(30 * time.Minute)
	require.Equal(t, 1, mgr.Sweep())
	require.Equal(t, 1, mgr.Count())
	require.Eventually(t, func() bool { return hub.FeedCount() == 3 }, time.Second, 10*time.Millisecond)

	// Activity after a sweep starts a fresh session.
	mgr.Ensure("a")
	require.Equal(t, 2, mgr.Count())
}
