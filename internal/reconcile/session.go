package reconcile

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/starford/duet/internal/livequery"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/repository"
	"github.com/starford/duet/internal/schedule"
)

// Attacher pairs the sender side of an accepted invite.
type Attacher interface {
	AttachAcceptedInviteAsSender(ctx context.Context, me, inviteID string) (bool, error)
}

// Scheduler builds the report schedule of a principal.
type Scheduler interface {
	Build(now time.Time, uid, pairID string) (schedule.Schedule, error)
}

// Events receives state changes observed by a session.
type Events interface {
	PairChanged(uid string, pair *models.Pair)
	ProfileChanged(uid string, profile *models.Profile)
	ScheduleChanged(uid string, s schedule.Schedule)
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Hub        *livequery.Hub
	Reconciler *Reconciler
	Attacher   Attacher
	Scheduler  Scheduler
	Events     Events
	Tick       time.Duration
	// Idle stops a managed session not ensured for this long; zero keeps it until Stop.
	Idle       time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

func (d *Deps) defaults() {
	if d.Tick <= 0 {
		d.Tick = DefaultTick
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Events == nil {
		d.Events = nopEvents{}
	}
}

type nopEvents struct{}

func (nopEvents) PairChanged(string, *models.Pair)          {}
func (nopEvents) ProfileChanged(string, *models.Profile)    {}
func (nopEvents) ScheduleChanged(string, schedule.Schedule) {}

// Session is the continuous process of one principal: it watches the active
// pair, the own profile and accepted sent invites, and issues corrective writes.
type Session struct {
	uid  string
	deps Deps

	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the run loop.
	profile     *models.Profile
	active      *models.Pair
	haveProfile bool
	havePair    bool
	lastKey     string
	pairFP      string
	attached    map[string]struct{}
	sched       schedule.Schedule
	haveSched   bool
}

// Start launches a session for uid. It runs until ctx is done or Stop is called.
func Start(ctx context.Context, uid string, deps Deps) *Session {
	deps.defaults()
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		uid:      uid,
		deps:     deps,
		cancel:   cancel,
		done:     make(chan struct{}),
		attached: make(map[string]struct{}),
	}
	go s.run(ctx)
	return s
}

// Stop ends the session and waits for its loop to exit.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed when the session loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	hub := s.deps.Hub
	pairFeed := hub.Subscribe("", repository.ActivePairQuery(s.uid))
	defer pairFeed.Close()
	profileFeed := hub.Subscribe("", repository.ProfileQuery(s.uid))
	defer profileFeed.Close()
	inviteFeed := hub.Subscribe("", repository.InvitesQuery("fromUid", s.uid, models.InviteAccepted))
	defer inviteFeed.Close()

	ticker := time.NewTicker(s.deps.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-pairFeed.C:
			if !ok {
				return
			}
			if snap.Err != nil {
				continue
			}
			active, err := repository.FirstPair(snap.Docs)
			if err != nil {
				s.deps.Logger.Warn("reconciler: decode pair", slog.String("uid", s.uid), slog.String("error", err.Error()))
				continue
			}
			s.active, s.havePair = active, true
			if fp := pairFingerprint(active, snap); fp != s.pairFP {
				s.pairFP = fp
				s.deps.Events.PairChanged(s.uid, active)
			}
			s.reconcile(ctx)
			s.refreshSchedule()

		case snap, ok := <-profileFeed.C:
			if !ok {
				return
			}
			if snap.Err != nil {
				continue
			}
			var profile *models.Profile
			if len(snap.Docs) > 0 {
				profile = &models.Profile{}
				if err := snap.Docs[0].Decode(profile); err != nil {
					s.deps.Logger.Warn("reconciler: decode profile", slog.String("uid", s.uid), slog.String("error", err.Error()))
					continue
				}
			}
			s.profile, s.haveProfile = profile, true
			s.deps.Events.ProfileChanged(s.uid, profile)
			s.reconcile(ctx)

		case snap, ok := <-inviteFeed.C:
			if !ok {
				return
			}
			if snap.Err != nil {
				continue
			}
			s.attachAccepted(ctx, snap)

		case <-ticker.C:
			s.refreshSchedule()
		}
	}
}

// reconcile evaluates once both feeds have delivered, skipping inputs identical
// to the previous evaluation.
func (s *Session) reconcile(ctx context.Context) {
	if !s.haveProfile || !s.havePair {
		return
	}
	key := inputKey(s.profile, s.active)
	if key == s.lastKey {
		return
	}
	s.lastKey = key
	if _, err := s.deps.Reconciler.Evaluate(ctx, s.uid, s.profile, s.active); err != nil {
		// Allow the same inputs to be retried on the next snapshot.
		s.lastKey = ""
		s.deps.Logger.Error("reconciler: evaluate failed", slog.String("uid", s.uid), slog.String("error", err.Error()))
	}
}

func (s *Session) attachAccepted(ctx context.Context, snap livequery.Snapshot) {
	if s.deps.Attacher == nil {
		return
	}
	invites, err := repository.DecodeInvites(snap.Docs)
	if err != nil {
		s.deps.Logger.Warn("reconciler: decode invites", slog.String("uid", s.uid), slog.String("error", err.Error()))
		return
	}
	for _, inv := range invites {
		if _, done := s.attached[inv.ID]; done {
			continue
		}
		if _, err := s.deps.Attacher.AttachAcceptedInviteAsSender(ctx, s.uid, inv.ID); err != nil {
			s.deps.Logger.Error("reconciler: attach as sender failed",
				slog.String("uid", s.uid), slog.String("invite_id", inv.ID), slog.String("error", err.Error()))
			continue
		}
		s.attached[inv.ID] = struct{}{}
	}
}

func (s *Session) refreshSchedule() {
	if s.deps.Scheduler == nil || !s.havePair {
		return
	}
	pairID := ""
	if s.active != nil {
		pairID = s.active.ID
	}
	sched, err := s.deps.Scheduler.Build(s.deps.Now(), s.uid, pairID)
	if err != nil {
		s.deps.Logger.Error("reconciler: build schedule failed", slog.String("uid", s.uid), slog.String("error", err.Error()))
		return
	}
	if s.haveSched && schedule.Equivalent(s.sched, sched) {
		return
	}
	s.sched, s.haveSched = sched, true
	s.deps.Events.ScheduleChanged(s.uid, sched)
}

func pairFingerprint(active *models.Pair, snap livequery.Snapshot) string {
	if active == nil || len(snap.Docs) == 0 {
		return "none"
	}
	d := snap.Docs[0]
	return d.ID + "@" + strconv.FormatInt(d.Version, 10)
}
