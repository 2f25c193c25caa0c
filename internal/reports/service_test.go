package reports_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starford/duet/internal/apperr"
	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/reports"
	"github.com/starford/duet/internal/repository"
	"github.com/starford/duet/internal/schedule"
	"github.com/starford/duet/internal/summarizer"
	"github.com/starford/duet/internal/testutil"
)

const pairID = "uid-a_uid-b"

var (
	msk         = time.FixedZone("MSK", 3*60*60)
	windowStart = time.Date(2026, 2, 11, 18, 0, 0, 0, msk)
	windowEnd   = time.Date(2026, 2, 24, 16, 0, 0, 0, msk)
)

type fixture struct {
	store  *docstore.Store
	clock  *testutil.Clock
	policy *schedule.Policy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock(windowEnd.Add(time.Hour))
	store := testutil.TestStore(t, docstore.WithClock(clock.Now), docstore.WithMaxAttempts(50))
	policy, err := schedule.NewPolicy(msk, &schedule.Override{Start: windowStart, End: windowEnd})
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), repository.Pairs, pairID, map[string]any{
		"members": []string{"uid-a", "uid-b"},
		"status":  models.PairActive,
	}, false))
	return &fixture{store: store, clock: clock, policy: policy}
}

func (f *fixture) addNote(t *testing.T, id, text string, created time.Time) {
	t.Helper()
	n := models.Note{Text: text, OwnerUID: "uid-a", CreatedAt: models.At(created), UpdatedAt: models.At(created)}
	require.NoError(t, f.store.Set(context.Background(), repository.Notes(pairID), id, n, false))
}

func (f *fixture) report(t *testing.T, id string) *models.Report {
	t.Helper()
	r, err := repository.Report(context.Background(), f.store, pairID, id)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

func TestGeneratePreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := reports.NewService(f.store, f.policy, summarizer.Func(func(context.Context, []models.Note) (string, error) {
		return "x", nil
	}), nil)

	_, err := svc.GenerateFor(ctx, "uid-stranger")
	require.ErrorIs(t, err, apperr.ErrNotInPair)

	f.clock.Set(windowEnd.Add(-time.Minute))
	_, err = svc.GenerateFor(ctx, "uid-a")
	require.ErrorIs(t, err, apperr.ErrNotDueYet)
}

func TestGenerateSummarizesWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addNote(t, "before", "too early", windowStart.Add(-time.Second))
	f.addNote(t, "first", "at start", windowStart)
	f.addNote(t, "second", strings.Repeat("ж", 2500), windowStart.Add(time.Hour))
	f.addNote(t, "end", "at end", windowEnd)

	var got []models.Note
	svc := reports.NewService(f.store, f.policy, summarizer.Func(func(_ context.Context, notes []models.Note) (string, error) {
		got = notes
		return "a good week", nil
	}), nil)

	res, err := svc.GenerateFor(ctx, "uid-a")
	require.NoError(t, err)
	require.Equal(t, reports.Generated, res.Outcome)

	require.Len(t, got, 2)
	require.Equal(t, "second", got[0].ID, "newest first")
	require.Equal(t, "first", got[1].ID)

	id := schedule.ReportID(windowStart, windowEnd, msk)
	r := f.report(t, id)
	require.Equal(t, models.ReportReady, r.Status)
	require.Equal(t, "a good week", *r.Summary)
	require.Nil(t, r.Error)
	require.Equal(t, 2, *r.NotesCount)
	require.Equal(t, "uid-a", r.CreatedBy)
	require.True(t, r.PeriodStart.Equal(windowStart))
	require.True(t, r.PeriodEnd.Equal(windowEnd))
	require.Len(t, r.SourceNotes, 2)
	require.Equal(t, 2000, len([]rune(r.SourceNotes[0].Text)))

	cur, err := svc.Current(ctx, "uid-b")
	require.NoError(t, err)
	require.True(t, cur.Schedule.Due)
	require.NotNil(t, cur.Report)
	require.Equal(t, models.ReportReady, cur.Report.Status)

	// A finished window is never regenerated.
	res, err = svc.GenerateFor(ctx, "uid-b")
	require.NoError(t, err)
	require.Equal(t, reports.Skipped, res.Outcome)
}

func TestGenerateCapsSourceNotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 205; i++ {
		f.addNote(t, fmt.Sprintf("n%03d", i), "note text", windowStart.Add(time.Duration(i)*time.Minute))
	}

	var sent int
	svc := reports.NewService(f.store, f.policy, summarizer.Func(func(_ context.Context, notes []models.Note) (string, error) {
		sent = len(notes)
		return "busy", nil
	}), nil)

	_, err := svc.GenerateFor(ctx, "uid-a")
	require.NoError(t, err)
	require.Equal(t, 205, sent, "summarizer gets every note")

	r := f.report(t, schedule.ReportID(windowStart, windowEnd, msk))
	require.Len(t, r.SourceNotes, 200)
	require.Equal(t, 205, *r.NotesCount)
	require.Equal(t, "n204", r.SourceNotes[0].ID)
}

func TestGenerateFailureWritesErrorStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	long := strings.Repeat("e", 800)
	boom := fmt.Errorf("HTTP 502 Bad Gateway: %s: %w", long, apperr.ErrExternalService)

	svc := reports.NewService(f.store, f.policy, summarizer.Func(func(context.Context, []models.Note) (string, error) {
		return "", boom
	}), nil)

	_, err := svc.GenerateFor(ctx, "uid-a")
	require.ErrorIs(t, err, apperr.ErrExternalService)

	r := f.report(t, schedule.ReportID(windowStart, windowEnd, msk))
	require.Equal(t, models.ReportError, r.Status)
	require.NotNil(t, r.Error)
	require.Equal(t, 500, len([]rune(*r.Error)))
	require.True(t, strings.HasPrefix(*r.Error, "HTTP 502"))

	// An errored window may be claimed again.
	ok := reports.NewService(f.store, f.policy, summarizer.Func(func(context.Context, []models.Note) (string, error) {
		return "second try", nil
	}), nil)
	res, err := ok.GenerateFor(ctx, "uid-b")
	require.NoError(t, err)
	require.Equal(t, reports.Generated, res.Outcome)
	r = f.report(t, schedule.ReportID(windowStart, windowEnd, msk))
	require.Equal(t, models.ReportReady, r.Status)
	require.Nil(t, r.Error)
}

func TestConcurrentGenerateSingleSummarizerCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addNote(t, "n1", "walked the dog", windowStart.Add(time.Hour))

	var calls atomic.Int32
	release := make(chan struct{})
	svc := reports.NewService(f.store, f.policy, summarizer.Func(func(context.Context, []models.Note) (string, error) {
		calls.Add(1)
		<-release
		return "once", nil
	}), nil)

	const callers = 6
	var wg sync.WaitGroup
	outcomes := make(chan reports.Outcome, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := "uid-a"
			if i%2 == 1 {
				uid = "uid-b"
			}
			res, err := svc.GenerateFor(ctx, uid)
			if err != nil {
				errs <- err
				return
			}
			outcomes <- res.Outcome
		}(i)
	}

	// Skipped callers return while the winner is still summarizing.
	require.Eventually(t, func() bool { return len(outcomes) == callers-1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, models.ReportGenerating, f.report(t, schedule.ReportID(windowStart, windowEnd, msk)).Status)
	close(release)
	wg.Wait()
	close(outcomes)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	generated := 0
	for o := range outcomes {
		if o == reports.Generated {
			generated++
		}
	}
	require.Equal(t, 1, generated)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, models.ReportReady, f.report(t, schedule.ReportID(windowStart, windowEnd, msk)).Status)
}

func TestGenerateInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	svc := reports.NewService(f.store, f.policy, nil, nil)
	_, err := svc.Generate(context.Background(), schedule.Schedule{InPair: true, Due: true})
	require.True(t, errors.Is(err, apperr.ErrNotInPair))
}
