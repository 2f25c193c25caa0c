package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/starford/duet/internal/apperr"
)

var msk = time.FixedZone("MSK", 3*60*60)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestWeeklyWednesday(t *testing.T) {
	now := time.Date(2026, 2, 11, 12, 0, 0, 0, msk) // Wednesday
	p, err := ComputePeriod(now, nil, msk)
	if err != nil {
		t.Fatal(err)
	}
	wantEnd := time.Date(2026, 2, 13, 18, 0, 0, 0, msk)
	if !p.SlotEnd.Equal(wantEnd) {
		t.Errorf("slotEnd = %v, want %v", p.SlotEnd, wantEnd)
	}
	if !p.SlotStart.Equal(wantEnd.AddDate(0, 0, -7)) {
		t.Errorf("slotStart = %v", p.SlotStart)
	}
	if p.Due {
		t.Error("wednesday must not be due")
	}
	if !p.NextAt.Equal(wantEnd) {
		t.Errorf("nextAt = %v, want %v", p.NextAt, wantEnd)
	}
	if p.MsToNext != wantEnd.Sub(now).Milliseconds() {
		t.Errorf("msToNext = %d", p.MsToNext)
	}
}

func TestWeeklySaturdayResolvesToPastFriday(t *testing.T) {
	now := time.Date(2026, 2, 14, 10, 0, 0, 0, msk) // Saturday
	p, err := ComputePeriod(now, nil, msk)
	if err != nil {
		t.Fatal(err)
	}
	friday := time.Date(2026, 2, 13, 18, 0, 0, 0, msk)
	if !p.SlotEnd.Equal(friday) {
		t.Errorf("slotEnd = %v, want %v", p.SlotEnd, friday)
	}
	if !p.Due {
		t.Error("saturday must be due")
	}
	if want := time.Date(2026, 2, 20, 18, 0, 0, 0, msk); !p.NextAt.Equal(want) {
		t.Errorf("nextAt = %v, want %v", p.NextAt, want)
	}
}

func TestWeeklySundayResolvesToPastFriday(t *testing.T) {
	now := time.Date(2026, 2, 15, 23, 0, 0, 0, msk) // Sunday
	p, _ := ComputePeriod(now, nil, msk)
	if want := time.Date(2026, 2, 13, 18, 0, 0, 0, msk); !p.SlotEnd.Equal(want) {
		t.Errorf("slotEnd = %v, want %v", p.SlotEnd, want)
	}
	if !p.Due {
		t.Error("sunday must be due")
	}
}

func TestWeeklyFridayBoundary(t *testing.T) {
	end := time.Date(2026, 2, 13, 18, 0, 0, 0, msk)

	before, _ := ComputePeriod(end.Add(-time.Minute), nil, msk)
	if before.Due || !before.SlotEnd.Equal(end) {
		t.Errorf("17:59: due=%v slotEnd=%v", before.Due, before.SlotEnd)
	}

	at, _ := ComputePeriod(end, nil, msk)
	if !at.Due {
		t.Error("18:00 must be due")
	}
	if !at.NextAt.Equal(end.AddDate(0, 0, 7)) {
		t.Errorf("nextAt = %v", at.NextAt)
	}
}

func TestMondayBelongsToUpcomingFriday(t *testing.T) {
	now := time.Date(2026, 2, 16, 9, 0, 0, 0, msk) // Monday
	p, _ := ComputePeriod(now, nil, msk)
	if want := time.Date(2026, 2, 20, 18, 0, 0, 0, msk); !p.SlotEnd.Equal(want) {
		t.Errorf("slotEnd = %v, want %v", p.SlotEnd, want)
	}
	if p.Due {
		t.Error("monday must not be due")
	}
}

func TestOverrideWindow(t *testing.T) {
	o := &Override{
		Start: mustParse(t, "2026-02-11T18:00:00+03:00"),
		End:   mustParse(t, "2026-02-24T16:00:00+03:00"),
	}

	before, err := ComputePeriod(o.End.Add(-time.Second), o, msk)
	if err != nil {
		t.Fatal(err)
	}
	if before.Due {
		t.Error("due before end")
	}
	at, _ := ComputePeriod(o.End, o, msk)
	if !at.Due {
		t.Error("not due at end")
	}
	after, _ := ComputePeriod(o.End.Add(48*time.Hour), o, msk)
	if !after.Due || !after.NextAt.Equal(o.End) {
		t.Errorf("after: due=%v nextAt=%v", after.Due, after.NextAt)
	}

	id1 := ReportID(before.SlotStart, before.SlotEnd, msk)
	id2 := ReportID(at.SlotStart, at.SlotEnd, msk)
	if id1 != id2 {
		t.Errorf("report id unstable: %q vs %q", id1, id2)
	}
	if want := "report_2026-02-11_18-00__2026-02-24_16-00"; id1 != want {
		t.Errorf("report id = %q, want %q", id1, want)
	}
}

func TestOverrideInvalid(t *testing.T) {
	o := &Override{
		Start: mustParse(t, "2026-02-24T16:00:00+03:00"),
		End:   mustParse(t, "2026-02-11T18:00:00+03:00"),
	}
	_, err := ComputePeriod(time.Now(), o, msk)
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := NewPolicy(msk, o); err == nil {
		t.Fatal("NewPolicy accepted invalid override")
	}
}

func TestReportIDDistinguishesWindows(t *testing.T) {
	end := time.Date(2026, 2, 13, 18, 0, 0, 0, msk)
	weekly := ReportID(end.AddDate(0, 0, -7), end, msk)
	custom := ReportID(end.AddDate(0, 0, -6), end, msk)
	if weekly == custom {
		t.Fatalf("windows with different starts collided: %q", weekly)
	}
}

func TestPolicyBuild(t *testing.T) {
	p, err := NewPolicy(msk, nil)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 2, 14, 10, 0, 0, 0, msk)

	s, err := p.Build(now, "u1", "u1_u2")
	if err != nil {
		t.Fatal(err)
	}
	if !s.InPair || !s.Due || s.ReportID != "report_2026-02-06_18-00__2026-02-13_18-00" {
		t.Errorf("unexpected schedule: %+v", s)
	}

	solo, _ := p.Build(now, "u1", "")
	if solo.InPair || solo.Due || solo.ReportID != "" || solo.NextAt.IsZero() {
		t.Errorf("unexpected solo schedule: %+v", solo)
	}

	if err := p.SetOverride(&Override{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	s2, _ := p.Build(now, "u1", "u1_u2")
	if s2.Due || Equivalent(s, s2) {
		t.Errorf("override not applied: %+v", s2)
	}
}
