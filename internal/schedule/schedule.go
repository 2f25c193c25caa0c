// Package schedule computes reporting windows and the deterministic report ID of a window.
package schedule

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/starford/duet/internal/apperr"
)

const (
	boundaryWeekday = time.Friday
	boundaryHour    = 18
)

// Override replaces the weekly rule with a fixed window.
type Override struct {
	Start time.Time
	End   time.Time
}

// Validate checks that the window is non-empty.
func (o *Override) Validate() error {
	if o.Start.IsZero() || o.End.IsZero() {
		return fmt.Errorf("report override: start and end are required: %w", apperr.ErrInvalidInput)
	}
	if !o.Start.Before(o.End) {
		return fmt.Errorf("report override: start must be before end: %w", apperr.ErrInvalidInput)
	}
	return nil
}

// Period is the reporting window that contains (or just closed before) now.
type Period struct {
	SlotStart time.Time
	SlotEnd   time.Time
	NextAt    time.Time
	MsToNext  int64
	Due       bool
}

// ComputePeriod returns the current window. Without an override, windows run
// from Friday 18:00 to the following Friday 18:00 in loc; on weekends the window
// resolves to the one that ended on the Friday just passed.
func ComputePeriod(now time.Time, override *Override, loc *time.Location) (Period, error) {
	if loc == nil {
		loc = time.Local
	}

	if override != nil {
		if err := override.Validate(); err != nil {
			return Period{}, err
		}
		start, end := override.Start.In(loc), override.End.In(loc)
		return Period{
			SlotStart: start,
			SlotEnd:   end,
			NextAt:    end,
			MsToNext:  end.Sub(now).Milliseconds(),
			Due:       !now.Before(end),
		}, nil
	}

	end := thisWeekBoundary(now.In(loc))
	start := addDays(end, -7)
	next := end
	if !now.Before(end) {
		next = addDays(end, 7)
	}
	return Period{
		SlotStart: start,
		SlotEnd:   end,
		NextAt:    next,
		MsToNext:  next.Sub(now).Milliseconds(),
		Due:       !now.Before(end),
	}, nil
}

// thisWeekBoundary returns Friday 18:00 of the Monday-based week containing t.
func thisWeekBoundary(t time.Time) time.Time {
	day := int(t.Weekday())
	if day == 0 {
		day = 7
	}
	diff := int(boundaryWeekday) - day
	return time.Date(t.Year(), t.Month(), t.Day()+diff, boundaryHour, 0, 0, 0, t.Location())
}

// addDays shifts by calendar days, keeping the wall-clock time across DST changes.
func addDays(t time.Time, days int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+days, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// ReportID derives the report document ID from the window bounds, formatted to
// minute precision in loc. Distinct windows never share an ID.
func ReportID(start, end time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return "report_" + formatID(start.In(loc)) + "__" + formatID(end.In(loc))
}

func formatID(t time.Time) string {
	return t.Format("2006-01-02_15-04")
}

// Schedule is the per-principal view of the current window.
type Schedule struct {
	InPair    bool      `json:"inPair"`
	PairID    string    `json:"pairId,omitempty"`
	UID       string    `json:"uid,omitempty"`
	SlotStart time.Time `json:"slotStart,omitzero"`
	SlotEnd   time.Time `json:"slotEnd,omitzero"`
	ReportID  string    `json:"reportId,omitempty"`
	NextAt    time.Time `json:"nextAt,omitzero"`
	MsToNext  int64     `json:"msToNext"`
	Due       bool      `json:"due"`
}

// Policy holds the scheduling rule. The override can be swapped at runtime.
type Policy struct {
	loc      *time.Location
	override atomic.Pointer[Override]
}

// NewPolicy creates a policy evaluated in loc, optionally with an override window.
func NewPolicy(loc *time.Location, override *Override) (*Policy, error) {
	if loc == nil {
		loc = time.Local
	}
	p := &Policy{loc: loc}
	if err := p.SetOverride(override); err != nil {
		return nil, err
	}
	return p, nil
}

// SetOverride validates and installs o; nil restores the weekly rule.
func (p *Policy) SetOverride(o *Override) error {
	if o != nil {
		if err := o.Validate(); err != nil {
			return err
		}
		cp := *o
		o = &cp
	}
	p.override.Store(o)
	return nil
}

// Override returns the active override, or nil.
func (p *Policy) Override() *Override {
	return p.override.Load()
}

// Location returns the policy's time zone.
func (p *Policy) Location() *time.Location {
	return p.loc
}

// Build computes the schedule for uid. An empty pairID yields a not-in-pair
// schedule that still reports the next boundary but is never due.
func (p *Policy) Build(now time.Time, uid, pairID string) (Schedule, error) {
	period, err := ComputePeriod(now, p.Override(), p.loc)
	if err != nil {
		return Schedule{}, err
	}
	if uid == "" || pairID == "" {
		return Schedule{NextAt: period.NextAt, MsToNext: period.MsToNext}, nil
	}
	return Schedule{
		InPair:    true,
		PairID:    pairID,
		UID:       uid,
		SlotStart: period.SlotStart,
		SlotEnd:   period.SlotEnd,
		ReportID:  ReportID(period.SlotStart, period.SlotEnd, p.loc),
		NextAt:    period.NextAt,
		MsToNext:  period.MsToNext,
		Due:       period.Due,
	}, nil
}

// Equivalent reports whether two schedules describe the same state, ignoring the countdown.
func Equivalent(a, b Schedule) bool {
	return a.InPair == b.InPair &&
		a.PairID == b.PairID &&
		a.UID == b.UID &&
		a.SlotStart.Equal(b.SlotStart) &&
		a.SlotEnd.Equal(b.SlotEnd) &&
		a.ReportID == b.ReportID &&
		a.NextAt.Equal(b.NextAt) &&
		a.Due == b.Due
}
