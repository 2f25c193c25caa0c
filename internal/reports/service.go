// Package reports generates the single per-window report of a pair.
package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/starford/duet/internal/apperr"
	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/repository"
	"github.com/starford/duet/internal/schedule"
	"github.com/starford/duet/internal/summarizer"
)

const (
	maxSourceNotes = 200
	maxNoteRunes   = 2000
	maxErrorRunes  = 500
)

// Outcome tells what a generate call did.
type Outcome string

const (
	// Generated means this call claimed the window and wrote a ready report.
	Generated Outcome = "generated"
	// Skipped means another caller already owns or finished the window.
	Skipped Outcome = "skipped"
)

// Result is the outcome of a generation attempt.
type Result struct {
	Outcome Outcome        `json:"outcome"`
	Report  *models.Report `json:"-"`
}

// Current is a principal's schedule together with the report of its window.
type Current struct {
	Schedule schedule.Schedule
	Report   *models.Report
}

// Service claims windows and drives the summarizer.
type Service struct {
	store      *docstore.Store
	policy     *schedule.Policy
	summarizer summarizer.Summarizer
	logger     *slog.Logger
}

// NewService creates a report service.
func NewService(store *docstore.Store, policy *schedule.Policy, s summarizer.Summarizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, policy: policy, summarizer: s, logger: logger}
}

// Schedule builds me's current schedule from the active pair.
func (s *Service) Schedule(ctx context.Context, me string) (schedule.Schedule, error) {
	docs, err := s.store.Query(ctx, repository.ActivePairQuery(me))
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("reports: active pair: %w", err)
	}
	pair, err := repository.FirstPair(docs)
	if err != nil {
		return schedule.Schedule{}, err
	}
	pairID := ""
	if pair != nil {
		pairID = pair.ID
	}
	return s.policy.Build(s.store.Now(), me, pairID)
}

// Current returns me's schedule and the report stored for its window, if any.
func (s *Service) Current(ctx context.Context, me string) (Current, error) {
	sched, err := s.Schedule(ctx, me)
	if err != nil {
		return Current{}, err
	}
	cur := Current{Schedule: sched}
	if !sched.InPair || sched.ReportID == "" {
		return cur, nil
	}
	cur.Report, err = repository.Report(ctx, s.store, sched.PairID, sched.ReportID)
	return cur, err
}

// GenerateFor generates the report of me's current window.
func (s *Service) GenerateFor(ctx context.Context, me string) (Result, error) {
	sched, err := s.Schedule(ctx, me)
	if err != nil {
		return Result{}, err
	}
	return s.Generate(ctx, sched)
}

// Generate claims the window of sched and, if the claim is won, summarizes the
// window's notes. At most one caller per (pair, window) reaches the summarizer.
// A failed summary leaves the report in error status and the error is returned.
func (s *Service) Generate(ctx context.Context, sched schedule.Schedule) (Result, error) {
	if !sched.InPair || sched.PairID == "" || sched.UID == "" || sched.ReportID == "" ||
		sched.SlotStart.IsZero() || sched.SlotEnd.IsZero() {
		return Result{}, apperr.ErrNotInPair
	}
	if !sched.Due {
		return Result{}, apperr.ErrNotDueYet
	}

	coll := repository.Reports(sched.PairID)
	claimed := false
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		claimed = false
		existing, err := repository.Report(ctx, tx, sched.PairID, sched.ReportID)
		if err != nil {
			return err
		}
		if existing != nil && (existing.Status == models.ReportReady || existing.Status == models.ReportGenerating) {
			return nil
		}
		claimed = true
		return tx.Set(coll, sched.ReportID, map[string]any{
			"status":      models.ReportGenerating,
			"createdAt":   models.At(tx.Now()),
			"createdBy":   sched.UID,
			"periodStart": models.At(sched.SlotStart),
			"periodEnd":   models.At(sched.SlotEnd),
			"summary":     nil,
			"error":       nil,
			"sourceNotes": []models.ReportSourceNote{},
		}, true)
	})
	if err != nil {
		return Result{}, fmt.Errorf("reports: claim %s: %w", sched.ReportID, err)
	}
	if !claimed {
		s.logger.Info("reports: window already claimed",
			slog.String("pair_id", sched.PairID), slog.String("report_id", sched.ReportID))
		return Result{Outcome: Skipped}, nil
	}

	s.logger.Info("reports: generating",
		slog.String("pair_id", sched.PairID), slog.String("report_id", sched.ReportID))

	report, genErr := s.summarize(ctx, sched)
	if genErr != nil {
		msg := truncate(genErr.Error(), maxErrorRunes)
		// The terminal write must land even if the caller gave up.
		writeCtx := context.WithoutCancel(ctx)
		if err := s.store.Update(writeCtx, coll, sched.ReportID, map[string]any{
			"status":    models.ReportError,
			"error":     msg,
			"updatedAt": models.At(s.store.Now()),
		}); err != nil {
			s.logger.Error("reports: write error status failed",
				slog.String("report_id", sched.ReportID), slog.String("error", err.Error()))
		}
		s.logger.Warn("reports: generation failed",
			slog.String("report_id", sched.ReportID), slog.String("error", genErr.Error()))
		return Result{}, genErr
	}

	s.logger.Info("reports: ready",
		slog.String("report_id", sched.ReportID), slog.Int("notes", *report.NotesCount))
	return Result{Outcome: Generated, Report: report}, nil
}

func (s *Service) summarize(ctx context.Context, sched schedule.Schedule) (*models.Report, error) {
	q := docstore.From(repository.Notes(sched.PairID)).
		Where("createdAt", docstore.Gte, sched.SlotStart).
		Where("createdAt", docstore.Lt, sched.SlotEnd).
		OrderBy("createdAt", true)
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	notes, err := repository.DecodeNotes(docs)
	if err != nil {
		return nil, err
	}

	sources := make([]models.ReportSourceNote, 0, min(len(notes), maxSourceNotes))
	for _, n := range notes[:min(len(notes), maxSourceNotes)] {
		sources = append(sources, models.ReportSourceNote{
			ID:        n.ID,
			Text:      truncate(n.Text, maxNoteRunes),
			OwnerUID:  n.OwnerUID,
			UpdatedAt: n.UpdatedAt,
		})
	}

	if s.summarizer == nil {
		return nil, errors.New("reports: no summarizer configured")
	}
	text, err := s.summarizer.Summarize(ctx, notes)
	if err != nil {
		return nil, err
	}

	count := len(notes)
	now := models.At(s.store.Now())
	if err := s.store.Update(ctx, repository.Reports(sched.PairID), sched.ReportID, map[string]any{
		"status":      models.ReportReady,
		"summary":     text,
		"error":       nil,
		"notesCount":  count,
		"sourceNotes": sources,
		"updatedAt":   now,
	}); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	return &models.Report{
		ID:          sched.ReportID,
		Status:      models.ReportReady,
		CreatedBy:   sched.UID,
		PeriodStart: models.At(sched.SlotStart),
		PeriodEnd:   models.At(sched.SlotEnd),
		NotesCount:  &count,
		Summary:     &text,
		SourceNotes: sources,
		UpdatedAt:   now,
	}, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
