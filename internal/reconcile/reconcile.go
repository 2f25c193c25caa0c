// Package reconcile keeps each principal's denormalized pairing fields in line
// with the canonical pair record.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/repository"
)

// Patch is a corrective write to a profile's pairing fields. Nil pointers clear
// the field. When ResolveEmail is set the partner's email is looked up from the
// public directory before writing.
type Patch struct {
	PairID       *string
	PartnerID    *string
	ResolveEmail bool
}

// Clears reports whether the patch removes the pairing entirely.
func (p *Patch) Clears() bool {
	return p.PairID == nil
}

// Reduce derives the patch that brings profile in line with active, the pair
// me currently belongs to. It returns nil when nothing needs to change or the
// profile does not exist.
func Reduce(me string, profile *models.Profile, active *models.Pair) *Patch {
	if profile == nil {
		return nil
	}
	if active == nil {
		if profile.PairID == nil {
			return nil
		}
		return &Patch{}
	}

	partner := active.Partner(me)
	if equal(profile.PairID, active.ID) && equal(profile.PartnerID, partner) {
		return nil
	}
	pairID := active.ID
	if partner == "" {
		return &Patch{PairID: &pairID}
	}
	return &Patch{PairID: &pairID, PartnerID: &partner, ResolveEmail: true}
}

func equal(field *string, want string) bool {
	if want == "" {
		return field == nil
	}
	return field != nil && *field == want
}

// Reconciler applies patches to profiles.
type Reconciler struct {
	store  *docstore.Store
	logger *slog.Logger
}

// New creates a reconciler.
func New(store *docstore.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger}
}

// Evaluate reduces the inputs and, if they diverge, writes me's profile.
// It reports whether a write was issued.
func (r *Reconciler) Evaluate(ctx context.Context, me string, profile *models.Profile, active *models.Pair) (bool, error) {
	if Reduce(me, profile, active) == nil {
		return false, nil
	}
	// The snapshot may lag behind a write already issued; confirm against stored state.
	current, err := repository.Profile(ctx, r.store, me)
	if err != nil {
		return false, fmt.Errorf("reconciler: read profile: %w", err)
	}
	patch := Reduce(me, current, active)
	if patch == nil {
		return false, nil
	}

	fields := map[string]any{
		"pairId":       patch.PairID,
		"partnerId":    patch.PartnerID,
		"partnerEmail": nil,
		"updatedAt":    models.At(r.store.Now()),
	}
	if patch.ResolveEmail {
		entry, err := repository.DirectoryEntry(ctx, r.store, *patch.PartnerID)
		if err != nil {
			return false, fmt.Errorf("reconciler: resolve partner email: %w", err)
		}
		if entry != nil {
			fields["partnerEmail"] = entry.Email
		}
	}

	if err := r.store.Update(ctx, repository.Profiles, me, fields); err != nil {
		return false, fmt.Errorf("reconciler: write profile: %w", err)
	}
	if patch.Clears() {
		r.logger.Info("reconciler: cleared pairing", slog.String("uid", me))
	} else {
		r.logger.Info("reconciler: updated pairing",
			slog.String("uid", me), slog.String("pair_id", *patch.PairID))
	}
	return true, nil
}

// SyncEndedPairOnOpen clears me's pairing fields when pairID refers to a pair
// that is missing or ended. It reports whether the profile was cleared.
func (r *Reconciler) SyncEndedPairOnOpen(ctx context.Context, me, pairID string) (bool, error) {
	pair, err := repository.Pair(ctx, r.store, pairID)
	if err != nil {
		return false, err
	}
	if pair != nil && !pair.Ended() {
		return false, nil
	}
	if err := r.store.Set(ctx, repository.Profiles, me, repository.ClearedPairing(models.At(r.store.Now())), true); err != nil {
		return false, fmt.Errorf("reconciler: clear profile: %w", err)
	}
	r.logger.Info("reconciler: cleared ended pair on open",
		slog.String("uid", me), slog.String("pair_id", pairID))
	return true, nil
}

// inputKey identifies the reconciler inputs that matter for deduplication.
func inputKey(profile *models.Profile, active *models.Pair) string {
	str := func(p *string) string {
		if p == nil {
			return "-"
		}
		return *p
	}
	pair := "-"
	if active != nil {
		pair = active.ID
	}
	if profile == nil {
		return "nil|" + pair
	}
	return str(profile.PairID) + "|" + str(profile.PartnerID) + "|" + pair
}

// DefaultTick is how often sessions re-evaluate the report schedule.
const DefaultTick = 90 * time.Second
