// Package pairing implements the invite handshake and the lifecycle of the canonical pair record.
package pairing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"github.com/starford/duet/internal/apperr"
	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/identity"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/pairid"
	"github.com/starford/duet/internal/repository"
)

// Invite list directions.
const (
	Incoming = "in"
	Outgoing = "out"
)

// Service mutates invites and pairs. Every invariant-bearing transition runs
// in a store transaction.
type Service struct {
	store  *docstore.Store
	logger *slog.Logger
	locks  *keyedLocks
}

// NewService creates a pairing service.
func NewService(store *docstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, locks: newKeyedLocks()}
}

// CreateInvite proposes a pair to the principal registered under partnerEmailRaw.
func (s *Service) CreateInvite(ctx context.Context, me identity.Principal, partnerEmailRaw string) (*models.Invite, error) {
	partnerEmail := identity.NormalizeEmail(partnerEmailRaw)
	myEmail := identity.NormalizeEmail(me.Email)
	if partnerEmail == "" {
		return nil, fmt.Errorf("partner email is required: %w", apperr.ErrInvalidInput)
	}
	if err := validation.Validate(partnerEmail, is.EmailFormat); err != nil {
		return nil, fmt.Errorf("partner email: %v: %w", err, apperr.ErrInvalidInput)
	}
	if partnerEmail == myEmail {
		return nil, fmt.Errorf("cannot invite yourself: %w", apperr.ErrInvalidInput)
	}

	profile, err := repository.Profile(ctx, s.store, me.UID)
	if err != nil {
		return nil, err
	}
	if profile != nil && profile.PairID != nil {
		return nil, apperr.ErrAlreadyPaired
	}

	docs, err := s.store.Query(ctx, repository.DirectoryByEmailQuery(partnerEmail))
	if err != nil {
		return nil, fmt.Errorf("lookup partner: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no principal with email %q: %w", partnerEmail, apperr.ErrNotFound)
	}
	partnerUID := docs[0].ID
	if partnerUID == me.UID {
		return nil, fmt.Errorf("cannot invite yourself: %w", apperr.ErrInvalidInput)
	}
	pairID := pairid.Canonical(me.UID, partnerUID)

	// Both directions are checked and the invite is created under one lock per
	// pair, so concurrent invites between the same two principals serialize.
	unlock := s.locks.lock(pairID)
	defer unlock()

	for _, q := range []docstore.Query{
		repository.PendingBetweenQuery(me.UID, partnerUID),
		repository.PendingBetweenQuery(partnerUID, me.UID),
	} {
		pending, err := s.store.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("check pending invites: %w", err)
		}
		if len(pending) > 0 {
			return nil, apperr.ErrDuplicateInvite
		}
	}

	inv := &models.Invite{
		ID:        uuid.NewString(),
		PairID:    pairID,
		FromUID:   me.UID,
		ToUID:     partnerUID,
		FromEmail: myEmail,
		ToEmail:   partnerEmail,
		Status:    models.InvitePending,
		CreatedAt: models.At(s.store.Now()),
	}
	if err := s.store.Set(ctx, repository.Invites, inv.ID, inv, false); err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}
	s.logger.Info("pairing: invite created",
		slog.String("invite_id", inv.ID), slog.String("pair_id", pairID))
	return inv, nil
}

// loadActionable loads an invite the recipient me may accept or decline.
func loadActionable(ctx context.Context, tx *docstore.Tx, me, inviteID string) (*models.Invite, error) {
	inv, err := repository.Invite(ctx, tx, inviteID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("invite %s: %w", inviteID, apperr.ErrNotFound)
	}
	if inv.ToUID != me {
		return nil, apperr.ErrForbidden
	}
	if inv.Status != models.InvitePending {
		return nil, apperr.ErrAlreadyProcessed
	}
	return inv, nil
}

// AcceptInvite accepts an invite addressed to me: the pair is created or
// reactivated and me's profile points at it. The sender's profile is attached
// later by the sender's own session.
func (s *Service) AcceptInvite(ctx context.Context, me, inviteID string) (*models.Pair, error) {
	var pair *models.Pair
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		inv, err := loadActionable(ctx, tx, me, inviteID)
		if err != nil {
			return err
		}
		profile, err := repository.Profile(ctx, tx, me)
		if err != nil {
			return err
		}
		if profile == nil {
			return fmt.Errorf("profile %s: %w", me, apperr.ErrNotFound)
		}
		if profile.PairID != nil {
			return apperr.ErrAlreadyPaired
		}
		sender, err := repository.Profile(ctx, tx, inv.FromUID)
		if err != nil {
			return err
		}
		// The sender's profile may still name a pair the other member ended.
		if sender != nil && sender.PairID != nil && *sender.PairID != inv.PairID {
			other, err := repository.Pair(ctx, tx, *sender.PairID)
			if err != nil {
				return err
			}
			if other != nil && !other.Ended() && other.HasMember(inv.FromUID) {
				return fmt.Errorf("sender is in another pair: %w", apperr.ErrAlreadyPaired)
			}
		}

		now := models.At(tx.Now())
		members := []string{inv.FromUID, inv.ToUID}
		slices.Sort(members)

		if err := tx.Set(repository.Pairs, inv.PairID, map[string]any{
			"members":       members,
			"status":        models.PairActive,
			"endedAt":       nil,
			"endedBy":       nil,
			"createdAt":     now,
			"reactivatedAt": now,
		}, true); err != nil {
			return err
		}
		if err := tx.Update(repository.Profiles, me, map[string]any{
			"pairId":       inv.PairID,
			"partnerId":    inv.FromUID,
			"partnerEmail": inv.FromEmail,
			"updatedAt":    now,
		}); err != nil {
			return err
		}
		if err := tx.Update(repository.Invites, inviteID, map[string]any{
			"status":     models.InviteAccepted,
			"acceptedAt": now,
		}); err != nil {
			return err
		}

		pair = &models.Pair{
			ID:            inv.PairID,
			Members:       members,
			Status:        models.PairActive,
			CreatedAt:     now,
			ReactivatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("pairing: invite accepted",
		slog.String("invite_id", inviteID), slog.String("pair_id", pair.ID))
	return pair, nil
}

// DeclineInvite declines an invite addressed to me.
func (s *Service) DeclineInvite(ctx context.Context, me, inviteID string) error {
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		if _, err := loadActionable(ctx, tx, me, inviteID); err != nil {
			return err
		}
		return tx.Update(repository.Invites, inviteID, map[string]any{"status": models.InviteDeclined})
	})
	if err != nil {
		return err
	}
	s.logger.Info("pairing: invite declined", slog.String("invite_id", inviteID))
	return nil
}

// AttachAcceptedInviteAsSender points the sender's profile at the pair of an
// accepted invite. It is idempotent and reports whether it wrote anything; every
// precondition that does not hold is a silent no-op.
func (s *Service) AttachAcceptedInviteAsSender(ctx context.Context, me, inviteID string) (bool, error) {
	attached := false
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		attached = false
		inv, err := repository.Invite(ctx, tx, inviteID)
		if err != nil || inv == nil {
			return err
		}
		if inv.FromUID != me || inv.Status != models.InviteAccepted {
			return nil
		}
		profile, err := repository.Profile(ctx, tx, me)
		if err != nil || profile == nil {
			return err
		}
		if profile.PairID != nil {
			return nil
		}
		pair, err := repository.Pair(ctx, tx, inv.PairID)
		if err != nil || pair == nil {
			return err
		}
		if pair.Ended() {
			return nil
		}

		attached = true
		return tx.Set(repository.Profiles, me, map[string]any{
			"pairId":       inv.PairID,
			"partnerId":    inv.ToUID,
			"partnerEmail": inv.ToEmail,
			"updatedAt":    models.At(tx.Now()),
		}, true)
	})
	if err != nil {
		return false, err
	}
	if attached {
		s.logger.Info("pairing: sender attached",
			slog.String("invite_id", inviteID), slog.String("uid", me))
	}
	return attached, nil
}

// BreakPair ends me's current pair and clears me's profile. The partner's profile
// is corrected by the partner's own reconciler.
func (s *Service) BreakPair(ctx context.Context, me string) error {
	profile, err := repository.Profile(ctx, s.store, me)
	if err != nil {
		return err
	}
	if profile == nil || profile.PairID == nil {
		return apperr.ErrNotInPair
	}
	pairID := *profile.PairID

	err = s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		pair, err := repository.Pair(ctx, tx, pairID)
		if err != nil {
			return err
		}
		now := models.At(tx.Now())
		if pair == nil {
			return tx.Set(repository.Profiles, me, repository.ClearedPairing(now), true)
		}
		if !pair.HasMember(me) {
			return apperr.ErrForbidden
		}
		if err := tx.Update(repository.Pairs, pairID, map[string]any{
			"status":  models.PairEnded,
			"endedAt": now,
			"endedBy": me,
		}); err != nil {
			return err
		}
		return tx.Set(repository.Profiles, me, repository.ClearedPairing(now), true)
	})
	if err != nil {
		return err
	}
	s.logger.Info("pairing: pair ended", slog.String("pair_id", pairID), slog.String("uid", me))
	return nil
}

// ActivePair returns the active pair me belongs to, or nil.
func (s *Service) ActivePair(ctx context.Context, me string) (*models.Pair, error) {
	docs, err := s.store.Query(ctx, repository.ActivePairQuery(me))
	if err != nil {
		return nil, fmt.Errorf("active pair: %w", err)
	}
	return repository.FirstPair(docs)
}

// ListInvites returns me's incoming or outgoing invites with status, newest first.
func (s *Service) ListInvites(ctx context.Context, me, direction, status string) ([]models.Invite, error) {
	if status == "" {
		status = models.InvitePending
	}
	err := validation.Errors{
		"direction": validation.Validate(direction, validation.Required, validation.In(Incoming, Outgoing)),
		"status": validation.Validate(status,
			validation.In(models.InvitePending, models.InviteAccepted, models.InviteDeclined)),
	}.Filter()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrInvalidInput)
	}

	field := "toUid"
	if direction == Outgoing {
		field = "fromUid"
	}
	docs, err := s.store.Query(ctx, repository.InvitesQuery(field, me, status))
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	return repository.DecodeInvites(docs)
}
