// Package profiles reads and edits the principal-owned part of a profile.
package profiles

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/duet/internal/apperr"
	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/repository"
)

// MaxDisplayName bounds a display name, in characters.
const MaxDisplayName = 80

// Service manages profiles.
type Service struct {
	store *docstore.Store
}

// NewService creates a profile service.
func NewService(store *docstore.Store) *Service {
	return &Service{store: store}
}

// Get returns the profile of uid.
func (s *Service) Get(ctx context.Context, uid string) (*models.Profile, error) {
	p, err := repository.Profile(ctx, s.store, uid)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("profile %s: %w", uid, apperr.ErrNotFound)
	}
	return p, nil
}

// UpdateDisplayName renames me. The public directory entry is rewritten in the
// same transaction and carries only the email and display name.
func (s *Service) UpdateDisplayName(ctx context.Context, me, name string) (*models.Profile, error) {
	name = strings.TrimSpace(name)
	if err := validation.Validate(name, validation.Required, validation.RuneLength(1, MaxDisplayName)); err != nil {
		return nil, fmt.Errorf("display name: %v: %w", err, apperr.ErrInvalidInput)
	}

	var out *models.Profile
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		p, err := repository.Profile(ctx, tx, me)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("profile %s: %w", me, apperr.ErrNotFound)
		}
		now := models.At(tx.Now())
		if err := tx.Update(repository.Profiles, me, map[string]any{
			"displayName": name,
			"updatedAt":   now,
		}); err != nil {
			return err
		}
		if err := tx.Set(repository.Directory, me, models.DirectoryEntry{Email: p.Email, DisplayName: name}, false); err != nil {
			return err
		}
		p.DisplayName = name
		p.UpdatedAt = now
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
