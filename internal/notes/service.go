// Package notes is the CRUD surface for notes. Notes of a principal in an active
// pair live in the pair's collection; otherwise they are private to the principal.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/duet/internal/apperr"
	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/repository"
)

// MaxTextLength bounds a note's text, in characters.
const MaxTextLength = 10000

// Scope modes.
const (
	ModePair = "pair"
	ModeSolo = "solo"
)

// Scope is where a principal's notes currently live.
type Scope struct {
	Mode   string `json:"mode"`
	PairID string `json:"pairId,omitempty"`
}

func (s Scope) collection(uid string) string {
	if s.Mode == ModePair {
		return repository.Notes(s.PairID)
	}
	return repository.SoloNotes(uid)
}

// Service manages notes.
type Service struct {
	store *docstore.Store
}

// NewService creates a notes service.
func NewService(store *docstore.Store) *Service {
	return &Service{store: store}
}

// ScopeOf resolves me's notes scope: pair mode requires the profile's pair to be
// active with me as a member.
func (s *Service) ScopeOf(ctx context.Context, me string) (Scope, error) {
	profile, err := repository.Profile(ctx, s.store, me)
	if err != nil {
		return Scope{}, err
	}
	if profile == nil || profile.PairID == nil {
		return Scope{Mode: ModeSolo}, nil
	}
	pair, err := repository.Pair(ctx, s.store, *profile.PairID)
	if err != nil {
		return Scope{}, err
	}
	if pair == nil || pair.Status != models.PairActive || !pair.HasMember(me) {
		return Scope{Mode: ModeSolo}, nil
	}
	return Scope{Mode: ModePair, PairID: pair.ID}, nil
}

func validateText(text string) error {
	err := validation.Validate(strings.TrimSpace(text),
		validation.Required,
		validation.RuneLength(1, MaxTextLength),
	)
	if err != nil {
		return fmt.Errorf("text: %v: %w", err, apperr.ErrInvalidInput)
	}
	return nil
}

// List returns me's own notes in the current scope, most recently updated first.
func (s *Service) List(ctx context.Context, me string) (Scope, []models.Note, error) {
	scope, err := s.ScopeOf(ctx, me)
	if err != nil {
		return Scope{}, nil, err
	}
	q := docstore.From(scope.collection(me)).OrderBy("updatedAt", true)
	if scope.Mode == ModePair {
		q = q.Where("ownerUid", docstore.Eq, me)
	}
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return Scope{}, nil, fmt.Errorf("list notes: %w", err)
	}
	notes, err := repository.DecodeNotes(docs)
	return scope, notes, err
}

// Create adds a note owned by me.
func (s *Service) Create(ctx context.Context, me, text string) (*models.Note, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	scope, err := s.ScopeOf(ctx, me)
	if err != nil {
		return nil, err
	}
	profile, err := repository.Profile(ctx, s.store, me)
	if err != nil {
		return nil, err
	}
	now := models.At(s.store.Now())
	n := &models.Note{
		ID:        uuid.NewString(),
		Text:      text,
		OwnerUID:  me,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if profile != nil {
		n.OwnerName = profile.DisplayName
	}
	if err := s.store.Set(ctx, scope.collection(me), n.ID, n, false); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return n, nil
}

// Update replaces the text of a note owned by me.
func (s *Service) Update(ctx context.Context, me, id, text string) (*models.Note, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	scope, err := s.ScopeOf(ctx, me)
	if err != nil {
		return nil, err
	}
	coll := scope.collection(me)

	var out *models.Note
	err = s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		n, err := ownedNote(ctx, tx, coll, me, id)
		if err != nil {
			return err
		}
		n.Text = text
		n.UpdatedAt = models.At(tx.Now())
		out = n
		return tx.Update(coll, id, map[string]any{"text": text, "updatedAt": n.UpdatedAt})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a note owned by me.
func (s *Service) Delete(ctx context.Context, me, id string) error {
	scope, err := s.ScopeOf(ctx, me)
	if err != nil {
		return err
	}
	coll := scope.collection(me)
	return s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		if _, err := ownedNote(ctx, tx, coll, me, id); err != nil {
			return err
		}
		tx.Delete(coll, id)
		return nil
	})
}

func ownedNote(ctx context.Context, tx *docstore.Tx, coll, me, id string) (*models.Note, error) {
	doc, err := tx.Get(ctx, coll, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("note %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	var n models.Note
	if err := doc.Decode(&n); err != nil {
		return nil, err
	}
	n.ID = id
	if n.OwnerUID != me {
		return nil, apperr.ErrForbidden
	}
	return &n, nil
}
