package profiles_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starford/duet/internal/apperr"
	"github.com/starford/duet/internal/profiles"
	"github.com/starford/duet/internal/repository"
	"github.com/starford/duet/internal/testutil"
)

func TestGetProfile(t *testing.T) {
	store := testutil.TestStore(t)
	testutil.SeedPrincipal(t, store, "a", "a@example.com", "Alice")
	svc := profiles.NewService(store)

	p, err := svc.Get(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "Alice", p.DisplayName)

	_, err = svc.Get(context.Background(), "nobody")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateDisplayNameWritesDirectory(t *testing.T) {
	ctx := context.Background()
	store := testutil.TestStore(t)
	testutil.SeedPrincipal(t, store, "a", "a@example.com", "Alice")
	require.NoError(t, store.Set(ctx, repository.Profiles, "a", map[string]any{"pairId": "a_b", "partnerId": "b"}, true))
	svc := profiles.NewService(store)

	p, err := svc.UpdateDisplayName(ctx, "a", "  Ally ")
	require.NoError(t, err)
	require.Equal(t, "Ally", p.DisplayName)

	stored := testutil.LoadProfile(t, store, "a")
	require.Equal(t, "Ally", stored.DisplayName)
	require.Equal(t, "a_b", *stored.PairID, "pairing fields untouched")

	entry, err := repository.DirectoryEntry(ctx, store, "a")
	require.NoError(t, err)
	require.Equal(t, "Ally", entry.DisplayName)
	require.Equal(t, "a@example.com", entry.Email)
}

func TestUpdateDisplayNameValidation(t *testing.T) {
	store := testutil.TestStore(t)
	testutil.SeedPrincipal(t, store, "a", "a@example.com", "Alice")
	svc := profiles.NewService(store)

	_, err := svc.UpdateDisplayName(context.Background(), "a", " ")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = svc.UpdateDisplayName(context.Background(), "a", strings.Repeat("n", profiles.MaxDisplayName+1))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = svc.UpdateDisplayName(context.Background(), "ghost", "Ghost")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
