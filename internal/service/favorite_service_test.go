package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/testutil"
)

func newFavoriteService(t *testing.T, f *testutil.FakeBackend, userID string) *FavoriteService {
	t.Helper()
	return NewFavoriteService(testutil.NewClient(t, f, ""), testutil.StaticIdentity(userID))
}

func TestFavoriteService_Toggle_Involution(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	userID := uuid.NewString()
	project := testutil.SeedProject(f, uuid.NewString())
	projectID := project["id"].(string)

	svc := newFavoriteService(t, f, userID)
	ctx := context.Background()

	favorited, err := svc.Toggle(ctx, projectID)
	require.NoError(t, err)
	assert.True(t, favorited)
	assert.Len(t, f.Rows("favorites"), 1)

	favorited, err = svc.Toggle(ctx, projectID)
	require.NoError(t, err)
	assert.False(t, favorited)
	assert.Empty(t, f.Rows("favorites"))

	// Toggling twice lands back where it started.
	got, err := svc.IsFavorited(ctx, projectID)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestFavoriteService_Toggle_InsertRaceCountsAsFavorited(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	userID := uuid.NewString()
	project := testutil.SeedProject(f, uuid.NewString())
	projectID := project["id"].(string)

	svc := newFavoriteService(t, f, userID)
	favorited, err := svc.Toggle(context.Background(), projectID)
	require.NoError(t, err)
	require.True(t, favorited)

	// Simulate another device adding the same favorite between this client's
	// check and its insert: the conflict resolves to "favorited".
	other := newFavoriteService(t, f, userID)
	favorited, err = other.Toggle(context.Background(), projectID)
	require.NoError(t, err)
	assert.False(t, favorited) // sees the row, removes it
}

func TestFavoriteService_Toggle_InFlightGuard(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	userID := uuid.NewString()
	project := testutil.SeedProject(f, uuid.NewString())
	projectID := project["id"].(string)

	svc := newFavoriteService(t, f, userID)

	// Occupy the guard directly, then observe the second toggle bouncing.
	svc.mu.Lock()
	svc.inFlight[userID+"/"+projectID] = struct{}{}
	svc.mu.Unlock()

	_, err := svc.Toggle(context.Background(), projectID)
	assert.True(t, models.IsConflict(err), "expected conflict, got %v", err)

	svc.mu.Lock()
	delete(svc.inFlight, userID+"/"+projectID)
	svc.mu.Unlock()

	favorited, err := svc.Toggle(context.Background(), projectID)
	require.NoError(t, err)
	assert.True(t, favorited)
}

func TestFavoriteService_Toggle_DifferentProjectsDoNotBlock(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	userID := uuid.NewString()
	a := testutil.SeedProject(f, uuid.NewString())["id"].(string)
	b := testutil.SeedProject(f, uuid.NewString())["id"].(string)

	svc := newFavoriteService(t, f, userID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a, b} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = svc.Toggle(context.Background(), id)
		}(i, id)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Len(t, f.Rows("favorites"), 2)
}

func TestFavoriteService_ListFavorites_OrderAndSkipsDeleted(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	userID := uuid.NewString()
	first := testutil.SeedProject(f, uuid.NewString())
	second := testutil.SeedProject(f, uuid.NewString())

	f.Insert("favorites", map[string]any{
		"user_id": userID, "project_id": first["id"],
		"created_at": "2026-08-01T00:00:00Z",
	})
	f.Insert("favorites", map[string]any{
		"user_id": userID, "project_id": second["id"],
		"created_at": "2026-08-15T00:00:00Z",
	})
	// Dangling favorite for a project that no longer exists.
	f.Insert("favorites", map[string]any{
		"user_id": userID, "project_id": uuid.NewString(),
		"created_at": "2026-08-20T00:00:00Z",
	})

	svc := newFavoriteService(t, f, userID)
	projects, err := svc.ListFavorites(context.Background())
	require.NoError(t, err)

	require.Len(t, projects, 2)
	assert.Equal(t, second["id"], projects[0].ID)
	assert.Equal(t, first["id"], projects[1].ID)
}

func TestFavoriteService_ListFavorites_Empty(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	svc := newFavoriteService(t, f, uuid.NewString())

	projects, err := svc.ListFavorites(context.Background())
	require.NoError(t, err)
	assert.Empty(t, projects)
}
