package service

import (
	"context"
	"sync"

	"github.com/kianjain/shisuka/internal/backend"
	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/observability"
)

// FavoriteService manages per-user project favorites.
type FavoriteService struct {
	client   *backend.Client
	identity Identity

	// inFlight guards against concurrent toggles of the same
	// (user, project) pair; a second toggle while one is running would
	// race the check-then-write and flip the state twice.
	mu       sync.Mutex
	inFlight map[string]struct{}

	log *observability.ServiceLogger
}

// NewFavoriteService creates a FavoriteService.
func NewFavoriteService(client *backend.Client, identity Identity) *FavoriteService {
	return &FavoriteService{
		client:   client,
		identity: identity,
		inFlight: make(map[string]struct{}),
		log:      observability.NewServiceLogger("favorites"),
	}
}

// Toggle flips the favorite state of a project for the current user and
// returns the new state. A toggle already in flight for the same pair
// returns a conflict instead of queueing.
func (s *FavoriteService) Toggle(ctx context.Context, projectID string) (bool, error) {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return false, err
	}

	key := userID + "/" + projectID
	s.mu.Lock()
	if _, busy := s.inFlight[key]; busy {
		s.mu.Unlock()
		return false, models.NewConflictError("Favorite toggle already in progress")
	}
	s.inFlight[key] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	favorited, err := s.isFavorited(ctx, userID, projectID)
	if err != nil {
		return false, err
	}

	if favorited {
		err = s.client.From("favorites").
			Eq("user_id", userID).
			Eq("project_id", projectID).
			Delete(ctx)
		if err != nil {
			return true, err
		}
		return false, nil
	}

	err = s.client.From("favorites").
		Insert(ctx, map[string]any{"user_id": userID, "project_id": projectID}, nil)
	if err != nil {
		// Lost a race with another device that favorited first; the
		// desired row exists either way.
		if models.IsConflict(err) {
			return true, nil
		}
		return false, err
	}
	return true, nil
}

// IsFavorited reports whether the current user has favorited the project.
func (s *FavoriteService) IsFavorited(ctx context.Context, projectID string) (bool, error) {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return false, err
	}
	return s.isFavorited(ctx, userID, projectID)
}

func (s *FavoriteService) isFavorited(ctx context.Context, userID, projectID string) (bool, error) {
	var rows []models.Favorite
	err := s.client.From("favorites").
		Select("project_id").
		Eq("user_id", userID).
		Eq("project_id", projectID).
		Limit(1).
		Get(ctx, &rows)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// ListFavorites returns the current user's favorited projects, most recently
// favorited first.
func (s *FavoriteService) ListFavorites(ctx context.Context) ([]models.Project, error) {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return nil, err
	}

	var favorites []models.Favorite
	err = s.client.From("favorites").
		Select("project_id,created_at").
		Eq("user_id", userID).
		Order("created_at", false).
		Get(ctx, &favorites)
	if err != nil {
		return nil, err
	}
	if len(favorites) == 0 {
		return []models.Project{}, nil
	}

	ids := make([]string, len(favorites))
	for i, f := range favorites {
		ids[i] = f.ProjectID
	}

	var projects []models.Project
	err = s.client.From("projects").
		Select("*").
		In("id", ids).
		Get(ctx, &projects)
	if err != nil {
		return nil, err
	}

	// Preserve favorite order; a favorite whose project has since been
	// deleted is silently skipped.
	byID := make(map[string]models.Project, len(projects))
	for _, p := range projects {
		byID[p.ID] = p
	}
	ordered := make([]models.Project, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}
