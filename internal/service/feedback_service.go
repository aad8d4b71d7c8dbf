package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kianjain/shisuka/internal/backend"
	"github.com/kianjain/shisuka/internal/config"
	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/observability"
	"github.com/kianjain/shisuka/internal/state"
)

// FeedbackService implements feedback submission, listing, seen tracking,
// and helpful ratings.
type FeedbackService struct {
	client    *backend.Client
	identity  Identity
	profiles  ProfileResolver
	minLength int
	// ratingActor decides who may set a feedback's helpful rating: the
	// feedback's author reflecting on their own review (observed product
	// behavior) or the reviewed project's owner.
	ratingActor string

	unread *state.Store[int]
	log    *observability.ServiceLogger
}

// NewFeedbackService creates a FeedbackService.
func NewFeedbackService(client *backend.Client, identity Identity, profiles ProfileResolver, cfg *config.Config) *FeedbackService {
	minLength := 100
	ratingActor := config.HelpfulRatingActorAuthor
	if cfg != nil {
		minLength = cfg.FeedbackMinLength
		ratingActor = cfg.HelpfulRatingActor
	}
	return &FeedbackService{
		client:      client,
		identity:    identity,
		profiles:    profiles,
		minLength:   minLength,
		ratingActor: ratingActor,
		unread:      state.NewStore("feedback_unread", 0),
		log:         observability.NewServiceLogger("feedback"),
	}
}

// UnreadStore exposes the observable unread-feedback count.
func (s *FeedbackService) UnreadStore() *state.Store[int] {
	return s.unread
}

// Submit creates feedback on another user's project. The minimum comment
// length is a configurable business rule enforced here as a UX gate; the
// backend stays the final authority.
func (s *FeedbackService) Submit(ctx context.Context, projectID, comment string) (*models.Feedback, error) {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return nil, err
	}

	comment = strings.TrimSpace(comment)
	if len(comment) < s.minLength {
		return nil, models.NewValidationError(fmt.Sprintf("Feedback must be at least %d characters", s.minLength))
	}

	var project models.Project
	err = s.client.From("projects").
		Select("id,user_id").
		Eq("id", projectID).
		Single().
		Get(ctx, &project)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, models.NewNotFoundError("Project", projectID)
		}
		return nil, err
	}
	if project.UserID == userID {
		return nil, models.NewValidationError("You cannot review your own project")
	}

	var feedback models.Feedback
	err = s.client.From("feedback").
		Single().
		Insert(ctx, map[string]any{
			"project_id": projectID,
			"author_id":  userID,
			"comment":    comment,
		}, &feedback)
	if err != nil {
		return nil, err
	}
	return &feedback, nil
}

// ListForProject returns a project's feedback newest first, with author
// names resolved per item. A failed name lookup degrades that one item to
// the fallback label instead of failing the list.
func (s *FeedbackService) ListForProject(ctx context.Context, projectID string) ([]models.Feedback, error) {
	var items []models.Feedback
	err := s.client.From("feedback").
		Select("*").
		Eq("project_id", projectID).
		Order("created_at", false).
		Get(ctx, &items)
	if err != nil {
		return nil, err
	}

	for i := range items {
		items[i].AuthorName = resolveName(ctx, s.profiles, s.log, "ListForProject", items[i].AuthorID)
	}

	// Keep the badge current whenever a feedback list is loaded.
	if _, err := s.UnreadCount(ctx); err != nil {
		s.log.LogError(ctx, "ListForProject (recount)", err)
	}
	return items, nil
}

// MarkSeen stamps a feedback item as seen by the project owner. Idempotent:
// the filter only matches unseen rows, so an already-seen item is a no-op and
// its original seen_at is preserved.
func (s *FeedbackService) MarkSeen(ctx context.Context, feedbackID string) error {
	if _, err := s.identity.CurrentUserID(); err != nil {
		return err
	}
	err := s.client.From("feedback").
		Eq("id", feedbackID).
		Is("seen_at", "null").
		Update(ctx, map[string]any{"seen_at": time.Now().UTC().Format(time.RFC3339)}, nil)
	if err != nil {
		return err
	}
	// The badge must not go stale after the item was marked.
	if _, err := s.UnreadCount(ctx); err != nil {
		s.log.LogError(ctx, "MarkSeen (recount)", err)
	}
	return nil
}

// MarkAllSeen marks every unseen item of a project as seen. Called when the
// owner opens the project.
func (s *FeedbackService) MarkAllSeen(ctx context.Context, projectID string) error {
	if _, err := s.identity.CurrentUserID(); err != nil {
		return err
	}
	err := s.client.From("feedback").
		Eq("project_id", projectID).
		Is("seen_at", "null").
		Update(ctx, map[string]any{"seen_at": time.Now().UTC().Format(time.RFC3339)}, nil)
	if err != nil {
		return err
	}
	// The badge must not go stale after items were marked.
	if _, err := s.UnreadCount(ctx); err != nil {
		s.log.LogError(ctx, "MarkAllSeen (recount)", err)
	}
	return nil
}

// SetHelpfulRating records how helpful a piece of feedback was. Which actor
// may set it is policy-driven; see the package configuration.
func (s *FeedbackService) SetHelpfulRating(ctx context.Context, feedbackID string, rating int) error {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return err
	}
	if !models.ValidHelpfulRating(rating) {
		return models.NewValidationError("Rating must be -1, 0, or 1")
	}

	var feedback models.Feedback
	err = s.client.From("feedback").
		Select("id,project_id,author_id").
		Eq("id", feedbackID).
		Single().
		Get(ctx, &feedback)
	if err != nil {
		if models.IsNotFound(err) {
			return models.NewNotFoundError("Feedback", feedbackID)
		}
		return err
	}

	switch s.ratingActor {
	case config.HelpfulRatingActorOwner:
		var project models.Project
		err = s.client.From("projects").
			Select("id,user_id").
			Eq("id", feedback.ProjectID).
			Single().
			Get(ctx, &project)
		if err != nil {
			return err
		}
		if project.UserID != userID {
			return models.NewNotAuthorizedError("Only the project owner can rate this feedback")
		}
	default: // author
		if feedback.AuthorID != userID {
			return models.NewNotAuthorizedError("Only the feedback author can rate this feedback")
		}
	}

	return s.client.From("feedback").
		Eq("id", feedbackID).
		Update(ctx, map[string]any{"helpful_rating": rating}, nil)
}

// UnreadCount recomputes the number of unseen feedback items across the
// user's own projects and publishes it. Always recomputed from the backend,
// never served from a stale cache.
func (s *FeedbackService) UnreadCount(ctx context.Context) (int, error) {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return 0, err
	}

	var projects []models.Project
	err = s.client.From("projects").
		Select("id").
		Eq("user_id", userID).
		Get(ctx, &projects)
	if err != nil {
		return 0, err
	}
	if len(projects) == 0 {
		s.unread.Set(0)
		return 0, nil
	}

	ids := make([]string, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
	}

	var unseen []models.Feedback
	err = s.client.From("feedback").
		Select("id").
		In("project_id", ids).
		Is("seen_at", "null").
		Get(ctx, &unseen)
	if err != nil {
		return 0, err
	}

	count := len(unseen)
	s.unread.Set(count)
	return count, nil
}
