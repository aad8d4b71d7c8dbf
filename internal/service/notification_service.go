package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kianjain/shisuka/internal/backend"
	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/observability"
	"github.com/kianjain/shisuka/internal/state"
)

// NotificationService derives an activity feed from other users' uploads and
// from feedback received on the current user's projects. Items are never
// stored; every fetch rebuilds the feed from the source tables.
type NotificationService struct {
	client   *backend.Client
	identity Identity
	profiles ProfileResolver
	feedback *FeedbackService

	items *state.Store[[]models.NotificationItem]
	log   *observability.ServiceLogger

	mu       sync.Mutex
	realtime *backend.RealtimeClient
}

// NewNotificationService creates a NotificationService. feedback may be nil;
// it is only used to refresh the unread badge on realtime inserts.
func NewNotificationService(client *backend.Client, identity Identity, profiles ProfileResolver, feedback *FeedbackService) *NotificationService {
	return &NotificationService{
		client:   client,
		identity: identity,
		profiles: profiles,
		feedback: feedback,
		items:    state.NewStore("notifications", []models.NotificationItem(nil)),
		log:      observability.NewServiceLogger("notifications"),
	}
}

// ItemsStore exposes the observable notification feed.
func (s *NotificationService) ItemsStore() *state.Store[[]models.NotificationItem] {
	return s.items
}

// Fetch rebuilds the feed: recent uploads by other users plus feedback
// received on the caller's projects, merged and ordered by creation time,
// newest first. The two sources are fetched concurrently.
func (s *NotificationService) Fetch(ctx context.Context) ([]models.NotificationItem, error) {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return nil, err
	}

	var (
		wg          sync.WaitGroup
		uploads     []models.NotificationItem
		uploadsErr  error
		received    []models.NotificationItem
		receivedErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		uploads, uploadsErr = s.fetchUploads(ctx, userID)
	}()
	go func() {
		defer wg.Done()
		received, receivedErr = s.fetchFeedbackReceived(ctx, userID)
	}()
	wg.Wait()

	if uploadsErr != nil {
		return nil, uploadsErr
	}
	if receivedErr != nil {
		return nil, receivedErr
	}

	merged := append(uploads, received...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})

	now := time.Now()
	for i := range merged {
		merged[i].TimeAgo = TimeAgo(merged[i].CreatedAt, now)
	}

	s.items.Set(merged)
	return merged, nil
}

// fetchUploads lists recent projects uploaded by other users.
func (s *NotificationService) fetchUploads(ctx context.Context, userID string) ([]models.NotificationItem, error) {
	var projects []models.Project
	err := s.client.From("projects").
		Select("*").
		Neq("user_id", userID).
		Order("created_at", false).
		Limit(20).
		Get(ctx, &projects)
	if err != nil {
		return nil, err
	}

	items := make([]models.NotificationItem, 0, len(projects))
	for _, p := range projects {
		items = append(items, models.NotificationItem{
			ID:           "upload:" + p.ID,
			UserName:     resolveName(ctx, s.profiles, s.log, "Fetch", p.UserID),
			Action:       models.NotificationActionUploaded,
			ProjectID:    p.ID,
			ProjectName:  p.Title,
			ProjectImage: p.ImagePath,
			CreatedAt:    p.CreatedAt,
		})
	}
	return items, nil
}

// fetchFeedbackReceived lists feedback left on the caller's own projects.
func (s *NotificationService) fetchFeedbackReceived(ctx context.Context, userID string) ([]models.NotificationItem, error) {
	var projects []models.Project
	err := s.client.From("projects").
		Select("id,title,image_path").
		Eq("user_id", userID).
		Get(ctx, &projects)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, nil
	}

	ids := make([]string, len(projects))
	byID := make(map[string]models.Project, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	var feedback []models.Feedback
	err = s.client.From("feedback").
		Select("*").
		In("project_id", ids).
		Order("created_at", false).
		Limit(20).
		Get(ctx, &feedback)
	if err != nil {
		return nil, err
	}

	items := make([]models.NotificationItem, 0, len(feedback))
	for _, f := range feedback {
		project := byID[f.ProjectID]
		items = append(items, models.NotificationItem{
			ID:           "feedback:" + f.ID,
			UserName:     resolveName(ctx, s.profiles, s.log, "Fetch", f.AuthorID),
			Action:       models.NotificationActionReviewed,
			ProjectID:    f.ProjectID,
			ProjectName:  project.Title,
			ProjectImage: project.ImagePath,
			CreatedAt:    f.CreatedAt,
		})
	}
	return items, nil
}

// StartRealtime subscribes to feedback inserts and refreshes the feed and
// unread badge when feedback lands on one of the caller's projects. Events
// for other users' projects are filtered out client-side.
func (s *NotificationService) StartRealtime(ctx context.Context) error {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.realtime != nil {
		return nil
	}

	rt := s.client.Realtime()
	if err := rt.Connect(ctx); err != nil {
		return err
	}

	err = rt.Subscribe(ctx, backend.SubscribeConfig{
		Event:  "INSERT",
		Schema: "public",
		Table:  "feedback",
	}, func(event *backend.RealtimeEvent) {
		s.handleFeedbackInsert(context.Background(), userID, event)
	})
	if err != nil {
		rt.Close()
		return err
	}

	s.realtime = rt
	return nil
}

// StopRealtime tears down the realtime subscription if one is active.
func (s *NotificationService) StopRealtime() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.realtime == nil {
		return nil
	}
	err := s.realtime.Close()
	s.realtime = nil
	return err
}

func (s *NotificationService) handleFeedbackInsert(ctx context.Context, userID string, event *backend.RealtimeEvent) {
	var f models.Feedback
	if err := event.Record(&f); err != nil {
		s.log.LogError(ctx, "StartRealtime (decode)", err)
		return
	}
	if f.AuthorID == userID {
		return
	}

	var project models.Project
	err := s.client.From("projects").
		Select("id,user_id").
		Eq("id", f.ProjectID).
		Single().
		Get(ctx, &project)
	if err != nil {
		s.log.LogError(ctx, "StartRealtime (project lookup)", err)
		return
	}
	if project.UserID != userID {
		return
	}

	if _, err := s.Fetch(ctx); err != nil {
		s.log.LogError(ctx, "StartRealtime (refresh)", err)
	}
	if s.feedback != nil {
		if _, err := s.feedback.UnreadCount(ctx); err != nil {
			s.log.LogError(ctx, "StartRealtime (unread)", err)
		}
	}
}

// TimeAgo formats an absolute timestamp relative to now for display. The
// result is presentation only and never participates in ordering.
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/(24*7)))
	}
}
