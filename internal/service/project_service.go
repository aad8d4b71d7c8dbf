package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kianjain/shisuka/internal/backend"
	"github.com/kianjain/shisuka/internal/media"
	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/observability"
)

const (
	maxProjectTitleLen = 120
	// reviewPageSize is the review-feed page length; the feed loads one page
	// at a time as the user scrolls.
	reviewPageSize = 20
)

// ProjectService implements the project lifecycle: upload, listing, edits,
// and deletion with storage cleanup.
type ProjectService struct {
	client        *backend.Client
	identity      Identity
	bucket        string
	maxImageBytes int64
	maxAudioBytes int64
	log           *observability.ServiceLogger
}

// ProjectServiceConfig configures a ProjectService.
type ProjectServiceConfig struct {
	Bucket        string
	MaxImageBytes int64
	MaxAudioBytes int64
}

// NewProjectService creates a ProjectService.
func NewProjectService(client *backend.Client, identity Identity, cfg ProjectServiceConfig) *ProjectService {
	return &ProjectService{
		client:        client,
		identity:      identity,
		bucket:        cfg.Bucket,
		maxImageBytes: cfg.MaxImageBytes,
		maxAudioBytes: cfg.MaxAudioBytes,
		log:           observability.NewServiceLogger("project"),
	}
}

// UploadProjectInput carries a new project. At least one of ImageData and
// AudioData must be set.
type UploadProjectInput struct {
	Title       string
	Description string
	ImageData   []byte
	AudioData   []byte
}

// UploadProject runs the two-phase upload: storage objects first, then the
// record referencing their paths. If the record insert fails, the uploaded
// objects are deleted again so no orphans remain.
func (s *ProjectService) UploadProject(ctx context.Context, in UploadProjectInput) (_ *models.Project, err error) {
	ctx, span := observability.TraceServiceCall(ctx, "project", "UploadProject")
	defer func() { observability.EndSpan(span, err) }()
	s.log.LogCall(ctx, "UploadProject", map[string]any{
		"image_bytes": len(in.ImageData),
		"audio_bytes": len(in.AudioData),
	})

	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, models.NewValidationError("Title is required")
	}
	if len(title) > maxProjectTitleLen {
		return nil, models.NewValidationError(fmt.Sprintf("Title too long (max %d characters)", maxProjectTitleLen))
	}
	if len(in.ImageData) == 0 && len(in.AudioData) == 0 {
		return nil, models.NewValidationError("A project needs an image or an audio file")
	}

	bucket := s.client.Storage().From(s.bucket)

	// Phase 1: storage objects, under the owner's prefix.
	var uploaded []string
	var imagePath, audioPath *string

	if len(in.ImageData) > 0 {
		normalized, err := media.NormalizeCover(in.ImageData, s.maxImageBytes)
		if err != nil {
			return nil, err
		}
		path := fmt.Sprintf("%s/%s.webp", userID, uuid.NewString())
		if err := bucket.Upload(ctx, path, normalized, "image/webp"); err != nil {
			return nil, err
		}
		uploaded = append(uploaded, path)
		imagePath = &path
	}

	if len(in.AudioData) > 0 {
		info, err := media.ValidateAudio(in.AudioData, s.maxAudioBytes)
		if err != nil {
			s.rollbackUploads(ctx, bucket, uploaded)
			return nil, err
		}
		path := fmt.Sprintf("%s/%s.%s", userID, uuid.NewString(), info.Ext)
		if err := bucket.Upload(ctx, path, in.AudioData, info.ContentType); err != nil {
			s.rollbackUploads(ctx, bucket, uploaded)
			return nil, err
		}
		uploaded = append(uploaded, path)
		audioPath = &path
	}

	// Phase 2: the record. The server assigns id and timestamps.
	record := map[string]any{
		"user_id": userID,
		"title":   title,
		"status":  models.ProjectStatusActive,
	}
	if in.Description != "" {
		record["description"] = in.Description
	}
	if imagePath != nil {
		record["image_path"] = *imagePath
	}
	if audioPath != nil {
		record["audio_path"] = *audioPath
	}

	var project models.Project
	if err := s.client.From("projects").Single().Insert(ctx, record, &project); err != nil {
		if cleanupErr := s.rollbackUploads(ctx, bucket, uploaded); cleanupErr != nil {
			return nil, errors.Join(err, cleanupErr)
		}
		return nil, err
	}
	return &project, nil
}

// rollbackUploads is the compensating action for a failed phase 2. Both the
// attempt and any failure are logged; silence here would hide orphans.
func (s *ProjectService) rollbackUploads(ctx context.Context, bucket *backend.BucketClient, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	err := bucket.Remove(ctx, paths)
	s.log.LogCompensation(ctx, "UploadProject", paths, err)
	if err != nil {
		observability.RecordErrorInContext(ctx, err)
		return fmt.Errorf("cleanup of uploaded objects failed: %w", err)
	}
	return nil
}

// GetProjects returns the signed-in user's own projects, newest first.
func (s *ProjectService) GetProjects(ctx context.Context) ([]models.Project, error) {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return nil, err
	}
	var projects []models.Project
	err = s.client.From("projects").
		Select("*").
		Eq("user_id", userID).
		Order("created_at", false).
		Get(ctx, &projects)
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProjectsForReview returns one page of other users' projects, newest
// first. The exclusion of own
// projects is a server-side contract; the client still re-filters in case
// that contract ever changes.
func (s *ProjectService) GetProjectsForReview(ctx context.Context, page int) ([]models.Project, error) {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}
	var projects []models.Project
	err = s.client.From("projects").
		Select("*").
		Neq("user_id", userID).
		Order("created_at", false).
		Offset(page * reviewPageSize).
		Limit(reviewPageSize).
		Get(ctx, &projects)
	if err != nil {
		return nil, err
	}

	filtered := projects[:0]
	for _, p := range projects {
		if p.UserID == userID {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered, nil
}

// GetProject fetches one project by id.
func (s *ProjectService) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var project models.Project
	err := s.client.From("projects").
		Select("*").
		Eq("id", projectID).
		Single().
		Get(ctx, &project)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, models.NewNotFoundError("Project", projectID)
		}
		return nil, err
	}
	return &project, nil
}

// UpdateTitle changes a project's title. Owner only.
func (s *ProjectService) UpdateTitle(ctx context.Context, projectID, title string) (*models.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, models.NewValidationError("Title is required")
	}
	if len(title) > maxProjectTitleLen {
		return nil, models.NewValidationError(fmt.Sprintf("Title too long (max %d characters)", maxProjectTitleLen))
	}
	return s.updateOwned(ctx, projectID, map[string]any{"title": title})
}

// UpdateDescription changes a project's description. Owner only.
func (s *ProjectService) UpdateDescription(ctx context.Context, projectID, description string) (*models.Project, error) {
	return s.updateOwned(ctx, projectID, map[string]any{"description": description})
}

// UpdateStatus changes a project's status. Owner only.
func (s *ProjectService) UpdateStatus(ctx context.Context, projectID, status string) (*models.Project, error) {
	if !models.ValidProjectStatus(status) {
		return nil, models.NewValidationError("Invalid project status")
	}
	return s.updateOwned(ctx, projectID, map[string]any{"status": status})
}

func (s *ProjectService) updateOwned(ctx context.Context, projectID string, fields map[string]any) (*models.Project, error) {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return nil, err
	}
	existing, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, models.NewNotAuthorizedError("You can only edit your own projects")
	}

	var project models.Project
	err = s.client.From("projects").
		Eq("id", projectID).
		Eq("user_id", userID).
		Single().
		Update(ctx, fields, &project)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// DeleteProject removes the record and then its storage objects. A storage
// failure after the record is gone leaves orphans; that is tolerated but
// logged loudly, never swallowed.
func (s *ProjectService) DeleteProject(ctx context.Context, projectID string) error {
	userID, err := s.identity.CurrentUserID()
	if err != nil {
		return err
	}
	existing, err := s.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if existing.UserID != userID {
		return models.NewNotAuthorizedError("You can only delete your own projects")
	}

	err = s.client.From("projects").
		Eq("id", projectID).
		Eq("user_id", userID).
		Delete(ctx)
	if err != nil {
		return err
	}

	if paths := existing.StoragePaths(); len(paths) > 0 {
		if err := s.client.Storage().From(s.bucket).Remove(ctx, paths); err != nil {
			s.log.LogOrphan(ctx, "DeleteProject", paths, err)
		}
	}
	return nil
}

// CoverURL returns the public URL for a project's cover image, or "" for
// audio-only projects.
func (s *ProjectService) CoverURL(p *models.Project) string {
	if p.ImagePath == nil || *p.ImagePath == "" {
		return ""
	}
	return s.client.Storage().From(s.bucket).PublicURL(*p.ImagePath)
}
