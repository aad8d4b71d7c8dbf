package service

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/testutil"
)

func newProjectService(t *testing.T, f *testutil.FakeBackend, userID string) *ProjectService {
	t.Helper()
	client := testutil.NewClient(t, f, "")
	return NewProjectService(client, testutil.StaticIdentity(userID), ProjectServiceConfig{
		Bucket: "projects",
	})
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func wavBytes() []byte {
	header := []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
	return append(header, make([]byte, 32)...)
}

func TestProjectService_UploadProject_Validation(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	svc := newProjectService(t, f, uuid.NewString())
	ctx := context.Background()

	tests := []struct {
		name  string
		input UploadProjectInput
	}{
		{
			name:  "empty title",
			input: UploadProjectInput{ImageData: []byte("x")},
		},
		{
			name:  "whitespace title",
			input: UploadProjectInput{Title: "   ", ImageData: []byte("x")},
		},
		{
			name:  "title too long",
			input: UploadProjectInput{Title: strings.Repeat("x", 121), ImageData: []byte("x")},
		},
		{
			name:  "no media at all",
			input: UploadProjectInput{Title: "My Track"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UploadProject(ctx, tt.input)
			assert.True(t, models.IsValidation(err), "expected validation error, got %v", err)
		})
	}

	// Nothing may reach storage or the table on validation failures.
	assert.Equal(t, 0, f.ObjectCount())
	assert.Empty(t, f.Rows("projects"))
}

func TestProjectService_UploadProject_StoresMediaUnderOwnerPrefix(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	userID := uuid.NewString()
	svc := newProjectService(t, f, userID)

	project, err := svc.UploadProject(context.Background(), UploadProjectInput{
		Title:       "Demo Track",
		Description: "rough mix, be honest",
		ImageData:   pngBytes(t, 64, 64),
		AudioData:   wavBytes(),
	})
	require.NoError(t, err)

	require.NotNil(t, project.ImagePath)
	require.NotNil(t, project.AudioPath)
	assert.True(t, strings.HasPrefix(*project.ImagePath, userID+"/"))
	assert.True(t, strings.HasPrefix(*project.AudioPath, userID+"/"))
	assert.True(t, strings.HasSuffix(*project.ImagePath, ".webp"))
	assert.True(t, strings.HasSuffix(*project.AudioPath, ".wav"))

	// The record's paths must point at objects that actually exist.
	_, ok := f.Object("projects", *project.ImagePath)
	assert.True(t, ok, "image object missing at recorded path")
	_, ok = f.Object("projects", *project.AudioPath)
	assert.True(t, ok, "audio object missing at recorded path")

	assert.Equal(t, models.ProjectStatusActive, project.Status)
	assert.Equal(t, userID, project.UserID)
}

func TestProjectService_UploadProject_RecordFailureCleansUpObjects(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	svc := newProjectService(t, f, uuid.NewString())
	f.FailNext("POST", "/rest/v1/projects", 1)

	_, err := svc.UploadProject(context.Background(), UploadProjectInput{
		Title:     "Doomed",
		ImageData: pngBytes(t, 32, 32),
		AudioData: wavBytes(),
	})
	require.Error(t, err)

	assert.Equal(t, 0, f.ObjectCount(), "uploaded objects must be removed when the record insert fails")
	assert.Empty(t, f.Rows("projects"))
}

func TestProjectService_UploadProject_BadAudioRollsBackImage(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	svc := newProjectService(t, f, uuid.NewString())

	_, err := svc.UploadProject(context.Background(), UploadProjectInput{
		Title:     "Half Broken",
		ImageData: pngBytes(t, 32, 32),
		AudioData: []byte("definitely not audio"),
	})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Equal(t, 0, f.ObjectCount())
}

func TestProjectService_GetProjectsForReview_ExcludesOwnProjects(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	me := uuid.NewString()
	other := uuid.NewString()
	testutil.SeedProject(f, me)
	theirs := testutil.SeedProject(f, other)

	svc := newProjectService(t, f, me)
	projects, err := svc.GetProjectsForReview(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, projects, 1)
	assert.Equal(t, theirs["id"], projects[0].ID)
	for _, p := range projects {
		assert.NotEqual(t, me, p.UserID)
	}
}

func TestProjectService_GetProjectsForReview_Paginates(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	me := uuid.NewString()
	other := uuid.NewString()
	for i := 0; i < reviewPageSize+5; i++ {
		testutil.SeedProject(f, other)
	}

	svc := newProjectService(t, f, me)
	ctx := context.Background()

	first, err := svc.GetProjectsForReview(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, first, reviewPageSize)

	second, err := svc.GetProjectsForReview(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, second, 5)

	// A negative page is clamped to the first one.
	clamped, err := svc.GetProjectsForReview(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, clamped, reviewPageSize)
}

func TestProjectService_GetProjects_OwnOnly(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	me := uuid.NewString()
	mine := testutil.SeedProject(f, me)
	testutil.SeedProject(f, uuid.NewString())

	svc := newProjectService(t, f, me)
	projects, err := svc.GetProjects(context.Background())
	require.NoError(t, err)

	require.Len(t, projects, 1)
	assert.Equal(t, mine["id"], projects[0].ID)
}

func TestProjectService_UpdateTitle_Ownership(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	owner := uuid.NewString()
	row := testutil.SeedProject(f, owner)
	projectID := row["id"].(string)

	t.Run("owner can update", func(t *testing.T) {
		svc := newProjectService(t, f, owner)
		updated, err := svc.UpdateTitle(context.Background(), projectID, "New Title")
		require.NoError(t, err)
		assert.Equal(t, "New Title", updated.Title)
	})

	t.Run("stranger cannot update", func(t *testing.T) {
		svc := newProjectService(t, f, uuid.NewString())
		_, err := svc.UpdateTitle(context.Background(), projectID, "Hijacked")
		assert.True(t, models.IsNotAuthorized(err), "expected not-authorized, got %v", err)
	})

	t.Run("missing project", func(t *testing.T) {
		svc := newProjectService(t, f, owner)
		_, err := svc.UpdateTitle(context.Background(), uuid.NewString(), "Whatever")
		assert.True(t, models.IsNotFound(err))
	})
}

func TestProjectService_UpdateStatus_RejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	owner := uuid.NewString()
	row := testutil.SeedProject(f, owner)

	svc := newProjectService(t, f, owner)
	_, err := svc.UpdateStatus(context.Background(), row["id"].(string), "banana")
	assert.True(t, models.IsValidation(err))
}

func TestProjectService_DeleteProject_RemovesRecordAndObjects(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	userID := uuid.NewString()
	svc := newProjectService(t, f, userID)

	project, err := svc.UploadProject(context.Background(), UploadProjectInput{
		Title:     "Short Lived",
		ImageData: pngBytes(t, 16, 16),
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteProject(context.Background(), project.ID))
	assert.Empty(t, f.Rows("projects"))
	assert.Equal(t, 0, f.ObjectCount())
}

func TestProjectService_DeleteProject_StrangerDenied(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	row := testutil.SeedProject(f, uuid.NewString())

	svc := newProjectService(t, f, uuid.NewString())
	err := svc.DeleteProject(context.Background(), row["id"].(string))
	assert.True(t, models.IsNotAuthorized(err))
	assert.Len(t, f.Rows("projects"), 1)
}

func TestProjectService_CoverURL(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	svc := newProjectService(t, f, uuid.NewString())

	path := "user/cover.webp"
	p := &models.Project{ImagePath: &path}
	assert.Equal(t, f.URL()+"/storage/v1/object/public/projects/user/cover.webp", svc.CoverURL(p))
	assert.Equal(t, "", svc.CoverURL(&models.Project{}))
}
