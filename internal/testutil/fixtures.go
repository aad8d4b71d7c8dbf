package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/kianjain/shisuka/internal/backend"
)

// NewClient builds a backend client against the fake, with tight backoffs so
// retry paths stay fast under test.
func NewClient(t *testing.T, f *FakeBackend, token string) *backend.Client {
	t.Helper()
	return NewClientWithSource(t, f, func() string { return token })
}

// NewClientWithSource is NewClient with a live token source.
func NewClientWithSource(t *testing.T, f *FakeBackend, source backend.TokenSource) *backend.Client {
	t.Helper()
	client, err := backend.New(backend.Config{
		URL:         f.URL(),
		APIKey:      "test-anon-key",
		TokenSource: source,
		Retry: backend.RetryPolicy{
			MaxAttempts:          3,
			InitialBackoff:       time.Millisecond,
			MaxBackoff:           5 * time.Millisecond,
			Multiplier:           2,
			RetryableStatusCodes: []int{429, 500, 502, 503, 504},
		},
	})
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	return client
}

// StaticIdentity satisfies the service identity dependency with a fixed user.
type StaticIdentity string

func (s StaticIdentity) CurrentUserID() (string, error) {
	return string(s), nil
}

// RandomEmail returns a unique fake email address.
func RandomEmail() string {
	return fmt.Sprintf("%s-%s@example.com", strings.ToLower(gofakeit.Username()), uuid.NewString()[:8])
}

// RandomUsername returns a unique fake username.
func RandomUsername() string {
	return fmt.Sprintf("%s%d", strings.ToLower(gofakeit.Gamertag()), gofakeit.Number(10, 9999))
}

// SeedProfile seeds a profile row for a user.
func SeedProfile(f *FakeBackend, userID, username string) map[string]any {
	return f.Insert("profiles", map[string]any{
		"id":       userID,
		"username": username,
	})
}

// SeedProject seeds an active project owned by userID.
func SeedProject(f *FakeBackend, userID string) map[string]any {
	return f.Insert("projects", map[string]any{
		"user_id":    userID,
		"title":      gofakeit.Sentence(3),
		"image_path": fmt.Sprintf("%s/%s.webp", userID, uuid.NewString()),
		"status":     "active",
	})
}

// SeedFeedback seeds an unseen feedback row on a project.
func SeedFeedback(f *FakeBackend, projectID, authorID string) map[string]any {
	return f.Insert("feedback", map[string]any{
		"project_id": projectID,
		"author_id":  authorID,
		"comment":    gofakeit.Paragraph(1, 3, 12, " "),
	})
}
