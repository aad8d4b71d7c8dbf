package models

import "time"

// Helpful ratings a reviewer's feedback can carry. Zero doubles as "cleared".
const (
	HelpfulRatingDown    = -1
	HelpfulRatingNeutral = 0
	HelpfulRatingUp      = 1
)

// Feedback is a text review left by one user on another user's project.
type Feedback struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	AuthorID      string     `json:"author_id"`
	Comment       string     `json:"comment"`
	HelpfulRating *int       `json:"helpful_rating,omitempty"`
	SeenAt        *time.Time `json:"seen_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	// AuthorName is enriched from the profiles table after the list fetch.
	// Falls back to a default label when the lookup fails.
	AuthorName string `json:"author_name,omitempty"`
}

// Seen reports whether the project owner has viewed this feedback.
func (f *Feedback) Seen() bool {
	return f.SeenAt != nil && !f.SeenAt.IsZero()
}

// ValidHelpfulRating reports whether r is an accepted rating value.
func ValidHelpfulRating(r int) bool {
	return r >= HelpfulRatingDown && r <= HelpfulRatingUp
}

// Favorite is a user's bookmark of a project, unique per (user, project).
type Favorite struct {
	UserID    string    `json:"user_id"`
	ProjectID string    `json:"project_id"`
	CreatedAt time.Time `json:"created_at"`
}
