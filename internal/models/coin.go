package models

import "time"

// CoinBalance is a user's spendable "rumor" balance. The backend keeps it
// non-negative; all mutations go through the earn/spend stored procedures.
type CoinBalance struct {
	UserID    string    `json:"user_id"`
	Balance   int       `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notification actions shown in the activity feed.
const (
	NotificationActionUploaded = "uploaded"
	NotificationActionReviewed = "reviewed"
)

// NotificationItem is a derived, read-only activity entry. It is built fresh
// on each fetch and never persisted or mutated locally.
type NotificationItem struct {
	ID           string    `json:"id"`
	UserName     string    `json:"user_name"`
	Action       string    `json:"action"`
	ProjectID    string    `json:"project_id"`
	ProjectName  string    `json:"project_name"`
	ProjectImage *string   `json:"project_image,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// TimeAgo is the display form of CreatedAt ("2h ago"). Ordering always
	// uses CreatedAt; TimeAgo is formatting only.
	TimeAgo string `json:"time_ago"`
}
