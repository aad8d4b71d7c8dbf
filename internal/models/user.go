// Package models contains data structures for the application's domain models.
package models

import "time"

// User represents the authenticated identity issued by the auth service.
// The ID is immutable once issued; all other identity data lives on Profile.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Username returns the username carried in the sign-up metadata, if any.
func (u *User) Username() string {
	if u.UserMetadata == nil {
		return ""
	}
	if v, ok := u.UserMetadata["username"].(string); ok {
		return v
	}
	return ""
}

// EmailVerified reports whether the user has confirmed their email address.
func (u *User) EmailVerified() bool {
	return u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero()
}

// Profile is the public-facing identity record, one per user.
// Profile.ID equals the auth User.ID.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	Bio       *string   `json:"bio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
