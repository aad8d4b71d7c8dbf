// Package service implements the resource services: typed operations over the
// backend's project, feedback, coin, favorite, and notification resources.
// Services own no long-lived cache; the backend stays the source of truth and
// shared state is re-fetched after every mutation.
package service

import (
	"context"

	"github.com/kianjain/shisuka/internal/backend"
	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/observability"
)

// Identity resolves the signed-in user. Satisfied by session.Provider.
type Identity interface {
	CurrentUserID() (string, error)
}

// ProfileResolver looks up display names for user ids.
type ProfileResolver interface {
	Username(ctx context.Context, userID string) (string, error)
}

// FallbackUserName is substituted when an author lookup fails. The list
// operation still succeeds; only the one item degrades.
const FallbackUserName = "User"

// profileDirectory resolves usernames from the profiles table.
type profileDirectory struct {
	client *backend.Client
}

// NewProfileResolver returns a resolver backed by the profiles table.
func NewProfileResolver(client *backend.Client) ProfileResolver {
	return &profileDirectory{client: client}
}

func (d *profileDirectory) Username(ctx context.Context, userID string) (string, error) {
	var profile models.Profile
	err := d.client.From("profiles").
		Select("id,username").
		Eq("id", userID).
		Single().
		Get(ctx, &profile)
	if err != nil {
		return "", err
	}
	return profile.Username, nil
}

// resolveName looks up a display name, degrading to the fallback label on a
// per-item failure. Failures are logged, never propagated.
func resolveName(ctx context.Context, resolver ProfileResolver, log *observability.ServiceLogger, method, userID string) string {
	name, err := resolver.Username(ctx, userID)
	if err != nil {
		log.LogPartialFailure(ctx, method, userID, err)
		return FallbackUserName
	}
	if name == "" {
		return FallbackUserName
	}
	return name
}
