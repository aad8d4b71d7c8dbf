// Package app assembles the configured backend client, session provider, and
// services into one application container.
package app

import (
	"context"
	"fmt"

	"github.com/kianjain/shisuka/internal/backend"
	"github.com/kianjain/shisuka/internal/config"
	"github.com/kianjain/shisuka/internal/observability"
	"github.com/kianjain/shisuka/internal/service"
	"github.com/kianjain/shisuka/internal/session"
)

// AvatarBucket is the storage bucket for profile images; project media lives
// in the configured project bucket.
const AvatarBucket = "avatars"

// App holds all application dependencies.
type App struct {
	Config        *config.Config
	Client        *backend.Client
	Session       *session.Provider
	Projects      *service.ProjectService
	Feedback      *service.FeedbackService
	Coins         *service.CoinService
	Favorites     *service.FavoriteService
	Notifications *service.NotificationService

	shutdownTracing func(context.Context) error
}

// New creates the application container.
func New(cfg *config.Config) (*App, error) {
	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "shisuka",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.SamplerRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	store, err := session.NewFileTokenStore()
	if err != nil {
		return nil, fmt.Errorf("token store init failed: %w", err)
	}
	provider := session.NewProvider(store, AvatarBucket)

	client, err := backend.New(backend.Config{
		URL:         cfg.BackendURL,
		APIKey:      cfg.BackendAnonKey,
		TokenSource: provider.AccessToken,
		Timeout:     cfg.RequestTimeout(),
		Retry: backend.RetryPolicy{
			MaxAttempts:          cfg.RetryMaxAttempts,
			InitialBackoff:       cfg.RetryInitialBackoff(),
			MaxBackoff:           cfg.RetryMaxBackoff(),
			Multiplier:           2,
			Jitter:               cfg.RetryJitter,
			RetryableStatusCodes: []int{429, 500, 502, 503, 504},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("backend client init failed: %w", err)
	}
	provider.Bind(client)

	profiles := service.NewProfileResolver(client)
	feedback := service.NewFeedbackService(client, provider, profiles, cfg)

	return &App{
		Config:  cfg,
		Client:  client,
		Session: provider,
		Projects: service.NewProjectService(client, provider, service.ProjectServiceConfig{
			Bucket:        cfg.StorageBucket,
			MaxImageBytes: cfg.MaxImageBytes,
			MaxAudioBytes: cfg.MaxAudioBytes,
		}),
		Feedback:        feedback,
		Coins:           service.NewCoinService(client, provider),
		Favorites:       service.NewFavoriteService(client, provider),
		Notifications:   service.NewNotificationService(client, provider, profiles, feedback),
		shutdownTracing: shutdownTracing,
	}, nil
}

// SignOut ends the session and resets every store derived from it, so a
// following sign-in starts from a clean slate.
func (a *App) SignOut(ctx context.Context) error {
	if err := a.Notifications.StopRealtime(); err != nil {
		return err
	}
	if err := a.Session.SignOut(ctx); err != nil {
		return err
	}
	a.Coins.BalanceStore().Set(0)
	a.Feedback.UnreadStore().Set(0)
	a.Notifications.ItemsStore().Set(nil)
	return nil
}

// Shutdown releases application resources.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.Notifications.StopRealtime(); err != nil {
		return err
	}
	if a.shutdownTracing != nil {
		return a.shutdownTracing(ctx)
	}
	return nil
}
