// Package session owns the authenticated identity: the current user, their
// profile, and the session tokens every other service depends on.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kianjain/shisuka/internal/backend"
	"github.com/kianjain/shisuka/internal/media"
	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/observability"
	"github.com/kianjain/shisuka/internal/state"
)

// AuthState is the session lifecycle state.
type AuthState int

const (
	// Unauthenticated means no valid session exists.
	Unauthenticated AuthState = iota
	// PendingVerification means sign-up succeeded but the email link has not
	// been followed yet. Only CheckAuthState can move past it.
	PendingVerification
	// Authenticated means a session is active and the user is loaded.
	Authenticated
)

func (s AuthState) String() string {
	switch s {
	case PendingVerification:
		return "pending_verification"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Snapshot is the observable session state.
type Snapshot struct {
	State   AuthState
	User    *models.User
	Profile *models.Profile
}

// Provider implements the identity/session contract. Construct once per
// process and share by reference.
type Provider struct {
	mu     sync.RWMutex
	client *backend.Client
	store  TokenStore
	tokens *Tokens
	bucket string

	stateStore *state.Store[Snapshot]
	log        *observability.ServiceLogger
}

// NewProvider creates a provider. Bind must be called with the backend client
// before any operation; the client's token source should be the provider's
// AccessToken method.
func NewProvider(store TokenStore, avatarBucket string) *Provider {
	return &Provider{
		store:      store,
		bucket:     avatarBucket,
		stateStore: state.NewStore("session", Snapshot{State: Unauthenticated}),
		log:        observability.NewServiceLogger("session"),
	}
}

// Bind attaches the backend client. Separate from NewProvider because the
// client's token source points back at this provider.
func (p *Provider) Bind(client *backend.Client) {
	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
}

// AccessToken returns the current access token, or "" when signed out.
// Passed to backend.Config.TokenSource at wiring time.
func (p *Provider) AccessToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.tokens == nil {
		return ""
	}
	return p.tokens.AccessToken
}

// Snapshot returns the current session state.
func (p *Provider) Snapshot() Snapshot {
	return p.stateStore.Get()
}

// Subscribe registers for session state changes.
func (p *Provider) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return p.stateStore.Subscribe(buffer)
}

// CurrentUserID returns the signed-in user's id.
func (p *Provider) CurrentUserID() (string, error) {
	snap := p.stateStore.Get()
	if snap.State != Authenticated || snap.User == nil {
		return "", models.NewNotAuthenticatedError()
	}
	return snap.User.ID, nil
}

// SignIn exchanges credentials for a session and loads the profile.
// An unverified email fails with an EMAIL_NOT_VERIFIED error and leaves the
// provider unauthenticated.
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	sess, err := p.client.Auth().SignInWithPassword(ctx, email, password)
	if err != nil {
		p.log.LogError(ctx, "SignIn", err)
		return err
	}
	if sess.User == nil {
		return models.NewDecodeError(fmt.Errorf("session without user"))
	}
	if !sess.User.EmailVerified() {
		return models.NewEmailNotVerifiedError()
	}

	p.setTokens(&Tokens{AccessToken: sess.AccessToken, RefreshToken: sess.RefreshToken})

	profile, err := p.fetchOrCreateProfile(ctx, sess.User)
	if err != nil {
		// Identity is established even when the profile fetch fails; the
		// profile screen can retry.
		p.log.LogError(ctx, "SignIn (profile)", err)
	}
	p.publish(Snapshot{State: Authenticated, User: sess.User, Profile: profile})
	return nil
}

// SignUp registers a new account. When email confirmation is required the
// provider enters PendingVerification and no profile exists yet; otherwise
// the profile is created immediately.
func (p *Provider) SignUp(ctx context.Context, email, password, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.NewValidationError("Username is required")
	}

	result, err := p.client.Auth().SignUp(ctx, email, password, username)
	if err != nil {
		// Local state must be unchanged on failure, EMAIL_EXISTS included.
		p.log.LogError(ctx, "SignUp", err)
		return err
	}

	if result.Session == nil {
		p.publish(Snapshot{State: PendingVerification, User: result.User})
		return nil
	}

	p.setTokens(&Tokens{AccessToken: result.Session.AccessToken, RefreshToken: result.Session.RefreshToken})
	profile, err := p.createProfile(ctx, result.User.ID, username)
	if err != nil {
		p.log.LogError(ctx, "SignUp (profile)", err)
	}
	p.publish(Snapshot{State: Authenticated, User: result.User, Profile: profile})
	return nil
}

// CheckAuthState re-derives the session from persisted tokens. Idempotent;
// any failure clears all session state rather than leaving it stale.
func (p *Provider) CheckAuthState(ctx context.Context) error {
	stored, err := p.store.Load()
	if err != nil || stored == nil {
		p.clear(ctx)
		return nil
	}

	tokens := stored
	if tokenExpired(stored.AccessToken) {
		sess, err := p.client.Auth().RefreshSession(ctx, stored.RefreshToken)
		if err != nil {
			p.clear(ctx)
			return nil
		}
		tokens = &Tokens{AccessToken: sess.AccessToken, RefreshToken: sess.RefreshToken}
	}
	p.setTokens(tokens)

	user, err := p.client.Auth().GetUser(ctx, tokens.AccessToken)
	if err != nil {
		p.clear(ctx)
		return nil
	}
	if !user.EmailVerified() {
		// The sign-up is still waiting on the email link.
		p.mu.Lock()
		p.tokens = nil
		p.mu.Unlock()
		p.publish(Snapshot{State: PendingVerification, User: user})
		return nil
	}

	profile, err := p.fetchOrCreateProfile(ctx, user)
	if err != nil {
		p.log.LogError(ctx, "CheckAuthState (profile)", err)
	}
	p.publish(Snapshot{State: Authenticated, User: user, Profile: profile})
	return nil
}

// SignOut revokes the session and clears every piece of derived state.
func (p *Provider) SignOut(ctx context.Context) error {
	token := p.AccessToken()
	if token != "" {
		if err := p.client.Auth().SignOut(ctx, token); err != nil {
			// Revocation is best effort; local state is cleared regardless.
			p.log.LogError(ctx, "SignOut", err)
		}
	}
	p.clear(ctx)
	return nil
}

// ResetPassword triggers a password-reset email.
func (p *Provider) ResetPassword(ctx context.Context, email string) error {
	return p.client.Auth().Recover(ctx, email)
}

// CheckUsernameAvailability reports whether username is currently unclaimed.
// Advisory only: the unique constraint on profiles is the final authority,
// and a write-time conflict must be handled even after a positive check.
func (p *Provider) CheckUsernameAvailability(ctx context.Context, username string) (bool, error) {
	var rows []models.Profile
	err := p.client.From("profiles").
		Select("id").
		Eq("username", username).
		Limit(1).
		Get(ctx, &rows)
	if err != nil {
		return false, err
	}
	return len(rows) == 0, nil
}

// UpdateUsername changes the profile username and re-fetches the profile so
// local state matches the server exactly. A uniqueness conflict from the
// backend is authoritative.
func (p *Provider) UpdateUsername(ctx context.Context, newUsername string) error {
	newUsername = strings.TrimSpace(newUsername)
	if newUsername == "" {
		return models.NewValidationError("Username is required")
	}
	userID, err := p.CurrentUserID()
	if err != nil {
		return err
	}

	err = p.client.From("profiles").
		Eq("id", userID).
		Update(ctx, map[string]any{"username": newUsername}, nil)
	if err != nil {
		return err
	}
	return p.refreshProfile(ctx, userID)
}

// UploadProfileImage normalizes the image, uploads it, points the profile at
// the new public URL, and re-fetches the profile. No optimistic merge.
func (p *Provider) UploadProfileImage(ctx context.Context, data []byte) error {
	userID, err := p.CurrentUserID()
	if err != nil {
		return err
	}

	normalized, err := media.NormalizeAvatar(data)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("%s/%s.webp", userID, uuid.NewString())
	bucket := p.client.Storage().From(p.bucket)
	if err := bucket.Upload(ctx, path, normalized, "image/webp"); err != nil {
		return err
	}

	publicURL := bucket.PublicURL(path)
	err = p.client.From("profiles").
		Eq("id", userID).
		Update(ctx, map[string]any{"avatar_url": publicURL}, nil)
	if err != nil {
		// The record still points at the old avatar; remove the new object
		// so nothing is orphaned.
		if cleanupErr := bucket.Remove(ctx, []string{path}); cleanupErr != nil {
			p.log.LogCompensation(ctx, "UploadProfileImage", []string{path}, cleanupErr)
		} else {
			p.log.LogCompensation(ctx, "UploadProfileImage", []string{path}, nil)
		}
		return err
	}
	return p.refreshProfile(ctx, userID)
}

func (p *Provider) refreshProfile(ctx context.Context, userID string) error {
	var profile models.Profile
	err := p.client.From("profiles").
		Select("*").
		Eq("id", userID).
		Single().
		Get(ctx, &profile)
	if err != nil {
		return err
	}
	p.stateStore.Update(func(s Snapshot) Snapshot {
		s.Profile = &profile
		return s
	})
	return nil
}

func (p *Provider) fetchOrCreateProfile(ctx context.Context, user *models.User) (*models.Profile, error) {
	var profile models.Profile
	err := p.client.From("profiles").
		Select("*").
		Eq("id", user.ID).
		Single().
		Get(ctx, &profile)
	if err == nil {
		return &profile, nil
	}
	if !models.IsNotFound(err) {
		return nil, err
	}
	return p.createProfile(ctx, user.ID, user.Username())
}

func (p *Provider) createProfile(ctx context.Context, userID, username string) (*models.Profile, error) {
	if username == "" {
		return nil, models.NewValidationError("Username is required")
	}
	var profile models.Profile
	err := p.client.From("profiles").
		Single().
		Insert(ctx, map[string]any{"id": userID, "username": username}, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (p *Provider) setTokens(t *Tokens) {
	p.mu.Lock()
	p.tokens = t
	p.mu.Unlock()
	if err := p.store.Save(t); err != nil {
		p.log.LogError(context.Background(), "setTokens", err)
	}
}

func (p *Provider) clear(ctx context.Context) {
	p.mu.Lock()
	p.tokens = nil
	p.mu.Unlock()
	if err := p.store.Clear(); err != nil {
		p.log.LogError(ctx, "clear", err)
	}
	p.publish(Snapshot{State: Unauthenticated})
}

func (p *Provider) publish(s Snapshot) {
	p.stateStore.Set(s)
}

// tokenExpired inspects the access token's exp claim without verifying the
// signature; the backend is the verifier, the client only decides whether a
// refresh is needed. A token expiring within the margin counts as expired.
func tokenExpired(token string) bool {
	if token == "" {
		return true
	}
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	const margin = 30 * time.Second
	return time.Until(claims.ExpiresAt.Time) < margin
}
