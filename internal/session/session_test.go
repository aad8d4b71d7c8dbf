package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kianjain/shisuka/internal/models"
	"github.com/kianjain/shisuka/internal/testutil"
)

// bindLive wires a provider whose client reads the token from the provider
// itself, as in production.
func bindLive(t *testing.T, f *testutil.FakeBackend) (*Provider, *MemoryTokenStore) {
	t.Helper()
	store := &MemoryTokenStore{}
	p := NewProvider(store, "avatars")

	client := testutil.NewClientWithSource(t, f, p.AccessToken)
	p.Bind(client)
	return p, store
}

func TestProvider_SignIn(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	email := testutil.RandomEmail()
	userID := f.RegisterUser(email, "hunter22", "tester", true)
	testutil.SeedProfile(f, userID, "tester")

	p, store := bindLive(t, f)
	require.NoError(t, p.SignIn(context.Background(), email, "hunter22"))

	snap := p.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	require.NotNil(t, snap.User)
	assert.Equal(t, userID, snap.User.ID)
	require.NotNil(t, snap.Profile)
	assert.Equal(t, "tester", snap.Profile.Username)

	// Tokens must be persisted for the next launch.
	tokens, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, tokens)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	id, err := p.CurrentUserID()
	require.NoError(t, err)
	assert.Equal(t, userID, id)
}

func TestProvider_SignIn_WrongPassword(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	email := testutil.RandomEmail()
	f.RegisterUser(email, "correct", "tester", true)

	p, _ := bindLive(t, f)
	err := p.SignIn(context.Background(), email, "wrong")
	assert.True(t, models.IsInvalidCredentials(err), "expected invalid credentials, got %v", err)
	assert.Equal(t, Unauthenticated, p.Snapshot().State)
}

func TestProvider_SignIn_UnverifiedEmail(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	email := testutil.RandomEmail()
	f.RegisterUser(email, "hunter22", "tester", false)

	p, store := bindLive(t, f)
	err := p.SignIn(context.Background(), email, "hunter22")
	assert.True(t, models.IsEmailNotVerified(err), "expected email-not-verified, got %v", err)

	assert.Equal(t, Unauthenticated, p.Snapshot().State)
	tokens, _ := store.Load()
	assert.Nil(t, tokens)
}

func TestProvider_SignUp_ImmediateSession(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	p, _ := bindLive(t, f)

	email := testutil.RandomEmail()
	require.NoError(t, p.SignUp(context.Background(), email, "hunter22", "  newuser  "))

	snap := p.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	require.NotNil(t, snap.Profile)
	// The username is trimmed before it reaches the backend.
	assert.Equal(t, "newuser", snap.Profile.Username)
	require.Len(t, f.Rows("profiles"), 1)
}

func TestProvider_SignUp_PendingVerification(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	f.RequireEmailConfirmation = true
	p, store := bindLive(t, f)

	require.NoError(t, p.SignUp(context.Background(), testutil.RandomEmail(), "hunter22", "pending"))

	snap := p.Snapshot()
	assert.Equal(t, PendingVerification, snap.State)
	require.NotNil(t, snap.User)

	// No session, no tokens, no profile yet.
	tokens, _ := store.Load()
	assert.Nil(t, tokens)
	assert.Empty(t, f.Rows("profiles"))

	_, err := p.CurrentUserID()
	assert.True(t, models.IsNotAuthenticated(err))
}

func TestProvider_SignUp_EmailExistsLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	email := testutil.RandomEmail()
	userID := f.RegisterUser(email, "hunter22", "original", true)
	testutil.SeedProfile(f, userID, "original")

	p, _ := bindLive(t, f)
	require.NoError(t, p.SignIn(context.Background(), email, "hunter22"))
	before := p.Snapshot()

	err := p.SignUp(context.Background(), email, "other", "someoneelse")
	assert.True(t, models.IsEmailExists(err), "expected email-exists, got %v", err)
	assert.Equal(t, before, p.Snapshot())
}

func TestProvider_SignUp_EmptyUsername(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	p, _ := bindLive(t, f)
	err := p.SignUp(context.Background(), testutil.RandomEmail(), "hunter22", "   ")
	assert.True(t, models.IsValidation(err))
}

func TestProvider_CheckAuthState(t *testing.T) {
	t.Parallel()

	t.Run("no stored tokens stays signed out", func(t *testing.T) {
		t.Parallel()
		f := testutil.NewFakeBackend(t)
		p, _ := bindLive(t, f)
		require.NoError(t, p.CheckAuthState(context.Background()))
		assert.Equal(t, Unauthenticated, p.Snapshot().State)
	})

	t.Run("valid tokens restore the session", func(t *testing.T) {
		t.Parallel()
		f := testutil.NewFakeBackend(t)
		userID := f.RegisterUser(testutil.RandomEmail(), "pw", "restored", true)
		testutil.SeedProfile(f, userID, "restored")

		p, store := bindLive(t, f)
		require.NoError(t, store.Save(&Tokens{
			AccessToken:  f.TokenFor(userID, time.Hour),
			RefreshToken: f.RefreshTokenFor(userID),
		}))

		require.NoError(t, p.CheckAuthState(context.Background()))
		snap := p.Snapshot()
		assert.Equal(t, Authenticated, snap.State)
		assert.Equal(t, userID, snap.User.ID)
	})

	t.Run("expired access token is refreshed", func(t *testing.T) {
		t.Parallel()
		f := testutil.NewFakeBackend(t)
		userID := f.RegisterUser(testutil.RandomEmail(), "pw", "expired", true)
		testutil.SeedProfile(f, userID, "expired")

		p, store := bindLive(t, f)
		require.NoError(t, store.Save(&Tokens{
			AccessToken:  f.TokenFor(userID, -time.Minute),
			RefreshToken: f.RefreshTokenFor(userID),
		}))

		require.NoError(t, p.CheckAuthState(context.Background()))
		assert.Equal(t, Authenticated, p.Snapshot().State)

		// The refreshed tokens replace the expired pair in the store.
		tokens, err := store.Load()
		require.NoError(t, err)
		require.NotNil(t, tokens)
		assert.False(t, tokenExpired(tokens.AccessToken))
	})

	t.Run("dead refresh token clears everything", func(t *testing.T) {
		t.Parallel()
		f := testutil.NewFakeBackend(t)
		userID := f.RegisterUser(testutil.RandomEmail(), "pw", "gone", true)

		p, store := bindLive(t, f)
		require.NoError(t, store.Save(&Tokens{
			AccessToken:  f.TokenFor(userID, -time.Minute),
			RefreshToken: "refresh-unknown",
		}))

		require.NoError(t, p.CheckAuthState(context.Background()))
		assert.Equal(t, Unauthenticated, p.Snapshot().State)
		tokens, _ := store.Load()
		assert.Nil(t, tokens)
	})
}

func TestProvider_SignOut(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	email := testutil.RandomEmail()
	userID := f.RegisterUser(email, "hunter22", "tester", true)
	testutil.SeedProfile(f, userID, "tester")

	p, store := bindLive(t, f)
	require.NoError(t, p.SignIn(context.Background(), email, "hunter22"))
	require.NoError(t, p.SignOut(context.Background()))

	assert.Equal(t, Unauthenticated, p.Snapshot().State)
	assert.Equal(t, "", p.AccessToken())
	tokens, _ := store.Load()
	assert.Nil(t, tokens)
}

func TestProvider_CheckUsernameAvailability(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	testutil.SeedProfile(f, "some-user", "taken")

	p, _ := bindLive(t, f)
	ctx := context.Background()

	ok, err := p.CheckUsernameAvailability(ctx, "taken")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.CheckUsernameAvailability(ctx, "free")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProvider_UpdateUsername(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	email := testutil.RandomEmail()
	userID := f.RegisterUser(email, "hunter22", "oldname", true)
	testutil.SeedProfile(f, userID, "oldname")

	p, _ := bindLive(t, f)
	require.NoError(t, p.SignIn(context.Background(), email, "hunter22"))

	require.NoError(t, p.UpdateUsername(context.Background(), "newname"))
	assert.Equal(t, "newname", p.Snapshot().Profile.Username)

	t.Run("conflict with an existing username", func(t *testing.T) {
		testutil.SeedProfile(f, "other-user", "occupied")
		err := p.UpdateUsername(context.Background(), "occupied")
		assert.True(t, models.IsConflict(err), "expected conflict, got %v", err)
	})

	t.Run("requires a session", func(t *testing.T) {
		f2 := testutil.NewFakeBackend(t)
		p2, _ := bindLive(t, f2)
		err := p2.UpdateUsername(context.Background(), "nobody")
		assert.True(t, models.IsNotAuthenticated(err))
	})
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()

	f := testutil.NewFakeBackend(t)
	userID := f.RegisterUser(testutil.RandomEmail(), "pw", "x", true)

	assert.True(t, tokenExpired(""))
	assert.True(t, tokenExpired("not-a-jwt"))
	assert.True(t, tokenExpired(f.TokenFor(userID, -time.Hour)))
	// Tokens expiring within the refresh margin count as expired.
	assert.True(t, tokenExpired(f.TokenFor(userID, 5*time.Second)))
	assert.False(t, tokenExpired(f.TokenFor(userID, time.Hour)))
}
