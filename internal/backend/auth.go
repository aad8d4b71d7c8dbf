package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kianjain/shisuka/internal/models"
)

// AuthClient handles authentication operations against the auth service.
type AuthClient struct {
	client *Client
}

// Session is an issued auth session.
type Session struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

// SignUpResult is the outcome of a sign-up call. When email confirmation is
// required the session is nil and only the pending user is returned.
type SignUpResult struct {
	User    *models.User
	Session *Session
}

func (a *AuthClient) post(ctx context.Context, path string, payload any, bearer string) (*Response, error) {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, models.NewDecodeError(err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.client.baseURL+path, body)
	if err != nil {
		return nil, models.NewTransportError(err)
	}
	a.client.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return a.client.do(req, "auth", false)
}

// SignUp creates a new user. The username travels in the sign-up metadata so
// the profile can be created after email confirmation.
func (a *AuthClient) SignUp(ctx context.Context, email, password, username string) (*SignUpResult, error) {
	resp, err := a.post(ctx, "/auth/v1/signup", map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]any{"username": username},
	}, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, mapAuthError(resp.StatusCode, resp.Body)
	}

	// When confirmation is required the response is the bare user; otherwise
	// it is a full session.
	var session Session
	if err := json.Unmarshal(resp.Body, &session); err != nil {
		return nil, models.NewDecodeError(err)
	}
	if session.AccessToken != "" {
		return &SignUpResult{User: session.User, Session: &session}, nil
	}

	var user models.User
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, models.NewDecodeError(err)
	}
	return &SignUpResult{User: &user}, nil
}

// SignInWithPassword exchanges credentials for a session.
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	resp, err := a.post(ctx, "/auth/v1/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, mapAuthError(resp.StatusCode, resp.Body)
	}

	var session Session
	if err := json.Unmarshal(resp.Body, &session); err != nil {
		return nil, models.NewDecodeError(err)
	}
	return &session, nil
}

// RefreshSession exchanges a refresh token for a fresh session.
func (a *AuthClient) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	resp, err := a.post(ctx, "/auth/v1/token?grant_type=refresh_token", map[string]string{
		"refresh_token": refreshToken,
	}, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, mapAuthError(resp.StatusCode, resp.Body)
	}

	var session Session
	if err := json.Unmarshal(resp.Body, &session); err != nil {
		return nil, models.NewDecodeError(err)
	}
	return &session, nil
}

// GetUser fetches the user the access token belongs to.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*models.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, models.NewTransportError(err)
	}
	a.client.setHeaders(req)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.do(req, "auth", true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, mapAuthError(resp.StatusCode, resp.Body)
	}

	var user models.User
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, models.NewDecodeError(err)
	}
	return &user, nil
}

// UpdateUser updates the authenticated user's metadata.
func (a *AuthClient) UpdateUser(ctx context.Context, accessToken string, metadata map[string]any) (*models.User, error) {
	data, err := json.Marshal(map[string]any{"data": metadata})
	if err != nil {
		return nil, models.NewDecodeError(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.client.baseURL+"/auth/v1/user", bytes.NewReader(data))
	if err != nil {
		return nil, models.NewTransportError(err)
	}
	a.client.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.do(req, "auth", false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, mapAuthError(resp.StatusCode, resp.Body)
	}

	var user models.User
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, models.NewDecodeError(err)
	}
	return &user, nil
}

// Recover triggers a password-reset email.
func (a *AuthClient) Recover(ctx context.Context, email string) error {
	resp, err := a.post(ctx, "/auth/v1/recover", map[string]string{"email": email}, "")
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return mapAuthError(resp.StatusCode, resp.Body)
	}
	return nil
}

// SignOut revokes the session's refresh token.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	resp, err := a.post(ctx, "/auth/v1/logout", nil, accessToken)
	if err != nil {
		return err
	}
	// 401 on logout means the session was already gone.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnauthorized {
		return mapAuthError(resp.StatusCode, resp.Body)
	}
	return nil
}

// VerifyEndpoint returns the absolute URL of the email-verification endpoint,
// used in user-facing copy.
func (a *AuthClient) VerifyEndpoint() string {
	return fmt.Sprintf("%s/auth/v1/verify", a.client.baseURL)
}
