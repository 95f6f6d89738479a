package session

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/sitegate/internal/apiclient"
	"github.com/sitegate/pkg/models"
)

// Authenticator signs in and out against the auth endpoints
type Authenticator struct {
	client     apiclient.Doer
	verifier   *Verifier
	loginPath  string
	logoutPath string
}

// NewAuthenticator creates an authenticator; verifier may be nil
func NewAuthenticator(client apiclient.Doer, verifier *Verifier, loginPath, logoutPath string) *Authenticator {
	return &Authenticator{
		client:     client,
		verifier:   verifier,
		loginPath:  loginPath,
		logoutPath: logoutPath,
	}
}

// Login exchanges credentials for a session cookie and returns the identity
// reported by the API
func (a *Authenticator) Login(ctx context.Context, email, password string) (*models.User, error) {
	defer a.reset()

	resp, err := a.client.Send(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   a.loginPath,
		Body:   models.LoginRequest{Email: email, Password: password},
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil, nil
	}

	var wrapped struct {
		User *models.User `json:"user"`
	}
	if err := resp.Decode(&wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if wrapped.User != nil {
		return wrapped.User, nil
	}

	var user models.User
	if err := resp.Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

// Logout ends the session
func (a *Authenticator) Logout(ctx context.Context) error {
	defer a.reset()

	if _, err := a.client.Send(ctx, apiclient.Request{Method: http.MethodPost, Path: a.logoutPath}); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

func (a *Authenticator) reset() {
	if a.verifier != nil {
		a.verifier.Reset()
	}
}
