package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	interr "github.com/jrsteele09/go-session-guard/internal/errors"
	"github.com/jrsteele09/go-session-guard/users"
)

// LoginResult is a successful password login.
type LoginResult struct {
	Identity    users.Identity `json:"user"`
	AccessToken string         `json:"access_token"`
}

// PasswordAuthenticator checks email and password credentials.
type PasswordAuthenticator interface {
	Authenticate(ctx context.Context, email, password string) (LoginResult, error)
}

// HTTPPasswordAuthenticator posts credentials to the backend's login endpoint.
type HTTPPasswordAuthenticator struct {
	endpoint string
	client   *http.Client
}

var _ PasswordAuthenticator = (*HTTPPasswordAuthenticator)(nil)

// NewHTTPPasswordAuthenticator creates an authenticator for endpoint. A nil
// client uses http.DefaultClient.
func NewHTTPPasswordAuthenticator(endpoint string, client *http.Client) *HTTPPasswordAuthenticator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPasswordAuthenticator{endpoint: endpoint, client: client}
}

func (a *HTTPPasswordAuthenticator) Authenticate(ctx context.Context, email, password string) (LoginResult, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return LoginResult{}, fmt.Errorf("[Authenticate] encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return LoginResult{}, fmt.Errorf("[Authenticate] build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return LoginResult{}, fmt.Errorf("[Authenticate] %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return LoginResult{}, interr.ErrInvalidCredentials
	case http.StatusForbidden:
		return LoginResult{}, interr.ErrUserBlocked
	default:
		return LoginResult{}, fmt.Errorf("[Authenticate] unexpected status %d", resp.StatusCode)
	}

	var result LoginResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return LoginResult{}, fmt.Errorf("[Authenticate] decode response: %w", err)
	}
	if result.Identity.UserID == "" {
		return LoginResult{}, fmt.Errorf("[Authenticate] response has no user: %w", interr.ErrUserNotFound)
	}
	return result, nil
}
