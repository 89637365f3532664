package sso

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jrsteele09/go-session-guard/users"
)

// ErrCodeRejected is returned by an IdentityExchanger when the backend
// refused the authorization code.
var ErrCodeRejected = errors.New("authorization code rejected")

// ExchangeRequest is sent to the trusted backend.
type ExchangeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	Provider    string `json:"provider"`
}

// ExchangeResult is the backend's answer.
type ExchangeResult struct {
	Identity    users.Identity `json:"user"`
	AccessToken string         `json:"access_token"`
}

// IdentityExchanger turns an authorization code into an identity. The
// code-for-token exchange with the provider happens behind it.
type IdentityExchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (ExchangeResult, error)
}

// ExchangeFunc adapts a function to IdentityExchanger.
type ExchangeFunc func(ctx context.Context, req ExchangeRequest) (ExchangeResult, error)

func (f ExchangeFunc) Exchange(ctx context.Context, req ExchangeRequest) (ExchangeResult, error) {
	return f(ctx, req)
}

// HTTPExchanger posts the code to the backend's SSO endpoint.
type HTTPExchanger struct {
	endpoint string
	client   *http.Client
}

var _ IdentityExchanger = (*HTTPExchanger)(nil)

// NewHTTPExchanger creates an exchanger for endpoint. A nil client uses
// http.DefaultClient; the Flow bounds every call with its own timeout.
func NewHTTPExchanger(endpoint string, client *http.Client) *HTTPExchanger {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExchanger{endpoint: endpoint, client: client}
}

func (e *HTTPExchanger) Exchange(ctx context.Context, req ExchangeRequest) (ExchangeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("[HTTPExchanger] encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("[HTTPExchanger] build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("[HTTPExchanger] %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ExchangeResult{}, fmt.Errorf("[HTTPExchanger] status %d: %w", resp.StatusCode, ErrCodeRejected)
	default:
		return ExchangeResult{}, fmt.Errorf("[HTTPExchanger] unexpected status %d", resp.StatusCode)
	}

	var result ExchangeResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return ExchangeResult{}, fmt.Errorf("[HTTPExchanger] decode response: %w", err)
	}
	return result, nil
}
