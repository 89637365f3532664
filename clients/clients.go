// Package clients holds the relying parties allowed to use the development
// authorize endpoint.
package clients

import (
	"errors"
	"slices"
	"strings"
)

var ErrInvalidScope = errors.New("invalid scope")

type Client struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	RedirectURIs []string `json:"redirectURIs"`
	Scopes       []string `json:"scopes"` // Allowed scopes for this client
}

// AllowsRedirect reports whether uri is one of the client's registered
// redirect URIs. Matching is exact.
func (c *Client) AllowsRedirect(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// HasScope checks if the client has permission for a specific scope
func (c *Client) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// ValidateScopes checks if all requested scopes are allowed for this client
func (c *Client) ValidateScopes(requestedScopes string) error {
	for _, scope := range strings.Fields(requestedScopes) {
		if !c.HasScope(scope) {
			return ErrInvalidScope
		}
	}
	return nil
}
