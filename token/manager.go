// Package token issues and validates the access tokens the identity backend
// hands out after a password or SSO login.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-guard/internal/clock"
	interr "github.com/jrsteele09/go-session-guard/internal/errors"
	"github.com/jrsteele09/go-session-guard/users"
	"github.com/pkg/errors"
)

// Claims is the validated content of an access token
type Claims struct {
	Subject   string         `json:"sub"`
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	Role      users.RoleType `json:"role"`
	Issuer    string         `json:"iss"`
	Audience  string         `json:"aud"`
	ID        string         `json:"jti"`
	IssuedAt  time.Time      `json:"iat"`
	ExpiresAt time.Time      `json:"exp"`
}

type Manager struct {
	signer            Signer            // Token signing and verification
	issuer            string            // iss claim
	audience          string            // aud claim
	accessTokenExpiry time.Duration     // Lifetime of access tokens
	revoked           RevokedTokenCache // Cache for revoked tokens
	clock             clock.Clock
}

type ManagerOption func(*Manager)

func WithTokenExpiry(accessTokenExpiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTokenExpiry = accessTokenExpiry
	}
}

func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

func WithAudience(audience string) ManagerOption {
	return func(m *Manager) {
		m.audience = audience
	}
}

func WithRevokedTokenCache(cache RevokedTokenCache) ManagerOption {
	return func(m *Manager) {
		m.revoked = cache
	}
}

func NewManager(signer Signer, opts ...ManagerOption) *Manager {
	m := &Manager{
		signer:            signer,
		issuer:            "session-guard",
		audience:          "session-guard",
		accessTokenExpiry: time.Hour,
		revoked:           NewInMemoryRevokedTokenCache(),
		clock:             clock.Real(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateAccessToken signs an access token for identity
func (m *Manager) CreateAccessToken(identity users.Identity) (string, error) {
	now := m.clock.Now()
	claims := jwt.MapClaims{
		"iss":   m.issuer,
		"aud":   m.audience,
		"sub":   identity.UserID,
		"email": identity.Email,
		"name":  identity.Name,
		"role":  string(identity.Role),
		"iat":   now.Unix(),
		"exp":   now.Add(m.accessTokenExpiry).Unix(),
		"jti":   uuid.New().String(), // Unique token ID for revocation
	}
	signed, err := m.signer.Sign(claims)
	if err != nil {
		return "", errors.Wrap(err, "[CreateAccessToken]")
	}
	return signed, nil
}

// Validate verifies the signature, issuer, audience, expiry and revocation
// status of an access token
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.Parse(tokenString, m.signer.Keyfunc,
		jwt.WithValidMethods([]string{m.signer.Method().Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, interr.ErrTokenExpired
		}
		return nil, interr.Wrapf(interr.ErrInvalidToken, "[Validate] %v", err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, interr.ErrInvalidToken
	}
	claims := &Claims{
		Subject:  stringClaim(mapClaims, "sub"),
		Email:    stringClaim(mapClaims, "email"),
		Name:     stringClaim(mapClaims, "name"),
		Role:     users.RoleType(stringClaim(mapClaims, "role")),
		Issuer:   stringClaim(mapClaims, "iss"),
		Audience: m.audience,
		ID:       stringClaim(mapClaims, "jti"),
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}

	if claims.ID != "" && m.revoked.IsRevoked(claims.ID, m.clock.Now()) {
		return nil, interr.Wrapf(interr.ErrInvalidToken, "[Validate] token %s revoked", claims.ID)
	}
	return claims, nil
}

// Revoke invalidates a token until its natural expiry
func (m *Manager) Revoke(tokenString string) error {
	claims, err := m.Validate(tokenString)
	if err != nil {
		return err
	}
	m.revoked.Revoke(claims.ID, claims.ExpiresAt)
	return nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
