package token

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// minSecretLength is the shortest HMAC secret accepted; HS256 wants at least 256 bits
const minSecretLength = 32

// Signer signs access tokens and supplies the key that verifies them
type Signer interface {
	Sign(claims jwt.MapClaims) (string, error)
	Keyfunc(token *jwt.Token) (any, error)
	Method() jwt.SigningMethod
}

// HMACSigner signs with a shared secret using HS256
type HMACSigner struct {
	secret []byte
}

var _ Signer = (*HMACSigner)(nil)

// NewHMACSigner rejects secrets shorter than 32 bytes
func NewHMACSigner(secret string) (*HMACSigner, error) {
	if len(secret) < minSecretLength {
		return nil, errors.Errorf("[NewHMACSigner] secret must be at least %d bytes, got %d", minSecretLength, len(secret))
	}
	return &HMACSigner{secret: []byte(secret)}, nil
}

func (h *HMACSigner) Sign(claims jwt.MapClaims) (string, error) {
	signed, err := jwt.NewWithClaims(h.Method(), claims).SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "[HMACSigner Sign]")
	}
	return signed, nil
}

// Keyfunc only hands out the secret for HMAC-signed tokens
func (h *HMACSigner) Keyfunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

func (h *HMACSigner) Method() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}
