// Package auth issues and verifies the bearer tokens the API trusts for
// caller identity. Tokens are stateless HS256 JWTs carrying the user id and
// verified email; downstream domains receive identity as explicit values,
// never by reading request state themselves.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretBytes = 32

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrSecretTooShort = errors.New("token secret too short")
	ErrInvalidToken   = errors.New("invalid token")
)

// Identity is the authenticated caller extracted from a verified token.
type Identity struct {
	UserID string
	Email  string
}

// Claims is the JWT payload: registered claims plus the caller's email.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// TokenManager signs and verifies bearer tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager constructs a TokenManager. The secret is used as raw HMAC
// key bytes and must be at least 32 bytes.
func NewTokenManager(secret []byte, ttl time.Duration) (*TokenManager, error) {
	if len(secret) < minSecretBytes {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: secret, ttl: ttl}, nil
}

// Issue signs a token for the given identity.
func (m *TokenManager) Issue(id Identity, now time.Time) (string, time.Time, error) {
	if m == nil || len(m.secret) == 0 {
		return "", time.Time{}, ErrInvalidInput
	}
	if strings.TrimSpace(id.UserID) == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	exp := now.Add(m.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: strings.ToLower(strings.TrimSpace(id.Email)),
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses and validates a token, returning the caller identity.
func (m *TokenManager) Verify(tokenString string) (Identity, error) {
	if m == nil || len(m.secret) == 0 {
		return Identity{}, ErrInvalidInput
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}
