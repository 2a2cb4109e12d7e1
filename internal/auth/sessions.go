package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession is returned for expired, malformed, or forged admin tokens.
var ErrInvalidSession = errors.New("invalid session token")

// SessionManager issues and verifies signed admin session tokens for the
// key-management surface. API traffic never uses these; it carries raw keys.
type SessionManager struct {
	secret []byte
	expiry time.Duration
}

// NewSessionManager creates a SessionManager with the given HS256 secret.
func NewSessionManager(secret string, expiry time.Duration) *SessionManager {
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	return &SessionManager{secret: []byte(secret), expiry: expiry}
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issue creates a signed session token for the given admin email.
func (m *SessionManager) Issue(email string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			Issuer:    "polaris-gateway",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses a session token and returns the admin email it carries.
func (m *SessionManager) Verify(tokenStr string) (string, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidSession
	}
	return claims.Email, nil
}
