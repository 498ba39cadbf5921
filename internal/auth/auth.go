// Package auth provides password hashing and the signed resume tokens
// handed to clients on successful authentication.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tetherchat/tether/internal/normalize"
)

// TokenManager signs and validates the JWT resume tokens issued on
// login/signup success. A client holding a valid token can re-authenticate
// with a resume event instead of presenting credentials again.
type TokenManager struct {
	// keys maps key id -> HMAC secret. Multiple entries allow rotation:
	// new tokens are signed with activeKid while tokens signed with any
	// listed key still verify.
	keys      map[string]string
	activeKid string
	duration  time.Duration
}

// Claims is the token payload: just the normalized username.
type Claims struct {
	Username             string `json:"username"`
	jwt.RegisteredClaims        // ExpiresAt, IssuedAt, etc.
}

// singleKid is the key id used when the manager was built from one secret.
const singleKid = "default"

// NewTokenManager returns a manager backed by a single secret.
func NewTokenManager(secret string, duration time.Duration) *TokenManager {
	return &TokenManager{
		keys:      map[string]string{singleKid: secret},
		activeKid: singleKid,
		duration:  duration,
	}
}

// NewTokenManagerFromKeys returns a manager backed by a set of rotatable
// keys. activeKid selects the key used to sign new tokens; when empty, an
// arbitrary key from the map is used.
func NewTokenManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *TokenManager {
	if activeKid == "" {
		for kid := range keys {
			activeKid = kid
			break
		}
	}
	return &TokenManager{keys: keys, activeKid: activeKid, duration: duration}
}

// Generate issues a signed token for the given username.
func (m *TokenManager) Generate(username string) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.duration)

	claims := &Claims{
		Username: normalize.Username(username),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = m.activeKid

	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no signing key for kid %q", m.activeKid)
	}

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// Verify parses and validates a token and returns its claims.
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Only HMAC tokens are ever issued; reject anything else before
		// looking up a key.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			kid = singleKid
		}
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims.Username = normalize.Username(claims.Username)
	return claims, nil
}

// HashPassword returns a bcrypt hash for the provided plaintext. bcrypt
// salts per call, so equal passwords produce distinct hashes.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
// Returns nil on match. The comparison is constant time.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
