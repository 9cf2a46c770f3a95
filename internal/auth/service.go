package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrMissingToken is returned when no bearer token is presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned when the presented token does not match.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// AuthService verifies the operator API token.
type AuthService struct {
	tokenHash [sha256.Size]byte
}

// NewAuthService creates an AuthService for token. An empty token is rejected
// so the API never starts unauthenticated.
func NewAuthService(token string) (*AuthService, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("API_TOKEN is required to serve the API")
	}
	return &AuthService{tokenHash: sha256.Sum256([]byte(token))}, nil
}

// ExtractBearerToken returns the token from an "Authorization: Bearer <token>" header value.
func ExtractBearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// Authenticate checks the Authorization header value in constant time.
func (as *AuthService) Authenticate(header string) (*AuthContext, error) {
	token, err := ExtractBearerToken(header)
	if err != nil {
		return nil, err
	}
	presented := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(presented[:], as.tokenHash[:]) != 1 {
		return nil, ErrInvalidToken
	}
	return &AuthContext{Operator: hex.EncodeToString(presented[:])[:12]}, nil
}
