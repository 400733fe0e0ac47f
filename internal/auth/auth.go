package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer token body issued by the identity provider.
type Claims struct {
	Name       string `json:"name,omitempty"`
	Role       string `json:"role"`
	Department string `json:"department"`
	jwt.RegisteredClaims
}

// IdentityClaims is the input for issuing a token.
type IdentityClaims struct {
	Subject    string `json:"sub" validate:"required"`
	Name       string `json:"name"`
	Role       string `json:"role" validate:"required,workflow_role"`
	Department string `json:"department" validate:"required"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrUnknownRole  = errors.New("token carries an unknown role")
)
