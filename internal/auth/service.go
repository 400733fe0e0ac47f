package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/expense-approval/internal/core/common/validation"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/golang-jwt/jwt/v5"
)

// IdentityProvider resolves the caller of an HTTP request.
type IdentityProvider interface {
	Resolve(r *http.Request) (workflow.Actor, error)
}

// JWTProvider trusts HS256 tokens signed with a shared secret by the
// organization's identity service.
type JWTProvider struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
	now      func() time.Time
}

var _ IdentityProvider = (*JWTProvider)(nil)

func NewJWTProvider(secret, issuer string, tokenTTL time.Duration) *JWTProvider {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &JWTProvider{
		secret:   []byte(secret),
		issuer:   issuer,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

// Resolve reads the bearer token of r. Every failure is an Unauthenticated
// workflow error wrapping the concrete cause.
func (p *JWTProvider) Resolve(r *http.Request) (workflow.Actor, error) {
	token := ExtractBearer(r)
	if token == "" {
		return workflow.Actor{}, workflow.NewError(workflow.KindUnauthenticated, "", ErrMissingToken)
	}
	actor, err := p.ParseToken(token)
	if err != nil {
		return workflow.Actor{}, workflow.NewError(workflow.KindUnauthenticated, "", err)
	}
	return actor, nil
}

func (p *JWTProvider) ParseToken(tokenString string) (workflow.Actor, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(p.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return workflow.Actor{}, ErrTokenExpired
		}
		return workflow.Actor{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return workflow.Actor{}, ErrInvalidToken
	}
	role, ok := workflow.ParseRole(claims.Role)
	if !ok {
		return workflow.Actor{}, ErrUnknownRole
	}

	actor := workflow.Actor{
		ID:         claims.Subject,
		Name:       claims.Name,
		Role:       role,
		Department: strings.TrimSpace(claims.Department),
	}
	if !actor.IsValid() {
		return workflow.Actor{}, ErrInvalidToken
	}
	return actor, nil
}

// IssueToken signs a token for identity. It backs the developer `token`
// command; production tokens come from the identity service.
func (p *JWTProvider) IssueToken(identity IdentityClaims) (TokenResponse, error) {
	if appErr := validation.Struct(identity); appErr != nil {
		return TokenResponse{}, appErr
	}

	now := p.now()
	expiresAt := now.Add(p.tokenTTL)
	claims := &Claims{
		Name:       identity.Name,
		Role:       strings.ToLower(strings.TrimSpace(identity.Role)),
		Department: identity.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}

// ExtractBearer returns the token of an "Authorization: Bearer" header.
func ExtractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authHeader[7:])
}
