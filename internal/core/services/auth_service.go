package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const tokenIssuer = "sidescreend"

// Scope limits what a control API token may do.
type Scope string

const (
	// ScopeControl may start and stop sessions and manage devices.
	ScopeControl Scope = "control"
	// ScopeObserve may only read, e.g. a tray icon showing session state.
	ScopeObserve Scope = "observe"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeControl, ScopeObserve:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown token scope %q", s)
}

// AuthService issues and checks bearer tokens for the control API.
type AuthService interface {
	GenerateToken(operator string, scope Scope) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	Operator string `json:"operator"`
	Scope    Scope  `json:"scope"`
	jwt.RegisteredClaims
}

func (c *Claims) CanControl() bool {
	return c.Scope == ScopeControl
}

type authService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{secret: []byte(jwtSecret), ttl: tokenTTL, now: time.Now}
}

func (s *authService) GenerateToken(operator string, scope Scope) (string, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return "", err
	}
	issued := s.now()
	claims := &Claims{
		Operator: operator,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken accepts HS256 tokens from this issuer. A token without a
// known scope is rejected.
func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	}
	if _, err := ParseScope(string(claims.Scope)); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
