package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Actor is the authenticated caller of a request.
type Actor struct {
	ID   uuid.UUID
	Role string
}

type Service interface {
	IssueToken(ctx context.Context, actor Actor, ttl time.Duration) (string, error)
	ValidateToken(ctx context.Context, token string) (Actor, error)
}

type service struct {
	secret []byte
	now    func() time.Time
}

// NewService validates HS256 tokens minted by the account service with the
// shared secret.
func NewService(secret string) *service {
	return &service{secret: []byte(secret), now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func validRole(role string) bool {
	switch role {
	case models.RoleProvider, models.RoleBuyer, models.RoleOperator, models.RoleService:
		return true
	}
	return false
}

func (s *service) IssueToken(_ context.Context, actor Actor, ttl time.Duration) (string, error) {
	if !validRole(actor.Role) {
		return "", fmt.Errorf("unknown role %q", actor.Role)
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: actor.Role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (Actor, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return Actor{}, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	if !validRole(c.Role) {
		return Actor{}, fmt.Errorf("%w: unknown role", ErrInvalidToken)
	}
	return Actor{ID: id, Role: c.Role}, nil
}
