// Package auth issues and verifies the bearer tokens that identify a payroll
// actor. Who may hold which role is decided upstream; tokens only carry it.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"payrun/internal/domain/payroll"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrReservedRole = errors.New("system role cannot be issued to callers")
)

type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Actor maps the claims onto the engine's caller identity.
func (c Claims) Actor() (payroll.Actor, error) {
	role, err := payroll.ParseRole(c.Role)
	if err != nil {
		return payroll.Actor{}, err
	}
	if role == payroll.RoleSystem {
		return payroll.Actor{}, ErrReservedRole
	}
	if strings.TrimSpace(c.UserID) == "" {
		return payroll.Actor{}, ErrInvalidToken
	}
	return payroll.Actor{UserID: c.UserID, Role: role}, nil
}

func GenerateToken(secret string, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
