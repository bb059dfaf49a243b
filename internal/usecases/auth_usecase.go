package usecases

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthUsecase issues the bearer tokens accepted by the owner API. The
// token subject is the owner id; there are no roles.
type AuthUsecase struct {
	jwtSecret []byte
	now       func() time.Time
}

func NewAuthUsecase(secret string) *AuthUsecase {
	return &AuthUsecase{
		jwtSecret: []byte(secret),
		now:       time.Now,
	}
}

// IssueOwnerToken signs an HS256 token for ownerID valid for ttl.
func (uc *AuthUsecase) IssueOwnerToken(ownerID string, ttl time.Duration) (string, error) {
	if ownerID == "" {
		return "", errors.New("owner id is required")
	}
	if ttl <= 0 {
		return "", errors.New("token lifetime must be positive")
	}

	now := uc.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})

	tokenString, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
