package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/ougirez/cmregistry/internal/pkg/constants"
)

const authTokenTTL = 30 * 24 * time.Hour

// AuthTokenWrapper is the payload carried in the auth cookie.
type AuthTokenWrapper struct {
	UserID int64  `json:"user_id,omitempty"`
	Secret string `json:"secret,omitempty"`
	jwt.StandardClaims
}

func GenerateAuthTokenWithKey(token *AuthTokenWrapper, key string, now time.Time) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty signing key")
	}
	token.IssuedAt = now.Unix()
	token.ExpiresAt = now.Add(authTokenTTL).Unix()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, token).SignedString([]byte(key))
	if err != nil {
		return "", fmt.Errorf("SignedString: %w", err)
	}
	return signed, nil
}

func ParseAuthTokenWithKey(raw string, key string) (*AuthTokenWrapper, error) {
	var claims AuthTokenWrapper
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(key), nil
	})
	if err != nil || !token.Valid {
		return nil, constants.ErrUnauthorized
	}
	return &claims, nil
}
