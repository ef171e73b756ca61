package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSignedToken = errors.New("invalid signed token")

// Signer mints and checks short-lived read tokens for private attachment
// paths. HS256 with a deployment-wide secret.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

type pathClaims struct {
	Path string `json:"path"`
	jwt.RegisteredClaims
}

func (s *Signer) Sign(path string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("sign secret is not configured")
	}

	now := time.Now()
	claims := pathClaims{
		Path: path,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Signer) Verify(token string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("sign secret is not configured")
	}

	var claims pathClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Path == "" {
		return "", ErrInvalidSignedToken
	}
	return claims.Path, nil
}
