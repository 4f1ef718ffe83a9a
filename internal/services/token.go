package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/platform/logger"
)

// TokenService mints and checks bearer tokens. The subject is the username.
type TokenService interface {
	Generate(username string) (string, error)
	Verify(tokenString string) (string, error)
	IsValid(tokenString, username string) bool
}

type tokenService struct {
	log        *logger.Logger
	secret     []byte
	expiration time.Duration
}

func NewTokenService(log *logger.Logger, secret string, expiration time.Duration) (TokenService, error) {
	// 256-bit minimum for HS256.
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if expiration <= 0 {
		return nil, fmt.Errorf("jwt expiration must be positive")
	}
	return &tokenService{
		log:        log.With("service", "TokenService"),
		secret:     []byte(secret),
		expiration: expiration,
	}, nil
}

func (ts *tokenService) Generate(username string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ts.expiration)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", apierr.Internal("TOKEN_SIGN", fmt.Errorf("sign token: %w", err))
	}
	return signed, nil
}

func (ts *tokenService) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", apierr.Unauthorized("TOKEN_INVALID", fmt.Errorf("parse token: %w", err))
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", apierr.Unauthorized("TOKEN_INVALID", fmt.Errorf("missing subject"))
	}
	return claims.Subject, nil
}

func (ts *tokenService) IsValid(tokenString, username string) bool {
	subject, err := ts.Verify(tokenString)
	if err != nil {
		return false
	}
	return subject == username
}
