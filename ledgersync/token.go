// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenAuth mints and validates the HS256 bearer tokens the push endpoint
// expects: sub carries the user id, did the device id.
type TokenAuth struct {
	secret []byte
}

// NewTokenAuth creates a token helper over a shared secret.
func NewTokenAuth(secret string) *TokenAuth {
	return &TokenAuth{secret: []byte(secret)}
}

// TokenClaims are the claims carried by a sync bearer token.
type TokenClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// GenerateToken mints a token for a user/device pair.
func (a *TokenAuth) GenerateToken(userID, deviceID string, expiration time.Duration) (string, error) {
	claims := &TokenClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "go-ledgersync",
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken parses and validates a token, returning its claims.
func (a *TokenAuth) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user ID) in token")
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("missing did (device ID) in token")
	}
	return claims, nil
}

// TokenFunc returns a token provider suitable for HTTPDriver.Token, minting a
// fresh short-lived token per request.
func (a *TokenAuth) TokenFunc(userID, deviceID string, ttl time.Duration) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return a.GenerateToken(userID, deviceID, ttl)
	}
}
