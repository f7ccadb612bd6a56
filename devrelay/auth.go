/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package devrelay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when the Authorization header is absent.
	ErrMissingToken = errors.New("devrelay: authorization header required")

	// ErrInvalidToken is returned when the bearer token fails validation.
	ErrInvalidToken = errors.New("devrelay: invalid token")
)

// Claims identifies a relay user.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for userID with the configured secret.
func (s *Server) IssueToken(userID, name string) (string, error) {
	return IssueToken(s.config.Secret, s.config.Issuer, s.config.TokenTTL, userID, name)
}

// IssueToken signs an HS256 token. A zero ttl produces a token without expiry.
func IssueToken(secret []byte, issuer string, ttl time.Duration, userID, name string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("devrelay: user id is required")
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("devrelay: signing secret is empty")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims, nil
}

// authenticate extracts and validates the bearer token of an upgrade request.
// Browsers cannot set headers on websocket dials, so ?token= is accepted too.
func (s *Server) authenticate(r *http.Request) (*Claims, error) {
	tokenString := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return nil, fmt.Errorf("%w: invalid authorization header format", ErrInvalidToken)
		}
		tokenString = parts[1]
	}
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	return ParseToken(s.config.Secret, tokenString)
}
