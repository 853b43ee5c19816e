// Package service contains application services for tokens and persisted documents.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/collabify/internal/errs"
)

// TokenInfo is what the client can learn from an access token without the signing key.
type TokenInfo struct {
	// Subject is the user_email claim, falling back to sub.
	Subject string
	// ExpiresAt is zero when the token carries no exp claim.
	ExpiresAt time.Time
}

// InspectToken reads the claims of a JWT without verifying its signature;
// the relay and the REST store verify it. Absent or expired tokens fail.
func InspectToken(raw string, now time.Time) (TokenInfo, error) {
	if raw == "" {
		return TokenInfo{}, errs.ErrMissingToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("inspect token: %w", err)
	}

	var info TokenInfo
	if email, ok := claims["user_email"].(string); ok && email != "" {
		info.Subject = email
	} else if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if info.Subject == "" {
		return TokenInfo{}, errors.New("inspect token: no subject claim")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return TokenInfo{}, fmt.Errorf("inspect token: %w", err)
	}
	if exp != nil {
		info.ExpiresAt = exp.Time
		if !now.Before(info.ExpiresAt) {
			return info, errs.ErrTokenExpired
		}
	}
	return info, nil
}
