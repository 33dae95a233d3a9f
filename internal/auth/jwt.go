package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryFromJWT reads the exp claim of a JWT access token without verifying
// it. Opaque tokens report false.
func expiryFromJWT(raw string) (time.Time, bool) {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}, false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
