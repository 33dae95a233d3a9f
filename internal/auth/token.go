package auth

import (
	"sync/atomic"
	"time"
)

// DefaultExpiryMargin is how long before its reported expiry a token is
// already treated as expired.
const DefaultExpiryMargin = 60 * time.Second

// Token is the material returned by a successful grant.
type Token struct {
	AccessToken string
	// InstanceURL is the instance the token was issued for; it may differ
	// from the login URL in the credentials.
	InstanceURL string
	// ExpiresAt is either reported by the server or conservatively assumed.
	ExpiresAt time.Time
}

// Valid reports whether t carries an access token that has not reached
// ExpiresAt-margin at now.
func (t Token) Valid(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(t.ExpiresAt.Add(-margin))
}

// TokenStore holds the current token. Only the owning session calls
// Install; any goroutine may call Current and IsExpired.
type TokenStore struct {
	current atomic.Pointer[Token]
	margin  time.Duration
}

// NewTokenStore returns an empty store. A negative margin is treated as zero.
func NewTokenStore(margin time.Duration) *TokenStore {
	if margin < 0 {
		margin = 0
	}
	return &TokenStore{margin: margin}
}

// Current returns a copy of the last installed token.
func (s *TokenStore) Current() (Token, error) {
	t := s.current.Load()
	if t == nil {
		return Token{}, ErrNotAuthenticated
	}
	return *t, nil
}

// Install replaces the current token.
func (s *TokenStore) Install(t Token) {
	s.current.Store(&t)
}

// IsExpired reports whether there is no usable token at now.
func (s *TokenStore) IsExpired(now time.Time) bool {
	t := s.current.Load()
	if t == nil {
		return true
	}
	return !t.Valid(now, s.margin)
}

// Margin returns the configured safety margin.
func (s *TokenStore) Margin() time.Duration { return s.margin }
