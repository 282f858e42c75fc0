package ecommerce

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenExpirySkew refreshes a token slightly before the marketplace expires it
const tokenExpirySkew = 30 * time.Second

// tokenSource holds an access token and collapses concurrent refreshes into
// a single request
type tokenSource struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	now       func() time.Time
	group     singleflight.Group
}

func newTokenSource(now func() time.Time) *tokenSource {
	if now == nil {
		now = time.Now
	}
	return &tokenSource{now: now}
}

// Valid reports whether a token is held and has not expired
func (s *tokenSource) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.expiresAt.After(s.now())
}

// Token returns the held token, empty when none is valid
func (s *tokenSource) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || !s.expiresAt.After(s.now()) {
		return ""
	}
	return s.token
}

// Set stores a token valid for expiresIn, minus a small skew
func (s *tokenSource) Set(token string, expiresIn time.Duration) {
	if expiresIn > 2*tokenExpirySkew {
		expiresIn -= tokenExpirySkew
	}
	s.mu.Lock()
	s.token = token
	s.expiresAt = s.now().Add(expiresIn)
	s.mu.Unlock()
}

// Clear forgets the token so the next call re-authenticates
func (s *tokenSource) Clear() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

// Ensure returns a valid token, calling refresh at most once across
// concurrent callers when none is held
func (s *tokenSource) Ensure(ctx context.Context, refresh func(ctx context.Context) (string, time.Duration, error)) (string, error) {
	if tok := s.Token(); tok != "" {
		return tok, nil
	}
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		if tok := s.Token(); tok != "" {
			return tok, nil
		}
		tok, expiresIn, err := refresh(ctx)
		if err != nil {
			return "", err
		}
		s.Set(tok, expiresIn)
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
