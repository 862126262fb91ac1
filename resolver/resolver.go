// Package resolver supplies per-user access tokens to the sync
// engine. Deployments plug in their own token source; Static and Func
// cover tests and simple setups.
package resolver

import (
	"context"
	"errors"
	"sync"
)

// ErrNoToken is returned when no token is known for a user.
var ErrNoToken = errors.New("resolver: no token for user")

// TokenResolver resolves a user's current access token.
type TokenResolver interface {
	Resolve(ctx context.Context, userID string) (string, error)
}

// Func adapts a function to TokenResolver.
type Func func(ctx context.Context, userID string) (string, error)

func (f Func) Resolve(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// Static is a fixed in-memory token table. Safe for concurrent use.
type Static struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewStatic returns a resolver seeded with the given tokens.
func NewStatic(tokens map[string]string) *Static {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &Static{tokens: cp}
}

func (s *Static) Resolve(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[userID]
	if !ok || tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// Set adds or replaces a user's token.
func (s *Static) Set(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
}
