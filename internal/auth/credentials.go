// Package auth supplies bearer credentials for the sync transport.
//
// The token-refresh protocol itself lives with the identity provider; this
// package only answers "give me a currently valid bearer token, or fail".
// When it fails, queued operations stay PENDING and are never surfaced as
// user-facing issues.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated means no valid credential is currently available.
// The replication worker treats this as a silent deferral, not a failure.
var ErrUnauthenticated = errors.New("no valid credential available")

// CredentialSource provides a currently valid bearer token.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticSource returns a fixed token. Useful for tests and single-user
// deployments where the token is provisioned out of band.
type StaticSource string

// Token implements CredentialSource.
func (s StaticSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrUnauthenticated
	}
	return string(s), nil
}

// RefreshFunc obtains a fresh bearer token from the identity provider.
type RefreshFunc func(ctx context.Context) (string, error)

// RefreshingSource caches a JWT bearer token and refreshes it shortly before
// the exp claim lapses. Claims are read unverified: the remote service, not
// this client, is the party that checks the signature.
type RefreshingSource struct {
	mu      sync.Mutex
	refresh RefreshFunc
	leeway  time.Duration
	now     func() time.Time

	token  string
	expiry time.Time
}

// NewRefreshingSource wraps refresh with expiry-aware caching. Tokens are
// refreshed leeway ahead of expiry; tokens without an exp claim are kept for
// five minutes.
func NewRefreshingSource(refresh RefreshFunc) *RefreshingSource {
	return &RefreshingSource{
		refresh: refresh,
		leeway:  30 * time.Second,
		now:     time.Now,
	}
}

const fallbackLifetime = 5 * time.Minute

// Token implements CredentialSource.
func (s *RefreshingSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiry.Add(-s.leeway)) {
		return s.token, nil
	}

	token, err := s.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	s.token = token
	s.expiry = s.expiryOf(token)
	return token, nil
}

func (s *RefreshingSource) expiryOf(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return s.now().Add(fallbackLifetime)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return s.now().Add(fallbackLifetime)
	}
	return exp.Time
}
