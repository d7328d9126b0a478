package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() failed: %v", err)
	}
	return s
}

func TestStaticSource(t *testing.T) {
	ctx := context.Background()

	got, err := StaticSource("tok").Token(ctx)
	if err != nil || got != "tok" {
		t.Errorf("Token() = %q, %v", got, err)
	}

	if _, err := StaticSource("").Token(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("empty source Token() = %v, want ErrUnauthenticated", err)
	}
}

func TestRefreshingSourceCachesUntilExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	calls := 0
	src := NewRefreshingSource(func(ctx context.Context) (string, error) {
		calls++
		return signedToken(t, now.Add(time.Hour)), nil
	})
	src.now = func() time.Time { return now }

	first, err := src.Token(ctx)
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := src.Token(ctx)
		if err != nil {
			t.Fatalf("Token() failed: %v", err)
		}
		if again != first {
			t.Error("cached token changed without expiry")
		}
	}
	if calls != 1 {
		t.Errorf("refresh called %d times, want 1", calls)
	}

	// Inside the leeway window the token counts as expired.
	now = now.Add(time.Hour - 10*time.Second)
	if _, err := src.Token(ctx); err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("refresh called %d times after entering leeway window, want 2", calls)
	}
}

func TestRefreshingSourceOpaqueTokenFallback(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	calls := 0
	src := NewRefreshingSource(func(ctx context.Context) (string, error) {
		calls++
		return "opaque-token", nil
	})
	src.now = func() time.Time { return now }

	if _, err := src.Token(ctx); err != nil {
		t.Fatalf("Token() failed: %v", err)
	}

	// Non-JWT tokens are kept for the fallback lifetime.
	now = now.Add(fallbackLifetime - time.Minute)
	if _, err := src.Token(ctx); err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("refresh called %d times inside fallback lifetime, want 1", calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := src.Token(ctx); err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("refresh called %d times after fallback lifetime, want 2", calls)
	}
}

func TestRefreshingSourceRefreshFailure(t *testing.T) {
	src := NewRefreshingSource(func(ctx context.Context) (string, error) {
		return "", errors.New("identity provider unreachable")
	})

	_, err := src.Token(context.Background())
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Token() = %v, want ErrUnauthenticated", err)
	}
}
