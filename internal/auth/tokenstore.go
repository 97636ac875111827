// Package auth holds the client-side session: one persisted bearer token and
// the claims decoded out of it. The JWT is decoded without signature
// verification — that is deliberate. The decoded values gate only whether a
// socket connection is attempted and what the UI shows; authorization is always
// the backend's call when it sees the token.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/localpepas/orderlink/internal/cache"
)

// StorageKey is the single durable key this client owns.
const StorageKey = "accessToken"

type Session struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

type TokenStore struct {
	storage cache.BytesCache
}

func NewTokenStore(storage cache.BytesCache) *TokenStore {
	return &TokenStore{storage: storage}
}

// Token reads the persisted bearer token. Storage errors degrade to "no token".
func (s *TokenStore) Token(ctx context.Context) (string, bool) {
	b, ok, err := s.storage.Get(ctx, StorageKey)
	if err != nil {
		slog.Warn("token storage read failed", "error", err.Error())
		return "", false
	}
	if !ok || len(b) == 0 {
		return "", false
	}
	return string(b), true
}

func (s *TokenStore) SetToken(ctx context.Context, token string) error {
	return s.storage.Set(ctx, StorageKey, []byte(token), 0)
}

func (s *TokenStore) ClearToken(ctx context.Context) error {
	return s.storage.Delete(ctx, StorageKey)
}

// UserID returns the id (or sub) claim of the persisted token, or false when
// the token is missing, malformed or expired.
func (s *TokenStore) UserID(ctx context.Context) (string, bool) {
	sess, ok := s.Session(ctx)
	if !ok {
		return "", false
	}
	return sess.UserID, true
}

// Session decodes the persisted token into a Session. Any decode failure means
// "no valid session"; nothing here returns an error to the caller.
func (s *TokenStore) Session(ctx context.Context) (*Session, bool) {
	tok, ok := s.Token(ctx)
	if !ok {
		return nil, false
	}

	claims, err := decodeClaims(tok)
	if err != nil {
		slog.Warn("token decode failed", "error", err.Error())
		return nil, false
	}

	exp, ok := expiry(claims)
	if !ok || time.Now().After(exp) {
		return nil, false
	}

	id := claimString(claims, "id")
	if id == "" {
		id = claimString(claims, "sub")
	}
	if id == "" {
		return nil, false
	}

	return &Session{UserID: id, Token: tok, ExpiresAt: exp}, true
}

// IsExpired treats a missing or unreadable exp claim as expired (fail closed).
func IsExpired(token string) bool {
	claims, err := decodeClaims(token)
	if err != nil {
		return true
	}
	exp, ok := expiry(claims)
	if !ok {
		return true
	}
	return time.Now().After(exp)
}

func decodeClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	// Подпись не проверяем: у клиента нет ключа, да и не его это дело.
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func expiry(claims jwt.MapClaims) (time.Time, bool) {
	v, ok := claims["exp"]
	if !ok {
		return time.Time{}, false
	}
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0), true
	case int64:
		return time.Unix(n, 0), true
	default:
		return time.Time{}, false
	}
}

func claimString(claims jwt.MapClaims, key string) string {
	v, ok := claims[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%.0f", s)
	default:
		return ""
	}
}
