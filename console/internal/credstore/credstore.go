// Package credstore provides typed access to the persisted token pair.
//
// # Expiry Hint
//
// IsExpired decodes the access token's claims without verifying the
// signature. The result is an optimistic client-side hint used to skip an
// obviously doomed round trip; the backend's 401 is always authoritative.
// Anything that cannot be decoded is treated as expired.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pilot-net/edos-console/console/internal/storage"
	"github.com/pilot-net/edos-console/pkg/types"
)

// Fixed key names in the client-local store.
const (
	AccessTokenKey  = "accessToken"
	RefreshTokenKey = "refreshToken"
)

// Store reads and writes Credentials through a storage.Store.
type Store struct {
	kv     storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a credential store on top of kv.
func New(kv storage.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:     kv,
		logger: logger.With("component", "credstore"),
		now:    time.Now,
	}
}

// Get returns the stored credentials. It reports false when no access token
// is stored or the backing store cannot be read.
func (s *Store) Get(ctx context.Context) (types.Credentials, bool) {
	access, ok := s.read(ctx, AccessTokenKey)
	if !ok {
		return types.Credentials{}, false
	}
	refresh, _ := s.read(ctx, RefreshTokenKey)
	return types.Credentials{AccessToken: access, RefreshToken: refresh}, true
}

// AccessToken returns the stored access token, or "" when absent.
func (s *Store) AccessToken(ctx context.Context) string {
	v, _ := s.read(ctx, AccessTokenKey)
	return v
}

// RefreshToken returns the stored refresh token.
func (s *Store) RefreshToken(ctx context.Context) (string, bool) {
	return s.read(ctx, RefreshTokenKey)
}

// Set persists both tokens. An empty refresh token removes the stored one.
func (s *Store) Set(ctx context.Context, creds types.Credentials) error {
	if err := s.kv.Set(ctx, AccessTokenKey, []byte(creds.AccessToken)); err != nil {
		return err
	}
	if creds.RefreshToken == "" {
		return s.kv.Delete(ctx, RefreshTokenKey)
	}
	return s.kv.Set(ctx, RefreshTokenKey, []byte(creds.RefreshToken))
}

// Clear removes both tokens.
func (s *Store) Clear(ctx context.Context) error {
	errAccess := s.kv.Delete(ctx, AccessTokenKey)
	errRefresh := s.kv.Delete(ctx, RefreshTokenKey)
	return errors.Join(errAccess, errRefresh)
}

// IsExpired reports whether token is believed stale at the store's clock.
func (s *Store) IsExpired(token string) bool {
	return IsExpiredAt(token, s.now())
}

func (s *Store) read(ctx context.Context, key string) (string, bool) {
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("reading credential failed", "key", key, "error", err)
		}
		return "", false
	}
	if len(v) == 0 {
		return "", false
	}
	return string(v), true
}

// IsExpired reports whether token is believed stale now.
func IsExpired(token string) bool {
	return IsExpiredAt(token, time.Now())
}

// IsExpiredAt decodes token's claims without verification and compares exp
// against now. Malformed tokens and tokens without a numeric exp are expired.
func IsExpiredAt(token string, now time.Time) bool {
	exp, ok := Expiry(token)
	if !ok {
		return true
	}
	return !now.Before(exp)
}

// Expiry returns the exp claim of token. Only the payload segment is
// decoded; the header and signature are not inspected.
func Expiry(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}

	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
