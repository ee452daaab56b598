// Package auth manages Nanit cloud access/refresh tokens: proactive
// renewal ahead of expiry, refresh serialized under a mutex so
// concurrent callers never trigger a duplicate refresh, and a
// subscription point for persisting rotated tokens.
package auth

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"nanit/internal/rest"
)

// AuthError wraps any refresh failure that isn't already a
// *rest.AuthError, matching the "token refresh failed: ..." shape of the
// original.
type AuthError struct{ msg string }

func (e *AuthError) Error() string { return "auth: " + e.msg }

func newAuthError(format string, args ...any) *AuthError {
	return &AuthError{msg: fmt.Sprintf(format, args...)}
}

const defaultTTL = 3600 * time.Second

// subscriber pairs a registered callback with an id so Unsubscribe can
// remove the right one even if two callbacks are behaviorally identical
// (Go funcs aren't comparable the way Python bound methods are).
type subscriber struct {
	id int
	fn func(accessToken, refreshToken string)
}

// TokenManager holds the live token pair for one logged-in session and
// refreshes it through rest on demand. It does not own the REST client.
type TokenManager struct {
	rest   *rest.Client
	logger *log.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	subscribers  []subscriber
	nextSubID    int
}

// NewTokenManager wraps an initial token pair. expiresIn is the TTL
// reported by login (or a REST refresh); if not yet known, pass 0 to use
// the token's unverified JWT exp claim, else a default assumption of
// 3600s. A negative expiresIn marks the token as already expired.
func NewTokenManager(restClient *rest.Client, accessToken, refreshToken string, expiresIn time.Duration, logger *log.Logger) *TokenManager {
	if logger == nil {
		logger = log.New(io.Discard, "[auth] ", log.LstdFlags)
	}
	if expiresIn == 0 {
		expiresIn = ttlFor(accessToken, nil)
	}
	return &TokenManager{
		rest:         restClient,
		logger:       logger,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		expiresAt:    time.Now().Add(expiresIn),
	}
}

// ttlFor resolves the TTL to use for a freshly issued access token,
// preferring the server-reported value, then an unverified exp claim
// peeked out of the JWT, then the historical 3600s default.
func ttlFor(accessToken string, reported *int64) time.Duration {
	if reported != nil {
		return time.Duration(*reported) * time.Second
	}
	if exp, ok := peekExpiry(accessToken); ok {
		ttl := time.Until(time.Unix(exp, 0))
		if ttl > 0 {
			return ttl
		}
	}
	return defaultTTL
}

// AccessToken returns the current access token without checking expiry.
func (m *TokenManager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

// RefreshToken returns the current refresh token.
func (m *TokenManager) RefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshToken
}

// GetAccessToken returns a valid access token, refreshing first if it
// will expire within minTTL. Concurrent callers serialize on the same
// mutex the refresh itself holds, so only one refresh happens even if
// many goroutines race in with an expired token.
func (m *TokenManager) GetAccessToken(ctx context.Context, minTTL time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Now().Add(minTTL).After(m.expiresAt) {
		if err := m.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	return m.accessToken, nil
}

// ForceRefresh refreshes unconditionally.
func (m *TokenManager) ForceRefresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *TokenManager) refreshLocked(ctx context.Context) error {
	result, err := m.rest.RefreshToken(ctx, m.accessToken, m.refreshToken)
	if err != nil {
		if _, ok := err.(*rest.AuthError); ok {
			return err
		}
		return newAuthError("token refresh failed: %v", err)
	}

	m.accessToken = result.AccessToken
	m.refreshToken = result.RefreshToken
	m.expiresAt = time.Now().Add(ttlFor(result.AccessToken, result.ExpiresIn))

	for _, sub := range m.subscribers {
		sub.fn(m.accessToken, m.refreshToken)
	}
	return nil
}

// OnTokensRefreshed registers a callback invoked with the new token pair
// after every refresh. The returned function unsubscribes it.
func (m *TokenManager) OnTokensRefreshed(fn func(accessToken, refreshToken string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subscribers {
			if sub.id == id {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}
