// Package credentials supplies the Instagram access token and account
// identity to the publishing pipeline. The long-lived token lifecycle
// (60-day expiry, refresh window) is owned here so that callers only
// ever ask two questions: is there a usable token, and whose account
// is it.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/instagram-publisher/internal/instagram"
)

// refreshWindow is how close to expiry a long-lived token gets before
// EnsureValidToken refreshes it. Instagram allows refreshing any token
// older than 24 hours; refreshing inside the last week of the 60-day
// window keeps plenty of margin without churning the token on every call.
const refreshWindow = 7 * 24 * time.Hour

// Provider supplies Instagram credentials to the publisher.
type Provider interface {
	// AccessToken returns the current long-lived token. ok is false
	// when no account is connected.
	AccessToken() (token string, ok bool)

	// RemoteUserID returns the Instagram user ID of the connected
	// account. ok is false when no account is connected.
	RemoteUserID() (id string, ok bool)

	// EnsureValidToken refreshes the token if it is inside the refresh
	// window. A nil return means the current AccessToken is usable.
	EnsureValidToken(ctx context.Context) error

	// SetCredentials replaces the stored token and account, e.g. after
	// an OAuth code exchange connects a new account.
	SetCredentials(token, userID string, expiresAt time.Time)
}

// EnvProvider is a Provider backed by values handed in at construction,
// typically from environment variables or SSM parameters loaded at cold
// start. It refreshes the token in place when the expiry is known and
// near.
type EnvProvider struct {
	mu        sync.RWMutex
	token     string
	userID    string
	expiresAt time.Time // zero when unknown; unknown expiry is never refreshed
}

// NewEnvProvider creates a provider for a pre-obtained long-lived token.
// expiresAt may be the zero time when the token's expiry is not tracked.
func NewEnvProvider(token, userID string, expiresAt time.Time) *EnvProvider {
	return &EnvProvider{
		token:     token,
		userID:    userID,
		expiresAt: expiresAt,
	}
}

func (p *EnvProvider) AccessToken() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token, p.token != ""
}

func (p *EnvProvider) RemoteUserID() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID, p.userID != ""
}

// SetCredentials replaces the provider's token and account identity.
// Clients built with NewClientWithCredentials pick the new values up on
// their next call.
func (p *EnvProvider) SetCredentials(token, userID string, expiresAt time.Time) {
	p.mu.Lock()
	p.token = token
	p.userID = userID
	p.expiresAt = expiresAt
	p.mu.Unlock()
}

// EnsureValidToken refreshes the long-lived token when it is within the
// refresh window of its expiry. Tokens with unknown expiry are assumed
// valid.
func (p *EnvProvider) EnsureValidToken(ctx context.Context) error {
	p.mu.RLock()
	token := p.token
	expiresAt := p.expiresAt
	p.mu.RUnlock()

	if token == "" {
		return fmt.Errorf("no Instagram account connected")
	}
	if expiresAt.IsZero() || time.Until(expiresAt) > refreshWindow {
		return nil
	}

	result, err := instagram.RefreshLongLivedToken(ctx, token)
	if err != nil {
		return fmt.Errorf("refresh access token: %w", err)
	}

	newExpiry := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	p.mu.Lock()
	p.token = result.AccessToken
	p.expiresAt = newExpiry
	p.mu.Unlock()

	log.Info().Time("expiresAt", newExpiry).Msg("Instagram token refreshed")
	return nil
}
