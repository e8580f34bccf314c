// Package credentials owns the account token lifecycle: refresh exchange
// with rotation, expiry tracking, and the one-time onboarding code grant.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"rewardbot/internal/account"
	"rewardbot/internal/rewards"
	logx "rewardbot/pkg/logx"
)

const (
	// refreshThreshold: a token closer than this to expiry triggers a
	// refresh attempt before any task call.
	refreshThreshold = 15 * time.Minute

	// Long-lived refresh secrets carry a recognizable prefix and a minimum
	// length; anything else is treated as a callback URL to extract an
	// exchange code from.
	refreshTokenPrefix = "M."
	minRefreshTokenLen = 40
)

var (
	ErrNoRefreshToken = errors.New("account has no refresh token")
	ErrBadCredential  = errors.New("unrecognized credential input")
)

type Manager struct {
	api   rewards.API
	store *account.Store
	log   logx.Logger

	now func() time.Time
}

func NewManager(api rewards.API, store *account.Store, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{api: api, store: store, log: log, now: time.Now}
}

// EnsureValidToken returns an access token usable for task calls, refreshing
// (and rotating the refresh secret) when the current one is missing, expired,
// or within the refresh threshold of expiry.
//
// When the refresh exchange fails but a stale access token is still present,
// it logs a warning and proceeds with the stale token. With no token at all,
// the failure is fatal for the run.
func (m *Manager) EnsureValidToken(ctx context.Context, id string) (string, error) {
	acc, ok := m.store.Get(id)
	if !ok {
		return "", account.ErrNotFound
	}
	if strings.TrimSpace(acc.RefreshToken) == "" {
		return "", ErrNoRefreshToken
	}

	now := m.now()
	if acc.AccessToken != "" && acc.TokenExpiresAt.Sub(now) > refreshThreshold {
		return acc.AccessToken, nil
	}

	tok, err := m.api.RefreshToken(ctx, acc.RefreshToken)
	if err != nil {
		if acc.AccessToken != "" {
			m.log.Warn("token refresh failed; proceeding with stale access token",
				logx.String("account", id), logx.Err(err))
			m.store.AppendLog(id, "manual", "warn", "token refresh failed, using stale token: "+err.Error())
			return acc.AccessToken, nil
		}
		return "", fmt.Errorf("token refresh: %w", err)
	}

	updated, _ := m.store.Update(id, func(a *account.Account) {
		if tok.RefreshToken != "" {
			a.RefreshToken = tok.RefreshToken
		}
		a.AccessToken = tok.AccessToken
		a.TokenExpiresAt = tok.ExpiresAt(now)
	})
	m.log.Debug("token refreshed",
		logx.String("account", id),
		logx.Time("expires_at", updated.TokenExpiresAt))
	return tok.AccessToken, nil
}

// Onboard resolves a credential input into tokens. Raw refresh secrets are
// used as-is; callback URLs go through the one-time code exchange. This path
// is used only when importing an account, never during scheduled runs.
func (m *Manager) Onboard(ctx context.Context, input string) (rewards.Token, error) {
	kind, value, err := ParseCredential(input)
	if err != nil {
		return rewards.Token{}, err
	}
	switch kind {
	case CredentialRefreshToken:
		// Validate by performing a refresh immediately; this also rotates
		// the pasted secret so the stored one is fresh.
		return m.api.RefreshToken(ctx, value)
	case CredentialAuthCode:
		return m.api.ExchangeCode(ctx, value)
	default:
		return rewards.Token{}, ErrBadCredential
	}
}

type CredentialKind string

const (
	CredentialRefreshToken CredentialKind = "refresh_token"
	CredentialAuthCode     CredentialKind = "auth_code"
)

// ParseCredential accepts either a raw long-lived refresh secret or an
// authorization-callback URL/query fragment carrying a code parameter.
func ParseCredential(input string) (CredentialKind, string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", "", ErrBadCredential
	}
	if strings.HasPrefix(s, refreshTokenPrefix) && len(s) >= minRefreshTokenLen {
		return CredentialRefreshToken, s, nil
	}
	if code := extractCode(s); code != "" {
		return CredentialAuthCode, code, nil
	}
	return "", "", ErrBadCredential
}

func extractCode(s string) string {
	// Full URL first: code may live in the query or the fragment.
	if u, err := url.Parse(s); err == nil {
		if code := u.Query().Get("code"); code != "" {
			return code
		}
		if u.Fragment != "" {
			if v, err := url.ParseQuery(u.Fragment); err == nil {
				if code := v.Get("code"); code != "" {
					return code
				}
			}
		}
	}
	// Bare query fragment ("code=...&state=...").
	if v, err := url.ParseQuery(strings.TrimPrefix(s, "?")); err == nil {
		if code := v.Get("code"); code != "" {
			return code
		}
	}
	return ""
}
