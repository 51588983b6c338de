// Package auth obtains and caches the ephemeral anonymous identity used to
// authorize leaderboard writes.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"quizdash/internal/domain"
)

// Store is the durable local key-value store the cached identity lives in,
// so it survives client restarts.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Config carries the identity service endpoints. Injected at construction;
// nothing is read from ambient globals.
type Config struct {
	SignUpURL  string // anonymous account creation endpoint
	TokenURL   string // refresh-token exchange endpoint
	APIKey     string
	DefaultTTL time.Duration // used when the service reports no TTL and the token carries no exp
	HTTPClient *http.Client
}

const (
	identityKey = "auth/identity"

	// validityMargin is how much lifetime a cached identity must still have
	// to be handed out without a round trip.
	validityMargin = 5 * time.Second
	// skewMargin is subtracted from the server-reported TTL so a token is
	// never used right at its expiry.
	skewMargin = 30 * time.Second
)

// Manager resolves a valid identity: cached if fresh, refreshed if possible,
// freshly created otherwise. Concurrent callers collapse into a single
// network round trip.
type Manager struct {
	cfg    Config
	store  Store
	client *http.Client
	sf     singleflight.Group
	now    func() time.Time
}

func NewManager(cfg Config, store Store) *Manager {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	return &Manager{cfg: cfg, store: store, client: client, now: time.Now}
}

// Valid returns an identity with at least validityMargin of lifetime left.
// Both refresh and creation failing is fatal to the calling operation and
// surfaces as domain.ErrAuth.
func (m *Manager) Valid(ctx context.Context) (domain.Identity, error) {
	if id, ok := m.cached(ctx); ok && m.usable(id) {
		return id, nil
	}

	v, err, _ := m.sf.Do(identityKey, func() (interface{}, error) {
		// Another caller may have resolved it while we waited.
		id, ok := m.cached(ctx)
		if ok && m.usable(id) {
			return id, nil
		}
		if ok && id.RefreshToken != "" {
			refreshed, err := m.refresh(ctx, id.RefreshToken)
			if err == nil {
				return refreshed, nil
			}
			log.Printf("identity refresh failed, creating a fresh one: %v", err)
		}
		return m.signUp(ctx)
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	return v.(domain.Identity), nil
}

func (m *Manager) cached(ctx context.Context) (domain.Identity, bool) {
	raw, ok, err := m.store.Get(ctx, identityKey)
	if err != nil || !ok {
		return domain.Identity{}, false
	}
	var id domain.Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return domain.Identity{}, false
	}
	return id, true
}

func (m *Manager) usable(id domain.Identity) bool {
	if id.BearerToken == "" {
		return false
	}
	return time.UnixMilli(id.ExpiresAt).After(m.now().Add(validityMargin))
}

func (m *Manager) signUp(ctx context.Context) (domain.Identity, error) {
	body, _ := json.Marshal(map[string]bool{"returnSecureToken": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.keyed(m.cfg.SignUpURL), bytes.NewReader(body))
	if err != nil {
		return domain.Identity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var payload struct {
		LocalID      string `json:"localId"`
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    string `json:"expiresIn"`
	}
	if err := m.do(req, &payload); err != nil {
		return domain.Identity{}, fmt.Errorf("anonymous sign-up: %w", err)
	}
	return m.persist(ctx, domain.Identity{
		SubjectID:    payload.LocalID,
		BearerToken:  payload.IDToken,
		RefreshToken: payload.RefreshToken,
	}, payload.ExpiresIn), nil
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) (domain.Identity, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.keyed(m.cfg.TokenURL), strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Identity{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var payload struct {
		UserID       string `json:"user_id"`
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := m.do(req, &payload); err != nil {
		return domain.Identity{}, fmt.Errorf("token refresh: %w", err)
	}
	return m.persist(ctx, domain.Identity{
		SubjectID:    payload.UserID,
		BearerToken:  payload.IDToken,
		RefreshToken: payload.RefreshToken,
	}, payload.ExpiresIn), nil
}

// persist computes the expiry (server TTL minus clock-skew margin) and
// writes the superseding identity to the store. A store failure is logged,
// not fatal; the identity still works for this process.
func (m *Manager) persist(ctx context.Context, id domain.Identity, reportedTTL string) domain.Identity {
	now := m.now()
	ttl := m.resolveTTL(reportedTTL, id.BearerToken, now)
	id.ExpiresAt = now.Add(ttl - skewMargin).UnixMilli()

	if raw, err := json.Marshal(id); err == nil {
		if err := m.store.Set(ctx, identityKey, string(raw)); err != nil {
			log.Printf("persist identity: %v", err)
		}
	}
	return id
}

func (m *Manager) resolveTTL(reported, token string, now time.Time) time.Duration {
	if seconds, err := strconv.Atoi(reported); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if ttl, ok := tokenTTL(token, now); ok {
		return ttl
	}
	return m.cfg.DefaultTTL
}

// tokenTTL derives a lifetime from the bearer token's exp claim. The token
// is not verified here; only its expiry is read.
func tokenTTL(token string, now time.Time) (time.Duration, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	ttl := exp.Time.Sub(now)
	if ttl <= 0 {
		return 0, false
	}
	return ttl, true
}

func (m *Manager) keyed(endpoint string) string {
	if m.cfg.APIKey == "" {
		return endpoint
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "key=" + url.QueryEscape(m.cfg.APIKey)
}

func (m *Manager) do(req *http.Request, out interface{}) error {
	res, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 256))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return json.NewDecoder(res.Body).Decode(out)
}
