package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quizdash/internal/domain"
	"quizdash/internal/infra/memory"
)

type fakeIdentityService struct {
	mu         sync.Mutex
	signUps    int32
	refreshes  int32
	failAll    bool
	failToken  bool
	omitTTL    bool
	signUpLag  time.Duration
	expiresIn  string
	tokenValue string
}

func (f *fakeIdentityService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts:signUp", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.signUps, 1)
		if f.signUpLag > 0 {
			time.Sleep(f.signUpLag)
		}
		if f.failAll {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		body := map[string]string{
			"localId":      "subject-1",
			"idToken":      f.token(),
			"refreshToken": "refresh-1",
		}
		if !f.omitTTL {
			body["expiresIn"] = f.ttl()
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/v1/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.refreshes, 1)
		if f.failAll || f.failToken {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"user_id":       "subject-1",
			"id_token":      f.token(),
			"refresh_token": "refresh-2",
			"expires_in":    f.ttl(),
		})
	})
	return mux
}

func (f *fakeIdentityService) token() string {
	if f.tokenValue != "" {
		return f.tokenValue
	}
	return "token-abc"
}

func (f *fakeIdentityService) ttl() string {
	if f.expiresIn != "" {
		return f.expiresIn
	}
	return "3600"
}

func newTestManager(t *testing.T, f *fakeIdentityService, store Store) (*Manager, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(f.handler())
	t.Cleanup(server.Close)
	m := NewManager(Config{
		SignUpURL: server.URL + "/v1/accounts:signUp",
		TokenURL:  server.URL + "/v1/token",
		APIKey:    "test-key",
	}, store)
	return m, server
}

func TestSignUpOnFirstUse(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKV()
	f := &fakeIdentityService{}
	m, _ := newTestManager(t, f, store)

	id, err := m.Valid(ctx)
	if err != nil {
		t.Fatalf("valid: %v", err)
	}
	if id.SubjectID != "subject-1" || id.BearerToken != "token-abc" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if f.signUps != 1 || f.refreshes != 0 {
		t.Fatalf("expected one sign-up, got signUps=%d refreshes=%d", f.signUps, f.refreshes)
	}

	// Persisted for the next process.
	raw, ok, err := store.Get(ctx, identityKey)
	if err != nil || !ok {
		t.Fatalf("identity not persisted: ok=%v err=%v", ok, err)
	}
	var cachedID domain.Identity
	if err := json.Unmarshal([]byte(raw), &cachedID); err != nil {
		t.Fatalf("persisted identity unreadable: %v", err)
	}
	if cachedID.SubjectID != id.SubjectID {
		t.Fatalf("persisted identity differs: %+v", cachedID)
	}
}

func TestCachedIdentityAvoidsNetwork(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKV()
	f := &fakeIdentityService{}
	m, _ := newTestManager(t, f, store)

	seed := domain.Identity{
		SubjectID:    "cached",
		BearerToken:  "cached-token",
		RefreshToken: "cached-refresh",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
	}
	raw, _ := json.Marshal(seed)
	_ = store.Set(ctx, identityKey, string(raw))

	id, err := m.Valid(ctx)
	if err != nil {
		t.Fatalf("valid: %v", err)
	}
	if id.SubjectID != "cached" {
		t.Fatalf("expected cached identity, got %+v", id)
	}
	if f.signUps != 0 || f.refreshes != 0 {
		t.Fatalf("cached identity should not hit the network")
	}
}

func TestExpiredIdentityRefreshes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKV()
	f := &fakeIdentityService{}
	m, _ := newTestManager(t, f, store)

	seed := domain.Identity{
		SubjectID:    "stale",
		BearerToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute).UnixMilli(),
	}
	raw, _ := json.Marshal(seed)
	_ = store.Set(ctx, identityKey, string(raw))

	id, err := m.Valid(ctx)
	if err != nil {
		t.Fatalf("valid: %v", err)
	}
	if f.refreshes != 1 || f.signUps != 0 {
		t.Fatalf("expected refresh path, got signUps=%d refreshes=%d", f.signUps, f.refreshes)
	}
	if id.RefreshToken != "refresh-2" {
		t.Fatalf("expected superseded refresh token, got %+v", id)
	}
}

func TestRefreshFailureFallsBackToSignUp(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKV()
	f := &fakeIdentityService{failToken: true}
	m, _ := newTestManager(t, f, store)

	seed := domain.Identity{
		SubjectID:    "stale",
		BearerToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute).UnixMilli(),
	}
	raw, _ := json.Marshal(seed)
	_ = store.Set(ctx, identityKey, string(raw))

	id, err := m.Valid(ctx)
	if err != nil {
		t.Fatalf("valid: %v", err)
	}
	if f.refreshes != 1 || f.signUps != 1 {
		t.Fatalf("expected refresh then sign-up, got signUps=%d refreshes=%d", f.signUps, f.refreshes)
	}
	if id.SubjectID != "subject-1" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestBothPathsFailingIsAuthError(t *testing.T) {
	store := memory.NewKV()
	f := &fakeIdentityService{failAll: true}
	m, _ := newTestManager(t, f, store)

	_, err := m.Valid(context.Background())
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestReturnedIdentityKeepsValidityMargin(t *testing.T) {
	store := memory.NewKV()
	m, _ := newTestManager(t, &fakeIdentityService{}, store)

	id, err := m.Valid(context.Background())
	if err != nil {
		t.Fatalf("valid: %v", err)
	}
	remaining := time.UnixMilli(id.ExpiresAt).Sub(time.Now())
	if remaining < validityMargin {
		t.Fatalf("identity handed out with %s of validity", remaining)
	}
	// TTL 3600s minus the 30s skew margin.
	if remaining > time.Hour {
		t.Fatalf("expiry missing the skew margin: %s remaining", remaining)
	}
}

func TestConcurrentCallersShareOneFlight(t *testing.T) {
	store := memory.NewKV()
	f := &fakeIdentityService{signUpLag: 50 * time.Millisecond}
	m, _ := newTestManager(t, f, store)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Valid(context.Background()); err != nil {
				t.Errorf("valid: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&f.signUps); n != 1 {
		t.Fatalf("expected a single sign-up round trip, got %d", n)
	}
}

func TestTTLFallsBackToTokenExp(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "subject-1",
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	store := memory.NewKV()
	f := &fakeIdentityService{omitTTL: true, tokenValue: signed}
	m, _ := newTestManager(t, f, store)

	id, err := m.Valid(context.Background())
	if err != nil {
		t.Fatalf("valid: %v", err)
	}
	want := exp.Add(-skewMargin).UnixMilli()
	if diff := id.ExpiresAt - want; diff < -2000 || diff > 2000 {
		t.Fatalf("expected expiry near token exp minus skew, got %d want %d", id.ExpiresAt, want)
	}
}
