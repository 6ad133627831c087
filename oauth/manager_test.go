package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type memoryBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, provider string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.data[provider]; ok {
		return data, nil
	}
	return nil, ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, provider string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[provider] = data
	return nil
}

func newTokenServer(t *testing.T, count *int, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "grant_type=refresh_token") {
			t.Errorf("expected refresh_token grant, got %s", string(body))
		}
		mu.Lock()
		*count++
		n := *count
		mu.Unlock()
		// Slow the exchange down so concurrent callers pile up on it.
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"access-%d","refresh_token":"refresh-%d","expires_in":3600,"token_type":"Bearer"}`, n, n)
	}))
}

func newTestManager(t *testing.T, tokenURL string) *Manager {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "state.json")
	if err := WriteState(statePath, State{ClientID: "enki-front", RefreshToken: "refresh-0"}); err != nil {
		t.Fatalf("write state: %v", err)
	}
	m, err := NewManager(Config{
		Provider:  "enki",
		TokenURL:  tokenURL,
		ClientID:  "enki-front",
		StatePath: statePath,
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestTokenSingleFlight(t *testing.T) {
	var mu sync.Mutex
	var refreshes int
	server := newTokenServer(t, &refreshes, &mu)
	defer server.Close()

	m := newTestManager(t, server.URL+"/token")

	const callers = 16
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := m.Token(context.Background())
			if err != nil {
				t.Errorf("Token: %v", err)
				return
			}
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	mu.Lock()
	got := refreshes
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected exactly 1 refresh, got %d", got)
	}
	for i, token := range tokens {
		if token != "access-1" {
			t.Fatalf("caller %d got token %q, want access-1", i, token)
		}
	}
}

func TestTokenValidSkipsRefresh(t *testing.T) {
	var mu sync.Mutex
	var refreshes int
	server := newTokenServer(t, &refreshes, &mu)
	defer server.Close()

	m := newTestManager(t, server.URL+"/token")
	if err := m.SetCredential(Credential{
		AccessToken:  "seeded",
		RefreshToken: "refresh-0",
		Expiry:       time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	token, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "seeded" {
		t.Fatalf("got token %q, want seeded", token)
	}
	mu.Lock()
	defer mu.Unlock()
	if refreshes != 0 {
		t.Fatalf("expected no refresh, got %d", refreshes)
	}
}

func TestTokenRefreshesInsideMargin(t *testing.T) {
	var mu sync.Mutex
	var refreshes int
	server := newTokenServer(t, &refreshes, &mu)
	defer server.Close()

	m := newTestManager(t, server.URL+"/token")
	if err := m.SetCredential(Credential{
		AccessToken:  "stale",
		RefreshToken: "refresh-0",
		Expiry:       time.Now().Add(30 * time.Second),
	}); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	token, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "access-1" {
		t.Fatalf("got token %q, want access-1", token)
	}
	mu.Lock()
	defer mu.Unlock()
	if refreshes != 1 {
		t.Fatalf("expected 1 refresh, got %d", refreshes)
	}
}

func TestRefreshRotatesAndPersists(t *testing.T) {
	var mu sync.Mutex
	var refreshes int
	server := newTokenServer(t, &refreshes, &mu)
	defer server.Close()

	m := newTestManager(t, server.URL+"/token")
	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}

	state, err := LoadState(m.cfg.StatePath)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.RefreshToken != "refresh-1" {
		t.Fatalf("state refresh token %q, want refresh-1", state.RefreshToken)
	}
	info, err := os.Stat(m.cfg.StatePath)
	if err != nil {
		t.Fatalf("stat state: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("state file perm %v, want 0600", info.Mode().Perm())
	}
}

func TestForceRefreshDropsCachedToken(t *testing.T) {
	var mu sync.Mutex
	var refreshes int
	server := newTokenServer(t, &refreshes, &mu)
	defer server.Close()

	m := newTestManager(t, server.URL+"/token")
	if err := m.SetCredential(Credential{
		AccessToken:  "believed-valid",
		RefreshToken: "refresh-0",
		Expiry:       time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	if err := m.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	token, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "access-1" {
		t.Fatalf("got token %q after forced refresh, want access-1", token)
	}
	mu.Lock()
	defer mu.Unlock()
	if refreshes != 1 {
		t.Fatalf("expected 1 refresh, got %d", refreshes)
	}
}

func TestRevokedRefreshTokenSurfacesAuthExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Token is not active"}`)
	}))
	defer server.Close()

	m := newTestManager(t, server.URL+"/token")
	_, err := m.Token(context.Background())
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestTokenWithoutCredential(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	m, err := NewManager(Config{
		Provider:  "enki",
		TokenURL:  "http://127.0.0.1:0/token",
		ClientID:  "enki-front",
		StatePath: statePath,
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Token(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestBlobFallbackRestoresState(t *testing.T) {
	store := &memoryBlobStore{}
	seed, err := encodeState(State{SchemaVersion: SchemaVersion, ClientID: "enki-front", RefreshToken: "mirrored"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := store.Save(context.Background(), "enki", seed); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	statePath := filepath.Join(t.TempDir(), "state.json")
	m, err := NewManager(Config{
		Provider:  "enki",
		TokenURL:  "http://127.0.0.1:0/token",
		ClientID:  "enki-front",
		StatePath: statePath,
	}, store, zap.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	m.mu.Lock()
	refreshToken := m.refreshToken
	m.mu.Unlock()
	if refreshToken != "mirrored" {
		t.Fatalf("refresh token %q, want mirrored", refreshToken)
	}
	if _, err := LoadState(statePath); err != nil {
		t.Fatalf("expected local state written from blob: %v", err)
	}
}

type sickBlobStore struct {
	mu          sync.Mutex
	hadDeadline bool
}

func (s *sickBlobStore) Load(_ context.Context, _ string) ([]byte, error) {
	return nil, ErrBlobNotFound
}

func (s *sickBlobStore) Save(ctx context.Context, _ string, _ []byte) error {
	s.mu.Lock()
	_, s.hadDeadline = ctx.Deadline()
	s.mu.Unlock()
	return context.DeadlineExceeded
}

func TestBlobSaveBoundedAndNonFatal(t *testing.T) {
	var mu sync.Mutex
	var refreshes int
	server := newTokenServer(t, &refreshes, &mu)
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "state.json")
	if err := WriteState(statePath, State{ClientID: "enki-front", RefreshToken: "refresh-0"}); err != nil {
		t.Fatalf("write state: %v", err)
	}

	store := &sickBlobStore{}
	m, err := NewManager(Config{
		Provider:  "enki",
		TokenURL:  server.URL + "/token",
		ClientID:  "enki-front",
		StatePath: statePath,
	}, store, zap.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "access-1" {
		t.Fatalf("token %q, want access-1", token)
	}

	store.mu.Lock()
	hadDeadline := store.hadDeadline
	store.mu.Unlock()
	if !hadDeadline {
		t.Fatal("blob save ran without a deadline")
	}
}

func TestSetCredentialReadsJWTExpiry(t *testing.T) {
	expiry := time.Now().Add(45 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiry),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	m := newTestManager(t, "http://127.0.0.1:0/token")
	if err := m.SetCredential(Credential{AccessToken: signed, RefreshToken: "refresh-0"}); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	m.mu.Lock()
	got := m.expiresAt
	m.mu.Unlock()
	if !got.Equal(expiry) {
		t.Fatalf("expiry %v, want %v", got, expiry)
	}
}

func TestLoginPasswordGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form := string(body)
		if !strings.Contains(form, "grant_type=password") {
			t.Errorf("expected password grant, got %s", form)
		}
		if !strings.Contains(form, "username=user%40example.com") || !strings.Contains(form, "password=hunter2") {
			t.Errorf("missing credentials in form: %s", form)
		}
		if !strings.Contains(form, "client_id=enki-front") {
			t.Errorf("missing client_id in form: %s", form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"first","refresh_token":"first-refresh","expires_in":7200,"token_type":"Bearer"}`)
	}))
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "state.json")
	m, err := NewManager(Config{
		Provider:  "enki",
		TokenURL:  server.URL + "/token",
		ClientID:  "enki-front",
		StatePath: statePath,
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if err := m.Login(context.Background(), "user@example.com", "hunter2"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	state, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.RefreshToken != "first-refresh" {
		t.Fatalf("state refresh token %q, want first-refresh", state.RefreshToken)
	}
}
