package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ErrAuthExpired means the refresh token was rejected by the identity
// provider. Recovery requires a new login; the manager never retries this
// on its own.
var ErrAuthExpired = errors.New("oauth refresh token expired or revoked")

// ErrNotAuthenticated means no credential has been handed to the manager
// yet (no state file, no blob, no Login call).
var ErrNotAuthenticated = errors.New("oauth not authenticated")

const (
	defaultExpiryMargin = 60 * time.Second
	blobSaveTimeout     = 5 * time.Second
)

// Credential is an access/refresh token pair handed off by the host.
// Expiry may be zero; it is then read from the access token's exp claim.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Config declares the identity provider contract for one cloud account.
type Config struct {
	Provider     string
	TokenURL     string
	ClientID     string
	StatePath    string
	ExpiryMargin time.Duration
}

func (c Config) margin() time.Duration {
	if c.ExpiryMargin > 0 {
		return c.ExpiryMargin
	}
	return defaultExpiryMargin
}

// Manager owns the one Credential shared by every caller. Reads of a
// valid token never block; expiry and 401-triggered refreshes are
// single-flight, with every waiter receiving the one result.
type Manager struct {
	cfg        Config
	blobStore  BlobStore
	httpClient *http.Client
	config     *oauth2.Config
	log        *zap.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time

	sf singleflight.Group
}

func NewManager(cfg Config, blobStore BlobStore, log *zap.Logger) (*Manager, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("tokenURL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("clientID is required")
	}
	if cfg.StatePath == "" {
		return nil, fmt.Errorf("statePath is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	m := &Manager{
		cfg:        cfg,
		blobStore:  blobStore,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With(zap.String("provider", cfg.Provider)),
		config: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
	}

	state, err := m.loadInitialState()
	switch {
	case err == nil:
		m.refreshToken = state.RefreshToken
	case errors.Is(err, ErrStateNotFound):
		// Not authenticated yet; Login or SetCredential must follow.
	default:
		return nil, err
	}

	return m, nil
}

// Token returns a currently valid access token, refreshing first when the
// stored token is within the expiry margin. Concurrent callers share a
// single refresh.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.accessToken != "" && time.Until(m.expiresAt) > m.cfg.margin() {
		token := m.accessToken
		m.mu.Unlock()
		return token, nil
	}
	hasRefresh := m.refreshToken != ""
	m.mu.Unlock()

	if !hasRefresh {
		return "", ErrNotAuthenticated
	}
	return m.refreshShared(ctx)
}

// ForceRefresh drops the cached access token and refreshes. The transport
// client calls this when the gateway rejects a believed-valid token.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	m.mu.Lock()
	m.accessToken = ""
	hasRefresh := m.refreshToken != ""
	m.mu.Unlock()

	if !hasRefresh {
		return ErrNotAuthenticated
	}
	_, err := m.refreshShared(ctx)
	return err
}

// Login performs an initial password grant against the identity provider
// and persists the resulting credential. Only the setup path uses this;
// steady-state operation lives off the refresh token.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := m.config.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			body := strings.TrimSpace(string(retrieveErr.Body))
			return fmt.Errorf("login failed %d: %s", retrieveErr.Response.StatusCode, body)
		}
		return fmt.Errorf("login: %w", err)
	}
	return m.SetCredential(Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	})
}

// SetCredential installs a credential obtained outside the manager and
// persists its refresh token. The stored pair is replaced atomically.
func (m *Manager) SetCredential(cred Credential) error {
	if cred.RefreshToken == "" {
		return fmt.Errorf("credential missing refresh token")
	}
	expiry := cred.Expiry
	if expiry.IsZero() && cred.AccessToken != "" {
		parsed, err := tokenExpiry(cred.AccessToken)
		if err != nil {
			return err
		}
		expiry = parsed
	}

	m.mu.Lock()
	m.accessToken = cred.AccessToken
	m.refreshToken = cred.RefreshToken
	m.expiresAt = expiry
	m.mu.Unlock()

	tokenValid.WithLabelValues(m.cfg.Provider).Set(1)
	return m.persist()
}

func (m *Manager) refreshShared(ctx context.Context) (string, error) {
	// The refresh critical section must complete even if the caller that
	// happened to start it goes away; waiters still need the result.
	result, err, _ := m.sf.Do("refresh", func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	refreshToken := m.refreshToken
	m.mu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	source := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		refreshFailure.WithLabelValues(m.cfg.Provider).Inc()
		tokenValid.WithLabelValues(m.cfg.Provider).Set(0)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response.StatusCode < 500 {
			body := strings.TrimSpace(string(retrieveErr.Body))
			m.log.Warn("refresh token rejected",
				zap.Int("status", retrieveErr.Response.StatusCode),
				zap.String("body", body))
			return "", fmt.Errorf("%w: token endpoint returned %d", ErrAuthExpired, retrieveErr.Response.StatusCode)
		}
		return "", fmt.Errorf("token refresh: %w", err)
	}

	expiry := token.Expiry
	if expiry.IsZero() {
		if parsed, err := tokenExpiry(token.AccessToken); err == nil {
			expiry = parsed
		}
	}

	m.mu.Lock()
	m.accessToken = token.AccessToken
	m.expiresAt = expiry
	if token.RefreshToken != "" {
		m.refreshToken = token.RefreshToken
	}
	m.mu.Unlock()

	refreshSuccess.WithLabelValues(m.cfg.Provider).Inc()
	tokenValid.WithLabelValues(m.cfg.Provider).Set(1)

	if err := m.persist(); err != nil {
		m.log.Warn("persist refreshed state", zap.Error(err))
	}

	return token.AccessToken, nil
}

func (m *Manager) persist() error {
	m.mu.Lock()
	state := State{
		SchemaVersion: SchemaVersion,
		ClientID:      m.cfg.ClientID,
		RefreshToken:  m.refreshToken,
	}
	m.mu.Unlock()

	if err := WriteState(m.cfg.StatePath, state); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	if m.blobStore == nil {
		return nil
	}
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	// The blob save runs inside the singleflight critical section; bound it
	// so a sick mirror degrades to a warning instead of stalling Token calls.
	ctx, cancel := context.WithTimeout(context.Background(), blobSaveTimeout)
	defer cancel()
	if err := m.blobStore.Save(ctx, m.cfg.Provider, data); err != nil {
		remotePersistOK.WithLabelValues(m.cfg.Provider).Set(0)
		return fmt.Errorf("persist blob: %w", err)
	}
	remotePersistOK.WithLabelValues(m.cfg.Provider).Set(1)
	return nil
}

func (m *Manager) loadInitialState() (State, error) {
	local, localErr := LoadState(m.cfg.StatePath)
	if localErr == nil {
		return local, nil
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		return State{}, localErr
	}

	if m.blobStore == nil {
		return State{}, ErrStateNotFound
	}

	data, blobErr := m.blobStore.Load(context.Background(), m.cfg.Provider)
	if blobErr != nil {
		if errors.Is(blobErr, ErrBlobNotFound) {
			return State{}, ErrStateNotFound
		}
		return State{}, blobErr
	}
	state, err := DecodeState(data)
	if err != nil {
		return State{}, err
	}
	if err := WriteState(m.cfg.StatePath, state); err != nil {
		return State{}, err
	}
	m.log.Info("restored oauth state from blob mirror")
	return state, nil
}
