package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	invalidGrantCode = "invalid_grant"
	refreshKey       = "refresh"
)

var (
	errMissingStore      = errors.New("tokenstore: store is required")
	errMissingClientID   = errors.New("tokenstore: client id is required")
	errMissingTokenURL   = errors.New("tokenstore: token url is required")
	errMissingAuthCode   = errors.New("tokenstore: authorization code is required")
	errMissingAccessCode = errors.New("tokenstore: token response carried no access token")
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	Store        Store
	HTTPClient   *http.Client
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Manager hands out valid access tokens, refreshing them against the token
// endpoint when they expire.
type Manager struct {
	oauth      *oauth2.Config
	store      Store
	httpClient *http.Client
	clock      func() time.Time
	logger     *zap.Logger
	group      singleflight.Group
}

// NewManager validates the configuration and builds a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errMissingClientID
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, errMissingTokenURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:      cfg.Store,
		httpClient: httpClient,
		clock:      clock,
		logger:     logger,
	}, nil
}

// AuthCodeURL builds the location-chooser URL the operator is redirected to.
func (m *Manager) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a credential and persists it.
func (m *Manager) Exchange(ctx context.Context, code string) (*Credential, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errMissingAuthCode
	}
	token, err := m.oauth.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: exchange code: %w", err)
	}
	credential, err := credentialFromToken(token, "", m.clock())
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, credential); err != nil {
		return nil, err
	}
	m.logger.Info("oauth credential stored", zap.String("location_id", credential.LocationID), zap.Time("expires_at", credential.ExpiresAt()))
	return &credential, nil
}

// Current returns the stored credential without refreshing it.
func (m *Manager) Current(ctx context.Context) (*Credential, error) {
	credential, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if credential == nil || strings.TrimSpace(credential.AccessToken) == "" {
		return nil, ErrNotAuthenticated
	}
	return credential, nil
}

// AccessToken returns a valid access token, refreshing the stored credential if it has expired.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	credential, err := m.Current(ctx)
	if err != nil {
		return "", err
	}
	if credential.Valid(m.clock()) {
		return credential.AccessToken, nil
	}
	refreshed, err := m.refresh(ctx, *credential)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Authorize sets a bearer Authorization header; it satisfies remote.HeaderFunc.
func (m *Manager) Authorize(ctx context.Context, header http.Header) error {
	token, err := m.AccessToken(ctx)
	if err != nil {
		return err
	}
	header.Set("Authorization", "Bearer "+token)
	return nil
}

// RefreshIfExpiring refreshes the credential when it expires within leeway.
// It is a no-op when no credential is stored or the token is still fresh.
func (m *Manager) RefreshIfExpiring(ctx context.Context, leeway time.Duration) error {
	credential, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	if credential == nil || strings.TrimSpace(credential.AccessToken) == "" {
		return nil
	}
	if m.clock().Add(leeway).Before(credential.ExpiresAt()) {
		return nil
	}
	_, err = m.refresh(ctx, *credential)
	return err
}

// Run refreshes proactively on every tick until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval, leeway time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.RefreshIfExpiring(ctx, leeway); err != nil {
			m.logger.Warn("proactive token refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) refresh(ctx context.Context, stale Credential) (Credential, error) {
	result, err, _ := m.group.Do(refreshKey, func() (any, error) {
		current, err := m.store.Load(ctx)
		if err != nil {
			return Credential{}, err
		}
		if current != nil && current.AccessToken != stale.AccessToken && current.Valid(m.clock()) {
			return *current, nil
		}
		return m.refreshGrant(ctx, stale)
	})
	if err != nil {
		return Credential{}, err
	}
	return result.(Credential), nil
}

func (m *Manager) refreshGrant(ctx context.Context, stale Credential) (Credential, error) {
	if strings.TrimSpace(stale.RefreshToken) == "" {
		return Credential{}, fmt.Errorf("%w: no refresh token stored", ErrReauthorizationRequired)
	}
	source := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: stale.RefreshToken})
	token, err := source.Token()
	if err != nil {
		if isInvalidGrant(err) {
			if deleteErr := m.store.Delete(ctx); deleteErr != nil {
				m.logger.Error("discard rejected credential", zap.Error(deleteErr))
			}
			m.logger.Warn("refresh token rejected, reauthorization required", zap.Error(err))
			return Credential{}, fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
		}
		return Credential{}, fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}

	credential, err := credentialFromToken(token, stale.RefreshToken, m.clock())
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}
	if credential.LocationID == "" {
		credential.LocationID = stale.LocationID
	}
	if credential.UserType == "" {
		credential.UserType = stale.UserType
	}
	if err := m.store.Save(ctx, credential); err != nil {
		return Credential{}, fmt.Errorf("%w: persist: %v", ErrTokenRefreshFailed, err)
	}
	m.logger.Info("oauth credential refreshed", zap.Time("expires_at", credential.ExpiresAt()))
	return credential, nil
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == invalidGrantCode {
		return true
	}
	return strings.Contains(string(retrieveErr.Body), invalidGrantCode)
}

func credentialFromToken(token *oauth2.Token, previousRefresh string, now time.Time) (Credential, error) {
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return Credential{}, errMissingAccessCode
	}
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = previousRefresh
	}
	expiresIn := extraInt64(token, "expires_in")
	if expiresIn <= 0 && !token.Expiry.IsZero() {
		expiresIn = int64(token.Expiry.Sub(now).Round(time.Second) / time.Second)
	}
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	return Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		CreatedAt:    now.Unix(),
		ExpiresIn:    expiresIn,
		TokenType:    token.TokenType,
		Scope:        extraString(token, "scope"),
		LocationID:   extraString(token, "locationId"),
		UserType:     extraString(token, "userType"),
	}, nil
}

func extraString(token *oauth2.Token, key string) string {
	if value, ok := token.Extra(key).(string); ok {
		return value
	}
	return ""
}

func extraInt64(token *oauth2.Token, key string) int64 {
	switch value := token.Extra(key).(type) {
	case float64:
		return int64(value)
	case int64:
		return value
	case json.Number:
		parsed, _ := value.Int64()
		return parsed
	case string:
		parsed, _ := strconv.ParseInt(value, 10, 64)
		return parsed
	default:
		return 0
	}
}
