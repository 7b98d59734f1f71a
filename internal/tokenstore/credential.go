package tokenstore

import (
	"errors"
	"strings"
	"time"
)

// DefaultExpiresIn is assumed when the token endpoint or the override omits a lifetime.
const DefaultExpiresIn int64 = 3600

var (
	// ErrNotAuthenticated indicates no credential has been stored yet.
	ErrNotAuthenticated = errors.New("tokenstore: not authenticated")
	// ErrReauthorizationRequired indicates the refresh token was rejected and the credential was discarded.
	ErrReauthorizationRequired = errors.New("tokenstore: reauthorization required")
	// ErrTokenRefreshFailed indicates a refresh attempt failed for a reason other than an invalid grant.
	ErrTokenRefreshFailed = errors.New("tokenstore: token refresh failed")
)

// Credential is the persisted OAuth2 grant. CreatedAt is epoch seconds.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	LocationID   string `json:"location_id,omitempty"`
	UserType     string `json:"user_type,omitempty"`
}

// ExpiresAt is CreatedAt + ExpiresIn.
func (c Credential) ExpiresAt() time.Time {
	return time.Unix(c.CreatedAt+c.ExpiresIn, 0)
}

// Valid reports whether the access token is usable at now.
func (c Credential) Valid(now time.Time) bool {
	return strings.TrimSpace(c.AccessToken) != "" && now.Before(c.ExpiresAt())
}

// Override builds the environment-provided credential. It returns nil when no
// access token is configured.
func Override(accessToken, refreshToken string, createdAt, expiresIn int64, now time.Time) *Credential {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil
	}
	if createdAt <= 0 {
		createdAt = now.Unix()
	}
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	return &Credential{
		AccessToken:  accessToken,
		RefreshToken: strings.TrimSpace(refreshToken),
		CreatedAt:    createdAt,
		ExpiresIn:    expiresIn,
	}
}
