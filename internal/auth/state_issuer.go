package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultStateTTL = 10 * time.Minute
	stateSubject    = "ghl-oauth"
)

var (
	errMissingSigningSecret = errors.New("auth: signing secret must be provided")
	// ErrInvalidState reports an OAuth state parameter that was not issued here,
	// has expired, or was already used.
	ErrInvalidState = errors.New("auth: invalid oauth state")
)

// StateIssuerConfig configures the OAuth state issuer.
type StateIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TTL           time.Duration
	Clock         func() time.Time
}

// StateIssuer signs the state parameter sent with the authorization redirect
// and checks it when the callback arrives. Each state is accepted once.
type StateIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time

	mu   sync.Mutex
	used map[string]time.Time
}

// NewStateIssuer constructs a StateIssuer.
func NewStateIssuer(cfg StateIssuerConfig) (*StateIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StateIssuer{
		secret: cfg.SigningSecret,
		issuer: cfg.Issuer,
		ttl:    ttl,
		clock:  clock,
		used:   make(map[string]time.Time),
	}, nil
}

// Issue returns a signed state value carrying a random nonce.
func (i *StateIssuer) Issue() (string, error) {
	nonce, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	now := i.clock().UTC()
	claims := jwt.RegisteredClaims{
		ID:        nonce.String(),
		Subject:   stateSubject,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Consume validates state and marks its nonce used.
func (i *StateIssuer) Consume(state string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		state,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithSubject(stateSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.ID == "" {
		return fmt.Errorf("%w: missing nonce", ErrInvalidState)
	}

	now := i.clock()
	i.mu.Lock()
	defer i.mu.Unlock()
	for nonce, expiresAt := range i.used {
		if !now.Before(expiresAt) {
			delete(i.used, nonce)
		}
	}
	if _, seen := i.used[claims.ID]; seen {
		return fmt.Errorf("%w: already used", ErrInvalidState)
	}
	i.used[claims.ID] = claims.ExpiresAt.Time
	return nil
}
