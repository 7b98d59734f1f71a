package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultMirrorKey = "servicem8-ghl:credential"

// RedisMirror stores a copy of the credential under a single Redis key so that
// a freshly provisioned instance can pick up an existing grant.
type RedisMirror struct {
	client *redis.Client
	key    string
}

// NewRedisMirror wraps an existing client.
func NewRedisMirror(client *redis.Client, key string) *RedisMirror {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultMirrorKey
	}
	return &RedisMirror{client: client, key: key}
}

// Load reads the mirrored credential; a missing key yields (nil, nil).
func (m *RedisMirror) Load(ctx context.Context) (*Credential, error) {
	payload, err := m.client.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var credential Credential
	if err := json.Unmarshal(payload, &credential); err != nil {
		return nil, fmt.Errorf("decode mirrored credential: %w", err)
	}
	return &credential, nil
}

// Save overwrites the mirrored credential without expiry.
func (m *RedisMirror) Save(ctx context.Context, credential Credential) error {
	payload, err := json.Marshal(credential)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key, payload, 0).Err()
}

// Delete removes the mirrored credential.
func (m *RedisMirror) Delete(ctx context.Context) error {
	return m.client.Del(ctx, m.key).Err()
}
