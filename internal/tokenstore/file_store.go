package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var errMissingPath = errors.New("tokenstore: credential file path is required")

// Store persists a single credential.
type Store interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, credential Credential) error
	Delete(ctx context.Context) error
}

// Mirror is an external copy of the credential kept alongside the file.
type Mirror interface {
	Store
}

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	Path     string
	Override *Credential
	Mirror   Mirror
	Logger   *zap.Logger
}

// FileStore keeps the credential in a JSON file, with an optional in-memory
// override and an optional mirror.
type FileStore struct {
	mu       sync.Mutex
	path     string
	override *Credential
	mirror   Mirror
	logger   *zap.Logger
}

// NewFileStore validates the configuration and builds a FileStore.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errMissingPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var override *Credential
	if cfg.Override != nil {
		copied := *cfg.Override
		override = &copied
	}
	return &FileStore{path: path, override: override, mirror: cfg.Mirror, logger: logger}, nil
}

// Load returns the override when present, then the file, then the mirror.
// It returns (nil, nil) when no credential exists anywhere.
func (s *FileStore) Load(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.override != nil {
		copied := *s.override
		return &copied, nil
	}

	payload, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		var credential Credential
		if err := json.Unmarshal(payload, &credential); err != nil {
			return nil, fmt.Errorf("tokenstore: decode %s: %w", s.path, err)
		}
		return &credential, nil
	case errors.Is(err, os.ErrNotExist):
		if s.mirror == nil {
			return nil, nil
		}
		credential, mirrorErr := s.mirror.Load(ctx)
		if mirrorErr != nil {
			return nil, fmt.Errorf("tokenstore: load mirror: %w", mirrorErr)
		}
		return credential, nil
	default:
		return nil, fmt.Errorf("tokenstore: read %s: %w", s.path, err)
	}
}

// Save writes the credential atomically and copies it to the mirror.
// Mirror failures are logged only.
func (s *FileStore) Save(ctx context.Context, credential Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.MarshalIndent(credential, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: encode credential: %w", err)
	}
	if err := writeFileAtomic(s.path, payload); err != nil {
		return err
	}
	if s.override != nil {
		copied := credential
		s.override = &copied
	}
	if s.mirror != nil {
		if err := s.mirror.Save(ctx, credential); err != nil {
			s.logger.Warn("credential mirror save failed", zap.Error(err))
		}
	}
	return nil
}

// Delete removes the file and the mirror entry and disables the override.
func (s *FileStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.override = nil
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("tokenstore: remove %s: %w", s.path, err)
	}
	if s.mirror != nil {
		if err := s.mirror.Delete(ctx); err != nil {
			s.logger.Warn("credential mirror delete failed", zap.Error(err))
		}
	}
	return nil
}

func writeFileAtomic(path string, payload []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("tokenstore: create dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("tokenstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tokenstore: rename %s: %w", tmp, err)
	}
	return nil
}
