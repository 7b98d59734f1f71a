package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// pollState is the on-disk layout of the poll state file.
type pollState struct {
	LastPollTimestamp        int64    `json:"lastPollTimestamp"`
	ProcessedJobs            []string `json:"processedJobs"`
	ProcessedContacts        []string `json:"processedContacts"`
	ProcessedCorrelationKeys []string `json:"processedCorrelationKeys"`
}

// FileStore keeps the ledger in two JSON files: the poll state and the
// processed appointment ids. It is safe for concurrent use.
type FileStore struct {
	mu               sync.Mutex
	statePath        string
	appointmentsPath string
}

// NewFileStore builds a FileStore.
func NewFileStore(statePath, appointmentsPath string) (*FileStore, error) {
	statePath = strings.TrimSpace(statePath)
	appointmentsPath = strings.TrimSpace(appointmentsPath)
	if statePath == "" || appointmentsPath == "" {
		return nil, fmt.Errorf("ledger: state and appointments paths are required")
	}
	return &FileStore{statePath: statePath, appointmentsPath: appointmentsPath}, nil
}

// Load reads both files. Missing files are treated as empty.
func (s *FileStore) Load(context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := Snapshot{Sets: map[Set][]string{}}

	var state pollState
	found, err := readJSON(s.statePath, &state)
	if err != nil {
		return Snapshot{}, err
	}
	if found {
		snapshot.LastPollMillis = state.LastPollTimestamp
		snapshot.Sets[JobsOrPayments] = state.ProcessedJobs
		if state.ProcessedCorrelationKeys == nil {
			contacts, keys := SplitLegacyContactIDs(state.ProcessedContacts)
			snapshot.Sets[Contacts] = contacts
			snapshot.Sets[CorrelationKeys] = keys
		} else {
			snapshot.Sets[Contacts] = state.ProcessedContacts
			snapshot.Sets[CorrelationKeys] = state.ProcessedCorrelationKeys
		}
	}

	var appointments []string
	if _, err := readJSON(s.appointmentsPath, &appointments); err != nil {
		return Snapshot{}, err
	}
	snapshot.Sets[Appointments] = appointments
	return snapshot, nil
}

// Save writes both files, each atomically.
func (s *FileStore) Save(_ context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := pollState{
		LastPollTimestamp:        snapshot.LastPollMillis,
		ProcessedJobs:            nonNil(snapshot.Sets[JobsOrPayments]),
		ProcessedContacts:        nonNil(snapshot.Sets[Contacts]),
		ProcessedCorrelationKeys: nonNil(snapshot.Sets[CorrelationKeys]),
	}
	if err := writeJSON(s.statePath, state); err != nil {
		return err
	}
	return writeJSON(s.appointmentsPath, nonNil(snapshot.Sets[Appointments]))
}

func readJSON(path string, out any) (bool, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("ledger: decode %s: %w", path, err)
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encode %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: create dir: %w", err)
	}
	file, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ledger: create temp for %s: %w", path, err)
	}
	tmp := file.Name()
	if _, err := file.Write(payload); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("ledger: write %s: %w", tmp, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("ledger: sync %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ledger: close %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ledger: chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ledger: rename %s: %w", tmp, err)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
