// Package store persists one record per Telegram user in a single YAML
// file. The collection is read and rewritten whole; a save replaces the
// file atomically via rename. Single-process ownership is assumed, there
// is no cross-process locking.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// UserRecord is the locally persisted view of one user's account.
type UserRecord struct {
	Name       string   `yaml:"name"`
	Language   string   `yaml:"language"`
	UUID       string   `yaml:"uuid"`
	SubID      string   `yaml:"sub_id,omitempty"`
	RenewalLog []string `yaml:"renewal_log,omitempty"`
}

// AppendLog returns a copy of the record with a timestamped entry added to
// its renewal log. The log is append-only; existing entries are never
// rewritten.
func (r UserRecord) AppendLog(action string, now time.Time) UserRecord {
	entry := fmt.Sprintf("%s on %s", action, now.Format("2006-01-02 15:04:05"))
	log := make([]string, 0, len(r.RenewalLog)+1)
	log = append(log, r.RenewalLog...)
	log = append(log, entry)
	r.RenewalLog = log
	return r
}

// Store owns the persisted user collection.
type Store struct {
	path string
}

// New creates a store backed by the given file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the whole collection. A missing file is an empty collection,
// not an error.
func (s *Store) Load() (map[string]UserRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]UserRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read user data: %w", err)
	}

	users := map[string]UserRecord{}
	if err := yaml.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to parse user data: %w", err)
	}
	if users == nil {
		users = map[string]UserRecord{}
	}
	return users, nil
}

// Save rewrites the whole collection. The data is written to a temporary
// file in the same directory and renamed over the target so readers never
// observe a torn write.
func (s *Store) Save(users map[string]UserRecord) error {
	data, err := yaml.Marshal(users)
	if err != nil {
		return fmt.Errorf("failed to encode user data: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".users-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write user data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace user data: %w", err)
	}
	return nil
}
