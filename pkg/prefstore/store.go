// Package prefstore persists the one piece of durable state MicOn has: which
// capture device the user wants kept alive.
package prefstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

type prefsFile struct {
	PreferredDeviceID string `json:"preferredDeviceID"`
}

// FileStore reads and writes the preferred-device file. Single writer by
// design (the keeper's user-facing selection action), so a plain mutex is
// all the coordination it needs.
type FileStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Get returns the persisted preferred device ID. A missing file means no
// preference has ever been set and is not an error.
func (s *FileStore) Get() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := afero.ReadFile(s.fs, s.path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "read preference file")
	}

	var prefs prefsFile
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return "", false, errors.Wrap(err, "parse preference file")
	}
	if prefs.PreferredDeviceID == "" {
		return "", false, nil
	}
	return prefs.PreferredDeviceID, true, nil
}

// Set replaces the persisted preferred device ID.
func (s *FileStore) Set(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(prefsFile{PreferredDeviceID: id})
	if err != nil {
		return errors.Wrap(err, "encode preference file")
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create preference directory")
	}
	if err := afero.WriteFile(s.fs, s.path, raw, 0o600); err != nil {
		return errors.Wrap(err, "write preference file")
	}
	return nil
}
