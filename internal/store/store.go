// Package store persists the dashboard document as JSON on disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/octodash/dashconf/internal/filesys"
	"github.com/octodash/dashconf/internal/log"
	"github.com/octodash/dashconf/pkg/dashconfig"
)

// DocumentPerm is the mode of the stored document. The access token inside
// is readable by the dashboard user, which does not run as root.
const DocumentPerm os.FileMode = 0o644

var _ Store = (*FileStore)(nil)

// Store loads and saves the document.
type Store interface {
	// Load returns the stored document, seeding defaults if none exists.
	Load() (dashconfig.Config, error)
	// Save replaces the stored document.
	Save(cfg dashconfig.Config) error
	// Path names where the document lives.
	Path() string
}

// FileStore keeps the document in a single JSON file.
type FileStore struct {
	fs   filesys.FileOps
	path string
}

// New returns a FileStore for the document at path.
func New(fs filesys.FileOps, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Path returns the document file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the document. A missing file is created with
// dashconfig.Default() so the dashboard can start its setup flow.
func (s *FileStore) Load() (dashconfig.Config, error) {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return dashconfig.Config{}, fmt.Errorf("reading document: %w", err)
		}
		log.Infof("store: no document at %s, writing defaults", s.path)
		cfg := dashconfig.Default()
		if err := s.Save(cfg); err != nil {
			return dashconfig.Config{}, err
		}
		return cfg, nil
	}

	var cfg dashconfig.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return dashconfig.Config{}, fmt.Errorf("decoding document %s: %w", s.path, err)
	}
	return cfg, nil
}

// Save writes cfg atomically. Input-only fields such as URLSplit are not
// stored.
func (s *FileStore) Save(cfg dashconfig.Config) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating document directory: %w", err)
	}

	out := cfg.Clone()
	out.Octoprint.URLSplit = nil
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	data = append(data, '\n')

	if err := filesys.AtomicWrite(s.fs, s.path, data, DocumentPerm); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	return nil
}
