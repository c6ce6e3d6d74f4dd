package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/galah-group/galah-installer/internal/atomicfile"
	"github.com/galah-group/galah-installer/internal/logging"
	"github.com/galah-group/galah-installer/internal/planner"
)

// InstalledFileName is the name of the installed-state file in the state
// directory.
const InstalledFileName = "installed.json"

// installedDocument is the on-disk form: {"packages": {"name": "version"}}.
// A version of planner.Unmanaged marks a package the installer must skip.
type installedDocument struct {
	Packages map[string]string `json:"packages"`
}

// Store reads and writes the installed state under a state directory.
type Store struct {
	dir    string
	logger logging.Logger
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string, logger logging.Logger) *Store {
	return &Store{dir: dir, logger: logging.OrNop(logger)}
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the installed-state file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, InstalledFileName)
}

// Load returns the installed packages. A missing file means nothing is
// installed yet.
func (s *Store) Load() (planner.Installed, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("no installed state yet", "path", s.Path())
		return planner.Installed{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read installed state: %w", err)
	}

	var doc installedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal installed state: %w", err)
	}

	installed := planner.Installed(doc.Packages)
	if installed == nil {
		installed = planner.Installed{}
	}
	for name, version := range installed {
		if name == "" || version == "" {
			return nil, fmt.Errorf("installed state %s: empty package name or version", s.Path())
		}
	}
	return installed, nil
}

// Save atomically replaces the installed-state file.
func (s *Store) Save(installed planner.Installed) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	doc := installedDocument{Packages: installed}
	if doc.Packages == nil {
		doc.Packages = map[string]string{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal installed state: %w", err)
	}

	if err := atomicfile.WriteFile(s.Path(), append(data, '\n'), atomicfile.WithLogger(s.logger)); err != nil {
		return fmt.Errorf("write installed state: %w", err)
	}
	s.logger.Debug("saved installed state", "path", s.Path(), "packages", len(doc.Packages))
	return nil
}
