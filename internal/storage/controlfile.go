package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

// DefaultControlFileName is the document browsers poll and the watcher follows.
const DefaultControlFileName = "openclaw-control.json"

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// ControlFile is the on-disk control document.
type ControlFile struct {
	path string
}

// NewControlFile validates the base name of path and returns a handle.
func NewControlFile(path string) (*ControlFile, error) {
	if path == "" {
		return nil, errors.New("control file path is empty")
	}
	name := filepath.Base(path)
	if name == "." || name == ".." || !safeNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid control file name %q", name)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &ControlFile{path: abs}, nil
}

// Path returns the absolute file path.
func (f *ControlFile) Path() string {
	return f.path
}

// Dir returns the directory holding the file.
func (f *ControlFile) Dir() string {
	return filepath.Dir(f.path)
}

// Name returns the file's base name.
func (f *ControlFile) Name() string {
	return filepath.Base(f.path)
}

// Exists reports whether the file is present.
func (f *ControlFile) Exists() bool {
	info, err := os.Stat(f.path)
	return err == nil && !info.IsDir()
}

// Read returns the raw document.
func (f *ControlFile) Read() ([]byte, error) {
	return os.ReadFile(f.path)
}

// Write replaces the document atomically so readers never see a torn file.
func (f *ControlFile) Write(payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if err := os.MkdirAll(f.Dir(), 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(f.Dir(), "."+f.Name()+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Remove deletes the document. A missing file is not an error.
func (f *ControlFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
