package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	appErrors "github.com/noah-isme/course-registry/pkg/errors"
)

const tmpSuffix = ".tmp"

// JSONStore persists named documents on disk under a root directory.
// Writes go through a temp file and rename so readers never observe a partial document.
// It holds no file-level lock; concurrent writers to one name must be serialised by the caller.
type JSONStore struct {
	rootDir string
}

// NewJSONStore ensures the root directory exists and returns a handle.
func NewJSONStore(rootDir string) (*JSONStore, error) {
	if rootDir == "" {
		rootDir = "./data"
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, appErrors.Wrapf(err, accessErrorFor(err), "create data directory %s", rootDir)
	}
	return &JSONStore{rootDir: rootDir}, nil
}

// Root returns the configured root directory.
func (s *JSONStore) Root() string {
	return s.rootDir
}

// Exists reports whether the named document is present.
func (s *JSONStore) Exists(name string) bool {
	path, err := s.target(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Read returns the document content. A missing document yields empty content and no error.
func (s *JSONStore) Read(name string) (string, error) {
	path, err := s.target(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		if errors.Is(err, fs.ErrPermission) {
			return "", appErrors.Wrapf(err, appErrors.ErrFileAccessDenied, "read %s", path)
		}
		return "", appErrors.Wrapf(err, appErrors.ErrFileNotFound, "read %s", path)
	}
	if !utf8.Valid(data) {
		return "", appErrors.Clone(appErrors.ErrFileCorrupted, fmt.Sprintf("%s is not valid UTF-8", path))
	}
	return string(data), nil
}

// Write atomically replaces the named document with content.
func (s *JSONStore) Write(name, content string) error {
	return s.WriteBytes(name, []byte(content))
}

// WriteBytes writes data to name.tmp, syncs it and renames it over name.
func (s *JSONStore) WriteBytes(name string, data []byte) error {
	path, err := s.target(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return appErrors.Wrapf(err, accessErrorFor(err), "prepare directory for %s", path)
	}

	tmp := path + tmpSuffix
	if err := writeSynced(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return appErrors.Wrapf(err, accessErrorFor(err), "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return appErrors.Wrapf(err, accessErrorFor(err), "replace %s", path)
	}
	return nil
}

// Delete removes a stored document if present.
func (s *JSONStore) Delete(name string) error {
	path, err := s.target(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return appErrors.Wrapf(err, accessErrorFor(err), "delete %s", path)
	}
	return nil
}

// Path exposes the resolved path for name.
func (s *JSONStore) Path(name string) string {
	return s.resolve(name)
}

func (s *JSONStore) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	cleanRoot := filepath.Clean(s.rootDir)
	cleanName := filepath.Clean(name)
	if cleanName == cleanRoot || strings.HasPrefix(cleanName, cleanRoot+string(filepath.Separator)) {
		return cleanName
	}
	return filepath.Join(s.rootDir, name)
}

// target resolves name and refuses relative names that climb out of the root.
func (s *JSONStore) target(name string) (string, error) {
	path := s.resolve(name)
	if filepath.IsAbs(name) {
		return path, nil
	}
	rel, err := filepath.Rel(filepath.Clean(s.rootDir), path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", appErrors.Clone(appErrors.ErrFileAccessDenied, fmt.Sprintf("%s resolves outside %s", name, s.rootDir))
	}
	return path, nil
}

func writeSynced(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close() //nolint:errcheck
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close() //nolint:errcheck
		return err
	}
	return file.Close()
}

func accessErrorFor(err error) *appErrors.Error {
	if errors.Is(err, fs.ErrPermission) {
		return appErrors.ErrFileAccessDenied
	}
	return appErrors.ErrOperationFailed
}
