package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// URLPrefix is the public path uploaded files are served under
const URLPrefix = "/uploads/"

var (
	// ErrInvalidFilename is returned for names that could escape the uploads root
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrNotFound is returned when a requested file does not exist
	ErrNotFound = errors.New("file not found")

	// ErrInvalidData is returned when the upload payload is not valid base64
	ErrInvalidData = errors.New("file data is not valid base64")
)

// StoredFile describes a file written to the uploads root
type StoredFile struct {
	Name string
	Path string
	URL  string
	Size int64
}

// MediaStore keeps uploaded media as flat files in one directory.
// Concurrent writes to the same name are not coordinated; the last one wins.
type MediaStore struct {
	root string
}

// NewMediaStore creates a store rooted at dir. The directory is created lazily on first write.
func NewMediaStore(dir string) (*MediaStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("uploads directory is required")
	}
	root, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve uploads directory: %w", err)
	}
	return &MediaStore{root: root}, nil
}

// Root returns the absolute uploads directory
func (s *MediaStore) Root() string {
	return s.root
}

// ValidateFilename rejects names that are empty, relative references,
// contain a path separator or contain a NUL byte
func ValidateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: path separators are not allowed", ErrInvalidFilename)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: NUL byte", ErrInvalidFilename)
	}
	return nil
}

// DecodeFileData decodes standard base64, dropping a leading data URI header if present
func DecodeFileData(data string) ([]byte, error) {
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			data = data[i+1:]
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return decoded, nil
}

// URLFor returns the public URL of name, escaped as a single path segment
func URLFor(name string) string {
	return URLPrefix + url.PathEscape(name)
}

func (s *MediaStore) resolve(name string) (string, error) {
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.root, name)
	if filepath.Dir(path) != s.root {
		return "", fmt.Errorf("%w: %q resolves outside the uploads directory", ErrInvalidFilename, name)
	}
	return path, nil
}

// Save writes data to name, replacing any existing file
func (s *MediaStore) Save(name string, data []byte) (*StoredFile, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}

	return &StoredFile{
		Name: name,
		Path: path,
		URL:  URLFor(name),
		Size: int64(len(data)),
	}, nil
}

// Open returns the named file for reading. The caller must close it.
func (s *MediaStore) Open(name string) (*os.File, fs.FileInfo, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return file, info, nil
}

// Ready reports whether the uploads directory exists or can be created, and accepts writes
func (s *MediaStore) Ready() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("uploads directory unavailable: %w", err)
	}
	probe, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("uploads directory not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
