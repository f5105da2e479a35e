package avatars

import (
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrEmptyFilename = errors.New("empty avatar filename")

// Storage writes uploaded avatars into a directory served as static files
// under /avatars.
type Storage struct {
	dir string
}

func NewStorage(dir string) *Storage {
	return &Storage{dir: dir}
}

// Save stores the uploaded content as <userID>_<basename> and returns the
// public path persisted on the user record.
func (s *Storage) Save(userID, originalName string, src io.Reader) (string, error) {
	name := sanitizeFilename(originalName)

	if name == "" {
		return "", ErrEmptyFilename
	}

	filename := userID + "_" + name

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}

	dst, err := os.Create(filepath.Join(s.dir, filename))
	if err != nil {
		return "", err
	}

	_, err = io.Copy(dst, src)

	if cerr := dst.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return "", err
	}

	return path.Join("avatars", filename), nil
}

func sanitizeFilename(name string) string {
	// strip any client-supplied directory components
	name = filepath.Base(strings.TrimSpace(name))

	if name == "." || name == string(filepath.Separator) {
		return ""
	}

	return name
}
