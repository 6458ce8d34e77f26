package fileio

import (
	"os"
	"path/filepath"
)

// Reader reads files relative to an optional root directory.
type Reader struct {
	// rootDir is prepended to every path, useful for testing
	rootDir string
}

func NewReader() *Reader {
	return &Reader{}
}

// SetRootdir sets the root directory for the reader, useful for testing
func (r *Reader) SetRootdir(path string) {
	r.rootDir = path
}

// PathFor returns the full path for the provided file
func (r *Reader) PathFor(filePath string) string {
	return filepath.Join(r.rootDir, filePath)
}

// ReadFile reads the file at the provided path
func (r *Reader) ReadFile(filePath string) ([]byte, error) {
	return os.ReadFile(r.PathFor(filePath))
}

// IsRegularFile reports whether the path references an existing regular file.
// Symlinks are followed.
func (r *Reader) IsRegularFile(filePath string) bool {
	info, err := os.Stat(r.PathFor(filePath))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
