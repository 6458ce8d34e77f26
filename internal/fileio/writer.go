package fileio

import (
	"fmt"
	"os"
	"path/filepath"
)

// Writer writes files relative to an optional root directory.
type Writer struct {
	// rootDir is the root directory for the writer, useful for testing
	rootDir string
}

func NewWriter() *Writer {
	return &Writer{}
}

// SetRootdir sets the root directory for the writer, useful for testing
func (w *Writer) SetRootdir(path string) {
	w.rootDir = path
}

// PathFor returns the full path for the provided file
func (w *Writer) PathFor(filePath string) string {
	return filepath.Join(w.rootDir, filePath)
}

// WriteFile writes data at the provided path, creating missing parent directories.
func (w *Writer) WriteFile(filePath string, data []byte) error {
	full := w.PathFor(filePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(full), err)
	}
	return os.WriteFile(full, data, 0o644)
}
