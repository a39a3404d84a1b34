// Package pidfile writes the process id to a file for the lifetime of the relay.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// File is a written pid file. A nil *File is valid and does nothing.
type File struct {
	path string
}

// Write records the current pid at path. An empty path disables the pid file.
func Write(path string) (*File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pid dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &File{path: path}, nil
}

func (f *File) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// Remove deletes the pid file; a file already gone is not an error.
func (f *File) Remove() error {
	if f == nil {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}
