package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrSizeExceeded is returned when a write overruns its byte budget. The
// partial file is removed before returning.
var ErrSizeExceeded = errors.New("storage: size limit exceeded")

// Dir writes uploaded bytes under a single directory. Concurrent writers
// never contend because callers choose collision-resistant names.
type Dir struct {
	root string
}

// NewDir ensures the directory exists and returns a Dir rooted there.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, errors.New("storage: empty directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Save streams src into a file named name, refusing to write more than
// maxBytes. It returns the final path and the number of bytes written.
func (d *Dir) Save(name string, src io.Reader, maxBytes int64) (string, int64, error) {
	path := filepath.Join(d.root, name)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}

	written, err := io.Copy(dst, io.LimitReader(src, maxBytes+1))
	closeErr := dst.Close()
	if err == nil && closeErr != nil {
		err = closeErr
	}
	if err == nil && written > maxBytes {
		err = ErrSizeExceeded
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, written, nil
}

// Remove deletes a previously saved file. Missing files are not an error.
func (d *Dir) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
