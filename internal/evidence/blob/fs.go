package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"civicwatch/pkg/platform/sentinel"
)

// FileSystem writes blobs under a root directory, one subdirectory per key.
type FileSystem struct {
	root string
}

func NewFileSystem(root string) (*FileSystem, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileSystem{root: root}, nil
}

// Put writes to a temp file and renames it into place, so a partially
// written blob is never visible under its final name.
func (f *FileSystem) Put(ctx context.Context, key string, b Blob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := filepath.Join(f.root, filepath.Clean("/" + key)[1:])
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create blob key dir: %w: %w", sentinel.ErrUnavailable, err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, b.Content); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write blob: %w: %w", sentinel.ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w: %w", sentinel.ErrUnavailable, err)
	}
	final := filepath.Join(dir, safeName(b.Name))
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("commit blob: %w: %w", sentinel.ErrUnavailable, err)
	}
	rel, err := filepath.Rel(f.root, final)
	if err != nil {
		return "", fmt.Errorf("blob ref: %w", err)
	}
	return "file://" + filepath.ToSlash(rel), nil
}

// Open returns a reader for a ref produced by Put.
func (f *FileSystem) Open(ref string) (io.ReadCloser, error) {
	rel, ok := strings.CutPrefix(ref, "file://")
	if !ok {
		return nil, fmt.Errorf("unknown blob ref %q", ref)
	}
	file, err := os.Open(filepath.Join(f.root, filepath.Clean("/" + rel)[1:]))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", ref, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return file, nil
}

func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" || strings.HasPrefix(name, ".") {
		name = "file" + name
	}
	return name
}
