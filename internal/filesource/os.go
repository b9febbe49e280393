package filesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// OS reads files from the working tree. Relative paths resolve against Root.
type OS struct {
	Root string
}

// NewOS creates an OS file source rooted at root.
func NewOS(root string) *OS {
	return &OS{Root: root}
}

// Resolve returns the absolute on-disk path for path.
func (o *OS) Resolve(path string) string {
	if filepath.IsAbs(path) || o.Root == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(o.Root, path)
}

// Stat implements FileSystem.
func (o *OS) Stat(ctx context.Context, path string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}

	full := o.Resolve(path)
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, fmt.Errorf("%s: %w", path, ErrNotExist)
	}
	if err != nil {
		return Info{}, fmt.Errorf("stat %s: %w", path, err)
	}

	return Info{Path: full, IsDir: info.IsDir(), Size: info.Size()}, nil
}

// Open implements FileSystem.
func (o *OS) Open(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := o.Resolve(path)
	content, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return NewDocument(full, string(content)), nil
}

// SourceType returns "directory".
func (o *OS) SourceType() string {
	return "directory"
}
