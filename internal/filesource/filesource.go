// Package filesource abstracts where tracked files are read from: the working
// tree on disk or a git revision.
package filesource

import (
	"context"
	"errors"
	"strings"
)

// ErrNotExist is returned (wrapped) when a path does not exist in the source.
var ErrNotExist = errors.New("file does not exist")

// Info describes a path in a FileSystem.
type Info struct {
	Path  string
	IsDir bool
	Size  int64
}

// FileSystem is the file access capability used by the locator.
type FileSystem interface {
	// Stat reports whether path exists and whether it is a directory.
	Stat(ctx context.Context, path string) (Info, error)

	// Open reads path as text.
	Open(ctx context.Context, path string) (*Document, error)

	// SourceType returns "directory" or "git".
	SourceType() string
}

// Resolver is implemented by sources that can map a node path to a path on
// disk.
type Resolver interface {
	Resolve(path string) string
}

// Resolve maps path through fsys when it is a Resolver.
func Resolve(fsys FileSystem, path string) string {
	if r, ok := fsys.(Resolver); ok {
		return r.Resolve(path)
	}
	return path
}

// Document is a text file split into lines the way editors count them:
// "\n", "\r\n" and "\r" all end a line and a trailing newline yields a final
// empty line.
type Document struct {
	Path  string
	lines []string
}

// NewDocument splits text into a Document.
func NewDocument(path, text string) *Document {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return &Document{Path: path, lines: strings.Split(text, "\n")}
}

// LineCount returns the number of lines.
func (d *Document) LineCount() int {
	return len(d.lines)
}

// LineAt returns the 0-based line n, or "" when n is out of range.
func (d *Document) LineAt(n int) string {
	if n < 0 || n >= len(d.lines) {
		return ""
	}
	return d.lines[n]
}

// Lines returns all lines. The slice must not be modified.
func (d *Document) Lines() []string {
	return d.lines
}
