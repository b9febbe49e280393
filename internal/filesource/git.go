package filesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Git reads files from a single git revision instead of the working tree.
type Git struct {
	root   string
	rev    string
	commit *object.Commit
	tree   *object.Tree
}

// OpenGit opens the repository enclosing repoPath and resolves rev (branch,
// tag, commit hash or any revision go-git understands, e.g. "HEAD~1").
func OpenGit(repoPath, rev string) (*Git, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolving revision %q: %w", rev, err)
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("getting commit: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("getting tree: %w", err)
	}

	return &Git{root: wt.Filesystem.Root(), rev: rev, commit: commit, tree: tree}, nil
}

// Revision returns the resolved commit hash.
func (g *Git) Revision() string {
	return g.commit.Hash.String()
}

// treePath converts a node path into a slash-separated path inside the tree.
func (g *Git) treePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(g.root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("%s is outside repository %s: %w", path, g.root, ErrNotExist)
		}
		path = rel
	}
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "./"), nil
}

// Resolve returns the working-tree path for path. Editors open the checked
// out copy; the revision only drives validation.
func (g *Git) Resolve(path string) string {
	p, err := g.treePath(path)
	if err != nil {
		return path
	}
	return filepath.Join(g.root, filepath.FromSlash(p))
}

func notFound(err error) bool {
	return errors.Is(err, object.ErrEntryNotFound) ||
		errors.Is(err, object.ErrDirectoryNotFound) ||
		errors.Is(err, object.ErrFileNotFound)
}

// Stat implements FileSystem.
func (g *Git) Stat(ctx context.Context, path string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}

	p, err := g.treePath(path)
	if err != nil {
		return Info{}, err
	}
	if p == "." || p == "" {
		return Info{Path: g.root, IsDir: true}, nil
	}

	entry, err := g.tree.FindEntry(p)
	if notFound(err) {
		return Info{}, fmt.Errorf("%s at %s: %w", path, g.rev, ErrNotExist)
	}
	if err != nil {
		return Info{}, fmt.Errorf("finding %s: %w", path, err)
	}

	return Info{Path: p, IsDir: entry.Mode == filemode.Dir}, nil
}

// Open implements FileSystem.
func (g *Git) Open(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := g.treePath(path)
	if err != nil {
		return nil, err
	}

	f, err := g.tree.File(p)
	if notFound(err) {
		return nil, fmt.Errorf("%s at %s: %w", path, g.rev, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("getting file %s: %w", path, err)
	}

	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %w", path, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}

	return NewDocument(p, string(content)), nil
}

// SourceType returns "git".
func (g *Git) SourceType() string {
	return "git"
}

// FindRoot returns the root of the git worktree enclosing start, or the
// absolute form of start when it is not inside a repository.
func FindRoot(start string) string {
	abs, err := filepath.Abs(start)
	if err != nil {
		abs = start
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return abs
	}
	wt, err := repo.Worktree()
	if err != nil {
		return abs
	}
	return wt.Filesystem.Root()
}
