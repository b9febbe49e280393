// Package cache remembers file digests and past validation verdicts so that
// unchanged files are not re-read on every validation pass.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"waypoint/internal/fingerprint"
	"waypoint/internal/logging"
)

// FileCache caches file digests keyed by (path, size, mtime) and the last
// verdict per node.
type FileCache struct {
	db  *sql.DB
	log *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS file_cache (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	digest TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS verdicts (
	node_id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	line INTEGER NOT NULL,
	code_hash TEXT NOT NULL,
	digest TEXT NOT NULL,
	confidence TEXT NOT NULL,
	checked_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verdicts_path ON verdicts(path);
`

// Open opens or creates the cache database at dbPath.
func Open(dbPath string, log *zap.Logger) (*FileCache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	log = logging.OrNop(log)

	// Wait up to 5s on lock instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		log.Warn("setting busy timeout", zap.String("db", dbPath), zap.Error(err))
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying cache schema: %w", err)
	}

	return &FileCache{db: db, log: log}, nil
}

// Close closes the cache database.
func (c *FileCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// GetOrCompute returns the digest for a file, using the cached value if valid.
// If the cache entry is stale (size/mtime changed), it hashes r and updates.
// r is not read on a cache hit.
func (c *FileCache) GetOrCompute(path string, info os.FileInfo, r io.Reader) (string, error) {
	if digest, err := c.GetDigest(path, info); err == nil && digest != "" {
		return digest, nil
	}

	digest, err := fingerprint.DigestReader(r)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	if err := c.SetDigest(path, info, digest); err != nil {
		// Non-fatal: the digest is still correct, only not remembered.
		c.log.Warn("cache write failed", zap.String("path", path), zap.Error(err))
	}
	return digest, nil
}

// GetDigest returns the cached digest for a path if it matches current stat.
// Returns empty string and nil error if not cached or stale.
func (c *FileCache) GetDigest(path string, info os.FileInfo) (string, error) {
	var cachedSize, cachedMtime int64
	var cachedDigest string
	err := c.db.QueryRow(
		"SELECT size, mtime, digest FROM file_cache WHERE path = ?",
		path,
	).Scan(&cachedSize, &cachedMtime, &cachedDigest)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if cachedSize == info.Size() && cachedMtime == info.ModTime().UnixNano() {
		return cachedDigest, nil
	}
	return "", nil // stale
}

// SetDigest stores a digest in the cache.
func (c *FileCache) SetDigest(path string, info os.FileInfo, digest string) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO file_cache (path, size, mtime, digest)
		 VALUES (?, ?, ?, ?)`,
		path, info.Size(), info.ModTime().UnixNano(), digest,
	)
	return err
}

// Verdict is the outcome of the last validation of a node, together with
// what it was checked against.
type Verdict struct {
	NodeID     string
	FilePath   string
	LineNumber int
	CodeHash   string
	Digest     string
	Confidence string
	CheckedAt  time.Time
}

// Matches reports whether v was produced for the same anchor and file content.
func (v *Verdict) Matches(path string, line int, codeHash, digest string) bool {
	return v != nil && v.FilePath == path && v.LineNumber == line &&
		v.CodeHash == codeHash && v.Digest == digest
}

// PutVerdict stores the verdict for a node, replacing any previous one.
func (c *FileCache) PutVerdict(v Verdict) error {
	if v.CheckedAt.IsZero() {
		v.CheckedAt = time.Now()
	}
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO verdicts (node_id, path, line, code_hash, digest, confidence, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.NodeID, v.FilePath, v.LineNumber, v.CodeHash, v.Digest, v.Confidence, v.CheckedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("storing verdict for %s: %w", v.NodeID, err)
	}
	return nil
}

// Verdict returns the stored verdict for a node, or nil when there is none.
func (c *FileCache) Verdict(nodeID string) (*Verdict, error) {
	v := &Verdict{NodeID: nodeID}
	var checked int64
	err := c.db.QueryRow(
		"SELECT path, line, code_hash, digest, confidence, checked_at FROM verdicts WHERE node_id = ?",
		nodeID,
	).Scan(&v.FilePath, &v.LineNumber, &v.CodeHash, &v.Digest, &v.Confidence, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading verdict for %s: %w", nodeID, err)
	}
	v.CheckedAt = time.Unix(0, checked)
	return v, nil
}

// RemoveVerdict forgets the verdict for a node.
func (c *FileCache) RemoveVerdict(nodeID string) error {
	_, err := c.db.Exec("DELETE FROM verdicts WHERE node_id = ?", nodeID)
	return err
}

// Clear removes all entries from the cache.
func (c *FileCache) Clear() error {
	if _, err := c.db.Exec("DELETE FROM file_cache"); err != nil {
		return err
	}
	_, err := c.db.Exec("DELETE FROM verdicts")
	return err
}

// Remove removes a file entry and every verdict recorded against it.
func (c *FileCache) Remove(path string) error {
	if _, err := c.db.Exec("DELETE FROM file_cache WHERE path = ?", path); err != nil {
		return err
	}
	_, err := c.db.Exec("DELETE FROM verdicts WHERE path = ?", path)
	return err
}

// Stats returns cache statistics.
type Stats struct {
	TotalEntries int64
	Verdicts     int64
}

func (c *FileCache) Stats() (*Stats, error) {
	var s Stats
	if err := c.db.QueryRow("SELECT COUNT(*) FROM file_cache").Scan(&s.TotalEntries); err != nil {
		return nil, err
	}
	if err := c.db.QueryRow("SELECT COUNT(*) FROM verdicts").Scan(&s.Verdicts); err != nil {
		return nil, err
	}
	return &s, nil
}
