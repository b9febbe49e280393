// Package store persists graphs in a SQLite database. Each graph is stored
// as its JSON document; loading always goes through repair and validation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"waypoint/internal/fingerprint"
	"waypoint/internal/graph"
	"waypoint/internal/logging"
)

var (
	ErrGraphNotFound = errors.New("graph not found")
	ErrAmbiguous     = errors.New("ambiguous graph reference")
	ErrNoCurrent     = errors.New("no current graph")
)

const currentRef = "current"

const schema = `
CREATE TABLE IF NOT EXISTS graphs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	payload BLOB NOT NULL,
	digest TEXT NOT NULL,
	node_count INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graphs_name ON graphs(name);

CREATE TABLE IF NOT EXISTS refs (
	name TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store is a graph database.
type Store struct {
	conn *sql.DB
	log  *zap.Logger
}

// Open opens or creates the database at dbPath.
func Open(dbPath string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Fail early if connection is bad
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	log = logging.OrNop(log)

	// Wait up to 5s on lock instead of failing immediately
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		log.Warn("setting busy timeout", zap.String("db", dbPath), zap.Error(err))
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{conn: conn, log: log}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Summary describes a stored graph without decoding it.
type Summary struct {
	ID        string
	Name      string
	Nodes     int
	CreatedAt time.Time
	UpdatedAt time.Time
	Current   bool
}

// SaveGraph writes g. It reports false when the stored payload is already
// identical.
func (s *Store) SaveGraph(ctx context.Context, g *graph.Graph) (bool, error) {
	payload, err := json.Marshal(g)
	if err != nil {
		return false, fmt.Errorf("encoding graph %s: %w", g.ID(), err)
	}
	digest := fingerprint.Digest(payload)

	var stored string
	err = s.conn.QueryRowContext(ctx, "SELECT digest FROM graphs WHERE id = ?", g.ID()).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("reading graph %s: %w", g.ID(), err)
	}
	if stored == digest {
		return false, nil
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO graphs (id, name, payload, digest, node_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   payload = excluded.payload,
		   digest = excluded.digest,
		   node_count = excluded.node_count,
		   updated_at = excluded.updated_at`,
		g.ID(), g.Name(), payload, digest, g.Len(),
		g.CreatedAt().UnixMilli(), g.UpdatedAt().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("saving graph %s: %w", g.ID(), err)
	}

	s.log.Debug("saved graph", zap.String("graph", g.ID()), zap.Int("nodes", g.Len()))
	return true, nil
}

// LoadGraph reads a graph by id. Stored data is repaired before use; the
// report says what was fixed.
func (s *Store) LoadGraph(ctx context.Context, id string) (*graph.Graph, graph.RepairReport, error) {
	payload, err := s.payload(ctx, id)
	if err != nil {
		return nil, graph.RepairReport{}, err
	}

	g, report, err := graph.FromJSON(payload)
	if err != nil {
		return nil, report, fmt.Errorf("loading graph %s: %w", id, err)
	}
	if report.Changed() {
		s.log.Warn("repaired stored graph", zap.String("graph", id), zap.Any("repairs", report))
	}
	return g, report, nil
}

// Check reports structural corruption in a stored graph without repairing
// it. The returned error wraps graph.ErrInvalidGraph when the stored data is
// inconsistent.
func (s *Store) Check(ctx context.Context, id string) error {
	payload, err := s.payload(ctx, id)
	if err != nil {
		return err
	}
	g, err := graph.Decode(payload)
	if err != nil {
		return fmt.Errorf("decoding graph %s: %w", id, err)
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("graph %s: %w", id, err)
	}
	return nil
}

func (s *Store) payload(ctx context.Context, id string) ([]byte, error) {
	var payload []byte
	err := s.conn.QueryRowContext(ctx, "SELECT payload FROM graphs WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading graph %s: %w", id, err)
	}
	return payload, nil
}

// Resolve maps an id or a graph name to an id.
func (s *Store) Resolve(ctx context.Context, ref string) (string, error) {
	var id string
	err := s.conn.QueryRowContext(ctx, "SELECT id FROM graphs WHERE id = ?", ref).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolving %s: %w", ref, err)
	}

	rows, err := s.conn.QueryContext(ctx, "SELECT id FROM graphs WHERE name = ?", ref)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", ref, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrGraphNotFound, ref)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %d graphs", ErrAmbiguous, ref, len(ids))
	}
}

// ListGraphs returns all graphs ordered by name.
func (s *Store) ListGraphs(ctx context.Context) ([]Summary, error) {
	current, err := s.Current(ctx)
	if err != nil && !errors.Is(err, ErrNoCurrent) {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, name, node_count, created_at, updated_at FROM graphs ORDER BY name, created_at")
	if err != nil {
		return nil, fmt.Errorf("listing graphs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var created, updated int64
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Nodes, &created, &updated); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.UnixMilli(created)
		sum.UpdatedAt = time.UnixMilli(updated)
		sum.Current = sum.ID == current
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteGraph removes a graph and clears the current pointer if it pointed
// at it.
func (s *Store) DeleteGraph(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM graphs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting graph %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM refs WHERE target = ?", id); err != nil {
		return fmt.Errorf("clearing refs to %s: %w", id, err)
	}
	return tx.Commit()
}

// SetCurrent makes id the current graph.
func (s *Store) SetCurrent(ctx context.Context, id string) error {
	var exists int
	err := s.conn.QueryRowContext(ctx, "SELECT 1 FROM graphs WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}
	if err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO refs (name, target, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET target = excluded.target, updated_at = excluded.updated_at`,
		currentRef, id, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("setting current graph: %w", err)
	}
	return nil
}

// Current returns the id of the current graph.
func (s *Store) Current(ctx context.Context) (string, error) {
	var id string
	err := s.conn.QueryRowContext(ctx, "SELECT target FROM refs WHERE name = ?", currentRef).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoCurrent
	}
	if err != nil {
		return "", fmt.Errorf("reading current graph: %w", err)
	}
	return id, nil
}
