package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"waypoint/internal/graph"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), ".waypoint", "waypoint.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleGraph(t *testing.T, id, name string) *graph.Graph {
	t.Helper()
	g, err := graph.New(id, name)
	if err != nil {
		t.Fatal(err)
	}
	root, err := graph.NewNode("root", "Entry point", "cmd/main.go", 10,
		graph.WithSnippet("func main() {"), graph.WithDescription("start here"))
	if err != nil {
		t.Fatal(err)
	}
	child, err := graph.NewNode("child", "Config load", "internal/config/config.go", 42,
		graph.WithSnippet("cfg, err := Load(root)"))
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []*graph.Node{root, child} {
		if err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.SetParentChild("root", "child"); err != nil {
		t.Fatal(err)
	}
	if err := g.SetCurrentNode("child"); err != nil {
		t.Fatal(err)
	}
	return g
}

func mustJSON(t *testing.T, g *graph.Graph) string {
	t.Helper()
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestOpen_ConfiguresConnection(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s, err := Open(filepath.Join(t.TempDir(), "waypoint.db"), zap.New(core))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	var timeout int
	if err := s.conn.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected warnings: %v", logs.All())
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	g := sampleGraph(t, "g1", "onboarding")

	changed, err := s.SaveGraph(ctx, g)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !changed {
		t.Error("first save should write")
	}

	changed, err = s.SaveGraph(ctx, g)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("saving an unchanged graph should be skipped")
	}

	loaded, report, err := s.LoadGraph(ctx, "g1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if report.Changed() {
		t.Errorf("valid graph should not need repair: %+v", report)
	}
	if got, want := mustJSON(t, loaded), mustJSON(t, g); got != want {
		t.Errorf("round trip mismatch:\n got %s\nwant %s", got, want)
	}

	if err := loaded.Node("child").SetName("Config loading"); err != nil {
		t.Fatal(err)
	}
	loaded.Touch()
	changed, err = s.SaveGraph(ctx, loaded)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("modified graph should be written")
	}
	again, _, err := s.LoadGraph(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Node("child").Name() != "Config loading" {
		t.Errorf("update not persisted: %q", again.Node("child").Name())
	}
}

func TestLoadGraph_RepairsStoredCorruption(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	payload := `{
		"id": "g1", "name": "broken",
		"createdAt": "2026-01-02T03:04:05Z", "updatedAt": "2026-01-02T03:04:05Z",
		"nodes": {
			"a": {"id": "a", "name": "A", "filePath": "a.go", "lineNumber": 1, "parentId": null, "childIds": ["ghost"]}
		},
		"rootNodes": ["a", "missing"],
		"currentNodeId": "ghost"
	}`
	_, err := s.conn.Exec(
		`INSERT INTO graphs (id, name, payload, digest, node_count, created_at, updated_at)
		 VALUES ('g1', 'broken', ?, 'x', 1, 0, 0)`, payload)
	if err != nil {
		t.Fatal(err)
	}

	g, report, err := s.LoadGraph(ctx, "g1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !report.Changed() {
		t.Error("expected repairs to be reported")
	}
	if err := g.Validate(); err != nil {
		t.Errorf("repaired graph invalid: %v", err)
	}
	if g.CurrentNodeID() != "" {
		t.Errorf("dangling current node kept: %q", g.CurrentNodeID())
	}
}

func TestCheck(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.SaveGraph(ctx, sampleGraph(t, "good", "good")); err != nil {
		t.Fatal(err)
	}
	if err := s.Check(ctx, "good"); err != nil {
		t.Errorf("consistent graph reported: %v", err)
	}

	payload := `{
		"id": "bad", "name": "bad",
		"createdAt": "2026-01-02T03:04:05Z", "updatedAt": "2026-01-02T03:04:05Z",
		"nodes": {
			"a": {"id": "a", "name": "A", "filePath": "a.go", "lineNumber": 1, "parentId": null, "childIds": ["ghost"]}
		},
		"rootNodes": ["a"],
		"currentNodeId": null
	}`
	if _, err := s.conn.Exec(
		`INSERT INTO graphs (id, name, payload, digest, node_count, created_at, updated_at)
		 VALUES ('bad', 'bad', ?, 'x', 1, 0, 0)`, payload); err != nil {
		t.Fatal(err)
	}
	if err := s.Check(ctx, "bad"); !errors.Is(err, graph.ErrInvalidGraph) {
		t.Errorf("expected ErrInvalidGraph, got %v", err)
	}

	// Check never writes the repair back.
	if err := s.Check(ctx, "bad"); err == nil {
		t.Error("corruption disappeared after Check")
	}
	if err := s.Check(ctx, "missing"); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("expected ErrGraphNotFound, got %v", err)
	}
}

func TestLoadGraph_NotFound(t *testing.T) {
	s := openStore(t)
	if _, _, err := s.LoadGraph(context.Background(), "nope"); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("expected ErrGraphNotFound, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for _, g := range []*graph.Graph{
		sampleGraph(t, "g1", "api"),
		sampleGraph(t, "g2", "twin"),
		sampleGraph(t, "g3", "twin"),
	} {
		if _, err := s.SaveGraph(ctx, g); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		ref     string
		want    string
		wantErr error
	}{
		{"g2", "g2", nil},
		{"api", "g1", nil},
		{"twin", "", ErrAmbiguous},
		{"missing", "", ErrGraphNotFound},
	}
	for _, tt := range tests {
		got, err := s.Resolve(ctx, tt.ref)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve(%q): expected %v, got %v", tt.ref, tt.wantErr, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Resolve(%q) = %q, %v; want %q", tt.ref, got, err, tt.want)
		}
	}
}

func TestCurrentAndList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.Current(ctx); !errors.Is(err, ErrNoCurrent) {
		t.Errorf("expected ErrNoCurrent, got %v", err)
	}
	if err := s.SetCurrent(ctx, "nope"); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("expected ErrGraphNotFound, got %v", err)
	}

	for _, g := range []*graph.Graph{sampleGraph(t, "g1", "zeta"), sampleGraph(t, "g2", "alpha")} {
		if _, err := s.SaveGraph(ctx, g); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetCurrent(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetCurrent(ctx, "g2"); err != nil {
		t.Fatal(err)
	}
	if id, err := s.Current(ctx); err != nil || id != "g2" {
		t.Errorf("Current = %q, %v; want g2", id, err)
	}

	list, err := s.ListGraphs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 graphs, got %d", len(list))
	}
	if list[0].Name != "alpha" || !list[0].Current || list[0].Nodes != 2 {
		t.Errorf("unexpected first entry %+v", list[0])
	}
	if list[1].Name != "zeta" || list[1].Current {
		t.Errorf("unexpected second entry %+v", list[1])
	}

	if err := s.DeleteGraph(ctx, "g2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Current(ctx); !errors.Is(err, ErrNoCurrent) {
		t.Errorf("deleting the current graph should clear the pointer, got %v", err)
	}
	if err := s.DeleteGraph(ctx, "g2"); !errors.Is(err, ErrGraphNotFound) {
		t.Errorf("expected ErrGraphNotFound, got %v", err)
	}
}

func TestArchive(t *testing.T) {
	g := sampleGraph(t, "g1", "archive me")

	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer
		if err := WriteArchive(&buf, g, compress); err != nil {
			t.Fatalf("write (compress=%v): %v", compress, err)
		}
		if got := bytes.HasPrefix(buf.Bytes(), zstdMagic); got != compress {
			t.Errorf("compress=%v: zstd magic present = %v", compress, got)
		}

		loaded, _, err := ReadArchive(&buf)
		if err != nil {
			t.Fatalf("read (compress=%v): %v", compress, err)
		}
		if mustJSON(t, loaded) != mustJSON(t, g) {
			t.Errorf("compress=%v: archive round trip mismatch", compress)
		}
	}

	if _, _, err := ReadArchive(bytes.NewReader(nil)); err == nil {
		t.Error("expected error for empty archive")
	}
}
