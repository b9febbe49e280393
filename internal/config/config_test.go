package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeState(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(root), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if got, want := cfg.Path(cfg.Database), filepath.Join(root, ".waypoint", "waypoint.db"); got != want {
		t.Errorf("database path = %s, want %s", got, want)
	}
}

func TestLoad_Layering(t *testing.T) {
	root := t.TempDir()
	writeState(t, root, FileName, `
database: /var/lib/waypoint.db
log:
  level: debug
validation:
  autoRelocate: true
  batchSize: 10
  exclude:
    - "vendor/**"
metrics:
  file: metrics.prom
`)
	writeState(t, root, EnvFileName, "WAYPOINT_BATCH_SIZE=25\nWAYPOINT_EDITOR='vim +{line} {file}'\n")
	t.Setenv("WAYPOINT_BATCH_SIZE", "99")
	t.Setenv("WAYPOINT_EXCLUDE", "node_modules/**, dist/**")

	cfg, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Database != "/var/lib/waypoint.db" || cfg.Path(cfg.Database) != "/var/lib/waypoint.db" {
		t.Errorf("database = %s", cfg.Database)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if !cfg.Validation.AutoRelocate {
		t.Error("autoRelocate from file lost")
	}
	if cfg.Validation.BatchSize != 99 {
		t.Errorf("process env should win over .env, got %d", cfg.Validation.BatchSize)
	}
	if cfg.Editor.Open != "vim +{line} {file}" {
		t.Errorf(".env editor not applied: %q", cfg.Editor.Open)
	}
	if diff := cmp.Diff([]string{"node_modules/**", "dist/**"}, cfg.Validation.Exclude); diff != "" {
		t.Errorf("exclude (-want +got):\n%s", diff)
	}
	if cfg.Path(cfg.Metrics.File) != filepath.Join(root, "metrics.prom") {
		t.Errorf("metrics file = %s", cfg.Path(cfg.Metrics.File))
	}
}

func TestLoad_BadValuesKeepDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("WAYPOINT_BATCH_SIZE", "lots")
	t.Setenv("WAYPOINT_AUTO_RELOCATE", "perhaps")

	cfg, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Validation.BatchSize != 50 || cfg.Validation.AutoRelocate {
		t.Errorf("unparsable env values should be ignored: %+v", cfg.Validation)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	root := t.TempDir()
	writeState(t, root, FileName, "log: [unclosed")
	if _, err := Load(root); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveAndReload(t *testing.T) {
	root := t.TempDir()
	cfg := Default(root)
	cfg.Validation.Exclude = []string{"gen/**"}
	cfg.Editor.Open = "idea --line {line} {file}"
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("reload mismatch (-want +got):\n%s", diff)
	}
}
