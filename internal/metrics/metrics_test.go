package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()
	c.ObserveValidation("exact", time.Millisecond)
	c.ObserveValidation("exact", time.Millisecond)
	c.ObserveValidation("failed", time.Millisecond)
	c.ObserveRelocation()
	c.ObserveCached()
	c.SetGraphSize("g1", 7)

	if got := testutil.ToFloat64(c.validations.WithLabelValues("exact")); got != 2 {
		t.Errorf("exact = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.validations.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.relocations); got != 1 {
		t.Errorf("relocations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.nodes.WithLabelValues("g1")); got != 7 {
		t.Errorf("graph size = %v, want 7", got)
	}
}

func TestCollector_Write(t *testing.T) {
	c := NewCollector()
	c.ObserveValidation("high", 2*time.Millisecond)

	path := filepath.Join(t.TempDir(), "waypoint.prom")
	if err := c.Write(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`waypoint_validations_total{confidence="high"} 1`,
		"# TYPE waypoint_validation_duration_seconds histogram",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("output missing %q:\n%s", want, data)
		}
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveValidation("exact", time.Second)
	c.ObserveRelocation()
	c.ObserveCached()
	c.SetGraphSize("g", 1)
	if err := c.Write(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("nil collector write: %v", err)
	}
}
