package locator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"waypoint/internal/filesource"
	"waypoint/internal/graph"
)

var _ Anchor = (*graph.Node)(nil)

type anchor struct {
	path    string
	line    int
	snippet string
}

func (a anchor) FilePath() string    { return a.path }
func (a anchor) LineNumber() int     { return a.line }
func (a anchor) CodeSnippet() string { return a.snippet }

// writeLines writes a file whose line n (1-based) is lines[n-1]. Unset
// entries become "// line n" filler.
func writeLines(t *testing.T, dir, name string, count int, set map[int]string) {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= count; i++ {
		if s, ok := set[i]; ok {
			b.WriteString(s)
		} else {
			fmt.Fprintf(&b, "// line %d", i)
		}
		b.WriteString("\n")
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func newLocator(t *testing.T) (*Locator, string) {
	t.Helper()
	dir := t.TempDir()
	return New(filesource.NewOS(dir)), dir
}

func TestValidate_ExactMatch(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.ts", 10, map[int]string{5: "const x = 1;"})

	got := loc.Validate(context.Background(), anchor{"a.ts", 5, "const x = 1;"})
	if !got.IsValid || got.Confidence != ConfidenceExact {
		t.Fatalf("got %+v, want valid exact", got)
	}
	if got.SuggestedLocation != nil {
		t.Errorf("unexpected suggestion %+v", got.SuggestedLocation)
	}
}

func TestValidate_ExactIgnoresIndentAndLineEndings(t *testing.T) {
	loc, dir := newLocator(t)
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\r\n\r\n\tx := compute()\r\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got := loc.Validate(context.Background(), anchor{"a.go", 3, "x := compute()"})
	if !got.IsValid || got.Confidence != ConfidenceExact {
		t.Fatalf("got %+v, want valid exact", got)
	}
}

func TestValidate_SubSelection(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.ts", 10, map[int]string{5: "export const Total = sum(items);"})

	got := loc.Validate(context.Background(), anchor{"a.ts", 5, "total = SUM(items)"})
	if !got.IsValid || got.Confidence != ConfidenceExact {
		t.Fatalf("got %+v, want valid exact", got)
	}
}

func TestValidate_ShortSnippetSkipsContainment(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.ts", 3, map[int]string{2: "return foo(bar)"})

	// Only the whitespace-insensitive search can accept a 3 rune snippet.
	got := loc.Validate(context.Background(), anchor{"a.ts", 2, "foo"})
	if got.Confidence == ConfidenceExact {
		t.Fatalf("got %+v, containment must not apply to short snippets", got)
	}
	if !got.IsValid || got.Confidence != ConfidenceHigh {
		t.Fatalf("got %+v, want valid high", got)
	}
}

func TestValidate_MovedThreeLinesDown(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.ts", 12, map[int]string{5: "let y = 2;", 8: "const x = 1;"})

	got := loc.Validate(context.Background(), anchor{"a.ts", 5, "const x = 1;"})
	if got.IsValid {
		t.Fatalf("got valid, want relocation: %+v", got)
	}
	if got.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %s, want high", got.Confidence)
	}
	if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != 8 {
		t.Fatalf("suggestion = %+v, want line 8", got.SuggestedLocation)
	}
	if got.SuggestedLocation.FilePath != "a.ts" {
		t.Errorf("suggested path = %q", got.SuggestedLocation.FilePath)
	}
	if !strings.Contains(got.Reason, "down 3 lines") {
		t.Errorf("reason = %q, want line delta", got.Reason)
	}
}

func TestValidate_RelocationWithinRadius(t *testing.T) {
	tests := []struct {
		name   string
		origin int
		moved  int
		want   Confidence
	}{
		{"up one", 10, 9, ConfidenceHigh},
		{"down five", 10, 15, ConfidenceHigh},
		{"down eight", 10, 18, ConfidenceMedium},
		{"up twenty", 25, 5, ConfidenceMedium},
		{"down twenty", 10, 30, ConfidenceMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, dir := newLocator(t)
			writeLines(t, dir, "m.go", 40, map[int]string{
				tt.origin: "return nil",
				tt.moved:  "cfg.Timeout = 30 * time.Second",
			})

			got := loc.Validate(context.Background(), anchor{"m.go", tt.origin, "cfg.Timeout = 30 * time.Second"})
			if got.IsValid {
				t.Fatalf("got valid: %+v", got)
			}
			if got.Confidence != tt.want {
				t.Errorf("confidence = %s, want %s", got.Confidence, tt.want)
			}
			if !got.Confidence.AtLeast(ConfidenceMedium) {
				t.Errorf("confidence %s below medium", got.Confidence)
			}
			if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != tt.moved {
				t.Fatalf("suggestion = %+v, want line %d", got.SuggestedLocation, tt.moved)
			}
		})
	}
}

func TestValidate_NearbyPrefersCloserLine(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.go", 20, map[int]string{
		3:  "defer mu.Unlock()",
		10: "mu.Lock()",
		12: "defer mu.Unlock()",
	})

	got := loc.Validate(context.Background(), anchor{"a.go", 10, "defer mu.Unlock()"})
	if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != 12 {
		t.Fatalf("suggestion = %+v, want the closer line 12", got.SuggestedLocation)
	}
}

func TestValidate_NearbyPrefersHigherScore(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.go", 30, map[int]string{
		10: "unrelated()",
		11: "const value = 2;",
		20: "const value = 1;",
	})

	got := loc.Validate(context.Background(), anchor{"a.go", 10, "const value = 1;"})
	if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != 20 {
		t.Fatalf("suggestion = %+v, want the exact copy at line 20", got.SuggestedLocation)
	}
	if got.Confidence != ConfidenceMedium {
		t.Errorf("confidence = %s, want medium", got.Confidence)
	}
}

func TestValidate_FuzzyMatch(t *testing.T) {
	tests := []struct {
		name    string
		snippet string
		moved   int
		live    string
		want    Confidence
	}{
		// 1 edit over 13 runes: 0.92
		{"close edit far away", "const x = 1;", 22, "const x = 10;", ConfidenceMedium},
		// 2 edits over 16 runes: 0.875
		{"weaker edit nearby", "const value = 1;", 15, "const valux = 9;", ConfidenceMedium},
		{"weaker edit far away", "const value = 1;", 20, "const valux = 9;", ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, dir := newLocator(t)
			writeLines(t, dir, "f.ts", 40, map[int]string{5: "return total", tt.moved: tt.live})

			got := loc.Validate(context.Background(), anchor{"f.ts", 5, tt.snippet})
			if got.IsValid {
				t.Fatalf("got valid: %+v", got)
			}
			if got.Confidence != tt.want {
				t.Errorf("confidence = %s, want %s", got.Confidence, tt.want)
			}
			if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != tt.moved {
				t.Fatalf("suggestion = %+v, want line %d", got.SuggestedLocation, tt.moved)
			}
		})
	}
}

func TestValidate_MultiLineReformat(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "call.go", 15, map[int]string{
		5:  "return nil",
		10: "foo(a,",
		11: "    b)",
	})

	got := loc.Validate(context.Background(), anchor{"call.go", 5, "foo(a, b)"})
	if got.IsValid {
		t.Fatalf("got valid: %+v", got)
	}
	if got.Confidence != ConfidenceMedium {
		t.Errorf("confidence = %s, want medium for a two line span", got.Confidence)
	}
	if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != 10 {
		t.Fatalf("suggestion = %+v, want line 10", got.SuggestedLocation)
	}
}

func TestValidate_MultiLineWideSpanIsLow(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "call.go", 20, map[int]string{
		2:  "return nil",
		10: "x := New(",
		11: "  a,",
		12: "  b,",
		13: "  c)",
	})

	got := loc.Validate(context.Background(), anchor{"call.go", 2, "x := New(a, b, c)"})
	if got.Confidence != ConfidenceLow {
		t.Errorf("confidence = %s, want low", got.Confidence)
	}
	if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != 10 {
		t.Fatalf("suggestion = %+v, want line 10", got.SuggestedLocation)
	}
}

func TestValidate_WhitespaceOnlyChangeOnSameLine(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.c", 8, map[int]string{4: "if ( ready ) {"})

	got := loc.Validate(context.Background(), anchor{"a.c", 4, "if (ready){"})
	if !got.IsValid || got.Confidence != ConfidenceHigh {
		t.Fatalf("got %+v, want valid high", got)
	}
	if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != 4 {
		t.Errorf("suggestion = %+v, want the original line 4", got.SuggestedLocation)
	}
}

func TestValidate_MultiLineSnippetUnchanged(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.go", 10, map[int]string{5: "func f() {", 6: "\treturn 1"})

	got := loc.Validate(context.Background(), anchor{"a.go", 5, "func f() {\n\treturn 1"})
	if !got.IsValid || got.Confidence != ConfidenceExact {
		t.Fatalf("got %+v, want valid exact", got)
	}
	if got.SuggestedLocation != nil {
		t.Errorf("unexpected suggestion %+v", got.SuggestedLocation)
	}
}

func TestValidate_MultiLineSnippetReformattedInPlace(t *testing.T) {
	tests := []struct {
		name  string
		lines map[int]string
	}{
		{"joined", map[int]string{5: "func f() { return 1"}},
		{"split", map[int]string{5: "func f()", 6: "{", 7: "  return 1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, dir := newLocator(t)
			writeLines(t, dir, "a.go", 10, tt.lines)

			got := loc.Validate(context.Background(), anchor{"a.go", 5, "func f() {\n\treturn 1"})
			if !got.IsValid || got.Confidence != ConfidenceHigh {
				t.Fatalf("got %+v, want valid high", got)
			}
			if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != 5 {
				t.Errorf("suggestion = %+v, want line 5", got.SuggestedLocation)
			}
		})
	}
}

func TestValidate_MultiLineSnippetMoved(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.go", 20, map[int]string{8: "func f() {", 9: "\treturn 1"})

	got := loc.Validate(context.Background(), anchor{"a.go", 5, "func f() {\n\treturn 1"})
	if got.IsValid {
		t.Fatalf("got valid: %+v", got)
	}
	if got.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %s, want high for an unchanged block", got.Confidence)
	}
	if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != 8 {
		t.Fatalf("suggestion = %+v, want line 8", got.SuggestedLocation)
	}
	if !strings.Contains(got.Reason, "down 3 lines") {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestValidate_BeyondRadiusFallsBackToMultiLine(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "far.go", 60, map[int]string{5: "return nil", 40: "startServer(ctx)"})

	got := loc.Validate(context.Background(), anchor{"far.go", 5, "startServer(ctx)"})
	if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != 40 {
		t.Fatalf("suggestion = %+v, want line 40", got.SuggestedLocation)
	}
	if got.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %s, want high", got.Confidence)
	}
}

func TestValidate_SnippetNotFound(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.ts", 10, map[int]string{5: "let y = 2;"})

	got := loc.Validate(context.Background(), anchor{"a.ts", 5, "func handleRequest(w http.ResponseWriter)"})
	want := Result{Confidence: ConfidenceFailed, Reason: "Code snippet not found in file"}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestValidate_FileNotFound(t *testing.T) {
	loc, _ := newLocator(t)

	got := loc.Validate(context.Background(), anchor{"deleted.ts", 5, "const x = 1;"})
	want := Result{Confidence: ConfidenceFailed, Reason: "File not found"}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestValidate_Directory(t *testing.T) {
	loc, dir := newLocator(t)
	if err := os.Mkdir(filepath.Join(dir, "pkg"), 0755); err != nil {
		t.Fatal(err)
	}

	got := loc.Validate(context.Background(), anchor{"pkg", 1, "anything"})
	if !got.IsValid || got.Confidence != ConfidenceExact {
		t.Fatalf("got %+v, want valid exact", got)
	}
}

func TestValidate_LegacyNodeWithoutSnippet(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.ts", 3, nil)

	tests := []struct {
		name    string
		line    int
		snippet string
		valid   bool
		want    Confidence
	}{
		{"in range", 2, "", true, ConfidenceExact},
		{"whitespace snippet", 2, "   ", true, ConfidenceExact},
		{"out of range", 9, "", false, ConfidenceFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := loc.Validate(context.Background(), anchor{"a.ts", tt.line, tt.snippet})
			if got.IsValid != tt.valid || got.Confidence != tt.want {
				t.Fatalf("got %+v, want valid=%v %s", got, tt.valid, tt.want)
			}
			if !tt.valid && !strings.Contains(got.Reason, "out of range") {
				t.Errorf("reason = %q", got.Reason)
			}
		})
	}
}

func TestValidate_LineBeyondEndOfFile(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "short.py", 10, map[int]string{7: "def main():"})

	got := loc.Validate(context.Background(), anchor{"short.py", 50, "def main():"})
	if got.IsValid || got.Confidence != ConfidenceHigh {
		t.Fatalf("got %+v, want invalid high", got)
	}
	if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != 7 {
		t.Fatalf("suggestion = %+v, want line 7", got.SuggestedLocation)
	}
	if !strings.Contains(got.Reason, "out of range") || !strings.Contains(got.Reason, "line 7") {
		t.Errorf("reason = %q, want both causes", got.Reason)
	}
}

func TestValidate_LineBeyondEndOfFileFirstExactHitWins(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "dup.py", 10, map[int]string{3: "pass", 8: "pass"})

	got := loc.Validate(context.Background(), anchor{"dup.py", 40, "pass"})
	if got.SuggestedLocation == nil || got.SuggestedLocation.LineNumber != 3 {
		t.Fatalf("suggestion = %+v, want first hit at line 3", got.SuggestedLocation)
	}
}

func TestValidate_LineBeyondEndOfFileFuzzyTiers(t *testing.T) {
	loc, dir := newLocator(t)
	// 2 edits over 16 runes: 0.875
	writeLines(t, dir, "f.ts", 6, map[int]string{4: "const valux = 9;"})

	got := loc.Validate(context.Background(), anchor{"f.ts", 99, "const value = 1;"})
	if got.Confidence != ConfidenceMedium {
		t.Fatalf("got %+v, want medium", got)
	}
}

func TestValidate_LineBeyondEndOfFileNotFound(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "short.py", 4, nil)

	got := loc.Validate(context.Background(), anchor{"short.py", 50, "def main():"})
	if got.IsValid || got.Confidence != ConfidenceFailed {
		t.Fatalf("got %+v, want failed", got)
	}
	if !strings.Contains(got.Reason, "out of range") || !strings.Contains(got.Reason, "not found") {
		t.Errorf("reason = %q, want both causes", got.Reason)
	}
}

type brokenFS struct {
	statErr error
	openErr error
}

func (b brokenFS) Stat(context.Context, string) (filesource.Info, error) {
	return filesource.Info{}, b.statErr
}

func (b brokenFS) Open(context.Context, string) (*filesource.Document, error) {
	return nil, b.openErr
}

func (brokenFS) SourceType() string { return "broken" }

func TestValidate_IOErrorsBecomeFailedResults(t *testing.T) {
	tests := []struct {
		name string
		fs   brokenFS
	}{
		{"stat", brokenFS{statErr: os.ErrPermission}},
		{"open", brokenFS{openErr: fmt.Errorf("read a.go: %w", os.ErrPermission)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.fs).Validate(context.Background(), anchor{"a.go", 1, "x"})
			if got.IsValid || got.Confidence != ConfidenceFailed {
				t.Fatalf("got %+v, want failed", got)
			}
			if !strings.Contains(got.Reason, "permission denied") {
				t.Errorf("reason = %q, want the error message", got.Reason)
			}
		})
	}
}

func TestValidate_CancelledContext(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.ts", 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := loc.Validate(ctx, anchor{"a.ts", 1, "// line 1"})
	if got.Confidence != ConfidenceFailed || !strings.Contains(got.Reason, context.Canceled.Error()) {
		t.Fatalf("got %+v, want failed with context error", got)
	}
}

func TestValidate_GraphNode(t *testing.T) {
	loc, dir := newLocator(t)
	writeLines(t, dir, "a.ts", 10, map[int]string{5: "const x = 1;"})

	n, err := graph.NewNode("n1", "x", filepath.Join(dir, "a.ts"), 5, graph.WithSnippet("const x = 1;"))
	if err != nil {
		t.Fatal(err)
	}
	if got := loc.Validate(context.Background(), n); !got.IsValid {
		t.Fatalf("got %+v", got)
	}
}

func TestConfidenceOrdering(t *testing.T) {
	order := []Confidence{ConfidenceFailed, ConfidenceLow, ConfidenceMedium, ConfidenceHigh, ConfidenceExact}
	for i := 1; i < len(order); i++ {
		if !order[i].AtLeast(order[i-1]) || order[i-1].AtLeast(order[i]) {
			t.Errorf("%s should rank above %s", order[i], order[i-1])
		}
	}
	if c, ok := ParseConfidence("medium"); !ok || c != ConfidenceMedium {
		t.Errorf("ParseConfidence(medium) = %q, %v", c, ok)
	}
	if _, ok := ParseConfidence("certain"); ok {
		t.Error("ParseConfidence accepted an unknown name")
	}
}

func TestSearchMultiLineStopsEarly(t *testing.T) {
	lines := []string{"aaaaaaaaaaaaaaaaaaaaaaaa", "target"}
	if _, ok := searchMultiLine(lines, newTarget("aatarget")); ok {
		t.Fatal("window should have stopped before joining the second line")
	}
	if m, ok := searchMultiLine(lines, newTarget("target")); !ok || m.line != 1 {
		t.Fatalf("got %+v %v, want line 1", m, ok)
	}
}

func TestValidateNeverReturnsPartialSuggestion(t *testing.T) {
	loc, _ := newLocator(t)
	res := loc.Validate(context.Background(), anchor{"missing/a.go", 1, "x"})
	if res.SuggestedLocation != nil {
		t.Fatalf("failed result carries suggestion %+v", res.SuggestedLocation)
	}
}
