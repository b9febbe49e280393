package locator

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"waypoint/internal/fingerprint"
	"waypoint/internal/similarity"
)

// target is a snippet prepared once for repeated comparisons.
type target struct {
	raw   string
	hash  string
	lower string // trimmed, lowercased
	dense string // whitespace removed, lowercased
	lines int    // line count of the normalized snippet
}

func newTarget(snippet string) target {
	return target{
		raw:   snippet,
		hash:  fingerprint.Hash(snippet),
		lower: strings.ToLower(strings.TrimSpace(snippet)),
		dense: dense(snippet),
		lines: strings.Count(fingerprint.Normalize(snippet), "\n") + 1,
	}
}

// window returns the text compared against the snippet at line i: the line
// itself, or as many lines as the snippet has.
func (t target) window(lines []string, i int) string {
	if t.lines <= 1 {
		return lines[i]
	}
	return strings.Join(lines[i:min(i+t.lines, len(lines))], "\n")
}

// extraSpan is how many more lines a multi-line match covers than the
// snippet itself.
func (t target) extraSpan(span int) int {
	return max(span-(t.lines-1), 0)
}

func (t target) exact(line string) bool {
	return t.hash != "" && fingerprint.Hash(line) == t.hash
}

func (t target) contained(line string) bool {
	return utf8.RuneCountInString(t.lower) > MinSubstringLength &&
		strings.Contains(strings.ToLower(strings.TrimSpace(line)), t.lower)
}

// score grades a candidate line: 1.0 for a fingerprint match, SubstringScore
// for containment, otherwise the similarity when above FuzzyThreshold. A zero
// score means no match.
func (t target) score(line string) float64 {
	if t.exact(line) {
		return 1.0
	}
	if t.contained(line) {
		return SubstringScore
	}
	if s := similarity.Score(t.raw, line); s > FuzzyThreshold {
		return s
	}
	return 0
}

// dense lowercases s and drops every whitespace rune.
func dense(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsSpace(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

type match struct {
	line     int // 0-based
	score    float64
	distance int
	span     int
}

// searchNearby scans ±NearbyRadius lines around origin (0-based), skipping
// origin itself, and keeps the best match by score then distance.
func searchNearby(lines []string, origin int, t target) (match, bool) {
	start := max(0, origin-NearbyRadius)
	end := min(len(lines)-1, origin+NearbyRadius)

	var best match
	found := false
	for i := start; i <= end; i++ {
		if i == origin {
			continue
		}
		s := t.score(t.window(lines, i))
		if s == 0 {
			continue
		}
		d := abs(i - origin)
		if !found || s > best.score || (s == best.score && d < best.distance) {
			best = match{line: i, score: s, distance: d}
			found = true
		}
	}
	return best, found
}

// searchFile looks through the whole file: the first fingerprint match by
// ascending line wins, otherwise the best-scoring line (earliest on ties).
func searchFile(lines []string, t target) (match, bool) {
	for i := range lines {
		if t.exact(t.window(lines, i)) {
			return match{line: i, score: 1.0}, true
		}
	}

	var best match
	found := false
	for i := range lines {
		if s := t.score(t.window(lines, i)); s > 0 && (!found || s > best.score) {
			best = match{line: i, score: s}
			found = true
		}
	}
	return best, found
}

// searchMultiLine joins up to MultiLineWindow consecutive whitespace-free
// lines and looks for the whitespace-free snippet. A window stops growing
// once it is more than twice the target length.
func searchMultiLine(lines []string, t target) (match, bool) {
	if t.dense == "" {
		return match{}, false
	}

	norm := make([]string, len(lines))
	for i, line := range lines {
		norm[i] = dense(line)
	}

	limit := 2 * len(t.dense)
	for i := range norm {
		var combined strings.Builder
		// offsets[k] is where line i+k starts inside combined
		offsets := make([]int, 0, MultiLineWindow)
		for j := i; j < len(norm) && j < i+MultiLineWindow; j++ {
			offsets = append(offsets, combined.Len())
			combined.WriteString(norm[j])

			text := combined.String()
			if idx := strings.Index(text, t.dense); idx >= 0 {
				startLine := i
				for k, off := range offsets {
					if idx >= off {
						startLine = i + k
					}
				}
				return match{line: startLine, span: j - startLine}, true
			}
			if len(text) > limit {
				break
			}
		}
	}
	return match{}, false
}

// matchAt is searchMultiLine restricted to windows that start at origin and
// a match that begins inside the origin line.
func matchAt(lines []string, origin int, t target) (match, bool) {
	if t.dense == "" {
		return match{}, false
	}

	first := len(dense(lines[origin]))
	if first == 0 {
		return match{}, false
	}
	var combined strings.Builder
	for j := origin; j < len(lines) && j < origin+MultiLineWindow; j++ {
		combined.WriteString(dense(lines[j]))
		text := combined.String()
		if idx := strings.Index(text, t.dense); idx >= 0 {
			if idx >= first {
				return match{}, false
			}
			return match{line: origin, span: j - origin}, true
		}
		if len(text) > 2*len(t.dense) {
			break
		}
	}
	return match{}, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
