package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"waypoint/internal/filesource"
)

// Locator validates anchors against a file source. It holds no state besides
// the source and is safe to share.
type Locator struct {
	fs filesource.FileSystem
}

// New returns a Locator reading through fs.
func New(fs filesource.FileSystem) *Locator {
	return &Locator{fs: fs}
}

// Source returns the file source the locator reads.
func (l *Locator) Source() filesource.FileSystem {
	return l.fs
}

// Validate checks a single anchor. It never returns an error: missing files,
// moved code and read failures all come back as a failed or relocated Result.
func (l *Locator) Validate(ctx context.Context, a Anchor) Result {
	info, err := l.fs.Stat(ctx, a.FilePath())
	if err != nil {
		if errors.Is(err, filesource.ErrNotExist) {
			return failed("File not found")
		}
		return failed(fmt.Sprintf("Cannot access file: %v", err))
	}
	if info.IsDir {
		return Result{IsValid: true, Confidence: ConfidenceExact}
	}

	doc, err := l.fs.Open(ctx, a.FilePath())
	if err != nil {
		if errors.Is(err, filesource.ErrNotExist) {
			return failed("File not found")
		}
		return failed(fmt.Sprintf("Cannot read file: %v", err))
	}

	snippet := a.CodeSnippet()
	hasSnippet := strings.TrimSpace(snippet) != ""
	line := a.LineNumber()
	lines := doc.Lines()

	if line < 1 || line > len(lines) {
		if !hasSnippet {
			return failed(fmt.Sprintf("Line %d is out of range (file has %d lines)", line, len(lines)))
		}
		return l.relocateOutOfRange(a.FilePath(), line, lines, newTarget(snippet))
	}

	if !hasSnippet {
		return Result{IsValid: true, Confidence: ConfidenceExact}
	}

	t := newTarget(snippet)
	origin := line - 1
	current := t.window(lines, origin)
	if t.exact(current) || t.contained(current) {
		return Result{IsValid: true, Confidence: ConfidenceExact}
	}

	// Reformatted in place, possibly across a different number of lines.
	if m, ok := matchAt(lines, origin, t); ok {
		return Result{
			IsValid:           true,
			Confidence:        ConfidenceHigh,
			SuggestedLocation: &Location{FilePath: a.FilePath(), LineNumber: line},
			Reason:            fmt.Sprintf("Code reformatted in place (spanning %d lines)", m.span+1),
		}
	}

	if m, ok := searchNearby(lines, origin, t); ok {
		newLine := m.line + 1
		return Result{
			Confidence:        nearbyConfidence(m),
			SuggestedLocation: &Location{FilePath: a.FilePath(), LineNumber: newLine},
			Reason:            fmt.Sprintf("Code moved %s (line %d -> %d)", delta(newLine-line), line, newLine),
		}
	}

	if m, ok := searchMultiLine(lines, t); ok {
		newLine := m.line + 1
		return Result{
			Confidence:        spanConfidence(t.extraSpan(m.span)),
			SuggestedLocation: &Location{FilePath: a.FilePath(), LineNumber: newLine},
			Reason:            fmt.Sprintf("Code reformatted; found at line %d spanning %d lines", newLine, m.span+1),
		}
	}

	return failed("Code snippet not found in file")
}

func (l *Locator) relocateOutOfRange(path string, line int, lines []string, t target) Result {
	if m, ok := searchFile(lines, t); ok {
		newLine := m.line + 1
		return Result{
			Confidence:        scoreConfidence(m.score),
			SuggestedLocation: &Location{FilePath: path, LineNumber: newLine},
			Reason: fmt.Sprintf("Line %d is out of range (file has %d lines); code found at line %d",
				line, len(lines), newLine),
		}
	}
	if m, ok := searchMultiLine(lines, t); ok {
		newLine := m.line + 1
		return Result{
			Confidence:        spanConfidence(t.extraSpan(m.span)),
			SuggestedLocation: &Location{FilePath: path, LineNumber: newLine},
			Reason: fmt.Sprintf("Line %d is out of range (file has %d lines); reformatted code found at line %d",
				line, len(lines), newLine),
		}
	}
	return failed(fmt.Sprintf("Line %d is out of range (file has %d lines) and code snippet not found in file",
		line, len(lines)))
}

func failed(reason string) Result {
	return Result{Confidence: ConfidenceFailed, Reason: reason}
}

func nearbyConfidence(m match) Confidence {
	switch {
	case m.score == 1.0 && m.distance <= 5:
		return ConfidenceHigh
	case m.score >= 0.9 || m.distance <= 10:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func scoreConfidence(score float64) Confidence {
	switch {
	case score >= 0.95:
		return ConfidenceHigh
	case score >= 0.85:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func spanConfidence(span int) Confidence {
	switch {
	case span == 0:
		return ConfidenceHigh
	case span <= 2:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func delta(n int) string {
	switch {
	case n == 1:
		return "down 1 line"
	case n > 0:
		return fmt.Sprintf("down %d lines", n)
	case n == -1:
		return "up 1 line"
	default:
		return fmt.Sprintf("up %d lines", -n)
	}
}
