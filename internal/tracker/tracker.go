// Package tracker applies validation verdicts to the nodes of a graph. It is
// the only place where a verdict turns into a node change: a warning set or
// cleared, and optionally a line number moved.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"waypoint/internal/cache"
	"waypoint/internal/filesource"
	"waypoint/internal/graph"
	"waypoint/internal/locator"
	"waypoint/internal/logging"
	"waypoint/internal/metrics"
)

// DefaultBatchSize is the segment size used when Options.BatchSize is unset.
const DefaultBatchSize = 50

// Options control a validation pass.
type Options struct {
	// BatchSize is the number of nodes validated between cancellation checks.
	BatchSize int

	// Exclude holds doublestar patterns; nodes whose file path matches any of
	// them are skipped.
	Exclude []string

	// AutoRelocate moves a node to a high-confidence suggestion in the same
	// file instead of flagging it.
	AutoRelocate bool
}

func (o Options) validate() error {
	for _, p := range o.Exclude {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	return nil
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

func (o Options) excluded(path string) bool {
	path = filepath.ToSlash(path)
	for _, p := range o.Exclude {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// Tracker validates nodes and records the outcome on them.
type Tracker struct {
	loc     *locator.Locator
	cache   *cache.FileCache
	metrics *metrics.Collector
	log     *zap.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCache enables verdict reuse for files read from the working tree.
func WithCache(c *cache.FileCache) Option {
	return func(t *Tracker) { t.cache = c }
}

// WithMetrics records every verdict in m.
func WithMetrics(m *metrics.Collector) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// New creates a Tracker around loc.
func New(loc *locator.Locator, opts ...Option) *Tracker {
	t := &Tracker{loc: loc}
	for _, opt := range opts {
		opt(t)
	}
	t.log = logging.OrNop(t.log)
	return t
}

// Problem is a node left invalid by a pass.
type Problem struct {
	NodeID string         `json:"nodeId"`
	Name   string         `json:"name"`
	Path   string         `json:"filePath"`
	Line   int            `json:"lineNumber"`
	Result locator.Result `json:"result"`
}

// Summary counts the outcome of a validation pass.
type Summary struct {
	Total        int                        `json:"total"`
	Checked      int                        `json:"checked"`
	Valid        int                        `json:"valid"`
	Invalid      int                        `json:"invalid"`
	Relocated    int                        `json:"relocated"`
	Skipped      int                        `json:"skipped"`
	Cached       int                        `json:"cached"`
	Changed      int                        `json:"changed"`
	ByConfidence map[locator.Confidence]int `json:"byConfidence"`
	Problems     []Problem                  `json:"problems,omitempty"`
}

func (s *Summary) add(n *graph.Node, res locator.Result, o outcome) {
	s.Checked++
	s.ByConfidence[res.Confidence]++
	if o.cached {
		s.Cached++
	}
	if o.changed {
		s.Changed++
	}
	switch {
	case res.IsValid:
		s.Valid++
	case o.relocated:
		s.Relocated++
	default:
		s.Invalid++
		s.Problems = append(s.Problems, Problem{
			NodeID: n.ID(),
			Name:   n.Name(),
			Path:   n.FilePath(),
			Line:   n.LineNumber(),
			Result: res,
		})
	}
}

type outcome struct {
	cached    bool
	relocated bool
	changed   bool
}

// ValidateGraph validates every node in insertion order, in segments of
// opts.BatchSize. ctx is only checked between segments: a cancelled pass
// returns the partial summary with ctx.Err(), and the node being validated
// when cancellation arrives is always finished.
func (t *Tracker) ValidateGraph(ctx context.Context, g *graph.Graph, opts Options) (Summary, error) {
	if err := opts.validate(); err != nil {
		return Summary{}, err
	}

	nodes := g.Nodes()
	sum := Summary{Total: len(nodes), ByConfidence: make(map[locator.Confidence]int)}
	work := context.WithoutCancel(ctx)
	size := opts.batchSize()

	for start := 0; start < len(nodes); start += size {
		if err := ctx.Err(); err != nil {
			t.log.Info("validation aborted",
				zap.String("graph", g.Name()),
				zap.Int("checked", sum.Checked),
				zap.Int("total", sum.Total))
			t.finish(g, sum)
			return sum, err
		}

		for _, n := range nodes[start:min(start+size, len(nodes))] {
			if opts.excluded(n.FilePath()) {
				sum.Skipped++
				continue
			}
			res, o := t.check(work, n, opts.AutoRelocate)
			sum.add(n, res, o)
		}
	}

	t.finish(g, sum)
	t.log.Info("validated graph",
		zap.String("graph", g.Name()),
		zap.Int("valid", sum.Valid),
		zap.Int("invalid", sum.Invalid),
		zap.Int("relocated", sum.Relocated),
		zap.Int("skipped", sum.Skipped))
	return sum, nil
}

func (t *Tracker) finish(g *graph.Graph, sum Summary) {
	if sum.Changed > 0 {
		g.Touch()
	}
	t.metrics.SetGraphSize(g.Name(), g.Len())
}

// ValidateNode validates a single node and records the verdict on it. It
// never moves the node.
func (t *Tracker) ValidateNode(ctx context.Context, g *graph.Graph, id string) (locator.Result, error) {
	n := g.Node(id)
	if n == nil {
		return locator.Result{}, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
	}
	res, o := t.check(ctx, n, false)
	if o.changed {
		g.Touch()
	}
	return res, nil
}

// EditNode applies fn to a node through its update methods, then
// re-validates it. An error from fn is returned as is and the node is not
// re-validated.
func (t *Tracker) EditNode(ctx context.Context, g *graph.Graph, id string, fn func(*graph.Node) error) (locator.Result, error) {
	n := g.Node(id)
	if n == nil {
		return locator.Result{}, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
	}
	if err := fn(n); err != nil {
		return locator.Result{}, err
	}
	g.Touch()

	if t.cache != nil {
		if err := t.cache.RemoveVerdict(id); err != nil {
			t.log.Warn("dropping cached verdict", zap.String("node", id), zap.Error(err))
		}
	}
	res, _ := t.check(ctx, n, false)
	return res, nil
}

// check validates n, reusing a cached exact verdict when the file is
// unchanged, and applies the result to the node.
func (t *Tracker) check(ctx context.Context, n *graph.Node, relocate bool) (locator.Result, outcome) {
	var o outcome
	start := time.Now()

	path, digest, haveDigest := t.digest(n)
	var res locator.Result
	if haveDigest && t.reusable(n, path, digest) {
		res = locator.Result{IsValid: true, Confidence: locator.ConfidenceExact}
		o.cached = true
		t.metrics.ObserveCached()
	} else {
		res = t.loc.Validate(ctx, n)
		if haveDigest {
			t.remember(n, path, digest, res)
		}
	}
	t.metrics.ObserveValidation(string(res.Confidence), time.Since(start))

	before := n.ValidationWarning()
	o.relocated = t.apply(n, res, relocate)
	o.changed = o.relocated || n.ValidationWarning() != before

	fields := []zap.Field{
		zap.String("node", n.ID()),
		zap.String("path", n.FilePath()),
		zap.Int("line", n.LineNumber()),
		zap.String("confidence", string(res.Confidence)),
	}
	switch {
	case res.IsValid:
		t.log.Debug("node valid", append(fields, zap.Bool("cached", o.cached))...)
	case o.relocated:
		t.metrics.ObserveRelocation()
		t.log.Info("node relocated", append(fields, zap.String("reason", res.Reason))...)
	default:
		t.log.Warn("node invalid", append(fields, zap.String("reason", res.Reason))...)
	}
	return res, o
}

// apply records res on n and reports whether the node was moved.
func (t *Tracker) apply(n *graph.Node, res locator.Result, relocate bool) bool {
	if res.IsValid {
		n.ClearValidationWarning()
		return false
	}

	s := res.SuggestedLocation
	if relocate && res.Confidence == locator.ConfidenceHigh && s != nil && s.FilePath == n.FilePath() {
		if err := n.SetLineNumber(s.LineNumber); err == nil {
			n.ClearValidationWarning()
			return true
		}
	}

	n.SetValidationWarning(res.Reason)
	return false
}

// digest returns the on-disk path and content digest of the node's file when
// verdict caching applies: a cache is configured, the source is the working
// tree and the path is a regular file. Both cache tables are keyed by the
// on-disk path; entries for a file that no longer exists are dropped.
func (t *Tracker) digest(n *graph.Node) (string, string, bool) {
	if t.cache == nil {
		return "", "", false
	}
	src, ok := t.loc.Source().(*filesource.OS)
	if !ok {
		return "", "", false
	}

	path := src.Resolve(n.FilePath())
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := t.cache.Remove(path); err != nil {
			t.log.Warn("dropping cache entries", zap.String("path", path), zap.Error(err))
		}
		return "", "", false
	}
	if err != nil || !info.Mode().IsRegular() {
		return "", "", false
	}

	if d, err := t.cache.GetDigest(path, info); err == nil && d != "" {
		return path, d, true
	}
	f, err := os.Open(path)
	if err != nil {
		return "", "", false
	}
	defer f.Close()
	d, err := t.cache.GetOrCompute(path, info, f)
	if err != nil {
		return "", "", false
	}
	return path, d, true
}

func (t *Tracker) reusable(n *graph.Node, path, digest string) bool {
	v, err := t.cache.Verdict(n.ID())
	if err != nil {
		t.log.Debug("reading cached verdict", zap.String("node", n.ID()), zap.Error(err))
		return false
	}
	return v.Matches(path, n.LineNumber(), n.CodeHash(), digest) &&
		v.Confidence == string(locator.ConfidenceExact)
}

func (t *Tracker) remember(n *graph.Node, path, digest string, res locator.Result) {
	var err error
	if res.IsValid && res.Confidence == locator.ConfidenceExact {
		err = t.cache.PutVerdict(cache.Verdict{
			NodeID:     n.ID(),
			FilePath:   path,
			LineNumber: n.LineNumber(),
			CodeHash:   n.CodeHash(),
			Digest:     digest,
			Confidence: string(res.Confidence),
		})
	} else {
		err = t.cache.RemoveVerdict(n.ID())
	}
	if err != nil {
		t.log.Warn("updating cached verdict", zap.String("node", n.ID()), zap.Error(err))
	}
}
