// Package main provides the waypoint CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"waypoint/internal/cache"
	"waypoint/internal/config"
	"waypoint/internal/filesource"
	"waypoint/internal/graph"
	"waypoint/internal/locator"
	"waypoint/internal/logging"
	"waypoint/internal/metrics"
	"waypoint/internal/store"
	"waypoint/internal/tracker"
)

// Version is the current waypoint CLI version
var Version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "waypoint",
	Short: "Waypoint - code location bookmarks that survive edits",
	Long: `Waypoint keeps trees of bookmarks into source files. Each bookmark remembers
the line it points at and the code that was there, so it can be re-validated
and relocated after the file is edited.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command groups for organized help output
const (
	groupStart  = "start"
	groupNodes  = "nodes"
	groupCheck  = "check"
	groupGraphs = "graphs"
)

var (
	rootDir   string
	logLevel  string
	logFormat string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize waypoint in the current workspace",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Workspace root (default: enclosing git worktree or current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupStart, Title: "Getting Started:"},
		&cobra.Group{ID: groupNodes, Title: "Bookmarks:"},
		&cobra.Group{ID: groupCheck, Title: "Validation & Navigation:"},
		&cobra.Group{ID: groupGraphs, Title: "Graphs:"},
	)

	initCmd.GroupID = groupStart
	rootCmd.AddCommand(initCmd)

	registerNodeCommands()
	registerCheckCommands()
	registerGraphCommands()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// shortID safely truncates an ID string to 8 characters.
func shortID(s string) string {
	if len(s) >= 8 {
		return s[:8]
	}
	return s
}

// workspaceRoot returns --root or the enclosing git worktree.
func workspaceRoot() (string, error) {
	if rootDir != "" {
		return filepath.Abs(rootDir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return filesource.FindRoot(cwd), nil
}

func loadConfig() (*config.Config, error) {
	root, err := workspaceRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

// app bundles what a command needs: configuration, logger and the opened
// databases.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *store.Store
	cache   *cache.FileCache
	metrics *metrics.Collector
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(cfg.Root, config.Dir)); err != nil {
		return nil, fmt.Errorf("no waypoint workspace at %s (run 'waypoint init')", cfg.Root)
	}
	return newApp(cfg)
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	st, err := store.Open(cfg.Path(cfg.Database), log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, store: st}

	if cfg.Cache != "" {
		c, err := cache.Open(cfg.Path(cfg.Cache), log)
		if err != nil {
			// Validation works without the cache, only slower.
			log.Warn("cache unavailable", zap.Error(err))
		} else {
			a.cache = c
		}
	}
	if cfg.Metrics.File != "" {
		a.metrics = metrics.NewCollector()
	}
	return a, nil
}

func (a *app) Close() {
	if a.metrics != nil {
		if err := a.metrics.Write(a.cfg.Path(a.cfg.Metrics.File)); err != nil {
			a.log.Warn("writing metrics", zap.Error(err))
		}
	}
	if a.cache != nil {
		a.cache.Close()
	}
	a.store.Close()
	a.log.Sync()
}

// currentGraph loads the current graph. Stored corruption is repaired on
// load and reported in the log.
func (a *app) currentGraph(ctx context.Context) (*graph.Graph, error) {
	id, err := a.store.Current(ctx)
	if errors.Is(err, store.ErrNoCurrent) {
		return nil, errors.New("no current graph (create one with 'waypoint graph new <name>')")
	}
	if err != nil {
		return nil, err
	}
	g, _, err := a.store.LoadGraph(ctx, id)
	return g, err
}

func (a *app) save(ctx context.Context, g *graph.Graph) error {
	_, err := a.store.SaveGraph(ctx, g)
	return err
}

// source returns the working tree, or the given git revision.
func (a *app) source(rev string) (filesource.FileSystem, error) {
	if rev == "" {
		return filesource.NewOS(a.cfg.Root), nil
	}
	return filesource.OpenGit(a.cfg.Root, rev)
}

func (a *app) tracker(loc *locator.Locator) *tracker.Tracker {
	return tracker.New(loc,
		tracker.WithCache(a.cache),
		tracker.WithMetrics(a.metrics),
		tracker.WithLogger(a.log))
}

func (a *app) validationOptions() tracker.Options {
	return tracker.Options{
		BatchSize:    a.cfg.Validation.BatchSize,
		Exclude:      a.cfg.Validation.Exclude,
		AutoRelocate: a.cfg.Validation.AutoRelocate,
	}
}

// relPath stores paths inside the workspace relative to its root.
func (a *app) relPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(a.cfg.Root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return filepath.ToSlash(rel)
}

// resolveNode finds a node by id, unique id prefix or unique name.
func resolveNode(g *graph.Graph, ref string) (*graph.Node, error) {
	if n := g.Node(ref); n != nil {
		return n, nil
	}

	var byPrefix, byName []*graph.Node
	for _, n := range g.Nodes() {
		if strings.HasPrefix(n.ID(), ref) {
			byPrefix = append(byPrefix, n)
		}
		if strings.EqualFold(n.Name(), ref) {
			byName = append(byName, n)
		}
	}
	switch {
	case len(byPrefix) == 1:
		return byPrefix[0], nil
	case len(byPrefix) > 1:
		return nil, fmt.Errorf("ambiguous node id prefix %q (%d matches)", ref, len(byPrefix))
	case len(byName) == 1:
		return byName[0], nil
	case len(byName) > 1:
		return nil, fmt.Errorf("ambiguous node name %q (%d matches)", ref, len(byName))
	}
	return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, ref)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stateDir := filepath.Join(cfg.Root, config.Dir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("creating %s directory: %w", config.Dir, err)
	}

	if _, err := os.Stat(filepath.Join(stateDir, config.FileName)); errors.Is(err, os.ErrNotExist) {
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
	}

	// Keep local state out of version control
	ignore := filepath.Join(stateDir, ".gitignore")
	if _, err := os.Stat(ignore); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(ignore, []byte("*.db\n*.db-*\n.env\n"), 0644); err != nil {
			return fmt.Errorf("writing .gitignore: %w", err)
		}
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized waypoint in %s\n", stateDir)
	return nil
}
