package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"

	"github.com/spf13/cobra"

	"waypoint/internal/filesource"
	"waypoint/internal/locator"
	"waypoint/internal/navigator"
	"waypoint/internal/tracker"
)

var validateCmd = &cobra.Command{
	Use:   "validate [node]",
	Short: "Re-check bookmarks against the files and record what moved",
	Long: `Re-check every bookmark in the current graph (or a single one) against the
working tree, or against a git revision with --rev. Bookmarks that no longer
match get a validation warning; with --fix, code that moved within the same
file with high confidence is relocated.

Interrupting a long run stops after the current batch; progress made so far
is kept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

var gotoCmd = &cobra.Command{
	Use:   "goto [node]",
	Short: "Open a bookmark in the editor, following code that moved",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGoto,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the validation cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many file digests and verdicts are cached",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached digest and verdict",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var (
	validateFix  bool
	validateRev  string
	validateJSON bool
	gotoRev      string
	gotoPrint    bool
)

// errInvalidBookmarks makes validate exit non-zero when problems remain.
var errInvalidBookmarks = errors.New("some bookmarks could not be validated")

func registerCheckCommands() {
	validateCmd.Flags().BoolVar(&validateFix, "fix", false, "Relocate bookmarks whose code moved (high confidence only)")
	validateCmd.Flags().StringVar(&validateRev, "rev", "", "Validate against a git revision instead of the working tree (read-only)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the summary as JSON")

	gotoCmd.Flags().StringVar(&gotoRev, "rev", "", "Validate against a git revision before opening")
	gotoCmd.Flags().BoolVar(&gotoPrint, "print", false, "Print the resolved location instead of opening it")

	validateCmd.GroupID = groupCheck
	gotoCmd.GroupID = groupCheck
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(gotoCmd)

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.GroupID = groupCheck
	rootCmd.AddCommand(cacheCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.currentGraph(ctx)
	if err != nil {
		return err
	}
	fs, err := a.source(validateRev)
	if err != nil {
		return err
	}
	t := a.tracker(locator.New(fs))
	out := cmd.OutOrStdout()
	if src, ok := fs.(*filesource.Git); ok && !validateJSON {
		fmt.Fprintf(out, "Validating against %s (%s)\n", validateRev, shortID(src.Revision()))
	}

	if len(args) == 1 {
		n, err := resolveNode(g, args[0])
		if err != nil {
			return err
		}
		res, err := t.ValidateNode(ctx, g, n.ID())
		if err != nil {
			return err
		}
		if validateRev == "" {
			if err := a.save(ctx, g); err != nil {
				return err
			}
		}
		if validateJSON {
			return writeJSON(out, res)
		}
		printVerdict(out, n.Name(), res)
		if !res.IsValid {
			return errInvalidBookmarks
		}
		return nil
	}

	opts := a.validationOptions()
	if validateFix {
		opts.AutoRelocate = true
	}
	sum, runErr := t.ValidateGraph(ctx, g, opts)
	if runErr != nil && !errors.Is(runErr, ctx.Err()) {
		return runErr
	}

	// Warnings recorded against another revision would be wrong for the
	// working tree.
	if validateRev == "" && sum.Changed > 0 {
		if err := a.save(cmd.Context(), g); err != nil {
			return err
		}
	}

	if validateJSON {
		if err := writeJSON(out, sum); err != nil {
			return err
		}
	} else {
		printSummary(out, sum)
	}
	if runErr != nil {
		return fmt.Errorf("validation interrupted: %w", runErr)
	}
	if len(sum.Problems) > 0 {
		return errInvalidBookmarks
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printVerdict(w io.Writer, name string, res locator.Result) {
	fmt.Fprintf(w, "%s: %s", name, res.Confidence)
	if res.SuggestedLocation != nil {
		fmt.Fprintf(w, " -> %s:%d", res.SuggestedLocation.FilePath, res.SuggestedLocation.LineNumber)
	}
	if res.Reason != "" {
		fmt.Fprintf(w, " (%s)", res.Reason)
	}
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, sum tracker.Summary) {
	fmt.Fprintf(w, "Checked %d of %d bookmarks", sum.Checked, sum.Total)
	if sum.Skipped > 0 {
		fmt.Fprintf(w, " (%d excluded)", sum.Skipped)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  valid:     %d\n", sum.Valid)
	if sum.Relocated > 0 {
		fmt.Fprintf(w, "  relocated: %d\n", sum.Relocated)
	}
	fmt.Fprintf(w, "  invalid:   %d\n", sum.Invalid)

	levels := make([]locator.Confidence, 0, len(sum.ByConfidence))
	for c := range sum.ByConfidence {
		levels = append(levels, c)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Rank() > levels[j].Rank() })
	for _, c := range levels {
		fmt.Fprintf(w, "  %-10s %d\n", string(c)+":", sum.ByConfidence[c])
	}

	for _, p := range sum.Problems {
		fmt.Fprintf(w, "\n  %s (%s) %s:%d\n", p.Name, shortID(p.NodeID), p.Path, p.Line)
		fmt.Fprintf(w, "    %s", p.Result.Reason)
		if s := p.Result.SuggestedLocation; s != nil {
			fmt.Fprintf(w, "; maybe %s:%d (%s)", s.FilePath, s.LineNumber, p.Result.Confidence)
		}
		fmt.Fprintln(w)
	}
}

func runGoto(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	g, err := a.currentGraph(ctx)
	if err != nil {
		return err
	}

	n := g.CurrentNode()
	if len(args) == 1 {
		if n, err = resolveNode(g, args[0]); err != nil {
			return err
		}
	}
	if n == nil {
		return errors.New("no bookmark given and no current bookmark set")
	}

	fs, err := a.source(gotoRev)
	if err != nil {
		return err
	}

	var rev navigator.Revealer
	rec := &navigator.Recorder{}
	if gotoPrint {
		rev = rec
	} else {
		rev = &navigator.Command{
			Open:   a.cfg.Editor.Open,
			Browse: a.cfg.Editor.Browse,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		}
	}

	res := navigator.New(locator.New(fs), rev, a.log).Navigate(ctx, n)
	if !res.Success {
		return errors.New(res.Message)
	}

	if err := g.SetCurrentNode(n.ID()); err != nil {
		return err
	}
	if err := a.save(ctx, g); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if gotoPrint {
		c, _ := rec.Last()
		if c.Op == "reveal" {
			fmt.Fprintln(out, c.Path)
		} else {
			fmt.Fprintf(out, "%s:%d\n", c.Path, c.Position.Line+1)
		}
	}
	if res.Message != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s (%s)\n", res.Message, res.Confidence)
	}
	return nil
}

// openCache opens the app and fails when the cache is disabled.
func openCache() (*app, error) {
	a, err := openApp()
	if err != nil {
		return nil, err
	}
	if a.cache == nil {
		a.Close()
		return nil, errors.New("validation cache is disabled (set 'cache' in config.yaml)")
	}
	return a, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	a, err := openCache()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.cache.Stats()
	if err != nil {
		return fmt.Errorf("reading cache stats: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "File digests: %d\n", stats.TotalEntries)
	fmt.Fprintf(out, "Verdicts:     %d\n", stats.Verdicts)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	a, err := openCache()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cache.Clear(); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
	return nil
}
