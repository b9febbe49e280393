package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"waypoint/internal/graph"
	"waypoint/internal/store"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Manage bookmark graphs",
}

var graphNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a graph and make it current",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphNew,
}

var graphListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List graphs",
	Args:    cobra.NoArgs,
	RunE:    runGraphList,
}

var graphUseCmd = &cobra.Command{
	Use:   "use <name|id>",
	Short: "Switch the current graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphUse,
}

var graphRenameCmd = &cobra.Command{
	Use:   "rename <name|id> <new-name>",
	Short: "Rename a graph",
	Args:  cobra.ExactArgs(2),
	RunE:  runGraphRename,
}

var graphRemoveCmd = &cobra.Command{
	Use:   "rm <name|id>",
	Short: "Delete a graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphRemove,
}

var graphCheckCmd = &cobra.Command{
	Use:   "check [name|id]",
	Short: "Check a stored graph for structural corruption without repairing it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGraphCheck,
}

var graphRepairCmd = &cobra.Command{
	Use:   "repair [name|id]",
	Short: "Repair structural corruption in a stored graph",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGraphRepair,
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the current graph to a JSON archive ('-' for stdout)",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a graph archive (plain or zstd JSON) into the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var (
	exportZstd bool
	importUse  bool
)

func registerGraphCommands() {
	exportCmd.Flags().BoolVar(&exportZstd, "zstd", false, "Compress the archive with zstd")
	importCmd.Flags().BoolVar(&importUse, "use", false, "Make the imported graph current")

	graphCmd.AddCommand(graphNewCmd)
	graphCmd.AddCommand(graphListCmd)
	graphCmd.AddCommand(graphUseCmd)
	graphCmd.AddCommand(graphRenameCmd)
	graphCmd.AddCommand(graphRemoveCmd)
	graphCmd.AddCommand(graphCheckCmd)
	graphCmd.AddCommand(graphRepairCmd)

	graphCmd.GroupID = groupGraphs
	exportCmd.GroupID = groupGraphs
	importCmd.GroupID = groupGraphs
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func runGraphNew(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	g, err := graph.Create(args[0])
	if err != nil {
		return err
	}
	if err := a.save(ctx, g); err != nil {
		return err
	}
	if err := a.store.SetCurrent(ctx, g.ID()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created graph %s (%s)\n", g.Name(), shortID(g.ID()))
	return nil
}

func runGraphList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	graphs, err := a.store.ListGraphs(cmd.Context())
	if err != nil {
		return err
	}
	if len(graphs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No graphs yet. Create one with 'waypoint graph new <name>'.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tID\tNODES\tUPDATED")
	for _, g := range graphs {
		marker := ""
		if g.Current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", marker, g.Name, shortID(g.ID), g.Nodes, g.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runGraphUse(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	id, err := a.store.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	if err := a.store.SetCurrent(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Switched to graph %s\n", args[0])
	return nil
}

func runGraphRename(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	id, err := a.store.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	g, _, err := a.store.LoadGraph(ctx, id)
	if err != nil {
		return err
	}
	if err := g.Rename(args[1]); err != nil {
		return err
	}
	if err := a.save(ctx, g); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed graph %s to %s\n", shortID(id), g.Name())
	return nil
}

func runGraphRemove(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	id, err := a.store.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	if err := a.store.DeleteGraph(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted graph %s (%s)\n", args[0], shortID(id))
	return nil
}

// graphArg resolves an optional graph argument, defaulting to the current
// graph.
func graphArg(cmd *cobra.Command, a *app, args []string) (string, error) {
	if len(args) == 1 {
		return a.store.Resolve(cmd.Context(), args[0])
	}
	return a.store.Current(cmd.Context())
}

func runGraphCheck(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := graphArg(cmd, a, args)
	if err != nil {
		return err
	}
	if err := a.store.Check(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Graph %s is consistent\n", shortID(id))
	return nil
}

func runGraphRepair(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	id, err := graphArg(cmd, a, args)
	if err != nil {
		return err
	}
	g, report, err := a.store.LoadGraph(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !report.Changed() {
		fmt.Fprintf(out, "Graph %s needed no repairs\n", g.Name())
		return nil
	}
	if err := a.save(ctx, g); err != nil {
		return err
	}
	printRepairReport(out, g.Name(), report)
	return nil
}

func printRepairReport(w io.Writer, name string, r graph.RepairReport) {
	fmt.Fprintf(w, "Repaired graph %s:\n", name)
	for _, line := range []struct {
		label string
		n     int
	}{
		{"dangling or duplicate child references dropped", r.DroppedChildRefs},
		{"dangling parent references cleared", r.ClearedParentRefs},
		{"parent/child links reconciled", r.ReconciledLinks},
		{"cycles broken", r.BrokenCycles},
		{"roots added", r.RootsAdded},
		{"roots removed", r.RootsRemoved},
	} {
		if line.n > 0 {
			fmt.Fprintf(w, "  %d %s\n", line.n, line.label)
		}
	}
	if r.ClearedCurrent {
		fmt.Fprintln(w, "  current node cleared")
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.currentGraph(cmd.Context())
	if err != nil {
		return err
	}

	if args[0] == "-" {
		return store.WriteArchive(cmd.OutOrStdout(), g, exportZstd)
	}

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("creating %s: %w", args[0], err)
	}
	if err := store.WriteArchive(f, g, exportZstd); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s (%d nodes) to %s\n", g.Name(), g.Len(), args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	var r io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()
		r = f
	}

	g, report, err := store.ReadArchive(r)
	if err != nil {
		return fmt.Errorf("importing %s: %w", args[0], err)
	}
	if err := a.save(ctx, g); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if report.Changed() {
		printRepairReport(out, g.Name(), report)
	}
	if importUse {
		if err := a.store.SetCurrent(ctx, g.ID()); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Imported graph %s (%s, %d nodes)\n", g.Name(), shortID(g.ID()), g.Len())
	return nil
}
