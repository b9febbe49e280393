package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"waypoint/internal/filesource"
	"waypoint/internal/fingerprint"
	"waypoint/internal/graph"
	"waypoint/internal/locator"
)

var addCmd = &cobra.Command{
	Use:   "add <file>:<line>",
	Short: "Bookmark a file line, capturing the code that is there",
	Long: `Bookmark a file line. The code at the line (or --lines lines starting there)
is captured as the node's snippet so the bookmark can be relocated later.
A directory can be bookmarked by passing its path without a line.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var editCmd = &cobra.Command{
	Use:   "edit <node>",
	Short: "Change a bookmark's name, description or location",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdit,
}

var linkCmd = &cobra.Command{
	Use:   "link <parent> <child>",
	Short: "Make one bookmark the child of another",
	Args:  cobra.ExactArgs(2),
	RunE:  runLink,
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <parent> <child>",
	Short: "Detach a child bookmark from its parent",
	Args:  cobra.ExactArgs(2),
	RunE:  runUnlink,
}

var removeCmd = &cobra.Command{
	Use:   "rm <node>",
	Short: "Remove a bookmark; its children move up to its parent",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var currentCmd = &cobra.Command{
	Use:   "current [node]",
	Short: "Show or set the current bookmark",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCurrent,
}

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the bookmark forest",
	Args:  cobra.NoArgs,
	RunE:  runTree,
}

var findCmd = &cobra.Command{
	Use:   "find [query]",
	Short: "Find bookmarks by name, file path glob or location",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFind,
}

var showCmd = &cobra.Command{
	Use:   "show <node>",
	Short: "Show a bookmark and how its code compares to the file today",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var (
	addName       string
	addDesc       string
	addParent     string
	addLines      int
	addNoSnippet  bool
	editName      string
	editDesc      string
	editAt        string
	editRecapture bool
	findPath      string
	findLine      int
	clearCurrent  bool
)

func registerNodeCommands() {
	addCmd.Flags().StringVarP(&addName, "name", "n", "", "Bookmark name (default: <file>:<line>)")
	addCmd.Flags().StringVarP(&addDesc, "desc", "d", "", "Description")
	addCmd.Flags().StringVarP(&addParent, "parent", "p", "", "Parent bookmark")
	addCmd.Flags().IntVar(&addLines, "lines", 1, "Number of lines to capture as the snippet")
	addCmd.Flags().BoolVar(&addNoSnippet, "no-snippet", false, "Track the line number only")

	editCmd.Flags().StringVarP(&editName, "name", "n", "", "New name")
	editCmd.Flags().StringVarP(&editDesc, "desc", "d", "", "New description")
	editCmd.Flags().StringVar(&editAt, "at", "", "New location as <file>:<line>")
	editCmd.Flags().BoolVar(&editRecapture, "recapture", false, "Capture the snippet again from the (new) location")

	findCmd.Flags().StringVar(&findPath, "path", "", "File path glob (doublestar syntax)")
	findCmd.Flags().IntVar(&findLine, "line", 0, "Line number (with --path naming a single file)")

	currentCmd.Flags().BoolVar(&clearCurrent, "clear", false, "Clear the current bookmark")

	for _, c := range []*cobra.Command{addCmd, editCmd, linkCmd, unlinkCmd, removeCmd, currentCmd, treeCmd, findCmd, showCmd} {
		c.GroupID = groupNodes
		rootCmd.AddCommand(c)
	}
}

// parseTarget splits "<file>:<line>". A bare path means the whole file or
// directory and yields line 1.
func parseTarget(arg string) (string, int, error) {
	i := strings.LastIndex(arg, ":")
	if i <= 0 {
		return arg, 1, nil
	}
	line, err := strconv.Atoi(arg[i+1:])
	if err != nil {
		// Not a line suffix, e.g. a Windows drive letter.
		return arg, 1, nil
	}
	if line < 1 {
		return "", 0, fmt.Errorf("invalid line %d in %q", line, arg)
	}
	return arg[:i], line, nil
}

// captureSnippet reads count lines starting at line.
func captureSnippet(cmd *cobra.Command, fs filesource.FileSystem, path string, line, count int) (string, error) {
	info, err := fs.Stat(cmd.Context(), path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if info.IsDir {
		return "", nil
	}
	doc, err := fs.Open(cmd.Context(), path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if line > doc.LineCount() {
		return "", fmt.Errorf("%s has %d lines, line %d requested", path, doc.LineCount(), line)
	}

	lines := doc.Lines()[line-1 : min(line-1+max(count, 1), doc.LineCount())]
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

func runAdd(cmd *cobra.Command, args []string) error {
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

	file, line, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	path := a.relPath(file)

	fs, _ := a.source("")
	var opts []graph.NodeOption
	if !addNoSnippet {
		snippet, err := captureSnippet(cmd, fs, path, line, addLines)
		if err != nil {
			return err
		}
		opts = append(opts, graph.WithSnippet(snippet))
	}
	if addDesc != "" {
		opts = append(opts, graph.WithDescription(addDesc))
	}

	name := addName
	if name == "" {
		name = fmt.Sprintf("%s:%d", path, line)
	}
	n, err := graph.NewNode(graph.NewID(), name, path, line, opts...)
	if err != nil {
		return err
	}
	if err := g.AddNode(n); err != nil {
		return err
	}
	if addParent != "" {
		p, err := resolveNode(g, addParent)
		if err != nil {
			return err
		}
		if err := g.SetParentChild(p.ID(), n.ID()); err != nil {
			return err
		}
	}
	if err := g.SetCurrentNode(n.ID()); err != nil {
		return err
	}

	if err := a.save(ctx, g); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s) at %s:%d\n", n.Name(), shortID(n.ID()), n.FilePath(), n.LineNumber())
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if !flags.Changed("name") && !flags.Changed("desc") && !flags.Changed("at") && !editRecapture {
		return errors.New("nothing to change (use --name, --desc, --at or --recapture)")
	}

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
	n, err := resolveNode(g, args[0])
	if err != nil {
		return err
	}

	fs, _ := a.source("")
	loc := locator.New(fs)
	res, err := a.tracker(loc).EditNode(ctx, g, n.ID(), func(n *graph.Node) error {
		if flags.Changed("name") {
			if err := n.SetName(editName); err != nil {
				return err
			}
		}
		if flags.Changed("desc") {
			if err := n.SetDescription(editDesc); err != nil {
				return err
			}
		}
		if editAt != "" {
			file, line, err := parseTarget(editAt)
			if err != nil {
				return err
			}
			if err := n.SetLocation(a.relPath(file), line); err != nil {
				return err
			}
		}
		if editRecapture {
			snippet, err := captureSnippet(cmd, fs, n.FilePath(), n.LineNumber(), max(strings.Count(n.CodeSnippet(), "\n")+1, 1))
			if err != nil {
				return err
			}
			return n.SetCodeSnippet(snippet)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := a.save(ctx, g); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Updated %s (%s)\n", n.Name(), shortID(n.ID()))
	if !res.IsValid {
		fmt.Fprintf(out, "  warning: %s\n", res.Reason)
	}
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	return editRelationship(cmd, args, func(g *graph.Graph, parent, child *graph.Node) error {
		if err := g.SetParentChild(parent.ID(), child.ID()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Linked %s under %s\n", child.Name(), parent.Name())
		return nil
	})
}

func runUnlink(cmd *cobra.Command, args []string) error {
	return editRelationship(cmd, args, func(g *graph.Graph, parent, child *graph.Node) error {
		if err := g.RemoveParentChild(parent.ID(), child.ID()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unlinked %s from %s\n", child.Name(), parent.Name())
		return nil
	})
}

func editRelationship(cmd *cobra.Command, args []string, fn func(g *graph.Graph, parent, child *graph.Node) error) error {
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
	parent, err := resolveNode(g, args[0])
	if err != nil {
		return err
	}
	child, err := resolveNode(g, args[1])
	if err != nil {
		return err
	}
	if err := fn(g, parent, child); err != nil {
		return err
	}
	return a.save(ctx, g)
}

func runRemove(cmd *cobra.Command, args []string) error {
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
	n, err := resolveNode(g, args[0])
	if err != nil {
		return err
	}
	children := len(n.ChildIDs())
	if err := g.RemoveNode(n.ID()); err != nil {
		return err
	}
	if a.cache != nil {
		if err := a.cache.RemoveVerdict(n.ID()); err != nil {
			a.log.Warn("dropping cached verdict", zap.String("node", n.ID()), zap.Error(err))
		}
	}
	if err := a.save(ctx, g); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%s)", n.Name(), shortID(n.ID()))
	if children > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d children moved up", children)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func runCurrent(cmd *cobra.Command, args []string) error {
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
	out := cmd.OutOrStdout()

	switch {
	case clearCurrent:
		g.ClearCurrentNode()
	case len(args) == 1:
		n, err := resolveNode(g, args[0])
		if err != nil {
			return err
		}
		if err := g.SetCurrentNode(n.ID()); err != nil {
			return err
		}
	default:
		n := g.CurrentNode()
		if n == nil {
			fmt.Fprintln(out, "No current bookmark")
			return nil
		}
		fmt.Fprintf(out, "%s (%s) %s:%d\n", n.Name(), shortID(n.ID()), n.FilePath(), n.LineNumber())
		return nil
	}

	if err := a.save(ctx, g); err != nil {
		return err
	}
	if n := g.CurrentNode(); n != nil {
		fmt.Fprintf(out, "Current bookmark: %s (%s)\n", n.Name(), shortID(n.ID()))
	} else {
		fmt.Fprintln(out, "Current bookmark cleared")
	}
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.currentGraph(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%d bookmarks)\n", g.Name(), g.Len())
	roots := g.RootNodes()
	for i, n := range roots {
		printTree(out, g, n, "", i == len(roots)-1)
	}
	return nil
}

func printTree(w io.Writer, g *graph.Graph, n *graph.Node, prefix string, last bool) {
	branch, indent := "├── ", "│   "
	if last {
		branch, indent = "└── ", "    "
	}

	marker := ""
	if n.ID() == g.CurrentNodeID() {
		marker = " *"
	}
	fmt.Fprintf(w, "%s%s%s%s  %s:%d", prefix, branch, n.Name(), marker, n.FilePath(), n.LineNumber())
	if warn := n.ValidationWarning(); warn != "" {
		fmt.Fprintf(w, "  ! %s", warn)
	}
	fmt.Fprintln(w)

	children, _ := g.Children(n.ID())
	for i, c := range children {
		printTree(w, g, c, prefix+indent, i == len(children)-1)
	}
}

func runFind(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && findPath == "" {
		return errors.New("give a name query or --path")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.currentGraph(cmd.Context())
	if err != nil {
		return err
	}

	var found []*graph.Node
	switch {
	case findPath != "" && findLine > 0:
		found = g.FindByLocation(findPath, findLine)
	case findPath != "":
		found, err = g.FindByPathPattern(findPath)
		if err != nil {
			return err
		}
	default:
		found = g.FindByName(args[0])
	}
	if len(args) == 1 && findPath != "" {
		q := strings.ToLower(args[0])
		found = filterNodes(found, func(n *graph.Node) bool {
			return strings.Contains(strings.ToLower(n.Name()), q)
		})
	}

	out := cmd.OutOrStdout()
	if len(found) == 0 {
		fmt.Fprintln(out, "No matching bookmarks")
		return nil
	}
	for _, n := range found {
		fmt.Fprintf(out, "%s  %s  %s:%d\n", shortID(n.ID()), n.Name(), n.FilePath(), n.LineNumber())
	}
	return nil
}

func filterNodes(nodes []*graph.Node, keep func(*graph.Node) bool) []*graph.Node {
	var out []*graph.Node
	for _, n := range nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func runShow(cmd *cobra.Command, args []string) error {
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
	n, err := resolveNode(g, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:     %s\n", n.Name())
	fmt.Fprintf(out, "ID:       %s\n", n.ID())
	fmt.Fprintf(out, "Location: %s:%d\n", n.FilePath(), n.LineNumber())
	if n.Description() != "" {
		fmt.Fprintf(out, "About:    %s\n", n.Description())
	}
	if p, _ := g.Parent(n.ID()); p != nil {
		fmt.Fprintf(out, "Parent:   %s (%s)\n", p.Name(), shortID(p.ID()))
	}
	if len(n.ChildIDs()) > 0 {
		fmt.Fprintf(out, "Children: %d\n", len(n.ChildIDs()))
	}
	if n.CodeSnippet() == "" {
		return nil
	}

	fs, _ := a.source("")
	res := locator.New(fs).Validate(ctx, n)
	fmt.Fprintf(out, "Status:   %s", res.Confidence)
	if res.Reason != "" {
		fmt.Fprintf(out, " (%s)", res.Reason)
	}
	fmt.Fprintln(out)

	at := locator.Location{FilePath: n.FilePath(), LineNumber: n.LineNumber()}
	if res.SuggestedLocation != nil {
		at = *res.SuggestedLocation
	}
	live, err := captureSnippet(cmd, fs, at.FilePath, at.LineNumber, strings.Count(n.CodeSnippet(), "\n")+1)
	if err != nil {
		fmt.Fprintf(out, "\n%s\n", n.CodeSnippet())
		return nil
	}

	fmt.Fprintln(out)
	if fingerprint.Equal(live, n.CodeSnippet()) {
		fmt.Fprintln(out, indentLines(live, "  "))
		return nil
	}
	fmt.Fprintf(out, "--- bookmarked\n+++ %s:%d\n", at.FilePath, at.LineNumber)
	writeSnippetDiff(out, n.CodeSnippet(), live)
	return nil
}

func indentLines(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}

// writeSnippetDiff prints a line diff of the captured snippet against the
// code now in the file.
func writeSnippetDiff(w io.Writer, before, after string) {
	dmp := diffmatchpatch.New()

	// Line mode keeps the output readable
	chars1, chars2, lineArray := dmp.DiffLinesToChars(before+"\n", after+"\n")
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			fmt.Fprintf(w, "%s %s\n", prefix, line)
		}
	}
}
