package graph

import (
	"fmt"
	"slices"
)

// Validate checks the structural invariants and returns the first violation,
// in this order: root membership, roots without parents, non-roots with
// parents, dangling parent references, dangling child references,
// parent/child back references, cycles, dangling current node. Node fields
// are checked last.
func (g *Graph) Validate() error {
	if err := validateGraphFields(g.id, g.name); err != nil {
		return err
	}

	rootSet := make(map[string]bool, len(g.rootNodes))
	for _, id := range g.rootNodes {
		if !g.Has(id) {
			return fmt.Errorf("%w: root node %s does not exist", ErrInvalidGraph, id)
		}
		if rootSet[id] {
			return fmt.Errorf("%w: root node %s listed twice", ErrInvalidGraph, id)
		}
		rootSet[id] = true
	}

	for _, id := range g.rootNodes {
		if p := g.Node(id).parentID; p != "" {
			return fmt.Errorf("%w: root node %s has parent %s", ErrInvalidGraph, id, p)
		}
	}

	nodes := g.Nodes()
	for _, n := range nodes {
		if !rootSet[n.id] && n.parentID == "" {
			return fmt.Errorf("%w: node %s has no parent but is not a root", ErrInvalidGraph, n.id)
		}
	}

	for _, n := range nodes {
		if n.parentID != "" && !g.Has(n.parentID) {
			return fmt.Errorf("%w: node %s references missing parent %s", ErrInvalidGraph, n.id, n.parentID)
		}
	}

	for _, n := range nodes {
		for _, c := range n.childIDs {
			if !g.Has(c) {
				return fmt.Errorf("%w: node %s references missing child %s", ErrInvalidGraph, n.id, c)
			}
		}
	}

	for _, n := range nodes {
		for _, c := range n.childIDs {
			if child := g.Node(c); child.parentID != n.id {
				return fmt.Errorf("%w: child %s of %s has parent %q", ErrInvalidGraph, c, n.id, child.parentID)
			}
		}
		if n.parentID != "" && !g.Node(n.parentID).HasChild(n.id) {
			return fmt.Errorf("%w: parent %s does not list child %s", ErrInvalidGraph, n.parentID, n.id)
		}
	}

	if id, ok := g.findCycle(); ok {
		return fmt.Errorf("%w: cycle detected at node %s", ErrInvalidGraph, id)
	}

	if g.currentNodeID != "" && !g.Has(g.currentNodeID) {
		return fmt.Errorf("%w: current node %s does not exist", ErrInvalidGraph, g.currentNodeID)
	}

	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// findCycle runs a three-colour DFS over child links and walks every parent
// chain, returning a node that lies on a cycle.
func (g *Graph) findCycle() (string, bool) {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, g.nodes.Len())

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		color[id] = grey
		n := g.Node(id)
		if n != nil {
			for _, c := range n.childIDs {
				switch color[c] {
				case grey:
					return c, true
				case white:
					if at, ok := visit(c); ok {
						return at, true
					}
				}
			}
		}
		color[id] = black
		return "", false
	}

	for _, n := range g.Nodes() {
		if color[n.id] == white {
			if at, ok := visit(n.id); ok {
				return at, true
			}
		}
	}

	for _, n := range g.Nodes() {
		if at, ok := g.parentCycle(n.id); ok {
			return at, true
		}
	}
	return "", false
}

// parentCycle follows parent links from start and returns the first node
// visited twice.
func (g *Graph) parentCycle(start string) (string, bool) {
	seen := map[string]bool{}
	for cur := start; cur != ""; {
		if seen[cur] {
			return cur, true
		}
		seen[cur] = true
		n := g.Node(cur)
		if n == nil {
			return "", false
		}
		cur = n.parentID
	}
	return "", false
}

// RepairReport counts the fixes made by Repair.
type RepairReport struct {
	DroppedChildRefs  int
	ClearedParentRefs int
	ReconciledLinks   int
	BrokenCycles      int
	RootsAdded        int
	RootsRemoved      int
	ClearedCurrent    bool
}

// Changed reports whether Repair modified the graph.
func (r RepairReport) Changed() bool {
	return r != RepairReport{}
}

// Repair heals structural corruption and never fails. It can drop
// relationship information; call Validate first to detect corruption.
func (g *Graph) Repair() RepairReport {
	var r RepairReport
	nodes := g.Nodes()

	// Dangling, self and duplicate references.
	for _, n := range nodes {
		kept := make([]string, 0, len(n.childIDs))
		for _, c := range n.childIDs {
			if c == n.id || !g.Has(c) || slices.Contains(kept, c) {
				r.DroppedChildRefs++
				continue
			}
			kept = append(kept, c)
		}
		n.childIDs = kept

		if n.parentID != "" && (n.parentID == n.id || !g.Has(n.parentID)) {
			n.parentID = ""
			r.ClearedParentRefs++
		}
	}

	// Back references: a listed child with no parent is adopted, one that
	// points elsewhere is unlisted; a parent missing a child lists it.
	for _, p := range nodes {
		for _, c := range slices.Clone(p.childIDs) {
			child := g.Node(c)
			switch child.parentID {
			case p.id:
			case "":
				child.parentID = p.id
				r.ReconciledLinks++
			default:
				p.childIDs = slices.DeleteFunc(p.childIDs, func(id string) bool { return id == c })
				r.ReconciledLinks++
			}
		}
	}
	for _, n := range nodes {
		if n.parentID == "" {
			continue
		}
		if p := g.Node(n.parentID); !p.HasChild(n.id) {
			p.childIDs = append(p.childIDs, n.id)
			r.ReconciledLinks++
		}
	}

	// Cycles: detach the first node found repeating on a parent chain.
	for _, n := range nodes {
		for {
			at, ok := g.parentCycle(n.id)
			if !ok {
				break
			}
			node := g.Node(at)
			if p := g.Node(node.parentID); p != nil {
				p.childIDs = slices.DeleteFunc(p.childIDs, func(id string) bool { return id == at })
			}
			node.parentID = ""
			r.BrokenCycles++
		}
	}

	// Roots: keep the previous order for surviving roots, then append new
	// roots in node order.
	roots := make([]string, 0, len(g.rootNodes))
	for _, id := range g.rootNodes {
		n := g.Node(id)
		if n == nil || n.parentID != "" || slices.Contains(roots, id) {
			r.RootsRemoved++
			continue
		}
		roots = append(roots, id)
	}
	for _, n := range nodes {
		if n.parentID == "" && !slices.Contains(roots, n.id) {
			roots = append(roots, n.id)
			r.RootsAdded++
		}
	}
	g.rootNodes = roots

	if g.currentNodeID != "" && !g.Has(g.currentNodeID) {
		g.currentNodeID = ""
		r.ClearedCurrent = true
	}

	if r.Changed() {
		g.touch()
	}
	return r
}
