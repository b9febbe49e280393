// Package graph provides the in-memory code location graph: nodes anchored
// to file lines, arranged as a forest of parent/child trees.
//
// Nodes are addressed by id and owned by exactly one Graph. Parent and child
// links are plain id references kept consistent by the Graph, which makes
// validation, repair and serialization straightforward.
//
// A Graph is not safe for concurrent mutation; callers hold a single owner
// and swap whole graphs rather than sharing one.
package graph

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Graph owns a set of nodes and the relationships between them.
type Graph struct {
	id            string
	name          string
	createdAt     time.Time
	updatedAt     time.Time
	nodes         *orderedmap.OrderedMap[string, *Node]
	rootNodes     []string
	currentNodeID string
}

func validateGraphFields(id, name string) error {
	if id == "" || !idPattern.MatchString(id) {
		return fmt.Errorf("%w: graph id %q may only contain letters, digits, '_' and '-'", ErrInvalidGraph, id)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: graph name must not be empty", ErrInvalidGraph)
	}
	if utf8.RuneCountInString(name) > MaxGraphNameLength {
		return fmt.Errorf("%w: graph name exceeds %d characters", ErrInvalidGraph, MaxGraphNameLength)
	}
	return nil
}

// New creates an empty graph.
func New(id, name string) (*Graph, error) {
	if err := validateGraphFields(id, name); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Graph{
		id:        id,
		name:      name,
		createdAt: now,
		updatedAt: now,
		nodes:     orderedmap.New[string, *Node](),
		rootNodes: []string{},
	}, nil
}

// Create creates an empty graph with a generated id.
func Create(name string) (*Graph, error) {
	return New(NewID(), name)
}

func (g *Graph) ID() string           { return g.id }
func (g *Graph) Name() string         { return g.name }
func (g *Graph) CreatedAt() time.Time { return g.createdAt }
func (g *Graph) UpdatedAt() time.Time { return g.updatedAt }
func (g *Graph) Len() int             { return g.nodes.Len() }

// CurrentNodeID returns the active node id, or "" when none is set.
func (g *Graph) CurrentNodeID() string { return g.currentNodeID }

// RootIDs returns a copy of the ordered root node ids.
func (g *Graph) RootIDs() []string {
	return slices.Clone(g.rootNodes)
}

func (g *Graph) touch() {
	g.updatedAt = time.Now().UTC()
}

// Rename changes the graph name.
func (g *Graph) Rename(name string) error {
	if err := validateGraphFields(g.id, name); err != nil {
		return err
	}
	g.name = name
	g.touch()
	return nil
}

// Touch marks the graph as modified. Callers that change nodes through the
// Node update methods use it to bump the graph timestamp.
func (g *Graph) Touch() {
	g.touch()
}

func (g *Graph) get(id string) (*Node, error) {
	n, ok := g.nodes.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

func (g *Graph) isRoot(id string) bool {
	return slices.Contains(g.rootNodes, id)
}

func (g *Graph) addRoot(id string) {
	if !g.isRoot(id) {
		g.rootNodes = append(g.rootNodes, id)
	}
}

func (g *Graph) removeRoot(id string) {
	g.rootNodes = slices.DeleteFunc(g.rootNodes, func(r string) bool { return r == id })
}

// AddNode adds a node to the graph. A node without a parent becomes a root.
func (g *Graph) AddNode(n *Node) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidNode)
	}
	if err := n.Validate(); err != nil {
		return err
	}
	if _, exists := g.nodes.Get(n.id); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.id)
	}

	g.nodes.Set(n.id, n)
	if n.parentID == "" {
		g.addRoot(n.id)
	}
	g.touch()
	return nil
}

// SetParentChild makes parentID the parent of childID. The edge is checked
// against the ancestor chain first; a rejected call leaves the graph
// unchanged. A child that already has another parent is moved.
func (g *Graph) SetParentChild(parentID, childID string) error {
	if parentID == childID {
		return fmt.Errorf("%w: node %s cannot be its own parent", ErrCycle, childID)
	}
	parent, err := g.get(parentID)
	if err != nil {
		return fmt.Errorf("parent: %w", err)
	}
	child, err := g.get(childID)
	if err != nil {
		return fmt.Errorf("child: %w", err)
	}

	// Simulate the edge: childID must not appear among the proposed parent's
	// ancestors (or be the parent itself).
	seen := map[string]bool{}
	for cur := parentID; cur != ""; {
		if cur == childID {
			return fmt.Errorf("%w: %s is an ancestor of %s", ErrCycle, childID, parentID)
		}
		if seen[cur] {
			break
		}
		seen[cur] = true
		n, ok := g.nodes.Get(cur)
		if !ok {
			break
		}
		cur = n.parentID
	}

	if child.parentID == parentID && parent.HasChild(childID) {
		return nil
	}

	if child.parentID != "" && child.parentID != parentID {
		if old, ok := g.nodes.Get(child.parentID); ok {
			old.removeChild(childID)
		}
	}
	if !parent.HasChild(childID) {
		if err := parent.addChild(childID); err != nil {
			return err
		}
	}
	if err := child.setParent(parentID); err != nil {
		return err
	}
	g.removeRoot(childID)
	g.touch()
	return nil
}

// RemoveParentChild unlinks a parent/child pair; the child becomes a root.
func (g *Graph) RemoveParentChild(parentID, childID string) error {
	parent, err := g.get(parentID)
	if err != nil {
		return fmt.Errorf("parent: %w", err)
	}
	child, err := g.get(childID)
	if err != nil {
		return fmt.Errorf("child: %w", err)
	}
	if child.parentID != parentID || !parent.HasChild(childID) {
		return fmt.Errorf("%w: %s is not a child of %s", ErrNotLinked, childID, parentID)
	}

	parent.removeChild(childID)
	if err := child.setParent(""); err != nil {
		return err
	}
	g.addRoot(childID)
	g.touch()
	return nil
}

// RemoveNode deletes a node. Its children move, in order, to the removed
// node's parent at the removed node's position, or become roots in its place
// when it had no parent.
func (g *Graph) RemoveNode(id string) error {
	n, err := g.get(id)
	if err != nil {
		return err
	}

	children := slices.Clone(n.childIDs)
	parent, hasParent := g.nodes.Get(n.parentID)

	for _, cid := range children {
		c, ok := g.nodes.Get(cid)
		if !ok {
			continue
		}
		if hasParent {
			_ = c.setParent(parent.id)
		} else {
			_ = c.setParent("")
		}
	}

	if hasParent {
		parent.replaceChild(id, children)
	} else {
		var promoted []string
		for _, cid := range children {
			if _, ok := g.nodes.Get(cid); ok && !g.isRoot(cid) {
				promoted = append(promoted, cid)
			}
		}
		if i := slices.Index(g.rootNodes, id); i >= 0 {
			g.rootNodes = slices.Replace(g.rootNodes, i, i+1, promoted...)
		} else {
			g.rootNodes = append(g.rootNodes, promoted...)
		}
	}

	// Sweep stray references left by earlier corruption.
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		other := pair.Value
		if other.id == id {
			continue
		}
		other.removeChild(id)
		if other.parentID == id {
			_ = other.setParent("")
			g.addRoot(other.id)
		}
	}

	g.nodes.Delete(id)
	g.removeRoot(id)
	if g.currentNodeID == id {
		g.currentNodeID = ""
	}
	g.touch()
	return nil
}

// SetCurrentNode marks id as the active node.
func (g *Graph) SetCurrentNode(id string) error {
	if _, err := g.get(id); err != nil {
		return err
	}
	g.currentNodeID = id
	g.touch()
	return nil
}

// ClearCurrentNode unsets the active node.
func (g *Graph) ClearCurrentNode() {
	if g.currentNodeID != "" {
		g.currentNodeID = ""
		g.touch()
	}
}

// CurrentNode returns the active node, or nil.
func (g *Graph) CurrentNode() *Node {
	n, _ := g.nodes.Get(g.currentNodeID)
	return n
}

// Clear removes every node.
func (g *Graph) Clear() {
	g.nodes = orderedmap.New[string, *Node]()
	g.rootNodes = []string{}
	g.currentNodeID = ""
	g.touch()
}
