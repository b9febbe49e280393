package graph

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	n, _ := g.nodes.Get(id)
	return n
}

// Has reports whether id is in the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes.Get(id)
	return ok
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, g.nodes.Len())
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Children returns the node's children in order.
func (g *Graph) Children(id string) ([]*Node, error) {
	n, err := g.get(id)
	if err != nil {
		return nil, err
	}
	return g.resolve(n.childIDs), nil
}

// Parent returns the node's parent, or nil for a root.
func (g *Graph) Parent(id string) (*Node, error) {
	n, err := g.get(id)
	if err != nil {
		return nil, err
	}
	if n.parentID == "" {
		return nil, nil
	}
	return g.Node(n.parentID), nil
}

// RootNodes returns the root nodes in order.
func (g *Graph) RootNodes() []*Node {
	return g.resolve(g.rootNodes)
}

func (g *Graph) resolve(ids []string) []*Node {
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := g.nodes.Get(id); ok {
			out = append(out, n)
		}
	}
	return out
}

// Descendants returns every node below id, breadth first.
func (g *Graph) Descendants(id string) ([]*Node, error) {
	n, err := g.get(id)
	if err != nil {
		return nil, err
	}

	var out []*Node
	visited := map[string]bool{id: true}
	queue := append([]string(nil), n.childIDs...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		c, ok := g.nodes.Get(cur)
		if !ok {
			continue
		}
		out = append(out, c)
		queue = append(queue, c.childIDs...)
	}
	return out, nil
}

// Ancestors returns the chain of parents above id, nearest first.
func (g *Graph) Ancestors(id string) ([]*Node, error) {
	n, err := g.get(id)
	if err != nil {
		return nil, err
	}

	var out []*Node
	visited := map[string]bool{id: true}
	for cur := n.parentID; cur != "" && !visited[cur]; {
		visited[cur] = true
		p, ok := g.nodes.Get(cur)
		if !ok {
			break
		}
		out = append(out, p)
		cur = p.parentID
	}
	return out, nil
}

// Depth returns the number of ancestors of id; roots have depth 0.
func (g *Graph) Depth(id string) (int, error) {
	anc, err := g.Ancestors(id)
	if err != nil {
		return 0, err
	}
	return len(anc), nil
}

// FindByName returns nodes whose name contains query, ignoring case.
func (g *Graph) FindByName(query string) []*Node {
	q := strings.ToLower(query)
	return g.filter(func(n *Node) bool {
		return strings.Contains(strings.ToLower(n.name), q)
	})
}

// FindByFilePath returns nodes anchored in exactly path.
func (g *Graph) FindByFilePath(path string) []*Node {
	return g.filter(func(n *Node) bool { return n.filePath == path })
}

// FindByLocation returns nodes anchored at path and line.
func (g *Graph) FindByLocation(path string, line int) []*Node {
	return g.filter(func(n *Node) bool {
		return n.filePath == path && n.lineNumber == line
	})
}

// FindByPathPattern returns nodes whose file path matches a doublestar glob
// such as "src/**/*.go".
func (g *Graph) FindByPathPattern(pattern string) ([]*Node, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}
	return g.filter(func(n *Node) bool {
		ok, _ := doublestar.Match(pattern, filepath.ToSlash(n.filePath))
		return ok
	}), nil
}

func (g *Graph) filter(keep func(*Node) bool) []*Node {
	var out []*Node
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		if keep(pair.Value) {
			out = append(out, pair.Value)
		}
	}
	return out
}
