package graph

import (
	"encoding/json"
	"fmt"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type nodeJSON struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	FilePath          string    `json:"filePath"`
	FileName          string    `json:"fileName"`
	LineNumber        int       `json:"lineNumber"`
	CodeSnippet       string    `json:"codeSnippet,omitempty"`
	CodeHash          string    `json:"codeHash,omitempty"`
	Description       string    `json:"description,omitempty"`
	ValidationWarning string    `json:"validationWarning,omitempty"`
	ParentID          *string   `json:"parentId"`
	ChildIDs          []string  `json:"childIds"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// MarshalJSON encodes every node field, including derived fileName.
func (n *Node) MarshalJSON() ([]byte, error) {
	v := nodeJSON{
		ID:                n.id,
		Name:              n.name,
		FilePath:          n.filePath,
		FileName:          n.FileName(),
		LineNumber:        n.lineNumber,
		CodeSnippet:       n.codeSnippet,
		CodeHash:          n.codeHash,
		Description:       n.description,
		ValidationWarning: n.validationWarning,
		ChildIDs:          n.childIDs,
		CreatedAt:         n.createdAt,
		UpdatedAt:         n.updatedAt,
	}
	if v.ChildIDs == nil {
		v.ChildIDs = []string{}
	}
	if n.parentID != "" {
		parent := n.parentID
		v.ParentID = &parent
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes a node and validates it, so corrupt persisted nodes
// fail immediately.
func (n *Node) UnmarshalJSON(data []byte) error {
	var v nodeJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*n = Node{
		id:                v.ID,
		name:              v.Name,
		filePath:          v.FilePath,
		lineNumber:        v.LineNumber,
		codeSnippet:       v.CodeSnippet,
		codeHash:          v.CodeHash,
		description:       v.Description,
		validationWarning: v.ValidationWarning,
		childIDs:          v.ChildIDs,
		createdAt:         v.CreatedAt,
		updatedAt:         v.UpdatedAt,
	}
	if n.childIDs == nil {
		n.childIDs = []string{}
	}
	if v.ParentID != nil {
		n.parentID = *v.ParentID
	}
	return n.Validate()
}

type graphJSON struct {
	ID            string                                `json:"id"`
	Name          string                                `json:"name"`
	CreatedAt     time.Time                             `json:"createdAt"`
	UpdatedAt     time.Time                             `json:"updatedAt"`
	Nodes         *orderedmap.OrderedMap[string, *Node] `json:"nodes"`
	RootNodes     []string                              `json:"rootNodes"`
	CurrentNodeID *string                               `json:"currentNodeId"`
}

// MarshalJSON encodes the graph with nodes as an object keyed by id, in
// insertion order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	v := graphJSON{
		ID:        g.id,
		Name:      g.name,
		CreatedAt: g.createdAt,
		UpdatedAt: g.updatedAt,
		Nodes:     g.nodes,
		RootNodes: g.rootNodes,
	}
	if v.RootNodes == nil {
		v.RootNodes = []string{}
	}
	if g.currentNodeID != "" {
		current := g.currentNodeID
		v.CurrentNodeID = &current
	}
	return json.Marshal(v)
}

// FromJSON rebuilds a graph from persisted data. Structural corruption is
// repaired before the graph is validated; call Decode followed by Validate
// to detect corruption instead of healing it.
func FromJSON(data []byte) (*Graph, RepairReport, error) {
	g, err := Decode(data)
	if err != nil {
		return nil, RepairReport{}, err
	}

	report := g.Repair()
	if err := g.Validate(); err != nil {
		return nil, report, fmt.Errorf("validating repaired graph: %w", err)
	}
	return g, report, nil
}

// Decode parses persisted graph data without repairing or validating the
// structure. Individual nodes are still validated.
func Decode(data []byte) (*Graph, error) {
	v := graphJSON{Nodes: orderedmap.New[string, *Node]()}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding graph: %w", err)
	}

	if err := validateGraphFields(v.ID, v.Name); err != nil {
		return nil, err
	}

	g := &Graph{
		id:        v.ID,
		name:      v.Name,
		createdAt: v.CreatedAt,
		updatedAt: v.UpdatedAt,
		nodes:     orderedmap.New[string, *Node](),
		rootNodes: v.RootNodes,
	}
	if g.rootNodes == nil {
		g.rootNodes = []string{}
	}
	if v.CurrentNodeID != nil {
		g.currentNodeID = *v.CurrentNodeID
	}

	if v.Nodes != nil {
		for pair := v.Nodes.Oldest(); pair != nil; pair = pair.Next() {
			n := pair.Value
			if n == nil {
				continue
			}
			if pair.Key != n.id {
				return nil, fmt.Errorf("%w: node stored under key %q has id %q", ErrInvalidGraph, pair.Key, n.id)
			}
			g.nodes.Set(n.id, n)
		}
	}

	return g, nil
}
