package graph

import "errors"

// Sentinel errors for graph and node operations. Returned errors wrap these
// with the offending id, so callers check them with errors.Is.
var (
	// ErrInvalidNode is returned when a node field violates its constraints.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidGraph is returned by Validate when a structural invariant
	// does not hold, and when graph fields are invalid.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrNodeNotFound is returned when an operation references an id that is
	// not in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when adding a node whose id is taken.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrCycle is returned when a relationship would make a node its own
	// ancestor.
	ErrCycle = errors.New("cycle prevention: relationship would create a cycle")

	// ErrNotLinked is returned when removing a parent/child pair that is not
	// currently linked.
	ErrNotLinked = errors.New("nodes are not linked")
)
