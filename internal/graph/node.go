package graph

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"waypoint/internal/fingerprint"
)

// Field limits for nodes and graphs.
const (
	MaxNameLength        = 200
	MaxDescriptionLength = 1000
	MaxSnippetLength     = 5000
	MaxLineNumber        = 1_000_000
	MaxGraphNameLength   = 100
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NewID returns a fresh random identifier usable for nodes and graphs.
func NewID() string {
	return uuid.NewString()
}

// Node is a single tracked code location.
//
// Relationship fields (parent and children) are only changed through the
// owning Graph so both sides of every edge stay in sync.
type Node struct {
	id                string
	name              string
	filePath          string
	lineNumber        int
	codeSnippet       string
	codeHash          string
	description       string
	validationWarning string
	parentID          string
	childIDs          []string
	createdAt         time.Time
	updatedAt         time.Time
}

// NodeOption sets an optional field on a new node.
type NodeOption func(*Node)

// WithSnippet stores the code expected at the node's line.
func WithSnippet(snippet string) NodeOption {
	return func(n *Node) {
		n.codeSnippet = snippet
		n.codeHash = fingerprint.Hash(snippet)
	}
}

// WithDescription sets the node description.
func WithDescription(description string) NodeOption {
	return func(n *Node) {
		n.description = description
	}
}

// NewNode creates a node and validates it, returning the first violation.
func NewNode(id, name, filePath string, lineNumber int, opts ...NodeOption) (*Node, error) {
	now := time.Now().UTC()
	n := &Node{
		id:         id,
		name:       name,
		filePath:   filePath,
		lineNumber: lineNumber,
		childIDs:   []string{},
		createdAt:  now,
		updatedAt:  now,
	}
	for _, opt := range opts {
		opt(n)
	}

	if err := n.validateFields(); err != nil {
		return nil, err
	}
	return n, nil
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id must not be empty", ErrInvalidNode)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: id %q may only contain letters, digits, '_' and '-'", ErrInvalidNode, id)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidNode)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidNode, MaxNameLength)
	}
	return nil
}

func validateFilePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: file path must not be empty", ErrInvalidNode)
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("%w: file path contains a NUL byte", ErrInvalidNode)
	}
	return nil
}

func validateLineNumber(line int) error {
	if line < 1 || line > MaxLineNumber {
		return fmt.Errorf("%w: line number %d outside 1..%d", ErrInvalidNode, line, MaxLineNumber)
	}
	return nil
}

func validateSnippet(snippet string) error {
	if utf8.RuneCountInString(snippet) > MaxSnippetLength {
		return fmt.Errorf("%w: code snippet exceeds %d characters", ErrInvalidNode, MaxSnippetLength)
	}
	return nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidNode, MaxDescriptionLength)
	}
	return nil
}

func (n *Node) validateFields() error {
	if err := validateID(n.id); err != nil {
		return err
	}
	if err := validateName(n.name); err != nil {
		return err
	}
	if err := validateFilePath(n.filePath); err != nil {
		return err
	}
	if err := validateLineNumber(n.lineNumber); err != nil {
		return err
	}
	if err := validateSnippet(n.codeSnippet); err != nil {
		return err
	}
	return validateDescription(n.description)
}

// Validate checks every field constraint and the node's local relationship
// rules: no self parent, no self child, no duplicate children.
func (n *Node) Validate() error {
	if err := n.validateFields(); err != nil {
		return err
	}
	if n.parentID == n.id {
		return fmt.Errorf("%w: node %s is its own parent", ErrInvalidNode, n.id)
	}

	seen := make(map[string]bool, len(n.childIDs))
	for _, c := range n.childIDs {
		if c == n.id {
			return fmt.Errorf("%w: node %s lists itself as a child", ErrInvalidNode, n.id)
		}
		if seen[c] {
			return fmt.Errorf("%w: node %s lists child %s twice", ErrInvalidNode, n.id, c)
		}
		seen[c] = true
	}
	return nil
}

func (n *Node) ID() string                { return n.id }
func (n *Node) Name() string              { return n.name }
func (n *Node) FilePath() string          { return n.filePath }
func (n *Node) LineNumber() int           { return n.lineNumber }
func (n *Node) CodeSnippet() string       { return n.codeSnippet }
func (n *Node) CodeHash() string          { return n.codeHash }
func (n *Node) Description() string       { return n.description }
func (n *Node) ValidationWarning() string { return n.validationWarning }
func (n *Node) ParentID() string          { return n.parentID }
func (n *Node) CreatedAt() time.Time      { return n.createdAt }
func (n *Node) UpdatedAt() time.Time      { return n.updatedAt }

// FileName is the base name of the node's file path.
func (n *Node) FileName() string {
	return filepath.Base(filepath.FromSlash(n.filePath))
}

// ChildIDs returns a copy of the ordered child ids.
func (n *Node) ChildIDs() []string {
	return slices.Clone(n.childIDs)
}

// HasChild reports whether id is one of the node's children.
func (n *Node) HasChild(id string) bool {
	return slices.Contains(n.childIDs, id)
}

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool {
	return n.parentID == ""
}

func (n *Node) touch() {
	n.updatedAt = time.Now().UTC()
}

// SetName renames the node.
func (n *Node) SetName(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	n.name = name
	n.touch()
	return nil
}

// SetDescription replaces the description. Empty clears it.
func (n *Node) SetDescription(desc string) error {
	if err := validateDescription(desc); err != nil {
		return err
	}
	n.description = desc
	n.touch()
	return nil
}

// SetLineNumber moves the anchor within the same file.
func (n *Node) SetLineNumber(line int) error {
	if err := validateLineNumber(line); err != nil {
		return err
	}
	n.lineNumber = line
	n.touch()
	return nil
}

// SetLocation moves the anchor to another file and line.
func (n *Node) SetLocation(filePath string, line int) error {
	if err := validateFilePath(filePath); err != nil {
		return err
	}
	if err := validateLineNumber(line); err != nil {
		return err
	}
	n.filePath = filePath
	n.lineNumber = line
	n.touch()
	return nil
}

// SetCodeSnippet replaces the stored snippet and its fingerprint. An empty
// snippet turns the node back into a line-number-only anchor.
func (n *Node) SetCodeSnippet(snippet string) error {
	if err := validateSnippet(snippet); err != nil {
		return err
	}
	n.codeSnippet = snippet
	n.codeHash = fingerprint.Hash(snippet)
	n.touch()
	return nil
}

// SetValidationWarning records why the anchor failed validation.
func (n *Node) SetValidationWarning(reason string) {
	if n.validationWarning == reason {
		return
	}
	n.validationWarning = reason
	n.touch()
}

// ClearValidationWarning removes a previous warning.
func (n *Node) ClearValidationWarning() {
	n.SetValidationWarning("")
}

func (n *Node) addChild(id string) error {
	if id == n.id {
		return fmt.Errorf("%w: node %s cannot be its own child", ErrInvalidNode, n.id)
	}
	if n.HasChild(id) {
		return fmt.Errorf("%w: node %s already has child %s", ErrInvalidNode, n.id, id)
	}
	n.childIDs = append(n.childIDs, id)
	n.touch()
	return nil
}

func (n *Node) removeChild(id string) bool {
	i := slices.Index(n.childIDs, id)
	if i < 0 {
		return false
	}
	n.childIDs = slices.Delete(n.childIDs, i, i+1)
	n.touch()
	return true
}

// replaceChild substitutes id with the given ids at the same position,
// skipping any the node already has.
func (n *Node) replaceChild(id string, with []string) {
	i := slices.Index(n.childIDs, id)
	if i < 0 {
		return
	}

	var add []string
	for _, w := range with {
		if w != n.id && !n.HasChild(w) && !slices.Contains(add, w) {
			add = append(add, w)
		}
	}
	n.childIDs = slices.Replace(n.childIDs, i, i+1, add...)
	n.touch()
}

func (n *Node) setParent(id string) error {
	if id != "" && id == n.id {
		return fmt.Errorf("%w: node %s cannot be its own parent", ErrInvalidNode, n.id)
	}
	n.parentID = id
	n.touch()
	return nil
}
