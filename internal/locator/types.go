// Package locator decides whether a stored code anchor still points at the
// right line and, when it does not, proposes where the code moved.
//
// Matching is textual and line oriented: fingerprints first, then substring
// containment, then edit-distance similarity, then a whitespace-insensitive
// multi-line search.
package locator

// Confidence grades a validation verdict.
type Confidence string

const (
	ConfidenceExact  Confidence = "exact"
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceFailed Confidence = "failed"
)

// Rank orders confidences from failed (0) to exact (4).
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceExact:
		return 4
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether c is as strong as other.
func (c Confidence) AtLeast(other Confidence) bool {
	return c.Rank() >= other.Rank()
}

// ParseConfidence converts a name into a Confidence.
func ParseConfidence(s string) (Confidence, bool) {
	switch c := Confidence(s); c {
	case ConfidenceExact, ConfidenceHigh, ConfidenceMedium, ConfidenceLow, ConfidenceFailed:
		return c, true
	}
	return "", false
}

// Anchor is the part of a node the locator needs.
type Anchor interface {
	FilePath() string
	LineNumber() int
	CodeSnippet() string
}

// Location is a file path and 1-based line.
type Location struct {
	FilePath   string `json:"filePath"`
	LineNumber int    `json:"lineNumber"`
}

// Result is the verdict for one anchor.
type Result struct {
	IsValid           bool       `json:"isValid"`
	Confidence        Confidence `json:"confidence"`
	SuggestedLocation *Location  `json:"suggestedLocation,omitempty"`
	Reason            string     `json:"reason,omitempty"`
}

// Search tuning. These values decide observable outcomes and are part of the
// validator's contract.
const (
	// NearbyRadius is how many lines above and below the stored line are
	// searched.
	NearbyRadius = 20

	// FuzzyThreshold is the minimum similarity accepted for a fuzzy match.
	FuzzyThreshold = 0.8

	// SubstringScore is the similarity assigned to a containment match.
	SubstringScore = 0.95

	// MinSubstringLength is the snippet length a containment match needs.
	MinSubstringLength = 3

	// MultiLineWindow is the number of consecutive lines joined in the
	// whitespace-insensitive search.
	MultiLineWindow = 8
)
