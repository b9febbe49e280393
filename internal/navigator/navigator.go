// Package navigator turns a node into an editor action: validate the anchor,
// pick the best location and ask the host to reveal it.
package navigator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"waypoint/internal/filesource"
	"waypoint/internal/locator"
)

// Position is a 0-based line and character.
type Position struct {
	Line      int
	Character int
}

// Revealer is the editor surface. Paths are resolved on-disk paths.
type Revealer interface {
	OpenFile(ctx context.Context, path string, pos Position) error
	RevealDirectory(ctx context.Context, path string) error
}

// Result describes what navigation did.
type Result struct {
	Success        bool               `json:"success"`
	Confidence     locator.Confidence `json:"confidence"`
	ActualLocation *locator.Location  `json:"actualLocation,omitempty"`
	Message        string             `json:"message,omitempty"`
	Validation     locator.Result     `json:"validation"`
}

// Navigator validates then reveals.
type Navigator struct {
	loc *locator.Locator
	rev Revealer
	log *zap.Logger
}

// New creates a Navigator. A nil logger disables logging.
func New(loc *locator.Locator, rev Revealer, log *zap.Logger) *Navigator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Navigator{loc: loc, rev: rev, log: log}
}

// Navigate validates a and reveals the best known location for it. A failed
// validation still opens the stored location so it can be fixed by hand;
// Success is false only when nothing could be opened.
func (n *Navigator) Navigate(ctx context.Context, a locator.Anchor) Result {
	v := n.loc.Validate(ctx, a)
	out := Result{Confidence: v.Confidence, Validation: v}

	target := locator.Location{FilePath: a.FilePath(), LineNumber: a.LineNumber()}
	if !v.IsValid {
		if v.SuggestedLocation != nil {
			target = *v.SuggestedLocation
		}
		out.Message = v.Reason
	}

	if err := n.reveal(ctx, target); err != nil {
		n.log.Warn("navigation failed",
			zap.String("path", target.FilePath),
			zap.Int("line", target.LineNumber),
			zap.Error(err))
		out.Message = fmt.Sprintf("Cannot open %s: %v", target.FilePath, err)
		if v.Reason != "" {
			out.Message = v.Reason + "; " + out.Message
		}
		return out
	}

	n.log.Debug("navigated",
		zap.String("path", target.FilePath),
		zap.Int("line", target.LineNumber),
		zap.String("confidence", string(v.Confidence)))
	out.Success = true
	out.ActualLocation = &target
	return out
}

func (n *Navigator) reveal(ctx context.Context, target locator.Location) error {
	fsys := n.loc.Source()
	info, err := fsys.Stat(ctx, target.FilePath)
	if err != nil {
		return err
	}

	path := filesource.Resolve(fsys, target.FilePath)
	if info.IsDir {
		return n.rev.RevealDirectory(ctx, path)
	}
	return n.rev.OpenFile(ctx, path, Position{Line: max(target.LineNumber-1, 0)})
}
