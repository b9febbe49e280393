package navigator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoCommand is returned when the needed command template is empty.
var ErrNoCommand = errors.New("no command configured")

// Command reveals locations by running external programs. Templates are
// split on spaces (quotes group words) and may use the placeholders {file},
// {line} and {column}, which are 1-based.
//
//	Open:   code --goto {file}:{line}:{column}
//	Browse: xdg-open {file}
type Command struct {
	Open   string
	Browse string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// OpenFile implements Revealer.
func (c *Command) OpenFile(ctx context.Context, path string, pos Position) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return c.run(ctx, c.Open, path, pos)
}

// RevealDirectory implements Revealer.
func (c *Command) RevealDirectory(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return c.run(ctx, c.Browse, path, Position{})
}

func (c *Command) run(ctx context.Context, template, path string, pos Position) error {
	args := expand(template, path, pos)
	if len(args) == 0 {
		return ErrNoCommand
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", args[0], err)
	}
	return nil
}

// expand splits template into arguments and fills in the placeholders.
func expand(template, path string, pos Position) []string {
	r := strings.NewReplacer(
		"{file}", path,
		"{line}", strconv.Itoa(pos.Line+1),
		"{column}", strconv.Itoa(pos.Character+1),
	)
	parts := splitCommand(template)
	for i, p := range parts {
		parts[i] = r.Replace(p)
	}
	return parts
}

// splitCommand splits a command string respecting quoted strings.
func splitCommand(command string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	for _, r := range command {
		switch {
		case (r == '"' || r == '\'') && !inQuote:
			inQuote = true
			quoteChar = r
		case r == quoteChar && inQuote:
			inQuote = false
			quoteChar = 0
		case (r == ' ' || r == '\t') && !inQuote:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
