// Package filter compiles the --filter expression used to select which
// source torrents are migrated.
package filter

import (
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"

	"github.com/tsmigrate/tsm/pkg/torrent"
)

// Context is the environment a filter expression evaluates against, one
// torrent at a time.
type Context struct {
	Name        string
	InfoHash    string
	IsPaused    bool
	TotalSize   uint64
	Downloaded  uint64
	Uploaded    uint64
	SavePath    string
	Trackers    []string
	ValidPieces int
	TotalPieces int
}

// IsComplete reports whether every piece is valid.
func (c *Context) IsComplete() bool {
	return c.TotalPieces > 0 && c.ValidPieces == c.TotalPieces
}

// HasTracker reports whether any tracker URL contains the given substring.
func (c *Context) HasTracker(substring string) bool {
	for _, url := range c.Trackers {
		if strings.Contains(url, substring) {
			return true
		}
	}
	return false
}

// Filter is a compiled selection expression.
type Filter struct {
	program *vm.Program
	text    string
}

// Compile builds a filter from an expression such as
// `IsComplete() && HasTracker("example.org")`.
func Compile(expression string) (*Filter, error) {
	program, err := expr.Compile(expression, expr.Env(&Context{}), expr.AsBool())
	if err != nil {
		return nil, errors.Wrapf(err, "compile filter %q", expression)
	}
	return &Filter{program: program, text: expression}, nil
}

func (f *Filter) String() string { return f.text }

// Match evaluates the filter against one Box.
func (f *Filter) Match(box *torrent.Box) (bool, error) {
	name, err := box.Torrent.Name()
	if err != nil {
		return false, err
	}
	totalSize, err := box.Torrent.TotalSize()
	if err != nil {
		return false, err
	}

	validPieces := 0
	for _, valid := range box.ValidBlocks {
		if valid {
			validPieces++
		}
	}

	var trackers []string
	for _, tier := range box.Trackers {
		trackers = append(trackers, tier...)
	}

	env := &Context{
		Name:        name,
		InfoHash:    box.Torrent.InfoHash(),
		IsPaused:    box.IsPaused,
		TotalSize:   totalSize,
		Downloaded:  box.DownloadedSize,
		Uploaded:    box.UploadedSize,
		SavePath:    box.SavePath,
		Trackers:    trackers,
		ValidPieces: validPieces,
		TotalPieces: len(box.ValidBlocks),
	}

	result, err := expr.Run(f.program, env)
	if err != nil {
		return false, errors.Wrapf(err, "evaluate filter %q", f.text)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, errors.Errorf("filter %q did not evaluate to a boolean", f.text)
	}
	return matched, nil
}
