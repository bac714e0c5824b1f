package jig

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKind classifies build failures.
type ErrKind int

const (
	// ErrNoRule: a path under the build tree has no registered rule.
	ErrNoRule ErrKind = iota
	// ErrSourceMissing: a source file outside the build tree does not exist.
	ErrSourceMissing
	// ErrMultipleRules: two rules promise the same target without override.
	ErrMultipleRules
	// ErrCycle: the rule-execution graph contains a dependency cycle.
	ErrCycle
	// ErrMemoCycle: a memoised sub-arrow re-entered itself during evaluation.
	ErrMemoCycle
	// ErrTargetsNotGenerated: an action succeeded but did not produce
	// all of its declared targets.
	ErrTargetsNotGenerated
	// ErrActionFailed: a rule's action (or its arrow evaluation) failed.
	ErrActionFailed
	// ErrInternal: an engine invariant was violated.
	ErrInternal
)

// BuildError is the single error type surfaced by the engine. It carries
// enough structure for callers to render diagnostics without string
// matching. BuildError values propagate unwrapped through nested rule
// evaluations: only the innermost failure is recorded.
type BuildError struct {
	Kind ErrKind

	// Files carries the paths the error is about: the unknown target,
	// the missing source, the ordered cycle (first file repeated last),
	// or the targets an action failed to produce.
	Files []Path

	// MemoName names the memo node for ErrMemoCycle.
	MemoName string

	// DepPath is the chain of demanding targets from the faulting rule
	// back to the user-requested root, for ErrActionFailed.
	DepPath []Path

	// Err is the underlying cause, if any.
	Err error
}

func (e *BuildError) Error() string {
	switch e.Kind {
	case ErrNoRule:
		return fmt.Sprintf("no rule found for %s", e.file())
	case ErrSourceMissing:
		return fmt.Sprintf("file unavailable: %s", e.file())
	case ErrMultipleRules:
		return fmt.Sprintf("multiple rules generated for %s", e.file())
	case ErrCycle:
		return "dependency cycle between the following files:\n" + renderFileList(e.Files)
	case ErrMemoCycle:
		return fmt.Sprintf("cyclic dependency in memoized computation %q", e.MemoName)
	case ErrTargetsNotGenerated:
		return "rule failed to generate the following targets:\n" + renderFileList(e.Files)
	case ErrActionFailed:
		var b strings.Builder
		fmt.Fprintf(&b, "building %s: %v", e.file(), e.Err)
		if len(e.DepPath) > 1 {
			b.WriteString("\nrequired by:\n")
			b.WriteString(renderFileList(e.DepPath[1:]))
		}
		return b.String()
	case ErrInternal:
		return fmt.Sprintf("internal error: %v", e.Err)
	}
	return fmt.Sprintf("build error: %v", e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

func (e *BuildError) file() string {
	if len(e.Files) == 0 {
		return "<unknown>"
	}
	return e.Files[0].String()
}

func renderFileList(files []Path) string {
	var b strings.Builder
	for i, f := range files {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(f.String())
	}
	return b.String()
}

// internalErrorf wraps an arbitrary failure as an internal BuildError.
func internalErrorf(format string, a ...any) *BuildError {
	return &BuildError{Kind: ErrInternal, Err: fmt.Errorf(format, a...)}
}

// asBuildError returns err as a *BuildError, wrapping non-build errors
// as ErrActionFailed attributed to fn with the given dependency path.
// Existing BuildErrors pass through untouched.
func asBuildError(err error, fn Path, depPath []Path) *BuildError {
	var be *BuildError
	if errors.As(err, &be) {
		return be
	}
	return &BuildError{
		Kind:    ErrActionFailed,
		Files:   []Path{fn},
		DepPath: depPath,
		Err:     err,
	}
}
