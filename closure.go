package jig

import (
	"context"
	"slices"
)

// closureWalk is a depth-first traversal of the rule graph using the
// approximate arrow evaluator: dependencies are collected without
// reading files or running actions. It answers dependency queries and
// surfaces cycles that the executor would otherwise only hit mid-build.
type closureWalk struct {
	eng     *Engine
	ctx     context.Context
	state   map[*rule]closureState
	stack   []Path
	libDeps map[Path][]string
}

type closureState int

const (
	closureVisiting closureState = iota + 1
	closureVisited
)

func (e *Engine) newClosureWalk(ctx context.Context) *closureWalk {
	return &closureWalk{
		eng:     e,
		ctx:     ctx,
		state:   make(map[*rule]closureState),
		libDeps: make(map[Path][]string),
	}
}

// visit expands the closure from fn. Paths without a rule are sources
// and contribute nothing. Re-entering a rule already on the stack is a
// dependency cycle, reported with the ordered path that closes it.
func (w *closureWalk) visit(fn Path) error {
	r, ok := w.eng.findRule(fn)
	if !ok {
		return nil
	}
	switch w.state[r] {
	case closureVisited:
		return nil
	case closureVisiting:
		return &BuildError{Kind: ErrCycle, Files: w.cyclePath(r, fn)}
	}
	w.state[r] = closureVisiting
	w.stack = append(w.stack, fn)

	ev := newEvalState(w.eng, w.ctx, true, fn)
	if _, err := r.build.run(ev); err != nil {
		return err
	}
	for dir, deps := range ev.libDeps {
		w.libDeps[dir] = append(w.libDeps[dir], deps...)
	}
	for _, dep := range ev.sortedDeps() {
		if err := w.visit(dep); err != nil {
			return err
		}
	}

	w.stack = w.stack[:len(w.stack)-1]
	w.state[r] = closureVisited
	return nil
}

// cyclePath renders the cycle closed by demanding fn again: the stack
// suffix from the first alias of fn's rule, bracketed by fn.
func (w *closureWalk) cyclePath(r *rule, fn Path) []Path {
	start := 0
	for i, p := range w.stack {
		if pr, ok := w.eng.findRule(p); ok && pr == r {
			start = i
			break
		}
	}
	out := make([]Path, 0, len(w.stack)-start+1)
	out = append(out, w.stack[start:]...)
	return append(out, fn)
}

// LibDeps returns the library requirements recorded by every rule in
// the approximate closure of targets, grouped by the directory they
// were recorded against. Each list is sorted and deduplicated.
func (e *Engine) LibDeps(ctx context.Context, targets ...Path) (map[string][]string, error) {
	w := e.newClosureWalk(ctx)
	for _, t := range targets {
		if err := w.visit(t); err != nil {
			return nil, err
		}
	}
	out := make(map[string][]string, len(w.libDeps))
	for dir, deps := range w.libDeps {
		out[dir.String()] = sortUnique(deps)
	}
	return out, nil
}

// LibDepsByContext aggregates library requirements per build context,
// keyed by context name: the first segment below _build, whether or
// not a context of that name is registered. Requirements recorded
// against paths outside the build directory, or under one of its
// dot-directories, are grouped under the empty string.
func (e *Engine) LibDepsByContext(ctx context.Context, targets ...Path) (map[string][]string, error) {
	w := e.newClosureWalk(ctx)
	for _, t := range targets {
		if err := w.visit(t); err != nil {
			return nil, err
		}
	}
	out := make(map[string][]string)
	for dir, deps := range w.libDeps {
		name, _ := contextOf(dir)
		out[name] = append(out[name], deps...)
	}
	for name, deps := range out {
		out[name] = sortUnique(deps)
	}
	return out, nil
}

func sortUnique(ss []string) []string {
	out := slices.Clone(ss)
	slices.Sort(out)
	return slices.Compact(out)
}
