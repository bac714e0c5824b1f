// Package jig is an incremental build engine. Rules declare the
// targets they promise and a Build arrow describing how to produce the
// action that generates them; dependencies are discovered while the
// arrow is evaluated, not from static declarations. The engine runs
// just enough actions to bring requested targets up to date, keyed by
// a persistent hash of (dependencies, targets, action) combined with
// file timestamps.
package jig

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// Engine owns all build state for one invocation: the target-to-rule
// registry, the persistent rule-hash trace, the per-run timestamp
// cache, and the set of in-flight target files to clean up on exit.
type Engine struct {
	root string
	out  *Output

	mu           sync.Mutex
	files        map[Path]*rule
	trace        traceStore
	timestamps   map[Path]tsEntry
	localMkdirs  pathSet
	pending      pathSet
	contexts     []Context
	targetsByDir map[Path][]Path
}

// Option configures an Engine.
type Option func(*Engine)

// WithOutput directs engine output (rule headers, warnings) to out.
func WithOutput(out *Output) Option {
	return func(e *Engine) { e.out = out }
}

// New creates an engine rooted at root and loads the persisted trace
// from _build/.db if present.
func New(root string, opts ...Option) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		root:        abs,
		out:         StdOutput(),
		files:       make(map[Path]*rule),
		timestamps:  make(map[Path]tsEntry),
		localMkdirs: make(pathSet),
		pending:     make(pathSet),
	}
	for _, opt := range opts {
		opt(e)
	}
	trace, err := loadTrace(filepath.Join(abs, filepath.FromSlash(traceFileName)))
	if err != nil {
		return nil, err
	}
	e.trace = trace
	return e, nil
}

// Root returns the absolute directory local paths are resolved under.
func (e *Engine) Root() string { return e.root }

// resolve maps a Path to a host filesystem path.
func (e *Engine) resolve(p Path) string {
	if p.IsLocal() {
		return filepath.Join(e.root, filepath.FromSlash(p.String()))
	}
	return filepath.FromSlash(p.String())
}

// Trace returns a copy of the current trace, keyed by target path.
func (e *Engine) Trace() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.trace))
	for p, d := range e.trace {
		out[p.String()] = d
	}
	return out
}

// DoBuild brings the given targets up to date. It demands every
// target, waits for each requested target's rule to finish, and
// returns the first failure. Once a rule fails, dependency rules that
// are still running for other demands are not waited for.
func (e *Engine) DoBuild(ctx context.Context, targets ...Path) error {
	var (
		futs     []*future
		firstErr error
	)
	for _, t := range targets {
		// A top-level request has no demander, so it cannot close a
		// cycle: claim the rule here, or share the future of a rule
		// that an earlier demand already claimed.
		e.mu.Lock()
		if r, ok := e.files[t]; ok {
			if r.exec == execNotStarted {
				r.exec, r.forFile, r.fut = execStarting, t, newFuture()
				go e.runRule(ctx, r, t)
			}
			futs = append(futs, r.fut)
			e.mu.Unlock()
			continue
		}
		e.mu.Unlock()
		fut, err := e.waitForFile(ctx, t, t)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		futs = append(futs, fut)
	}
	for _, fut := range futs {
		if err := fut.wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close finishes the invocation: half-written targets of failed or
// interrupted actions are unlinked, and the trace is written back
// (only if the build tree exists).
func (e *Engine) Close() error {
	e.mu.Lock()
	pending := e.pending.sorted()
	e.pending = make(pathSet)
	trace := e.trace
	e.mu.Unlock()

	for _, t := range pending {
		if t.IsLocal() {
			_ = os.Remove(e.resolve(t))
		}
	}
	if _, err := os.Lstat(filepath.Join(e.root, BuildDir)); err != nil {
		return nil
	}
	return trace.dump(filepath.Join(e.root, filepath.FromSlash(traceFileName)))
}

// waitForFile demands that fn be up to date. targeting is the file
// whose evaluation is making the demand (the file itself for top-level
// requests); the chain of these links yields cycle and error
// diagnostics.
//
// The per-rule state machine guarantees at-most-once execution: the
// first demand claims the rule and starts it, later demands share the
// same future. A demand that closes a forFile loop is a dependency
// cycle, reported with the ordered file list.
func (e *Engine) waitForFile(ctx context.Context, fn, targeting Path) (*future, error) {
	e.mu.Lock()
	r, ok := e.files[fn]
	if !ok {
		e.mu.Unlock()
		if fn.InBuildDir() {
			return nil, &BuildError{Kind: ErrNoRule, Files: []Path{fn}}
		}
		// Source file: nothing to do beyond checking it exists.
		if _, err := os.Lstat(e.resolve(fn)); err != nil {
			return nil, &BuildError{Kind: ErrSourceMissing, Files: []Path{fn}}
		}
		return resolvedFuture(nil), nil
	}

	switch r.exec {
	case execNotStarted:
		r.exec = execStarting
		r.forFile = targeting
		r.fut = newFuture()
		fut := r.fut
		e.mu.Unlock()
		go e.runRule(ctx, r, fn)
		return fut, nil
	default:
		if cycle := e.findCycleLocked(fn, targeting); cycle != nil {
			e.mu.Unlock()
			return nil, &BuildError{Kind: ErrCycle, Files: cycle}
		}
		fut := r.fut
		e.mu.Unlock()
		return fut, nil
	}
}

// findCycleLocked walks the forFile chain from targeting. Reaching fn
// means fn transitively demanded its own demander: a cycle. The
// returned list starts and ends with fn. Requires e.mu held.
func (e *Engine) findCycleLocked(fn, targeting Path) []Path {
	var chain []Path
	seen := newPathSet()
	cur := targeting
	for {
		if cur == fn {
			out := make([]Path, 0, len(chain)+2)
			out = append(out, fn)
			for i := len(chain) - 1; i >= 0; i-- {
				out = append(out, chain[i])
			}
			return append(out, fn)
		}
		if !seen.add(cur) {
			return nil
		}
		r, ok := e.files[cur]
		if !ok || r.exec == execNotStarted || r.forFile == cur {
			return nil
		}
		chain = append(chain, cur)
		cur = r.forFile
	}
}

// depPath returns the chain of demanding targets from fn back to the
// user-requested root, for error attribution.
func (e *Engine) depPath(fn Path) []Path {
	e.mu.Lock()
	defer e.mu.Unlock()
	path := []Path{fn}
	seen := newPathSet(fn)
	cur := fn
	for {
		r, ok := e.files[cur]
		if !ok || r.exec == execNotStarted {
			break
		}
		next := r.forFile
		if next == cur || !seen.add(next) {
			break
		}
		path = append(path, next)
		cur = next
	}
	return path
}

// runRule is the goroutine body of a claimed rule. Failures that are
// not already BuildErrors are wrapped once, with the dependency path
// from the faulting rule back to the requested root; BuildErrors from
// nested rules propagate untouched.
func (e *Engine) runRule(ctx context.Context, r *rule, fn Path) {
	e.mu.Lock()
	r.exec = execRunning
	e.mu.Unlock()

	err := e.execRule(ctx, r, fn)
	if err != nil {
		err = asBuildError(err, fn, e.depPath(fn))
	}
	r.fut.resolve(err)
}

// execRule brings one rule's targets up to date: evaluate the arrow
// (realising discovered dependencies), decide via trace hash and
// timestamps whether the action must run, and run it.
func (e *Engine) execRule(ctx context.Context, r *rule, fn Path) error {
	for _, t := range r.targets {
		if err := e.mkdirLocal(t.Dir()); err != nil {
			return err
		}
	}

	ev := newEvalState(e, ctx, false, fn)
	action, err := r.build.run(ev)
	if err != nil {
		return err
	}
	if err := ev.awaitDeps(); err != nil {
		return err
	}
	deps := ev.sortedDeps()

	hash := digestRule(deps, r.targets, action)
	e.mu.Lock()
	ruleChanged := false
	for _, t := range r.targets {
		if prev, ok := e.trace[t]; !ok || prev != hash {
			ruleChanged = true
		}
		e.trace[t] = hash
	}
	e.mu.Unlock()

	depsMax := e.maxTimestamp(deps)
	targetsMin := e.minTimestamp(r.targets)
	if depsMax.missing {
		return internalErrorf("dependencies of %s missing after waiting for them", fn)
	}

	needRun := ruleChanged ||
		targetsMin.missing ||
		!depsMax.hasLimit ||
		(targetsMin.hasLimit && targetsMin.limit.Before(depsMax.limit))
	if !needRun {
		return nil
	}
	if !ruleChanged && !targetsMin.missing && !depsMax.hasLimit {
		// Rules without dependencies rerun on every build.
		e.out.warnf("warning: rule for %s has no dependencies and will run on every build\n", fn)
	}

	// Buffer this rule's output so concurrent rules flush whole blocks.
	buf := newBufferedOutput(e.out)
	out := buf.Output()
	defer buf.Flush()
	out.headerf(":: %s\n", fn)

	updated := newPathSet(action.UpdatedFiles()...)
	for _, t := range r.targets {
		if updated.has(t) {
			continue
		}
		e.addPending(t)
		if t.IsLocal() {
			_ = os.Remove(e.resolve(t))
		}
	}

	execAction := action
	var sb *sandbox
	if r.sandbox {
		sb, err = e.newSandbox(hash, deps, r.targets, updated)
		if err != nil {
			return err
		}
		execAction = action.Sandboxed(sb.rewrite)
	}

	if err := e.mkdirLocal(execAction.Dir()); err != nil {
		return err
	}

	env := &ActionEnv{Targets: r.targets, Out: out, Resolve: e.resolve}
	if err := execAction.Exec(ctx, env); err != nil {
		// The sandbox directory is left behind for inspection.
		return err
	}

	if sb != nil {
		if err := sb.commit(r.targets); err != nil {
			return err
		}
		sb.remove()
	}

	var missing []Path
	for _, t := range r.targets {
		if _, ok := e.statTimestamp(t); !ok {
			missing = append(missing, t)
		} else {
			e.removePending(t)
		}
	}
	if len(missing) > 0 {
		return &BuildError{Kind: ErrTargetsNotGenerated, Files: missing}
	}
	return nil
}

// mkdirLocal ensures a local directory exists, at most once per run.
func (e *Engine) mkdirLocal(dir Path) error {
	if !dir.IsLocal() {
		return nil
	}
	e.mu.Lock()
	done := e.localMkdirs.has(dir)
	e.mu.Unlock()
	if done {
		return nil
	}
	if err := os.MkdirAll(e.resolve(dir), 0o755); err != nil {
		return err
	}
	e.mu.Lock()
	e.localMkdirs.add(dir)
	e.mu.Unlock()
	return nil
}

func (e *Engine) addPending(t Path) {
	e.mu.Lock()
	e.pending.add(t)
	e.mu.Unlock()
}

func (e *Engine) removePending(t Path) {
	e.mu.Lock()
	delete(e.pending, t)
	e.mu.Unlock()
}
