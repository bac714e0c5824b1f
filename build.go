package jig

import (
	"context"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// Build describes how to compute a value of type T, typically the
// Action of a rule. A Build is a description, not an execution: the
// engine evaluates it concretely when a rule runs (reading files,
// realising dependencies) and approximately when answering dependency
// queries (collecting declared paths without building anything).
//
// Dependencies are discovered during evaluation: every primitive that
// names a path (Contents, LinesOf, DeclareDeps) adds it to the rule's
// dependency set as it is evaluated.
//
// Example:
//
//	build := jig.Bind(jig.LinesOf(jig.Local("src/files.list")), func(lines []string) jig.Build[jig.Action] {
//	    var deps []jig.Path
//	    for _, l := range lines {
//	        deps = append(deps, jig.Local(l))
//	    }
//	    return jig.Map(jig.DeclareDeps(deps...), func(struct{}) jig.Action {
//	        return &jig.RunAction{DirPath: jig.Local("."), Argv: []string{"make", "bundle"}}
//	    })
//	})
type Build[T any] struct {
	run func(ev *evalState) (T, error)
}

// Pair holds the results of the two halves of a Both.
type Pair[A, B any] struct {
	Fst A
	Snd B
}

// Return lifts a pure value into a Build.
func Return[T any](v T) Build[T] {
	return Build[T]{run: func(*evalState) (T, error) { return v, nil }}
}

// Bind sequences t and then the Build produced by f from t's result.
func Bind[A, B any](t Build[A], f func(A) Build[B]) Build[B] {
	return Build[B]{run: func(ev *evalState) (B, error) {
		a, err := t.run(ev)
		if err != nil {
			var zero B
			return zero, err
		}
		return f(a).run(ev)
	}}
}

// Map applies a pure function to the result of t.
func Map[A, B any](t Build[A], f func(A) B) Build[B] {
	return Build[B]{run: func(ev *evalState) (B, error) {
		a, err := t.run(ev)
		if err != nil {
			var zero B
			return zero, err
		}
		return f(a), nil
	}}
}

// Both evaluates a and b concurrently and pairs their results.
// Dependencies discovered on either side are realised in parallel.
func Both[A, B any](a Build[A], b Build[B]) Build[Pair[A, B]] {
	return Build[Pair[A, B]]{run: func(ev *evalState) (Pair[A, B], error) {
		var (
			wg   sync.WaitGroup
			vb   B
			errB error
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			vb, errB = b.run(ev)
		}()
		va, errA := a.run(ev)
		wg.Wait()
		if errA != nil {
			return Pair[A, B]{}, errA
		}
		if errB != nil {
			return Pair[A, B]{}, errB
		}
		return Pair[A, B]{Fst: va, Snd: vb}, nil
	}}
}

// Contents reads the contents of p, declaring it as a dependency.
// During approximate evaluation the dependency is still declared but
// the result is an empty string.
func Contents(p Path) Build[string] {
	return Build[string]{run: func(ev *evalState) (string, error) {
		return ev.contents(p)
	}}
}

// LinesOf reads p as lines, declaring it as a dependency. A trailing
// newline does not produce an empty final line.
func LinesOf(p Path) Build[[]string] {
	return Map(Contents(p), func(s string) []string {
		s = strings.TrimSuffix(s, "\n")
		if s == "" {
			return nil
		}
		return strings.Split(s, "\n")
	})
}

// DeclareDeps declares ps as dependencies without consuming their
// contents.
func DeclareDeps(ps ...Path) Build[struct{}] {
	return Build[struct{}]{run: func(ev *evalState) (struct{}, error) {
		for _, p := range ps {
			if _, err := ev.addDep(p); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	}}
}

// Glob returns the registered targets directly in dir whose basename
// matches pattern (an anchored regular expression). Glob observes only
// targets known to the engine, never the filesystem, and does not
// declare dir as a dependency.
// An invalid pattern panics; validate caller-supplied patterns first.
func Glob(dir Path, pattern string) Build[[]Path] {
	re := regexp.MustCompile("^" + pattern + "$")
	return Build[[]Path]{run: func(ev *evalState) ([]Path, error) {
		var out []Path
		for _, t := range ev.eng.targetsInDir(dir) {
			if re.MatchString(t.Base()) {
				out = append(out, t)
			}
		}
		return out, nil
	}}
}

// TargetExists reports whether p is a registered target. It says
// nothing about the filesystem: a source file that exists on disk but
// has no rule yields false.
func TargetExists(p Path) Build[bool] {
	return Build[bool]{run: func(ev *evalState) (bool, error) {
		return ev.eng.IsTarget(p), nil
	}}
}

// FailWith is a Build that always fails with err.
func FailWith[T any](err error) Build[T] {
	return Build[T]{run: func(*evalState) (T, error) {
		var zero T
		return zero, err
	}}
}

// RecordLibDeps records library dependencies for dir as a side channel.
// The concrete executor ignores them; closure queries collect them.
func RecordLibDeps(dir Path, deps ...string) Build[struct{}] {
	return Build[struct{}]{run: func(ev *evalState) (struct{}, error) {
		ev.addLibDeps(dir, deps)
		return struct{}{}, nil
	}}
}

// evalState is the mutable state of one arrow evaluation: the
// accumulated dependency set, realisation futures still to be awaited,
// recorded library dependencies, and the memo stack used to detect
// cyclic memo evaluation. Both runs sub-arrows on separate goroutines
// sharing one evalState, so all mutation goes through mu.
type evalState struct {
	eng       *Engine
	ctx       context.Context
	approx    bool
	targeting Path

	mu        sync.Mutex
	deps      pathSet
	pending   []*future
	libDeps   map[Path][]string
	memoStack []string
}

func newEvalState(eng *Engine, ctx context.Context, approx bool, targeting Path) *evalState {
	return &evalState{
		eng:       eng,
		ctx:       ctx,
		approx:    approx,
		targeting: targeting,
		deps:      make(pathSet),
	}
}

// addDep records p as a dependency and, under concrete evaluation,
// starts realising it. The returned future is settled once p is up to
// date; it is already settled for previously-seen paths that finished.
func (ev *evalState) addDep(p Path) (*future, error) {
	ev.mu.Lock()
	fresh := ev.deps.add(p)
	ev.mu.Unlock()

	if ev.approx {
		return resolvedFuture(nil), nil
	}
	fut, err := ev.eng.waitForFile(ev.ctx, p, ev.targeting)
	if err != nil {
		return nil, err
	}
	if fresh {
		ev.mu.Lock()
		ev.pending = append(ev.pending, fut)
		ev.mu.Unlock()
	}
	return fut, nil
}

func (ev *evalState) contents(p Path) (string, error) {
	fut, err := ev.addDep(p)
	if err != nil {
		return "", err
	}
	if ev.approx {
		return "", nil
	}
	if err := fut.wait(ev.ctx); err != nil {
		return "", err
	}
	data, err := os.ReadFile(ev.eng.resolve(p))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (ev *evalState) addLibDeps(dir Path, deps []string) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.libDeps == nil {
		ev.libDeps = make(map[Path][]string)
	}
	ev.libDeps[dir] = append(ev.libDeps[dir], deps...)
}

// awaitDeps blocks until every dependency realisation started so far
// has settled, returning the first failure.
func (ev *evalState) awaitDeps() error {
	ev.mu.Lock()
	pending := ev.pending
	ev.mu.Unlock()
	for _, fut := range pending {
		if err := fut.wait(ev.ctx); err != nil {
			return err
		}
	}
	return nil
}

func (ev *evalState) sortedDeps() []Path {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.deps.sorted()
}

func (ev *evalState) onMemoStack(name string) bool {
	return slices.Contains(ev.memoStack, name)
}

// child derives an evalState for evaluating a memo body: fresh
// dependency accumulation, same engine/mode/targeting, extended memo
// stack.
func (ev *evalState) child(memoName string) *evalState {
	c := newEvalState(ev.eng, ev.ctx, ev.approx, ev.targeting)
	c.memoStack = append(slices.Clone(ev.memoStack), memoName)
	return c
}

// memoPhase is the three-state lifecycle of a memo cell.
type memoPhase int

const (
	memoUnevaluated memoPhase = iota
	memoEvaluating
	memoEvaluated
)

type memoCell[T any] struct {
	mu      sync.Mutex
	phase   memoPhase
	fut     *future
	value   T
	err     error
	deps    []Path
	libDeps map[Path][]string
}

// Memo is a once-evaluated sub-arrow. The first evaluation runs the
// wrapped Build and records its value together with the dependencies
// it declared; later evaluations replay the recorded dependencies into
// the requesting rule and return the cached value. Concrete and
// approximate evaluations cache independently.
//
// A memo whose body evaluates itself again is a fatal cycle named
// after the memo.
type Memo[T any] struct {
	name     string
	t        Build[T]
	concrete memoCell[T]
	approx   memoCell[T]
}

// NewMemo creates a memo named name wrapping t. The name appears in
// cycle diagnostics, so make it identify the computation.
func NewMemo[T any](name string, t Build[T]) *Memo[T] {
	if name == "" {
		panic("jig.NewMemo: name is required")
	}
	return &Memo[T]{name: name, t: t}
}

// Build returns the memoised arrow.
func (m *Memo[T]) Build() Build[T] {
	return Build[T]{run: func(ev *evalState) (T, error) {
		var zero T
		if ev.onMemoStack(m.name) {
			return zero, &BuildError{Kind: ErrMemoCycle, MemoName: m.name}
		}
		cell := &m.concrete
		if ev.approx {
			cell = &m.approx
		}

		cell.mu.Lock()
		switch cell.phase {
		case memoEvaluated:
			cell.mu.Unlock()
		case memoEvaluating:
			fut := cell.fut
			cell.mu.Unlock()
			if err := fut.wait(ev.ctx); err != nil {
				return zero, err
			}
		case memoUnevaluated:
			cell.phase = memoEvaluating
			cell.fut = newFuture()
			cell.mu.Unlock()

			sub := ev.child(m.name)
			v, err := m.t.run(sub)
			if err == nil {
				err = sub.awaitDeps()
			}

			cell.mu.Lock()
			cell.value, cell.err = v, err
			cell.deps = sub.sortedDeps()
			cell.libDeps = sub.libDeps
			cell.phase = memoEvaluated
			fut := cell.fut
			cell.mu.Unlock()
			fut.resolve(err)
		}

		cell.mu.Lock()
		v, err := cell.value, cell.err
		deps := cell.deps
		libDeps := cell.libDeps
		cell.mu.Unlock()
		if err != nil {
			return zero, err
		}
		// Replay recorded dependencies into the requesting rule so
		// every user of the memo observes the same dependency set.
		for dir, ds := range libDeps {
			ev.addLibDeps(dir, ds)
		}
		for _, d := range deps {
			if _, derr := ev.addDep(d); derr != nil {
				return zero, derr
			}
		}
		return v, nil
	}}
}
