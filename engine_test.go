package jig

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, root string, opts ...Option) *Engine {
	t.Helper()
	all := append([]Option{WithOutput(&Output{Stdout: io.Discard, Stderr: io.Discard})}, opts...)
	eng, err := New(root, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func writeSource(t *testing.T, root, rel, data string) {
	t.Helper()
	host := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(host, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustAdd(t *testing.T, e *Engine, pr PreRule) {
	t.Helper()
	if err := e.AddPreRule(pr); err != nil {
		t.Fatalf("AddPreRule: %v", err)
	}
}

// staticRule declares fixed deps and returns a fixed action.
func staticRule(deps []Path, action Action, targets ...Path) PreRule {
	return PreRule{
		Build:   Map(DeclareDeps(deps...), func(struct{}) Action { return action }),
		Targets: targets,
	}
}

// buildWith runs one full engine invocation: register, build, close.
func buildWith(t *testing.T, root string, register func(*Engine), targets ...Path) error {
	t.Helper()
	eng := newTestEngine(t, root)
	register(eng)
	err := eng.DoBuild(context.Background(), targets...)
	if cerr := eng.Close(); err == nil {
		err = cerr
	}
	return err
}

// countedAction wraps an action and counts executions across engine
// invocations.
type countedAction struct {
	Action
	runs *atomic.Int32
}

func (a *countedAction) Exec(ctx context.Context, env *ActionEnv) error {
	a.runs.Add(1)
	return a.Action.Exec(ctx, env)
}

func (a *countedAction) Sandboxed(rewrite func(Path) Path) Action {
	return &countedAction{Action: a.Action.Sandboxed(rewrite), runs: a.runs}
}

// writePairAction produces two files from one action.
type writePairAction struct {
	first, second Path
}

func (a *writePairAction) AppendHash(b []byte) []byte {
	b = appendHashString(b, "writepair")
	b = appendHashPath(b, a.first)
	return appendHashPath(b, a.second)
}

func (a *writePairAction) Dir() Path            { return a.first.Dir() }
func (a *writePairAction) UpdatedFiles() []Path { return nil }

func (a *writePairAction) Sandboxed(rewrite func(Path) Path) Action {
	return &writePairAction{
		first:  rewriteLocal(a.first, rewrite),
		second: rewriteLocal(a.second, rewrite),
	}
}

func (a *writePairAction) Exec(ctx context.Context, env *ActionEnv) error {
	if err := os.WriteFile(env.Resolve(a.first), []byte("one"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(env.Resolve(a.second), []byte("two"), 0o644)
}

// failAction always fails without touching the filesystem.
type failAction struct {
	dir Path
}

func (a *failAction) AppendHash(b []byte) []byte { return appendHashString(b, "fail") }
func (a *failAction) Dir() Path                  { return a.dir }
func (a *failAction) UpdatedFiles() []Path       { return nil }
func (a *failAction) Sandboxed(func(Path) Path) Action {
	return a
}
func (a *failAction) Exec(context.Context, *ActionEnv) error {
	return errors.New("boom")
}

// nopAction succeeds without producing anything.
type nopAction struct {
	dir Path
}

func (a *nopAction) AppendHash(b []byte) []byte       { return appendHashString(b, "nop") }
func (a *nopAction) Dir() Path                        { return a.dir }
func (a *nopAction) UpdatedFiles() []Path             { return nil }
func (a *nopAction) Sandboxed(func(Path) Path) Action { return a }
func (a *nopAction) Exec(context.Context, *ActionEnv) error {
	return nil
}

func TestBasicRebuild(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.txt", "hello")
	past := time.Now().Add(-time.Hour)
	chtimes(t, filepath.Join(root, "a.txt"), past)

	var runs atomic.Int32
	target := Local("_build/default/b.txt")
	register := func(e *Engine) {
		action := &countedAction{
			Action: &CopyFileAction{Src: Local("a.txt"), Dst: target},
			runs:   &runs,
		}
		mustAdd(t, e, staticRule([]Path{Local("a.txt")}, action, target))
	}

	// First build runs the action and produces the target.
	if err := buildWith(t, root, register, target); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("first build ran %d actions, want 1", runs.Load())
	}
	data, err := os.ReadFile(filepath.Join(root, "_build", "default", "b.txt"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("target contents = %q, %v", data, err)
	}

	// Unchanged inputs: nothing to do.
	if err := buildWith(t, root, register, target); err != nil {
		t.Fatalf("second build: %v", err)
	}
	if runs.Load() != 1 {
		t.Errorf("second build ran %d actions, want 1", runs.Load())
	}

	// Touching the dependency newer than the target reruns.
	chtimes(t, filepath.Join(root, "a.txt"), time.Now().Add(time.Hour))
	if err := buildWith(t, root, register, target); err != nil {
		t.Fatalf("third build: %v", err)
	}
	if runs.Load() != 2 {
		t.Errorf("third build ran %d actions, want 2", runs.Load())
	}

	// Deleting the target reruns.
	if err := os.Remove(filepath.Join(root, "_build", "default", "b.txt")); err != nil {
		t.Fatal(err)
	}
	if err := buildWith(t, root, register, target); err != nil {
		t.Fatalf("fourth build: %v", err)
	}
	if runs.Load() != 3 {
		t.Errorf("fourth build ran %d actions, want 3", runs.Load())
	}
}

func TestMultiTargetRuleRunsOnce(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "src.txt", "x")

	var runs atomic.Int32
	t1 := Local("_build/default/one.txt")
	t2 := Local("_build/default/two.txt")

	eng := newTestEngine(t, root)
	action := &countedAction{
		Action: &writePairAction{first: t1, second: t2},
		runs:   &runs,
	}
	mustAdd(t, eng, staticRule([]Path{Local("src.txt")}, action, t1, t2))

	r1, ok1 := eng.findRule(t1)
	r2, ok2 := eng.findRule(t2)
	if !ok1 || !ok2 || r1 != r2 {
		t.Fatal("aliased targets do not share one rule instance")
	}

	if err := eng.DoBuild(context.Background(), t1, t2); err != nil {
		t.Fatalf("DoBuild: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatal(err)
	}
	if runs.Load() != 1 {
		t.Errorf("action ran %d times, want 1", runs.Load())
	}
	for _, p := range []string{"one.txt", "two.txt"} {
		if _, err := os.Stat(filepath.Join(root, "_build", "default", p)); err != nil {
			t.Errorf("target %s missing: %v", p, err)
		}
	}
}

func TestDependencyCycle(t *testing.T) {
	root := t.TempDir()
	x := Local("_build/default/x")
	y := Local("_build/default/y")

	err := buildWith(t, root, func(e *Engine) {
		mustAdd(t, e, staticRule([]Path{y}, &writePairAction{first: x, second: x}, x))
		mustAdd(t, e, staticRule([]Path{x}, &writePairAction{first: y, second: y}, y))
	}, x)
	var be *BuildError
	if !errors.As(err, &be) || be.Kind != ErrCycle {
		t.Fatalf("err = %v, want cycle", err)
	}
	if len(be.Files) < 3 || be.Files[0] != be.Files[len(be.Files)-1] {
		t.Errorf("cycle path = %v", be.Files)
	}
	if !strings.Contains(err.Error(), "dependency cycle") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestMissingSource(t *testing.T) {
	root := t.TempDir()
	target := Local("_build/default/out")
	err := buildWith(t, root, func(e *Engine) {
		mustAdd(t, e, staticRule([]Path{Local("ghost.txt")}, &nopAction{dir: target.Dir()}, target))
	}, target)
	var be *BuildError
	if !errors.As(err, &be) || be.Kind != ErrSourceMissing {
		t.Fatalf("err = %v, want missing source", err)
	}
}

func TestNoRuleForBuildPath(t *testing.T) {
	err := buildWith(t, t.TempDir(), func(*Engine) {}, Local("_build/default/nope"))
	var be *BuildError
	if !errors.As(err, &be) || be.Kind != ErrNoRule {
		t.Fatalf("err = %v, want no rule", err)
	}
}

func TestRequestSourceDirectly(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "s.txt", "src")
	if err := buildWith(t, root, func(*Engine) {}, Local("s.txt")); err != nil {
		t.Fatalf("building a source: %v", err)
	}
}

func TestNoDepsRuleAlwaysRuns(t *testing.T) {
	root := t.TempDir()
	target := Local("_build/default/stamp")
	var runs atomic.Int32

	build := func() string {
		var stderr bytes.Buffer
		eng := newTestEngine(t, root, WithOutput(&Output{Stdout: io.Discard, Stderr: &stderr}))
		action := &countedAction{
			Action: &WriteFileAction{Target: target, Data: "stamp"},
			runs:   &runs,
		}
		mustAdd(t, eng, staticRule(nil, action, target))
		if err := eng.DoBuild(context.Background(), target); err != nil {
			t.Fatalf("DoBuild: %v", err)
		}
		if err := eng.Close(); err != nil {
			t.Fatal(err)
		}
		return stderr.String()
	}

	if out := build(); runs.Load() != 1 {
		t.Fatalf("first build ran %d actions (stderr %q)", runs.Load(), out)
	}
	out := build()
	if runs.Load() != 2 {
		t.Errorf("dependency-free rule did not rerun: %d runs", runs.Load())
	}
	if !strings.Contains(out, "no dependencies") {
		t.Errorf("stderr = %q, want rerun warning", out)
	}
}

func TestTargetsNotGenerated(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.txt", "x")
	target := Local("_build/default/never")
	err := buildWith(t, root, func(e *Engine) {
		mustAdd(t, e, staticRule([]Path{Local("a.txt")}, &nopAction{dir: target.Dir()}, target))
	}, target)
	var be *BuildError
	if !errors.As(err, &be) || be.Kind != ErrTargetsNotGenerated {
		t.Fatalf("err = %v, want targets-not-generated", err)
	}
	if len(be.Files) != 1 || be.Files[0] != target {
		t.Errorf("Files = %v", be.Files)
	}
}

func TestActionFailureAttribution(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.txt", "x")
	inner := Local("_build/default/inner")
	outer := Local("_build/default/outer")

	err := buildWith(t, root, func(e *Engine) {
		mustAdd(t, e, staticRule([]Path{Local("a.txt")}, &failAction{dir: inner.Dir()}, inner))
		mustAdd(t, e, staticRule([]Path{inner}, &nopAction{dir: outer.Dir()}, outer))
	}, outer)

	var be *BuildError
	if !errors.As(err, &be) || be.Kind != ErrActionFailed {
		t.Fatalf("err = %v, want action failure", err)
	}
	if be.Files[0] != inner {
		t.Errorf("failure attributed to %v, want %v", be.Files, inner)
	}
	if len(be.DepPath) != 2 || be.DepPath[0] != inner || be.DepPath[1] != outer {
		t.Errorf("DepPath = %v, want [%v %v]", be.DepPath, inner, outer)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("message lost the cause: %q", err.Error())
	}
}

func TestCloseCleansPendingTargets(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.txt", "x")
	target := Local("_build/default/half")
	// Seed a stale target so the failed run has something to unlink.
	writeSource(t, root, target.String(), "stale")

	eng := newTestEngine(t, root)
	mustAdd(t, eng, staticRule([]Path{Local("a.txt")}, &failAction{dir: target.Dir()}, target))
	if err := eng.DoBuild(context.Background(), target); err == nil {
		t.Fatal("build unexpectedly succeeded")
	}
	if err := eng.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "_build", "default", "half")); !os.IsNotExist(err) {
		t.Errorf("half-written target survived Close: %v", err)
	}
}

func TestTraceSurvivesInvocations(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.txt", "x")
	target := Local("_build/default/out")
	register := func(e *Engine) {
		mustAdd(t, e, staticRule([]Path{Local("a.txt")}, &WriteFileAction{Target: target, Data: "v"}, target))
	}
	if err := buildWith(t, root, register, target); err != nil {
		t.Fatal(err)
	}

	eng := newTestEngine(t, root)
	register(eng)
	trace := eng.Trace()
	if _, ok := trace[target.String()]; !ok {
		t.Errorf("trace lost entry for %s: %v", target, trace)
	}
	if err := eng.Close(); err != nil {
		t.Fatal(err)
	}
}
