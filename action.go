package jig

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ActionEnv provides an action with everything it needs from the
// engine at execution time: path resolution against the engine root,
// the declared targets, and output writers.
type ActionEnv struct {
	Targets []Path
	Out     *Output
	Resolve func(Path) string
}

// Action is an executable step produced by a rule's Build arrow.
// The engine treats actions as opaque: it hashes their canonical form
// into the rule trace, rewrites their paths when sandboxing, and
// executes them once dependencies are up to date.
type Action interface {
	// AppendHash appends a canonical, collision-free encoding of the
	// action to b. Two actions with the same encoding are considered
	// interchangeable by the freshness check.
	AppendHash(b []byte) []byte

	// Dir returns the directory the action runs in. The engine ensures
	// it exists before execution.
	Dir() Path

	// UpdatedFiles returns the declared targets the action updates in
	// place. These are not deleted before the action runs.
	UpdatedFiles() []Path

	// Sandboxed returns a copy of the action with every local path
	// rewritten through rewrite. External paths are left untouched.
	Sandboxed(rewrite func(Path) Path) Action

	// Exec runs the action. It must be safe to call from any goroutine.
	Exec(ctx context.Context, env *ActionEnv) error
}

func rewriteLocal(p Path, rewrite func(Path) Path) Path {
	if p.IsLocal() {
		return rewrite(p)
	}
	return p
}

func appendHashPath(b []byte, p Path) []byte {
	b = append(b, p.key()...)
	return append(b, 0)
}

func appendHashString(b []byte, s string) []byte {
	b = append(b, s...)
	return append(b, 0)
}

// RunAction invokes a process with the given argv in DirPath.
// Updates lists declared targets the process rewrites in place rather
// than recreating.
type RunAction struct {
	DirPath Path
	Argv    []string
	Updates []Path
}

func (a *RunAction) AppendHash(b []byte) []byte {
	b = appendHashString(b, "run")
	b = appendHashPath(b, a.DirPath)
	for _, arg := range a.Argv {
		b = appendHashString(b, arg)
	}
	for _, p := range a.Updates {
		b = appendHashPath(b, p)
	}
	return b
}

func (a *RunAction) Dir() Path            { return a.DirPath }
func (a *RunAction) UpdatedFiles() []Path { return a.Updates }

func (a *RunAction) Sandboxed(rewrite func(Path) Path) Action {
	cp := &RunAction{
		DirPath: rewriteLocal(a.DirPath, rewrite),
		Argv:    a.Argv,
	}
	for _, p := range a.Updates {
		cp.Updates = append(cp.Updates, rewriteLocal(p, rewrite))
	}
	return cp
}

func (a *RunAction) Exec(ctx context.Context, env *ActionEnv) error {
	if len(a.Argv) == 0 {
		return fmt.Errorf("run action: empty argv")
	}
	cmd := commandBase(ctx, a.Argv[0], a.Argv[1:]...)
	cmd.Dir = env.Resolve(a.DirPath)
	cmd.Stdout = env.Out.Stdout
	cmd.Stderr = env.Out.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", strings.Join(a.Argv, " "), err)
	}
	return nil
}

// CopyFileAction copies Src to Dst. The source-copy bridge synthesises
// these for every source file staged into a context's build directory.
type CopyFileAction struct {
	Src Path
	Dst Path
}

func (a *CopyFileAction) AppendHash(b []byte) []byte {
	b = appendHashString(b, "copy")
	b = appendHashPath(b, a.Src)
	return appendHashPath(b, a.Dst)
}

func (a *CopyFileAction) Dir() Path            { return a.Dst.Dir() }
func (a *CopyFileAction) UpdatedFiles() []Path { return nil }

func (a *CopyFileAction) Sandboxed(rewrite func(Path) Path) Action {
	return &CopyFileAction{
		Src: rewriteLocal(a.Src, rewrite),
		Dst: rewriteLocal(a.Dst, rewrite),
	}
}

func (a *CopyFileAction) Exec(ctx context.Context, env *ActionEnv) error {
	if err := copyFile(env.Resolve(a.Src), env.Resolve(a.Dst)); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", a.Src, a.Dst, err)
	}
	return nil
}

// WriteFileAction writes Data to Target.
type WriteFileAction struct {
	Target Path
	Data   string
}

func (a *WriteFileAction) AppendHash(b []byte) []byte {
	b = appendHashString(b, "write")
	b = appendHashPath(b, a.Target)
	return appendHashString(b, a.Data)
}

func (a *WriteFileAction) Dir() Path            { return a.Target.Dir() }
func (a *WriteFileAction) UpdatedFiles() []Path { return nil }

func (a *WriteFileAction) Sandboxed(rewrite func(Path) Path) Action {
	return &WriteFileAction{
		Target: rewriteLocal(a.Target, rewrite),
		Data:   a.Data,
	}
}

func (a *WriteFileAction) Exec(ctx context.Context, env *ActionEnv) error {
	if err := os.WriteFile(env.Resolve(a.Target), []byte(a.Data), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", a.Target, err)
	}
	return nil
}
