package jig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func sandboxEntries(t *testing.T, root string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "_build", ".sandbox"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestSandboxedRuleCommitsTargets(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "in.txt", "payload")
	target := Local("_build/default/out.txt")

	pr := staticRule([]Path{Local("in.txt")}, &CopyFileAction{Src: Local("in.txt"), Dst: target}, target)
	pr.Sandbox = true
	err := buildWith(t, root, func(e *Engine) { mustAdd(t, e, pr) }, target)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "_build", "default", "out.txt"))
	if err != nil || string(data) != "payload" {
		t.Fatalf("committed target = %q, %v", data, err)
	}
	if entries := sandboxEntries(t, root); len(entries) != 0 {
		t.Errorf("sandbox left behind after success: %v", entries)
	}
}

func TestSandboxKeptOnFailure(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "in.txt", "payload")
	target := Local("_build/default/out.txt")

	pr := staticRule([]Path{Local("in.txt")}, &failAction{dir: target.Dir()}, target)
	pr.Sandbox = true
	err := buildWith(t, root, func(e *Engine) { mustAdd(t, e, pr) }, target)
	if err == nil {
		t.Fatal("build unexpectedly succeeded")
	}
	if entries := sandboxEntries(t, root); len(entries) != 1 {
		t.Errorf("failed sandbox not kept for inspection: %v", entries)
	}
}

func TestSandboxStagesUpdatedTargets(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "in.txt", "fresh")
	target := Local("_build/default/log.txt")
	writeSource(t, root, target.String(), "previous\n")

	action := &appendAction{src: Local("in.txt"), dst: target}
	pr := staticRule([]Path{Local("in.txt")}, action, target)
	pr.Sandbox = true
	err := buildWith(t, root, func(e *Engine) { mustAdd(t, e, pr) }, target)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "_build", "default", "log.txt"))
	if err != nil || string(data) != "previous\nfresh" {
		t.Fatalf("updated target = %q, %v", data, err)
	}
}

// appendAction appends src's contents to dst, which it updates in
// place rather than recreating.
type appendAction struct {
	src, dst Path
}

func (a *appendAction) AppendHash(b []byte) []byte {
	b = appendHashString(b, "append")
	b = appendHashPath(b, a.src)
	return appendHashPath(b, a.dst)
}

func (a *appendAction) Dir() Path            { return a.dst.Dir() }
func (a *appendAction) UpdatedFiles() []Path { return []Path{a.dst} }

func (a *appendAction) Sandboxed(rewrite func(Path) Path) Action {
	return &appendAction{
		src: rewriteLocal(a.src, rewrite),
		dst: rewriteLocal(a.dst, rewrite),
	}
}

func (a *appendAction) Exec(ctx context.Context, env *ActionEnv) error {
	data, err := os.ReadFile(env.Resolve(a.src))
	if err != nil {
		return err
	}
	f, err := os.OpenFile(env.Resolve(a.dst), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
