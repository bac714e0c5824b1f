package jig

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// sandbox is a throwaway directory under _build/.sandbox in which an
// action runs isolated from the build tree. Dependencies are linked
// in, updated-in-place targets are copied in, and produced targets are
// moved back out on commit. The directory is named after the rule hash
// so a failed action leaves an inspectable trail.
type sandbox struct {
	eng *Engine
	dir Path
}

// newSandbox stages a fresh sandbox for one rule execution. deps are
// symlinked in (copied on Windows), members of updated are copied so
// the action can rewrite them in place.
func (e *Engine) newSandbox(hash string, deps, targets []Path, updated pathSet) (*sandbox, error) {
	sb := &sandbox{
		eng: e,
		dir: Local(sandboxDirName).Join(hash),
	}
	host := e.resolve(sb.dir)
	if err := os.RemoveAll(host); err != nil {
		return nil, fmt.Errorf("reset sandbox %s: %w", sb.dir, err)
	}
	if err := os.MkdirAll(host, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox %s: %w", sb.dir, err)
	}

	for _, p := range deps {
		if !p.IsLocal() {
			continue
		}
		if err := sb.link(p); err != nil {
			return nil, err
		}
	}
	for _, t := range targets {
		if !t.IsLocal() {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(e.resolve(sb.rewrite(t))), 0o755); err != nil {
			return nil, fmt.Errorf("create sandbox dir for %s: %w", t, err)
		}
		if t.IsLocal() && updated.has(t) {
			if err := copyFile(e.resolve(t), e.resolve(sb.rewrite(t))); err != nil {
				return nil, fmt.Errorf("stage %s into sandbox: %w", t, err)
			}
		}
	}
	return sb, nil
}

// rewrite maps a local path to its location inside the sandbox.
// External paths never enter here; Action.Sandboxed filters them.
func (sb *sandbox) rewrite(p Path) Path {
	return sb.dir.Join(p.String())
}

// link makes dep visible inside the sandbox. Relative symlinks keep
// the sandbox relocatable; Windows falls back to copying since
// symlinks need elevated privileges there.
func (sb *sandbox) link(dep Path) error {
	src := sb.eng.resolve(dep)
	dst := sb.eng.resolve(sb.rewrite(dep))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create sandbox dir for %s: %w", dep, err)
	}
	if runtime.GOOS == "windows" {
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("stage %s into sandbox: %w", dep, err)
		}
		return nil
	}
	rel, err := filepath.Rel(filepath.Dir(dst), src)
	if err != nil {
		return fmt.Errorf("relative path for %s: %w", dep, err)
	}
	if err := os.Symlink(rel, dst); err != nil {
		return fmt.Errorf("link %s into sandbox: %w", dep, err)
	}
	return nil
}

// commit moves the targets the action produced back to their real
// locations. Targets the action failed to produce are skipped here;
// the caller detects them when it stats the real paths afterwards.
func (sb *sandbox) commit(targets []Path) error {
	for _, t := range targets {
		if !t.IsLocal() {
			continue
		}
		staged := sb.eng.resolve(sb.rewrite(t))
		if _, err := os.Lstat(staged); err != nil {
			continue
		}
		real := sb.eng.resolve(t)
		if err := os.Remove(real); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("replace %s: %w", t, err)
		}
		if err := os.Rename(staged, real); err != nil {
			// Rename can fail across filesystems; fall back to a copy.
			if cpErr := copyFile(staged, real); cpErr != nil {
				return fmt.Errorf("commit %s: %w", t, err)
			}
		}
	}
	return nil
}

// remove deletes the sandbox directory. Called only after a successful
// commit; failed actions keep theirs for inspection.
func (sb *sandbox) remove() {
	_ = os.RemoveAll(sb.eng.resolve(sb.dir))
}
