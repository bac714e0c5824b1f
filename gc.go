package jig

import (
	"os"
	"path/filepath"
)

// RemoveOldArtifacts deletes files under each context's build and
// install directories that no registered rule promises, and prunes
// directories left empty. Run it before building so stale artifacts
// from earlier rule sets cannot masquerade as inputs.
func (e *Engine) RemoveOldArtifacts() error {
	for _, c := range e.Contexts() {
		for _, dir := range []Path{c.BuildDirPath(), c.InstallDirPath()} {
			if _, err := e.sweepDir(dir); err != nil {
				return err
			}
		}
	}
	return nil
}

// sweepDir removes untracked files below dir and reports whether dir
// ended up empty (in which case it has already been removed).
func (e *Engine) sweepDir(dir Path) (removed bool, err error) {
	host := e.resolve(dir)
	entries, err := os.ReadDir(host)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	kept := 0
	for _, entry := range entries {
		p := dir.Join(entry.Name())
		if entry.IsDir() {
			sub, err := e.sweepDir(p)
			if err != nil {
				return false, err
			}
			if !sub {
				kept++
			}
			continue
		}
		if e.IsTarget(p) {
			kept++
			continue
		}
		if err := os.Remove(filepath.Join(host, entry.Name())); err != nil {
			return false, err
		}
	}
	if kept > 0 {
		return false, nil
	}
	if err := os.Remove(host); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return true, nil
}
