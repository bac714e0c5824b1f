package jig

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Context is a named build flavour. Each context owns a subtree of the
// build directory for its artifacts plus an install directory for
// artifacts promoted out of the build tree.
type Context struct {
	Name string
}

// BuildDirPath returns the context's artifact subtree, _build/<name>.
func (c Context) BuildDirPath() Path {
	return Local(BuildDir).Join(c.Name)
}

// InstallDirPath returns the context's install subtree,
// _build/install/<name>.
func (c Context) InstallDirPath() Path {
	return Local(BuildDir).Join("install").Join(c.Name)
}

// AddContext registers a build context. Contexts determine which
// subtrees target GC sweeps and where the source-copy bridge stages
// sources.
func (e *Engine) AddContext(c Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contexts = append(e.contexts, c)
}

// Contexts returns the registered contexts in registration order.
func (e *Engine) Contexts() []Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Context, len(e.contexts))
	copy(out, e.contexts)
	return out
}

// contextOf extracts the context name from a path inside the build
// directory: the first segment after _build. Paths outside the build
// directory have no context.
func contextOf(p Path) (string, bool) {
	if !p.IsLocal() || !p.InBuildDir() || p.String() == BuildDir {
		return "", false
	}
	rest := strings.TrimPrefix(p.String(), BuildDir+"/")
	name, _, _ := strings.Cut(rest, "/")
	if name == "" || strings.HasPrefix(name, ".") {
		return "", false
	}
	return name, true
}

// SourceFiles enumerates the source files under the engine root: every
// regular file outside the build directory, excluding dot-directories
// (version control, editor state) and dotfiles. Paths are returned
// sorted.
func (e *Engine) SourceFiles() ([]Path, error) {
	var out []Path
	err := filepath.WalkDir(e.root, func(host string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(e.root, host)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if name == BuildDir || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if d.Type().IsRegular() {
			out = append(out, Local(filepath.ToSlash(rel)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortPaths(out)
	return out, nil
}
