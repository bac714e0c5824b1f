package jig

import (
	"path"
	"sort"
	"strings"
)

// Path is an abstract filesystem path known to the engine.
// Local paths are slash-separated and relative to the engine root;
// external paths are passed through untouched. Only local paths are
// ever created or mkdir'd by the engine.
type Path struct {
	kind pathKind
	rel  string
}

type pathKind int

const (
	kindLocal pathKind = iota
	kindExternal
)

// BuildDir is the root of the build tree, relative to the engine root.
const BuildDir = "_build"

const (
	sandboxDirName = BuildDir + "/.sandbox"
	traceFileName  = BuildDir + "/.db"
)

// Local returns a local path relative to the engine root.
// The path is cleaned; "" and "." both mean the root itself.
func Local(p string) Path {
	return Path{kind: kindLocal, rel: cleanRel(p)}
}

// External returns a path outside the engine's control, used verbatim.
func External(p string) Path {
	return Path{kind: kindExternal, rel: p}
}

func cleanRel(p string) string {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if p == "/" {
		p = "."
	}
	return strings.TrimPrefix(p, "./")
}

// IsLocal reports whether the path is rooted under the engine root.
func (p Path) IsLocal() bool { return p.kind == kindLocal }

// String returns the slash form of the path.
func (p Path) String() string { return p.rel }

// IsZero reports whether p is the zero Path.
func (p Path) IsZero() bool { return p == Path{} }

// Dir returns the parent of p, staying in the same kind.
func (p Path) Dir() Path {
	return Path{kind: p.kind, rel: path.Dir(p.rel)}
}

// Base returns the last element of p.
func (p Path) Base() string { return path.Base(p.rel) }

// Join returns p with extra elements appended.
func (p Path) Join(elem ...string) Path {
	return Path{kind: p.kind, rel: path.Join(append([]string{p.rel}, elem...)...)}
}

// InBuildDir reports whether a local path lies under the build tree.
func (p Path) InBuildDir() bool {
	return p.kind == kindLocal && (p.rel == BuildDir || strings.HasPrefix(p.rel, BuildDir+"/"))
}

// Within reports whether p equals dir or lies under it.
func (p Path) Within(dir Path) bool {
	if p.kind != dir.kind {
		return false
	}
	return p.rel == dir.rel || strings.HasPrefix(p.rel, dir.rel+"/")
}

// key returns a canonical form that distinguishes path kinds, used for
// hashing and ordering.
func (p Path) key() string {
	if p.kind == kindExternal {
		return "x:" + p.rel
	}
	return "l:" + p.rel
}

// sortPaths orders paths deterministically (local before external,
// then lexicographically).
func sortPaths(ps []Path) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].key() < ps[j].key() })
}

// pathSet is a set of paths with deterministic enumeration.
type pathSet map[Path]struct{}

func newPathSet(ps ...Path) pathSet {
	s := make(pathSet, len(ps))
	for _, p := range ps {
		s[p] = struct{}{}
	}
	return s
}

func (s pathSet) add(p Path) bool {
	if _, ok := s[p]; ok {
		return false
	}
	s[p] = struct{}{}
	return true
}

func (s pathSet) has(p Path) bool {
	_, ok := s[p]
	return ok
}

func (s pathSet) sorted() []Path {
	out := make([]Path, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sortPaths(out)
	return out
}
