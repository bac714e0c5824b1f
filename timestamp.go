package jig

import (
	"os"
	"time"
)

// tsEntry is a memoised lstat result. A zero mtime with present=false
// means the file could not be statted.
type tsEntry struct {
	present bool
	mtime   time.Time
}

// timestamp returns the mtime of p, memoised for the duration of the
// run. Symbolic links are not followed. Any stat failure reads as
// "missing".
func (e *Engine) timestamp(p Path) (time.Time, bool) {
	e.mu.Lock()
	if ts, ok := e.timestamps[p]; ok {
		e.mu.Unlock()
		return ts.mtime, ts.present
	}
	e.mu.Unlock()

	return e.statTimestamp(p)
}

// statTimestamp stats p unconditionally and refreshes the cache.
// Used after an action runs, when the cached value is known stale.
func (e *Engine) statTimestamp(p Path) (time.Time, bool) {
	var entry tsEntry
	if info, err := os.Lstat(e.resolve(p)); err == nil {
		entry = tsEntry{present: true, mtime: info.ModTime()}
	}

	e.mu.Lock()
	e.timestamps[p] = entry
	e.mu.Unlock()
	return entry.mtime, entry.present
}

// timeBound is the result of folding timestamps over a path set:
// whether any path was missing, and the merge-reduced mtime of the
// present ones (hasLimit is false when no path was present).
type timeBound struct {
	missing  bool
	hasLimit bool
	limit    time.Time
}

func (e *Engine) mergeTimestamp(paths []Path, merge func(a, b time.Time) time.Time) timeBound {
	var tb timeBound
	for _, p := range paths {
		mtime, ok := e.timestamp(p)
		if !ok {
			tb.missing = true
			continue
		}
		if !tb.hasLimit {
			tb.hasLimit = true
			tb.limit = mtime
		} else {
			tb.limit = merge(tb.limit, mtime)
		}
	}
	return tb
}

// maxTimestamp is the newest mtime over paths.
func (e *Engine) maxTimestamp(paths []Path) timeBound {
	return e.mergeTimestamp(paths, func(a, b time.Time) time.Time {
		if b.After(a) {
			return b
		}
		return a
	})
}

// minTimestamp is the oldest mtime over paths.
func (e *Engine) minTimestamp(paths []Path) timeBound {
	return e.mergeTimestamp(paths, func(a, b time.Time) time.Time {
		if b.Before(a) {
			return b
		}
		return a
	})
}
