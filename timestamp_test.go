package jig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTimestampMemoised(t *testing.T) {
	root := t.TempDir()
	eng := newTestEngine(t, root)

	writeSource(t, root, "a.txt", "one")
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	chtimes(t, filepath.Join(root, "a.txt"), t0)

	got, ok := eng.timestamp(Local("a.txt"))
	if !ok || !got.Equal(t0) {
		t.Fatalf("timestamp = %v, %v; want %v, true", got, ok, t0)
	}

	// A later mtime change is invisible through the per-run cache.
	chtimes(t, filepath.Join(root, "a.txt"), t0.Add(time.Hour))
	got, ok = eng.timestamp(Local("a.txt"))
	if !ok || !got.Equal(t0) {
		t.Errorf("cached timestamp = %v, %v; want %v, true", got, ok, t0)
	}

	// statTimestamp refreshes the cache.
	got, ok = eng.statTimestamp(Local("a.txt"))
	if !ok || !got.Equal(t0.Add(time.Hour)) {
		t.Errorf("statTimestamp = %v, %v; want %v, true", got, ok, t0.Add(time.Hour))
	}
	got, ok = eng.timestamp(Local("a.txt"))
	if !ok || !got.Equal(t0.Add(time.Hour)) {
		t.Errorf("timestamp after refresh = %v, %v", got, ok)
	}
}

func TestTimestampMissing(t *testing.T) {
	eng := newTestEngine(t, t.TempDir())
	if _, ok := eng.timestamp(Local("nope.txt")); ok {
		t.Error("missing file reported present")
	}
}

func TestTimeBounds(t *testing.T) {
	root := t.TempDir()
	eng := newTestEngine(t, root)

	early := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	writeSource(t, root, "early.txt", "")
	writeSource(t, root, "late.txt", "")
	chtimes(t, filepath.Join(root, "early.txt"), early)
	chtimes(t, filepath.Join(root, "late.txt"), late)

	paths := []Path{Local("early.txt"), Local("late.txt")}
	if tb := eng.maxTimestamp(paths); tb.missing || !tb.hasLimit || !tb.limit.Equal(late) {
		t.Errorf("maxTimestamp = %+v", tb)
	}
	if tb := eng.minTimestamp(paths); tb.missing || !tb.hasLimit || !tb.limit.Equal(early) {
		t.Errorf("minTimestamp = %+v", tb)
	}

	withMissing := append(paths, Local("gone.txt"))
	if tb := eng.maxTimestamp(withMissing); !tb.missing || !tb.hasLimit || !tb.limit.Equal(late) {
		t.Errorf("maxTimestamp with missing = %+v", tb)
	}
	if tb := eng.maxTimestamp(nil); tb.missing || tb.hasLimit {
		t.Errorf("maxTimestamp of nothing = %+v", tb)
	}
}

func chtimes(t *testing.T, path string, ts time.Time) {
	t.Helper()
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatal(err)
	}
}
