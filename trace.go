package jig

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// traceStore maps each target to the hex digest of the
// (deps, targets, action) triple last used to build it. It is the only
// engine state that survives across invocations.
type traceStore map[Path]string

// digestRule computes the rule hash recorded in the trace: a blake3
// digest over the sorted dependency set, the sorted target set and the
// action's canonical form.
func digestRule(deps, targets []Path, action Action) string {
	b := make([]byte, 0, 256)
	b = appendHashString(b, "deps")
	for _, p := range deps {
		b = appendHashPath(b, p)
	}
	b = appendHashString(b, "targets")
	for _, p := range targets {
		b = appendHashPath(b, p)
	}
	b = appendHashString(b, "action")
	b = action.AppendHash(b)
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// The trace file is a single S-expression: a list of (path digest)
// pairs, one per line, written in sorted path order.
//
//	(
//	 ("_build/default/a.o" "3fa2...")
//	)

// loadTrace reads the trace from path. A missing file is an empty
// trace; anything unparsable is surfaced as an error.
func loadTrace(path string) (traceStore, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(traceStore), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return parseTrace(string(data))
}

func parseTrace(src string) (traceStore, error) {
	p := &sexpParser{src: src}
	trace := make(traceStore)
	if err := p.expect('('); err != nil {
		return nil, fmt.Errorf("parse trace: %w", err)
	}
	for {
		p.skipSpace()
		if p.peek() == ')' {
			p.pos++
			break
		}
		if err := p.expect('('); err != nil {
			return nil, fmt.Errorf("parse trace: %w", err)
		}
		target, err := p.quotedString()
		if err != nil {
			return nil, fmt.Errorf("parse trace: %w", err)
		}
		digest, err := p.quotedString()
		if err != nil {
			return nil, fmt.Errorf("parse trace: %w", err)
		}
		if err := p.expect(')'); err != nil {
			return nil, fmt.Errorf("parse trace: %w", err)
		}
		trace[Local(target)] = digest
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("parse trace: trailing data at offset %d", p.pos)
	}
	return trace, nil
}

// dump writes the trace to path atomically (write-then-rename).
func (t traceStore) dump(path string) error {
	keys := make([]string, 0, len(t))
	byKey := make(map[string]string, len(t))
	for p, digest := range t {
		keys = append(keys, p.String())
		byKey[p.String()] = digest
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("(\n")
	for _, k := range keys {
		fmt.Fprintf(&b, " (%s %s)\n", strconv.Quote(k), strconv.Quote(byKey[k]))
	}
	b.WriteString(")\n")

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

// sexpParser is a minimal reader for the trace format above.
type sexpParser struct {
	src string
	pos int
}

func (p *sexpParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *sexpParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *sexpParser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		return fmt.Errorf("expected %q at offset %d", string(c), p.pos)
	}
	p.pos++
	return nil
}

func (p *sexpParser) quotedString() (string, error) {
	p.skipSpace()
	if p.peek() != '"' {
		return "", fmt.Errorf("expected string at offset %d", p.pos)
	}
	quoted, err := strconv.QuotedPrefix(p.src[p.pos:])
	if err != nil {
		return "", fmt.Errorf("bad string at offset %d: %w", p.pos, err)
	}
	p.pos += len(quoted)
	return strconv.Unquote(quoted)
}
