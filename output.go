package jig

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Output holds stdout and stderr writers for engine and action output.
// It is passed down into actions so their process output lands in the
// right place.
type Output struct {
	Stdout io.Writer
	Stderr io.Writer

	mu sync.Mutex
}

// StdOutput returns an Output that writes to os.Stdout and os.Stderr.
func StdOutput() *Output {
	return &Output{Stdout: os.Stdout, Stderr: os.Stderr}
}

// Printf formats and prints to stdout.
func (o *Output) Printf(format string, a ...any) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fmt.Fprintf(o.Stdout, format, a...)
}

// Println prints to stdout with a newline.
func (o *Output) Println(a ...any) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fmt.Fprintln(o.Stdout, a...)
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	warnColor   = color.New(color.FgYellow)
)

// headerf prints a rule header line to stdout in the header color.
func (o *Output) headerf(format string, a ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, _ = headerColor.Fprintf(o.Stdout, format, a...)
}

// warnf prints a warning line to stderr in the warning color.
func (o *Output) warnf(format string, a ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, _ = warnColor.Fprintf(o.Stderr, format, a...)
}

// bufferedOutput captures output to buffers for later printing, so
// concurrent rules do not interleave their process output. Parent
// writers are where the buffer flushes to.
type bufferedOutput struct {
	parent *Output
	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// newBufferedOutput creates a bufferedOutput that flushes to the given parent.
func newBufferedOutput(parent *Output) *bufferedOutput {
	return &bufferedOutput{parent: parent}
}

// Flush writes all buffered output to the parent output.
func (b *bufferedOutput) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parent.mu.Lock()
	defer b.parent.mu.Unlock()
	_, _ = io.Copy(b.parent.Stdout, &b.stdout)
	_, _ = io.Copy(b.parent.Stderr, &b.stderr)
}

// Output returns an Output that writes to the buffers.
func (b *bufferedOutput) Output() *Output {
	return &Output{
		Stdout: &lockedWriter{mu: &b.mu, w: &b.stdout},
		Stderr: &lockedWriter{mu: &b.mu, w: &b.stderr},
	}
}

// lockedWriter wraps a writer with a mutex for safe concurrent writes.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
