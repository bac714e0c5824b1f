package jig

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/term"
)

// WaitDelay is the grace period given to child processes to handle
// termination signals before being force-killed.
const WaitDelay = 5 * time.Second

var (
	colorEnvOnce sync.Once
	colorEnvVars []string // extra env vars to force colors
)

// colorForceEnvVars are the environment variables set to force color output.
var colorForceEnvVars = []string{
	"FORCE_COLOR=1",       // Node.js, chalk, many modern tools
	"CLICOLOR_FORCE=1",    // BSD/macOS convention
	"COLORTERM=truecolor", // Indicates color support
}

// computeColorEnv determines which color env vars to use.
// isTTY: whether stdout is a terminal
// noColorSet: whether NO_COLOR env var is set.
func computeColorEnv(isTTY, noColorSet bool) []string {
	// Respect NO_COLOR convention (https://no-color.org/).
	if noColorSet {
		return nil
	}
	// Only force colors if stdout is a terminal.
	if !isTTY {
		return nil
	}
	return colorForceEnvVars
}

// initColorEnv detects if stdout is a TTY and prepares env vars to
// force colors. Called once on first commandBase call.
func initColorEnv() {
	_, noColor := os.LookupEnv("NO_COLOR")
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	colorEnvVars = computeColorEnv(isTTY, noColor)
}

// commandBase creates an exec.Cmd for an action process with graceful
// shutdown configured. When the context is cancelled, the process
// receives SIGINT first, then SIGKILL after WaitDelay.
//
// If stdout is a TTY, color-forcing environment variables are added so
// that tools output ANSI colors even when their output is buffered.
func commandBase(ctx context.Context, name string, args ...string) *exec.Cmd {
	colorEnvOnce.Do(initColorEnv)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), colorEnvVars...)
	setGracefulShutdown(cmd)
	return cmd
}

// setGracefulShutdown configures a command for graceful shutdown.
// When the context is cancelled, the process receives SIGINT first,
// then SIGKILL after WaitDelay if still running.
func setGracefulShutdown(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = WaitDelay
}
