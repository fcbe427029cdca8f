// File: cmd/dashprobe/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/dashprobe/cmd"
	"github.com/xkilldash9x/dashprobe/internal/observability"
)

// Exit codes: 1 when a run failed or was interrupted, 2 when the invocation
// itself was invalid.
const (
	exitOK     = 0
	exitFailed = 1
	exitError  = 2
)

var osExit = os.Exit

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osExit(exitCode(cmd.Execute(ctx)))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, cmd.ErrVerificationFailed):
		return exitFailed
	case errors.Is(err, context.Canceled):
		// Interrupted; sessions were already torn down on the way out.
		return exitFailed
	default:
		return exitError
	}
}

func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()
		fmt.Fprintf(os.Stderr, "panic: %v\n\n%s\n", r, debug.Stack())
		osExit(exitError)
	}
}
