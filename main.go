// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/cmd"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/observability"
)

const panicLogFile = "panic.log"

func main() {
	defer handlePanic()

	// Ctrl+C cancels the run; open watches unwind through their contexts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		stop()
		os.Exit(1)
	}
}

// handlePanic records the stack to panic.log before exiting.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	msg := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := os.WriteFile(panicLogFile, []byte(msg), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write panic log: %v\n%s\n", err, msg)
	} else {
		fmt.Fprintf(os.Stderr, "nox crashed; details written to %s\n", panicLogFile)
	}
	os.Exit(2)
}
