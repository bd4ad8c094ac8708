// Command voiceqa is the voice question daemon and its control client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/itshop/voiceqa/internal/app"
)

// main cancels the run context on SIGINT or SIGTERM so serve can release its socket.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(exitCode)
}
