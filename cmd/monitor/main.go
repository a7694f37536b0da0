// Command monitor runs the periodic sweep loop that requeues stale
// RUNNING jobs and backoff-eligible FAILED jobs. It owns no HTTP surface
// and claims no jobs itself.
//
// Grounded on the teacher's cmd/main.go env-flag-gated service split,
// carried further here into a dedicated third process per this system's
// Coordinator/Worker/Monitor service table.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/neurobridge-labs/reelforge/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		panic(err)
	}
	defer a.Close()

	a.Monitor.Start(ctx, a.Config.MonitorFrequency)
	a.Log.Info("monitor started", "frequency", a.Config.MonitorFrequency)

	<-ctx.Done()
	a.Log.Info("monitor shutting down")
}
