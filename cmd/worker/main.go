// Command worker runs the job pool that claims and executes stage jobs.
// It registers every stage handler, starts the SQL/event-bus driven
// jobworker.Pool, and — when EXECUTOR=temporal — also starts the
// Temporal alternate executor so both substrates can claim work from the
// same jobs table during a migration between them.
//
// Grounded on the teacher's cmd/main.go (RUN_WORKER env flag gating
// pool.Start/select{}), split out into its own process per this
// system's three-service split.
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

	if err := a.WorkerPool.Start(ctx); err != nil {
		a.Log.Fatal("worker pool failed to start", "error", err)
	}
	a.Log.Info("worker pool started", "registered_types", a.Registry.RegisteredTypes())

	if a.Temporal != nil {
		if err := a.Temporal.Start(ctx); err != nil {
			a.Log.Fatal("temporal runner failed to start", "error", err)
		}
		a.Log.Info("temporal runner started")
	}

	<-ctx.Done()
	a.Log.Info("worker shutting down")
}
