// Command coordinator runs the HTTP command surface: it accepts
// START_PIPELINE/RESUME_PIPELINE/REGENERATE_*/UPDATE_SCENE_ASSET/
// RESOLVE_INTERVENTION/STOP_PIPELINE commands and drives the operator,
// but never claims a job itself — that is the worker's job.
//
// Grounded on the teacher's cmd/main.go (RUN_SERVER env flag gating
// a.Run(addr), select{} fallback), split out of the teacher's single
// configurable binary into its own process because this system names
// Coordinator as a distinct service.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

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

	addr := ":" + a.Config.HTTPPort
	srv := &http.Server{Addr: addr, Handler: a.Router}

	go func() {
		a.Log.Info("coordinator listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Log.Error("coordinator http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	a.Log.Info("coordinator shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("coordinator http shutdown error", "error", err)
	}
}
