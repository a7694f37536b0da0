// Package temporalrunner is the optional Temporal-backed alternate
// dispatcher executor (spec.md §4.4/§6 EXECUTOR=temporal), selected
// instead of the default SQL/cron-driven executor. It drives the exact
// same Graph/Dispatcher/checkpoint semantics; only the scheduling and
// retry substrate changes, from this repo's own cron+event-bus loop to a
// Temporal workflow.
//
// Grounded on the teacher's internal/temporalx/client.go and
// internal/temporalx/temporalworker/runner.go (dial-with-backoff client
// construction, worker registration, graceful Start/Stop).
package temporalrunner

import (
	"context"
	"fmt"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

// Config mirrors the Executor/TemporalHostPort/TemporalTaskQueue fields
// already read by config.Load, kept as its own struct here so this
// package has no import-cycle dependency on internal/config.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// NewClient dials the Temporal frontend, retrying with exponential
// backoff for up to a minute before giving up.
func NewClient(cfg Config, log *logger.Logger) (temporalsdkclient.Client, error) {
	if cfg.HostPort == "" {
		return nil, fmt.Errorf("temporalrunner: no host:port configured")
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}

	opts := temporalsdkclient.Options{
		HostPort:  cfg.HostPort,
		Namespace: namespace,
	}

	backoff := 250 * time.Millisecond
	const backoffMax = 5 * time.Second
	deadline := time.Now().Add(60 * time.Second)

	for attempt := 1; ; attempt++ {
		dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c, err := temporalsdkclient.DialContext(dialCtx, opts)
		cancel()
		if err == nil {
			if log != nil {
				log.Info("connected to temporal", "host_port", cfg.HostPort, "namespace", namespace, "attempts", attempt)
			}
			return c, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("temporalrunner: dial %s: %w", cfg.HostPort, err)
		}
		if log != nil {
			log.Warn("temporal not reachable, retrying", "host_port", cfg.HostPort, "attempt", attempt, "error", err)
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}
