package pipelinerun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"
)

// Workflow ticks one project's graph forward via the Tick activity until
// it reaches a terminal status, sleeping between ticks and waking early
// on a SignalResume. The operator's RESUME_PIPELINE/RESOLVE_INTERVENTION
// commands call workflow.Runner directly and send no such signal.
func Workflow(ctx workflow.Context) error {
	projectID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if projectID == "" {
		return fmt.Errorf("pipelinerun: missing project_id")
	}

	const (
		pollInterval         = 5 * time.Second
		suspendedPollInterval = 2 * time.Minute
		continueTickLimit    = 2000
		continueHistoryLimit = 15000
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    30 * time.Second,
	})

	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	ticks := 0

	for {
		ticks++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, projectID).Get(ctx, &out); err != nil {
			return err
		}

		switch out.Status {
		case "completed":
			return nil
		case "failed":
			return fmt.Errorf("pipeline failed (stage=%s): %s", out.Stage, out.Error)
		case "suspended":
			waitForResumeOrTimer(ctx, resumeCh, suspendedPollInterval)
		default: // "running"
			if d := nextWait(ctx, out.WaitUntil, pollInterval); d > 0 {
				if err := workflow.Sleep(ctx, d); err != nil {
					return err
				}
			}
		}

		if shouldContinueAsNew(ctx, ticks, continueTickLimit, continueHistoryLimit) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func waitForResumeOrTimer(ctx workflow.Context, ch workflow.ReceiveChannel, maxWait time.Duration) {
	timer := workflow.NewTimer(ctx, maxWait)
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		var v interface{}
		c.Receive(ctx, &v)
	})
	sel.AddFuture(timer, func(f workflow.Future) {})
	sel.Select(ctx)
}

func nextWait(ctx workflow.Context, waitUntil *time.Time, def time.Duration) time.Duration {
	if waitUntil == nil || waitUntil.IsZero() {
		return def
	}
	now := workflow.Now(ctx)
	if waitUntil.Before(now) {
		return def
	}
	d := waitUntil.Sub(now)
	if d > 15*time.Minute {
		return 15 * time.Minute
	}
	return d
}

func shouldContinueAsNew(ctx workflow.Context, ticks, maxTicks, maxHistory int) bool {
	if maxTicks > 0 && ticks >= maxTicks {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
