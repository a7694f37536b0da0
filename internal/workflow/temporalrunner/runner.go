package temporalrunner

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	temporalworkflow "go.temporal.io/sdk/workflow"

	"github.com/neurobridge-labs/reelforge/internal/checkpoint"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
	"github.com/neurobridge-labs/reelforge/internal/workflow"
	"github.com/neurobridge-labs/reelforge/internal/workflow/temporalrunner/pipelinerun"
)

// Runner starts a Temporal worker polling cfg.TaskQueue, registered with
// the pipelinerun workflow/activity pair. It delegates every stage
// transition to the same workflow.Runner the SQL executor uses.
type Runner struct {
	log *logger.Logger

	tc      temporalsdkclient.Client
	cfg     Config
	runner  *workflow.Runner
	cpStore *checkpoint.Store

	concurrency int
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, cfg Config, runner *workflow.Runner, cpStore *checkpoint.Store, concurrency int) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporalrunner: client is not configured")
	}
	if runner == nil || cpStore == nil {
		return nil, fmt.Errorf("temporalrunner: missing dependencies")
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Runner{log: log, tc: tc, cfg: cfg, runner: runner, cpStore: cpStore, concurrency: concurrency}, nil
}

// Start registers the workflow/activity pair and begins polling. It
// returns once polling has started; ctx cancellation stops the worker.
func (r *Runner) Start(ctx context.Context) error {
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     r.concurrency,
		MaxConcurrentWorkflowTaskExecutionSize:  r.concurrency,
	})

	acts := &pipelinerun.Activities{Log: r.log, Runner: r.runner, CPStore: r.cpStore}
	w.RegisterWorkflowWithOptions(pipelinerun.Workflow, temporalworkflow.RegisterOptions{Name: pipelinerun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: pipelinerun.ActivityTick})

	if err := w.Start(); err != nil {
		return fmt.Errorf("temporalrunner: worker start: %w", err)
	}
	if r.log != nil {
		r.log.Info("temporal pipeline worker started", "task_queue", r.cfg.TaskQueue, "namespace", r.cfg.Namespace)
	}
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}
