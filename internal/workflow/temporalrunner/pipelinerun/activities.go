package pipelinerun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neurobridge-labs/reelforge/internal/checkpoint"
	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
	"github.com/neurobridge-labs/reelforge/internal/workflow"

	"go.temporal.io/sdk/activity"
)

// Activities bundles the dependencies Tick needs: the same graph runner
// and checkpoint store the SQL-executor path uses, so both executors
// drive identical stage semantics (spec.md §4.5) over the same storage.
type Activities struct {
	Log     *logger.Logger
	Runner  *workflow.Runner
	CPStore *checkpoint.Store
}

// Tick runs one Runner.Resume step for projectID and reports the
// resulting status back to the workflow loop.
func (a *Activities) Tick(ctx context.Context, projectID string) (TickResult, error) {
	res := TickResult{ProjectID: strings.TrimSpace(projectID)}
	if a == nil || a.Runner == nil || a.CPStore == nil {
		return res, fmt.Errorf("pipelinerun: activity not configured")
	}

	id, err := uuid.Parse(res.ProjectID)
	if err != nil {
		return res, fmt.Errorf("pipelinerun: invalid project_id")
	}

	stopHB := a.startHeartbeat(ctx)
	defer stopHB()

	if err := a.Runner.Resume(ctx, id); err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		return res, nil
	}

	cp, err := a.CPStore.Load(ctx, id)
	if err != nil {
		return res, fmt.Errorf("pipelinerun: reload checkpoint: %w", err)
	}
	res.Stage = cp.State.CurrentStage

	switch {
	case cp.State.CurrentStage == "" && cp.State.PendingInterrupt == nil:
		res.Status = "completed"
	case cp.State.PendingInterrupt != nil && cp.State.PendingInterrupt.Type == domain.InterruptIntervention:
		res.Status = "suspended"
	case cp.State.PendingInterrupt != nil:
		res.Status = "suspended"
	default:
		res.Status = "running"
	}
	return res, nil
}

func (a *Activities) startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
