package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/neurobridge-labs/reelforge/internal/checkpoint"
	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/events"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

// Runner drives the graph for one project from its current checkpoint
// until it suspends, raises an interrupt, or reaches the terminal stage.
// It never holds the project lock itself — callers (the operator) acquire
// it before calling Run and release it in a finally clause, per spec.md
// §4.6.
type Runner struct {
	graph   *Graph
	disp    *Dispatcher
	cpStore *checkpoint.Store
	bus     events.Bus
	log     *logger.Logger
}

func NewRunner(graph *Graph, disp *Dispatcher, cpStore *checkpoint.Store, bus events.Bus, log *logger.Logger) *Runner {
	return &Runner{graph: graph, disp: disp, cpStore: cpStore, bus: bus, log: log.With("component", "WorkflowRunner")}
}

// Run loads the checkpoint, determines the starting stage (force is the
// entry router's decision when resuming with no explicit next stage; an
// empty startStage means "consult the checkpoint, then the entry router"),
// and steps the graph forward one stage at a time, persisting after every
// transition, until it suspends or completes.
func (r *Runner) Run(ctx context.Context, projectID uuid.UUID, startStage string) error {
	cp, err := r.cpStore.Load(ctx, projectID)
	if err != nil {
		return fmt.Errorf("runner: load checkpoint: %w", err)
	}
	cp.State.Ensure()
	r.disp.BindCheckpoint(cp)

	stage := startStage
	if stage == "" {
		stage = cp.State.CurrentStage
	}
	if stage == "" {
		stage, err = r.graph.Entry(ctx, projectID)
		if err != nil {
			return fmt.Errorf("runner: entry router: %w", err)
		}
	}

	for stage != "" {
		cp.State.CurrentStage = stage
		cp.State.NodeAttempts[stage]++

		next, stageErr := r.graph.Run(ctx, stage, projectID)
		if stageErr != nil {
			if errors.Is(stageErr, Suspended) {
				if err := r.cpStore.Save(ctx, cp); err != nil {
					return fmt.Errorf("runner: save checkpoint on suspend: %w", err)
				}
				r.log.Info("workflow suspended", "project_id", projectID, "stage", stage)
				return nil
			}
			if errors.Is(stageErr, ErrRetriesExhausted) {
				if err := r.cpStore.Save(ctx, cp); err != nil {
					return fmt.Errorf("runner: save checkpoint on interrupt: %w", err)
				}
				r.log.Warn("workflow raised intervention interrupt", "project_id", projectID, "stage", stage)
				return nil
			}
			cp.State.Errors = append(cp.State.Errors, domain.ErrorRecord{NodeName: stage, Error: stageErr.Error()})
			_ = r.cpStore.Save(ctx, cp)
			_ = PublishPipelineEvent(ctx, r.bus, events.WorkflowFailed, projectID, map[string]string{"error": stageErr.Error(), "nodeName": stage})
			return fmt.Errorf("runner: stage %s: %w", stage, stageErr)
		}

		if err := r.cpStore.Save(ctx, cp); err != nil {
			return fmt.Errorf("runner: save checkpoint after %s: %w", stage, err)
		}
		stage = next
	}

	cp.State.CurrentStage = ""
	if err := r.cpStore.Save(ctx, cp); err != nil {
		return fmt.Errorf("runner: save checkpoint on completion: %w", err)
	}
	_ = PublishPipelineEvent(ctx, r.bus, events.WorkflowComplete, projectID, nil)
	r.log.Info("workflow complete", "project_id", projectID)
	return nil
}

// Resume implements RESUME_PIPELINE's contract (spec.md §4.6): if the
// checkpoint has no current stage, force a transition from the saved
// snapshot back through the entry router; otherwise continue from the
// checkpoint with no explicit start stage.
func (r *Runner) Resume(ctx context.Context, projectID uuid.UUID) error {
	cp, err := r.cpStore.Load(ctx, projectID)
	if err != nil {
		return fmt.Errorf("resume: load checkpoint: %w", err)
	}
	if cp.State.CurrentStage == "" {
		entry, err := r.graph.Entry(ctx, projectID)
		if err != nil {
			return fmt.Errorf("resume: entry router: %w", err)
		}
		return r.Run(ctx, projectID, entry)
	}
	return r.Run(ctx, projectID, "")
}
