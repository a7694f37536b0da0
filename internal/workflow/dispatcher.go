// Package workflow drives the persisted stage graph over jobs (spec.md
// §4.5): a fixed set of named stages, a checkpointer, and a dispatcher
// whose ensureJob/ensureBatchJobs calls are the only suspension points.
//
// Grounded on the teacher's internal/jobs/orchestrator (Engine/DAGEngine,
// Stage, yield/succeed/handleStageErr), generalized from the teacher's
// queue-and-poll child-job model to spec.md's explicit
// ensureJob/ensureBatchJobs contract and interrupt-descriptor suspension.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/neurobridge-labs/reelforge/internal/assets"
	"github.com/neurobridge-labs/reelforge/internal/checkpoint"
	"github.com/neurobridge-labs/reelforge/internal/config"
	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/events"
	"github.com/neurobridge-labs/reelforge/internal/jobs"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

// ErrRetriesExhausted is raised by ensureJob when an existing job is
// FAILED with attempt >= maxRetries; stages convert this into an
// llm_retry_exhausted interrupt.
var ErrRetriesExhausted = errors.New("workflow: retries exhausted")

// Suspended is returned (never as an error a caller logs-and-ignores, but
// as an explicit sentinel) whenever a stage must yield control back to the
// coordinator. It is not a failure.
var Suspended = errors.New("workflow: suspended")

// JobSpec describes one fan-out item for ensureBatchJobs.
type JobSpec struct {
	UniqueKey string
	JobType   string
	AssetKey  string
	Payload   interface{}
}

// StageFunc is one node body. It must delegate all real work to exactly
// one Dispatcher.EnsureJob/EnsureBatchJobs call (spec.md §4.5 "Stages are
// otherwise pure functions of project state").
type StageFunc func(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (next string, err error)

// Dispatcher is the sole suspension primitive: it turns "a job isn't done
// yet" into writing an interrupt descriptor into the checkpoint and
// returning Suspended.
type Dispatcher struct {
	jobSvc    *jobs.Service
	cpStore   *checkpoint.Store
	assetSvc  *assets.Store
	cfg       config.Config
	log       *logger.Logger

	cp *domain.Checkpoint // the checkpoint currently being driven
}

func NewDispatcher(jobSvc *jobs.Service, cpStore *checkpoint.Store, assetSvc *assets.Store, cfg config.Config, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		jobSvc:   jobSvc,
		cpStore:  cpStore,
		assetSvc: assetSvc,
		cfg:      cfg,
		log:      log.With("component", "Dispatcher"),
	}
}

// BindCheckpoint attaches the in-flight checkpoint so EnsureJob/
// EnsureBatchJobs can read/write NodeAttempts, JobIDs, and the pending
// interrupt without every stage threading it through explicitly. The
// runner calls this once per Run before driving any stage.
func (d *Dispatcher) BindCheckpoint(cp *domain.Checkpoint) {
	d.cp = cp
}

// Checkpoint returns the currently bound checkpoint, or nil.
func (d *Dispatcher) Checkpoint() *domain.Checkpoint {
	return d.cp
}

// EnsureJob implements the ensureJob contract (spec.md §4.5 steps 1-6).
func (d *Dispatcher) EnsureJob(ctx context.Context, projectID uuid.UUID, nodeName, jobType, assetKey string, payload interface{}) (*domain.Job, error) {
	existing, err := d.jobSvc.GetLatestJob(ctx, projectID, jobType, nodeName)
	if err != nil && err != jobs.ErrNotFound {
		return nil, fmt.Errorf("ensureJob %s: %w", nodeName, err)
	}

	if existing == nil {
		created, err := d.jobSvc.CreateJob(ctx, jobs.CreateParams{
			ProjectID:  projectID,
			Type:       jobType,
			Payload:    payload,
			UniqueKey:  nodeName,
			AssetKey:   assetKey,
			MaxRetries: d.cfg.DefaultMaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("ensureJob %s: create: %w", nodeName, err)
		}
		d.recordJobID(nodeName, created.ID)
		return nil, d.suspend(ctx, domain.InterruptWaitingForJob, nodeName, "")
	}

	switch existing.State {
	case domain.JobCompleted:
		return existing, nil
	case domain.JobFailed:
		if existing.Attempt < existing.MaxRetries {
			if _, err := d.jobSvc.RequeueJob(ctx, existing.ID, existing.Attempt, jobs.RequeueBackoffRetry); err != nil && err != jobs.ErrConcurrentModification {
				return nil, fmt.Errorf("ensureJob %s: requeue: %w", nodeName, err)
			}
			return nil, d.suspend(ctx, domain.InterruptWaitingForJob, nodeName, "")
		}
		// attempt >= maxRetries: inclusive boundary, per spec.md §4.5
		// "attempt comparisons are inclusive".
		return nil, d.raiseRetriesExhausted(ctx, existing, nodeName)
	case domain.JobFatal:
		return nil, d.raiseRetriesExhausted(ctx, existing, nodeName)
	default: // CREATED, RUNNING
		return nil, d.suspend(ctx, domain.InterruptWaitingForJob, nodeName, "")
	}
}

// BatchResult is the outcome of one ensureBatchJobs item once complete.
type BatchResult struct {
	UniqueKey string
	Job       *domain.Job
}

// EnsureBatchJobs implements the ensureBatchJobs contract (spec.md §4.5).
func (d *Dispatcher) EnsureBatchJobs(ctx context.Context, projectID uuid.UUID, nodeName string, specs []JobSpec) ([]BatchResult, error) {
	var completed, running, missing, failed []JobSpec
	byKey := map[string]*domain.Job{}

	for _, spec := range specs {
		existing, err := d.jobSvc.GetLatestJob(ctx, projectID, spec.JobType, spec.UniqueKey)
		if err != nil && err != jobs.ErrNotFound {
			return nil, fmt.Errorf("ensureBatchJobs %s: %w", nodeName, err)
		}
		if existing == nil {
			missing = append(missing, spec)
			continue
		}
		byKey[spec.UniqueKey] = existing
		switch existing.State {
		case domain.JobCompleted:
			completed = append(completed, spec)
		case domain.JobFailed, domain.JobFatal:
			failed = append(failed, spec)
		default:
			running = append(running, spec)
		}
	}

	if len(failed) > 0 {
		return nil, d.raiseBatchRetriesExhausted(ctx, nodeName, failed)
	}

	slotsAvailable := d.cfg.MaxParallelJobs - len(running)
	for i := 0; i < slotsAvailable && i < len(missing); i++ {
		spec := missing[i]
		created, err := d.jobSvc.CreateJob(ctx, jobs.CreateParams{
			ProjectID:  projectID,
			Type:       spec.JobType,
			Payload:    spec.Payload,
			UniqueKey:  spec.UniqueKey,
			AssetKey:   spec.AssetKey,
			MaxRetries: d.cfg.DefaultMaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("ensureBatchJobs %s: create %s: %w", nodeName, spec.UniqueKey, err)
		}
		d.recordJobID(spec.UniqueKey, created.ID)
		running = append(running, spec)
	}
	remaining := len(running) + (len(missing) - slotsAvailable)
	if remaining < 0 {
		remaining = len(running)
	}

	if len(completed) < len(specs) {
		return nil, d.suspendBatch(ctx, nodeName, remaining)
	}

	results := make([]BatchResult, 0, len(specs))
	for _, spec := range specs {
		results = append(results, BatchResult{UniqueKey: spec.UniqueKey, Job: byKey[spec.UniqueKey]})
	}
	return results, nil
}

func (d *Dispatcher) recordJobID(nodeName string, id uuid.UUID) {
	if d.cp == nil {
		return
	}
	d.cp.State.Ensure()
	d.cp.State.JobIDs[nodeName] = id
}

func (d *Dispatcher) suspend(ctx context.Context, t domain.InterruptType, nodeName, errMsg string) error {
	if d.cp != nil {
		d.cp.State.Ensure()
		d.cp.State.PendingInterrupt = &domain.Interrupt{
			Type:     t,
			NodeName: nodeName,
			Error:    errMsg,
		}
		d.cp.State.InterruptResolved = false
	}
	return Suspended
}

func (d *Dispatcher) suspendBatch(ctx context.Context, nodeName string, remaining int) error {
	if d.cp != nil {
		d.cp.State.Ensure()
		d.cp.State.PendingInterrupt = &domain.Interrupt{
			Type:           domain.InterruptWaitingForBatch,
			NodeName:       nodeName,
			RemainingCount: remaining,
		}
		d.cp.State.InterruptResolved = false
	}
	return Suspended
}

func (d *Dispatcher) raiseRetriesExhausted(ctx context.Context, job *domain.Job, nodeName string) error {
	if d.cp != nil {
		d.cp.State.Ensure()
		d.cp.State.PendingInterrupt = &domain.Interrupt{
			Type:         domain.InterruptRetriesExhausted,
			NodeName:     nodeName,
			Error:        job.Error,
			Attempt:      job.Attempt,
			ProjectID:    job.ProjectID,
		}
		d.cp.State.InterruptResolved = false
	}
	return ErrRetriesExhausted
}

func (d *Dispatcher) raiseBatchRetriesExhausted(ctx context.Context, nodeName string, failed []JobSpec) error {
	keys := make([]string, 0, len(failed))
	for _, f := range failed {
		keys = append(keys, f.UniqueKey)
	}
	if d.cp != nil {
		d.cp.State.Ensure()
		d.cp.State.PendingInterrupt = &domain.Interrupt{
			Type:     domain.InterruptRetriesExhausted,
			NodeName: nodeName,
			Error:    fmt.Sprintf("batch items failed: %v", keys),
		}
		d.cp.State.InterruptResolved = false
	}
	return ErrRetriesExhausted
}

// PublishPipelineEvent is a thin convenience wrapper so stage handlers and
// the operator share one publication path for pipeline-events.
func PublishPipelineEvent(ctx context.Context, bus events.Bus, t events.EventType, projectID uuid.UUID, payload interface{}) error {
	if bus == nil {
		return nil
	}
	attrs := map[string]string{"type": string(t)}
	body := map[string]interface{}{"projectId": projectID, "payload": payload}
	return bus.Publish(ctx, events.TopicPipelineEvents, attrs, body)
}
