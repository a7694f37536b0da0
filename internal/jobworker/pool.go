// Package jobworker implements the Worker service (spec.md §2, §4.3):
// subscribes to job-dispatch events, claims a job atomically, runs the
// stage-specific handler, writes the terminal job transition, and lets the
// service's own event publication announce completion.
//
// Grounded on the teacher's internal/jobs/worker/worker.go: N-goroutine
// pool, ticker-driven poll loop, panic recovery, per-job heartbeat with a
// stop function. Generalized from the teacher's single ClaimNextRunnable
// poll to an event-triggered claim (JOB_DISPATCHED) with a ticker as
// backstop, since this control plane's claimJob takes a specific jobId
// rather than "the next runnable row".
package jobworker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/events"
	"github.com/neurobridge-labs/reelforge/internal/jobs"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

type Options struct {
	Concurrency  int
	PollInterval time.Duration
}

// Pool runs Concurrency worker goroutines, each pulling job ids from one
// shared channel fed by an event subscription and a ticker backstop.
type Pool struct {
	jobSvc   *jobs.Service
	jobRepo  *jobs.Repo
	registry *Registry
	bus      events.Bus
	log      *logger.Logger
	opts     Options

	work chan jobWorkItem
	stop func()
	wg   sync.WaitGroup
}

type jobWorkItem struct {
	jobID  string
	source string
}

func NewPool(jobSvc *jobs.Service, jobRepo *jobs.Repo, registry *Registry, bus events.Bus, log *logger.Logger, opts Options) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Pool{
		jobSvc:   jobSvc,
		jobRepo:  jobRepo,
		registry: registry,
		bus:      bus,
		log:      log.With("component", "WorkerPool"),
		opts:     opts,
		work:     make(chan jobWorkItem, opts.Concurrency*4),
	}
}

// Start launches the goroutine pool plus the event subscription and
// ticker backstop. Call Stop (or cancel ctx) to shut down cleanly.
func (p *Pool) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.stop = cancel

	unsubscribe, err := p.bus.Subscribe(runCtx, events.TopicJobEvents, events.TypeIn(events.JobDispatched), p.onJobDispatched)
	if err != nil {
		cancel()
		return fmt.Errorf("worker pool: subscribe: %w", err)
	}

	for i := 0; i < p.opts.Concurrency; i++ {
		p.wg.Add(1)
		go p.runLoop(runCtx, i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer unsubscribe()
		p.pollBackstop(runCtx)
	}()

	return nil
}

func (p *Pool) Stop() {
	if p.stop != nil {
		p.stop()
	}
	p.wg.Wait()
}

func (p *Pool) onJobDispatched(ctx context.Context, msg events.Message) error {
	var body struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return fmt.Errorf("decode JOB_DISPATCHED: %w", err)
	}
	select {
	case p.work <- jobWorkItem{jobID: body.JobID, source: "event"}:
	default:
		p.log.Warn("work queue full, dropping dispatch signal", "job_id", body.JobID)
	}
	return nil
}

func (p *Pool) pollBackstop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scanCreated(ctx)
		}
	}
}

func (p *Pool) scanCreated(ctx context.Context) {
	types := p.registry.RegisteredTypes()
	if len(types) == 0 {
		return
	}
	rows, err := p.jobRepo.ListCreatedByTypes(ctx, types, p.opts.Concurrency*2)
	if err != nil {
		p.log.Warn("poll backstop: list created failed", "error", err)
		return
	}
	for _, row := range rows {
		select {
		case p.work <- jobWorkItem{jobID: row.ID.String(), source: "poll"}:
		default:
			return
		}
	}
}

func (p *Pool) runLoop(ctx context.Context, workerIndex int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.work:
			p.handleOne(ctx, item)
		}
	}
}

func (p *Pool) handleOne(ctx context.Context, item jobWorkItem) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job handler panicked", "job_id", item.jobID, "panic", r)
		}
	}()

	jobID, err := parseUUID(item.jobID)
	if err != nil {
		p.log.Warn("discarding work item with bad job id", "job_id", item.jobID, "error", err)
		return
	}

	job, err := p.jobSvc.ClaimJob(ctx, jobID)
	if err != nil {
		switch err {
		case jobs.ErrNotClaimable, jobs.ErrConcurrencyCapReached, jobs.ErrNotFound:
			// Another worker won the race, the project is already at its
			// concurrency cap, or the job is gone: all expected outcomes.
		default:
			p.log.Warn("claim failed", "job_id", jobID, "error", err)
		}
		return
	}

	handler, err := p.registry.Get(job.Type)
	if err != nil {
		errMsg := err.Error()
		if _, uErr := p.jobSvc.UpdateJobState(ctx, job.ID, domain.JobFatal, nil, errMsg); uErr != nil {
			p.log.Warn("failed to mark unhandled job fatal", "job_id", job.ID, "error", uErr)
		}
		return
	}

	stopHeartbeat := p.startHeartbeat(ctx, job)
	result, hErr := handler.Handle(ctx, job)
	stopHeartbeat()

	if hErr != nil {
		// Workers only ever report FAILED; UpdateJobState owns the
		// FAILED -> FATAL threshold decision (spec.md §9).
		if _, err := p.jobSvc.UpdateJobState(ctx, job.ID, domain.JobFailed, nil, hErr.Error()); err != nil {
			p.log.Warn("failed to record job failure", "job_id", job.ID, "error", err)
		}
		return
	}

	if _, err := p.jobSvc.UpdateJobState(ctx, job.ID, domain.JobCompleted, result, ""); err != nil {
		p.log.Warn("failed to record job success", "job_id", job.ID, "error", err)
	}
}

// startHeartbeat periodically touches updated_at on the claimed row so the
// monitor's stale-recovery sweep does not reclaim a job that is still
// being actively worked. It returns a stop function.
func (p *Pool) startHeartbeat(ctx context.Context, job *domain.Job) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if _, err := p.jobRepo.Get(hbCtx, job.ID); err != nil {
					return
				}
				_ = p.jobRepo.TouchHeartbeat(hbCtx, job.ID)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
