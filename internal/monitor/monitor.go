// Package monitor runs the two periodic maintenance sweeps (spec.md §4.4):
// stale-job recovery and exponential-backoff retry. Neither sweeper mutates
// a job directly — both drive it through jobs.Service.RequeueJob so the
// optimistic attempt guard and event publication stay in one place.
//
// Grounded on the teacher's use of robfig/cron-style periodic jobs
// elsewhere in the pack (r3e-network-service_layer); the teacher itself
// relies on an external scheduler rather than an in-process one.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/neurobridge-labs/reelforge/internal/jobs"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

const staleRunningDeadline = 10 * time.Minute

type Monitor struct {
	jobRepo *jobs.Repo
	jobSvc  *jobs.Service
	log     *logger.Logger

	cron *cron.Cron
}

func New(jobRepo *jobs.Repo, jobSvc *jobs.Service, log *logger.Logger) *Monitor {
	return &Monitor{
		jobRepo: jobRepo,
		jobSvc:  jobSvc,
		log:     log.With("component", "Monitor"),
	}
}

// Start schedules both sweeps to run every interval, concurrently with
// each other, until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.cron = cron.New()
	spec := "@every " + interval.String()
	_, _ = m.cron.AddFunc(spec, func() { m.runSweeps(ctx) })
	m.cron.Start()
}

func (m *Monitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// RunOnce executes both sweeps synchronously; exported for tests and for
// operator-triggered manual sweeps.
func (m *Monitor) RunOnce(ctx context.Context) {
	m.runSweeps(ctx)
}

func (m *Monitor) runSweeps(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.sweepStaleRunning(ctx)
	}()
	go func() {
		defer wg.Done()
		m.sweepBackoffRetry(ctx)
	}()
	wg.Wait()
}

func (m *Monitor) sweepStaleRunning(ctx context.Context) {
	deadline := time.Now().Add(-staleRunningDeadline)
	rows, err := m.jobRepo.StaleRunning(ctx, deadline)
	if err != nil {
		m.log.Warn("stale recovery sweep: list failed", "error", err)
		return
	}
	for _, job := range rows {
		if _, err := m.jobSvc.RequeueJob(ctx, job.ID, job.Attempt, jobs.RequeueStaleRecovery); err != nil {
			if err == jobs.ErrConcurrentModification {
				// Attempt changed between select and update: a live worker
				// finished first. Not an error, skip silently.
				continue
			}
			m.log.Warn("stale recovery requeue failed", "job_id", job.ID, "error", err)
		}
	}
}

func (m *Monitor) sweepBackoffRetry(ctx context.Context) {
	now := time.Now()
	rows, err := m.jobRepo.DueForBackoffRetry(ctx, now)
	if err != nil {
		m.log.Warn("backoff retry sweep: list failed", "error", err)
		return
	}
	for _, job := range rows {
		if _, err := m.jobSvc.RequeueJob(ctx, job.ID, job.Attempt, jobs.RequeueBackoffRetry); err != nil {
			if err == jobs.ErrConcurrentModification {
				continue
			}
			m.log.Warn("backoff retry requeue failed", "job_id", job.ID, "error", err)
		}
	}
}
