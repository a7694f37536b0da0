// Package metrics exposes Prometheus counters/gauges for the control
// plane's core components: job state transitions, lock acquisition,
// circuit-breaker state, and dispatcher suspend/resume activity.
//
// Grounded on ChuLiYu-raft-recovery's internal/metrics/metrics.go
// (Collector wrapping raw prometheus.Counter/Gauge/Histogram values,
// registered once in NewCollector, exposed via promhttp.Handler at
// /metrics), generalized from a single job queue's metric set to this
// spec's job/lock/circuit/dispatcher surface (spec.md §2 component list).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this control plane exports. One instance is
// built per process by app.New; the job service, lock manager, dispatcher
// and monitor are not handed it and call none of its recording methods.
type Collector struct {
	jobsCreated   *prometheus.CounterVec // by type
	jobsClaimed   *prometheus.CounterVec // by type
	jobsCompleted *prometheus.CounterVec // by type
	jobsFailed    *prometheus.CounterVec // by type
	jobsFatal     *prometheus.CounterVec // by type
	jobsRequeued  *prometheus.CounterVec // by context (STALE_RECOVERY/BACKOFF_RETRY)
	jobsCancelled *prometheus.CounterVec

	claimConflicts prometheus.Counter // ErrConcurrentModification observed
	concurrencyCap prometheus.Counter // ErrConcurrencyCapReached observed

	locksAcquired    prometheus.Counter
	locksDenied      prometheus.Counter
	locksLost        prometheus.Counter
	locksHeldGauge   prometheus.Gauge
	lockRenewLatency prometheus.Histogram

	circuitState prometheus.Gauge // 0=closed 1=half_open 2=open

	stagesSuspended  *prometheus.CounterVec // by interrupt type
	stagesCompleted  *prometheus.CounterVec // by stage name
	batchJobsCreated prometheus.Counter

	monitorStaleRequeued   prometheus.Counter
	monitorBackoffRequeued prometheus.Counter
}

// New builds and registers every metric against the default Prometheus
// registry. Calling it more than once in the same process panics (via
// prometheus.MustRegister), matching the teacher's NewCollector.
func New() *Collector {
	c := &Collector{
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_jobs_created_total",
			Help: "Total jobs created, by job type.",
		}, []string{"type"}),
		jobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_jobs_claimed_total",
			Help: "Total jobs transitioned CREATED -> RUNNING, by job type.",
		}, []string{"type"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_jobs_completed_total",
			Help: "Total jobs transitioned to COMPLETED, by job type.",
		}, []string{"type"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_jobs_failed_total",
			Help: "Total jobs transitioned to FAILED, by job type.",
		}, []string{"type"}),
		jobsFatal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_jobs_fatal_total",
			Help: "Total jobs transitioned to FATAL (retries exhausted), by job type.",
		}, []string{"type"}),
		jobsRequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_jobs_requeued_total",
			Help: "Total jobs requeued to CREATED, by requeue context.",
		}, []string{"context"}),
		jobsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_jobs_cancelled_total",
			Help: "Total jobs transitioned to CANCELLED, by job type.",
		}, []string{"type"}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reelforge_optimistic_claim_conflicts_total",
			Help: "Total zero-row optimistic updates observed (expected, non-error outcome).",
		}),
		concurrencyCap: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reelforge_concurrency_cap_reached_total",
			Help: "Total claimJob attempts rejected by the per-project RUNNING cap.",
		}),
		locksAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reelforge_lock_acquired_total",
			Help: "Total successful project lock acquisitions.",
		}),
		locksDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reelforge_lock_denied_total",
			Help: "Total lock acquisition attempts that found the project already held.",
		}),
		locksLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reelforge_lock_lost_total",
			Help: "Total heartbeat renewals that found the lease no longer owned by this worker.",
		}),
		locksHeldGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reelforge_locks_held",
			Help: "Current number of project locks held locally by this worker.",
		}),
		lockRenewLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reelforge_lock_renew_latency_seconds",
			Help:    "Latency of heartbeat renewal updates.",
			Buckets: prometheus.DefBuckets,
		}),
		circuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reelforge_circuit_state",
			Help: "Connection pool circuit breaker state (0=closed, 1=half_open, 2=open).",
		}),
		stagesSuspended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_stage_suspended_total",
			Help: "Total stage suspensions, by interrupt type.",
		}, []string{"interrupt_type"}),
		stagesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_stage_completed_total",
			Help: "Total stage completions (advanced to the next stage), by stage name.",
		}, []string{"stage"}),
		batchJobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reelforge_batch_jobs_created_total",
			Help: "Total jobs created by ensureBatchJobs fan-out.",
		}),
		monitorStaleRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reelforge_monitor_stale_requeued_total",
			Help: "Total jobs requeued by the stale-running sweep.",
		}),
		monitorBackoffRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reelforge_monitor_backoff_requeued_total",
			Help: "Total jobs requeued by the backoff-retry sweep.",
		}),
	}

	prometheus.MustRegister(
		c.jobsCreated, c.jobsClaimed, c.jobsCompleted, c.jobsFailed, c.jobsFatal,
		c.jobsRequeued, c.jobsCancelled, c.claimConflicts, c.concurrencyCap,
		c.locksAcquired, c.locksDenied, c.locksLost, c.locksHeldGauge, c.lockRenewLatency,
		c.circuitState, c.stagesSuspended, c.stagesCompleted, c.batchJobsCreated,
		c.monitorStaleRequeued, c.monitorBackoffRequeued,
	)
	return c
}

func (c *Collector) JobCreated(jobType string)   { c.safe(func() { c.jobsCreated.WithLabelValues(jobType).Inc() }) }
func (c *Collector) JobClaimed(jobType string)   { c.safe(func() { c.jobsClaimed.WithLabelValues(jobType).Inc() }) }
func (c *Collector) JobCompleted(jobType string) { c.safe(func() { c.jobsCompleted.WithLabelValues(jobType).Inc() }) }
func (c *Collector) JobFailed(jobType string)    { c.safe(func() { c.jobsFailed.WithLabelValues(jobType).Inc() }) }
func (c *Collector) JobFatal(jobType string)     { c.safe(func() { c.jobsFatal.WithLabelValues(jobType).Inc() }) }
func (c *Collector) JobCancelled(jobType string) { c.safe(func() { c.jobsCancelled.WithLabelValues(jobType).Inc() }) }
func (c *Collector) JobRequeued(rqCtx string)    { c.safe(func() { c.jobsRequeued.WithLabelValues(rqCtx).Inc() }) }

func (c *Collector) ClaimConflict()    { c.safe(func() { c.claimConflicts.Inc() }) }
func (c *Collector) ConcurrencyCapHit() { c.safe(func() { c.concurrencyCap.Inc() }) }

func (c *Collector) LockAcquired()      { c.safe(func() { c.locksAcquired.Inc(); c.locksHeldGauge.Inc() }) }
func (c *Collector) LockDenied()        { c.safe(func() { c.locksDenied.Inc() }) }
func (c *Collector) LockLost()          { c.safe(func() { c.locksLost.Inc(); c.locksHeldGauge.Dec() }) }
func (c *Collector) LockReleased()      { c.safe(func() { c.locksHeldGauge.Dec() }) }
func (c *Collector) LockRenewObserve(seconds float64) {
	c.safe(func() { c.lockRenewLatency.Observe(seconds) })
}

// SetCircuitState maps the breaker's named state onto the gauge.
func (c *Collector) SetCircuitState(state string) {
	c.safe(func() {
		switch state {
		case "open":
			c.circuitState.Set(2)
		case "half_open":
			c.circuitState.Set(1)
		default:
			c.circuitState.Set(0)
		}
	})
}

func (c *Collector) StageSuspended(interruptType string) {
	c.safe(func() { c.stagesSuspended.WithLabelValues(interruptType).Inc() })
}
func (c *Collector) StageCompleted(stage string) {
	c.safe(func() { c.stagesCompleted.WithLabelValues(stage).Inc() })
}
func (c *Collector) BatchJobCreated() { c.safe(func() { c.batchJobsCreated.Inc() }) }

func (c *Collector) MonitorStaleRequeued()   { c.safe(func() { c.monitorStaleRequeued.Inc() }) }
func (c *Collector) MonitorBackoffRequeued() { c.safe(func() { c.monitorBackoffRequeued.Inc() }) }

// safe no-ops on a nil Collector so call sites never need a nil check
// (mirrors the logger's nil-receiver tolerance elsewhere in this repo).
func (c *Collector) safe(fn func()) {
	if c == nil {
		return
	}
	fn()
}

// Handler returns the promhttp handler to mount at GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
