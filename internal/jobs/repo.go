// Package jobs implements the job control plane (spec.md §4.3): durable job
// store, atomic state transitions, optimistic attempt versioning, and
// per-project concurrency throttling.
//
// Grounded on the teacher's internal/data/repos/jobs/job_run.go
// (JobRunRepo: Create, ClaimNextRunnable, UpdateFields,
// UpdateFieldsUnlessStatus, Heartbeat) generalized from the teacher's
// single-claim-loop model to spec.md's explicit
// createJob/claimJob/updateJobSafe/updateJobState/requeueJob/cancelJob
// contract table.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/storage/advisory"
)

var (
	// ErrConcurrentModification signals a zero-row optimistic update: a
	// normal, expected outcome per spec.md §4.3, never wrapped as a
	// server error.
	ErrConcurrentModification = errors.New("jobs: concurrent modification")
	// ErrConcurrencyCapReached means the project's RUNNING count already
	// meets MaxConcurrentJobsPerProject.
	ErrConcurrencyCapReached = errors.New("jobs: project concurrency cap reached")
	// ErrNotClaimable means the job row was not in CREATED state when
	// claimJob ran.
	ErrNotClaimable = errors.New("jobs: job not claimable")
	ErrNotFound     = errors.New("jobs: not found")
)

type CreateParams struct {
	ProjectID  uuid.UUID
	Type       string
	Payload    interface{}
	UniqueKey  string
	AssetKey   string
	MaxRetries int
}

// Repo is the raw storage surface. Service wraps it with the
// advisory-lock/concurrency-cap/event-publication rules.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, p CreateParams) (*domain.Job, error) {
	payload, err := marshalJSON(p.Payload)
	if err != nil {
		return nil, err
	}
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	job := &domain.Job{
		ProjectID:  p.ProjectID,
		Type:       p.Type,
		State:      domain.JobCreated,
		Payload:    payload,
		UniqueKey:  p.UniqueKey,
		AssetKey:   p.AssetKey,
		Attempt:    1,
		MaxRetries: maxRetries,
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetLatest returns the most recently created row for the logical
// address. An empty uniqueKey matches rows with uniqueKey IS NULL/empty
// (singleton jobs), per spec.md §4.3.
func (r *Repo) GetLatest(ctx context.Context, projectID uuid.UUID, jobType, uniqueKey string) (*domain.Job, error) {
	q := r.db.WithContext(ctx).
		Where("project_id = ? AND type = ?", projectID, jobType)
	if uniqueKey == "" {
		q = q.Where("unique_key = '' OR unique_key IS NULL")
	} else {
		q = q.Where("unique_key = ?", uniqueKey)
	}
	var job domain.Job
	err := q.Order("created_at DESC").First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Claim runs the full claimJob transaction: advisory lock on
// (project, job), concurrency-cap check, conditional CREATED→RUNNING
// update. Returns ErrNotClaimable / ErrConcurrencyCapReached rather than a
// nil row, so callers can distinguish "already gone" from "cap full".
func (r *Repo) Claim(ctx context.Context, jobID uuid.UUID, maxConcurrentPerProject int) (*domain.Job, error) {
	var claimed *domain.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.Job
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := advisory.XactLock(ctx, tx, job.ProjectID.String(), jobID.String()); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		var running int64
		if err := tx.Model(&domain.Job{}).
			Where("project_id = ? AND state = ?", job.ProjectID, domain.JobRunning).
			Count(&running).Error; err != nil {
			return err
		}
		if int(running) >= maxConcurrentPerProject {
			return ErrConcurrencyCapReached
		}

		res := tx.Model(&domain.Job{}).
			Where("id = ? AND state = ?", jobID, domain.JobCreated).
			Updates(map[string]interface{}{
				"state":      domain.JobRunning,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotClaimable
		}

		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Patch is the set of fields updateJobSafe/updateJobState may set. Attempt
// is never part of Patch: it is always derived (attempt+1 on
// updateJobSafe, conditionally incremented on updateJobState moving to
// FAILED) per spec.md §4.3 ("never accepts attempt inside patch").
type Patch struct {
	State  *domain.JobState
	Result interface{}
	Error  *string
}

// UpdateSafe applies patch with `WHERE id=? AND attempt=expectedAttempt`,
// always incrementing attempt. A zero-row outcome is
// ErrConcurrentModification, the expected non-error "someone else moved
// first" result.
func (r *Repo) UpdateSafe(ctx context.Context, jobID uuid.UUID, expectedAttempt int, patch Patch) (*domain.Job, error) {
	set := map[string]interface{}{
		"attempt":    gorm.Expr("attempt + 1"),
		"updated_at": time.Now(),
	}
	if patch.State != nil {
		set["state"] = *patch.State
	}
	if patch.Result != nil {
		body, err := marshalJSON(patch.Result)
		if err != nil {
			return nil, err
		}
		set["result"] = body
	}
	if patch.Error != nil {
		set["error"] = *patch.Error
	}

	var job *domain.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Job{}).
			Where("id = ? AND attempt = ?", jobID, expectedAttempt).
			Updates(set)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentModification
		}
		var row domain.Job
		if err := tx.Where("id = ?", jobID).First(&row).Error; err != nil {
			return err
		}
		job = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateState is the unconditional terminal-transition path used by
// workers. For a handler's outcome, workers report COMPLETED or FAILED
// (spec.md §9 "No retry inside workers... Workers decide only one
// transition"); a job whose type has no registered handler is reported
// FATAL directly. This is
// the one place that turns a reported FAILED into a terminal FATAL once
// the post-increment attempt count reaches the job's maxRetries, per
// SPEC_FULL.md §5 decision #2. Moving into FAILED increments attempt,
// matching requeueJob's backoff math (2^(attempt-1) minutes) reading a
// post-failure attempt.
func (r *Repo) UpdateState(ctx context.Context, jobID uuid.UUID, state domain.JobState, result interface{}, errMsg string) (*domain.Job, error) {
	var resultBody []byte
	if result != nil {
		body, err := marshalJSON(result)
		if err != nil {
			return nil, err
		}
		resultBody = body
	}

	var job *domain.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row domain.Job
		if err := tx.Where("id = ?", jobID).First(&row).Error; err != nil {
			return err
		}

		finalState := state
		set := map[string]interface{}{
			"updated_at": time.Now(),
		}
		if resultBody != nil {
			set["result"] = resultBody
		}
		if errMsg != "" {
			set["error"] = errMsg
		}
		if state == domain.JobFailed {
			row.Attempt++
			set["attempt"] = row.Attempt
			if row.Attempt >= row.MaxRetries {
				finalState = domain.JobFatal
			}
		}
		set["state"] = finalState

		if err := tx.Model(&domain.Job{}).Where("id = ?", jobID).Updates(set).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", jobID).First(&row).Error; err != nil {
			return err
		}
		job = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// TouchHeartbeat bumps updated_at on a RUNNING job without touching
// attempt or state, so a worker still actively handling a job does not
// look stale to the monitor's sweep.
func (r *Repo) TouchHeartbeat(ctx context.Context, jobID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND state = ?", jobID, domain.JobRunning).
		Update("updated_at", time.Now()).Error
}

func (r *Repo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Job, error) {
	var rows []domain.Job
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// ListCreatedByTypes returns CREATED jobs of the given types, oldest first.
// Used by the worker pool's ticker backstop to pick up jobs whose
// JOB_DISPATCHED event was missed (at-least-once delivery is a bus
// transport guarantee, not a storage one).
func (r *Repo) ListCreatedByTypes(ctx context.Context, types []string, limit int) ([]domain.Job, error) {
	var rows []domain.Job
	err := r.db.WithContext(ctx).
		Where("state = ? AND type IN ?", domain.JobCreated, types).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// StaleRunning returns RUNNING jobs whose updatedAt predates the deadline,
// for the monitor's stale-recovery sweep.
func (r *Repo) StaleRunning(ctx context.Context, deadline time.Time) ([]domain.Job, error) {
	var rows []domain.Job
	err := r.db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", domain.JobRunning, deadline).
		Find(&rows).Error
	return rows, err
}

// DueForBackoffRetry returns FAILED jobs whose exponential-backoff window
// has elapsed: updatedAt < now() - 2^max(attempt-1,0) minutes.
func (r *Repo) DueForBackoffRetry(ctx context.Context, now time.Time) ([]domain.Job, error) {
	var rows []domain.Job
	err := r.db.WithContext(ctx).
		Where("state = ?", domain.JobFailed).
		Where("updated_at < ? - (power(2, greatest(attempt - 1, 0)) * interval '1 minute')", now).
		Find(&rows).Error
	return rows, err
}

func marshalJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(datatypes.JSON); ok {
		return raw, nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return datatypes.JSON(body), nil
}
