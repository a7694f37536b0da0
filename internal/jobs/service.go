package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/events"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

// RequeueContext distinguishes STALE_RECOVERY from BACKOFF_RETRY for audit
// logs only; behavior is identical (spec.md §4.3).
type RequeueContext string

const (
	RequeueStaleRecovery RequeueContext = "STALE_RECOVERY"
	RequeueBackoffRetry  RequeueContext = "BACKOFF_RETRY"
	RequeueManual        RequeueContext = "MANUAL"
)

// Service adds the event-publication rule ("after the DB commit that
// caused them") and the concurrency cap on top of Repo's raw storage
// operations.
type Service struct {
	repo                    *Repo
	bus                     events.Bus
	log                     *logger.Logger
	maxConcurrentPerProject int
}

func NewService(repo *Repo, bus events.Bus, log *logger.Logger, maxConcurrentPerProject int) *Service {
	return &Service{
		repo:                    repo,
		bus:                     bus,
		log:                     log.With("component", "JobService"),
		maxConcurrentPerProject: maxConcurrentPerProject,
	}
}

func (s *Service) CreateJob(ctx context.Context, p CreateParams) (*domain.Job, error) {
	job, err := s.repo.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TopicJobEvents, events.JobDispatched, jobEventBody{JobID: job.ID, ProjectID: job.ProjectID})
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetLatestJob(ctx context.Context, projectID uuid.UUID, jobType, uniqueKey string) (*domain.Job, error) {
	return s.repo.GetLatest(ctx, projectID, jobType, uniqueKey)
}

func (s *Service) ClaimJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return s.repo.Claim(ctx, jobID, s.maxConcurrentPerProject)
}

func (s *Service) UpdateJobSafe(ctx context.Context, jobID uuid.UUID, expectedAttempt int, patch Patch) (*domain.Job, error) {
	job, err := s.repo.UpdateSafe(ctx, jobID, expectedAttempt, patch)
	if err != nil {
		return nil, err
	}
	s.publishTerminalIfNeeded(ctx, job)
	return job, nil
}

func (s *Service) UpdateJobState(ctx context.Context, jobID uuid.UUID, state domain.JobState, result interface{}, errMsg string) (*domain.Job, error) {
	job, err := s.repo.UpdateState(ctx, jobID, state, result, errMsg)
	if err != nil {
		return nil, err
	}
	s.publishTerminalIfNeeded(ctx, job)
	return job, nil
}

// RequeueJob is updateJobSafe with {state: CREATED, error: audit-annotated}
// (spec.md §4.3). On success it publishes JOB_DISPATCHED like createJob.
func (s *Service) RequeueJob(ctx context.Context, jobID uuid.UUID, expectedAttempt int, rqCtx RequeueContext) (*domain.Job, error) {
	current, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	audit := fmt.Sprintf("requeued: %s", rqCtx)
	errMsg := audit
	if current.Error != "" {
		errMsg = current.Error + "; " + audit
	}
	state := domain.JobCreated
	job, err := s.repo.UpdateSafe(ctx, jobID, expectedAttempt, Patch{State: &state, Error: &errMsg})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TopicJobEvents, events.JobDispatched, jobEventBody{JobID: job.ID, ProjectID: job.ProjectID})
	return job, nil
}

func (s *Service) CancelJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	job, err := s.repo.UpdateState(ctx, jobID, domain.JobCancelled, nil, "")
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TopicJobEvents, events.JobCancelled, jobEventBody{JobID: job.ID, ProjectID: job.ProjectID})
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, projectID uuid.UUID) ([]domain.Job, error) {
	return s.repo.ListByProject(ctx, projectID)
}

func (s *Service) publishTerminalIfNeeded(ctx context.Context, job *domain.Job) {
	body := jobEventBody{JobID: job.ID, ProjectID: job.ProjectID}
	switch job.State {
	case domain.JobCompleted:
		s.publish(ctx, events.TopicJobEvents, events.JobCompleted, body)
	case domain.JobFatal, domain.JobFailed:
		s.publish(ctx, events.TopicJobEvents, events.JobFailed, body)
	}
}

type jobEventBody struct {
	JobID     uuid.UUID `json:"jobId"`
	ProjectID uuid.UUID `json:"projectId"`
}

func (s *Service) publish(ctx context.Context, topic string, t events.EventType, body jobEventBody) {
	if s.bus == nil {
		return
	}
	attrs := map[string]string{"type": string(t)}
	if err := s.bus.Publish(ctx, topic, attrs, body); err != nil {
		s.log.Warn("publish event failed", "type", t, "job_id", body.JobID, "error", err)
	}
}
