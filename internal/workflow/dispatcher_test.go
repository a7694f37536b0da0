package workflow

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/config"
	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/jobs"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

// newTestDispatcher wires a Dispatcher against a sqlmock-backed jobs.Service,
// the same way EnsureJob/EnsureBatchJobs are exercised in production: no
// event bus, no checkpoint store (the dispatcher only touches cpStore
// through the bound *domain.Checkpoint, never directly).
func newTestDispatcher(t *testing.T, cfg config.Config) (*Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	dialector := postgres.New(postgres.Config{Conn: sqlDB, DriverName: "postgres"})
	gdb, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	log, err := logger.New("test")
	require.NoError(t, err)

	repo := jobs.NewRepo(gdb)
	svc := jobs.NewService(repo, nil, log, cfg.MaxConcurrentJobsPerProject)
	d := NewDispatcher(svc, nil, nil, cfg, log)
	return d, mock
}

func testConfig() config.Config {
	return config.Config{
		MaxConcurrentJobsPerProject: 10,
		MaxParallelJobs:             2,
		DefaultMaxRetries:           3,
	}
}

func TestEnsureJob_MissingCreatesAndSuspends(t *testing.T) {
	d, mock := newTestDispatcher(t, testConfig())
	projectID := uuid.New()
	cp := &domain.Checkpoint{ProjectID: projectID}
	d.BindCheckpoint(cp)

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE project_id = \$1 AND type = \$2`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectCommit()

	job, err := d.EnsureJob(context.Background(), projectID, StageExpandCreativePrompt, JobExpandCreativePrompt, "enhanced_prompt", nil)
	require.Nil(t, job)
	require.ErrorIs(t, err, Suspended)
	require.NotNil(t, cp.State.PendingInterrupt)
	require.Equal(t, domain.InterruptWaitingForJob, cp.State.PendingInterrupt.Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureJob_CompletedPassesThrough(t *testing.T) {
	d, mock := newTestDispatcher(t, testConfig())
	projectID := uuid.New()
	jobID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE project_id = \$1 AND type = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(jobID, projectID, JobExpandCreativePrompt, "COMPLETED", StageExpandCreativePrompt, 1, 3))

	job, err := d.EnsureJob(context.Background(), projectID, StageExpandCreativePrompt, JobExpandCreativePrompt, "enhanced_prompt", nil)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, jobID, job.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureJob_FailedBelowMaxRetriesRequeuesAndSuspends(t *testing.T) {
	d, mock := newTestDispatcher(t, testConfig())
	projectID := uuid.New()
	jobID := uuid.New()
	cp := &domain.Checkpoint{ProjectID: projectID}
	d.BindCheckpoint(cp)

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE project_id = \$1 AND type = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(jobID, projectID, JobExpandCreativePrompt, "FAILED", StageExpandCreativePrompt, 1, 3))
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(jobID))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "state"}).AddRow(jobID, "CREATED"))
	mock.ExpectCommit()

	job, err := d.EnsureJob(context.Background(), projectID, StageExpandCreativePrompt, JobExpandCreativePrompt, "enhanced_prompt", nil)
	require.Nil(t, job)
	require.ErrorIs(t, err, Suspended)
	require.Equal(t, domain.InterruptWaitingForJob, cp.State.PendingInterrupt.Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureJob_FailedAtMaxRetriesRaisesExhausted(t *testing.T) {
	d, mock := newTestDispatcher(t, testConfig())
	projectID := uuid.New()
	jobID := uuid.New()
	cp := &domain.Checkpoint{ProjectID: projectID}
	d.BindCheckpoint(cp)

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE project_id = \$1 AND type = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(jobID, projectID, JobExpandCreativePrompt, "FAILED", StageExpandCreativePrompt, 3, 3))

	job, err := d.EnsureJob(context.Background(), projectID, StageExpandCreativePrompt, JobExpandCreativePrompt, "enhanced_prompt", nil)
	require.Nil(t, job)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.NotNil(t, cp.State.PendingInterrupt)
	require.Equal(t, domain.InterruptRetriesExhausted, cp.State.PendingInterrupt.Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureJob_FatalRaisesExhausted(t *testing.T) {
	d, mock := newTestDispatcher(t, testConfig())
	projectID := uuid.New()
	jobID := uuid.New()
	cp := &domain.Checkpoint{ProjectID: projectID}
	d.BindCheckpoint(cp)

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE project_id = \$1 AND type = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(jobID, projectID, JobExpandCreativePrompt, "FATAL", StageExpandCreativePrompt, 3, 3))

	job, err := d.EnsureJob(context.Background(), projectID, StageExpandCreativePrompt, JobExpandCreativePrompt, "enhanced_prompt", nil)
	require.Nil(t, job)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.NoError(t, mock.ExpectationsWereMet())
}
