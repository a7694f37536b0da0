package jobworker

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/jobs"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

func newTestPool(t *testing.T, registry *Registry) (*Pool, *jobs.Repo, sqlmock.Sqlmock) {
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
	svc := jobs.NewService(repo, nil, log, 10)
	pool := NewPool(svc, repo, registry, nil, log, Options{Concurrency: 1})
	return pool, repo, mock
}

func expectClaimSucceeds(mock sqlmock.Sqlmock, jobID, projectID uuid.UUID) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "CREATED", "render", 1, 3))
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "jobs" WHERE project_id = \$1 AND state = \$2`).
		WithArgs(projectID, "RUNNING").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE "jobs" SET`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), jobID, "CREATED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "RUNNING", "render", 1, 3))
	mock.ExpectCommit()
}

func expectUpdateState(mock sqlmock.Sqlmock, jobID uuid.UUID, fromState, toState string) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "state", "attempt", "max_retries"}).
			AddRow(jobID, fromState, 1, 3))
	mock.ExpectExec(`UPDATE "jobs" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "state"}).AddRow(jobID, toState))
	mock.ExpectCommit()
}

func TestHandleOne_NotClaimableSkipsHandlerAndUpdate(t *testing.T) {
	registry := NewRegistry()
	called := false
	registry.Register("RENDER_VIDEO", HandlerFunc(func(ctx context.Context, job *domain.Job) (interface{}, error) {
		called = true
		return nil, nil
	}))
	pool, _, mock := newTestPool(t, registry)
	jobID := uuid.New()
	projectID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "RUNNING", "render", 1, 3))
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "jobs" WHERE project_id = \$1 AND state = \$2`).
		WithArgs(projectID, "RUNNING").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE "jobs" SET`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), jobID, "CREATED").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	pool.handleOne(context.Background(), jobWorkItem{jobID: jobID.String()})
	require.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleOne_UnregisteredTypeMarksJobFatal(t *testing.T) {
	registry := NewRegistry()
	pool, _, mock := newTestPool(t, registry)
	jobID := uuid.New()
	projectID := uuid.New()

	expectClaimSucceeds(mock, jobID, projectID)
	expectUpdateState(mock, jobID, "RUNNING", "FATAL")

	pool.handleOne(context.Background(), jobWorkItem{jobID: jobID.String()})
	require.NoError(t, mock.ExpectationsWereMet())
}

// Workers only ever report FAILED on handler error; UpdateJobState owns
// the FAILED->FATAL threshold decision, so handleOne must never compute
// FATAL itself.
func TestHandleOne_HandlerErrorReportsFailed(t *testing.T) {
	registry := NewRegistry()
	registry.Register("RENDER_VIDEO", HandlerFunc(func(ctx context.Context, job *domain.Job) (interface{}, error) {
		return nil, errors.New("render backend unavailable")
	}))
	pool, _, mock := newTestPool(t, registry)
	jobID := uuid.New()
	projectID := uuid.New()

	expectClaimSucceeds(mock, jobID, projectID)
	expectUpdateState(mock, jobID, "RUNNING", "FAILED")

	pool.handleOne(context.Background(), jobWorkItem{jobID: jobID.String()})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleOne_HandlerSuccessReportsCompleted(t *testing.T) {
	registry := NewRegistry()
	registry.Register("RENDER_VIDEO", HandlerFunc(func(ctx context.Context, job *domain.Job) (interface{}, error) {
		return map[string]string{"uri": "gs://bucket/out.mp4"}, nil
	}))
	pool, _, mock := newTestPool(t, registry)
	jobID := uuid.New()
	projectID := uuid.New()

	expectClaimSucceeds(mock, jobID, projectID)
	expectUpdateState(mock, jobID, "RUNNING", "COMPLETED")

	pool.handleOne(context.Background(), jobWorkItem{jobID: jobID.String()})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleOne_BadJobIDIsDiscarded(t *testing.T) {
	pool, _, mock := newTestPool(t, NewRegistry())
	pool.handleOne(context.Background(), jobWorkItem{jobID: "not-a-uuid"})
	require.NoError(t, mock.ExpectationsWereMet())
}
