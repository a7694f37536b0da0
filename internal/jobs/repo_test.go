package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/domain"
)

func newMockRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	dialector := postgres.New(postgres.Config{Conn: sqlDB, DriverName: "postgres"})
	gdb, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewRepo(gdb), mock
}

func TestRepoCreate_DefaultsAttemptAndMaxRetries(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(uuid.New(), time.Now(), time.Now()))
	mock.ExpectCommit()

	job, err := repo.Create(context.Background(), CreateParams{
		ProjectID: uuid.New(),
		Type:      "GENERATE_STORYBOARD",
		UniqueKey: "generate_storyboard_exclusively_from_prompt",
	})
	require.NoError(t, err)
	require.Equal(t, 1, job.Attempt)
	require.Equal(t, 2, job.MaxRetries)
	require.Equal(t, domain.JobCreated, job.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoClaim_NotClaimableWhenStateNotCreated(t *testing.T) {
	repo, mock := newMockRepo(t)
	jobID := uuid.New()
	projectID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "RUNNING", 1, 2))
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "jobs" WHERE project_id = \$1 AND state = \$2`).
		WithArgs(projectID, "RUNNING").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE "jobs" SET`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), jobID, "CREATED").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Claim(context.Background(), jobID, 10)
	require.ErrorIs(t, err, ErrNotClaimable)
}

func TestRepoClaim_ConcurrencyCapReached(t *testing.T) {
	repo, mock := newMockRepo(t)
	jobID := uuid.New()
	projectID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "CREATED", 1, 2))
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "jobs" WHERE project_id = \$1 AND state = \$2`).
		WithArgs(projectID, "RUNNING").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectRollback()

	_, err := repo.Claim(context.Background(), jobID, 10)
	require.ErrorIs(t, err, ErrConcurrencyCapReached)
}

func TestRepoUpdateSafe_ZeroRowsIsConcurrentModification(t *testing.T) {
	repo, mock := newMockRepo(t)
	jobID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	state := domain.JobCompleted
	_, err := repo.UpdateSafe(context.Background(), jobID, 3, Patch{State: &state})
	require.ErrorIs(t, err, ErrConcurrentModification)
}

func TestRepoUpdateState_FailedBelowMaxRetriesStaysFailed(t *testing.T) {
	repo, mock := newMockRepo(t)
	jobID := uuid.New()
	projectID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "RUNNING", 1, 3))
	mock.ExpectExec(`UPDATE "jobs" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "FAILED", 2, 3))
	mock.ExpectCommit()

	job, err := repo.UpdateState(context.Background(), jobID, domain.JobFailed, nil, "transient error")
	require.NoError(t, err)
	require.Equal(t, domain.JobFailed, job.State)
	require.Equal(t, 2, job.Attempt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoUpdateState_FailedAtMaxRetriesBecomesFatal(t *testing.T) {
	repo, mock := newMockRepo(t)
	jobID := uuid.New()
	projectID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "RUNNING", 2, 3))
	mock.ExpectExec(`UPDATE "jobs" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "FATAL", 3, 3))
	mock.ExpectCommit()

	// Workers only ever report JobFailed; this boundary (attempt >=
	// maxRetries, read post-increment) is UpdateState's own decision, not
	// the caller's.
	job, err := repo.UpdateState(context.Background(), jobID, domain.JobFailed, nil, "final error")
	require.NoError(t, err)
	require.Equal(t, domain.JobFatal, job.State)
	require.Equal(t, 3, job.Attempt)
	require.NoError(t, mock.ExpectationsWereMet())
}
