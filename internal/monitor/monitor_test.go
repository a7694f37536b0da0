package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/jobs"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

func newTestMonitor(t *testing.T) (*Monitor, sqlmock.Sqlmock) {
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
	return New(repo, svc, log), mock
}

// sweepStaleRunning must never touch a job directly: it drives every row
// it finds through RequeueJob (Get + UpdateSafe), so the optimistic
// attempt guard and event publication logic stay in one place.
func TestSweepStaleRunning_RequeuesStaleRow(t *testing.T) {
	m, mock := newTestMonitor(t)
	jobID := uuid.New()
	projectID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE state = \$1 AND updated_at < \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "RUNNING", "render", 1, 3))

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "error"}).AddRow(jobID, ""))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "state"}).AddRow(jobID, "CREATED"))
	mock.ExpectCommit()

	m.sweepStaleRunning(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepStaleRunning_ConcurrentModificationSkippedSilently(t *testing.T) {
	m, mock := newTestMonitor(t)
	jobID := uuid.New()
	projectID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE state = \$1 AND updated_at < \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "RUNNING", "render", 1, 3))

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "error"}).AddRow(jobID, ""))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.NotPanics(t, func() { m.sweepStaleRunning(context.Background()) })
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepBackoffRetry_RequeuesDueRow(t *testing.T) {
	m, mock := newTestMonitor(t)
	jobID := uuid.New()
	projectID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE state = \$1 AND updated_at <`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(jobID, projectID, "RENDER_VIDEO", "FAILED", "render", 1, 3))

	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "error"}).AddRow(jobID, "transient"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE id = \$1`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "state"}).AddRow(jobID, "CREATED"))
	mock.ExpectCommit()

	m.sweepBackoffRetry(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitorStop_WithoutStartIsNoop(t *testing.T) {
	m, _ := newTestMonitor(t)
	require.NotPanics(t, func() { m.Stop() })
}

func TestMonitorStartAndStop_RunsSweepOnSchedule(t *testing.T) {
	m, mock := newTestMonitor(t)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE state = \$1 AND updated_at < \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}))
	mock.ExpectQuery(`SELECT \* FROM "jobs" WHERE state = \$1 AND updated_at <`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, 50*time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	m.Stop()
}
