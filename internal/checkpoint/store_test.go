package checkpoint

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	dialector := postgres.New(postgres.Config{Conn: sqlDB, DriverName: "postgres"})
	gdb, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewStore(gdb), mock
}

func TestLoad_MissingRowReturnsFreshCheckpoint(t *testing.T) {
	store, mock := newMockStore(t)
	projectID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "checkpoints"`).
		WillReturnRows(sqlmock.NewRows([]string{"project_id", "checkpoint", "checkpoint_version", "updated_at"}))

	cp, err := store.Load(context.Background(), projectID)
	require.NoError(t, err)
	require.Equal(t, projectID, cp.ProjectID)
	require.Equal(t, 0, cp.Version)
	require.NotNil(t, cp.State.NodeAttempts)
	require.NotNil(t, cp.State.JobIDs)
}

func TestSave_VersionConflictOnZeroRowsAffected(t *testing.T) {
	store, mock := newMockStore(t)
	projectID := uuid.New()

	mock.ExpectExec(`INSERT INTO checkpoints`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cp := &domain.Checkpoint{ProjectID: projectID, Version: 5}
	cp.State.Ensure()
	err := store.Save(context.Background(), cp)
	require.ErrorIs(t, err, ErrVersionConflict)
}
