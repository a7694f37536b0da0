package assets

import (
	"context"
	"encoding/json"
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

func TestCreateVersionedAssets_AppendsAndAdvancesBest(t *testing.T) {
	store, mock := newMockStore(t)
	sceneID := uuid.New()

	existing, _ := json.Marshal(domain.AssetRegistry{
		domain.AssetSceneVideo: {Versions: []domain.AssetVersion{{Version: 1, Data: "v1"}}, Best: 1},
	})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT assets FROM "scenes" WHERE id = \$1`).
		WithArgs(sceneID).
		WillReturnRows(sqlmock.NewRows([]string{"assets"}).AddRow(existing))
	mock.ExpectExec(`UPDATE "scenes" SET "assets"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	hist, err := store.CreateVersionedAssets(context.Background(),
		Scope{Kind: domain.ScopeScene, ID: sceneID},
		domain.AssetSceneVideo,
		[]NewVersion{{Data: "v2", Type: domain.AssetTypeVideo}},
		true,
	)
	require.NoError(t, err)
	require.Len(t, hist.Versions, 2)
	require.Equal(t, "v1", hist.Versions[0].Data, "earlier version data must be unchanged")
	require.Equal(t, 2, hist.Versions[1].Version)
	require.Equal(t, 2, hist.Best)
}

func TestSetBestVersion_RejectsOutOfRange(t *testing.T) {
	store, mock := newMockStore(t)
	sceneID := uuid.New()

	existing, _ := json.Marshal(domain.AssetRegistry{
		domain.AssetSceneVideo: {Versions: []domain.AssetVersion{{Version: 1}}, Best: 1},
	})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT assets FROM "scenes" WHERE id = \$1`).
		WithArgs(sceneID).
		WillReturnRows(sqlmock.NewRows([]string{"assets"}).AddRow(existing))
	mock.ExpectRollback()

	err := store.SetBestVersion(context.Background(), Scope{Kind: domain.ScopeScene, ID: sceneID}, domain.AssetSceneVideo, 9)
	require.ErrorIs(t, err, ErrInvalidBest)
}
