package workflow

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockGraph(t *testing.T) (*Graph, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	dialector := postgres.New(postgres.Config{Conn: sqlDB, DriverName: "postgres"})
	gdb, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewGraph(gdb, nil), mock
}

func TestGraphProjectHasAudio_PresentWhenAudioAnalysisSet(t *testing.T) {
	g, mock := newMockGraph(t)
	projectID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "projects" WHERE id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "audio_analysis"}).
			AddRow(projectID, []byte(`{"sourceUri":"gs://bucket/audio.wav"}`)))

	hasAudio, err := g.projectHasAudio(context.Background(), projectID)
	require.NoError(t, err)
	require.True(t, hasAudio)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGraphProjectHasAudio_AbsentWhenAudioAnalysisEmpty(t *testing.T) {
	g, mock := newMockGraph(t)
	projectID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "projects" WHERE id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "audio_analysis"}).
			AddRow(projectID, nil))

	hasAudio, err := g.projectHasAudio(context.Background(), projectID)
	require.NoError(t, err)
	require.False(t, hasAudio)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGraphEntry_EmptyProjectRoutesToExpandCreativePrompt(t *testing.T) {
	g, mock := newMockGraph(t)
	projectID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "projects" WHERE id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "storyboard", "generation_rules", "assets"}).
			AddRow(projectID, nil, nil, nil))
	mock.ExpectQuery(`SELECT \* FROM "scenes" WHERE project_id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "scene_index", "assets"}))

	next, err := g.Entry(context.Background(), projectID)
	require.NoError(t, err)
	require.Equal(t, StageExpandCreativePrompt, next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGraphEntry_StoryboardWithoutGenerationRulesRoutesToSemanticAnalysis(t *testing.T) {
	g, mock := newMockGraph(t)
	projectID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "projects" WHERE id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "storyboard", "generation_rules", "assets"}).
			AddRow(projectID, []byte(`{"title":"x"}`), nil, nil))
	mock.ExpectQuery(`SELECT \* FROM "scenes" WHERE project_id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "scene_index", "assets"}).
			AddRow(uuid.New(), projectID, 0, nil))

	next, err := g.Entry(context.Background(), projectID)
	require.NoError(t, err)
	require.Equal(t, StageSemanticAnalysis, next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGraphEntry_StoryboardWithGenerationRulesRoutesToCharacterAssets(t *testing.T) {
	g, mock := newMockGraph(t)
	projectID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "projects" WHERE id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "storyboard", "generation_rules", "assets"}).
			AddRow(projectID, []byte(`{"title":"x"}`), []byte(`["rule1"]`), nil))
	mock.ExpectQuery(`SELECT \* FROM "scenes" WHERE project_id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "scene_index", "assets"}).
			AddRow(uuid.New(), projectID, 0, nil))

	next, err := g.Entry(context.Background(), projectID)
	require.NoError(t, err)
	require.Equal(t, StageGenerateCharacterAssets, next)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGraphEntry_SceneWithBestVideoRoutesToProcessScene(t *testing.T) {
	g, mock := newMockGraph(t)
	projectID := uuid.New()
	assets := []byte(`{"scene_video":{"best":1,"versions":[{"uri":"gs://bucket/video.mp4"}]}}`)

	mock.ExpectQuery(`SELECT \* FROM "projects" WHERE id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "storyboard", "generation_rules", "assets"}).
			AddRow(projectID, nil, nil, nil))
	mock.ExpectQuery(`SELECT \* FROM "scenes" WHERE project_id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "scene_index", "assets"}).
			AddRow(uuid.New(), projectID, 0, assets))

	next, err := g.Entry(context.Background(), projectID)
	require.NoError(t, err)
	require.Equal(t, StageProcessScene, next)
	require.NoError(t, mock.ExpectationsWereMet())
}
