package workflow

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// expandCreativePrompt is the one stage the maintainer flagged as routing
// incorrectly: it must consult projectHasAudio rather than unconditionally
// picking the audio-segmentation branch.
func TestExpandCreativePrompt_RoutesToStoryboardOnlyWithoutAudio(t *testing.T) {
	d, jobMock := newTestDispatcher(t, testConfig())
	g, graphMock := newMockGraph(t)
	projectID := uuid.New()

	jobMock.ExpectQuery(`SELECT \* FROM "jobs" WHERE project_id = \$1 AND type = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(uuid.New(), projectID, JobExpandCreativePrompt, "COMPLETED", StageExpandCreativePrompt, 1, 3))
	graphMock.ExpectQuery(`SELECT \* FROM "projects" WHERE id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "audio_analysis"}).AddRow(projectID, nil))

	next, err := g.expandCreativePrompt(context.Background(), d, projectID)
	require.NoError(t, err)
	require.Equal(t, StageGenerateStoryboardOnly, next)
	require.NoError(t, jobMock.ExpectationsWereMet())
	require.NoError(t, graphMock.ExpectationsWereMet())
}

func TestExpandCreativePrompt_RoutesToCreateScenesFromAudioWithAudio(t *testing.T) {
	d, jobMock := newTestDispatcher(t, testConfig())
	g, graphMock := newMockGraph(t)
	projectID := uuid.New()

	jobMock.ExpectQuery(`SELECT \* FROM "jobs" WHERE project_id = \$1 AND type = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "type", "state", "unique_key", "attempt", "max_retries"}).
			AddRow(uuid.New(), projectID, JobExpandCreativePrompt, "COMPLETED", StageExpandCreativePrompt, 1, 3))
	graphMock.ExpectQuery(`SELECT \* FROM "projects" WHERE id = \$1`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "audio_analysis"}).
			AddRow(projectID, []byte(`{"sourceUri":"gs://bucket/audio.wav"}`)))

	next, err := g.expandCreativePrompt(context.Background(), d, projectID)
	require.NoError(t, err)
	require.Equal(t, StageCreateScenesFromAudio, next)
	require.NoError(t, jobMock.ExpectationsWereMet())
	require.NoError(t, graphMock.ExpectationsWereMet())
}
