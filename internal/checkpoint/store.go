// Package checkpoint persists and reloads per-project workflow state
// (spec.md §3, §6). Grounded on the teacher's
// internal/jobs/orchestrator/state.go LoadState/SaveState pair, generalized
// from an in-memory orchestrator field into a durable jsonb column with an
// optimistic-concurrency version.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/domain"
)

var ErrVersionConflict = errors.New("checkpoint: version conflict")

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Load returns the checkpoint for projectID, or a fresh zero-value one
// (version 0, never persisted) if none exists yet.
func (s *Store) Load(ctx context.Context, projectID uuid.UUID) (*domain.Checkpoint, error) {
	var row domain.Checkpoint
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = domain.Checkpoint{ProjectID: projectID}
		row.State.Ensure()
		return &row, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if len(row.StateJSON) > 0 {
		if err := json.Unmarshal(row.StateJSON, &row.State); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint state: %w", err)
		}
	}
	row.State.Ensure()
	return &row, nil
}

// Save persists cp.State, bumping the optimistic version. Callers must pass
// back the Checkpoint returned by Load (or a prior Save) so the expected
// version matches; a mismatch (another writer raced ahead) returns
// ErrVersionConflict and the caller must reload and retry.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	body, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal checkpoint state: %w", err)
	}
	now := time.Now()
	expected := cp.Version

	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO checkpoints (project_id, checkpoint, checkpoint_version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			checkpoint = EXCLUDED.checkpoint,
			checkpoint_version = checkpoints.checkpoint_version + 1,
			updated_at = EXCLUDED.updated_at
		WHERE checkpoints.checkpoint_version = ?
	`, cp.ProjectID, body, now, expected)
	if res.Error != nil {
		return fmt.Errorf("save checkpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}

	cp.StateJSON = body
	cp.UpdatedAt = now
	cp.Version = expected + 1
	return nil
}
