package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProjectLock is one row per locked project (spec.md §3). It is created by
// acquire, touched by heartbeat, and deleted by release/force-release/the
// expiry sweep.
type ProjectLock struct {
	ProjectID  uuid.UUID      `gorm:"type:uuid;primaryKey;column:project_id" json:"project_id"`
	WorkerID   string         `gorm:"column:worker_id;not null;index" json:"worker_id"`
	AcquiredAt time.Time      `gorm:"column:acquired_at;not null" json:"acquired_at"`
	RenewedAt  time.Time      `gorm:"column:renewed_at;not null" json:"renewed_at"`
	ExpiresAt  time.Time      `gorm:"column:expires_at;not null;index" json:"expires_at"`
	Version    int            `gorm:"column:lock_version;not null;default:0" json:"lock_version"`
	Metadata   datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
}

func (ProjectLock) TableName() string { return "project_locks" }
