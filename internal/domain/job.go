package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobState is the closed enumeration of job lifecycle states (spec.md §4.3).
type JobState string

const (
	JobCreated   JobState = "CREATED"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
	JobFatal     JobState = "FATAL"
	JobCancelled JobState = "CANCELLED"
)

// Terminal reports whether state is one from which no further transition
// is possible (FATAL, COMPLETED, CANCELLED).
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFatal, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is the unit of scheduled work (spec.md §3). Attempt is the
// optimistic-lock version: it only ever increases, never decreases, and a
// concurrent UPDATE guarded by "WHERE attempt = expected" that affects zero
// rows is a normal, non-error outcome for the caller to observe.
type Job struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID  uuid.UUID      `gorm:"type:uuid;not null;index:idx_jobs_project_type_key" json:"project_id"`
	Type       string         `gorm:"column:type;not null;index:idx_jobs_project_type_key" json:"type"`
	State      JobState       `gorm:"column:state;not null;index" json:"state"`
	Payload    datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result     datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	Error      string         `gorm:"column:error" json:"error,omitempty"`
	UniqueKey  string         `gorm:"column:unique_key;index:idx_jobs_project_type_key" json:"unique_key,omitempty"`
	AssetKey   string         `gorm:"column:asset_key" json:"asset_key,omitempty"`
	Attempt    int            `gorm:"column:attempt;not null;default:1" json:"attempt"`
	MaxRetries int            `gorm:"column:max_retries;not null;default:2" json:"max_retries"`
	CreatedAt  time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

// LogicalAddress is (projectId, type, uniqueKey) — the partial unique index
// enforces at most one {CREATED,RUNNING} job per address (spec.md GLOSSARY).
type LogicalAddress struct {
	ProjectID uuid.UUID
	Type      string
	UniqueKey string
}
