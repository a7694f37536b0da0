package domain

import (
	"time"

	"github.com/google/uuid"
)

// InterruptType is the closed enumeration of reasons a stage suspends
// (spec.md §3).
type InterruptType string

const (
	InterruptWaitingForJob     InterruptType = "waiting_for_job"
	InterruptWaitingForBatch   InterruptType = "waiting_for_batch"
	InterruptRetriesExhausted  InterruptType = "llm_retry_exhausted"
	InterruptIntervention      InterruptType = "llm_intervention"
)

// Interrupt is produced by the dispatcher when a stage must suspend. Only
// one interrupt is active per project checkpoint at a time.
type Interrupt struct {
	Type                 InterruptType          `json:"type"`
	Error                string                 `json:"error,omitempty"`
	ErrorDetails         string                 `json:"errorDetails,omitempty"`
	FunctionName         string                 `json:"functionName,omitempty"`
	NodeName             string                 `json:"nodeName"`
	ProjectID            uuid.UUID              `json:"projectId"`
	Attempt              int                    `json:"attempt"`
	LastAttemptTimestamp time.Time              `json:"lastAttemptTimestamp"`
	Params               map[string]interface{} `json:"params,omitempty"`
	RemainingCount       int                    `json:"remainingCount,omitempty"`
}

// NodeAttempts tracks the per-stage attempt counter kept in the checkpoint,
// keyed by stage name.
type NodeAttempts map[string]int

// ErrorRecord is one entry in the checkpoint's accumulated-errors list,
// written e.g. when RESOLVE_INTERVENTION{action:"skip"} is processed.
type ErrorRecord struct {
	NodeName  string    `json:"nodeName"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckpointState is the per-project snapshot of workflow state (spec.md
// §3). It is written after every stage transition and reloaded verbatim on
// resume; nothing about workflow progress is kept only in memory.
type CheckpointState struct {
	CurrentStage       string        `json:"currentStage"`
	NodeAttempts       NodeAttempts  `json:"nodeAttempts"`
	JobIDs             map[string]uuid.UUID `json:"jobIds"`
	Errors             []ErrorRecord `json:"errors"`
	PendingInterrupt   *Interrupt    `json:"pendingInterrupt,omitempty"`
	InterruptResolved  bool          `json:"interruptResolved"`
}

// Ensure initializes nil maps/slices so a freshly loaded or zero-value
// checkpoint is always safe to mutate.
func (s *CheckpointState) Ensure() {
	if s.NodeAttempts == nil {
		s.NodeAttempts = NodeAttempts{}
	}
	if s.JobIDs == nil {
		s.JobIDs = map[string]uuid.UUID{}
	}
}

// Checkpoint is the durable row backing one project's CheckpointState
// (spec.md §3/§6 "checkpoints" table).
type Checkpoint struct {
	ProjectID uuid.UUID `gorm:"type:uuid;primaryKey;column:project_id"`
	State     CheckpointState `gorm:"-"`
	StateJSON []byte    `gorm:"column:checkpoint;type:jsonb"`
	Version   int       `gorm:"column:checkpoint_version;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (Checkpoint) TableName() string { return "checkpoints" }
