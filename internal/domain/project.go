package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProjectStatus is the closed enumeration of project lifecycle states
// (spec.md §3).
type ProjectStatus string

const (
	ProjectPending    ProjectStatus = "pending"
	ProjectGenerating ProjectStatus = "generating"
	ProjectEvaluating ProjectStatus = "evaluating"
	ProjectComplete   ProjectStatus = "complete"
	ProjectError      ProjectStatus = "error"
)

// MetricsSnapshot is an opaque, product-defined metrics payload; the core
// control plane only persists and returns it unchanged.
type MetricsSnapshot map[string]interface{}

// Project is the top-level aggregate. It is created once and mutated only
// under the project lock (internal/lockmgr); the core never deletes it.
type Project struct {
	ID      uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Status  ProjectStatus `gorm:"column:status;not null;index" json:"status"`
	Storyboard      datatypes.JSON `gorm:"column:storyboard;type:jsonb" json:"storyboard"`
	Metadata        datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	AudioAnalysis   datatypes.JSON `gorm:"column:audio_analysis;type:jsonb" json:"audio_analysis,omitempty"`
	Metrics         datatypes.JSON `gorm:"column:metrics;type:jsonb" json:"metrics"`
	Assets          datatypes.JSON `gorm:"column:assets;type:jsonb" json:"assets"`
	CurrentSceneIndex     int            `gorm:"column:current_scene_index;not null;default:0" json:"current_scene_index"`
	ForceRegenerateSceneIDs datatypes.JSONType[[]string] `gorm:"column:force_regenerate_scene_ids;type:jsonb" json:"force_regenerate_scene_ids"`
	GenerationRules         datatypes.JSONType[[]string] `gorm:"column:generation_rules;type:jsonb" json:"generation_rules"`
	GenerationRulesHistory  datatypes.JSON               `gorm:"column:generation_rules_history;type:jsonb" json:"generation_rules_history"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Project) TableName() string { return "projects" }

// Character is a project child entity with its own asset registry, scoped
// to the character. Business content (name, appearance, etc.) is opaque
// payload the core schedules work over.
type Character struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Assets    datatypes.JSON `gorm:"column:assets;type:jsonb" json:"assets"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Character) TableName() string { return "characters" }

// Location is a project child entity with its own asset registry, scoped
// to the location.
type Location struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Assets    datatypes.JSON `gorm:"column:assets;type:jsonb" json:"assets"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Location) TableName() string { return "locations" }

// Scene is a project child entity with its own asset registry, scoped to
// the scene. SceneCharacter is the association table
// (scenes_to_characters) the core does not otherwise interpret.
type Scene struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	Index     int            `gorm:"column:scene_index;not null" json:"scene_index"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Assets    datatypes.JSON `gorm:"column:assets;type:jsonb" json:"assets"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Scene) TableName() string { return "scenes" }

// SceneCharacter is the scenes_to_characters association table, a
// composite-primary-key join between scenes and characters.
type SceneCharacter struct {
	SceneID     uuid.UUID `gorm:"type:uuid;primaryKey;column:scene_id" json:"scene_id"`
	CharacterID uuid.UUID `gorm:"type:uuid;primaryKey;column:character_id" json:"character_id"`
}

func (SceneCharacter) TableName() string { return "scenes_to_characters" }
