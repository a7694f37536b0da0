package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/domain"
)

// Stage names (spec.md §4.5). Closed set: adding or removing one is a
// design change, not a runtime decision.
const (
	StageExpandCreativePrompt     = "expand_creative_prompt"
	StageCreateScenesFromAudio    = "create_scenes_from_audio"
	StageGenerateStoryboardOnly   = "generate_storyboard_exclusively_from_prompt"
	StageEnrichStoryboardScenes   = "enrich_storyboard_and_scenes"
	StageSemanticAnalysis         = "semantic_analysis"
	StageGenerateCharacterAssets  = "generate_character_assets"
	StageGenerateLocationAssets   = "generate_location_assets"
	StageGenerateSceneAssets      = "generate_scene_assets"
	StageProcessScene             = "process_scene"
	StageRenderVideo              = "render_video"
	StageFinalize                 = "finalize"
)

// Job types dispatched by stage bodies.
const (
	JobExpandCreativePrompt   = "EXPAND_CREATIVE_PROMPT"
	JobCreateScenesFromAudio  = "CREATE_SCENES_FROM_AUDIO"
	JobGenerateStoryboard     = "GENERATE_STORYBOARD"
	JobEnhanceStoryboard      = "ENHANCE_STORYBOARD"
	JobSemanticAnalysis       = "SEMANTIC_ANALYSIS"
	JobGenerateCharacterAsset = "GENERATE_CHARACTER_ASSETS"
	JobGenerateLocationAsset  = "GENERATE_LOCATION_ASSETS"
	JobGenerateSceneFrames    = "GENERATE_SCENE_FRAMES"
	JobGenerateSceneVideo     = "GENERATE_SCENE_VIDEO"
	JobRenderVideo            = "RENDER_VIDEO"
)

// Graph is the fixed stage table plus the entry router. It never holds
// per-project state itself; each stage loads the project rows it needs on
// every invocation, and Runner reloads the checkpoint.
type Graph struct {
	db    *gorm.DB
	disp  *Dispatcher
	stages map[string]StageFunc
}

func NewGraph(db *gorm.DB, disp *Dispatcher) *Graph {
	g := &Graph{db: db, disp: disp}
	g.stages = map[string]StageFunc{
		StageExpandCreativePrompt:    g.expandCreativePrompt,
		StageCreateScenesFromAudio:   g.createScenesFromAudio,
		StageGenerateStoryboardOnly:  g.generateStoryboardOnly,
		StageEnrichStoryboardScenes:  g.enrichStoryboardScenes,
		StageSemanticAnalysis:        g.semanticAnalysis,
		StageGenerateCharacterAssets: g.generateCharacterAssets,
		StageGenerateLocationAssets:  g.generateLocationAssets,
		StageGenerateSceneAssets:     g.generateSceneAssets,
		StageProcessScene:            g.processScene,
		StageRenderVideo:             g.renderVideo,
		StageFinalize:                g.finalize,
	}
	return g
}

func (g *Graph) loadCharacters(ctx context.Context, projectID uuid.UUID) ([]domain.Character, error) {
	var rows []domain.Character
	err := g.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&rows).Error
	return rows, err
}

func (g *Graph) loadLocations(ctx context.Context, projectID uuid.UUID) ([]domain.Location, error) {
	var rows []domain.Location
	err := g.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&rows).Error
	return rows, err
}

func (g *Graph) loadScenes(ctx context.Context, projectID uuid.UUID) ([]domain.Scene, error) {
	var rows []domain.Scene
	err := g.db.WithContext(ctx).Where("project_id = ?", projectID).Order("scene_index").Find(&rows).Error
	return rows, err
}

// projectHasAudio reports whether startPipeline was given a source audio
// track, deciding the §4.5 fork between segmenting scenes from audio and
// generating a storyboard from the prompt alone.
func (g *Graph) projectHasAudio(ctx context.Context, projectID uuid.UUID) (bool, error) {
	var project domain.Project
	if err := g.db.WithContext(ctx).Where("id = ?", projectID).First(&project).Error; err != nil {
		return false, fmt.Errorf("expand creative prompt: load project: %w", err)
	}
	return len(project.AudioAnalysis) > 0, nil
}

// Entry computes the entry-router decision (spec.md §4.5 "Entry routing").
func (g *Graph) Entry(ctx context.Context, projectID uuid.UUID) (string, error) {
	var project domain.Project
	if err := g.db.WithContext(ctx).Where("id = ?", projectID).First(&project).Error; err != nil {
		return "", fmt.Errorf("entry router: load project: %w", err)
	}
	var scenes []domain.Scene
	if err := g.db.WithContext(ctx).Where("project_id = ?", projectID).Order("scene_index").Find(&scenes).Error; err != nil {
		return "", fmt.Errorf("entry router: load scenes: %w", err)
	}

	anySceneHasBestVideo := false
	for _, sc := range scenes {
		reg := domain.AssetRegistry{}
		if len(sc.Assets) > 0 {
			_ = json.Unmarshal(sc.Assets, &reg)
		}
		if reg.Best(domain.AssetSceneVideo) != nil {
			anySceneHasBestVideo = true
			break
		}
	}
	if anySceneHasBestVideo {
		return StageProcessScene, nil
	}

	hasStoryboard := len(project.Storyboard) > 0 && len(scenes) > 0
	hasGenerationRules := len(project.GenerationRules.Data()) > 0

	if hasStoryboard && hasGenerationRules {
		return StageGenerateCharacterAssets, nil
	}
	if hasStoryboard {
		return StageSemanticAnalysis, nil
	}

	var projectAssets domain.AssetRegistry
	if len(project.Assets) > 0 {
		_ = json.Unmarshal(project.Assets, &projectAssets)
	}
	if projectAssets.Best(domain.AssetEnhancedPrompt) != nil {
		return StageEnrichStoryboardScenes, nil
	}
	return StageExpandCreativePrompt, nil
}

// Run drives exactly one stage body (the caller loops: Run, persist
// checkpoint, check PendingInterrupt, decide whether to continue).
func (g *Graph) Run(ctx context.Context, stage string, projectID uuid.UUID) (next string, err error) {
	fn, ok := g.stages[stage]
	if !ok {
		return "", fmt.Errorf("workflow: unknown stage %q", stage)
	}
	return fn(ctx, g.disp, projectID)
}
