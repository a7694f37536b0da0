// Package stagehandlers implements the jobworker.Handler for every job
// type the graph (internal/workflow) dispatches. Each handler stands in
// for one deliberately out-of-scope external generative-model call
// (spec.md §1 Non-goals: "calling any actual LLM/image/video backend");
// it performs the minimal domain-state mutation a real backend's result
// would have caused and, for every type except SEMANTIC_ANALYSIS (which
// only sets the project's generation rules), appends one placeholder
// asset version, so the graph's asset and generation-rules reads proceed
// exactly as they would against a real backend.
//
// Grounded on the teacher's internal/jobs/pipeline/* handler shape (a
// struct wrapping its dependencies, implementing one Run/Handle method
// per job/pipeline type), generalized from the teacher's product-specific
// (course/lesson/chat) handlers to this control plane's storyboard/asset
// generation job types.
package stagehandlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/assets"
	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/jobworker"
	"github.com/neurobridge-labs/reelforge/internal/workflow"
)

// Deps are the dependencies every handler in this package needs.
type Deps struct {
	DB     *gorm.DB
	Assets *assets.Store
}

// RegisterAll wires one handler per job type the graph dispatches into
// registry. Call this once during worker process wiring, before
// jobworker.Pool.Start.
func RegisterAll(registry *jobworker.Registry, deps Deps) {
	h := &handlers{deps: deps}
	registry.Register(workflow.JobExpandCreativePrompt, jobworker.HandlerFunc(h.expandCreativePrompt))
	registry.Register(workflow.JobCreateScenesFromAudio, jobworker.HandlerFunc(h.seedStoryboard))
	registry.Register(workflow.JobGenerateStoryboard, jobworker.HandlerFunc(h.seedStoryboard))
	registry.Register(workflow.JobEnhanceStoryboard, jobworker.HandlerFunc(h.enhanceStoryboard))
	registry.Register(workflow.JobSemanticAnalysis, jobworker.HandlerFunc(h.semanticAnalysis))
	registry.Register(workflow.JobGenerateCharacterAsset, jobworker.HandlerFunc(h.generateCharacterAsset))
	registry.Register(workflow.JobGenerateLocationAsset, jobworker.HandlerFunc(h.generateLocationAsset))
	registry.Register(workflow.JobGenerateSceneFrames, jobworker.HandlerFunc(h.generateSceneFrame))
	registry.Register(workflow.JobGenerateSceneVideo, jobworker.HandlerFunc(h.generateSceneVideo))
	registry.Register(workflow.JobRenderVideo, jobworker.HandlerFunc(h.renderVideo))
	registry.Register("FRAME_RENDER", jobworker.HandlerFunc(h.regenerateFrame))
}

type handlers struct {
	deps Deps
}

func placeholderVersion(typ domain.AssetType, data string, jobID uuid.UUID) assets.NewVersion {
	return assets.NewVersion{
		Type: typ,
		Data: data,
		Metadata: domain.AssetVersionMetadata{
			Model: "placeholder",
			JobID: jobID.String(),
		},
	}
}

func (h *handlers) expandCreativePrompt(ctx context.Context, job *domain.Job) (interface{}, error) {
	scope := assets.Scope{Kind: domain.ScopeProject, ID: job.ProjectID}
	v := placeholderVersion(domain.AssetTypeText, "expanded creative prompt placeholder", job.ID)
	hist, err := h.deps.Assets.CreateVersionedAssets(ctx, scope, domain.AssetEnhancedPrompt, []assets.NewVersion{v}, true)
	if err != nil {
		return nil, fmt.Errorf("expand creative prompt: %w", err)
	}
	return map[string]interface{}{"assetKey": domain.AssetEnhancedPrompt, "version": hist.Best}, nil
}

// seedStoryboard backs both CREATE_SCENES_FROM_AUDIO (has an audio track to
// segment) and GENERATE_STORYBOARD (prompt only, no audio): both produce a
// "storyboard" asset and at least one character/location/scene row so
// downstream fan-out stages have something to iterate over.
func (h *handlers) seedStoryboard(ctx context.Context, job *domain.Job) (interface{}, error) {
	var project domain.Project
	if err := h.deps.DB.WithContext(ctx).Where("id = ?", job.ProjectID).First(&project).Error; err != nil {
		return nil, fmt.Errorf("seed storyboard: load project: %w", err)
	}

	var sceneCount int64
	if err := h.deps.DB.WithContext(ctx).Model(&domain.Scene{}).Where("project_id = ?", job.ProjectID).Count(&sceneCount).Error; err != nil {
		return nil, fmt.Errorf("seed storyboard: count scenes: %w", err)
	}
	if sceneCount == 0 {
		character := domain.Character{ProjectID: job.ProjectID, Payload: datatypes.JSON(`{"name":"placeholder"}`)}
		location := domain.Location{ProjectID: job.ProjectID, Payload: datatypes.JSON(`{"name":"placeholder"}`)}
		scene := domain.Scene{ProjectID: job.ProjectID, Index: 0, Payload: datatypes.JSON(`{"description":"placeholder scene"}`)}
		err := h.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&character).Error; err != nil {
				return err
			}
			if err := tx.Create(&location).Error; err != nil {
				return err
			}
			if err := tx.Create(&scene).Error; err != nil {
				return err
			}
			return tx.Create(&domain.SceneCharacter{SceneID: scene.ID, CharacterID: character.ID}).Error
		})
		if err != nil {
			return nil, fmt.Errorf("seed storyboard: create placeholder entities: %w", err)
		}
	}

	storyboard, err := json.Marshal(map[string]interface{}{"scenes": sceneCount + 1})
	if err != nil {
		return nil, err
	}
	project.Storyboard = datatypes.JSON(storyboard)
	if err := h.deps.DB.WithContext(ctx).Model(&project).Update("storyboard", project.Storyboard).Error; err != nil {
		return nil, fmt.Errorf("seed storyboard: save project: %w", err)
	}

	scope := assets.Scope{Kind: domain.ScopeProject, ID: job.ProjectID}
	v := placeholderVersion(domain.AssetTypeJSON, string(storyboard), job.ID)
	if _, err := h.deps.Assets.CreateVersionedAssets(ctx, scope, domain.AssetStoryboard, []assets.NewVersion{v}, true); err != nil {
		return nil, fmt.Errorf("seed storyboard: append asset version: %w", err)
	}
	return map[string]interface{}{"assetKey": domain.AssetStoryboard}, nil
}

func (h *handlers) enhanceStoryboard(ctx context.Context, job *domain.Job) (interface{}, error) {
	scope := assets.Scope{Kind: domain.ScopeProject, ID: job.ProjectID}
	v := placeholderVersion(domain.AssetTypeJSON, `{"enriched":true}`, job.ID)
	if _, err := h.deps.Assets.CreateVersionedAssets(ctx, scope, domain.AssetStoryboard, []assets.NewVersion{v}, true); err != nil {
		return nil, fmt.Errorf("enhance storyboard: %w", err)
	}
	return map[string]interface{}{"assetKey": domain.AssetStoryboard}, nil
}

// semanticAnalysis sets a non-empty GenerationRules list so the entry
// router (StageGenerateCharacterAssets branch) advances past it.
func (h *handlers) semanticAnalysis(ctx context.Context, job *domain.Job) (interface{}, error) {
	var project domain.Project
	if err := h.deps.DB.WithContext(ctx).Where("id = ?", job.ProjectID).First(&project).Error; err != nil {
		return nil, fmt.Errorf("semantic analysis: load project: %w", err)
	}
	project.GenerationRules = datatypes.NewJSONType([]string{"default"})
	if err := h.deps.DB.WithContext(ctx).Model(&project).Update("generation_rules", project.GenerationRules).Error; err != nil {
		return nil, fmt.Errorf("semantic analysis: save project: %w", err)
	}
	return map[string]interface{}{"generationRules": project.GenerationRules.Data()}, nil
}

func (h *handlers) generateCharacterAsset(ctx context.Context, job *domain.Job) (interface{}, error) {
	id, err := uuid.Parse(job.UniqueKey)
	if err != nil {
		return nil, fmt.Errorf("generate character asset: bad character id: %w", err)
	}
	scope := assets.Scope{Kind: domain.ScopeCharacter, ID: id}
	v := placeholderVersion(domain.AssetTypeImage, "character image placeholder", job.ID)
	hist, err := h.deps.Assets.CreateVersionedAssets(ctx, scope, domain.AssetCharacterImage, []assets.NewVersion{v}, true)
	if err != nil {
		return nil, fmt.Errorf("generate character asset: %w", err)
	}
	return map[string]interface{}{"assetKey": domain.AssetCharacterImage, "version": hist.Best}, nil
}

func (h *handlers) generateLocationAsset(ctx context.Context, job *domain.Job) (interface{}, error) {
	id, err := uuid.Parse(job.UniqueKey)
	if err != nil {
		return nil, fmt.Errorf("generate location asset: bad location id: %w", err)
	}
	scope := assets.Scope{Kind: domain.ScopeLocation, ID: id}
	v := placeholderVersion(domain.AssetTypeImage, "location image placeholder", job.ID)
	hist, err := h.deps.Assets.CreateVersionedAssets(ctx, scope, domain.AssetLocationImage, []assets.NewVersion{v}, true)
	if err != nil {
		return nil, fmt.Errorf("generate location asset: %w", err)
	}
	return map[string]interface{}{"assetKey": domain.AssetLocationImage, "version": hist.Best}, nil
}

// generateSceneFrame handles both GENERATE_SCENE_FRAMES fan-out items
// (job.UniqueKey is "<sceneId>:start" or "<sceneId>:end"); the UniqueKey
// suffix tells it which frame kind to append, and job.AssetKey is read
// only when the key carries no such suffix.
func (h *handlers) generateSceneFrame(ctx context.Context, job *domain.Job) (interface{}, error) {
	sceneID, kind, err := sceneFrameAddress(job)
	if err != nil {
		return nil, err
	}
	scope := assets.Scope{Kind: domain.ScopeScene, ID: sceneID}
	v := placeholderVersion(domain.AssetTypeImage, string(kind)+" placeholder", job.ID)
	hist, err := h.deps.Assets.CreateVersionedAssets(ctx, scope, kind, []assets.NewVersion{v}, true)
	if err != nil {
		return nil, fmt.Errorf("generate scene frame: %w", err)
	}
	return map[string]interface{}{"assetKey": kind, "version": hist.Best}, nil
}

func sceneFrameAddress(job *domain.Job) (uuid.UUID, domain.AssetKind, error) {
	raw := job.UniqueKey
	if len(raw) > len(":start") && raw[len(raw)-len(":start"):] == ":start" {
		id, err := uuid.Parse(raw[:len(raw)-len(":start")])
		return id, domain.AssetSceneStartFrame, err
	}
	if len(raw) > len(":end") && raw[len(raw)-len(":end"):] == ":end" {
		id, err := uuid.Parse(raw[:len(raw)-len(":end")])
		return id, domain.AssetSceneEndFrame, err
	}
	id, err := uuid.Parse(raw)
	return id, domain.AssetKind(job.AssetKey), err
}

func (h *handlers) generateSceneVideo(ctx context.Context, job *domain.Job) (interface{}, error) {
	id, err := uuid.Parse(job.UniqueKey)
	if err != nil {
		return nil, fmt.Errorf("generate scene video: bad scene id: %w", err)
	}
	scope := assets.Scope{Kind: domain.ScopeScene, ID: id}
	v := placeholderVersion(domain.AssetTypeVideo, "scene video placeholder", job.ID)
	hist, err := h.deps.Assets.CreateVersionedAssets(ctx, scope, domain.AssetSceneVideo, []assets.NewVersion{v}, true)
	if err != nil {
		return nil, fmt.Errorf("generate scene video: %w", err)
	}
	return map[string]interface{}{"assetKey": domain.AssetSceneVideo, "version": hist.Best}, nil
}

func (h *handlers) renderVideo(ctx context.Context, job *domain.Job) (interface{}, error) {
	scope := assets.Scope{Kind: domain.ScopeProject, ID: job.ProjectID}
	v := placeholderVersion(domain.AssetTypeVideo, "rendered video placeholder", job.ID)
	hist, err := h.deps.Assets.CreateVersionedAssets(ctx, scope, domain.AssetRenderedVideo, []assets.NewVersion{v}, true)
	if err != nil {
		return nil, fmt.Errorf("render video: %w", err)
	}
	return map[string]interface{}{"assetKey": domain.AssetRenderedVideo, "version": hist.Best}, nil
}

// regenerateFrame backs REGENERATE_FRAME (operator.regenerateFrame),
// which creates a FRAME_RENDER job directly, out of the graph.
func (h *handlers) regenerateFrame(ctx context.Context, job *domain.Job) (interface{}, error) {
	var payload struct {
		SceneID  string `json:"sceneId"`
		AssetKey string `json:"assetKey"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("regenerate frame: decode payload: %w", err)
	}
	sceneID, err := uuid.Parse(payload.SceneID)
	if err != nil {
		return nil, fmt.Errorf("regenerate frame: bad scene id: %w", err)
	}
	kind := domain.AssetKind(payload.AssetKey)
	scope := assets.Scope{Kind: domain.ScopeScene, ID: sceneID}
	v := placeholderVersion(domain.AssetTypeImage, string(kind)+" regenerated placeholder", job.ID)
	hist, err := h.deps.Assets.CreateVersionedAssets(ctx, scope, kind, []assets.NewVersion{v}, false)
	if err != nil {
		return nil, fmt.Errorf("regenerate frame: %w", err)
	}
	return map[string]interface{}{"assetKey": kind, "newVersion": len(hist.Versions)}, nil
}
