package workflow

import (
	"context"

	"github.com/google/uuid"
)

// Each stage body is a pure function of project state that delegates all
// real work to exactly one Dispatcher call, per spec.md §4.5. The "next"
// stage returned on success is consulted by the runner loop; Suspended /
// ErrRetriesExhausted bubble straight up without a next stage.

func (g *Graph) expandCreativePrompt(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (string, error) {
	if _, err := d.EnsureJob(ctx, projectID, StageExpandCreativePrompt, JobExpandCreativePrompt, "enhanced_prompt", nil); err != nil {
		return "", err
	}
	hasAudio, err := g.projectHasAudio(ctx, projectID)
	if err != nil {
		return "", err
	}
	if hasAudio {
		return StageCreateScenesFromAudio, nil
	}
	return StageGenerateStoryboardOnly, nil
}

func (g *Graph) createScenesFromAudio(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (string, error) {
	if _, err := d.EnsureJob(ctx, projectID, StageCreateScenesFromAudio, JobCreateScenesFromAudio, "storyboard", nil); err != nil {
		return "", err
	}
	return StageEnrichStoryboardScenes, nil
}

func (g *Graph) generateStoryboardOnly(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (string, error) {
	if _, err := d.EnsureJob(ctx, projectID, StageGenerateStoryboardOnly, JobGenerateStoryboard, "storyboard", nil); err != nil {
		return "", err
	}
	return StageEnrichStoryboardScenes, nil
}

func (g *Graph) enrichStoryboardScenes(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (string, error) {
	if _, err := d.EnsureJob(ctx, projectID, StageEnrichStoryboardScenes, JobEnhanceStoryboard, "storyboard", nil); err != nil {
		return "", err
	}
	return StageSemanticAnalysis, nil
}

func (g *Graph) semanticAnalysis(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (string, error) {
	if _, err := d.EnsureJob(ctx, projectID, StageSemanticAnalysis, JobSemanticAnalysis, "generation_rules", nil); err != nil {
		return "", err
	}
	return StageGenerateCharacterAssets, nil
}

func (g *Graph) generateCharacterAssets(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (string, error) {
	characters, err := g.loadCharacters(ctx, projectID)
	if err != nil {
		return "", err
	}
	specs := make([]JobSpec, 0, len(characters))
	for _, c := range characters {
		specs = append(specs, JobSpec{UniqueKey: c.ID.String(), JobType: JobGenerateCharacterAsset, AssetKey: "character_image"})
	}
	if len(specs) > 0 {
		if _, err := d.EnsureBatchJobs(ctx, projectID, StageGenerateCharacterAssets, specs); err != nil {
			return "", err
		}
	}
	return StageGenerateLocationAssets, nil
}

func (g *Graph) generateLocationAssets(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (string, error) {
	locations, err := g.loadLocations(ctx, projectID)
	if err != nil {
		return "", err
	}
	specs := make([]JobSpec, 0, len(locations))
	for _, l := range locations {
		specs = append(specs, JobSpec{UniqueKey: l.ID.String(), JobType: JobGenerateLocationAsset, AssetKey: "location_image"})
	}
	if len(specs) > 0 {
		if _, err := d.EnsureBatchJobs(ctx, projectID, StageGenerateLocationAssets, specs); err != nil {
			return "", err
		}
	}
	return StageGenerateSceneAssets, nil
}

func (g *Graph) generateSceneAssets(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (string, error) {
	scenes, err := g.loadScenes(ctx, projectID)
	if err != nil {
		return "", err
	}
	specs := make([]JobSpec, 0, len(scenes)*2)
	for _, sc := range scenes {
		specs = append(specs,
			JobSpec{UniqueKey: sc.ID.String() + ":start", JobType: JobGenerateSceneFrames, AssetKey: "scene_start_frame"},
			JobSpec{UniqueKey: sc.ID.String() + ":end", JobType: JobGenerateSceneFrames, AssetKey: "scene_end_frame"},
		)
	}
	if len(specs) > 0 {
		if _, err := d.EnsureBatchJobs(ctx, projectID, StageGenerateSceneAssets, specs); err != nil {
			return "", err
		}
	}
	return StageProcessScene, nil
}

// processScene is the fan-out per-scene video synthesis stage. It does not
// read the execution mode (SEQUENTIAL vs PARALLEL); how many scenes
// EnsureBatchJobs starts at once is bounded only by MaxParallelJobs in
// config, and the stage body itself is unconditional.
func (g *Graph) processScene(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (string, error) {
	scenes, err := g.loadScenes(ctx, projectID)
	if err != nil {
		return "", err
	}
	specs := make([]JobSpec, 0, len(scenes))
	for _, sc := range scenes {
		specs = append(specs, JobSpec{UniqueKey: sc.ID.String(), JobType: JobGenerateSceneVideo, AssetKey: "scene_video"})
	}
	if len(specs) > 0 {
		if _, err := d.EnsureBatchJobs(ctx, projectID, StageProcessScene, specs); err != nil {
			return "", err
		}
	}
	return StageRenderVideo, nil
}

func (g *Graph) renderVideo(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (string, error) {
	if _, err := d.EnsureJob(ctx, projectID, StageRenderVideo, JobRenderVideo, "rendered_video", nil); err != nil {
		return "", err
	}
	return StageFinalize, nil
}

func (g *Graph) finalize(ctx context.Context, d *Dispatcher, projectID uuid.UUID) (string, error) {
	// Finalize writes nothing and dispatches no job; it is the terminal
	// stage.
	return "", nil
}
