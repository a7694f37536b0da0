// Package operator implements the command plane (spec.md §4.6): the closed
// set of idempotent commands that start, resume, steer, and stop a
// project's workflow, each running under the project lock acquired first
// and released in a finally clause.
//
// Grounded on the teacher's internal/app command-handling wiring,
// generalized from the teacher's direct-call command surface to spec.md's
// explicit START/RESUME/REGENERATE/UPDATE/RESOLVE/STOP command set with a
// per-project cancellation handle.
package operator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/assets"
	"github.com/neurobridge-labs/reelforge/internal/checkpoint"
	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/events"
	"github.com/neurobridge-labs/reelforge/internal/jobs"
	"github.com/neurobridge-labs/reelforge/internal/lockmgr"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
	"github.com/neurobridge-labs/reelforge/internal/workflow"
)

var ErrLockBusy = errors.New("operator: could not acquire project lock")

type Command string

const (
	CmdStartPipeline       Command = "START_PIPELINE"
	CmdResumePipeline      Command = "RESUME_PIPELINE"
	CmdRegenerateScene     Command = "REGENERATE_SCENE"
	CmdRegenerateFrame     Command = "REGENERATE_FRAME"
	CmdUpdateSceneAsset    Command = "UPDATE_SCENE_ASSET"
	CmdResolveIntervention Command = "RESOLVE_INTERVENTION"
	CmdStopPipeline        Command = "STOP_PIPELINE"
)

type InterventionAction string

const (
	InterventionAbort             InterventionAction = "abort"
	InterventionSkip              InterventionAction = "skip"
	InterventionRetryWithRevised  InterventionAction = "retry_with_revised_params"
)

// Envelope mirrors the commands-topic message shape (spec.md §6).
type Envelope struct {
	Type      Command         `json:"type"`
	ProjectID uuid.UUID       `json:"projectId"`
	CommandID string          `json:"commandId"`
	Payload   json.RawMessage `json:"payload"`
}

// Operator dispatches commands, holding one cancellation handle per
// in-flight project.
type Operator struct {
	db      *gorm.DB
	locks   *lockmgr.Manager
	jobSvc  *jobs.Service
	assetSt *assets.Store
	cpStore *checkpoint.Store
	runner  *workflow.Runner
	graph   *workflow.Graph
	bus     events.Bus
	log     *logger.Logger

	lockTTL           time.Duration
	heartbeatInterval time.Duration

	mu      sync.Mutex
	handles map[uuid.UUID]context.CancelFunc
	seen    map[string]struct{} // commandId idempotency guard
}

func New(db *gorm.DB, locks *lockmgr.Manager, jobSvc *jobs.Service, assetSt *assets.Store, cpStore *checkpoint.Store, runner *workflow.Runner, graph *workflow.Graph, bus events.Bus, log *logger.Logger, lockTTL, heartbeatInterval time.Duration) *Operator {
	return &Operator{
		db: db, locks: locks, jobSvc: jobSvc, assetSt: assetSt, cpStore: cpStore,
		runner: runner, graph: graph, bus: bus, log: log.With("component", "Operator"),
		lockTTL: lockTTL, heartbeatInterval: heartbeatInterval,
		handles: map[uuid.UUID]context.CancelFunc{},
		seen:    map[string]struct{}{},
	}
}

// Dispatch routes one command envelope. Every command that runs or
// mutates the graph acquires the project lock first and releases it in a
// finally clause (spec.md §4.6); a command that cannot acquire the lock
// fails fast with ErrLockBusy.
func (o *Operator) Dispatch(ctx context.Context, env Envelope) error {
	if env.CommandID != "" {
		o.mu.Lock()
		if _, dup := o.seen[env.CommandID]; dup {
			o.mu.Unlock()
			o.log.Info("duplicate command ignored", "command_id", env.CommandID, "type", env.Type)
			return nil
		}
		o.seen[env.CommandID] = struct{}{}
		o.mu.Unlock()
	}

	switch env.Type {
	case CmdStopPipeline:
		// STOP_PIPELINE fires the abort signal directly; it does not take
		// the project lock (the lock holder observes cancellation and
		// releases on its own abort path).
		o.stopPipeline(env.ProjectID)
		return nil
	}

	acquired, err := o.locks.AcquireLock(ctx, env.ProjectID, lockmgr.Options{
		LockTTL:           o.lockTTL,
		HeartbeatInterval: o.heartbeatInterval,
	})
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return ErrLockBusy
	}
	defer func() {
		if err := o.locks.ReleaseLock(context.Background(), env.ProjectID); err != nil {
			o.log.Warn("release lock failed", "project_id", env.ProjectID, "error", err)
		}
	}()

	runCtx := o.bindHandle(ctx, env.ProjectID)
	defer o.clearHandle(env.ProjectID)

	switch env.Type {
	case CmdStartPipeline:
		return o.startPipeline(runCtx, env)
	case CmdResumePipeline:
		return o.resumePipeline(runCtx, env)
	case CmdRegenerateScene:
		return o.regenerateScene(runCtx, env)
	case CmdRegenerateFrame:
		return o.regenerateFrame(runCtx, env)
	case CmdUpdateSceneAsset:
		return o.updateSceneAsset(runCtx, env)
	case CmdResolveIntervention:
		return o.resolveIntervention(runCtx, env)
	default:
		return fmt.Errorf("operator: unknown command %q", env.Type)
	}
}

func (o *Operator) bindHandle(ctx context.Context, projectID uuid.UUID) context.Context {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.handles[projectID] = cancel
	o.mu.Unlock()
	return runCtx
}

func (o *Operator) clearHandle(projectID uuid.UUID) {
	o.mu.Lock()
	delete(o.handles, projectID)
	o.mu.Unlock()
}

func (o *Operator) stopPipeline(projectID uuid.UUID) {
	o.mu.Lock()
	cancel, ok := o.handles[projectID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

type startPipelinePayload struct {
	InitialPrompt string  `json:"initialPrompt"`
	AudioGCSURI   *string `json:"audioGcsUri"`
}

func (o *Operator) startPipeline(ctx context.Context, env Envelope) error {
	var payload startPipelinePayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("start pipeline: decode payload: %w", err)
		}
	}

	project := domain.Project{ID: env.ProjectID, Status: domain.ProjectGenerating}
	if payload.AudioGCSURI != nil && *payload.AudioGCSURI != "" {
		raw, err := json.Marshal(map[string]string{"sourceUri": *payload.AudioGCSURI})
		if err != nil {
			return fmt.Errorf("start pipeline: encode audio analysis: %w", err)
		}
		project.AudioAnalysis = datatypes.JSON(raw)
	}
	if err := o.db.WithContext(ctx).Create(&project).Error; err != nil {
		return fmt.Errorf("start pipeline: create project: %w", err)
	}

	cp, err := o.cpStore.Load(ctx, env.ProjectID)
	if err != nil {
		return fmt.Errorf("start pipeline: init checkpoint: %w", err)
	}
	cp.State.Ensure()
	if err := o.cpStore.Save(ctx, cp); err != nil {
		return fmt.Errorf("start pipeline: save initial checkpoint: %w", err)
	}

	_ = workflow.PublishPipelineEvent(ctx, o.bus, events.WorkflowStarted, env.ProjectID, project)

	return o.runner.Run(ctx, env.ProjectID, "")
}

func (o *Operator) resumePipeline(ctx context.Context, env Envelope) error {
	return o.runner.Resume(ctx, env.ProjectID)
}

type regenerateScenePayload struct {
	SceneID            string `json:"sceneId"`
	PromptModification string `json:"promptModification"`
}

func (o *Operator) regenerateScene(ctx context.Context, env Envelope) error {
	var payload regenerateScenePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("regenerate scene: decode payload: %w", err)
	}
	var project domain.Project
	if err := o.db.WithContext(ctx).Where("id = ?", env.ProjectID).First(&project).Error; err != nil {
		return fmt.Errorf("regenerate scene: load project: %w", err)
	}
	ids := project.ForceRegenerateSceneIDs.Data()
	ids = append(ids, payload.SceneID)
	project.ForceRegenerateSceneIDs = datatypes.NewJSONType(ids)
	if err := o.db.WithContext(ctx).Save(&project).Error; err != nil {
		return fmt.Errorf("regenerate scene: save project: %w", err)
	}
	return o.runner.Run(ctx, env.ProjectID, workflow.StageProcessScene)
}

type regenerateFramePayload struct {
	SceneID  string `json:"sceneId"`
	AssetKey string `json:"assetKey"`
}

func (o *Operator) regenerateFrame(ctx context.Context, env Envelope) error {
	var payload regenerateFramePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("regenerate frame: decode payload: %w", err)
	}
	_, err := o.jobSvc.CreateJob(ctx, jobs.CreateParams{
		ProjectID: env.ProjectID,
		Type:      "FRAME_RENDER",
		UniqueKey: payload.SceneID + ":" + payload.AssetKey + ":regen:" + env.CommandID,
		AssetKey:  payload.AssetKey,
		Payload:   payload,
	})
	return err
}

type updateSceneAssetPayload struct {
	SceneID  string `json:"sceneId"`
	AssetKey domain.AssetKind `json:"assetKey"`
	Version  int    `json:"version"`
}

func (o *Operator) updateSceneAsset(ctx context.Context, env Envelope) error {
	var payload updateSceneAssetPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("update scene asset: decode payload: %w", err)
	}
	sceneID, err := uuid.Parse(payload.SceneID)
	if err != nil {
		return fmt.Errorf("update scene asset: bad scene id: %w", err)
	}
	scope := assets.Scope{Kind: domain.ScopeScene, ID: sceneID}
	if err := o.assetSt.SetBestVersion(ctx, scope, payload.AssetKey, payload.Version); err != nil {
		return fmt.Errorf("update scene asset: %w", err)
	}

	var project domain.Project
	if err := o.db.WithContext(ctx).Where("id = ?", env.ProjectID).First(&project).Error; err == nil {
		_ = workflow.PublishPipelineEvent(ctx, o.bus, events.FullState, env.ProjectID, project)
	}
	return nil
}

type resolveInterventionPayload struct {
	Action        InterventionAction     `json:"action"`
	RevisedParams map[string]interface{} `json:"revisedParams"`
}

func (o *Operator) resolveIntervention(ctx context.Context, env Envelope) error {
	var payload resolveInterventionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("resolve intervention: decode payload: %w", err)
	}

	cp, err := o.cpStore.Load(ctx, env.ProjectID)
	if err != nil {
		return fmt.Errorf("resolve intervention: load checkpoint: %w", err)
	}
	interrupt := cp.State.PendingInterrupt
	if interrupt == nil {
		o.log.Info("resolve intervention: no pending interrupt, ignoring", "project_id", env.ProjectID)
		return nil
	}
	stage := interrupt.NodeName
	cp.State.PendingInterrupt = nil
	cp.State.InterruptResolved = true

	switch payload.Action {
	case InterventionAbort:
		if err := o.cpStore.Save(ctx, cp); err != nil {
			return err
		}
		return workflow.PublishPipelineEvent(ctx, o.bus, events.WorkflowFailed, env.ProjectID, map[string]string{"error": interrupt.Error, "nodeName": stage})
	case InterventionSkip:
		cp.State.Errors = append(cp.State.Errors, domain.ErrorRecord{NodeName: stage, Error: interrupt.Error})
		if err := o.cpStore.Save(ctx, cp); err != nil {
			return err
		}
		return o.runner.Resume(ctx, env.ProjectID)
	case InterventionRetryWithRevised:
		if interrupt.Params == nil {
			interrupt.Params = map[string]interface{}{}
		}
		for k, v := range payload.RevisedParams {
			interrupt.Params[k] = v
		}
		if err := o.cpStore.Save(ctx, cp); err != nil {
			return err
		}
		return o.runner.Run(ctx, env.ProjectID, stage)
	default:
		return fmt.Errorf("resolve intervention: unknown action %q", payload.Action)
	}
}
