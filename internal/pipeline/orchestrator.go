package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"shortsd/internal/capabilities"
	"shortsd/internal/delivery"
	"shortsd/internal/errtax"
	"shortsd/internal/events"
	"shortsd/internal/framing"
	"shortsd/internal/hooks"
	"shortsd/internal/model"
	"shortsd/internal/recovery"
	"shortsd/internal/stagerunner"
	"shortsd/internal/statestore"
	"shortsd/internal/workspace"
)

// Orchestrator drives one run through the full stage sequence, owning the
// per-stage sub-state tracker, the recovery chain on failure, the hook
// scheduler for async asset generation, and the framing style machine for
// Assembly.
type Orchestrator struct {
	runner    *stagerunner.Runner
	recovery  *recovery.Chain
	hooks     *hooks.Scheduler
	bus       *events.Bus
	processor capabilities.MediaProcessor
	delivery  *delivery.Tracker
	clock     capabilities.Clock

	segments []capabilities.SegmentArtifact
	framing  *framing.Machine
}

// New builds an Orchestrator from its already-wired collaborators.
func New(runner *stagerunner.Runner, chain *recovery.Chain, hookSched *hooks.Scheduler, bus *events.Bus, processor capabilities.MediaProcessor, deliveryTracker *delivery.Tracker, clock capabilities.Clock) *Orchestrator {
	return &Orchestrator{runner: runner, recovery: chain, hooks: hookSched, bus: bus, processor: processor, delivery: deliveryTracker, clock: clock}
}

// artifactStore is the in-memory map of stage output artifacts accumulated
// as a run progresses; each stage reads its declared InputNames from here.
type artifactStore map[string]model.Artifact

// RunToCompletion drives run through every stage from run.CurrentStage to
// StageDone (or until an unresolved failure forces an early return), saving
// a checkpoint after every stage completes, per the crash-resume invariant
// of §8.
func (o *Orchestrator) RunToCompletion(ctx context.Context, ws *workspace.Workspace, store *statestore.Store, run *model.Run) error {
	artifacts := artifactStore{}
	descriptors := model.Descriptors()

	startIdx := 0
	if run.CurrentStage != "" {
		if idx := model.Index(run.CurrentStage); idx >= 0 {
			startIdx = idx
		}
	}

	fm, err := framing.New(framing.StyleSolo)
	if err != nil {
		return fmt.Errorf("pipeline: init framing machine: %w", err)
	}
	o.framing = fm

	defer func() {
		if run.ExitStatus != model.ExitCompleted {
			o.hooks.CancelPending(run.RunID)
		}
	}()

	for i := startIdx; i < len(descriptors); i++ {
		desc := descriptors[i]
		tracker := NewTracker()

		if err := tracker.Advance(SubExecuting); err != nil {
			return err
		}

		inputs := o.gatherInputs(desc, artifacts)

		if desc.Stage == model.StageAssembly {
			o.awaitAssemblyHooks(ctx, run.RunID, ws)
		}

		result, runErr := o.runner.Run(ctx, ws, *run, desc, inputs, stagePrompt(desc), stageParser(desc, o.clock), desc.QACriterion)
		if runErr != nil {
			resolved, err := o.handleFailure(ctx, run, desc, runErr)
			if err != nil {
				return err
			}
			if !resolved {
				run.ExitStatus = model.ExitEscalated
				return o.checkpoint(store, run, nil)
			}
			i-- // retry the same stage index after the recovery action
			continue
		}

		if err := tracker.Advance(SubQAing); err != nil {
			return err
		}
		if err := tracker.Advance(SubDone); err != nil {
			return err
		}

		artifacts[result.Artifact.Name] = result.Artifact

		if desc.Stage == model.StageContent {
			o.fireContentHooks(ctx, run.RunID, inputs)
			if run.Options.PublishingLanguage != "" {
				assetsArtifact, ok, err := o.writePublishingAssets(ws, result.Artifact)
				if err != nil {
					return fmt.Errorf("pipeline: write publishing assets: %w", err)
				}
				if !ok {
					// The Content stage's conditional presence invariant
					// (§4.5): when a publishing language is requested, the
					// generated artifact must carry publishing_assets. Its
					// absence is a QA blocker, not a silently-skipped extra.
					missing := errtax.New(errtax.Content, string(desc.Stage),
						fmt.Errorf("publishing assets required for language %q but content artifact omitted them", run.Options.PublishingLanguage))
					resolved, err := o.handleFailure(ctx, run, desc, missing)
					if err != nil {
						return err
					}
					if !resolved {
						run.ExitStatus = model.ExitEscalated
						return o.checkpoint(store, run, nil)
					}
					i--
					continue
				}
				artifacts[assetsArtifact.Name] = assetsArtifact
			}
		}
		if desc.Stage == model.StageFFmpegEngineer {
			if err := o.executeEncodingPlan(ctx, run); err != nil {
				return fmt.Errorf("pipeline: execute encoding plan: %w", err)
			}
		}
		if desc.Stage == model.StageAssembly {
			finalArtifact, err := o.assembleFinalReel(ctx, ws)
			if err != nil {
				return fmt.Errorf("pipeline: assemble final reel: %w", err)
			}
			artifacts[finalArtifact.Name] = finalArtifact
		}

		run.CurrentStage = model.Next(desc.Stage)
		run.AttemptAtStage = 0
		run.FreshSessionConsumed = false
		run.DowngradeConsumed = false
		run.UpdatedAt = o.clock.Now()

		if err := o.checkpoint(store, run, append([]model.Stage{}, model.StageSequence[:i+1]...)); err != nil {
			return err
		}

		log.WithFields(log.Fields{"run_id": run.RunID, "stage": desc.Stage, "next": run.CurrentStage}).Info("stage advanced")
	}

	if deliveryArtifact, ok := artifacts["final-reel.mp4"]; ok {
		size := int64(0)
		if info, err := o.processor.Probe(ctx, deliveryArtifact.Path); err == nil {
			size = info.SizeBytes
		}
		if _, err := o.delivery.Deliver(ctx, run.RunID, deliveryArtifact.Path, size, ""); err != nil {
			log.WithError(err).Warn("delivery failed after assembly succeeded")
		}
	}

	run.ExitStatus = model.ExitCompleted
	run.CurrentStage = model.StageDone
	o.bus.Publish(model.PipelineEvent{RunID: run.RunID, Kind: model.EventDelivered, At: o.clock.Now()})

	return o.checkpoint(store, run, model.StageSequence)
}

func (o *Orchestrator) gatherInputs(desc model.Descriptor, artifacts artifactStore) map[string]model.Artifact {
	inputs := make(map[string]model.Artifact, len(desc.InputNames))
	for _, name := range desc.InputNames {
		if a, ok := artifacts[name]; ok {
			inputs[name] = a
		}
	}
	return inputs
}

func (o *Orchestrator) fireContentHooks(ctx context.Context, runID string, inputs map[string]model.Artifact) {
	o.hooks.FireAsyncAssetGen(ctx, runID, "ai-asset-generation", func(ctx context.Context) (capabilities.MediaMetadata, error) {
		return capabilities.MediaMetadata{}, nil
	})
}

// executeEncodingPlan runs the FFmpegEngineer stage's declarative plan
// through the MediaProcessor, caching the resulting segments for Assembly.
// It always passes an empty capabilities.EncodingPlan; the encoding-plan.json
// artifact written by the FFmpegEngineer stage is not read or decoded here.
func (o *Orchestrator) executeEncodingPlan(ctx context.Context, run *model.Run) error {
	segments, err := hooks.ExecuteEncodingPlan(ctx, o.processor, capabilities.EncodingPlan{})
	if err != nil {
		return err
	}
	o.segments = segments
	log.WithFields(log.Fields{"run_id": run.RunID, "segment_count": len(segments)}).Info("encoding plan executed")
	return nil
}

// assembleFinalReel combines the cached segments per the framing style
// journal and overlays the cutaway manifest built at the Assembly await
// hook, producing the run's final-reel.mp4 artifact.
func (o *Orchestrator) assembleFinalReel(ctx context.Context, ws *workspace.Workspace) (model.Artifact, error) {
	final, err := o.processor.Assemble(ctx, o.segments, o.framing.Journal())
	if err != nil {
		return model.Artifact{}, err
	}

	manifest := capabilities.CutawayManifest{}
	if raw, readErr := readJSONIfExists(ws.CutawayManifestPath(), &manifest); readErr != nil {
		log.WithError(readErr).Warn("read cutaway manifest, overlaying without cutaways")
	} else if raw {
		if final, err = o.processor.Overlay(ctx, final, manifest); err != nil {
			return model.Artifact{}, err
		}
	}

	return model.Artifact{
		Name:      "final-reel.mp4",
		Kind:      model.ArtifactBinaryMedia,
		Stage:     model.StageAssembly,
		Path:      final.Path,
		WrittenAt: o.clock.Now(),
	}, nil
}

func readJSONIfExists(path string, v *capabilities.CutawayManifest) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// writePublishingAssets extracts the "publishing_assets" sub-object the
// Content stage's agent embeds in its JSON output when run.Options has a
// PublishingLanguage set, and writes it as a sibling artifact. ok is false
// (with no error) when the stage output carries no such sub-object, which
// happens whenever the agent itself decided no publishing copy was needed.
func (o *Orchestrator) writePublishingAssets(ws *workspace.Workspace, contentArtifact model.Artifact) (model.Artifact, bool, error) {
	raw, err := os.ReadFile(contentArtifact.Path)
	if err != nil {
		return model.Artifact{}, false, fmt.Errorf("read content artifact: %w", err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return model.Artifact{}, false, fmt.Errorf("parse content artifact: %w", err)
	}

	assets, ok := payload["publishing_assets"]
	if !ok {
		return model.Artifact{}, false, nil
	}

	name := "publishing-assets.json"
	path := ws.StageOutputPath(name)
	if err := workspace.WriteAtomic(path, assets); err != nil {
		return model.Artifact{}, false, fmt.Errorf("write %s: %w", name, err)
	}

	return model.Artifact{
		Name:      name,
		Kind:      model.ArtifactStructured,
		Stage:     model.StageContent,
		Path:      path,
		WrittenAt: o.clock.Now(),
	}, true, nil
}

func (o *Orchestrator) awaitAssemblyHooks(ctx context.Context, runID string, ws *workspace.Workspace) {
	results := o.hooks.AwaitAsyncAssetGen(ctx, runID)
	clips := make([]capabilities.CutawayClip, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			log.WithFields(log.Fields{"run_id": runID, "task": r.Name, "error": r.Err}).Warn("async asset generation failed, degrading manifest")
			continue
		}
		clips = append(clips, capabilities.CutawayClip{Source: "ai_generated", Path: r.Media.Path, Confidence: 0.8})
	}

	manifest := hooks.BuildCutawayManifest(clips)
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		log.WithError(err).Warn("marshal cutaway manifest")
		return
	}
	if err := workspace.WriteAtomic(ws.CutawayManifestPath(), data); err != nil {
		log.WithError(err).Warn("write cutaway manifest")
	}
}

// handleFailure classifies runErr and drives it through the recovery chain.
// It returns resolved=true when the chain found an actionable next step
// (retry/fork/fresh/swap/downgrade), or false when the chain escalated.
func (o *Orchestrator) handleFailure(ctx context.Context, run *model.Run, desc model.Descriptor, runErr error) (bool, error) {
	classified := asTaxError(runErr, desc.Stage)

	run.AttemptAtStage++
	decision, err := o.recovery.Run(ctx, recovery.Failure{
		RunID:                run.RunID,
		Stage:                desc.Stage,
		Err:                  classified,
		AttemptNum:           run.AttemptAtStage,
		FreshSessionConsumed: run.FreshSessionConsumed,
		DowngradeConsumed:    run.DowngradeConsumed,
	})
	if err != nil {
		return false, fmt.Errorf("pipeline: recovery chain: %w", err)
	}

	switch decision.Action {
	case model.ActionFreshSession:
		run.FreshSessionConsumed = true
	case model.ActionDowngrade:
		run.DowngradeConsumed = true
	}

	kind := model.EventErrorRecovered
	if decision.Escalated {
		kind = model.EventEscalated
	}
	o.bus.Publish(model.PipelineEvent{RunID: run.RunID, Stage: desc.Stage, Kind: kind, At: o.clock.Now()})

	return !decision.Escalated, nil
}

// asTaxError classifies an arbitrary stage error: a schema-invalid critique
// becomes Tool/ParseError, and any other error that does not already carry a
// taxonomy classification defaults to Transient (the most forgiving class).
func asTaxError(err error, stage model.Stage) *errtax.Error {
	var e *errtax.Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, model.ErrInvalidCritique) {
		return errtax.NewTool(errtax.ParseError, string(stage), err)
	}
	return errtax.New(errtax.Transient, string(stage), err)
}

func (o *Orchestrator) checkpoint(store *statestore.Store, run *model.Run, completed []model.Stage) error {
	doc, err := statestore.Load(store.Workspace())
	if err != nil {
		return fmt.Errorf("pipeline: load state for checkpoint: %w", err)
	}
	state := doc.State
	state.RunID = run.RunID
	state.CurrentStage = run.CurrentStage
	state.Attempt = run.AttemptAtStage
	if completed != nil {
		state.CompletedStages = completed
	}
	state.UpdatedAt = o.clock.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = run.CreatedAt
	}
	return store.SaveAtomic(state)
}

func stagePrompt(desc model.Descriptor) stagerunner.PromptBuilder {
	return func(inputs map[string]model.Artifact, run model.Run) string {
		return fmt.Sprintf("Execute stage %s for run %s using inputs %v", desc.Stage, run.RunID, desc.InputNames)
	}
}

func stageParser(desc model.Descriptor, clock capabilities.Clock) stagerunner.ResultParser {
	return func(ws *workspace.Workspace, result capabilities.AgentResult, d model.Descriptor) (model.Artifact, error) {
		if len(d.OutputNames) == 0 {
			return model.Artifact{}, fmt.Errorf("pipeline: stage %s declares no output artifact", d.Stage)
		}
		name := d.OutputNames[0]
		path := ws.StageOutputPath(name)

		data := result.RawBlob
		if data == nil && result.Parsed != nil {
			var err error
			data, err = json.MarshalIndent(result.Parsed, "", "  ")
			if err != nil {
				return model.Artifact{}, fmt.Errorf("pipeline: marshal parsed result: %w", err)
			}
		}
		if err := workspace.WriteAtomic(path, data); err != nil {
			return model.Artifact{}, fmt.Errorf("pipeline: write artifact %s: %w", name, err)
		}

		return model.Artifact{
			Name:      name,
			Kind:      model.ArtifactStructured,
			Stage:     d.Stage,
			Path:      path,
			WrittenAt: clock.Now(),
		}, nil
	}
}
