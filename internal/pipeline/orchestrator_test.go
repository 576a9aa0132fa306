package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortsd/internal/capabilities"
	"shortsd/internal/capabilities/capabilitiestest"
	"shortsd/internal/delivery"
	"shortsd/internal/errtax"
	"shortsd/internal/events"
	"shortsd/internal/hooks"
	"shortsd/internal/model"
	"shortsd/internal/recovery"
	"shortsd/internal/stagerunner"
	"shortsd/internal/statestore"
	"shortsd/internal/workspace"
)

type testRig struct {
	ws      *workspace.Workspace
	store   *statestore.Store
	backend *capabilitiestest.AgentBackend
	orch    *Orchestrator
	clock   *capabilitiestest.Clock
}

func newTestRig(t *testing.T, backend *capabilitiestest.AgentBackend) *testRig {
	t.Helper()

	ws, err := workspace.Open(t.TempDir(), "run-1")
	require.NoError(t, err)
	store := statestore.New(ws)

	clock := capabilitiestest.NewClock(time.Now())
	bus := events.New()
	sessions := statestore.NewSessionStore(ws)
	dispatcher := capabilitiestest.NewModelDispatcher(model.QACritique{Decision: model.QAPass, Score: 95})
	runner := stagerunner.New(backend, dispatcher, sessions, bus, clock, 3)

	chain := recovery.New(
		recovery.NewRetryHandler(0),
		recovery.NewForkHandler(),
		recovery.NewFreshSessionHandler(),
		recovery.NewBackendSwapHandler(),
		recovery.NewDowngradeHandler(),
		recovery.NewEscalateHandler(capabilitiestest.NewMessenger()),
	)
	hookSched := hooks.New(clock, 0)
	processor := &capabilitiestest.MediaProcessor{}
	tracker := delivery.NewTracker(&capabilitiestest.ObjectStore{}, capabilitiestest.NewMessenger(), clock, 1<<20)

	orch := New(runner, chain, hookSched, bus, processor, tracker, clock)
	return &testRig{ws: ws, store: store, backend: backend, orch: orch, clock: clock}
}

func TestRunToCompletionHappyPath(t *testing.T) {
	backend := &capabilitiestest.AgentBackend{}
	rig := newTestRig(t, backend)

	run := &model.Run{RunID: "run-1", SourceURL: "https://example.com/v", CreatedAt: rig.clock.Now(), CurrentStage: model.StageRouter}
	err := rig.orch.RunToCompletion(context.Background(), rig.ws, rig.store, run)
	require.NoError(t, err)

	assert.Equal(t, model.ExitCompleted, run.ExitStatus)
	assert.Equal(t, model.StageDone, run.CurrentStage)
	assert.Equal(t, len(model.StageSequence), backend.RunCalls)

	doc, err := statestore.Load(rig.ws)
	require.NoError(t, err)
	assert.Equal(t, model.StageSequence, doc.State.CompletedStages)
}

func TestRunToCompletionWritesPublishingAssetsWhenLanguageSet(t *testing.T) {
	backend := &capabilitiestest.AgentBackend{
		RunFunc: func(ctx context.Context, req capabilities.AgentRequest) (capabilities.AgentResult, error) {
			parsed := map[string]any{"summary": "ok"}
			if req.Stage == model.StageContent {
				parsed["publishing_assets"] = map[string]any{"caption": "check this out"}
			}
			return capabilities.AgentResult{
				Session: model.SessionHandle{Stage: req.Stage, Token: "tok", CreatedAt: time.Now()},
				Parsed:  parsed,
			}, nil
		},
	}
	rig := newTestRig(t, backend)

	run := &model.Run{
		RunID: "run-1", SourceURL: "https://example.com/v", CreatedAt: rig.clock.Now(),
		CurrentStage: model.StageRouter,
		Options:      model.Options{PublishingLanguage: "es"},
	}
	err := rig.orch.RunToCompletion(context.Background(), rig.ws, rig.store, run)
	require.NoError(t, err)

	data, readErr := os.ReadFile(rig.ws.StageOutputPath("publishing-assets.json"))
	require.NoError(t, readErr)
	var assets map[string]any
	require.NoError(t, json.Unmarshal(data, &assets))
	assert.Equal(t, "check this out", assets["caption"])
}

func TestRunToCompletionRetriesStageWhenPublishingAssetsMissing(t *testing.T) {
	contentCalls := 0
	backend := &capabilitiestest.AgentBackend{
		RunFunc: func(ctx context.Context, req capabilities.AgentRequest) (capabilities.AgentResult, error) {
			parsed := map[string]any{"summary": "ok"}
			if req.Stage == model.StageContent {
				contentCalls++
				if contentCalls > 1 {
					parsed["publishing_assets"] = map[string]any{"caption": "now included"}
				}
			}
			return capabilities.AgentResult{
				Session: model.SessionHandle{Stage: req.Stage, Token: "tok", CreatedAt: time.Now()},
				Parsed:  parsed,
			}, nil
		},
	}
	rig := newTestRig(t, backend)

	run := &model.Run{
		RunID: "run-1", SourceURL: "https://example.com/v", CreatedAt: rig.clock.Now(),
		CurrentStage: model.StageRouter,
		Options:      model.Options{PublishingLanguage: "es"},
	}
	err := rig.orch.RunToCompletion(context.Background(), rig.ws, rig.store, run)
	require.NoError(t, err)
	assert.Equal(t, model.ExitCompleted, run.ExitStatus)
	assert.Equal(t, 2, contentCalls)

	data, readErr := os.ReadFile(rig.ws.StageOutputPath("publishing-assets.json"))
	require.NoError(t, readErr)
	var assets map[string]any
	require.NoError(t, json.Unmarshal(data, &assets))
	assert.Equal(t, "now included", assets["caption"])
}

func TestRunToCompletionEscalatesOnFatalError(t *testing.T) {
	backend := &capabilitiestest.AgentBackend{
		RunFunc: func(ctx context.Context, req capabilities.AgentRequest) (capabilities.AgentResult, error) {
			return capabilities.AgentResult{}, errtax.New(errtax.Fatal, string(req.Stage), assert.AnError)
		},
	}
	rig := newTestRig(t, backend)

	run := &model.Run{RunID: "run-1", SourceURL: "https://example.com/v", CreatedAt: rig.clock.Now(), CurrentStage: model.StageRouter}
	err := rig.orch.RunToCompletion(context.Background(), rig.ws, rig.store, run)
	require.NoError(t, err)
	assert.Equal(t, model.ExitEscalated, run.ExitStatus)

	doc, loadErr := statestore.Load(rig.ws)
	require.NoError(t, loadErr)
	assert.Equal(t, model.StageRouter, doc.State.CurrentStage)
}

func TestRunToCompletionResumesFromCurrentStage(t *testing.T) {
	backend := &capabilitiestest.AgentBackend{}
	rig := newTestRig(t, backend)

	run := &model.Run{RunID: "run-1", SourceURL: "https://example.com/v", CreatedAt: rig.clock.Now(), CurrentStage: model.StageDelivery}
	err := rig.orch.RunToCompletion(context.Background(), rig.ws, rig.store, run)
	require.NoError(t, err)

	assert.Equal(t, model.ExitCompleted, run.ExitStatus)
	assert.Equal(t, 1, backend.RunCalls)
}

func TestRunToCompletionRecoversViaFreshSessionThenSucceeds(t *testing.T) {
	calls := 0
	backend := &capabilitiestest.AgentBackend{
		RunFunc: func(ctx context.Context, req capabilities.AgentRequest) (capabilities.AgentResult, error) {
			calls++
			if req.Stage == model.StageRouter && calls == 1 {
				return capabilities.AgentResult{}, errtax.New(errtax.Transient, string(req.Stage), assert.AnError)
			}
			return capabilities.AgentResult{
				Session: model.SessionHandle{Stage: req.Stage, Token: "tok", CreatedAt: time.Now()},
				Parsed:  map[string]any{},
			}, nil
		},
	}
	rig := newTestRig(t, backend)

	run := &model.Run{RunID: "run-1", SourceURL: "https://example.com/v", CreatedAt: rig.clock.Now(), CurrentStage: model.StageRouter}
	err := rig.orch.RunToCompletion(context.Background(), rig.ws, rig.store, run)
	require.NoError(t, err)
	assert.Equal(t, model.ExitCompleted, run.ExitStatus)
	assert.Equal(t, len(model.StageSequence)+1, calls)
}
