// Package stagerunner implements the stage runner (C5): executing a single
// pipeline stage end to end — assembling the request from prior artifacts,
// running or resuming the agent session, parsing the typed result into an
// artifact, driving the reflection loop for QA, and emitting the lifecycle
// events the rest of the system listens for.
package stagerunner

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"shortsd/internal/capabilities"
	"shortsd/internal/events"
	"shortsd/internal/model"
	"shortsd/internal/reflection"
	"shortsd/internal/statestore"
	"shortsd/internal/workspace"
)

// PromptBuilder renders the stage's prompt text from the artifacts it
// consumes. Each stage supplies its own; the runner does not know prompt
// content.
type PromptBuilder func(inputs map[string]model.Artifact, run model.Run) string

// ResultParser turns the agent's raw result into a named output artifact,
// written into the workspace.
type ResultParser func(ws *workspace.Workspace, result capabilities.AgentResult, desc model.Descriptor) (model.Artifact, error)

// Runner executes one stage at a time for a run.
type Runner struct {
	backend    capabilities.AgentBackend
	dispatcher capabilities.ModelDispatcher
	sessions   *statestore.SessionStore
	bus        *events.Bus
	clock      capabilities.Clock
	maxAttempts int
}

// New builds a Runner.
func New(backend capabilities.AgentBackend, dispatcher capabilities.ModelDispatcher, sessions *statestore.SessionStore, bus *events.Bus, clock capabilities.Clock, maxAttempts int) *Runner {
	return &Runner{backend: backend, dispatcher: dispatcher, sessions: sessions, bus: bus, clock: clock, maxAttempts: maxAttempts}
}

// Result is the outcome of running one stage to a terminal QA decision.
type Result struct {
	Artifact model.Artifact
	Critique model.QACritique
	Outcome  reflection.Outcome
}

// Run drives descriptor's stage for run to completion: resumes an existing
// session if one is on record, otherwise starts fresh; regenerates on
// Rework via the reflection loop; and emits StageEntered/QAPassed/QARework/
// QABestOfThree/StageCompleted events along the way.
func (r *Runner) Run(ctx context.Context, ws *workspace.Workspace, run model.Run, desc model.Descriptor, inputs map[string]model.Artifact, buildPrompt PromptBuilder, parse ResultParser, requirements string) (Result, error) {
	r.bus.Publish(model.PipelineEvent{RunID: run.RunID, Stage: desc.Stage, Kind: model.EventStageEntered, At: r.clock.Now()})

	session, hasSession, err := r.sessions.Get(desc.Stage)
	if err != nil {
		return Result{}, fmt.Errorf("stagerunner: load session: %w", err)
	}

	gen := func(ctx context.Context, history []model.QACritique) (model.Artifact, error) {
		timeout := time.Duration(desc.Timeout) * time.Second
		req := capabilities.AgentRequest{Stage: desc.Stage, Inputs: inputs, Prompt: buildPrompt(inputs, run), Timeout: timeout}

		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var result capabilities.AgentResult
		var runErr error
		if hasSession {
			result, runErr = r.backend.Resume(stageCtx, session, req)
		} else {
			result, runErr = r.backend.Run(stageCtx, req)
		}
		if runErr != nil {
			return model.Artifact{}, runErr
		}

		if err := r.sessions.Put(result.Session); err != nil {
			return model.Artifact{}, fmt.Errorf("stagerunner: persist session: %w", err)
		}
		hasSession = true
		session = result.Session

		return parse(ws, result, desc)
	}

	floor := 0
	if desc.QAFloor != nil {
		floor = *desc.QAFloor
	}

	outcome, err := reflection.Loop(ctx, gen, reflection.DispatcherCritic(r.dispatcher, requirements), r.maxAttempts, floor)
	if err != nil {
		return Result{Outcome: outcome}, fmt.Errorf("stagerunner: reflection loop for stage %s: %w", desc.Stage, err)
	}

	kind := model.EventQAPassed
	if outcome.BestOfThree {
		kind = model.EventQABestOfThree
	} else if len(outcome.History) > 1 {
		kind = model.EventQARework
	}
	r.bus.Publish(model.PipelineEvent{RunID: run.RunID, Stage: desc.Stage, Kind: kind, At: r.clock.Now()})
	r.bus.Publish(model.PipelineEvent{RunID: run.RunID, Stage: desc.Stage, Kind: model.EventStageCompleted, At: r.clock.Now()})

	log.WithFields(log.Fields{
		"run_id": run.RunID,
		"stage":  desc.Stage,
		"score":  outcome.Selected.Critique.Score,
	}).Info("stage completed")

	return Result{Artifact: outcome.Selected.Artifact, Critique: outcome.Selected.Critique, Outcome: outcome}, nil
}
