// Package hooks implements the hook scheduler (C8): pre/post-stage hooks
// that own long-running background work spanning multiple pipeline stages —
// asynchronous AI asset generation fired after Content and awaited before
// Assembly, and the cutaway manifest built by merging user-provided,
// AI-generated, and content-suggested clips.
//
// The overlap-merge logic in BuildCutawayManifest is adapted from a
// commercial-break interval merger: both problems reduce to "combine
// possibly-overlapping time ranges, keeping the preferred source" — here the
// higher-priority source, then the higher-confidence one.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"shortsd/internal/capabilities"
	"shortsd/internal/model"
)

// AsyncTask is one background asset-generation job fired after a stage
// completes and joined later at the designated await point.
type AsyncTask struct {
	RunID     string
	Name      string
	StartedAt time.Time
	done      chan struct{}
	result    capabilities.MediaMetadata
	err       error
}

// Scheduler tracks in-flight async tasks per run, keyed by run ID, and
// coordinates best-effort collection at the await hook.
type Scheduler struct {
	mu        sync.Mutex
	tasks     map[string][]*AsyncTask
	clock     capabilities.Clock
	pace      cron.Schedule // nil disables pacing
	lastFired time.Time
}

// New creates an empty Scheduler. interJobDelay paces successive
// FireAsyncAssetGen submissions at least that far apart (§4.8); zero
// disables pacing entirely.
func New(clock capabilities.Clock, interJobDelay time.Duration) *Scheduler {
	s := &Scheduler{tasks: make(map[string][]*AsyncTask), clock: clock}
	if interJobDelay > 0 {
		if sched, err := cron.ParseStandard(fmt.Sprintf("@every %s", interJobDelay)); err == nil {
			s.pace = sched
		} else {
			log.WithError(err).Warn("hooks: invalid inter-job delay, pacing disabled")
		}
	}
	return s
}

// paceSubmission blocks the caller, if necessary, so that no two
// submissions start closer together than the configured inter-job delay.
func (s *Scheduler) paceSubmission() {
	if s.pace == nil {
		return
	}
	s.mu.Lock()
	now := s.clock.Now()
	earliest := s.pace.Next(s.lastFired)
	wait := time.Duration(0)
	if earliest.After(now) {
		wait = earliest.Sub(now)
		s.lastFired = earliest
	} else {
		s.lastFired = now
	}
	s.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
}

// FireAsyncAssetGen starts a background download/generation task for runID
// and registers it so AwaitAsyncAssetGen can later join it. The work runs on
// its own goroutine; panics are recovered and surfaced as the task's error
// so one bad asset never takes down the run.
func (s *Scheduler) FireAsyncAssetGen(ctx context.Context, runID, name string, work func(ctx context.Context) (capabilities.MediaMetadata, error)) {
	s.paceSubmission()

	task := &AsyncTask{RunID: runID, Name: name, StartedAt: s.clock.Now(), done: make(chan struct{})}

	s.mu.Lock()
	s.tasks[runID] = append(s.tasks[runID], task)
	s.mu.Unlock()

	go func() {
		defer close(task.done)
		defer func() {
			if r := recover(); r != nil {
				task.err = fmt.Errorf("hooks: async task %s panicked: %v", name, r)
			}
		}()
		task.result, task.err = work(ctx)
	}()

	log.WithFields(log.Fields{"run_id": runID, "task": name}).Info("async asset generation fired")
}

// AwaitResult is the outcome of joining one async task.
type AwaitResult struct {
	Name    string
	Media   capabilities.MediaMetadata
	Err     error
}

// AwaitAsyncAssetGen blocks until every task registered for runID has
// finished or ctx is cancelled, whichever comes first, and returns a result
// per task (per-task errors are collected, not propagated — a failed
// cutaway asset degrades the manifest rather than failing the run, per
// DESIGN.md Open Question #4's best-effort collection semantics).
func (s *Scheduler) AwaitAsyncAssetGen(ctx context.Context, runID string) []AwaitResult {
	s.mu.Lock()
	tasks := append([]*AsyncTask(nil), s.tasks[runID]...)
	delete(s.tasks, runID)
	s.mu.Unlock()

	results := make([]AwaitResult, len(tasks))
	for i, t := range tasks {
		select {
		case <-t.done:
			results[i] = AwaitResult{Name: t.Name, Media: t.result, Err: t.err}
		case <-ctx.Done():
			results[i] = AwaitResult{Name: t.Name, Err: ctx.Err()}
		}
	}

	log.WithFields(log.Fields{"run_id": runID, "task_count": len(tasks)}).Info("async asset generation awaited")
	return results
}

// CancelPending drops every task registered for runID without waiting on
// them, used when a run fails and in-flight asset generation is no longer
// useful.
func (s *Scheduler) CancelPending(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, runID)
}

// BuildCutawayManifest merges user-provided, AI-generated, and
// content-suggested cutaway clips into one overlap-resolved manifest: when
// two candidate clips' time ranges overlap, the union of their ranges is
// kept and the winning clip is chosen by source priority (user_provided >
// ai_generated > content_suggested), then by higher confidence, much as a
// commercial break detector merges overlapping marker candidates from the
// same or different detection passes.
func BuildCutawayManifest(candidates []capabilities.CutawayClip) capabilities.CutawayManifest {
	if len(candidates) == 0 {
		return capabilities.CutawayManifest{}
	}

	sorted := make([]capabilities.CutawayClip, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartSec < sorted[j].StartSec })

	sourcePriority := map[string]int{"user_provided": 3, "ai_generated": 2, "content_suggested": 1}

	merged := []capabilities.CutawayClip{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		last := &merged[len(merged)-1]
		cur := sorted[i]

		if cur.StartSec <= last.EndSec {
			if cur.EndSec > last.EndSec {
				last.EndSec = cur.EndSec
			}
			pc, pl := sourcePriority[cur.Source], sourcePriority[last.Source]
			if pc > pl || (pc == pl && cur.Confidence > last.Confidence) {
				last.Confidence = cur.Confidence
				last.Source = cur.Source
				last.Path = cur.Path
			}
		} else {
			merged = append(merged, cur)
		}
	}

	return capabilities.CutawayManifest{Clips: merged}
}

// ExecuteEncodingPlan runs the declarative EncodingPlan produced by the
// FFmpegEngineer stage through the MediaProcessor capability, returning the
// resulting segment artifacts. This is the post-FFmpegEngineer hook: the agent's
// responsibility ends at planning, this hook performs the actual media work.
func ExecuteEncodingPlan(ctx context.Context, processor capabilities.MediaProcessor, plan capabilities.EncodingPlan) ([]capabilities.SegmentArtifact, error) {
	segments, err := processor.ExecutePlan(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("hooks: execute encoding plan: %w", err)
	}
	return segments, nil
}

// Stamp returns the hook name recorded in RunState.PendingHooks while an
// async task for stage is outstanding.
func Stamp(stage model.Stage, name string) string {
	return fmt.Sprintf("%s:%s", stage, name)
}
