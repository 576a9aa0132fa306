// Package reflection implements the generator-critic reflection loop (C6):
// bounded rework attempts with cumulative critique history, terminating on a
// Pass, an exhausted attempt budget resolved by best-of-three selection, or a
// critical blocker that ends the loop early.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"shortsd/internal/capabilities"
	"shortsd/internal/model"
)

// ErrBelowFloor is returned when the best-of-three candidate's score still
// falls short of the configured floor, signalling the caller to escalate
// rather than silently accept a low-confidence artifact.
var ErrBelowFloor = errors.New("reflection: best-of-three candidate below floor")

// DefaultFloor is the minimum acceptable best-of-three score when no
// per-stage override is configured (DESIGN.md Open Question #2).
const DefaultFloor = 70

// DefaultMaxAttempts bounds the number of generate+critique rounds before
// falling back to best-of-three.
const DefaultMaxAttempts = 3

// Generator produces (or regenerates, given critique history) one candidate
// artifact for a stage. It is supplied by the caller (stagerunner), which
// knows how to invoke the AgentBackend for a specific stage.
type Generator func(ctx context.Context, history []model.QACritique) (model.Artifact, error)

// Critic evaluates one candidate artifact and returns a schema-validated
// critique.
type Critic func(ctx context.Context, artifact model.Artifact, history []model.QACritique) (model.QACritique, error)

// Attempt pairs one generated candidate with its critique.
type Attempt struct {
	Artifact  model.Artifact
	Critique  model.QACritique
}

// Outcome is the result of running a full reflection loop for a stage.
type Outcome struct {
	Selected   Attempt
	History    []model.QACritique
	Attempts   []Attempt
	BestOfThree bool
}

// Loop runs a bounded generator-critic cycle. It stops as soon as a
// candidate's critique decision is Pass, after a critique that carries a
// critical blocker, or once maxAttempts candidates have been produced. In the
// last two cases the candidate with the best (score DESC, blocker_count ASC)
// critique is selected, tagged BestOfThree, and checked against floor: if the
// best score falls below floor or the best candidate still has a critical
// blocker, ErrBelowFloor is returned alongside the best-effort Outcome so the
// caller can escalate.
func Loop(ctx context.Context, gen Generator, crit Critic, maxAttempts, floor int) (Outcome, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if floor <= 0 {
		floor = DefaultFloor
	}

	var history []model.QACritique
	var attempts []Attempt

	for i := 0; i < maxAttempts; i++ {
		artifact, err := gen(ctx, history)
		if err != nil {
			return Outcome{History: history, Attempts: attempts}, fmt.Errorf("reflection: generate attempt %d: %w", i+1, err)
		}

		critique, err := crit(ctx, artifact, history)
		if err != nil {
			return Outcome{History: history, Attempts: attempts}, fmt.Errorf("reflection: critique attempt %d: %w", i+1, err)
		}
		if err := critique.Validate(); err != nil {
			return Outcome{History: history, Attempts: attempts}, fmt.Errorf("reflection: attempt %d: %w", i+1, err)
		}

		attempts = append(attempts, Attempt{Artifact: artifact, Critique: critique})
		history = append(history, critique)

		log.WithFields(log.Fields{
			"attempt":  i + 1,
			"decision": critique.Decision,
			"score":    critique.Score,
		}).Info("reflection attempt evaluated")

		if critique.Decision == model.QAPass {
			return Outcome{Selected: attempts[len(attempts)-1], History: history, Attempts: attempts}, nil
		}
		if critique.HasCriticalBlocker() {
			break // no point burning remaining attempts on a disqualifying defect
		}
	}

	best := bestOf(attempts)
	outcome := Outcome{Selected: best, History: history, Attempts: attempts, BestOfThree: true}

	if best.Critique.Score < floor {
		return outcome, fmt.Errorf("%w: best score %d below floor %d", ErrBelowFloor, best.Critique.Score, floor)
	}
	if best.Critique.HasCriticalBlocker() {
		return outcome, fmt.Errorf("%w: best candidate still has a critical blocker", ErrBelowFloor)
	}
	return outcome, nil
}

// bestOf selects the attempt with the highest score, breaking ties by fewer
// blockers, per the lexicographic key (score DESC, blocker_count ASC).
func bestOf(attempts []Attempt) Attempt {
	ranked := make([]Attempt, len(attempts))
	copy(ranked, attempts)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Critique.Score != ranked[j].Critique.Score {
			return ranked[i].Critique.Score > ranked[j].Critique.Score
		}
		return ranked[i].Critique.BlockerCount() < ranked[j].Critique.BlockerCount()
	})
	return ranked[0]
}

// DispatcherCritic adapts a capabilities.ModelDispatcher into a Critic bound
// to a fixed requirements string.
func DispatcherCritic(dispatcher capabilities.ModelDispatcher, requirements string) Critic {
	return func(ctx context.Context, artifact model.Artifact, history []model.QACritique) (model.QACritique, error) {
		return dispatcher.DispatchQA(ctx, artifact, requirements, history)
	}
}
