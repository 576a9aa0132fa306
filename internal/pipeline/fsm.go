// Package pipeline implements the pipeline state machine (C4): the
// sub-state progression a run moves through for each stage
// (Entering -> Executing -> QAing -> ReworkDecision -> [Executing | done]),
// encoded as a pure-data guarded transition table, adapted from the
// teacher's validTransitions map.
package pipeline

import "fmt"

// SubState is one of the four states a run occupies while processing a
// single pipeline stage.
type SubState string

const (
	SubEntering      SubState = "entering"
	SubExecuting     SubState = "executing"
	SubQAing         SubState = "qaing"
	SubReworkDecision SubState = "rework_decision"
	SubDone          SubState = "done"
)

// validTransitions defines which sub-state transitions are allowed within
// one stage's lifecycle.
var validTransitions = map[SubState][]SubState{
	SubEntering:       {SubExecuting},
	SubExecuting:      {SubQAing},
	SubQAing:          {SubReworkDecision, SubDone},
	SubReworkDecision: {SubExecuting, SubDone},
}

// isValidTransition reports whether moving from current to target is allowed.
func isValidTransition(current, target SubState) bool {
	allowed, ok := validTransitions[current]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// Tracker holds the current sub-state for one stage execution and enforces
// the guarded transition table; it never loops back past SubDone.
type Tracker struct {
	current SubState
}

// NewTracker creates a Tracker starting at SubEntering.
func NewTracker() *Tracker {
	return &Tracker{current: SubEntering}
}

// Current returns the tracker's current sub-state.
func (t *Tracker) Current() SubState { return t.current }

// Advance moves the tracker to target, rejecting any transition absent from
// validTransitions.
func (t *Tracker) Advance(target SubState) error {
	if !isValidTransition(t.current, target) {
		return fmt.Errorf("pipeline: invalid sub-state transition %s -> %s", t.current, target)
	}
	t.current = target
	return nil
}
