package model

import "time"

// EventKind enumerates the PipelineEvent kinds named in spec §3.
type EventKind string

const (
	EventStageEntered   EventKind = "StageEntered"
	EventStageCompleted EventKind = "StageCompleted"
	EventQAPassed       EventKind = "QAPassed"
	EventQARework       EventKind = "QARework"
	EventQABestOfThree  EventKind = "QABestOfThree"
	EventErrorRecovered EventKind = "ErrorRecovered"
	EventEscalated      EventKind = "Escalated"
	EventDelivered      EventKind = "Delivered"
	EventHookFired      EventKind = "HookFired"
	EventHookAwaited    EventKind = "HookAwaited"
)

// PipelineEvent is one totally-ordered (within a run) lifecycle event.
type PipelineEvent struct {
	EventID int64
	RunID   string
	Stage   Stage // optional; zero value means "not stage-scoped"
	Kind    EventKind
	Payload map[string]any
	At      time.Time
}

// RecoveryLevel is one rung of the six-level recovery ladder (§4.9).
type RecoveryLevel int

const (
	RecoveryRetry        RecoveryLevel = 1
	RecoveryFork         RecoveryLevel = 2
	RecoveryFresh        RecoveryLevel = 3
	RecoveryBackendSwap  RecoveryLevel = 4
	RecoveryDowngrade    RecoveryLevel = 5
	RecoveryEscalate     RecoveryLevel = 6
)

// RecoveryAction names the action a handler decided to take.
type RecoveryAction string

const (
	ActionRetried      RecoveryAction = "retried"
	ActionForked       RecoveryAction = "forked"
	ActionFreshSession RecoveryAction = "fresh_session"
	ActionBackendSwap  RecoveryAction = "backend_swap"
	ActionDowngrade    RecoveryAction = "downgrade"
	ActionEscalated    RecoveryAction = "escalated"
)

// RecoveryDecision is the result produced by a recovery chain handler.
type RecoveryDecision struct {
	Resolved    bool
	Action      RecoveryAction
	NextAttempt *int
	Escalated   bool
	Note        string
	LevelsTried []RecoveryLevel
}

// StyleTransitionKind distinguishes ordinary style changes from mandatory
// narrative boundaries (§4.6).
type StyleTransitionKind string

const (
	TransitionStyleChange       StyleTransitionKind = "style_change"
	TransitionNarrativeBoundary StyleTransitionKind = "narrative_boundary"
)

// StyleTransition is one entry in the Style Transition Journal.
type StyleTransition struct {
	Timestamp time.Time           `json:"timestamp" yaml:"timestamp"`
	FromState string              `json:"from_state" yaml:"from_state"`
	ToState   string              `json:"to_state" yaml:"to_state"`
	Trigger   string              `json:"trigger" yaml:"trigger"`
	Effect    string              `json:"effect" yaml:"effect"`
	Kind      StyleTransitionKind `json:"kind" yaml:"kind"`
}
