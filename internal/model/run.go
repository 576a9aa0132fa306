package model

import "time"

// ExitStatus is the terminal disposition of a run.
type ExitStatus string

const (
	ExitNone       ExitStatus = ""
	ExitCompleted  ExitStatus = "completed"
	ExitFailed     ExitStatus = "failed"
	ExitEscalated  ExitStatus = "escalated"
)

// Options carries the optional, user-supplied knobs for a run (§3, §6.2/6.3).
type Options struct {
	TargetDuration     int64  `json:"target_duration,omitempty" yaml:"target_duration,omitempty"`
	FramingStyle       string `json:"style,omitempty" yaml:"style,omitempty"` // default|split|pip|auto
	Instructions       string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Moments            int    `json:"moments,omitempty" yaml:"moments,omitempty"`
	PublishingLanguage string `json:"publishing_language,omitempty" yaml:"publishing_language,omitempty"`
	ResumeStage        Stage  `json:"resume_stage,omitempty" yaml:"resume_stage,omitempty"`
	Cutaways           []CutawayRequest `json:"cutaways,omitempty" yaml:"cutaways,omitempty"`
}

// CutawayRequest is a user-provided cutaway clip request (§6.2 --cutaway URL@SECONDS).
type CutawayRequest struct {
	URL     string  `json:"url" yaml:"url"`
	Seconds float64 `json:"seconds" yaml:"seconds"`
}

// Run is a pipeline execution unit. Immutable fields are set at enqueue and
// never change; mutable fields are owned exclusively by the stage runner
// during execution.
type Run struct {
	// Immutable
	RunID     string
	SourceURL string
	Message   string
	Options   Options
	CreatedAt time.Time

	// Mutable — owned by the stage runner
	CurrentStage    Stage
	AttemptAtStage  int
	ExitStatus      ExitStatus
	UpdatedAt       time.Time

	// FreshSessionConsumed and DowngradeConsumed track whether the
	// fresh-session (level 3) and downgrade (level 5) recovery rungs have
	// already been used for the current stage's failure streak — each is a
	// single-shot rung, so a second consecutive failure at the same stage
	// must climb past it rather than resolving there again (§4.9). Both
	// reset to false whenever AttemptAtStage resets to 0.
	FreshSessionConsumed bool
	DowngradeConsumed    bool
}

// RunState is the persisted, typed snapshot of a run (§3).
type RunState struct {
	RunID            string   `yaml:"run_id"`
	SchemaVersion    int      `yaml:"schema_version"`
	CurrentStage     Stage    `yaml:"current_stage"`
	Attempt          int      `yaml:"attempt"`
	CompletedStages  []Stage  `yaml:"completed_stages"`
	PendingHooks     []string `yaml:"pending_hooks,omitempty"`
	EscalationState  string   `yaml:"escalation_state,omitempty"`
	LastEventID      int64    `yaml:"last_event_id"`
	CreatedAt        time.Time `yaml:"created_at"`
	UpdatedAt        time.Time `yaml:"updated_at"`
}

// CurrentSchemaVersion gates migrations: a mismatch forces a fresh run
// rather than attempting reinterpretation (spec §4.3, DESIGN.md Open
// Question #1).
const CurrentSchemaVersion = 1

// IsCompletedPrefix reports whether CompletedStages is a strictly increasing
// prefix of StageSequence (invariant 1 in spec §8).
func (rs RunState) IsCompletedPrefix() bool {
	for i, st := range rs.CompletedStages {
		if i >= len(StageSequence) || StageSequence[i] != st {
			return false
		}
	}
	return true
}

// SessionHandle is an opaque token identifying a conversation with the agent
// backend, stored per (run, stage). Never "continue-most-recent" — resumed
// sessions always carry an explicit handle (DESIGN.md Open Question #3).
type SessionHandle struct {
	Stage     Stage  `json:"stage"`
	Token     string `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// QueueItem is one pending run request sitting in the work queue (§3, §6.5).
type QueueItem struct {
	ItemID     string    `json:"item_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	URL        string    `json:"url"`
	Message    string    `json:"message"`
	Options    Options   `json:"options"`
}
