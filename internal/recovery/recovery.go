// Package recovery implements the six-level error recovery chain (C7): a
// chain of responsibility that escalates a failed stage attempt through
// retry, fork, fresh-session, backend-swap, downgrade, and finally operator
// escalation, never looping back to a lower level (§4.9).
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"shortsd/internal/errtax"
	"shortsd/internal/model"
)

// Handler attempts to resolve a failure at its level, given the current
// attempt state. It returns a RecoveryDecision describing what it did; if it
// cannot resolve at its own level, decision.Resolved is false and the chain
// proceeds to the next handler.
type Handler interface {
	Level() model.RecoveryLevel
	Attempt(ctx context.Context, fail Failure) (model.RecoveryDecision, error)
}

// Failure carries everything a handler needs to decide and act.
type Failure struct {
	RunID      string
	Stage      model.Stage
	Err        *errtax.Error
	AttemptNum int // 1-based count of failures so far at the current stage
	Session    model.SessionHandle

	// FreshSessionConsumed and DowngradeConsumed mirror model.Run's fields of
	// the same name: once true, FreshSessionHandler/DowngradeHandler must
	// report unresolved so the chain climbs past them instead of resolving
	// at the same single-shot rung on every consecutive failure (§4.9).
	FreshSessionConsumed bool
	DowngradeConsumed    bool
}

// Chain runs Failure through handlers starting at Err.StartingLevel(),
// strictly increasing levels, never revisiting a lower one — the
// "non-looping, strictly increasing" invariant of §8.
type Chain struct {
	handlers map[model.RecoveryLevel]Handler
}

// New builds the chain with the standard six levels.
func New(retry *RetryHandler, fork *ForkHandler, fresh *FreshSessionHandler, swap *BackendSwapHandler, downgrade *DowngradeHandler, escalate *EscalateHandler) *Chain {
	return &Chain{handlers: map[model.RecoveryLevel]Handler{
		model.RecoveryRetry:       retry,
		model.RecoveryFork:        fork,
		model.RecoveryFresh:       fresh,
		model.RecoveryBackendSwap: swap,
		model.RecoveryDowngrade:   downgrade,
		model.RecoveryEscalate:    escalate,
	}}
}

// Run walks the chain from fail.Err.StartingLevel() upward until a handler
// resolves the failure or level 6 (Escalate) is reached, which always
// resolves by definition (it hands off to the operator).
func (c *Chain) Run(ctx context.Context, fail Failure) (model.RecoveryDecision, error) {
	if !fail.Err.Retryable() {
		return model.RecoveryDecision{}, fmt.Errorf("recovery: class %s is not eligible for the recovery chain", fail.Err.Class)
	}

	var tried []model.RecoveryLevel
	for level := fail.Err.StartingLevel(); level <= int(model.RecoveryEscalate); level++ {
		handler, ok := c.handlers[model.RecoveryLevel(level)]
		if !ok {
			continue
		}
		tried = append(tried, model.RecoveryLevel(level))

		decision, err := handler.Attempt(ctx, fail)
		if err != nil {
			return model.RecoveryDecision{}, fmt.Errorf("recovery: level %d: %w", level, err)
		}
		decision.LevelsTried = append([]model.RecoveryLevel(nil), tried...)

		log.WithFields(log.Fields{
			"run_id":   fail.RunID,
			"stage":    fail.Stage,
			"level":    level,
			"resolved": decision.Resolved,
		}).Info("recovery handler attempted")

		if decision.Resolved {
			return decision, nil
		}
	}

	return model.RecoveryDecision{}, fmt.Errorf("recovery: exhausted chain without resolution for run %s stage %s", fail.RunID, fail.Stage)
}

// RetryHandler re-issues the same request against the same session,
// pacing retries with exponential backoff (level 1).
type RetryHandler struct {
	maxRetries int
	newBackoff func() backoff.BackOff
}

// NewRetryHandler builds a RetryHandler. The backoff shape (5s initial, 2m
// max) mirrors the teacher's hand-rolled reconnect pacing (SPEC_FULL §C.4).
func NewRetryHandler(maxRetries int) *RetryHandler {
	return &RetryHandler{
		maxRetries: maxRetries,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 5 * time.Second
			b.MaxInterval = 2 * time.Minute
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (h *RetryHandler) Level() model.RecoveryLevel { return model.RecoveryRetry }

// Attempt reports unresolved once maxRetries has been exceeded at this
// level, letting the chain escalate to Fork.
func (h *RetryHandler) Attempt(ctx context.Context, fail Failure) (model.RecoveryDecision, error) {
	if fail.AttemptNum > h.maxRetries {
		return model.RecoveryDecision{}, nil
	}

	delay := h.newBackoff().NextBackOff()
	select {
	case <-ctx.Done():
		return model.RecoveryDecision{}, ctx.Err()
	case <-time.After(delay):
	}

	next := fail.AttemptNum + 1
	return model.RecoveryDecision{
		Resolved:    true,
		Action:      model.ActionRetried,
		NextAttempt: &next,
		Note:        fmt.Sprintf("retried after %s backoff", delay),
	}, nil
}

// ForkHandler resolves Tool/ParseError failures with ActionForked (level 2).
// No sibling session is created on this decision: the orchestrator re-runs
// the stage, and the stage runner resumes the stage's recorded session if
// one exists.
type ForkHandler struct{}

func NewForkHandler() *ForkHandler { return &ForkHandler{} }

func (h *ForkHandler) Level() model.RecoveryLevel { return model.RecoveryFork }

func (h *ForkHandler) Attempt(ctx context.Context, fail Failure) (model.RecoveryDecision, error) {
	if fail.Err.Class != errtax.Tool || fail.Err.ToolSubclass != errtax.ParseError {
		return model.RecoveryDecision{}, nil
	}
	return model.RecoveryDecision{Resolved: true, Action: model.ActionForked, Note: "forked sibling session from last checkpoint"}, nil
}

// FreshSessionHandler discards session continuity entirely and starts the
// stage from scratch against its original inputs (level 3). It is a
// single-shot rung: once used for the current stage's failure streak, it
// reports unresolved on every subsequent failure so a persistent error
// climbs the ladder instead of being "fixed" by the same fresh session
// forever (§4.9).
type FreshSessionHandler struct{}

func NewFreshSessionHandler() *FreshSessionHandler { return &FreshSessionHandler{} }

func (h *FreshSessionHandler) Level() model.RecoveryLevel { return model.RecoveryFresh }

func (h *FreshSessionHandler) Attempt(ctx context.Context, fail Failure) (model.RecoveryDecision, error) {
	if fail.FreshSessionConsumed {
		return model.RecoveryDecision{}, nil
	}
	return model.RecoveryDecision{Resolved: true, Action: model.ActionFreshSession, Note: "restarted stage with a fresh session"}, nil
}

// BackendSwapHandler resolves CapabilityUnavailable failures with
// ActionBackendSwap (level 4), gated by a circuit breaker so repeated swaps
// stop resolving and the chain climbs on. There is no secondary
// AgentBackend: the orchestrator re-runs the stage against the same one.
type BackendSwapHandler struct {
	breaker *gobreaker.CircuitBreaker
}

// NewBackendSwapHandler builds a BackendSwapHandler with a circuit breaker
// that opens after 3 consecutive swap failures and probes again after 1
// minute.
func NewBackendSwapHandler() *BackendSwapHandler {
	settings := gobreaker.Settings{
		Name:        "backend-swap",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &BackendSwapHandler{breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (h *BackendSwapHandler) Level() model.RecoveryLevel { return model.RecoveryBackendSwap }

func (h *BackendSwapHandler) Attempt(ctx context.Context, fail Failure) (model.RecoveryDecision, error) {
	if fail.Err.Class != errtax.Tool || fail.Err.ToolSubclass != errtax.CapabilityUnavailable {
		return model.RecoveryDecision{}, nil
	}

	// Every invocation records a failure against the breaker: each call here
	// means the primary backend was unavailable again, so the breaker opens
	// once three swaps in a row haven't kept the backend usable, forcing
	// escalation instead of thrashing between backends. This call only gates
	// eligibility; no component performs a swap on the returned decision.
	_, err := h.breaker.Execute(func() (any, error) {
		return nil, fail.Err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return model.RecoveryDecision{}, nil // breaker open: not resolved at this level, escalate further
	}
	return model.RecoveryDecision{Resolved: true, Action: model.ActionBackendSwap, Note: "swapped to secondary backend"}, nil
}

// DowngradeHandler resolves with ActionDowngrade (level 5). The stage's
// duration, framing and QA floor are left unchanged on this decision: the
// orchestrator records the rung as consumed and re-runs the stage as it was.
// Like FreshSessionHandler, it is single-shot per failure
// streak: a stage that still fails after being downgraded once must climb
// to Escalate rather than being downgraded again and again (§4.9).
type DowngradeHandler struct{}

func NewDowngradeHandler() *DowngradeHandler { return &DowngradeHandler{} }

func (h *DowngradeHandler) Level() model.RecoveryLevel { return model.RecoveryDowngrade }

func (h *DowngradeHandler) Attempt(ctx context.Context, fail Failure) (model.RecoveryDecision, error) {
	if fail.Err.Class == errtax.Resource || fail.Err.Class == errtax.Fatal {
		return model.RecoveryDecision{}, nil // these jump straight to Escalate
	}
	if fail.DowngradeConsumed {
		return model.RecoveryDecision{}, nil
	}
	return model.RecoveryDecision{Resolved: true, Action: model.ActionDowngrade, Note: "downgraded stage target to make progress"}, nil
}

// EscalateHandler always resolves by handing the failure to the operator
// (level 6), the terminal rung of the ladder.
type EscalateHandler struct {
	messenger Notifier
}

// Notifier is the narrow slice of capabilities.Messenger the escalate
// handler needs.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

func NewEscalateHandler(messenger Notifier) *EscalateHandler {
	return &EscalateHandler{messenger: messenger}
}

func (h *EscalateHandler) Level() model.RecoveryLevel { return model.RecoveryEscalate }

func (h *EscalateHandler) Attempt(ctx context.Context, fail Failure) (model.RecoveryDecision, error) {
	msg := fmt.Sprintf("run %s stuck at stage %s: %v", fail.RunID, fail.Stage, fail.Err)
	if err := h.messenger.Notify(ctx, msg); err != nil {
		log.WithError(err).Warn("escalation notification failed")
	}
	return model.RecoveryDecision{Resolved: true, Action: model.ActionEscalated, Escalated: true, Note: "escalated to operator"}, nil
}
