package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shortsd/internal/capabilities"
	"shortsd/internal/model"
	"shortsd/internal/statestore"
)

// JournalWriter appends every event as one human-readable log line to a
// run's statestore, giving run.md its append-only event journal.
type JournalWriter struct {
	store *statestore.Store
}

// NewJournalWriter creates a JournalWriter bound to a run's state store.
func NewJournalWriter(store *statestore.Store) *JournalWriter {
	return &JournalWriter{store: store}
}

// Handle appends the event to the journal.
func (j *JournalWriter) Handle(evt model.PipelineEvent) error {
	line := fmt.Sprintf("[%s] event=%d kind=%s stage=%s", evt.At.Format(time.RFC3339), evt.EventID, evt.Kind, evt.Stage)
	return j.store.AppendLog(line)
}

// CheckpointWriter updates RunState-derived fields (last_event_id, updated_at)
// on every event, without touching completed_stages/current_stage — those
// are committed explicitly by the state machine's transition logic.
type CheckpointWriter struct {
	mu    sync.Mutex
	store *statestore.Store
	clock capabilities.Clock
}

// NewCheckpointWriter creates a CheckpointWriter bound to a run's state store.
func NewCheckpointWriter(store *statestore.Store, clock capabilities.Clock) *CheckpointWriter {
	return &CheckpointWriter{store: store, clock: clock}
}

// Handle bumps last_event_id and updated_at and re-saves the current state.
func (c *CheckpointWriter) Handle(evt model.PipelineEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := statestore.Load(c.store.Workspace())
	if err != nil {
		return err
	}
	state := doc.State
	state.LastEventID = evt.EventID
	state.UpdatedAt = c.clock.Now()
	return c.store.SaveAtomic(state)
}

// NotifierSubscriber forwards a rate-limited, best-effort subset of events to
// the Messenger capability as user-facing notifications.
type NotifierSubscriber struct {
	mu        sync.Mutex
	messenger capabilities.Messenger
	minGap    time.Duration
	lastSent  time.Time
	clock     capabilities.Clock
}

// NewNotifierSubscriber creates a NotifierSubscriber with a minimum gap
// between notifications.
func NewNotifierSubscriber(messenger capabilities.Messenger, clock capabilities.Clock, minGap time.Duration) *NotifierSubscriber {
	return &NotifierSubscriber{messenger: messenger, clock: clock, minGap: minGap}
}

var notifyKinds = map[model.EventKind]bool{
	model.EventEscalated:      true,
	model.EventDelivered:      true,
	model.EventErrorRecovered: true,
}

// Handle notifies the user for a curated subset of event kinds, rate-limited.
func (n *NotifierSubscriber) Handle(evt model.PipelineEvent) error {
	if !notifyKinds[evt.Kind] {
		return nil
	}

	n.mu.Lock()
	now := n.clock.Now()
	if evt.Kind != model.EventEscalated && now.Sub(n.lastSent) < n.minGap {
		n.mu.Unlock()
		return nil
	}
	n.lastSent = now
	n.mu.Unlock()

	msg := fmt.Sprintf("run %s: %s at stage %s", evt.RunID, evt.Kind, evt.Stage)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return n.messenger.Notify(ctx, msg)
}
