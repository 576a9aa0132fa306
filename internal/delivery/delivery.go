// Package delivery tracks the lifecycle of the Delivery stage's final
// hand-off: uploading the finished reel to object storage when it exceeds
// the messenger's inline size limit, then sending it (or a link to it) to
// the requesting user, with a durable receipt either way.
//
// The state machine below (uploading -> sending -> delivered / failed) is
// adapted from a recording-session lifecycle tracker: both track one
// resource moving through a short sequence of one-way states while
// accumulating size/progress counters and a final terminal status.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"shortsd/internal/capabilities"
)

// State is the delivery lifecycle state for one run's final reel.
type State string

const (
	StateUploading State = "uploading"
	StateSending   State = "sending"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
)

// Receipt is the record of how a run's final reel was delivered. It is held
// in memory by the Tracker and is not written to disk.
type Receipt struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	State       State     `json:"state"`
	ObjectURL   string    `json:"object_url,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Tracker manages delivery receipts for in-flight runs.
type Tracker struct {
	mu       sync.RWMutex
	receipts map[string]*Receipt

	store       capabilities.ObjectStore
	messenger   capabilities.Messenger
	clock       capabilities.Clock
	inlineLimit int64
}

// NewTracker builds a Tracker. inlineLimit is the largest file size the
// messenger will send directly; anything larger is uploaded to store first.
func NewTracker(store capabilities.ObjectStore, messenger capabilities.Messenger, clock capabilities.Clock, inlineLimit int64) *Tracker {
	return &Tracker{
		receipts:    make(map[string]*Receipt),
		store:       store,
		messenger:   messenger,
		clock:       clock,
		inlineLimit: inlineLimit,
	}
}

// Deliver drives one run's final reel through upload (if needed) and send,
// returning the completed receipt. sizeBytes is the reel's size as already
// probed by the MediaProcessor.
func (t *Tracker) Deliver(ctx context.Context, runID, path string, sizeBytes int64, folderID string) (*Receipt, error) {
	receipt := &Receipt{
		ID:        uuid.New().String(),
		RunID:     runID,
		State:     StateUploading,
		SizeBytes: sizeBytes,
		StartedAt: t.clock.Now(),
	}
	t.put(receipt)

	log.WithFields(log.Fields{"run_id": runID, "size_bytes": sizeBytes}).Info("delivery started")

	caption := fmt.Sprintf("final reel for run %s", runID)

	if sizeBytes > t.inlineLimit {
		result, err := t.store.Upload(ctx, path, folderID)
		if err != nil {
			return t.fail(receipt, fmt.Errorf("delivery: upload: %w", err))
		}
		t.transition(receipt, StateSending)
		receipt.ObjectURL = result.URL

		if err := t.messenger.Notify(ctx, fmt.Sprintf("%s: %s", caption, result.URL)); err != nil {
			return t.fail(receipt, fmt.Errorf("delivery: notify with link: %w", err))
		}
	} else {
		t.transition(receipt, StateSending)
		if err := t.messenger.SendFile(ctx, path, caption); err != nil {
			return t.fail(receipt, fmt.Errorf("delivery: send file: %w", err))
		}
	}

	t.transition(receipt, StateDelivered)
	receipt.CompletedAt = t.clock.Now()

	log.WithFields(log.Fields{"run_id": runID, "state": receipt.State}).Info("delivery complete")
	return receipt, nil
}

func (t *Tracker) fail(receipt *Receipt, err error) (*Receipt, error) {
	t.transition(receipt, StateFailed)
	receipt.Error = err.Error()
	receipt.CompletedAt = t.clock.Now()
	log.WithFields(log.Fields{"run_id": receipt.RunID, "error": err}).Error("delivery failed")
	return receipt, err
}

func (t *Tracker) put(r *Receipt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receipts[r.RunID] = r
}

func (t *Tracker) transition(r *Receipt, to State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.State = to
}

// Status returns a copy of the delivery receipt for a run, if any.
func (t *Tracker) Status(runID string) (Receipt, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.receipts[runID]
	if !ok {
		return Receipt{}, false
	}
	return *r, true
}
