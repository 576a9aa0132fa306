// Package queue implements the single-consumer FIFO work queue (C1): a
// directory tree of inbox/processing/completed/failed, atomic enqueue,
// lease-based claim under an advisory file lock, and idempotent-by-item-id
// duplicate handling (spec §4.1, §6.5).
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"shortsd/internal/capabilities"
	"shortsd/internal/model"
)

// Outcome is the disposition passed to Acknowledge.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Sentinel errors.
var (
	ErrEmpty           = errors.New("queue: no items available")
	ErrDuplicateItem   = errors.New("queue: duplicate item_id")
	ErrLockHeld        = errors.New("queue: consumer lock already held")
	ErrItemNotClaimed  = errors.New("queue: item not found in processing/")
)

const lockFileName = ".consumer.lock"

var dirNames = []string{"inbox", "processing", "completed", "failed"}

// lockRecord is the JSON shape of the consumer lock file (§6.5).
type lockRecord struct {
	PID         int       `json:"pid"`
	HeartbeatTS time.Time `json:"heartbeat_ts"`
}

// Queue is the single-consumer FIFO over a directory tree.
type Queue struct {
	root  string
	clock capabilities.Clock

	mu       sync.Mutex
	lockFile *os.File // held while this process owns the consumer lock
}

// New creates a Queue rooted at root, creating the directory tree if needed.
func New(root string, clock capabilities.Clock) (*Queue, error) {
	for _, d := range dirNames {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("queue: create %s: %w", d, err)
		}
	}
	return &Queue{root: root, clock: clock}, nil
}

func (q *Queue) dir(name string) string { return filepath.Join(q.root, name) }

// InboxDir returns the inbox/ directory, for callers that want to watch it
// for new arrivals (e.g. the daemon's fsnotify-driven wake-up) rather than
// polling ClaimNext on a timer.
func (q *Queue) InboxDir() string { return q.dir("inbox") }

// itemExistsAnywhere reports whether itemID appears in any of the four
// directories, enforcing global item_id uniqueness across the queue's
// lifetime (§3 QueueItem invariant).
func (q *Queue) itemExistsAnywhere(itemID string) (bool, error) {
	for _, d := range dirNames {
		entries, err := os.ReadDir(q.dir(d))
		if err != nil {
			return false, fmt.Errorf("queue: list %s: %w", d, err)
		}
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), "-"+itemID+".json") {
				return true, nil
			}
		}
	}
	return false, nil
}

func fileNameFor(item model.QueueItem) string {
	return fmt.Sprintf("%d-%s.json", item.EnqueuedAt.Unix(), item.ItemID)
}

// Enqueue validates item.ItemID is not present anywhere in the tree, writes
// the payload to a temp file, and renames it into inbox/. A duplicate
// item_id is a no-op and is reported via the returned bool (false means
// deduplicated).
func (q *Queue) Enqueue(item model.QueueItem) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	exists, err := q.itemExistsAnywhere(item.ItemID)
	if err != nil {
		return false, err
	}
	if exists {
		log.WithField("item_id", item.ItemID).Info("enqueue deduplicated")
		return false, nil
	}

	payload, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return false, fmt.Errorf("queue: marshal item: %w", err)
	}

	name := fileNameFor(item)
	tmp, err := os.CreateTemp(q.dir("inbox"), ".tmp-*")
	if err != nil {
		return false, fmt.Errorf("queue: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return false, fmt.Errorf("queue: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return false, fmt.Errorf("queue: fsync temp: %w", err)
	}
	tmp.Close()

	dest := filepath.Join(q.dir("inbox"), name)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return false, fmt.Errorf("queue: rename into inbox: %w", err)
	}

	log.WithFields(log.Fields{"item_id": item.ItemID, "path": dest}).Info("item enqueued")
	return true, nil
}

// AcquireConsumerLock takes the exclusive advisory lock on .consumer.lock
// for the lifetime of the process's active claim, recording pid+heartbeat.
// It is non-blocking: if another process holds the lock, ErrLockHeld is
// returned immediately (the single-consumer invariant of §5).
func (q *Queue) AcquireConsumerLock() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lockFile != nil {
		return nil // already held by this process
	}

	path := filepath.Join(q.root, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("queue: open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return ErrLockHeld
	}

	q.lockFile = f
	return q.writeHeartbeatLocked()
}

// ReleaseConsumerLock releases the advisory lock.
func (q *Queue) ReleaseConsumerLock() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lockFile == nil {
		return nil
	}
	err := unix.Flock(int(q.lockFile.Fd()), unix.LOCK_UN)
	q.lockFile.Close()
	q.lockFile = nil
	return err
}

// Heartbeat refreshes the lock file's heartbeat timestamp. Callers invoke
// this every config.Config.HeartbeatInterval (default 30s) while a run is
// active, per §4.1.
func (q *Queue) Heartbeat() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lockFile == nil {
		return errors.New("queue: heartbeat called without holding the consumer lock")
	}
	return q.writeHeartbeatLocked()
}

func (q *Queue) writeHeartbeatLocked() error {
	rec := lockRecord{PID: os.Getpid(), HeartbeatTS: q.clock.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := q.lockFile.Truncate(0); err != nil {
		return err
	}
	if _, err := q.lockFile.WriteAt(data, 0); err != nil {
		return err
	}
	return q.lockFile.Sync()
}

// ClaimNext lists inbox/, picks the lexicographically smallest entry (oldest
// by the leading unix timestamp), moves it atomically into processing/, and
// returns it. Returns ErrEmpty if inbox/ has no items. The caller must hold
// the consumer lock (AcquireConsumerLock) before calling ClaimNext.
func (q *Queue) ClaimNext() (model.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := os.ReadDir(q.dir("inbox"))
	if err != nil {
		return model.QueueItem{}, fmt.Errorf("queue: list inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return model.QueueItem{}, ErrEmpty
	}
	sort.Strings(names)
	name := names[0]

	src := filepath.Join(q.dir("inbox"), name)
	dst := filepath.Join(q.dir("processing"), name)
	if err := os.Rename(src, dst); err != nil {
		return model.QueueItem{}, fmt.Errorf("queue: claim move: %w", err)
	}

	raw, err := os.ReadFile(dst)
	if err != nil {
		return model.QueueItem{}, fmt.Errorf("queue: read claimed item: %w", err)
	}
	var item model.QueueItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return model.QueueItem{}, fmt.Errorf("queue: parse claimed item: %w", err)
	}

	log.WithFields(log.Fields{"item_id": item.ItemID}).Info("item claimed")
	return item, nil
}

// Acknowledge moves a claimed item from processing/ to completed/ or
// failed/, based on outcome.
func (q *Queue) Acknowledge(itemID string, outcome Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := os.ReadDir(q.dir("processing"))
	if err != nil {
		return fmt.Errorf("queue: list processing: %w", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "-"+itemID+".json") {
			dest := "completed"
			if outcome == OutcomeFailed {
				dest = "failed"
			}
			src := filepath.Join(q.dir("processing"), e.Name())
			dst := filepath.Join(q.dir(dest), e.Name())
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("queue: acknowledge move: %w", err)
			}
			log.WithFields(log.Fields{"item_id": itemID, "outcome": outcome}).Info("item acknowledged")
			return nil
		}
	}
	return ErrItemNotClaimed
}

// ReapStaleLeases moves any processing/ entry whose lease-holder heartbeat is
// older than staleAge back into inbox/, preserving its original leading
// timestamp so FIFO order is unaffected. The serve command runs it at
// process start and then periodically, every StaleLeaseAge.
func (q *Queue) ReapStaleLeases(staleAge time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stale, err := q.heartbeatIsStaleLocked(staleAge)
	if err != nil {
		return 0, err
	}
	if !stale {
		return 0, nil
	}

	entries, err := os.ReadDir(q.dir("processing"))
	if err != nil {
		return 0, fmt.Errorf("queue: list processing: %w", err)
	}

	reaped := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(q.dir("processing"), e.Name())
		dst := filepath.Join(q.dir("inbox"), e.Name())
		if err := os.Rename(src, dst); err != nil {
			return reaped, fmt.Errorf("queue: reap move: %w", err)
		}
		reaped++
		log.WithField("file", e.Name()).Warn("stale lease reaped back to inbox")
	}
	return reaped, nil
}

// heartbeatIsStaleLocked reads the lock file's heartbeat, comparing only
// heartbeat_ts (never pid, per SPEC_FULL §C.3) against staleAge.
func (q *Queue) heartbeatIsStaleLocked(staleAge time.Duration) (bool, error) {
	path := filepath.Join(q.root, lockFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil // no lock file at all: anything in processing/ is orphaned
		}
		return false, fmt.Errorf("queue: read lock file: %w", err)
	}
	var rec lockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return true, nil // corrupt lock file: treat conservatively as stale
	}
	return q.clock.Now().Sub(rec.HeartbeatTS) > staleAge, nil
}

// Depth returns the number of items currently sitting in inbox/, for CLI
// status reporting.
func (q *Queue) Depth() (int, error) {
	entries, err := os.ReadDir(q.dir("inbox"))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n, nil
}

// parseLeadingTimestamp extracts the leading unix-seconds timestamp from a
// queue file name, used only for diagnostics/ordering assertions in tests.
func parseLeadingTimestamp(name string) (int64, error) {
	idx := strings.Index(name, "-")
	if idx < 0 {
		return 0, fmt.Errorf("queue: malformed file name %q", name)
	}
	return strconv.ParseInt(name[:idx], 10, 64)
}
