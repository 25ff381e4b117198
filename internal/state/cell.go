// Package state holds the single shared cell that every proxied request and
// the health supervisor read and write: which upstream is authoritative
// right now, the threshold counters driving that decision, and the
// timestamp of the last flip. It is grounded in the teacher's
// CircuitBreaker/sync.Map-guarded-struct style, simplified to a single
// mutex since there is exactly one target cell rather than one per endpoint.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/corvidae/relay/internal/util"
)

// TransitionKind identifies which direction a transition moved.
type TransitionKind string

const (
	Failover TransitionKind = "failover"
	Recovery TransitionKind = "recovery"
)

// TransitionEvent is an ephemeral value produced when on_backup flips. It is
// handed to the incident notifier and is not persisted after delivery.
type TransitionEvent struct {
	Kind           TransitionKind
	TimestampUnix  int64
	PrimaryURL     string
	BackupURL      string
	FailCount      int    // populated on Failover
	LastProbeError string // populated on Failover
	DowntimeSeconds int64 // populated on Recovery
}

// SnapshotView is a read-only copy of the cell's contents. Snapshots are
// copies; they never alias the cell's mutable state.
type SnapshotView struct {
	OnBackup              bool
	ConsecutiveFailures   int
	ConsecutiveSuccesses  int
	TransitionUnix        int64
	LastProbeError        string
}

// Cell is the shared state cell: one writer (the health supervisor), many
// concurrent readers (every proxied request and the admin status endpoint).
// A brief mutex hold per operation is cheaper and easier to reason about
// here than a lock-free scheme, and the hot-path read is a single short
// critical section copying a handful of scalars.
type Cell struct {
	mu sync.Mutex

	onBackup             bool
	consecutiveFailures  int
	consecutiveSuccesses int
	transitionUnix       int64
	lastProbeError       string

	primaryURL       string
	backupURL        string
	failThreshold    int
	recoverThreshold int

	now func() time.Time
}

// New creates a state cell initialised to primary-authoritative with zero
// counters, per spec.md's startup lifecycle.
func New(primaryURL, backupURL string, failThreshold, recoverThreshold int) *Cell {
	return &Cell{
		primaryURL:       primaryURL,
		backupURL:        backupURL,
		failThreshold:    failThreshold,
		recoverThreshold: recoverThreshold,
		now:              time.Now,
	}
}

// PrimaryURL returns the configured primary base URL. It is immutable after
// construction, so no locking is needed.
func (c *Cell) PrimaryURL() string { return c.primaryURL }

// BackupURL returns the configured backup base URL. It is immutable after
// construction, so no locking is needed.
func (c *Cell) BackupURL() string { return c.backupURL }

// ReadSnapshot returns a consistent, independent copy of the cell's state.
func (c *Cell) ReadSnapshot() SnapshotView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SnapshotView{
		OnBackup:             c.onBackup,
		ConsecutiveFailures:  c.consecutiveFailures,
		ConsecutiveSuccesses: c.consecutiveSuccesses,
		TransitionUnix:       c.transitionUnix,
		LastProbeError:       c.lastProbeError,
	}
}

// SelectedURL returns the base URL the request proxier should forward to,
// reading on_backup exactly once.
func (c *Cell) SelectedURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onBackup {
		return c.backupURL
	}
	return c.primaryURL
}

// RecordProbeSuccess applies a successful probe result and returns a
// TransitionEvent if this success triggered a backup->primary recovery.
func (c *Cell) RecordProbeSuccess() *TransitionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.onBackup {
		c.consecutiveFailures = 0
		c.lastProbeError = ""
		return nil
	}

	c.consecutiveSuccesses++
	if c.consecutiveSuccesses < c.recoverThreshold {
		return nil
	}

	prevTransition := c.transitionUnix
	now := c.now().Unix()

	c.onBackup = false
	c.consecutiveFailures = 0
	c.consecutiveSuccesses = 0
	c.transitionUnix = now
	c.lastProbeError = ""

	downtime := util.SafeInt64Diff(uint64(now), uint64(prevTransition))
	if prevTransition == 0 {
		downtime = 0
	}

	return &TransitionEvent{
		Kind:            Recovery,
		TimestampUnix:   now,
		PrimaryURL:      c.primaryURL,
		BackupURL:       c.backupURL,
		DowntimeSeconds: downtime,
	}
}

// RecordProbeFailure applies a failed probe result and returns a
// TransitionEvent if this failure triggered a primary->backup failover.
func (c *Cell) RecordProbeFailure(probeErr error) *TransitionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	errText := ""
	if probeErr != nil {
		errText = probeErr.Error()
	}
	c.lastProbeError = errText

	if c.onBackup {
		c.consecutiveSuccesses = 0
		return nil
	}

	c.consecutiveFailures++
	if c.consecutiveFailures < c.failThreshold {
		return nil
	}

	now := c.now().Unix()

	c.onBackup = true
	c.consecutiveFailures = 0
	c.consecutiveSuccesses = 0
	c.transitionUnix = now

	return &TransitionEvent{
		Kind:           Failover,
		TimestampUnix:  now,
		PrimaryURL:     c.primaryURL,
		BackupURL:      c.backupURL,
		FailCount:      c.failThreshold,
		LastProbeError: errText,
	}
}

// String renders a snapshot for logging, e.g. "on_backup=false failures=1".
func (s SnapshotView) String() string {
	if s.OnBackup {
		return fmt.Sprintf("on_backup=true successes=%d", s.ConsecutiveSuccesses)
	}
	return fmt.Sprintf("on_backup=false failures=%d", s.ConsecutiveFailures)
}
