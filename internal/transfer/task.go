// Package transfer uploads whole directory trees: folders first, then files in
// bounded concurrent batches with per-file retry and skip-on-conflict.
package transfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/cryptdrive/cdrive/internal/localfs"
)

// FileState is the lifecycle state of one file in a batch upload.
type FileState string

const (
	FileQueued            FileState = "queued"             // Waiting for its batch
	FileUploading         FileState = "uploading"          // An attempt is in flight
	FileRetryScheduled    FileState = "retry_scheduled"    // Attempt failed, waiting out the retry delay
	FileDone              FileState = "done"               // Uploaded and registered
	FileAlreadyExists     FileState = "already_exists"     // Remote conflict, skipped
	FilePermanentlyFailed FileState = "permanently_failed" // Retries exhausted, orphaned or cancelled
)

var fileTransitions = map[FileState][]FileState{
	FileQueued:         {FileUploading, FilePermanentlyFailed},
	FileUploading:      {FileDone, FileAlreadyExists, FileRetryScheduled, FilePermanentlyFailed},
	FileRetryScheduled: {FileUploading, FilePermanentlyFailed},
}

// IsTerminal reports whether no further transitions are possible from s.
func (s FileState) IsTerminal() bool {
	return s == FileDone || s == FileAlreadyExists || s == FilePermanentlyFailed
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to FileState) bool {
	for _, next := range fileTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FileTask tracks one file through a batch upload.
// Thread-safe: use the provided methods to update state.
type FileTask struct {
	Node localfs.FileSystemNode

	state    FileState
	attempts int
	progress float64
	speed    float64 // bytes/sec, EMA smoothed
	err      error

	lastBytes      int64
	lastUpdateTime time.Time

	startedAt   time.Time
	completedAt time.Time

	mu sync.RWMutex
}

// NewFileTask creates a task in FileQueued state.
func NewFileTask(node localfs.FileSystemNode) *FileTask {
	return &FileTask{Node: node, state: FileQueued}
}

// Transition moves the task to a new state, rejecting illegal transitions.
// Entering FileUploading counts an attempt.
func (t *FileTask) Transition(to FileState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(to)
}

func (t *FileTask) transitionLocked(to FileState) error {
	if !CanTransition(t.state, to) {
		return fmt.Errorf("illegal transition %s -> %s for %s", t.state, to, t.Node.RelativePath)
	}
	t.state = to

	switch {
	case to == FileUploading:
		t.attempts++
		t.progress = 0
		t.lastBytes = 0
		t.speed = 0
		if t.startedAt.IsZero() {
			t.startedAt = time.Now()
		}
	case to.IsTerminal():
		t.completedAt = time.Now()
	}
	return nil
}

// Fail records err and moves the task to FilePermanentlyFailed.
func (t *FileTask) Fail(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if terr := t.transitionLocked(FilePermanentlyFailed); terr != nil {
		return terr
	}
	t.err = err
	return nil
}

// SetLastError records the error of the most recent attempt.
func (t *FileTask) SetLastError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// State returns the current state.
func (t *FileTask) State() FileState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Attempts returns the number of upload attempts started.
func (t *FileTask) Attempts() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.attempts
}

// Err returns the last recorded error.
func (t *FileTask) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Progress returns the fraction of the current attempt, 0.0 to 1.0.
func (t *FileTask) Progress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

// Speed returns the smoothed transfer speed in bytes/sec.
func (t *FileTask) Speed() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.speed
}

// Duration returns the time from the first attempt to completion, or until now
// for tasks still in flight.
func (t *FileTask) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.startedAt.IsZero() {
		return 0
	}
	if t.completedAt.IsZero() {
		return time.Since(t.startedAt)
	}
	return t.completedAt.Sub(t.startedAt)
}

// UpdateProgress records progress of the current attempt and recomputes the
// speed with an exponential moving average.
func (t *FileTask) UpdateProgress(fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fraction < t.progress {
		return
	}
	t.progress = fraction

	if t.Node.Size <= 0 {
		return
	}
	now := time.Now()
	transferred := int64(fraction * float64(t.Node.Size))

	if t.lastBytes == 0 {
		if transferred > 0 {
			t.lastBytes = transferred
			t.lastUpdateTime = now
		}
		return
	}

	if transferred > t.lastBytes {
		elapsed := now.Sub(t.lastUpdateTime).Seconds()
		// Need at least 100ms between updates for a meaningful rate
		if elapsed > 0.1 {
			instant := float64(transferred-t.lastBytes) / elapsed
			const speedSmoothingAlpha = 0.25
			if t.speed > 0 {
				t.speed = speedSmoothingAlpha*instant + (1-speedSmoothingAlpha)*t.speed
			} else {
				t.speed = instant
			}
			t.lastBytes = transferred
			t.lastUpdateTime = now
		}
	}
}
