package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a migration task
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusBlocked    Status = "blocked"
)

// Reason codes recorded on terminal tasks
const (
	ReasonAlreadyPresent          = "already_present"
	ReasonDestinationNotEncrypted = "destination_not_encrypted"
	ReasonFileGrowing             = "file_growing"
	ReasonEmptySource             = "empty_source"
	ReasonMissingSource           = "missing_source"
	ReasonRetriesExhausted        = "retries_exhausted"
	ReasonCopyError               = "copy_error"
	ReasonChecksumMismatch        = "checksum_mismatch"
	ReasonCommitConflict          = "commit_conflict"
	ReasonInterrupted             = "interrupted"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{
	StatusQueued, StatusInProgress, StatusSucceeded, StatusFailed, StatusSkipped, StatusBlocked,
}

// Active reports whether s counts against the one-active-task-per-key rule
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusInProgress
}

// Terminal reports whether s is a final state
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusBlocked:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s.Active() || s.Terminal()
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusInProgress
	case StatusInProgress:
		return to.Terminal()
	}
	return false
}

var (
	// ErrActiveTask is returned by Enqueue when the key already has a queued
	// or in-progress task
	ErrActiveTask = errors.New("file already has an active migration task")
	// ErrNoTask is returned by Claim when nothing is queued
	ErrNoTask = errors.New("no queued task")
	// ErrNotFound is returned for unknown task ids
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status change violates the state machine
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// ActiveTaskError carries the task that blocked an Enqueue
type ActiveTaskError struct {
	Existing *MigrationTask
}

func (e *ActiveTaskError) Error() string {
	return fmt.Sprintf("%v: %s (task %s, %s)", ErrActiveTask, e.Existing.Key, e.Existing.ID, e.Existing.Status)
}

func (e *ActiveTaskError) Unwrap() error { return ErrActiveTask }

// MigrationTask moves one replica slot of a file from Source to Destination
type MigrationTask struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Slot        int        `json:"slot"`
	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	Reason      string     `json:"reason,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a queued task
func NewTask(key, source, destination string, slot int) *MigrationTask {
	return &MigrationTask{
		ID:          uuid.New().String(),
		Key:         key,
		Source:      source,
		Destination: destination,
		Slot:        slot,
		Status:      StatusQueued,
		CreatedAt:   time.Now().UTC(),
	}
}

// Clone returns a deep copy
func (t *MigrationTask) Clone() *MigrationTask {
	c := *t
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

// Result is the terminal outcome written by Complete
type Result struct {
	Status    Status
	Reason    string
	Attempts  int
	LastError string
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status Status
	Reason string
	Key    string
	Limit  int
}

// Matches reports whether t passes the filter (Limit is ignored)
func (f Filter) Matches(t *MigrationTask) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Reason != "" && t.Reason != f.Reason {
		return false
	}
	if f.Key != "" && t.Key != f.Key {
		return false
	}
	return true
}

// Store is the durable queue of migration tasks.
//
// Enqueue is a conditional insert honoring one active task per key.
// Claim and Complete are compare-and-swap status transitions so that two
// workers can never run the same task.
type Store interface {
	Enqueue(ctx context.Context, t *MigrationTask) (*MigrationTask, error)
	Claim(ctx context.Context) (*MigrationTask, error)
	Complete(ctx context.Context, id string, res Result) (*MigrationTask, error)
	Get(ctx context.Context, id string) (*MigrationTask, error)
	Active(ctx context.Context, key string) (*MigrationTask, error)
	List(ctx context.Context, f Filter) ([]*MigrationTask, error)
	Counts(ctx context.Context) (map[Status]int, error)
	// RecoverInterrupted fails in-progress tasks left by a previous process
	RecoverInterrupted(ctx context.Context) (int, error)
}
