package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the persisted status of a collection run
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusAborted    RunStatus = "aborted"
)

// Outcome is what a caller is told when a run returns
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeAbortedResumable Outcome = "aborted-resumable"
	OutcomeAuthFailed       Outcome = "auth-failed"
)

// RunStateVersion is bumped when the checkpoint layout changes
const RunStateVersion = 1

// RunState is the resumable position of a collection run for one subject.
// It is persisted after every stored batch.
type RunState struct {
	RunID            string    `json:"run_id"`
	Subject          string    `json:"subject"`
	RequestedLimit   int       `json:"requested_limit"`
	Cursor           string    `json:"cursor"`
	ItemsCollected   int       `json:"items_collected"`
	Status           RunStatus `json:"status"`
	ChallengePending bool      `json:"challenge_pending,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int       `json:"version"`
}

// NewRunState starts a fresh run for subject
func NewRunState(subject string, limit int, now time.Time) *RunState {
	return &RunState{
		RunID:          uuid.NewString(),
		Subject:        subject,
		RequestedLimit: limit,
		Status:         RunStatusInProgress,
		StartedAt:      now,
		UpdatedAt:      now,
		Version:        RunStateVersion,
	}
}

// Resumable reports whether a later run should continue from this state
func (r *RunState) Resumable() bool {
	return r != nil && r.Status != RunStatusCompleted
}

// LimitReached reports whether the requested limit has been met.
// A limit of zero means unlimited.
func (r *RunState) LimitReached() bool {
	return r.RequestedLimit > 0 && r.ItemsCollected >= r.RequestedLimit
}

// Remaining is how many more items may be stored, or -1 when unlimited
func (r *RunState) Remaining() int {
	if r.RequestedLimit <= 0 {
		return -1
	}
	if n := r.RequestedLimit - r.ItemsCollected; n > 0 {
		return n
	}
	return 0
}

// Clone returns an independent copy
func (r *RunState) Clone() RunState {
	return *r
}
