package model

import "time"

// AttemptState tracks one solve attempt from the decision gate to its close.
type AttemptState string

const (
	StatePending          AttemptState = "pending"
	StateWorkspaceReady   AttemptState = "workspace_ready"
	StateContainerRunning AttemptState = "container_running"
	StateSucceeded        AttemptState = "succeeded"
	StateTimedOut         AttemptState = "timed_out"
	StateFailed           AttemptState = "failed"
	StateClosedPRComment  AttemptState = "closed_pr_comment"
	StateClosedPROpened   AttemptState = "closed_pr_opened"
	StateClosedNoOp       AttemptState = "closed_noop"
	StateSkipped          AttemptState = "skipped"
	StateOutOfScope       AttemptState = "out_of_scope"
)

// IsTerminal reports whether no further transition follows s.
func (s AttemptState) IsTerminal() bool {
	switch s {
	case StateTimedOut, StateFailed, StateClosedPRComment, StateClosedPROpened,
		StateClosedNoOp, StateSkipped, StateOutOfScope:
		return true
	}
	return false
}

func (s AttemptState) String() string {
	return string(s)
}

// Attempt is the journal record of the latest attempt for an instance.
type Attempt struct {
	ID         string       `json:"id" bson:"id"`
	InstanceID string       `json:"instance_id" bson:"instance_id"`
	State      AttemptState `json:"state" bson:"state"`
	Detail     string       `json:"detail,omitempty" bson:"detail,omitempty"`
	PRURL      string       `json:"pr_url,omitempty" bson:"pr_url,omitempty"`
	StartedAt  time.Time    `json:"started_at" bson:"started_at"`
	UpdatedAt  time.Time    `json:"updated_at" bson:"updated_at"`
}
