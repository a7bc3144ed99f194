package action

import (
	"maps"
	"time"
)

// Status is the lifecycle position of an action.
type Status string

// Action statuses. PENDING and RUNNING are non-terminal; COMPLETED and
// FAILED are terminal and never change again.
const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is COMPLETED or FAILED.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses for monotonicity checks. Both terminal statuses share
// the highest rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2 //nolint:mnd // terminal
	}
	return -1
}

// Precedes reports whether an observer may see s followed by next without
// the action having regressed.
func (s Status) Precedes(next Status) bool {
	if s.IsTerminal() {
		return s == next
	}
	return s.rank() <= next.rank()
}

// legalTransitions lists the only edges of the action state machine.
var legalTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Type names a kind of device action.
type Type string

// Built-in action types. The Catalogue accepts more.
const (
	TypeSoftwareUpdate Type = "SOFTWARE_UPDATE"
	TypeReboot         Type = "REBOOT"
)

// Params holds per-type string parameters, e.g. "version" for
// SOFTWARE_UPDATE.
type Params map[string]string

// FailureReason classifies why an action FAILED.
type FailureReason string

// Failure reasons.
const (
	ReasonTimeout          FailureReason = "timeout"
	ReasonDispatchRejected FailureReason = "dispatch_rejected"
	ReasonAgentError       FailureReason = "agent_error"
	ReasonInterrupted      FailureReason = "interrupted"
	ReasonInternal         FailureReason = "internal"
)

// Result is the outcome detail attached to a transition.
type Result struct {
	Message string
	Reason  FailureReason
}

// Action is a single asynchronous operation targeting one device.
type Action struct {
	ID       string `json:"action_id"`
	DeviceID string `json:"device_id"`
	Type     Type   `json:"action_type"`
	Params   Params `json:"params,omitempty"`
	Status   Status `json:"status"`

	// Result is a human-readable outcome: the agent's message on success or
	// the error detail on failure.
	Result        string        `json:"result,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Deadline is when the watchdog fails the action if it is still
	// non-terminal.
	Deadline *time.Time `json:"deadline,omitempty"`
}

// IsTerminal reports whether the action has finished.
func (a *Action) IsTerminal() bool {
	return a.Status.IsTerminal()
}

// Duration returns the time from creation to completion, or zero while the
// action is still in flight.
func (a *Action) Duration() time.Duration {
	if a.CompletedAt == nil {
		return 0
	}
	return a.CompletedAt.Sub(a.CreatedAt)
}

// DeepCopy returns an independent copy of a.
func (a *Action) DeepCopy() *Action {
	if a == nil {
		return nil
	}
	cpy := *a
	if a.Params != nil {
		cpy.Params = maps.Clone(a.Params)
	}
	cpy.StartedAt = copyTime(a.StartedAt)
	cpy.CompletedAt = copyTime(a.CompletedAt)
	cpy.Deadline = copyTime(a.Deadline)
	return &cpy
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
