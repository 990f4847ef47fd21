package engine

import (
	"fmt"
	"strings"
)

// Action represents a lifecycle action performed on a resource.
type Action string

const (
	// ActionInit is the action of a freshly constructed resource that has
	// never touched the backend.
	ActionInit Action = "INIT"

	// ActionCreate creates the remote entity.
	ActionCreate Action = "CREATE"

	// ActionUpdate applies a property diff to the remote entity in place.
	ActionUpdate Action = "UPDATE"

	// ActionDelete removes the remote entity.
	ActionDelete Action = "DELETE"

	// ActionSuspend suspends the remote entity.
	ActionSuspend Action = "SUSPEND"

	// ActionResume resumes a previously suspended remote entity.
	ActionResume Action = "RESUME"
)

// Validate checks if the action is valid.
func (a Action) Validate() error {
	switch a {
	case ActionInit, ActionCreate, ActionUpdate, ActionDelete,
		ActionSuspend, ActionResume:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

// RequiresIdentity returns true if the action needs an existing backend
// identity. Create is the only mutating action that starts from nothing.
func (a Action) RequiresIdentity() bool {
	switch a {
	case ActionUpdate, ActionDelete, ActionSuspend, ActionResume:
		return true
	default:
		return false
	}
}

// Verb returns the lowercase verb form used in user-visible messages.
func (a Action) Verb() string {
	return strings.ToLower(string(a))
}

// Status represents the progress of the current action on a resource.
type Status string

const (
	// StatusInProgress indicates the action has been issued and the remote
	// side has not yet reached a terminal state.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusComplete indicates the action finished successfully.
	StatusComplete Status = "COMPLETE"

	// StatusFailed indicates the action failed; FailureReason is set.
	StatusFailed Status = "FAILED"

	// StatusUnknown indicates the remote side reported a status the engine
	// could not classify. Only probes produce it; resources always settle
	// into COMPLETE or FAILED.
	StatusUnknown Status = "UNKNOWN"
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusInProgress, StatusComplete, StatusFailed, StatusUnknown:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// State is the externally observable (action, status) pair of a resource.
type State struct {
	Action Action `json:"action"`
	Status Status `json:"status"`
}

// String renders the state in the backend's ACTION_STATUS convention.
func (s State) String() string {
	return string(s.Action) + "_" + string(s.Status)
}

// PollClass is the engine's classification of one remote status observation
// relative to the action being performed.
type PollClass int

const (
	// PollInProgress means the remote side is still working; poll again.
	PollInProgress PollClass = iota

	// PollComplete means the action's expected terminal success status.
	PollComplete

	// PollFailed means the action's expected terminal failure status.
	PollFailed

	// PollUnknown means a status string not recognized for this action.
	PollUnknown
)
