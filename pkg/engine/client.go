package engine

import (
	"context"
	"errors"
)

// ErrRemoteGone is the not-found signal a RemoteClient returns (possibly
// wrapped) when the backend reports the remote entity does not exist.
// DeleteRemote implementations must return nil instead when deletion finds
// nothing to do; ProbeStatus and the other calls return this signal.
var ErrRemoteGone = errors.New("remote resource not found")

// PollResult is one observation of remote-side progress produced by
// ProbeStatus. Status is the backend's raw status string; Reason is the
// backend's explanation when the status is a failure.
type PollResult struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ClassifyFor classifies the observation relative to the action in progress.
// The engine recognizes only the "<ACTION>_<PHASE>" convention; any other
// status string is unknown.
func (p PollResult) ClassifyFor(action Action) PollClass {
	switch p.Status {
	case string(action) + "_" + string(StatusInProgress):
		return PollInProgress
	case string(action) + "_" + string(StatusComplete):
		return PollComplete
	case string(action) + "_" + string(StatusFailed):
		return PollFailed
	default:
		return PollUnknown
	}
}

// PropertyChange is one entry of a property diff supplied to an update.
type PropertyChange struct {
	// Value is the new property value.
	Value interface{} `json:"value"`

	// ForcesReplacement marks a property that cannot change in place;
	// updating it aborts with a ReplacementRequired failure before any
	// backend call is made.
	ForcesReplacement bool `json:"forces_replacement,omitempty"`
}

// PropertyDiff maps property names to their pending changes.
type PropertyDiff map[string]PropertyChange

// Replacements returns the names of changed properties that force
// replacement, in map order.
func (d PropertyDiff) Replacements() []string {
	var names []string
	for name, change := range d {
		if change.ForcesReplacement {
			names = append(names, name)
		}
	}
	return names
}

// Values flattens the diff to plain name/value pairs for the backend call.
func (d PropertyDiff) Values() map[string]interface{} {
	values := make(map[string]interface{}, len(d))
	for name, change := range d {
		values[name] = change.Value
	}
	return values
}

// RemoteClient is the capability interface a concrete resource type
// implements to let the engine drive and observe one kind of remote entity.
// The mutating calls are issued exactly once per task; ProbeStatus is
// read-only and may be called any number of times.
type RemoteClient interface {
	// CreateRemote creates the remote entity and returns its backend
	// identity. Connectivity faults surface as plain errors and are wrapped
	// as the action's transport failure.
	CreateRemote(ctx context.Context, properties map[string]interface{}) (string, error)

	// UpdateRemote applies a property diff to the remote entity in place.
	UpdateRemote(ctx context.Context, identity string, diff PropertyDiff) error

	// DeleteRemote removes the remote entity. It must succeed silently when
	// the backend reports the entity is already absent.
	DeleteRemote(ctx context.Context, identity string) error

	// SuspendRemote suspends the remote entity.
	SuspendRemote(ctx context.Context, identity string) error

	// ResumeRemote resumes the remote entity.
	ResumeRemote(ctx context.Context, identity string) error

	// ProbeStatus fetches the remote entity's current status, or an error
	// wrapping ErrRemoteGone when the entity no longer exists.
	ProbeStatus(ctx context.Context, identity string) (PollResult, error)

	// ShowAttributes fetches the remote entity's structured attributes for
	// lookups outside lifecycle actions.
	ShowAttributes(ctx context.Context, identity string) (map[string]interface{}, error)
}
