package engine

import (
	"context"
	"errors"
)

// Task is a single unit of work: one lifecycle action on one resource. A
// task is created by Perform, driven once by a TaskRunner, and discarded.
type Task struct {
	// ID is the unique identifier for this task.
	ID string

	resource *Resource
	action   Action
	diff     PropertyDiff
	probes   int
}

// Resource returns the target resource.
func (t *Task) Resource() *Resource { return t.resource }

// Action returns the lifecycle action this task performs.
func (t *Task) Action() Action { return t.action }

// Probes returns how many status probes the task has issued so far.
func (t *Task) Probes() int { return t.probes }

// mutate issues the single backend mutating call for the action. It returns
// done=true when the action is already fully resolved and no polling is
// needed (delete of an entity that is already gone). Transport faults are
// wrapped as the action's failure and not retried here.
func (t *Task) mutate(ctx context.Context) (done bool, err error) {
	r := t.resource
	client := r.client

	switch t.action {
	case ActionCreate:
		id, err := client.CreateRemote(ctx, r.properties)
		if err != nil {
			return false, NewTransportError(err)
		}
		if err := r.bindIdentity(id); err != nil {
			return false, err
		}
		return false, nil

	case ActionUpdate:
		if err := client.UpdateRemote(ctx, r.Identity(), t.diff); err != nil {
			return false, NewTransportError(err)
		}
		return false, nil

	case ActionDelete:
		err := client.DeleteRemote(ctx, r.Identity())
		if errors.Is(err, ErrRemoteGone) {
			// Already gone counts as done.
			return true, nil
		}
		if err != nil {
			return false, NewTransportError(err)
		}
		return false, nil

	case ActionSuspend:
		if err := client.SuspendRemote(ctx, r.Identity()); err != nil {
			return false, NewTransportError(err)
		}
		return false, nil

	case ActionResume:
		if err := client.ResumeRemote(ctx, r.Identity()); err != nil {
			return false, NewTransportError(err)
		}
		return false, nil

	default:
		return false, errors.New("task has no backend call for action " + string(t.action))
	}
}
