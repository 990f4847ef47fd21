package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AttributeShow is the attribute name that resolves to the full attribute
// map of the remote entity.
const AttributeShow = "show"

// Resource tracks the lifecycle of one remote entity. Its mutable fields
// (identity, action, status, reason) are written only by the task currently
// executing against it; readers may observe values mid-action and must
// tolerate staleness.
type Resource struct {
	name       string
	typeName   string
	client     RemoteClient
	properties map[string]interface{}

	store StateStore

	mu       sync.Mutex
	identity string
	action   Action
	status   Status
	reason   string
	inFlight bool
}

// ResourceOption configures a Resource at construction time.
type ResourceOption func(*Resource)

// WithStateStore attaches a persistence backend; every state transition is
// written through, best effort.
func WithStateStore(store StateStore) ResourceOption {
	return func(r *Resource) { r.store = store }
}

// NewResource constructs a resource in the (INIT, COMPLETE) state. The
// properties are the desired configuration handed to CreateRemote.
func NewResource(name, typeName string, client RemoteClient, properties map[string]interface{}, opts ...ResourceOption) *Resource {
	r := &Resource{
		name:       name,
		typeName:   typeName,
		client:     client,
		properties: properties,
		action:     ActionInit,
		status:     StatusComplete,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the resource name.
func (r *Resource) Name() string { return r.name }

// Type returns the registered resource type name.
func (r *Resource) Type() string { return r.typeName }

// Client returns the backend client bound to this resource.
func (r *Resource) Client() RemoteClient { return r.client }

// Properties returns the desired configuration.
func (r *Resource) Properties() map[string]interface{} { return r.properties }

// Identity returns the backend identifier, or "" before creation succeeds.
func (r *Resource) Identity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

// State returns the current (action, status) pair.
func (r *Resource) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{Action: r.action, Status: r.status}
}

// FailureReason returns the last failure reason, or "" when the resource is
// not in a FAILED state.
func (r *Resource) FailureReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// PerformOption configures a single Perform invocation.
type PerformOption func(*performConfig)

type performConfig struct {
	diff PropertyDiff
}

// WithDiff supplies the property diff for an update action.
func WithDiff(diff PropertyDiff) PerformOption {
	return func(c *performConfig) { c.diff = diff }
}

// Perform validates the preconditions for an action and, if they hold,
// transitions the resource to (action, IN_PROGRESS) and returns the Task
// that will carry it out. The backend is not touched here; the returned
// Task must be handed to a TaskRunner.
//
// Actions that require an existing backend identity fail with a NotFound
// error and leave the resource in (action, FAILED). An update whose diff
// touches a replacement-forcing property aborts with ReplacementRequired
// before any state mutation.
func (r *Resource) Perform(ctx context.Context, action Action, opts ...PerformOption) (*Task, error) {
	if action == ActionInit {
		return nil, fmt.Errorf("cannot perform %s on %s", action, r.name)
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}

	var cfg performConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight {
		return nil, fmt.Errorf("resource %s already has an action in progress", r.name)
	}
	if action == ActionCreate && r.identity != "" {
		return nil, fmt.Errorf("cannot create %s, resource already has identity %s", r.name, r.identity)
	}
	if action.RequiresIdentity() && r.identity == "" {
		err := NewNotFound(action, r.name)
		r.setStateLocked(ctx, action, StatusFailed, err.Message)
		return nil, err
	}
	if action == ActionUpdate {
		if repl := cfg.diff.Replacements(); len(repl) > 0 {
			sort.Strings(repl)
			return nil, NewReplacementRequired(r.name, repl)
		}
	}

	r.inFlight = true
	r.setStateLocked(ctx, action, StatusInProgress, "")

	return &Task{
		ID:       uuid.New().String(),
		resource: r,
		action:   action,
		diff:     cfg.diff,
	}, nil
}

// Attribute resolves a named attribute from the remote entity's structured
// attributes. The reserved name "show" returns the full attribute map. An
// unknown name fails with InvalidAttribute.
func (r *Resource) Attribute(ctx context.Context, name string) (interface{}, error) {
	identity := r.Identity()
	if identity == "" {
		return nil, NewNotFound(ActionInit, r.name)
	}

	attrs, err := r.client.ShowAttributes(ctx, identity)
	if err != nil {
		return nil, NewTransportError(err).WithResource(r.name)
	}

	if name == AttributeShow {
		return attrs, nil
	}
	value, ok := attrs[name]
	if !ok {
		return nil, NewInvalidAttribute(r.name, name)
	}
	return value, nil
}

// bindIdentity records the backend identifier returned by a successful
// create. Identity is immutable once set.
func (r *Resource) bindIdentity(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity != "" {
		return fmt.Errorf("resource %s already has identity %s", r.name, r.identity)
	}
	r.identity = id
	return nil
}

// setState transitions the resource and records the transition.
func (r *Resource) setState(ctx context.Context, action Action, status Status, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setStateLocked(ctx, action, status, reason)
}

func (r *Resource) setStateLocked(ctx context.Context, action Action, status Status, reason string) {
	r.action = action
	r.status = status
	r.reason = reason

	if r.store != nil {
		// Persistence is best effort; a failing store never blocks the
		// lifecycle itself.
		_ = r.store.SaveResourceState(ctx, &ResourceRecord{
			Name:      r.name,
			Type:      r.typeName,
			Identity:  r.identity,
			Action:    action,
			Status:    status,
			Reason:    reason,
			UpdatedAt: time.Now(),
		})
	}
}

// clearInFlight releases the single-writer slot once a task resolves.
func (r *Resource) clearInFlight() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight = false
}
