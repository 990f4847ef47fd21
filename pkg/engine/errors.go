package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a lifecycle failure for programmatic handling.
type ErrorKind string

const (
	// KindNotFound indicates an action was attempted on a resource that has
	// no backend identity yet.
	KindNotFound ErrorKind = "NotFound"

	// KindReplacementRequired indicates an in-place update is impossible and
	// the resource must be replaced instead.
	KindReplacementRequired ErrorKind = "ReplacementRequired"

	// KindTransportError indicates a backend client call failed at the
	// connectivity or protocol level.
	KindTransportError ErrorKind = "TransportError"

	// KindResourceInError indicates the remote side reported its own FAILED
	// terminal status; the reason string is attached.
	KindResourceInError ErrorKind = "ResourceInError"

	// KindResourceUnknownStatus indicates a terminal-looking status string
	// the engine does not recognize for the current action.
	KindResourceUnknownStatus ErrorKind = "ResourceUnknownStatus"

	// KindTimeout indicates the action exceeded its wall-clock timeout.
	KindTimeout ErrorKind = "Timeout"

	// KindCancelled indicates the surrounding operation requested
	// cancellation while the action was still in progress.
	KindCancelled ErrorKind = "Cancelled"

	// KindInvalidAttribute indicates an attribute lookup referenced a name
	// the resource does not expose.
	KindInvalidAttribute ErrorKind = "InvalidAttribute"
)

// LifecycleError is a classified lifecycle failure with resource context.
type LifecycleError struct {
	// Kind is the failure classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable failure message. Messages follow fixed
	// patterns so downstream tooling can match on them.
	Message string `json:"message"`

	// Resource is the name of the resource the failure is attached to.
	Resource string `json:"resource,omitempty"`

	// Action is the lifecycle action that was in progress.
	Action Action `json:"action,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two lifecycle errors match
// when their kinds match.
func (e *LifecycleError) Is(target error) bool {
	t, ok := target.(*LifecycleError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithResource adds resource context to the error.
func (e *LifecycleError) WithResource(name string) *LifecycleError {
	e.Resource = name
	return e
}

// WithAction adds the in-progress action to the error.
func (e *LifecycleError) WithAction(action Action) *LifecycleError {
	e.Action = action
	return e
}

// NewNotFound reports an action attempted before the resource exists.
func NewNotFound(action Action, resource string) *LifecycleError {
	return &LifecycleError{
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("Cannot %s %s, resource not found", action.Verb(), resource),
		Resource: resource,
		Action:   action,
	}
}

// NewReplacementRequired reports that an update cannot be applied in place.
func NewReplacementRequired(resource string, properties []string) *LifecycleError {
	return &LifecycleError{
		Kind:     KindReplacementRequired,
		Message:  fmt.Sprintf("The Resource %s requires replacement: update changed %v", resource, properties),
		Resource: resource,
		Action:   ActionUpdate,
	}
}

// NewTransportError wraps a failed backend client call.
func NewTransportError(err error) *LifecycleError {
	return &LifecycleError{
		Kind:    KindTransportError,
		Message: err.Error(),
		Err:     err,
	}
}

// NewResourceInError reports a remote-side FAILED terminal status.
func NewResourceInError(status, reason string) *LifecycleError {
	return &LifecycleError{
		Kind:    KindResourceInError,
		Message: fmt.Sprintf("Went to status %s due to %q", status, reason),
	}
}

// NewResourceUnknownStatus reports an unrecognized terminal-looking status.
func NewResourceUnknownStatus(status string) *LifecycleError {
	return &LifecycleError{
		Kind:    KindResourceUnknownStatus,
		Message: fmt.Sprintf("Resource failed - Unknown status %s", status),
	}
}

// NewTimeout reports that an action exceeded its wall-clock budget.
func NewTimeout(action Action, resource string, timeout string) *LifecycleError {
	return &LifecycleError{
		Kind:     KindTimeout,
		Message:  fmt.Sprintf("%s of %s timed out after %s", string(action), resource, timeout),
		Resource: resource,
		Action:   action,
	}
}

// NewCancelled reports a cooperative cancellation.
func NewCancelled(action Action, resource string) *LifecycleError {
	return &LifecycleError{
		Kind:     KindCancelled,
		Message:  fmt.Sprintf("%s of %s was cancelled", string(action), resource),
		Resource: resource,
		Action:   action,
	}
}

// NewInvalidAttribute reports a lookup of an attribute the resource does not
// expose.
func NewInvalidAttribute(resource, attribute string) *LifecycleError {
	return &LifecycleError{
		Kind:     KindInvalidAttribute,
		Message:  fmt.Sprintf("The Referenced Attribute (%s %s) is incorrect.", resource, attribute),
		Resource: resource,
	}
}

// IsKind returns true if err is a LifecycleError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *LifecycleError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsNotFound returns true if the error is a NotFound failure.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsReplacementRequired returns true if the error signals update-by-replace.
func IsReplacementRequired(err error) bool { return IsKind(err, KindReplacementRequired) }

// IsTransportError returns true if the error is a failed backend call.
func IsTransportError(err error) bool { return IsKind(err, KindTransportError) }

// IsResourceInError returns true if the remote side reported failure.
func IsResourceInError(err error) bool { return IsKind(err, KindResourceInError) }

// IsResourceUnknownStatus returns true for unrecognized terminal statuses.
func IsResourceUnknownStatus(err error) bool { return IsKind(err, KindResourceUnknownStatus) }

// IsTimeout returns true if the action ran out of wall-clock time.
func IsTimeout(err error) bool { return IsKind(err, KindTimeout) }

// IsCancelled returns true if the action was cancelled cooperatively.
func IsCancelled(err error) bool { return IsKind(err, KindCancelled) }

// IsInvalidAttribute returns true for unknown attribute lookups.
func IsInvalidAttribute(err error) bool { return IsKind(err, KindInvalidAttribute) }
