package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilnproject/kiln/pkg/telemetry"
)

// Scheduler runs lifecycle tasks for many resources in one process. Tasks
// yield control at poll-wait points, so the pool size bounds concurrent
// backend traffic rather than blocked threads. Actions on a single resource
// are strictly serialized by the resource's in-flight flag; across
// resources the interleaving is arbitrary.
type Scheduler struct {
	maxParallel   int
	runner        *TaskRunner
	retryLimit    int
	actionTimeout time.Duration
	sink          EventSink
	store         StateStore

	sem chan struct{}
	wg  sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithEventSink attaches an in-process subscriber for lifecycle events.
func WithEventSink(sink EventSink) SchedulerOption {
	return func(s *Scheduler) { s.sink = sink }
}

// WithSchedulerStore persists lifecycle events through the store.
func WithSchedulerStore(store StateStore) SchedulerOption {
	return func(s *Scheduler) { s.store = store }
}

// WithRetryLimit retries actions that failed at the transport level up to
// limit additional attempts. The default of zero disables retries; the
// runner itself never retries.
func WithRetryLimit(limit int) SchedulerOption {
	return func(s *Scheduler) {
		if limit > 0 {
			s.retryLimit = limit
		}
	}
}

// WithActionTimeout sets the wall-clock budget applied to every submitted
// action.
func WithActionTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.actionTimeout = timeout
		}
	}
}

// NewScheduler creates a scheduler backed by the given runner.
func NewScheduler(maxParallel int, runner *TaskRunner, opts ...SchedulerOption) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = 10
	}
	s := &Scheduler{
		maxParallel: maxParallel,
		runner:      runner,
		sem:         make(chan struct{}, maxParallel),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TaskHandle tracks one submitted action to completion.
type TaskHandle struct {
	// TaskID identifies the underlying task.
	TaskID string

	// Resource is the target resource name.
	Resource string

	// Action is the submitted lifecycle action.
	Action Action

	done chan struct{}
	err  error
}

// Done is closed once the action has resolved.
func (h *TaskHandle) Done() <-chan struct{} { return h.done }

// Err returns the action's failure after Done is closed, nil on success.
func (h *TaskHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the action resolves or the context is cancelled.
func (h *TaskHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates and starts an action on a resource. Precondition
// failures (NotFound, ReplacementRequired, an action already in flight)
// surface immediately; otherwise the returned handle resolves once the
// task reaches a terminal state.
func (s *Scheduler) Submit(ctx context.Context, r *Resource, action Action, opts ...PerformOption) (*TaskHandle, error) {
	task, err := r.Perform(ctx, action, opts...)
	if err != nil {
		s.publish(ctx, LifecycleEvent{
			ID:        uuid.New().String(),
			Resource:  r.Name(),
			Action:    action,
			Status:    StatusFailed,
			Message:   err.Error(),
			Level:     "error",
			Timestamp: time.Now(),
		})
		return nil, err
	}

	h := &TaskHandle{
		TaskID:   task.ID,
		Resource: r.Name(),
		Action:   action,
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)

		// Cancelled while still queued: the backend was never called. The
		// second check covers a slot freed concurrently with cancellation.
		resolveCancelled := func() {
			cerr := NewCancelled(action, r.Name())
			r.setState(context.Background(), action, StatusFailed, cerr.Message)
			r.clearInFlight()
			h.err = cerr
			s.publishResolved(r, task.ID, action, cerr)
		}

		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			resolveCancelled()
			return
		}
		if ctx.Err() != nil {
			resolveCancelled()
			return
		}

		s.publish(ctx, LifecycleEvent{
			ID:        uuid.New().String(),
			Resource:  r.Name(),
			TaskID:    task.ID,
			Action:    action,
			Status:    StatusInProgress,
			Message:   "started " + action.Verb() + " of " + r.Name(),
			Level:     "info",
			Timestamp: time.Now(),
		})

		err := s.runner.Run(ctx, task, s.actionTimeout)
		err = s.retry(ctx, r, action, err, opts)
		h.err = err
		s.publishResolved(r, task.ID, action, err)
	}()

	return h, nil
}

// retry re-performs an action whose failure was purely transport-level, up
// to the configured limit, with exponential backoff. Remote-side failures
// and precondition failures are never retried.
func (s *Scheduler) retry(ctx context.Context, r *Resource, action Action, err error, opts []PerformOption) error {
	for attempt := 1; err != nil && IsTransportError(err) && attempt <= s.retryLimit; attempt++ {
		telemetry.FromContext(ctx).WithResource(r.Name()).
			Warnf("retrying %s after transport failure (attempt %d/%d)", action.Verb(), attempt, s.retryLimit)

		select {
		case <-time.After(retryBackoff(attempt)):
		case <-ctx.Done():
			return err
		}

		task, perr := r.Perform(ctx, action, opts...)
		if perr != nil {
			return err
		}
		err = s.runner.Run(ctx, task, s.actionTimeout)
	}
	return err
}

// retryBackoff returns the delay before the given retry attempt, capped at
// one minute.
func retryBackoff(attempt int) time.Duration {
	delay := time.Second * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

// Wait blocks until every submitted task has resolved.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) publishResolved(r *Resource, taskID string, action Action, err error) {
	event := LifecycleEvent{
		ID:        uuid.New().String(),
		Resource:  r.Name(),
		TaskID:    taskID,
		Action:    action,
		Status:    StatusComplete,
		Message:   action.Verb() + " of " + r.Name() + " complete",
		Level:     "info",
		Timestamp: time.Now(),
	}
	if err != nil {
		event.Status = StatusFailed
		event.Message = err.Error()
		event.Level = "error"
	}
	s.publish(context.Background(), event)
}

func (s *Scheduler) publish(ctx context.Context, event LifecycleEvent) {
	if s.store != nil {
		_ = s.store.AppendEvent(context.WithoutCancel(ctx), &event)
	}
	if s.sink != nil {
		s.sink.Publish(event)
	}
}
