package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilnproject/kiln/pkg/telemetry"
)

const (
	// DefaultPollInterval is the inter-poll suspension time.
	DefaultPollInterval = 1 * time.Second

	// DefaultActionTimeout bounds an action when the caller passes no
	// timeout of its own.
	DefaultActionTimeout = 60 * time.Minute
)

// TaskRunner drives a Task to completion: one mutating backend call, then a
// poll loop that suspends cooperatively between probes until the remote
// side reaches a terminal status, the timeout expires, or the surrounding
// context is cancelled.
type TaskRunner struct {
	pollInterval   time.Duration
	defaultTimeout time.Duration
	metrics        *telemetry.Metrics
}

// RunnerOption configures a TaskRunner.
type RunnerOption func(*TaskRunner)

// WithPollInterval overrides the inter-poll suspension time.
func WithPollInterval(interval time.Duration) RunnerOption {
	return func(tr *TaskRunner) {
		if interval > 0 {
			tr.pollInterval = interval
		}
	}
}

// WithDefaultTimeout overrides the fallback action timeout.
func WithDefaultTimeout(timeout time.Duration) RunnerOption {
	return func(tr *TaskRunner) {
		if timeout > 0 {
			tr.defaultTimeout = timeout
		}
	}
}

// WithMetrics attaches a metrics collector to the runner.
func WithMetrics(metrics *telemetry.Metrics) RunnerOption {
	return func(tr *TaskRunner) { tr.metrics = metrics }
}

// NewTaskRunner creates a runner with the given options.
func NewTaskRunner(opts ...RunnerOption) *TaskRunner {
	tr := &TaskRunner{
		pollInterval:   DefaultPollInterval,
		defaultTimeout: DefaultActionTimeout,
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

// Run executes the task and resolves the resource to a terminal state. It
// returns nil on success and a *LifecycleError on failure; in either case
// the resource is never left at IN_PROGRESS. A timeout of zero or less
// falls back to the runner's default.
func (tr *TaskRunner) Run(ctx context.Context, task *Task, timeout time.Duration) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}

	r := task.resource
	defer r.clearInFlight()

	if timeout <= 0 {
		timeout = tr.defaultTimeout
	}

	log := telemetry.FromContext(ctx).
		WithResource(r.name).
		WithField("action", string(task.action)).
		WithField("task_id", task.ID)

	start := time.Now()
	log.Debugf("starting %s", task.action.Verb())
	if tr.metrics != nil {
		tr.metrics.RecordActionStarted(r.typeName, string(task.action))
	}

	err := tr.run(ctx, task, timeout, start, log)

	if tr.metrics != nil {
		status := string(StatusComplete)
		if err != nil {
			status = string(StatusFailed)
		}
		tr.metrics.RecordActionCompleted(r.typeName, string(task.action), status, time.Since(start))
		if err != nil {
			var lerr *LifecycleError
			if errors.As(err, &lerr) {
				tr.metrics.RecordError(string(lerr.Kind))
			}
		}
	}
	return err
}

func (tr *TaskRunner) run(ctx context.Context, task *Task, timeout time.Duration, start time.Time, log *telemetry.Logger) error {
	r := task.resource

	// Step 1: the single mutating backend call. Transport faults propagate
	// unchanged as the action's failure; the runner never retries them.
	done, err := task.mutate(ctx)
	if err != nil {
		return tr.fail(ctx, task, asLifecycleError(err), log)
	}
	if done {
		r.setState(context.WithoutCancel(ctx), task.action, StatusComplete, "")
		log.Infof("%s complete, remote already gone", task.action.Verb())
		return nil
	}

	// Step 2: poll until terminal, suspending between probes.
	for {
		if elapsed := time.Since(start); elapsed > timeout {
			return tr.fail(ctx, task, NewTimeout(task.action, r.name, timeout.String()), log)
		}

		result, probeErr := r.client.ProbeStatus(ctx, r.Identity())
		task.probes++
		if tr.metrics != nil {
			tr.metrics.RecordProbe(r.typeName)
		}

		if probeErr != nil {
			if errors.Is(probeErr, ErrRemoteGone) && task.action == ActionDelete {
				r.setState(context.WithoutCancel(ctx), ActionDelete, StatusComplete, "")
				log.Info("delete complete, remote already gone")
				return nil
			}
			return tr.fail(ctx, task, NewTransportError(probeErr), log)
		}

		switch result.ClassifyFor(task.action) {
		case PollComplete:
			r.setState(context.WithoutCancel(ctx), task.action, StatusComplete, "")
			log.Infof("%s complete after %d probes", task.action.Verb(), task.probes)
			return nil

		case PollFailed:
			return tr.fail(ctx, task, NewResourceInError(result.Status, result.Reason), log)

		case PollUnknown:
			return tr.fail(ctx, task, NewResourceUnknownStatus(result.Status), log)
		}

		log.Debugf("still %s, waiting %s", result.Status, tr.pollInterval)

		// Cooperative suspension point: cancellation is honored here and
		// never mid-probe.
		select {
		case <-time.After(tr.pollInterval):
		case <-ctx.Done():
			return tr.cancel(task, log)
		}
	}
}

// cancel resolves a cooperatively cancelled task. One final best-effort
// probe acknowledges the remote side before the operation is abandoned.
func (tr *TaskRunner) cancel(task *Task, log *telemetry.Logger) error {
	r := task.resource

	probeCtx, release := context.WithTimeout(context.Background(), tr.pollInterval)
	defer release()
	if result, err := r.client.ProbeStatus(probeCtx, r.Identity()); err == nil {
		task.probes++
		log.Warnf("cancelled while remote status was %s", result.Status)
	} else {
		log.Warn("cancelled, final probe failed")
	}

	cerr := NewCancelled(task.action, r.name)
	r.setState(context.Background(), task.action, StatusFailed, cerr.Message)
	return cerr
}

// fail marks the resource FAILED and returns the error with full context.
func (tr *TaskRunner) fail(ctx context.Context, task *Task, err *LifecycleError, log *telemetry.Logger) error {
	r := task.resource
	err = err.WithResource(r.name).WithAction(task.action)

	r.setState(context.WithoutCancel(ctx), task.action, StatusFailed, err.Message)
	log.WithError(err).Errorf("%s failed", task.action.Verb())
	return err
}

// asLifecycleError coerces an arbitrary error into a LifecycleError,
// defaulting to a transport failure.
func asLifecycleError(err error) *LifecycleError {
	var lerr *LifecycleError
	if errors.As(err, &lerr) {
		return lerr
	}
	return NewTransportError(err)
}
