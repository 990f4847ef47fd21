package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kilnproject/kiln/pkg/telemetry"
)

func testRunner() *TaskRunner {
	return NewTaskRunner(WithPollInterval(time.Millisecond))
}

// performTask is a test helper that creates the task for an action,
// failing the test on precondition errors.
func performTask(t *testing.T, r *Resource, action Action, opts ...PerformOption) *Task {
	t.Helper()
	task, err := r.Perform(context.Background(), action, opts...)
	if err != nil {
		t.Fatalf("perform %s failed: %v", action, err)
	}
	return task
}

func TestRunCreateRoundTrip(t *testing.T) {
	client := newFakeClient("srv-1").succeedsAfter(ActionCreate, 2)
	r := NewResource("web-server", "test.server", client, map[string]interface{}{"flavor": "small"})

	task := performTask(t, r, ActionCreate)
	if err := testRunner().Run(context.Background(), task, 0); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if state := r.State(); state.String() != "CREATE_COMPLETE" {
		t.Errorf("expected CREATE_COMPLETE, got %s", state)
	}
	if r.Identity() != "srv-1" {
		t.Errorf("identity not bound: %q", r.Identity())
	}
	// One in-progress observation plus the terminal one
	if task.Probes() != 2 {
		t.Errorf("expected 2 probes, got %d", task.Probes())
	}
	if client.callCount("create") != 1 {
		t.Errorf("expected exactly 1 create call, got %d", client.callCount("create"))
	}
}

func TestRunSuspendRemoteFailure(t *testing.T) {
	client := newFakeClient("srv-1")
	client.probeScript = []probeReply{
		{result: PollResult{Status: "SUSPEND_IN_PROGRESS"}},
		{result: PollResult{Status: "SUSPEND_FAILED", Reason: "disk full"}},
	}
	r := NewResource("web-server", "test.server", client, nil)
	if err := r.bindIdentity("srv-1"); err != nil {
		t.Fatal(err)
	}

	task := performTask(t, r, ActionSuspend)
	err := testRunner().Run(context.Background(), task, 0)
	if !IsResourceInError(err) {
		t.Fatalf("expected ResourceInError, got %v", err)
	}

	want := `Went to status SUSPEND_FAILED due to "disk full"`
	lerr := err.(*LifecycleError)
	if lerr.Message != want {
		t.Errorf("message = %q, want %q", lerr.Message, want)
	}

	if state := r.State(); state.String() != "SUSPEND_FAILED" {
		t.Errorf("expected SUSPEND_FAILED, got %s", state)
	}
	if r.FailureReason() != want {
		t.Errorf("failure reason = %q, want %q", r.FailureReason(), want)
	}
}

func TestRunUnknownRemoteStatus(t *testing.T) {
	client := newFakeClient("srv-1")
	client.probeScript = []probeReply{
		{result: PollResult{Status: "BANANA"}},
	}
	r := NewResource("web-server", "test.server", client, nil)
	if err := r.bindIdentity("srv-1"); err != nil {
		t.Fatal(err)
	}

	task := performTask(t, r, ActionResume)
	err := testRunner().Run(context.Background(), task, 0)
	if !IsResourceUnknownStatus(err) {
		t.Fatalf("expected ResourceUnknownStatus, got %v", err)
	}
	if err.(*LifecycleError).Message != "Resource failed - Unknown status BANANA" {
		t.Errorf("unexpected message: %q", err.(*LifecycleError).Message)
	}
	if state := r.State(); state.String() != "RESUME_FAILED" {
		t.Errorf("expected RESUME_FAILED, got %s", state)
	}
	// The first unknown observation resolves the task
	if task.Probes() != 1 {
		t.Errorf("expected 1 probe, got %d", task.Probes())
	}
}

func TestRunDeleteAlreadyGoneAtMutate(t *testing.T) {
	client := newFakeClient("srv-1")
	client.deleteErr = fmt.Errorf("backend says: %w", ErrRemoteGone)
	r := NewResource("web-server", "test.server", client, nil)
	if err := r.bindIdentity("srv-1"); err != nil {
		t.Fatal(err)
	}

	task := performTask(t, r, ActionDelete)
	if err := testRunner().Run(context.Background(), task, 0); err != nil {
		t.Fatalf("delete of absent resource should succeed: %v", err)
	}

	if state := r.State(); state.String() != "DELETE_COMPLETE" {
		t.Errorf("expected DELETE_COMPLETE, got %s", state)
	}
	if task.Probes() != 0 {
		t.Errorf("expected no probes, got %d", task.Probes())
	}
}

func TestRunDeleteGoneDuringPolling(t *testing.T) {
	client := newFakeClient("srv-1")
	client.probeScript = []probeReply{
		{err: fmt.Errorf("fetching status: %w", ErrRemoteGone)},
	}
	r := NewResource("web-server", "test.server", client, nil)
	if err := r.bindIdentity("srv-1"); err != nil {
		t.Fatal(err)
	}

	task := performTask(t, r, ActionDelete)
	if err := testRunner().Run(context.Background(), task, 0); err != nil {
		t.Fatalf("delete should tolerate disappearance mid-poll: %v", err)
	}
	if state := r.State(); state.String() != "DELETE_COMPLETE" {
		t.Errorf("expected DELETE_COMPLETE, got %s", state)
	}
}

func TestRunNonDeleteGoneDuringPollingFails(t *testing.T) {
	client := newFakeClient("srv-1")
	client.probeScript = []probeReply{
		{err: fmt.Errorf("fetching status: %w", ErrRemoteGone)},
	}
	r := NewResource("web-server", "test.server", client, nil)

	task := performTask(t, r, ActionCreate)
	err := testRunner().Run(context.Background(), task, 0)
	if !IsTransportError(err) {
		t.Fatalf("only delete tolerates a vanished remote, got %v", err)
	}
	if state := r.State(); state.String() != "CREATE_FAILED" {
		t.Errorf("expected CREATE_FAILED, got %s", state)
	}
}

func TestRunMutateTransportFailure(t *testing.T) {
	client := newFakeClient("srv-1")
	client.createErr = errors.New("connection refused")
	r := NewResource("web-server", "test.server", client, nil)

	task := performTask(t, r, ActionCreate)
	err := testRunner().Run(context.Background(), task, 0)
	if !IsTransportError(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}

	if state := r.State(); state.String() != "CREATE_FAILED" {
		t.Errorf("expected CREATE_FAILED, got %s", state)
	}
	// The runner never retries the mutating call
	if client.callCount("create") != 1 {
		t.Errorf("expected exactly 1 create call, got %d", client.callCount("create"))
	}
	if task.Probes() != 0 {
		t.Errorf("expected no probes after mutate failure, got %d", task.Probes())
	}
}

func TestRunTimeout(t *testing.T) {
	client := newFakeClient("srv-1").inProgressForever(ActionCreate)
	r := NewResource("web-server", "test.server", client, nil)

	task := performTask(t, r, ActionCreate)
	err := testRunner().Run(context.Background(), task, time.Nanosecond)
	if !IsTimeout(err) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if state := r.State(); state.String() != "CREATE_FAILED" {
		t.Errorf("expected CREATE_FAILED, got %s", state)
	}
}

func TestRunCancellation(t *testing.T) {
	client := newFakeClient("srv-1").inProgressForever(ActionCreate)
	r := NewResource("web-server", "test.server", client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := performTask(t, r, ActionCreate)
	// A long poll interval makes the cancelled context win the suspension
	// point deterministically.
	runner := NewTaskRunner(WithPollInterval(time.Minute))
	err := runner.Run(ctx, task, 0)
	if !IsCancelled(err) {
		t.Fatalf("expected Cancelled, got %v", err)
	}

	// Never left IN_PROGRESS
	if state := r.State(); state.String() != "CREATE_FAILED" {
		t.Errorf("expected CREATE_FAILED, got %s", state)
	}
	// One loop probe plus the final best-effort probe
	if task.Probes() != 2 {
		t.Errorf("expected 2 probes, got %d", task.Probes())
	}
	if client.callCount("create") != 1 {
		t.Errorf("expected exactly 1 create call, got %d", client.callCount("create"))
	}
}

func TestRunReleasesInFlightSlot(t *testing.T) {
	client := newFakeClient("srv-1").succeedsAfter(ActionCreate, 1)
	r := NewResource("web-server", "test.server", client, nil)

	task := performTask(t, r, ActionCreate)
	if err := testRunner().Run(context.Background(), task, 0); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// The next action can start immediately
	client.succeedsAfter(ActionSuspend, 1)
	client.probeIndex = 0
	task = performTask(t, r, ActionSuspend)
	if err := testRunner().Run(context.Background(), task, 0); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if state := r.State(); state.String() != "SUSPEND_COMPLETE" {
		t.Errorf("expected SUSPEND_COMPLETE, got %s", state)
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:   true,
		Namespace: "kiln",
	})
	if err != nil {
		t.Fatalf("metrics setup failed: %v", err)
	}
	runner := NewTaskRunner(WithPollInterval(time.Millisecond), WithMetrics(metrics))

	// One successful create with two probes
	client := newFakeClient("srv-1").succeedsAfter(ActionCreate, 2)
	r := NewResource("web-server", "test.server", client, nil)
	if err := runner.Run(context.Background(), performTask(t, r, ActionCreate), 0); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// One create failing at the mutating call
	failing := newFakeClient("srv-2")
	failing.createErr = errors.New("connection refused")
	r2 := NewResource("db-server", "test.server", failing, nil)
	if err := runner.Run(context.Background(), performTask(t, r2, ActionCreate), 0); !IsTransportError(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`kiln_actions_started_total{action="CREATE",resource_type="test.server"} 2`,
		`kiln_actions_completed_total{action="CREATE",resource_type="test.server",status="COMPLETE"} 1`,
		`kiln_actions_completed_total{action="CREATE",resource_type="test.server",status="FAILED"} 1`,
		`kiln_status_probes_total{resource_type="test.server"} 2`,
		`kiln_errors_total{kind="TransportError"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics endpoint missing %q", want)
		}
	}
}

func TestRunPersistsTerminalState(t *testing.T) {
	store := &fakeStore{}
	client := newFakeClient("srv-1").succeedsAfter(ActionCreate, 2)
	r := NewResource("web-server", "test.server", client, nil, WithStateStore(store))

	task := performTask(t, r, ActionCreate)
	if err := testRunner().Run(context.Background(), task, 0); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	record, ok := store.lastRecord()
	if !ok {
		t.Fatal("expected persisted records")
	}
	if record.Action != ActionCreate || record.Status != StatusComplete {
		t.Errorf("last record should be the terminal state, got %+v", record)
	}
	if record.Identity != "srv-1" {
		t.Errorf("terminal record should carry the identity, got %q", record.Identity)
	}
}
