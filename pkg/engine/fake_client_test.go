package engine

import (
	"context"
	"sync"
)

// probeReply scripts one ProbeStatus answer.
type probeReply struct {
	result PollResult
	err    error
}

// fakeClient is a scriptable RemoteClient that records every call. The
// probe script is consumed in order; the last reply repeats once the
// script runs out.
type fakeClient struct {
	mu sync.Mutex

	identity string
	attrs    map[string]interface{}

	createErr  error
	updateErr  error
	deleteErr  error
	suspendErr error
	resumeErr  error
	showErr    error

	probeScript []probeReply
	probeIndex  int

	calls []string
}

func newFakeClient(identity string) *fakeClient {
	return &fakeClient{identity: identity}
}

func (c *fakeClient) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

// callCount returns how many times the named call was recorded.
func (c *fakeClient) callCount(call string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, recorded := range c.calls {
		if recorded == call {
			n++
		}
	}
	return n
}

// mutateCount returns how many mutating backend calls were recorded.
func (c *fakeClient) mutateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, recorded := range c.calls {
		switch recorded {
		case "create", "update", "delete", "suspend", "resume":
			n++
		}
	}
	return n
}

func (c *fakeClient) CreateRemote(ctx context.Context, properties map[string]interface{}) (string, error) {
	c.record("create")
	if c.createErr != nil {
		return "", c.createErr
	}
	return c.identity, nil
}

func (c *fakeClient) UpdateRemote(ctx context.Context, identity string, diff PropertyDiff) error {
	c.record("update")
	return c.updateErr
}

func (c *fakeClient) DeleteRemote(ctx context.Context, identity string) error {
	c.record("delete")
	return c.deleteErr
}

func (c *fakeClient) SuspendRemote(ctx context.Context, identity string) error {
	c.record("suspend")
	return c.suspendErr
}

func (c *fakeClient) ResumeRemote(ctx context.Context, identity string) error {
	c.record("resume")
	return c.resumeErr
}

func (c *fakeClient) ProbeStatus(ctx context.Context, identity string) (PollResult, error) {
	c.record("probe")

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.probeScript) == 0 {
		return PollResult{}, nil
	}
	reply := c.probeScript[c.probeIndex]
	if c.probeIndex < len(c.probeScript)-1 {
		c.probeIndex++
	}
	return reply.result, reply.err
}

func (c *fakeClient) ShowAttributes(ctx context.Context, identity string) (map[string]interface{}, error) {
	c.record("show")
	if c.showErr != nil {
		return nil, c.showErr
	}
	return c.attrs, nil
}

// inProgressForever scripts a client that never reaches a terminal
// status for the given action.
func (c *fakeClient) inProgressForever(action Action) *fakeClient {
	c.probeScript = []probeReply{
		{result: PollResult{Status: string(action) + "_IN_PROGRESS"}},
	}
	return c
}

// succeedsAfter scripts n-1 in-progress probes followed by the action's
// terminal success status.
func (c *fakeClient) succeedsAfter(action Action, n int) *fakeClient {
	var script []probeReply
	for i := 0; i < n-1; i++ {
		script = append(script, probeReply{result: PollResult{Status: string(action) + "_IN_PROGRESS"}})
	}
	script = append(script, probeReply{result: PollResult{Status: string(action) + "_COMPLETE"}})
	c.probeScript = script
	return c
}

// fakeStore is an in-memory StateStore that records every write.
type fakeStore struct {
	mu      sync.Mutex
	records []ResourceRecord
	events  []LifecycleEvent
}

func (s *fakeStore) SaveResourceState(ctx context.Context, record *ResourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *record)
	return nil
}

func (s *fakeStore) AppendEvent(ctx context.Context, event *LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *fakeStore) lastRecord() (ResourceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return ResourceRecord{}, false
	}
	return s.records[len(s.records)-1], true
}

// fakeSink collects published lifecycle events.
type fakeSink struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (s *fakeSink) Publish(event LifecycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSink) all() []LifecycleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LifecycleEvent, len(s.events))
	copy(out, s.events)
	return out
}
