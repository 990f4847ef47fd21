package engine

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func buildGraph(t *testing.T, edges map[string][]string) (*Graph, map[string]*fakeClient) {
	t.Helper()
	g := NewGraph()
	clients := make(map[string]*fakeClient)
	for name, deps := range edges {
		client := newFakeClient("id-" + name).succeedsAfter(ActionCreate, 1)
		clients[name] = client
		if err := g.Add(NewResource(name, "test.server", client, nil), deps...); err != nil {
			t.Fatalf("add %s failed: %v", name, err)
		}
	}
	return g, clients
}

func TestGraphLevels(t *testing.T) {
	g, _ := buildGraph(t, map[string][]string{
		"network": nil,
		"volume":  nil,
		"server":  {"network", "volume"},
		"dns":     {"server"},
	})

	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("levels failed: %v", err)
	}

	want := [][]string{
		{"network", "volume"},
		{"server"},
		{"dns"},
	}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("levels = %v, want %v", levels, want)
	}
}

func TestGraphRejectsDuplicates(t *testing.T) {
	g := NewGraph()
	if err := g.Add(NewResource("server", "test.server", newFakeClient("id"), nil)); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(NewResource("server", "test.server", newFakeClient("id"), nil)); err == nil {
		t.Error("expected error adding the same name twice")
	}
}

func TestGraphRejectsDanglingDependency(t *testing.T) {
	g, _ := buildGraph(t, map[string][]string{
		"server": {"network"},
	})
	if _, err := g.Levels(); err == nil || !strings.Contains(err.Error(), "network") {
		t.Errorf("expected dangling dependency error naming network, got %v", err)
	}
}

func TestGraphDetectsCycles(t *testing.T) {
	g, _ := buildGraph(t, map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	})

	_, err := g.Levels()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	// The error names the full cycle path
	for _, name := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("cycle error should mention %s: %v", name, err)
		}
	}
}

func TestGraphRunCreateOrder(t *testing.T) {
	g, _ := buildGraph(t, map[string][]string{
		"network": nil,
		"server":  {"network"},
		"dns":     {"server"},
	})

	var mu sync.Mutex
	var order []string
	sink := sinkFunc(func(event LifecycleEvent) {
		if event.Status == StatusComplete {
			mu.Lock()
			order = append(order, event.Resource)
			mu.Unlock()
		}
	})

	s := NewScheduler(4, testRunner(), WithEventSink(sink))
	if err := g.Run(context.Background(), s, ActionCreate); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	s.Wait()

	want := []string{"network", "server", "dns"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("completion order = %v, want %v", order, want)
	}
}

func TestGraphRunDeleteReversesOrder(t *testing.T) {
	g := NewGraph()
	var mu sync.Mutex
	var order []string

	for name, deps := range map[string][]string{
		"network": nil,
		"server":  {"network"},
	} {
		client := newFakeClient("id-" + name).succeedsAfter(ActionDelete, 1)
		r := NewResource(name, "test.server", client, nil)
		if err := r.bindIdentity("id-" + name); err != nil {
			t.Fatal(err)
		}
		if err := g.Add(r, deps...); err != nil {
			t.Fatal(err)
		}
	}

	sink := sinkFunc(func(event LifecycleEvent) {
		if event.Status == StatusComplete {
			mu.Lock()
			order = append(order, event.Resource)
			mu.Unlock()
		}
	})
	s := NewScheduler(4, testRunner(), WithEventSink(sink))
	if err := g.Run(context.Background(), s, ActionDelete); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	s.Wait()

	want := []string{"server", "network"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("completion order = %v, want %v", order, want)
	}
}

func TestGraphRunStopsAfterFailedLevel(t *testing.T) {
	g := NewGraph()

	networkClient := newFakeClient("id-network")
	networkClient.probeScript = []probeReply{
		{result: PollResult{Status: "CREATE_FAILED", Reason: "quota exceeded"}},
	}
	if err := g.Add(NewResource("network", "test.server", networkClient, nil)); err != nil {
		t.Fatal(err)
	}

	serverClient := newFakeClient("id-server").succeedsAfter(ActionCreate, 1)
	if err := g.Add(NewResource("server", "test.server", serverClient, nil), "network"); err != nil {
		t.Fatal(err)
	}

	s := NewScheduler(4, testRunner())
	err := g.Run(context.Background(), s, ActionCreate)
	if !IsResourceInError(err) {
		t.Fatalf("expected ResourceInError, got %v", err)
	}
	s.Wait()

	// The dependent level never started
	if serverClient.mutateCount() != 0 {
		t.Errorf("dependent resource made backend calls: %v", serverClient.calls)
	}
}

func TestGraphDOT(t *testing.T) {
	g, _ := buildGraph(t, map[string][]string{
		"network": nil,
		"server":  {"network"},
	})

	dot, err := g.DOT()
	if err != nil {
		t.Fatalf("dot failed: %v", err)
	}
	for _, want := range []string{"digraph resources", `"network" -> "server"`, "cluster_level_0", "cluster_level_1"} {
		if !strings.Contains(dot, want) {
			t.Errorf("missing %q in DOT output:\n%s", want, dot)
		}
	}
}

// sinkFunc adapts a function to the EventSink interface.
type sinkFunc func(event LifecycleEvent)

func (f sinkFunc) Publish(event LifecycleEvent) { f(event) }
