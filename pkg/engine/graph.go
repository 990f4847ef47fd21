package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Graph orders lifecycle actions across a set of resources by their
// declared dependencies. Forward actions (create, update, resume) run
// dependency-first, level by level; delete and suspend walk the levels in
// reverse so dependents resolve before the resources they rely on.
//
// Resources within one level have no ordering constraints between them and
// are submitted to the scheduler together.
type Graph struct {
	resources  map[string]*Resource
	dependsOn  map[string][]string
	dependents map[string][]string
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		resources:  make(map[string]*Resource),
		dependsOn:  make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// Add registers a resource and the names of the resources it depends on.
// Dependencies may name resources added later; they are resolved when the
// graph is levelled. Adding the same resource twice is an error.
func (g *Graph) Add(r *Resource, dependsOn ...string) error {
	name := r.Name()
	if name == "" {
		return fmt.Errorf("resource has empty name")
	}
	if _, exists := g.resources[name]; exists {
		return fmt.Errorf("resource %s already in graph", name)
	}

	g.resources[name] = r
	g.dependsOn[name] = append([]string(nil), dependsOn...)
	return nil
}

// Levels resolves the graph into execution levels: every resource in level
// n depends only on resources in levels below n. It fails on dangling
// dependencies and on cycles, naming the offending path.
func (g *Graph) Levels() ([][]string, error) {
	inDegree := make(map[string]int, len(g.resources))
	g.dependents = make(map[string][]string, len(g.resources))

	for name, deps := range g.dependsOn {
		inDegree[name] = len(deps)
		for _, dep := range deps {
			if _, exists := g.resources[dep]; !exists {
				return nil, fmt.Errorf("resource %s depends on unknown resource %s", name, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		return nil, fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	// Kahn's algorithm, peeling one level per pass.
	var levels [][]string
	current := make([]string, 0)
	for name, degree := range inDegree {
		if degree == 0 {
			current = append(current, name)
		}
	}

	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)

		next := make([]string, 0)
		for _, name := range current {
			for _, dependent := range g.dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	return levels, nil
}

// findCycle runs a depth-first search over the dependency edges and
// returns the first cycle found as a name path, or nil.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[string]int, len(g.resources))

	var path []string
	var visit func(name string) []string
	visit = func(name string) []string {
		state[name] = inStack
		path = append(path, name)

		for _, dep := range g.dependsOn[name] {
			switch state[dep] {
			case inStack:
				for i, n := range path {
					if n == dep {
						return append(path[i:len(path):len(path)], dep)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		state[name] = done
		return nil
	}

	names := make([]string, 0, len(g.resources))
	for name := range g.resources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if state[name] == unvisited {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Run performs one action on every resource in the graph, a level at a
// time. A failure anywhere in a level stops the walk before the next level
// starts; failures within the level are collected and returned together.
func (g *Graph) Run(ctx context.Context, s *Scheduler, action Action) error {
	levels, err := g.Levels()
	if err != nil {
		return err
	}

	// Tearing down walks the graph from the leaves.
	if action == ActionDelete || action == ActionSuspend {
		for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
			levels[i], levels[j] = levels[j], levels[i]
		}
	}

	for _, level := range levels {
		var errs []error
		var handles []*TaskHandle

		for _, name := range level {
			h, err := s.Submit(ctx, g.resources[name], action)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			handles = append(handles, h)
		}
		for _, h := range handles {
			if err := h.Wait(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", h.Resource, err))
			}
		}

		if len(errs) > 0 {
			return errors.Join(errs...)
		}
	}
	return nil
}

// DOT renders the graph in Graphviz format, one dashed cluster per
// execution level.
func (g *Graph) DOT() (string, error) {
	levels, err := g.Levels()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("digraph resources {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for i, level := range levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", i)
		fmt.Fprintf(&sb, "    label=\"level %d\";\n", i)
		sb.WriteString("    style=dashed;\n")
		for _, name := range level {
			fmt.Fprintf(&sb, "    %q [label=\"%s\\n%s\"];\n", name, name, g.resources[name].Type())
		}
		sb.WriteString("  }\n\n")
	}

	names := make([]string, 0, len(g.dependsOn))
	for name := range g.dependsOn {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, dep := range g.dependsOn[name] {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, name)
		}
	}

	sb.WriteString("}\n")
	return sb.String(), nil
}
