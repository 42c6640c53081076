// Package dependency implements the §4.1 dependency resolution: graph
// construction, depth-first cycle detection naming the offending
// path, topological sort (leaves first), and semver constraint
// checking via Masterminds/semver.
package dependency

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/conduit-bus/conduit/internal/buserrors"
	"github.com/conduit-bus/conduit/internal/lifecycle"
)

// Node is one component in the resolution graph.
type Node struct {
	Manifest lifecycle.Manifest
}

// Graph is a directed "A requires B" dependency graph built from a set
// of manifests.
type Graph struct {
	nodes map[string]Node
	edges map[string][]string // id -> dependency ids it requires
}

// Build constructs a Graph from manifests. An edge A->B is added for
// every declared Dependency, whether or not B is present among
// manifests (missing targets are reported by CheckMissing).
func Build(manifests []lifecycle.Manifest) *Graph {
	g := &Graph{nodes: make(map[string]Node), edges: make(map[string][]string)}
	for _, m := range manifests {
		g.nodes[m.ID] = Node{Manifest: m}
		for _, dep := range m.Dependencies {
			g.edges[m.ID] = append(g.edges[m.ID], dep.ID)
		}
	}
	return g
}

// CheckMissing reports non-optional dependencies whose target id is
// not present in the graph.
func (g *Graph) CheckMissing() []error {
	var errs []error
	for id, node := range g.nodes {
		for _, dep := range node.Manifest.Dependencies {
			if _, ok := g.nodes[dep.ID]; !ok && !dep.Optional {
				errs = append(errs, fmt.Errorf("%w: %s requires %s", buserrors.ErrDependencyMissing, id, dep.ID))
			}
		}
	}
	return errs
}

// CheckVersionConstraints validates every declared semver constraint
// against the target's declared version.
func (g *Graph) CheckVersionConstraints() []error {
	var errs []error
	for id, node := range g.nodes {
		for _, dep := range node.Manifest.Dependencies {
			target, ok := g.nodes[dep.ID]
			if !ok || dep.Constraint == "" {
				continue
			}
			constraint, err := semver.NewConstraint(dep.Constraint)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid constraint %q for %s: %w", id, dep.Constraint, dep.ID, err))
				continue
			}
			version, err := semver.NewVersion(target.Manifest.Version)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid version %q for %s: %w", id, target.Manifest.Version, dep.ID, err))
				continue
			}
			if !constraint.Check(version) {
				errs = append(errs, fmt.Errorf("%s: %s@%s does not satisfy constraint %q", id, dep.ID, target.Manifest.Version, dep.Constraint))
			}
		}
	}
	return errs
}

type cycleError struct {
	path []string
}

func (e *cycleError) Error() string {
	return fmt.Sprintf("%s: %s", buserrors.ErrDependencyCycle, strings.Join(e.path, " -> "))
}

func (e *cycleError) Unwrap() error { return buserrors.ErrDependencyCycle }

// visitState tracks a node's DFS status: unvisited, on the current
// traversal stack, or fully processed.
type visitState int

const (
	unvisited visitState = iota
	onStack
	done
)

// DetectCycle performs depth-first search recording the current
// traversal stack; if an edge reaches a node already on the stack,
// resolution fails with the cycle path.
func (g *Graph) DetectCycle() error {
	state := make(map[string]visitState, len(g.nodes))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		state[id] = onStack
		stack = append(stack, id)

		for _, dep := range g.edges[id] {
			switch state[dep] {
			case onStack:
				cyclePath := append(append([]string{}, stack...), dep)
				return &cycleError{path: cyclePath}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for id := range g.nodes {
		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalSort returns component ids in dependency order (leaves
// first) via DFS post-order. Callers must run DetectCycle first; the
// behavior on a cyclic graph is undefined.
func (g *Graph) TopologicalSort() []string {
	visited := make(map[string]bool, len(g.nodes))
	var order []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.edges[id] {
			if _, ok := g.nodes[dep]; ok {
				visit(dep)
			}
		}
		order = append(order, id)
	}

	for id := range g.nodes {
		visit(id)
	}
	return order
}
