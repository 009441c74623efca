package orchestrator

import (
	"fmt"

	"github.com/repx-run/repx/internal/model"
)

// node is one job's position in the dependency graph: DependsOn drives
// promotion checks, Blocks drives failure propagation, and Depth is the
// topological level Kahn's algorithm assigns it.
type node struct {
	id        model.JobId
	dependsOn []model.JobId
	blocks    []model.JobId
	depth     int
}

// graph is the transitive closure of dependencies reachable from a set
// of root job ids.
type graph struct {
	nodes map[model.JobId]*node
	order []model.JobId // insertion (discovery) order, the tie-break within a depth
}

// buildGraph walks Job.AllDependencies() from roots, wires the reverse
// (Blocks) edges needed for failure propagation, and assigns topological
// depths. Jobs outside the closure are neither visited nor touched.
func buildGraph(lab *model.Lab, roots []model.JobId) (*graph, error) {
	g := &graph{nodes: make(map[model.JobId]*node)}
	visited := make(map[model.JobId]bool)

	var visit func(id model.JobId) error
	visit = func(id model.JobId) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		job, ok := lab.Jobs[id]
		if !ok {
			return fmt.Errorf("job %q is referenced but not defined in the lab", id)
		}
		deps := job.AllDependencies()
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		g.nodes[id] = &node{id: id, dependsOn: deps}
		g.order = append(g.order, id)
		return nil
	}

	for _, root := range roots {
		if err := visit(root); err != nil {
			return nil, err
		}
	}
	for id, n := range g.nodes {
		for _, dep := range n.dependsOn {
			if depNode, ok := g.nodes[dep]; ok {
				depNode.blocks = append(depNode.blocks, id)
			}
		}
	}
	if err := assignDepths(g); err != nil {
		return nil, err
	}
	return g, nil
}

// assignDepths runs Kahn's algorithm over g, grouping jobs that can run
// in the same wave into the same depth — the mechanism behind the ready
// queue's "topological depth ascending" tie-break rule.
func assignDepths(g *graph) error {
	inDegree := make(map[model.JobId]int, len(g.nodes))
	for id, n := range g.nodes {
		inDegree[id] = len(n.dependsOn)
	}

	var queue []model.JobId
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	depth := 0
	for len(queue) > 0 {
		var next []model.JobId
		for _, id := range queue {
			g.nodes[id].depth = depth
			processed++
			for _, blockedID := range g.nodes[id].blocks {
				inDegree[blockedID]--
				if inDegree[blockedID] == 0 {
					next = append(next, blockedID)
				}
			}
		}
		queue = next
		depth++
	}

	if processed != len(g.nodes) {
		return fmt.Errorf("cycle detected in job dependency graph")
	}
	return nil
}
