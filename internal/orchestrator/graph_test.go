package orchestrator

import (
	"testing"

	"github.com/repx-run/repx/internal/model"
)

func testJob(deps ...model.JobId) model.Job {
	var inputs []model.InputMapping
	for _, d := range deps {
		inputs = append(inputs, model.InputMapping{JobId: d, SourceOutput: "out", TargetInput: "in"})
	}
	return model.Job{
		Executables: map[string]model.Executable{
			"main": {Path: "bin/run", Inputs: inputs},
		},
	}
}

func chainLab() *model.Lab {
	return &model.Lab{
		Jobs: map[model.JobId]model.Job{
			"a": testJob(),
			"b": testJob("a"),
			"c": testJob("b"),
		},
	}
}

func TestBuildGraphAssignsDepthsAscendingByDependency(t *testing.T) {
	lab := chainLab()
	g, err := buildGraph(lab, []model.JobId{"c"})
	if err != nil {
		t.Fatalf("buildGraph: %v", err)
	}
	if len(g.nodes) != 3 {
		t.Fatalf("len(g.nodes) = %d, want 3", len(g.nodes))
	}
	if g.nodes["a"].depth != 0 {
		t.Errorf("depth(a) = %d, want 0", g.nodes["a"].depth)
	}
	if g.nodes["b"].depth != 1 {
		t.Errorf("depth(b) = %d, want 1", g.nodes["b"].depth)
	}
	if g.nodes["c"].depth != 2 {
		t.Errorf("depth(c) = %d, want 2", g.nodes["c"].depth)
	}
}

func TestBuildGraphOnlyIncludesTransitiveClosure(t *testing.T) {
	lab := chainLab()
	lab.Jobs["unrelated"] = testJob()

	g, err := buildGraph(lab, []model.JobId{"c"})
	if err != nil {
		t.Fatalf("buildGraph: %v", err)
	}
	if _, ok := g.nodes["unrelated"]; ok {
		t.Error("buildGraph should not touch jobs outside the requested closure")
	}
}

func TestBuildGraphMissingDependencyErrors(t *testing.T) {
	lab := &model.Lab{
		Jobs: map[model.JobId]model.Job{
			"a": testJob("ghost"),
		},
	}
	if _, err := buildGraph(lab, []model.JobId{"a"}); err == nil {
		t.Fatal("buildGraph should error when a dependency id is not defined")
	}
}

func TestBuildGraphDetectsCycle(t *testing.T) {
	lab := &model.Lab{
		Jobs: map[model.JobId]model.Job{
			"a": testJob("b"),
			"b": testJob("a"),
		},
	}
	if _, err := buildGraph(lab, []model.JobId{"a"}); err == nil {
		t.Fatal("buildGraph should detect a cycle")
	}
}

func TestBuildGraphWiresBlocksAsReverseOfDependsOn(t *testing.T) {
	lab := chainLab()
	g, err := buildGraph(lab, []model.JobId{"c"})
	if err != nil {
		t.Fatalf("buildGraph: %v", err)
	}
	if len(g.nodes["a"].blocks) != 1 || g.nodes["a"].blocks[0] != "b" {
		t.Errorf("a.blocks = %v, want [b]", g.nodes["a"].blocks)
	}
}
