package orchestrator

import (
	"testing"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/model"
)

func resolverTestLab() *model.Lab {
	return &model.Lab{
		Runs: map[model.RunId]model.Run{
			"run-a":           {Jobs: []model.JobId{"job-a1", "job-a2"}},
			"run-b-ambiguous": {Jobs: []model.JobId{"job-b1", "job-b2"}},
		},
		Jobs: map[model.JobId]model.Job{
			"job-a1":            testJob(),
			"job-a2":            testJob("job-a1"),
			"job-b1":            testJob(),
			"job-b2":            testJob(),
			"12345-unique-name": testJob(),
			"multi-abc-1":       testJob(),
			"multi-def-2":       testJob(),
		},
	}
}

func TestResolveRunDirectRunIdResolvesToItsLeaf(t *testing.T) {
	finals, err := ResolveRun(resolverTestLab(), "run-a")
	if err != nil {
		t.Fatalf("ResolveRun: %v", err)
	}
	if len(finals) != 1 || finals[0] != "job-a2" {
		t.Errorf("finals = %v, want [job-a2]", finals)
	}
}

func TestResolveRunWithMultipleLeavesReturnsAll(t *testing.T) {
	finals, err := ResolveRun(resolverTestLab(), "run-b-ambiguous")
	if err != nil {
		t.Fatalf("ResolveRun: %v", err)
	}
	if len(finals) != 2 {
		t.Errorf("len(finals) = %d, want 2 (neither job-b1 nor job-b2 depends on the other)", len(finals))
	}
}

func TestResolveRunFullJobId(t *testing.T) {
	finals, err := ResolveRun(resolverTestLab(), "12345-unique-name")
	if err != nil {
		t.Fatalf("ResolveRun: %v", err)
	}
	if len(finals) != 1 || finals[0] != "12345-unique-name" {
		t.Errorf("finals = %v, want [12345-unique-name]", finals)
	}
}

func TestResolveRunUniqueJobIdPrefix(t *testing.T) {
	finals, err := ResolveRun(resolverTestLab(), "12345")
	if err != nil {
		t.Fatalf("ResolveRun: %v", err)
	}
	if len(finals) != 1 || finals[0] != "12345-unique-name" {
		t.Errorf("finals = %v, want [12345-unique-name]", finals)
	}
}

func TestResolveRunAmbiguousJobIdPrefix(t *testing.T) {
	_, err := ResolveRun(resolverTestLab(), "multi")
	if err == nil {
		t.Fatal("ResolveRun should error on an ambiguous job id prefix")
	}
	if kind, ok := apperror.Of(err); !ok || kind != apperror.KindConfig {
		t.Errorf("apperror.Of(err) = %v, %v, want KindConfig, true", kind, ok)
	}
}

func TestResolveRunNotFound(t *testing.T) {
	if _, err := ResolveRun(resolverTestLab(), "does-not-exist"); err == nil {
		t.Fatal("ResolveRun should error when input names neither a run nor a job")
	}
}
