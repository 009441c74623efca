package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/repx-run/repx/internal/model"
)

const sampleResourcesToml = `
[defaults]
partition = "general"
cpus-per-task = 4
mem = "8G"
time = "01:00:00"

[[rules]]
job_id_glob = "gpu-*"
partition = "gpu"
mem = "32G"

[[rules]]
job_id_glob = "preprocess-**"
time = "00:15:00"
`

func writeResourcesFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "resources.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveForJobAppliesDefaultsWhenNoRuleMatches(t *testing.T) {
	path := writeResourcesFile(t, sampleResourcesToml)
	res, err := LoadResources(path)
	if err != nil {
		t.Fatalf("LoadResources: %v", err)
	}

	hints := res.ResolveForJob(model.JobId("train-model"))
	if hints.Partition != "general" || hints.Mem != "8G" || hints.Walltime != "01:00:00" {
		t.Errorf("hints = %+v, want defaults unmodified", hints)
	}
}

func TestResolveForJobFirstMatchingRuleWins(t *testing.T) {
	path := writeResourcesFile(t, sampleResourcesToml)
	res, err := LoadResources(path)
	if err != nil {
		t.Fatalf("LoadResources: %v", err)
	}

	hints := res.ResolveForJob(model.JobId("gpu-train-1"))
	if hints.Partition != "gpu" {
		t.Errorf("Partition = %q, want gpu", hints.Partition)
	}
	if hints.Mem != "32G" {
		t.Errorf("Mem = %q, want 32G (from rule)", hints.Mem)
	}
	// Time isn't set by the gpu-* rule, so it should fall back to defaults.
	if hints.Walltime != "01:00:00" {
		t.Errorf("Walltime = %q, want default 01:00:00", hints.Walltime)
	}
}

func TestResolveForJobDoubleStarGlob(t *testing.T) {
	path := writeResourcesFile(t, sampleResourcesToml)
	res, err := LoadResources(path)
	if err != nil {
		t.Fatalf("LoadResources: %v", err)
	}

	hints := res.ResolveForJob(model.JobId("preprocess-stage/shard-03"))
	if hints.Walltime != "00:15:00" {
		t.Errorf("Walltime = %q, want 00:15:00 from preprocess-** rule", hints.Walltime)
	}
}

func TestLoadResourcesMissingExplicitPathErrors(t *testing.T) {
	_, err := LoadResources(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatal("LoadResources() with a missing explicit path should error")
	}
}

func TestResolveForJobOnEmptyResourcesReturnsZeroHints(t *testing.T) {
	var res Resources
	hints := res.ResolveForJob(model.JobId("anything"))
	if hints != (model.ResourceHints{}) {
		t.Errorf("hints = %+v, want zero value", hints)
	}
}
