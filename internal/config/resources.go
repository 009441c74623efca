package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/model"
)

// ResourceDefaults fills any field a matching rule leaves unset.
type ResourceDefaults struct {
	Partition   string `toml:"partition"`
	CPUsPerTask int    `toml:"cpus-per-task"`
	Mem         string `toml:"mem"`
	Time        string `toml:"time"`
}

// ResourceRule overrides ResourceDefaults for jobs whose id matches
// JobIDGlob. First matching rule wins.
type ResourceRule struct {
	JobIDGlob string `toml:"job_id_glob"`
	Partition string `toml:"partition"`
	Mem       string `toml:"mem"`
	Time      string `toml:"time"`
}

// Resources is the decoded form of resources.toml.
type Resources struct {
	Defaults ResourceDefaults `toml:"defaults"`
	Rules    []ResourceRule   `toml:"rules"`
}

// LoadResources reads resources.toml from the first existing path among
// explicitPath, ./resources.toml, ~/.config/repx/resources.toml.
func LoadResources(explicitPath string) (*Resources, error) {
	path := explicitPath
	if path == "" {
		for _, candidate := range resourcesSearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return &Resources{}, nil
	}

	var res Resources
	if _, err := toml.DecodeFile(path, &res); err != nil {
		return nil, apperror.New(apperror.KindConfig, "decode resources.toml", err)
	}
	return &res, nil
}

func resourcesSearchPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "resources.toml"))
	}
	if dir := configDir(); dir != "" {
		paths = append(paths, filepath.Join(dir, "resources.toml"))
	}
	return paths
}

// ResolveForJob applies the first rule whose job_id_glob matches jobID,
// falling back to Defaults for any field the rule leaves blank.
func (r *Resources) ResolveForJob(jobID model.JobId) model.ResourceHints {
	hints := model.ResourceHints{
		Partition: r.Defaults.Partition,
		CPUs:      r.Defaults.CPUsPerTask,
		Mem:       r.Defaults.Mem,
		Walltime:  r.Defaults.Time,
	}
	for _, rule := range r.Rules {
		matched, err := doublestar.Match(rule.JobIDGlob, string(jobID))
		if err != nil || !matched {
			continue
		}
		mergeRule(&hints, rule)
		break
	}
	return hints
}

func mergeRule(hints *model.ResourceHints, rule ResourceRule) {
	if rule.Partition != "" {
		hints.Partition = rule.Partition
	}
	if rule.Mem != "" {
		hints.Mem = rule.Mem
	}
	if rule.Time != "" {
		hints.Walltime = rule.Time
	}
}
