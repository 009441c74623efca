package model

// InputMapping declares where one of a job's inputs comes from: either a
// named output of a dependency job, or a literal path supplied by the lab.
type InputMapping struct {
	JobId        JobId  `json:"job_id,omitempty"`
	SourceOutput string `json:"source_output,omitempty"`
	TargetInput  string `json:"target_input"`
}

// Executable is one payload a job may run (jobs with a single "main"
// executable are the common case; scatter-gather stages use more).
type Executable struct {
	Path    string            `json:"path"`
	Inputs  []InputMapping    `json:"inputs,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// ResourceHints carries the SLURM resource directives a job would like,
// before resources.toml overrides are applied (see config.Resources).
type ResourceHints struct {
	Partition string `json:"partition,omitempty"`
	CPUs      int    `json:"cpus,omitempty"`
	Mem       string `json:"mem,omitempty"`
	Walltime  string `json:"walltime,omitempty"`
}

// Job is an immutable record describing one node of the DAG.
type Job struct {
	ID      JobId  `json:"id"`
	Name    string `json:"name,omitempty"`
	Depends []JobId `json:"depends_on,omitempty"`

	// ExecutablePath is the host-side path to the job's payload,
	// materialized by the lab loader.
	ExecutablePath string `json:"executable_path"`

	Executables map[string]Executable `json:"executables,omitempty"`

	// RuntimeOverride names one of native/bwrap/podman/docker; empty
	// means "use the target's default runtime".
	RuntimeOverride string `json:"runtime,omitempty"`

	// ImageRef is a content hash identifying the OCI/rootfs image.
	// Required when RuntimeOverride (or the target default) is not native.
	ImageRef string `json:"image,omitempty"`

	// MountPaths lists extra host paths the sandboxing/container runtimes
	// bind read-only into the invocation, beyond the image and the job's
	// own output directory. Ignored by the native runtime, which is
	// already unsandboxed.
	MountPaths []string `json:"mount_paths,omitempty"`

	// Impure opts this job out of the pure-with-extras mount default,
	// exposing the native host filesystem (e.g. /usr, /bin) inside the
	// sandbox in addition to MountPaths. Opt-in per job, per §4.3.
	Impure bool `json:"impure,omitempty"`

	Resources ResourceHints `json:"resources,omitempty"`
}

// AllDependencies returns the deduplicated set of job ids this job's
// declared inputs reference, unioned with its explicit Depends list.
func (j *Job) AllDependencies() []JobId {
	seen := make(map[JobId]bool, len(j.Depends))
	var out []JobId
	add := func(id JobId) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, d := range j.Depends {
		add(d)
	}
	for _, exe := range j.Executables {
		for _, mapping := range exe.Inputs {
			add(mapping.JobId)
		}
	}
	return out
}

// Run is a named root set of jobs, optionally sharing a container image.
type Run struct {
	Image string  `json:"image,omitempty"`
	Jobs  []JobId `json:"jobs"`
}

// Lab is the immutable description of a DAG of jobs and the runs defined
// over it, as materialized by the (external, out-of-scope) lab loader.
type Lab struct {
	SchemaVersion string           `json:"schema_version"`
	Revision      string           `json:"revision"`
	Runs          map[RunId]Run    `json:"runs"`
	Jobs          map[JobId]Job    `json:"jobs"`
}

// IsNative reports whether every run in the lab is image-free, i.e. the
// lab never requires a container/sandbox runtime.
func (l *Lab) IsNative() bool {
	for _, r := range l.Runs {
		if r.Image != "" {
			return false
		}
	}
	return true
}
