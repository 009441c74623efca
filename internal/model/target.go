package model

// RuntimeKind names one of the four supported execution runtimes.
type RuntimeKind string

const (
	RuntimeNative RuntimeKind = "native"
	RuntimeBwrap  RuntimeKind = "bwrap"
	RuntimePodman RuntimeKind = "podman"
	RuntimeDocker RuntimeKind = "docker"
)

// SchedulerKind names one of the supported scheduler drivers.
type SchedulerKind string

const (
	SchedulerLocal SchedulerKind = "local"
	SchedulerSlurm SchedulerKind = "slurm"
)

// LocalSchedulerConfig configures the bounded local worker pool.
type LocalSchedulerConfig struct {
	Jobs int `mapstructure:"local_concurrency" toml:"local_concurrency"`
}

// SlurmSchedulerConfig configures sbatch/squeue/scancel dispatch.
type SlurmSchedulerConfig struct {
	Partition  string `mapstructure:"partition" toml:"partition"`
	PollPeriod string `mapstructure:"poll_period" toml:"poll_period"`
}

// Target describes one place jobs can be submitted and run: a transport
// (local or remote), a default scheduler and runtime, and the set of
// runtimes that target's hosts are permitted to run.
type Target struct {
	Name                 string                `mapstructure:"-"`
	Address              string                `mapstructure:"address" toml:"address"`
	BasePath              string                `mapstructure:"base_path" toml:"base_path"`
	NodeLocalPath         string                `mapstructure:"node_local_path" toml:"node_local_path"`
	DefaultScheduler      SchedulerKind         `mapstructure:"default_scheduler" toml:"default_scheduler"`
	DefaultExecutionType  RuntimeKind           `mapstructure:"default_execution_type" toml:"default_execution_type"`
	AdmissibleRuntimes    []RuntimeKind         `mapstructure:"admissible_runtimes" toml:"admissible_runtimes"`
	Local                 *LocalSchedulerConfig `mapstructure:"local" toml:"local"`
	Slurm                 *SlurmSchedulerConfig `mapstructure:"slurm" toml:"slurm"`

	// StrictHostKeyChecking requires the remote host key to already appear
	// in known_hosts; false accepts any host key. Only consulted for
	// remote (SSH) targets. nil (unset in config.toml) means the secure
	// default of true.
	StrictHostKeyChecking *bool `mapstructure:"strict_host_key_checking" toml:"strict_host_key_checking"`
}

// StrictHostKeyCheckingOrDefault resolves StrictHostKeyChecking to true
// when the target's config.toml entry leaves it unset.
func (t *Target) StrictHostKeyCheckingOrDefault() bool {
	if t.StrictHostKeyChecking == nil {
		return true
	}
	return *t.StrictHostKeyChecking
}

// IsRemote reports whether this target requires the SSH transport rather
// than the native local one.
func (t *Target) IsRemote() bool {
	return t.Address != "" && t.Address != "local"
}

// Admits reports whether the target is configured to allow the given
// runtime kind; an empty AdmissibleRuntimes list admits everything.
func (t *Target) Admits(kind RuntimeKind) bool {
	if len(t.AdmissibleRuntimes) == 0 {
		return true
	}
	for _, k := range t.AdmissibleRuntimes {
		if k == kind {
			return true
		}
	}
	return false
}
