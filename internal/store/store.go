// Package store implements the content-addressable filesystem layout
// that backs idempotent job execution: output directories, success/fail
// markers, staged artifacts and unpacked image caches.
package store

import (
	"context"
	"io"
	"time"

	"github.com/repx-run/repx/internal/model"
)

// Outcome classifies what a Store directory currently records for a job.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeFailed
)

// InputManifest is the declared input set written to repx/inputs.json
// before a job is executed. No runtime driver reads it back.
type InputManifest struct {
	Inputs []model.InputMapping `json:"inputs"`
}

// JobTimestamps records the dispatched/started/finished instants for a
// job's most recent attempt, read back for status reporting.
type JobTimestamps struct {
	Dispatched *time.Time `json:"dispatched,omitempty"`
	Started    *time.Time `json:"started,omitempty"`
	Finished   *time.Time `json:"finished,omitempty"`
}

// MergeProgress is streamed to an observer during Merge.
type MergeProgress struct {
	TotalEntries     int64
	ProcessedEntries int64
	CurrentPath      string
}

// Store is the persistence contract the orchestrator, runtime drivers
// and GC all depend on. A single implementation (Filesystem) backs every
// Target; "target" scoping happens one level up, via the base path each
// Target is configured with.
type Store interface {
	// HasSuccess reports whether jobID's SUCCESS marker exists.
	HasSuccess(jobID model.JobId) (bool, error)

	// GetOutcome generalizes HasSuccess to also recognize a FAIL marker.
	GetOutcome(jobID model.JobId) (Outcome, error)

	// PrepareJobDirs creates outputs/<id>/{out,repx} idempotently.
	PrepareJobDirs(jobID model.JobId) error

	// CommitSuccess fsyncs outputs and atomically renames the SUCCESS
	// marker into place. Must be called only after every other artifact
	// for the job is written and durable.
	CommitSuccess(jobID model.JobId) error

	// CommitFailed records a FAIL marker, analogous to CommitSuccess.
	CommitFailed(jobID model.JobId) error

	// WriteInputsManifest persists repx/inputs.json before execution.
	WriteInputsManifest(jobID model.JobId, manifest InputManifest) error

	// OutputDir returns outputs/<id>/out, the job's declared cwd.
	OutputDir(jobID model.JobId) string

	// StdoutPath / StderrPath return the paths the runtime driver should
	// tee the job's stdout/stderr streams to.
	StdoutPath(jobID model.JobId) string
	StderrPath(jobID model.JobId) string

	// AcquireJobLock takes the per-job advisory lock (outputs/<id>/repx/.lock).
	// Returns a release func and ok=false if another holder has it.
	AcquireJobLock(jobID model.JobId) (release func(), ok bool, err error)

	// EnsureImageUnpacked extracts artifacts/images/<hash>.tar into
	// cache/images/<hash>/rootfs if not already unpacked, deduplicating
	// concurrent callers for the same hash (see internal/store/fsstore.go).
	EnsureImageUnpacked(ctx context.Context, imageHash string) (rootfs string, err error)

	// HasImageLoaded reports whether a container runtime has already been
	// told to load artifacts/images/<hash>.tar (tracked via a sentinel
	// file, since the daemon itself is the source of truth for content
	// but checking it would require shelling out on every job).
	HasImageLoaded(imageHash string) (bool, error)
	MarkImageLoaded(imageHash string) error

	// ImageTarPath returns artifacts/images/<hash>.tar.
	ImageTarPath(imageHash string) string

	// HostToolPath returns artifacts/host-tools/<toolset>/bin/<tool>.
	HostToolPath(toolset, tool string) string
	PutHostTool(toolset, tool string, content io.Reader) error

	// ReadTimestamps / record helpers persist repx/timing.json.
	ReadTimestamps(jobID model.JobId) (JobTimestamps, error)
	RecordDispatched(jobID model.JobId) error
	RecordStarted(jobID model.JobId) error
	RecordFinished(jobID model.JobId) error

	// BasePath returns the store's root directory.
	BasePath() string
}

// Merge copies content from one or more source stores into destination,
// skipping paths that already exist there. Used by the (out-of-scope)
// store-merge tool; GC does not call it.
func Merge(sources []string, destination string, onProgress func(MergeProgress)) error {
	return mergeStores(sources, destination, onProgress)
}
