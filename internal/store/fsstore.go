package store

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/repx-run/repx/internal/apperror"
	"github.com/repx-run/repx/internal/model"
)

const (
	dirOutputs      = "outputs"
	dirArtifacts    = "artifacts"
	dirCache        = "cache"
	subdirOut       = "out"
	subdirRepx      = "repx"
	markerSuccess   = "SUCCESS"
	markerFail      = "FAIL"
	fileInputs      = "inputs.json"
	fileTiming      = "timing.json"
	fileLock        = ".lock"
	markerImgLoaded = "LOADED"
)

// Filesystem is the on-disk Store implementation described in the data
// model: a directory tree rooted at a configured base path, success
// committed by rename-into-place, never by in-place mutation.
type Filesystem struct {
	base string
	sf   singleflight.Group
}

var _ Store = (*Filesystem)(nil)

// NewFilesystem opens (creating if absent) a store rooted at base.
func NewFilesystem(base string) (*Filesystem, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, apperror.New(apperror.KindStore, "open store", err)
	}
	return &Filesystem{base: base}, nil
}

func (f *Filesystem) BasePath() string { return f.base }

func (f *Filesystem) jobDir(id model.JobId) string {
	return filepath.Join(f.base, dirOutputs, string(id))
}

func (f *Filesystem) OutputDir(id model.JobId) string {
	return filepath.Join(f.jobDir(id), subdirOut)
}

func (f *Filesystem) repxDir(id model.JobId) string {
	return filepath.Join(f.jobDir(id), subdirRepx)
}

func (f *Filesystem) StdoutPath(id model.JobId) string {
	return filepath.Join(f.repxDir(id), "stdout.log")
}

func (f *Filesystem) StderrPath(id model.JobId) string {
	return filepath.Join(f.repxDir(id), "stderr.log")
}

func (f *Filesystem) HasSuccess(id model.JobId) (bool, error) {
	return pathExists(filepath.Join(f.repxDir(id), markerSuccess))
}

func (f *Filesystem) GetOutcome(id model.JobId) (Outcome, error) {
	ok, err := pathExists(filepath.Join(f.repxDir(id), markerSuccess))
	if err != nil {
		return OutcomeUnknown, err
	}
	if ok {
		return OutcomeSuccess, nil
	}
	ok, err = pathExists(filepath.Join(f.repxDir(id), markerFail))
	if err != nil {
		return OutcomeUnknown, err
	}
	if ok {
		return OutcomeFailed, nil
	}
	return OutcomeUnknown, nil
}

func (f *Filesystem) PrepareJobDirs(id model.JobId) error {
	for _, dir := range []string{f.OutputDir(id), f.repxDir(id)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperror.New(apperror.KindStore, "prepare job dirs", err)
		}
	}
	return nil
}

// commitMarker fsyncs dir, then atomically renames a tempfile into name
// within dir. SUCCESS/FAIL must be written this way: a reader that sees
// the marker present is guaranteed every sibling artifact is complete.
func commitMarker(dir, name string) error {
	if err := fsyncDir(dir); err != nil {
		return apperror.New(apperror.KindStore, "fsync before commit", err)
	}
	tmp := filepath.Join(dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, []byte(time.Now().UTC().Format(time.RFC3339Nano)), 0o644); err != nil {
		return apperror.New(apperror.KindStore, "write marker tempfile", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		return apperror.New(apperror.KindStore, "rename marker into place", err)
	}
	return fsyncDir(dir)
}

func (f *Filesystem) CommitSuccess(id model.JobId) error {
	return commitMarker(f.repxDir(id), markerSuccess)
}

func (f *Filesystem) CommitFailed(id model.JobId) error {
	return commitMarker(f.repxDir(id), markerFail)
}

func (f *Filesystem) WriteInputsManifest(id model.JobId, manifest InputManifest) error {
	b, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return apperror.New(apperror.KindStore, "marshal inputs manifest", err)
	}
	path := filepath.Join(f.repxDir(id), fileInputs)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return apperror.New(apperror.KindStore, "write inputs manifest", err)
	}
	return nil
}

// AcquireJobLock takes the per-job advisory lock via O_EXCL create. A
// second caller (another engine process sharing this store) sees ok=false
// rather than blocking; retrying is the caller's responsibility.
func (f *Filesystem) AcquireJobLock(id model.JobId) (func(), bool, error) {
	if err := f.PrepareJobDirs(id); err != nil {
		return nil, false, err
	}
	path := filepath.Join(f.repxDir(id), fileLock)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, false, nil
		}
		return nil, false, apperror.New(apperror.KindStore, "acquire job lock", err)
	}
	file.Close()
	release := func() {
		os.Remove(path)
	}
	return release, true, nil
}

func (f *Filesystem) ImageTarPath(hash string) string {
	return filepath.Join(f.base, dirArtifacts, "images", hash+".tar")
}

func (f *Filesystem) imageRootfsDir(hash string) string {
	return filepath.Join(f.base, dirCache, "images", hash, "rootfs")
}

func (f *Filesystem) imageCacheDir(hash string) string {
	return filepath.Join(f.base, dirCache, "images", hash)
}

// EnsureImageUnpacked extracts the image tarball into the rootfs cache
// at most once per hash: in-process callers coalesce on a singleflight
// key, and cross-process callers serialize on an exclusive-create lock
// inside the cache directory, mirroring the job lock above.
func (f *Filesystem) EnsureImageUnpacked(ctx context.Context, hash string) (string, error) {
	rootfs := f.imageRootfsDir(hash)
	ok, err := pathExists(filepath.Join(f.imageCacheDir(hash), markerSuccess))
	if err != nil {
		return "", err
	}
	if ok {
		return rootfs, nil
	}

	_, err, _ = f.sf.Do(hash, func() (any, error) {
		return nil, f.unpackImageLocked(ctx, hash)
	})
	if err != nil {
		return "", err
	}
	return rootfs, nil
}

func (f *Filesystem) unpackImageLocked(ctx context.Context, hash string) error {
	cacheDir := f.imageCacheDir(hash)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return apperror.New(apperror.KindStore, "create image cache dir", err)
	}

	lockPath := filepath.Join(cacheDir, fileLock)
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return apperror.New(apperror.KindStore, "acquire image unpack lock", err)
		}
		// Another process is unpacking; wait for its SUCCESS marker.
		return waitForMarker(ctx, filepath.Join(cacheDir, markerSuccess))
	}
	defer func() {
		lockFile.Close()
		os.Remove(lockPath)
	}()

	ok, err := pathExists(filepath.Join(cacheDir, markerSuccess))
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	rootfs := f.imageRootfsDir(hash)
	if err := os.RemoveAll(rootfs); err != nil {
		return apperror.New(apperror.KindStore, "clear stale rootfs", err)
	}
	if err := os.MkdirAll(rootfs, 0o755); err != nil {
		return apperror.New(apperror.KindStore, "create rootfs dir", err)
	}
	if err := extractTar(f.ImageTarPath(hash), rootfs); err != nil {
		return apperror.New(apperror.KindStore, "extract image tarball", err)
	}
	return commitMarker(cacheDir, markerSuccess)
}

func waitForMarker(ctx context.Context, path string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if ok, _ := pathExists(path); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *Filesystem) HasImageLoaded(hash string) (bool, error) {
	return pathExists(filepath.Join(f.imageCacheDir(hash), markerImgLoaded))
}

func (f *Filesystem) MarkImageLoaded(hash string) error {
	dir := f.imageCacheDir(hash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.New(apperror.KindStore, "mark image loaded", err)
	}
	return commitMarker(dir, markerImgLoaded)
}

func (f *Filesystem) HostToolPath(toolset, tool string) string {
	return filepath.Join(f.base, dirArtifacts, "host-tools", toolset, "bin", tool)
}

func (f *Filesystem) PutHostTool(toolset, tool string, content io.Reader) error {
	dest := f.HostToolPath(toolset, tool)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return apperror.New(apperror.KindStore, "create host-tools dir", err)
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return apperror.New(apperror.KindStore, "create host tool", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, content); err != nil {
		return apperror.New(apperror.KindStore, "write host tool", err)
	}
	return nil
}

type jobTimestampsFile struct {
	Dispatched *time.Time `json:"dispatched,omitempty"`
	Started    *time.Time `json:"started,omitempty"`
	Finished   *time.Time `json:"finished,omitempty"`
}

func (f *Filesystem) timingPath(id model.JobId) string {
	return filepath.Join(f.repxDir(id), fileTiming)
}

func (f *Filesystem) ReadTimestamps(id model.JobId) (JobTimestamps, error) {
	b, err := os.ReadFile(f.timingPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return JobTimestamps{}, nil
		}
		return JobTimestamps{}, apperror.New(apperror.KindStore, "read timestamps", err)
	}
	var ts jobTimestampsFile
	if err := json.Unmarshal(b, &ts); err != nil {
		return JobTimestamps{}, apperror.New(apperror.KindStore, "parse timestamps", err)
	}
	return JobTimestamps(ts), nil
}

func (f *Filesystem) writeTimestamps(id model.JobId, ts JobTimestamps) error {
	b, err := json.MarshalIndent(jobTimestampsFile(ts), "", "  ")
	if err != nil {
		return apperror.New(apperror.KindStore, "marshal timestamps", err)
	}
	if err := os.WriteFile(f.timingPath(id), b, 0o644); err != nil {
		return apperror.New(apperror.KindStore, "write timestamps", err)
	}
	return nil
}

func (f *Filesystem) recordOnce(id model.JobId, set func(*JobTimestamps)) error {
	ts, err := f.ReadTimestamps(id)
	if err != nil {
		return err
	}
	set(&ts)
	return f.writeTimestamps(id, ts)
}

func (f *Filesystem) RecordDispatched(id model.JobId) error {
	return f.recordOnce(id, func(ts *JobTimestamps) {
		if ts.Dispatched == nil {
			now := time.Now().UTC()
			ts.Dispatched = &now
		}
	})
}

func (f *Filesystem) RecordStarted(id model.JobId) error {
	return f.recordOnce(id, func(ts *JobTimestamps) {
		if ts.Started == nil {
			now := time.Now().UTC()
			ts.Started = &now
		}
	})
}

func (f *Filesystem) RecordFinished(id model.JobId) error {
	return f.recordOnce(id, func(ts *JobTimestamps) {
		if ts.Finished == nil {
			now := time.Now().UTC()
			ts.Finished = &now
		}
	})
}

func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperror.New(apperror.KindStore, "stat", err)
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func extractTar(tarPath, dest string) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(tarPath, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
			return fmt.Errorf("tar entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}
