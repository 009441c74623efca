package store

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/repx-run/repx/internal/model"
)

func newTestStore(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return fs
}

func TestSuccessMarkerWrittenLast(t *testing.T) {
	fs := newTestStore(t)
	id := model.JobId("preprocess-1")

	if err := fs.PrepareJobDirs(id); err != nil {
		t.Fatalf("PrepareJobDirs: %v", err)
	}

	ok, err := fs.HasSuccess(id)
	if err != nil {
		t.Fatalf("HasSuccess: %v", err)
	}
	if ok {
		t.Fatal("HasSuccess() = true before CommitSuccess was ever called")
	}

	if err := os.WriteFile(filepath.Join(fs.OutputDir(id), "result.csv"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}

	ok, err = fs.HasSuccess(id)
	if err != nil {
		t.Fatalf("HasSuccess: %v", err)
	}
	if ok {
		t.Fatal("HasSuccess() = true with outputs written but no SUCCESS marker committed")
	}

	if err := fs.CommitSuccess(id); err != nil {
		t.Fatalf("CommitSuccess: %v", err)
	}

	ok, err = fs.HasSuccess(id)
	if err != nil {
		t.Fatalf("HasSuccess: %v", err)
	}
	if !ok {
		t.Fatal("HasSuccess() = false after CommitSuccess")
	}
}

func TestGetOutcomeDistinguishesFailFromUnknown(t *testing.T) {
	fs := newTestStore(t)
	id := model.JobId("job-a")
	if err := fs.PrepareJobDirs(id); err != nil {
		t.Fatalf("PrepareJobDirs: %v", err)
	}

	outcome, err := fs.GetOutcome(id)
	if err != nil {
		t.Fatalf("GetOutcome: %v", err)
	}
	if outcome != OutcomeUnknown {
		t.Fatalf("GetOutcome() = %v, want OutcomeUnknown", outcome)
	}

	if err := fs.CommitFailed(id); err != nil {
		t.Fatalf("CommitFailed: %v", err)
	}
	outcome, err = fs.GetOutcome(id)
	if err != nil {
		t.Fatalf("GetOutcome: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("GetOutcome() = %v, want OutcomeFailed", outcome)
	}
}

func TestAcquireJobLockIsExclusive(t *testing.T) {
	fs := newTestStore(t)
	id := model.JobId("contended-job")

	const attempts = 16
	var wg sync.WaitGroup
	successCount := 0
	var mu sync.Mutex

	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, ok, err := fs.AcquireJobLock(id)
			if err != nil {
				t.Errorf("AcquireJobLock: %v", err)
				return
			}
			if ok {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successCount != 1 {
		t.Fatalf("successCount = %d, want exactly 1 of %d concurrent acquirers to succeed", successCount, attempts)
	}
}

func TestAcquireJobLockReleaseAllowsReacquire(t *testing.T) {
	fs := newTestStore(t)
	id := model.JobId("reacquire-job")

	release, ok, err := fs.AcquireJobLock(id)
	if err != nil || !ok {
		t.Fatalf("first AcquireJobLock: ok=%v err=%v", ok, err)
	}
	release()

	_, ok, err = fs.AcquireJobLock(id)
	if err != nil {
		t.Fatalf("second AcquireJobLock: %v", err)
	}
	if !ok {
		t.Fatal("AcquireJobLock() after release should succeed")
	}
}

func TestRecordTimestampsIsMonotone(t *testing.T) {
	fs := newTestStore(t)
	id := model.JobId("timed-job")
	if err := fs.PrepareJobDirs(id); err != nil {
		t.Fatalf("PrepareJobDirs: %v", err)
	}

	if err := fs.RecordDispatched(id); err != nil {
		t.Fatalf("RecordDispatched: %v", err)
	}
	ts, err := fs.ReadTimestamps(id)
	if err != nil {
		t.Fatalf("ReadTimestamps: %v", err)
	}
	if ts.Dispatched == nil {
		t.Fatal("Dispatched timestamp not recorded")
	}
	first := *ts.Dispatched

	if err := fs.RecordDispatched(id); err != nil {
		t.Fatalf("RecordDispatched (second call): %v", err)
	}
	ts, err = fs.ReadTimestamps(id)
	if err != nil {
		t.Fatalf("ReadTimestamps: %v", err)
	}
	if !ts.Dispatched.Equal(first) {
		t.Fatal("RecordDispatched should not overwrite an existing timestamp")
	}
}

func TestMergeSkipsExistingDestinationPaths(t *testing.T) {
	src1 := t.TempDir()
	src2 := t.TempDir()
	dest := t.TempDir()

	if err := os.WriteFile(filepath.Join(src1, "shared.txt"), []byte("from-src1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src2, "shared.txt"), []byte("from-src2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src1, "only-in-src1.txt"), []byte("unique"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Merge([]string{src1, src2}, dest, nil); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dest, "shared.txt"))
	if err != nil {
		t.Fatalf("read merged shared.txt: %v", err)
	}
	if string(b) != "from-src1" {
		t.Fatalf("shared.txt = %q, want the first source to win", b)
	}

	if _, err := os.Stat(filepath.Join(dest, "only-in-src1.txt")); err != nil {
		t.Fatalf("only-in-src1.txt missing from merge: %v", err)
	}
}

func TestEnsureImageUnpackedDedupesConcurrentCallers(t *testing.T) {
	fs := newTestStore(t)
	hash := "deadbeef"

	tarPath := fs.ImageTarPath(hash)
	if err := os.MkdirAll(filepath.Dir(tarPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := writeTestTar(t, tarPath); err != nil {
		t.Fatalf("writeTestTar: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, errs[i] = fs.EnsureImageUnpacked(context.Background(), hash)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("EnsureImageUnpacked: %v", err)
		}
	}

	if _, err := os.Stat(filepath.Join(fs.imageRootfsDir(hash), "payload.txt")); err != nil {
		t.Fatalf("unpacked rootfs missing expected file: %v", err)
	}
}

func writeTestTar(t *testing.T, dest string) error {
	t.Helper()
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	content := []byte("hello from the image")
	if err := tw.WriteHeader(&tar.Header{
		Name: "payload.txt",
		Mode: 0o644,
		Size: int64(len(content)),
	}); err != nil {
		return err
	}
	if _, err := tw.Write(content); err != nil {
		return err
	}
	return tw.Close()
}
