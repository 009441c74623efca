package metrics

import (
	"testing"
	"time"

	"github.com/repx-run/repx/internal/model"
)

func TestRecordSubmittedIncrementsCounter(t *testing.T) {
	before := Read().Submitted
	RecordSubmitted()
	if got := Read().Submitted; got != before+1 {
		t.Errorf("Submitted = %d, want %d", got, before+1)
	}
}

func TestRecordCachedIncrementsCounter(t *testing.T) {
	before := Read().Cached
	RecordCached()
	if got := Read().Cached; got != before+1 {
		t.Errorf("Cached = %d, want %d", got, before+1)
	}
}

func TestRecordTerminalRoutesByStatusKind(t *testing.T) {
	before := Read()

	RecordTerminal(model.StatusSuccess, model.RuntimeNative, 2*time.Second)
	RecordTerminal(model.StatusFailed, model.RuntimeNative, 0)
	RecordTerminal(model.StatusSkipped, "", 0)
	RecordTerminal(model.StatusCancelled, "", 0)

	after := Read()
	if after.Succeeded != before.Succeeded+1 {
		t.Errorf("Succeeded = %d, want %d", after.Succeeded, before.Succeeded+1)
	}
	if after.Failed != before.Failed+1 {
		t.Errorf("Failed = %d, want %d", after.Failed, before.Failed+1)
	}
	if after.Skipped != before.Skipped+2 {
		t.Errorf("Skipped = %d, want %d (skipped and cancelled both count)", after.Skipped, before.Skipped+2)
	}
}

func TestRecordTerminalIgnoresNonTerminalKind(t *testing.T) {
	before := Read()
	RecordTerminal(model.StatusRunning, model.RuntimeNative, time.Second)
	after := Read()
	if after != before {
		t.Errorf("Read() = %+v after a non-terminal kind, want unchanged %+v", after, before)
	}
}
