package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAttempt(t *testing.T) {
	before := testutil.ToFloat64(ExchangeAttemptsTotal.WithLabelValues("dsh_rest"))
	RecordAttempt("dsh_rest", 10*time.Millisecond, true)
	RecordAttempt("dsh_rest", 10*time.Millisecond, false)

	if got := testutil.ToFloat64(ExchangeAttemptsTotal.WithLabelValues("dsh_rest")) - before; got != 2 {
		t.Errorf("attempts delta = %v, want 2", got)
	}
}

func TestRecordOutcomeAndSink(t *testing.T) {
	before := testutil.ToFloat64(OutcomesTotal.WithLabelValues("timeout"))
	RecordOutcome("timeout")
	if got := testutil.ToFloat64(OutcomesTotal.WithLabelValues("timeout")) - before; got != 1 {
		t.Errorf("outcome delta = %v, want 1", got)
	}

	before = testutil.ToFloat64(SinkWritesTotal.WithLabelValues("file", ResultFailure))
	RecordSinkWrite("file", false)
	if got := testutil.ToFloat64(SinkWritesTotal.WithLabelValues("file", ResultFailure)) - before; got != 1 {
		t.Errorf("sink delta = %v, want 1", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	MarkRun(time.Unix(1700000000, 0))
	path := filepath.Join(t.TempDir(), "tokenfetch.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "tokenfetch_last_run_timestamp_seconds ") {
		t.Errorf("textfile missing last run stamp:\n%s", data)
	}
}
