package observability

import (
	"testing"
	"time"

	"github.com/danmuck/paramctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("paramctl", "GET", "/health", 200, 12*time.Millisecond)
	RecordApply(ApplyPartial)
	RecordApplyEntries(2, 1)
	RecordPushUpdate()
	RecordStaleResult("apply")
	RecordImport(3, 1, 0)
	RecordLinkConnect(false)
}

func TestSetStagedCountTracksLatestValue(t *testing.T) {
	testlog.Start(t)

	SetStagedCount(4)
	SetStagedCount(2)
	if got := testutil.ToFloat64(engineStaged); got != 2 {
		t.Fatalf("expected staged gauge 2, got %v", got)
	}
}

func TestRecordApplyCountsByOutcome(t *testing.T) {
	testlog.Start(t)

	before := testutil.ToFloat64(engineApplies.WithLabelValues(ApplyTransportError))
	RecordApply(ApplyTransportError)
	after := testutil.ToFloat64(engineApplies.WithLabelValues(ApplyTransportError))
	if after-before != 1 {
		t.Fatalf("expected one transport_error apply, got delta %v", after-before)
	}
}
