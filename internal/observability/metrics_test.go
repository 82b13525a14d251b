package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordForwardedCounts(t *testing.T) {
	RegisterMetrics()
	before := testutil.ToFloat64(relayForwarded.WithLabelValues("test-relay", "f2b"))
	RecordForwarded("test-relay", "f2b")
	RecordForwarded("test-relay", "f2b")
	after := testutil.ToFloat64(relayForwarded.WithLabelValues("test-relay", "f2b"))
	if after-before != 2 {
		t.Fatalf("forwarded delta = %v, want 2", after-before)
	}
}

func TestRecordHookInvocations(t *testing.T) {
	RegisterMetrics()
	beforeInv := testutil.ToFloat64(hookInvocations.WithLabelValues("test-relay", "b2f"))
	beforeFaults := testutil.ToFloat64(hookFaults.WithLabelValues("test-relay", "b2f"))
	RecordHookInvocations("test-relay", "b2f", 3, 1)
	RecordHookInvocations("test-relay", "b2f", 0, 0)
	if d := testutil.ToFloat64(hookInvocations.WithLabelValues("test-relay", "b2f")) - beforeInv; d != 3 {
		t.Fatalf("invocation delta = %v, want 3", d)
	}
	if d := testutil.ToFloat64(hookFaults.WithLabelValues("test-relay", "b2f")) - beforeFaults; d != 1 {
		t.Fatalf("fault delta = %v, want 1", d)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	RegisterMetrics()
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/status", "200"))
	RecordHTTPRequest("GET", "/status", 200, 5*time.Millisecond)
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/status", "200"))
	if after-before != 1 {
		t.Fatalf("http request delta = %v, want 1", after-before)
	}
}
