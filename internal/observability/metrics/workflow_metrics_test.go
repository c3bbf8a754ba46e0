package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/payflow/internal/apperr"
)

func TestClassifyAllocation(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "ok", err: nil, want: AllocationResultOK},
		{name: "exhausted", err: apperr.New(apperr.ErrSequenceExhausted, "bucket_exhausted", ""), want: AllocationResultExhausted},
		{name: "conflict", err: apperr.Conflict("bucket_busy", ""), want: AllocationResultConflict},
		{name: "unknown", err: errors.New("boom"), want: AllocationResultError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyAllocation(tc.err); got != tc.want {
				t.Fatalf("expected result %q, got %q", tc.want, got)
			}
		})
	}
}

func TestRecordTransition(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWorkflowMetrics(registry, Config{
		ServiceName: "payflow",
		Environment: "test",
	})

	m.RecordTransition("VOUCHER", "APPROVE", "PENDING_L2", "PENDING_L3")
	m.RecordTransition("VOUCHER", "APPROVE", "PENDING_L2", "PENDING_L3")

	got := testutil.ToFloat64(m.transitions.WithLabelValues("VOUCHER", "APPROVE", "PENDING_L2", "PENDING_L3"))
	if got != 2 {
		t.Fatalf("expected transition count 2, got %v", got)
	}
}

func TestRecordRejectedCommand(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWorkflowMetrics(registry, Config{})

	m.RecordRejectedCommand("APPROVE", apperr.IllegalTransition("wrong_level", ""))
	m.RecordRejectedCommand("APPROVE", nil)

	got := testutil.ToFloat64(m.rejections.WithLabelValues("APPROVE", "illegal_transition"))
	if got != 1 {
		t.Fatalf("expected rejected count 1, got %v", got)
	}
}

func TestNilWorkflowMetricsAreSafe(t *testing.T) {
	var m *WorkflowMetrics
	m.RecordTransition("FORM", "SUBMIT", "DRAFT", "PENDING_L2")
	m.RecordAllocation("VOUCHER", nil)
	m.RecordBatchDecision(BatchDecisionSigned, 3)
}
