package metrics

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/payflow/internal/apperr"
)

const (
	AllocationResultOK        = "ok"
	AllocationResultExhausted = "exhausted"
	AllocationResultConflict  = "conflict"
	AllocationResultError     = "error"
)

const (
	BatchDecisionCreated  = "created"
	BatchDecisionSigned   = "signed"
	BatchDecisionRejected = "rejected"
)

// WorkflowMetrics captures approval engine signals.
type WorkflowMetrics struct {
	transitions     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	allocations     *prometheus.CounterVec
	lockWait        *prometheus.HistogramVec
	batchDecisions  *prometheus.CounterVec
	batchMemberSize prometheus.Observer
}

var (
	workflowMetricsOnce sync.Once
	workflowMetrics     *WorkflowMetrics
)

// Workflow returns the singleton workflow metrics registry.
func Workflow() *WorkflowMetrics {
	return WorkflowWithConfig(Config{})
}

// WorkflowWithConfig returns the singleton workflow metrics registry using
// config labels.
func WorkflowWithConfig(cfg Config) *WorkflowMetrics {
	workflowMetricsOnce.Do(func() {
		workflowMetrics = NewWorkflowMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return workflowMetrics
}

// NewWorkflowMetrics registers a fresh set of collectors on registerer.
func NewWorkflowMetrics(registerer prometheus.Registerer, cfg Config) *WorkflowMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "payflow"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payflow_document_transitions_total",
		Help:        "Committed document state transitions.",
		ConstLabels: constLabels,
	}, []string{"kind", "action", "from", "to"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payflow_document_commands_rejected_total",
		Help:        "Workflow commands refused before any state change, by error kind.",
		ConstLabels: constLabels,
	}, []string{"action", "reason"})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payflow_sequence_allocations_total",
		Help:        "Sequence number allocations by scope and result.",
		ConstLabels: constLabels,
	}, []string{"scope", "result"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "payflow_sequence_lock_wait_seconds",
		Help:        "Time spent acquiring a numbering bucket lock.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"scope"})
	batchDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payflow_batch_decisions_total",
		Help:        "Signature batch lifecycle decisions.",
		ConstLabels: constLabels,
	}, []string{"decision"})
	batchMemberSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "payflow_batch_members",
		Help:        "Number of documents per created signature batch.",
		Buckets:     []float64{1, 2, 5, 10, 20, 50, 100},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		transitions,
		rejections,
		allocations,
		lockWait,
		batchDecisions,
		batchMemberSize,
	)

	return &WorkflowMetrics{
		transitions:     transitions,
		rejections:      rejections,
		allocations:     allocations,
		lockWait:        lockWait,
		batchDecisions:  batchDecisions,
		batchMemberSize: batchMemberSize,
	}
}

func (m *WorkflowMetrics) RecordTransition(kind, action, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, action, from, to).Inc()
}

func (m *WorkflowMetrics) RecordRejectedCommand(action string, err error) {
	if m == nil || err == nil {
		return
	}
	m.rejections.WithLabelValues(action, ClassifyReason(err)).Inc()
}

func (m *WorkflowMetrics) RecordAllocation(scope string, err error) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(scope, ClassifyAllocation(err)).Inc()
}

func (m *WorkflowMetrics) ObserveLockWait(scope string, d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(scope).Observe(d.Seconds())
}

func (m *WorkflowMetrics) RecordBatchDecision(decision string, members int) {
	if m == nil {
		return
	}
	m.batchDecisions.WithLabelValues(decision).Inc()
	if decision == BatchDecisionCreated {
		m.batchMemberSize.Observe(float64(members))
	}
}

// ClassifyReason maps an engine error to a low-cardinality label.
func ClassifyReason(err error) string {
	if err == nil {
		return ""
	}
	if kind := apperr.KindOf(err); kind != nil {
		return kind.Error()
	}
	return "unknown"
}

// ClassifyAllocation maps an allocation outcome to a result label.
func ClassifyAllocation(err error) string {
	switch {
	case err == nil:
		return AllocationResultOK
	case errors.Is(err, apperr.ErrSequenceExhausted):
		return AllocationResultExhausted
	case errors.Is(err, apperr.ErrConcurrencyConflict):
		return AllocationResultConflict
	default:
		return AllocationResultError
	}
}
