package allocation

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	commitOutcomeSuccess   = "success"
	commitOutcomePartial   = "partial"
	commitOutcomeTransport = "transport_error"

	reconcileOutcomeFresh = "fresh"
	reconcileOutcomeStale = "stale"
)

var (
	metricDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "allocation",
		Subsystem: "validation",
		Name:      "decisions_total",
		Help:      "Candidate decisions broken down by result.",
	}, []string{"result"})

	metricRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "allocation",
		Subsystem: "validation",
		Name:      "rejections_total",
		Help:      "Candidate rejections broken down by kind.",
	}, []string{"kind"})

	metricSnapshotUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "allocation",
		Subsystem: "snapshot",
		Name:      "unavailable_total",
		Help:      "Snapshot reads that failed or found nothing, by target. The check was deferred to the store.",
	}, []string{"target"})

	metricCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "allocation",
		Subsystem: "commit",
		Name:      "batches_total",
		Help:      "Batch submissions broken down by outcome.",
	}, []string{"outcome"})

	metricReconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "allocation",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Reconciliation polls broken down by outcome.",
	}, []string{"outcome"})
)

func recordDecision(d Decision) {
	if d.Accepted() {
		metricDecisions.WithLabelValues("accepted").Inc()
		return
	}
	metricDecisions.WithLabelValues("rejected").Inc()
	for _, r := range d.Rejections {
		metricRejections.WithLabelValues(rejectionKind(r)).Inc()
	}
}

// rejectionKind maps a rejection to a stable, low-cardinality label.
func rejectionKind(err error) string {
	var ce *CapacityExceededError
	switch {
	case errors.As(err, &ce):
		return "capacity_" + string(ce.Level)
	case errors.Is(err, ErrBatchConflict):
		return "batch_conflict"
	case errors.Is(err, ErrInvalidDateRange):
		return "date_range"
	case errors.Is(err, ErrInvalidCandidate):
		return "invalid_candidate"
	default:
		return "other"
	}
}
