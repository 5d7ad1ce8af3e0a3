/*
engine.go - Validation-then-commit orchestration

PURPOSE:
  Runs one allocation flow end to end, strictly in order:

    1. Field checks            (no I/O)
    2. Date order              (no I/O)
    3. Batch-local conflicts   (no I/O)
    4. Snapshot reads          (store)
    5. Date containment        (snapshot)
    6. Capacity                (snapshot)
    7. Commit accepted         (store, Allocate only)
    8. Reconciliation          (store, background)

  Client-side validation is an advisory, fail-fast pre-check. The store
  re-checks every invariant at commit time and is the final arbiter; two
  concurrent flows may both pass here and one be rejected there.

CANCELLATION:
  Cancelling ctx before step 7 has no side effects. Once the batch is
  submitted the commit runs to completion regardless of ctx. The background
  reconciliation can be stopped with AllocationOutcome.CancelReconciliation.

FAIL-OPEN:
  A snapshot read that fails or finds nothing skips the checks depending on
  it and is reported as a warning. The store's enforcement still applies.
*/
package allocation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type Engine struct {
	Reader    *SnapshotReader
	Committer *Committer
	Poller    *Poller
	Logger    *logrus.Entry

	validate  *validator.Validate
	capacity  CapacityValidator
	conflicts ConflictDetector
	dates     DateRangeValidator
}

type Option func(*engineOptions)

type engineOptions struct {
	logger *logrus.Entry
	policy RetryPolicy
}

func WithLogger(l *logrus.Entry) Option {
	return func(o *engineOptions) { o.logger = l }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *engineOptions) { o.policy = p }
}

// NewEngine wires the reader, committer and poller around one store.
func NewEngine(store EntityStore, opts ...Option) *Engine {
	o := engineOptions{
		logger: logrus.NewEntry(logrus.StandardLogger()),
		policy: DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(&o)
	}
	reader := NewSnapshotReader(store)
	return &Engine{
		Reader:    reader,
		Committer: NewCommitter(store, o.logger),
		Poller:    NewPoller(reader, o.policy, o.logger),
		Logger:    o.logger,
		validate:  newValidator(),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// VALIDATION
// =============================================================================

type ValidationReport struct {
	Decisions []Decision
	Snapshot  *Snapshot
	// Warnings lists snapshot reads whose checks were deferred to the store.
	Warnings []*SnapshotUnavailableError
}

// Accepted returns the candidates with no rejections, in submission order.
func (r *ValidationReport) Accepted() []Candidate {
	var out []Candidate
	for _, d := range r.Decisions {
		if d.Accepted() {
			out = append(out, d.Candidate)
		}
	}
	return out
}

func (r *ValidationReport) Rejected() []Decision {
	var out []Decision
	for _, d := range r.Decisions {
		if !d.Accepted() {
			out = append(out, d)
		}
	}
	return out
}

func (r *ValidationReport) AllAccepted() bool {
	return len(r.Rejected()) == 0
}

// Validate decides every candidate. Rejections are reported in the returned
// report; the error is non-nil only when ctx is done.
func (e *Engine) Validate(ctx context.Context, rc RequestContext, candidates []Candidate) (*ValidationReport, error) {
	normalized := make([]Candidate, len(candidates))
	for i, c := range candidates {
		normalized[i] = rc.Apply(c)
	}
	ds := NewDecisions(normalized)

	// Steps 1-3: purely local.
	e.checkFields(ds)
	e.dates.CheckOrder(ds)
	e.conflicts.Apply(ds)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 4: one read per distinct target still in play.
	var inPlay []Candidate
	for _, d := range ds {
		if d.Accepted() {
			inPlay = append(inPlay, d.Candidate)
		}
	}
	snap := NewSnapshot()
	if len(inPlay) > 0 {
		var err error
		snap, err = e.Reader.ReadBatch(ctx, inPlay)
		if err != nil {
			return nil, err
		}
	}
	for _, w := range snap.Unavailable {
		metricSnapshotUnavailable.WithLabelValues(string(w.Target)).Inc()
		e.Logger.WithError(w).WithField("target", w.Target).Warn("capacity snapshot unavailable, deferring to store")
	}

	// Steps 5-6.
	e.dates.CheckContainment(snap, ds)
	e.capacity.Apply(snap, ds)

	report := &ValidationReport{Decisions: ds, Snapshot: snap, Warnings: snap.Unavailable}
	for _, d := range ds {
		recordDecision(d)
	}
	e.Logger.WithFields(logrus.Fields{
		"project_id":   rc.ProjectID,
		"demand_id":    rc.DemandID,
		"requested_by": rc.RequestedBy,
		"candidates":   len(ds),
		"accepted":     len(report.Accepted()),
		"warnings":     len(report.Warnings),
	}).Info("allocation batch validated")
	return report, nil
}

func (e *Engine) checkFields(ds []Decision) {
	for i := range ds {
		err := e.validate.Struct(ds[i].Candidate)
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			ds[i].Reject(&InvalidCandidateError{Field: "candidate", Reason: err.Error()})
			continue
		}
		for _, fe := range verrs {
			ds[i].Reject(&InvalidCandidateError{Field: fe.Field(), Reason: describeFieldError(fe)})
		}
	}
	checkDuplicateIDs(ds)
}

// checkDuplicateIDs rejects every candidate whose explicit id is shared with
// another candidate in the batch. Neither copy is preferred.
func checkDuplicateIDs(ds []Decision) {
	all := make([]int, len(ds))
	for i := range ds {
		all[i] = i
	}
	order, groups := groupBy(ds, all, func(c Candidate) AllocationID { return c.ID })
	for _, id := range order {
		members := groups[id]
		if id == "" || len(members) < 2 {
			continue
		}
		for _, i := range members {
			ds[i].Reject(&InvalidCandidateError{
				Field:  "ID",
				Reason: fmt.Sprintf("%s is used by %d candidates in this batch", id, len(members)),
			})
		}
	}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// =============================================================================
// ALLOCATE - Validate, commit, reconcile
// =============================================================================

type AllocationOutcome struct {
	Report *ValidationReport
	// Commit is nil when nothing was submitted.
	Commit *CommitResult
	// Reconciliation delivers exactly one result and is then closed. Nil when
	// nothing was committed.
	Reconciliation       <-chan ReconcileResult
	CancelReconciliation context.CancelFunc
}

// Allocate validates candidates and commits the accepted ones as one batch.
// The returned error is a *PartialCommitError or *TransportError from the
// commit, or ctx's error if ctx ended before anything was submitted.
func (e *Engine) Allocate(ctx context.Context, rc RequestContext, candidates []Candidate) (*AllocationOutcome, error) {
	report, err := e.Validate(ctx, rc, candidates)
	if err != nil {
		return nil, err
	}
	outcome := &AllocationOutcome{Report: report}

	accepted := report.Accepted()
	if len(accepted) == 0 || (rc.AllOrNothing && !report.AllAccepted()) {
		return outcome, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Past this point the submission is not cancellable.
	commitCtx := context.WithoutCancel(ctx)
	result, commitErr := e.Committer.Commit(commitCtx, rc.GroupID, accepted)
	outcome.Commit = result

	if result != nil && len(result.Committed) > 0 {
		outcome.Reconciliation, outcome.CancelReconciliation = e.startReconciliation(commitCtx, report.Snapshot, result.Committed)
	}
	return outcome, commitErr
}

// Reconcile polls synchronously for the aggregates a commit should produce.
func (e *Engine) Reconcile(ctx context.Context, snap *Snapshot, committed []Allocation) ReconcileResult {
	return e.Poller.Reconcile(ctx, ExpectationFor(snap, committed))
}

func (e *Engine) startReconciliation(parent context.Context, snap *Snapshot, committed []Allocation) (<-chan ReconcileResult, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan ReconcileResult, 1)
	go func() {
		defer close(ch)
		defer cancel()
		ch <- e.Reconcile(ctx, snap, committed)
	}()
	return ch, cancel
}
