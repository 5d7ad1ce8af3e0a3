/*
reconcile.go - Reconciliation Poller

PURPOSE:
  After a commit the store recomputes project, demand and employee aggregates
  asynchronously. The poller re-reads them a bounded number of times until
  each reflects the committed delta, or gives up and reports a stale view.

ADVISORY ONLY:
  The poller never re-runs validation and never blocks the caller: the engine
  starts it in its own goroutine. Cancelling it has no effect on committed
  data.

EXPECTATIONS:
  For each target the expected value is the pre-commit snapshot value plus
  the committed delta. A target is fresh once its read value is at least the
  expected value; concurrent writers may push it past the expectation.
  Targets that had no snapshot are not polled.
*/
package allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

var errNotFresh = errors.New("aggregates not yet fresh")

// Expectation holds the minimum aggregate values that prove a commit landed.
type Expectation struct {
	Projects  map[ProjectID]int
	Demands   map[DemandID]int
	Employees map[EmployeeID]int
}

func (e Expectation) Empty() bool {
	return len(e.Projects) == 0 && len(e.Demands) == 0 && len(e.Employees) == 0
}

// ExpectationFor derives the post-commit aggregates from the pre-commit
// snapshot and the records the store accepted.
func ExpectationFor(snap *Snapshot, committed []Allocation) Expectation {
	exp := Expectation{
		Projects:  make(map[ProjectID]int),
		Demands:   make(map[DemandID]int),
		Employees: make(map[EmployeeID]int),
	}
	if snap == nil {
		return exp
	}
	for _, a := range committed {
		if pc, ok := snap.Projects[a.ProjectID]; ok {
			if _, seen := exp.Projects[a.ProjectID]; !seen {
				exp.Projects[a.ProjectID] = pc.Allocated
			}
			exp.Projects[a.ProjectID]++
		}
		if dc, ok := snap.Demands[a.DemandID]; ok {
			if _, seen := exp.Demands[a.DemandID]; !seen {
				exp.Demands[a.DemandID] = dc.AllocatedCount
			}
			exp.Demands[a.DemandID]++
		}
		if el, ok := snap.Employees[a.EmployeeID]; ok {
			if _, seen := exp.Employees[a.EmployeeID]; !seen {
				exp.Employees[a.EmployeeID] = el.Percentage
			}
			exp.Employees[a.EmployeeID] += a.Percentage
		}
	}
	return exp
}

// ReconcileResult is the poller's advisory report.
type ReconcileResult struct {
	Attempts int
	// Stale is true when at least one aggregate never reached its expectation.
	Stale bool
	// Pending lists the targets still behind, e.g. "project P-1".
	Pending   []string
	Projects  map[ProjectID]ProjectCapacity
	Demands   map[DemandID]DemandCapacity
	Employees map[EmployeeID]EmployeeLoad
	Err       error
}

type Poller struct {
	Reader *SnapshotReader
	Policy RetryPolicy
	Logger *logrus.Entry
}

func NewPoller(reader *SnapshotReader, policy RetryPolicy, logger *logrus.Entry) *Poller {
	return &Poller{Reader: reader, Policy: policy, Logger: logger}
}

// Reconcile polls until every expectation is met or the policy is exhausted.
func (p *Poller) Reconcile(ctx context.Context, exp Expectation) ReconcileResult {
	res := ReconcileResult{
		Projects:  make(map[ProjectID]ProjectCapacity),
		Demands:   make(map[DemandID]DemandCapacity),
		Employees: make(map[EmployeeID]EmployeeLoad),
	}
	if exp.Empty() {
		return res
	}

	pendingProjects := copyMap(exp.Projects)
	pendingDemands := copyMap(exp.Demands)
	pendingEmployees := copyMap(exp.Employees)

	attempts, err := Retry(ctx, p.Policy, func(ctx context.Context, attempt int) error {
		for id, want := range pendingProjects {
			pc, found, err := p.Reader.ReadProjectCapacity(ctx, id)
			if err == nil && found {
				res.Projects[id] = pc
				if pc.Allocated >= want {
					delete(pendingProjects, id)
				}
			}
		}
		for id, want := range pendingDemands {
			dc, found, err := p.Reader.ReadDemandCapacity(ctx, id)
			if err == nil && found {
				res.Demands[id] = dc
				if dc.AllocatedCount >= want {
					delete(pendingDemands, id)
				}
			}
		}
		for id, want := range pendingEmployees {
			el, found, err := p.Reader.ReadEmployeeLoad(ctx, id)
			if err == nil && found {
				res.Employees[id] = el
				if el.Percentage >= want {
					delete(pendingEmployees, id)
				}
			}
		}
		if len(pendingProjects)+len(pendingDemands)+len(pendingEmployees) > 0 {
			return errNotFresh
		}
		return nil
	})
	res.Attempts = attempts

	for id := range pendingProjects {
		res.Pending = append(res.Pending, fmt.Sprintf("project %s", id))
	}
	for id := range pendingDemands {
		res.Pending = append(res.Pending, fmt.Sprintf("demand %d", id))
	}
	for id := range pendingEmployees {
		res.Pending = append(res.Pending, fmt.Sprintf("employee %s", id))
	}
	sort.Strings(res.Pending)
	res.Stale = len(res.Pending) > 0
	if err != nil && !errors.Is(err, errNotFresh) {
		res.Err = err
	}

	log := p.logger().WithField("attempts", attempts)
	if res.Stale {
		log.WithField("pending", res.Pending).Warn("stale view: aggregates did not catch up")
		metricReconciliations.WithLabelValues(reconcileOutcomeStale).Inc()
	} else {
		log.Debug("aggregates reconciled")
		metricReconciliations.WithLabelValues(reconcileOutcomeFresh).Inc()
	}
	return res
}

func (p *Poller) logger() *logrus.Entry {
	if p.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return p.Logger
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
