package allocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CAPACITY VIEWS - Point-in-time reads of aggregate state
// =============================================================================

type ProjectCapacity struct {
	ProjectID ProjectID
	Required  int
	Allocated int
	StartDate *Date
	EndDate   *Date
}

// Constrained is false when the project has no headcount target.
func (c ProjectCapacity) Constrained() bool { return c.Required > 0 }

// Available is max(0, Required - Allocated), the number of allocations that
// could still be added.
func (c ProjectCapacity) Available() int { return maxInt(0, c.Required-c.Allocated) }

// Utilization is Allocated/Required, zero when unconstrained.
func (c ProjectCapacity) Utilization() decimal.Decimal {
	return ratio(c.Allocated, c.Required)
}

func (c ProjectCapacity) HasDates() bool { return c.StartDate != nil && c.EndDate != nil }

type DemandCapacity struct {
	DemandID       DemandID
	ProjectID      ProjectID
	Quantity       int
	AllocatedCount int
}

func (c DemandCapacity) Constrained() bool { return c.Quantity > 0 }

func (c DemandCapacity) Available() int { return maxInt(0, c.Quantity-c.AllocatedCount) }

func (c DemandCapacity) Utilization() decimal.Decimal {
	return ratio(c.AllocatedCount, c.Quantity)
}

func (c DemandCapacity) label() string { return strconv.FormatInt(int64(c.DemandID), 10) }

type EmployeeLoad struct {
	EmployeeID EmployeeID
	Percentage int
}

// Available is the percentage still free for this employee.
func (l EmployeeLoad) Available() int { return maxInt(0, MaxPercentage-l.Percentage) }

// FTE expresses the load as a fraction of one full-time equivalent.
func (l EmployeeLoad) FTE() decimal.Decimal {
	return ratio(l.Percentage, MaxPercentage)
}

func ratio(num, den int) decimal.Decimal {
	if den <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(num)).Div(decimal.NewFromInt(int64(den))).Round(4)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// =============================================================================
// SNAPSHOT READER
// =============================================================================

// SnapshotReader issues single reads against the store. A missing entity is
// reported as found=false, never as an error.
type SnapshotReader struct {
	Store EntityStore
}

func NewSnapshotReader(store EntityStore) *SnapshotReader {
	return &SnapshotReader{Store: store}
}

func (r *SnapshotReader) ReadProjectCapacity(ctx context.Context, id ProjectID) (ProjectCapacity, bool, error) {
	p, err := r.Store.GetProject(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return ProjectCapacity{}, false, nil
	}
	if err != nil {
		return ProjectCapacity{}, false, fmt.Errorf("read project %s: %w", id, err)
	}
	return ProjectCapacity{
		ProjectID: p.ID,
		Required:  p.RequiredResources,
		Allocated: p.AllocatedResources,
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
	}, true, nil
}

func (r *SnapshotReader) ReadDemandCapacity(ctx context.Context, id DemandID) (DemandCapacity, bool, error) {
	d, err := r.Store.GetDemand(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return DemandCapacity{}, false, nil
	}
	if err != nil {
		return DemandCapacity{}, false, fmt.Errorf("read demand %d: %w", id, err)
	}
	return DemandCapacity{
		DemandID:       d.ID,
		ProjectID:      d.ProjectID,
		Quantity:       d.Quantity,
		AllocatedCount: d.AllocatedCount,
	}, true, nil
}

func (r *SnapshotReader) ReadEmployeeLoad(ctx context.Context, id EmployeeID) (EmployeeLoad, bool, error) {
	e, err := r.Store.GetEmployee(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return EmployeeLoad{}, false, nil
	}
	if err != nil {
		return EmployeeLoad{}, false, fmt.Errorf("read employee %s: %w", id, err)
	}
	return EmployeeLoad{EmployeeID: e.ID, Percentage: e.CurrentAllocationPercentage}, true, nil
}

// =============================================================================
// SNAPSHOT - Everything a batch needs, read once
// =============================================================================

// Snapshot holds the capacity state for every distinct target of a batch.
// Targets missing from the maps were unavailable; the matching entry in
// Unavailable says why.
type Snapshot struct {
	Projects    map[ProjectID]ProjectCapacity
	Demands     map[DemandID]DemandCapacity
	Employees   map[EmployeeID]EmployeeLoad
	Unavailable []*SnapshotUnavailableError
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Projects:  make(map[ProjectID]ProjectCapacity),
		Demands:   make(map[DemandID]DemandCapacity),
		Employees: make(map[EmployeeID]EmployeeLoad),
	}
}

// ReadBatch reads each distinct project, demand and employee referenced by the
// candidates, in first-seen order. Failed or missing reads are recorded as
// warnings and the snapshot is returned regardless. The only error returned is
// a cancelled context.
func (r *SnapshotReader) ReadBatch(ctx context.Context, candidates []Candidate) (*Snapshot, error) {
	snap := NewSnapshot()
	seenProject := make(map[ProjectID]bool)
	seenDemand := make(map[DemandID]bool)
	seenEmployee := make(map[EmployeeID]bool)

	for _, c := range candidates {
		if !seenProject[c.ProjectID] {
			seenProject[c.ProjectID] = true
			pc, found, err := r.ReadProjectCapacity(ctx, c.ProjectID)
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			if found {
				snap.Projects[c.ProjectID] = pc
			} else {
				snap.Unavailable = append(snap.Unavailable, &SnapshotUnavailableError{Target: TargetProject, ID: string(c.ProjectID), Cause: err})
			}
		}
		if !seenDemand[c.DemandID] {
			seenDemand[c.DemandID] = true
			dc, found, err := r.ReadDemandCapacity(ctx, c.DemandID)
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			if found {
				snap.Demands[c.DemandID] = dc
			} else {
				snap.Unavailable = append(snap.Unavailable, &SnapshotUnavailableError{Target: TargetDemand, ID: fmt.Sprint(c.DemandID), Cause: err})
			}
		}
		if !seenEmployee[c.EmployeeID] {
			seenEmployee[c.EmployeeID] = true
			el, found, err := r.ReadEmployeeLoad(ctx, c.EmployeeID)
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			if found {
				snap.Employees[c.EmployeeID] = el
			} else {
				snap.Unavailable = append(snap.Unavailable, &SnapshotUnavailableError{Target: TargetEmployee, ID: string(c.EmployeeID), Cause: err})
			}
		}
	}
	return snap, nil
}
