package allocation

import (
	"fmt"
)

// =============================================================================
// STORE-SIDE ENFORCEMENT - Used by EntityStore implementations
// =============================================================================

// LiveTotals is the authoritative view a store checks records against at
// write time: totals computed from Active allocations, never from the lagging
// aggregate fields.
type LiveTotals struct {
	EmployeePercentage map[EmployeeID]int
	ProjectCount       map[ProjectID]int
	DemandCount        map[DemandID]int
}

func NewLiveTotals() *LiveTotals {
	return &LiveTotals{
		EmployeePercentage: make(map[EmployeeID]int),
		ProjectCount:       make(map[ProjectID]int),
		DemandCount:        make(map[DemandID]int),
	}
}

// Add counts an Active allocation.
func (t *LiveTotals) Add(a Allocation) {
	if a.Status != StatusActive {
		return
	}
	t.EmployeePercentage[a.EmployeeID] += a.Percentage
	t.ProjectCount[a.ProjectID]++
	t.DemandCount[a.DemandID]++
}

// Admit checks rec against every invariant and, when it fits, counts it so
// later records in the same batch see it. project and demand must be the
// records' targets as stored.
func (t *LiveTotals) Admit(rec Record, project *Project, demand *Demand) error {
	if err := t.Check(rec, project, demand); err != nil {
		return err
	}
	t.Count(rec)
	return nil
}

// Check is Admit without counting. Stores whose write can still fail after
// the check call Count once the record is actually written.
func (t *LiveTotals) Check(rec Record, project *Project, demand *Demand) error {
	if rec.AllocationPercentage < 1 || rec.AllocationPercentage > MaxPercentage {
		return fmt.Errorf("allocationPercentage %d out of range 1-%d", rec.AllocationPercentage, MaxPercentage)
	}
	if demand.ProjectID != project.ID {
		return fmt.Errorf("demand %d belongs to project %s, not %s", demand.ID, demand.ProjectID, project.ID)
	}
	if rec.StartDate != nil && rec.EndDate != nil && rec.StartDate.After(*rec.EndDate) {
		return fmt.Errorf("startDate %s after endDate %s", rec.StartDate, rec.EndDate)
	}
	if project.HasDates() {
		if rec.StartDate != nil && rec.StartDate.Before(*project.StartDate) {
			return fmt.Errorf("startDate %s before project start %s", rec.StartDate, project.StartDate)
		}
		if rec.EndDate != nil && rec.EndDate.After(*project.EndDate) {
			return fmt.Errorf("endDate %s after project end %s", rec.EndDate, project.EndDate)
		}
	}
	if total := t.EmployeePercentage[rec.EmployeeID] + rec.AllocationPercentage; total > MaxPercentage {
		return fmt.Errorf("employee %s would be allocated %d%%", rec.EmployeeID, total)
	}
	if project.RequiredResources > 0 && t.ProjectCount[project.ID]+1 > project.RequiredResources {
		return fmt.Errorf("project %s is fully staffed (%d)", project.ID, project.RequiredResources)
	}
	if demand.Quantity > 0 && t.DemandCount[demand.ID]+1 > demand.Quantity {
		return fmt.Errorf("demand %d is fully staffed (%d)", demand.ID, demand.Quantity)
	}
	return nil
}

// Count adds rec as an Active allocation.
func (t *LiveTotals) Count(rec Record) {
	t.Add(Allocation{
		EmployeeID: rec.EmployeeID,
		ProjectID:  rec.ProjectID,
		DemandID:   rec.DemandID,
		Percentage: rec.AllocationPercentage,
		Status:     StatusActive,
	})
}
