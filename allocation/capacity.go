/*
capacity.go - Capacity Validator

PURPOSE:
  Pure decision logic. Given a Snapshot and the candidates still in play,
  checks the three nested capacity constraints:

    Employee: current% + requested%          <= 100
    Project:  allocatedResources + newCount  <= requiredResources  (if > 0)
    Demand:   allocatedCount + newCount      <= quantity           (if > 0)

  The checks are independent. A candidate is accepted only if every check it
  is subject to passes.

BATCH SEMANTICS:
  Each employee is checked against its own percentage: requested is the sum of
  that employee's candidates in the batch (a single candidate's percentage in
  the common case). The rejection carries that batch total as Requested, so
  a 30% candidate sharing the batch with another 30% for the same employee
  reports Requested=60. Project and demand checks are evaluated once per target
  against the total number of new allocations aimed at it; when the total
  does not fit, every candidate for that target is rejected.

MISSING SNAPSHOTS:
  A target absent from the Snapshot is not checked (fail-open).
*/
package allocation

// CapacityValidator holds no state; the zero value is ready to use.
type CapacityValidator struct{}

// Validate is a convenience for checking a fresh candidate set.
func (v CapacityValidator) Validate(snap *Snapshot, candidates []Candidate) []Decision {
	ds := NewDecisions(candidates)
	v.Apply(snap, ds)
	return ds
}

// Apply checks the still-accepted decisions in ds and records rejections.
func (v CapacityValidator) Apply(snap *Snapshot, ds []Decision) {
	idx := live(ds)

	// All three checks see the same candidate set so they stay independent.
	employeeRejections := v.checkEmployees(snap, ds, idx)
	projectRejections := v.checkProjects(snap, ds, idx)
	demandRejections := v.checkDemands(snap, ds, idx)

	for _, rejections := range []map[int]error{employeeRejections, projectRejections, demandRejections} {
		for _, i := range idx {
			if err, ok := rejections[i]; ok {
				ds[i].Reject(err)
			}
		}
	}
}

func (v CapacityValidator) checkEmployees(snap *Snapshot, ds []Decision, idx []int) map[int]error {
	out := make(map[int]error)
	order, groups := groupBy(ds, idx, func(c Candidate) EmployeeID { return c.EmployeeID })
	for _, emp := range order {
		load, ok := snap.Employees[emp]
		if !ok {
			continue
		}
		requested := 0
		for _, i := range groups[emp] {
			requested += ds[i].Candidate.Percentage
		}
		total := load.Percentage + requested
		if total <= MaxPercentage {
			continue
		}
		err := &CapacityExceededError{
			Level:     LevelEmployee,
			TargetID:  string(emp),
			Current:   load.Percentage,
			Requested: requested,
			Total:     total,
			Limit:     MaxPercentage,
			Available: load.Available(),
			Excess:    total - MaxPercentage,
		}
		for _, i := range groups[emp] {
			out[i] = err
		}
	}
	return out
}

func (v CapacityValidator) checkProjects(snap *Snapshot, ds []Decision, idx []int) map[int]error {
	out := make(map[int]error)
	order, groups := groupBy(ds, idx, func(c Candidate) ProjectID { return c.ProjectID })
	for _, pid := range order {
		pc, ok := snap.Projects[pid]
		if !ok || !pc.Constrained() {
			continue
		}
		if err := headcountCheck(LevelProject, string(pid), pc.Allocated, len(groups[pid]), pc.Required); err != nil {
			for _, i := range groups[pid] {
				out[i] = err
			}
		}
	}
	return out
}

func (v CapacityValidator) checkDemands(snap *Snapshot, ds []Decision, idx []int) map[int]error {
	out := make(map[int]error)
	order, groups := groupBy(ds, idx, func(c Candidate) DemandID { return c.DemandID })
	for _, did := range order {
		dc, ok := snap.Demands[did]
		if !ok || !dc.Constrained() {
			continue
		}
		if err := headcountCheck(LevelDemand, dc.label(), dc.AllocatedCount, len(groups[did]), dc.Quantity); err != nil {
			for _, i := range groups[did] {
				out[i] = err
			}
		}
	}
	return out
}

// headcountCheck returns nil when allocated+requested fits under limit.
func headcountCheck(level Level, id string, allocated, requested, limit int) *CapacityExceededError {
	total := allocated + requested
	if total <= limit {
		return nil
	}
	return &CapacityExceededError{
		Level:     level,
		TargetID:  id,
		Current:   allocated,
		Requested: requested,
		Total:     total,
		Limit:     limit,
		Available: maxInt(0, limit-allocated),
		Excess:    total - limit,
	}
}
