package allocation

// =============================================================================
// BATCH CONFLICT DETECTOR
// =============================================================================

// ConflictDetector catches an employee appearing more than once in a batch
// with percentages that together exceed 100%. Each candidate may fit the
// (stale) server snapshot on its own; the sum cannot. It runs before any
// store read.
type ConflictDetector struct{}

// Detect is a convenience for checking a fresh candidate set.
func (d ConflictDetector) Detect(candidates []Candidate) []Decision {
	ds := NewDecisions(candidates)
	d.Apply(ds)
	return ds
}

// Apply rejects every member of an over-committed employee group.
func (d ConflictDetector) Apply(ds []Decision) {
	order, groups := groupBy(ds, live(ds), func(c Candidate) EmployeeID { return c.EmployeeID })
	for _, emp := range order {
		members := groups[emp]
		if len(members) < 2 {
			continue
		}
		sum := 0
		for _, i := range members {
			sum += ds[i].Candidate.Percentage
		}
		if sum <= MaxPercentage {
			continue
		}
		err := &BatchConflictError{EmployeeID: emp, CombinedPercentage: sum, Candidates: len(members)}
		for _, i := range members {
			ds[i].Reject(err)
		}
	}
}
