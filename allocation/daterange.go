package allocation

import "fmt"

// =============================================================================
// DATE RANGE VALIDATOR
// =============================================================================

// DateRangeValidator checks candidate dates against each other and against the
// target project's bounds.
type DateRangeValidator struct{}

// CheckOrder rejects candidates whose start date is after their end date.
// It needs no store data and runs before any read.
func (v DateRangeValidator) CheckOrder(ds []Decision) {
	for i := range ds {
		c := ds[i].Candidate
		if c.StartDate == nil || c.EndDate == nil {
			continue
		}
		if c.StartDate.After(*c.EndDate) {
			ds[i].Reject(&DateRangeError{
				Reason: fmt.Sprintf("start date %s is after end date %s", c.StartDate, c.EndDate),
			})
		}
	}
}

// CheckContainment rejects candidates falling outside their project's dates.
// Projects without both dates, or missing from the snapshot, are skipped.
func (v DateRangeValidator) CheckContainment(snap *Snapshot, ds []Decision) {
	for i := range ds {
		c := ds[i].Candidate
		pc, ok := snap.Projects[c.ProjectID]
		if !ok || !pc.HasDates() {
			continue
		}
		if c.StartDate != nil && c.StartDate.Before(*pc.StartDate) {
			ds[i].Reject(&DateRangeError{
				Reason: fmt.Sprintf("start date %s is before project %s start %s", c.StartDate, c.ProjectID, pc.StartDate),
			})
		}
		if c.EndDate != nil && c.EndDate.After(*pc.EndDate) {
			ds[i].Reject(&DateRangeError{
				Reason: fmt.Sprintf("end date %s is after project %s end %s", c.EndDate, c.ProjectID, pc.EndDate),
			})
		}
	}
}

// Validate runs both checks against a fresh candidate set.
func (v DateRangeValidator) Validate(snap *Snapshot, candidates []Candidate) []Decision {
	ds := NewDecisions(candidates)
	v.CheckOrder(ds)
	v.CheckContainment(snap, ds)
	return ds
}
