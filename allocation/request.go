package allocation

// =============================================================================
// REQUEST CONTEXT - Explicit parameters for one allocation flow
// =============================================================================

// RequestContext carries the project, demand and defaults a caller has
// selected. It is passed into every engine call; the engine keeps no session
// state of its own.
type RequestContext struct {
	ProjectID  ProjectID
	DemandID   DemandID
	StartDate  *Date
	EndDate    *Date
	Percentage int

	// GroupID names the transactional group for the commit. Generated when empty.
	GroupID     string
	RequestedBy string

	// AllOrNothing suppresses the commit when any candidate is rejected.
	AllOrNothing bool
}

// Candidates expands a multi-select of employees into one candidate each,
// all aimed at the context's project and demand.
func (rc RequestContext) Candidates(employees ...EmployeeID) []Candidate {
	out := make([]Candidate, 0, len(employees))
	for _, emp := range employees {
		out = append(out, rc.Apply(Candidate{EmployeeID: emp}))
	}
	return out
}

// Apply fills any field left blank on c from the context, then applies the
// default percentage.
func (rc RequestContext) Apply(c Candidate) Candidate {
	if c.ProjectID == "" {
		c.ProjectID = rc.ProjectID
	}
	if c.DemandID == 0 {
		c.DemandID = rc.DemandID
	}
	if c.StartDate == nil {
		c.StartDate = rc.StartDate
	}
	if c.EndDate == nil {
		c.EndDate = rc.EndDate
	}
	if c.Percentage == 0 {
		c.Percentage = rc.Percentage
	}
	if c.Percentage == 0 {
		c.Percentage = DefaultPercentage
	}
	return c
}
