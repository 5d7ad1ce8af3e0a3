/*
Package allocation provides the allocation capacity engine.

PURPOSE:
  Decides whether a proposed assignment of employees to a project demand may be
  committed. Three nested capacity constraints are tracked independently by the
  store (employee percentage, project headcount, demand headcount) and the store
  only exposes them as eventually-consistent aggregates. The engine pre-validates
  against a point-in-time snapshot, commits accepted candidates as one atomic
  batch, then polls until the aggregates catch up.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee, Project, Demand: the capacity holders, as read from the store
  - Allocation: a committed assignment (Active, Completed or Cancelled)
  - Candidate: a proposed allocation that has not been persisted yet
  - Record: the persisted shape of an Allocation at the store boundary

DATA FLOW:
  RequestContext ──▶ Candidates ──▶ SnapshotReader ──▶ validators ──▶ Committer
                                                                        │
                                                                        ▼
                                                                     Poller

SEE ALSO:
  - engine.go: Orchestrates validation and commit
  - errors.go: Rejection taxonomy
  - store.go: External store contract
*/
package allocation

import (
	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type ProjectID string
type DemandID int64
type AllocationID string

// NewAllocationID returns a random UUID used as a client-generated identity.
func NewAllocationID() AllocationID {
	return AllocationID(uuid.NewString())
}

// =============================================================================
// CAPACITY HOLDERS
// =============================================================================

// MaxPercentage is the ceiling for the sum of an employee's active allocations.
const MaxPercentage = 100

// DefaultPercentage is applied to candidates that do not specify one.
const DefaultPercentage = 100

type Employee struct {
	ID                          EmployeeID
	Name                        string
	CurrentAllocationPercentage int
}

// Project with RequiredResources == 0 is unconstrained.
type Project struct {
	ID                 ProjectID
	Name               string
	RequiredResources  int
	AllocatedResources int // server-computed, may lag behind writes
	StartDate          *Date
	EndDate            *Date
}

// HasDates reports whether both project bounds are set.
func (p Project) HasDates() bool {
	return p.StartDate != nil && p.EndDate != nil
}

// Demand with Quantity == 0 is unconstrained.
type Demand struct {
	ID             DemandID
	ProjectID      ProjectID
	Skill          string
	Band           string
	Quantity       int
	AllocatedCount int // server-computed, may lag behind writes
}

// =============================================================================
// ALLOCATION
// =============================================================================

type Status string

const (
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Allocation struct {
	ID         AllocationID
	EmployeeID EmployeeID
	ProjectID  ProjectID
	DemandID   DemandID
	StartDate  *Date
	EndDate    *Date
	Percentage int
	Status     Status
	GroupID    string
}

// Candidate is an allocation that exists only in memory. It has no identity
// beyond an optional pre-generated ID until the committer assigns one.
type Candidate struct {
	ID         AllocationID `json:"id,omitempty"`
	EmployeeID EmployeeID   `json:"employeeId" validate:"required"`
	ProjectID  ProjectID    `json:"projectId" validate:"required"`
	DemandID   DemandID     `json:"demandId" validate:"required,gt=0"`
	StartDate  *Date        `json:"startDate,omitempty"`
	EndDate    *Date        `json:"endDate,omitempty"`
	Percentage int          `json:"percentage" validate:"min=1,max=100"`
}

// Label identifies a candidate in log lines and messages. The ID is used when
// present, otherwise the employee.
func (c Candidate) Label() string {
	if c.ID != "" {
		return string(c.ID)
	}
	return string(c.EmployeeID)
}

// Record is the persisted shape of an allocation at the store boundary.
type Record struct {
	ID                   AllocationID `json:"id"`
	EmployeeID           EmployeeID   `json:"employeeId"`
	ProjectID            ProjectID    `json:"projectId"`
	DemandID             DemandID     `json:"demandId"`
	StartDate            *Date        `json:"startDate"`
	EndDate              *Date        `json:"endDate"`
	AllocationPercentage int          `json:"allocationPercentage"`
	Status               Status       `json:"status"`
}

// ToRecord converts a candidate into an Active record. The candidate must
// already carry an ID.
func (c Candidate) ToRecord() Record {
	return Record{
		ID:                   c.ID,
		EmployeeID:           c.EmployeeID,
		ProjectID:            c.ProjectID,
		DemandID:             c.DemandID,
		StartDate:            c.StartDate,
		EndDate:              c.EndDate,
		AllocationPercentage: c.Percentage,
		Status:               StatusActive,
	}
}

// Allocation converts a record back into the domain shape.
func (r Record) Allocation(groupID string) Allocation {
	return Allocation{
		ID:         r.ID,
		EmployeeID: r.EmployeeID,
		ProjectID:  r.ProjectID,
		DemandID:   r.DemandID,
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		Percentage: r.AllocationPercentage,
		Status:     r.Status,
		GroupID:    groupID,
	}
}
