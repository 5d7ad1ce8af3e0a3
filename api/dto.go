/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the engine's
  types from the wire contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Candidate field validation happens in the engine, not here. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"errors"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/warp/allocation-engine/allocation"
)

// =============================================================================
// ENTITIES
// =============================================================================

type EmployeeDTO struct {
	ID                          string `json:"id"`
	Name                        string `json:"name"`
	CurrentAllocationPercentage int    `json:"currentAllocationPercentage"`
}

type CreateEmployeeRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ProjectDTO struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	RequiredResources  int              `json:"requiredResources"`
	AllocatedResources int              `json:"allocatedResources"`
	StartDate          *allocation.Date `json:"startDate"`
	EndDate            *allocation.Date `json:"endDate"`
}

type CreateProjectRequest struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	RequiredResources int              `json:"requiredResources"`
	StartDate         *allocation.Date `json:"startDate,omitempty"`
	EndDate           *allocation.Date `json:"endDate,omitempty"`
}

type DemandDTO struct {
	ID             int64  `json:"id"`
	ProjectID      string `json:"projectId"`
	Skill          string `json:"skill,omitempty"`
	Band           string `json:"band,omitempty"`
	Quantity       int    `json:"quantity"`
	AllocatedCount int    `json:"allocatedCount"`
}

type CreateDemandRequest struct {
	ID        int64  `json:"id,omitempty"`
	ProjectID string `json:"projectId"`
	Skill     string `json:"skill"`
	Band      string `json:"band"`
	Quantity  int    `json:"quantity"`
}

func toEmployeeDTO(e allocation.Employee) EmployeeDTO {
	return EmployeeDTO{ID: string(e.ID), Name: e.Name, CurrentAllocationPercentage: e.CurrentAllocationPercentage}
}

func toProjectDTO(p allocation.Project) ProjectDTO {
	return ProjectDTO{
		ID:                 string(p.ID),
		Name:               p.Name,
		RequiredResources:  p.RequiredResources,
		AllocatedResources: p.AllocatedResources,
		StartDate:          p.StartDate,
		EndDate:            p.EndDate,
	}
}

func toDemandDTO(d allocation.Demand) DemandDTO {
	return DemandDTO{
		ID:             int64(d.ID),
		ProjectID:      string(d.ProjectID),
		Skill:          d.Skill,
		Band:           d.Band,
		Quantity:       d.Quantity,
		AllocatedCount: d.AllocatedCount,
	}
}

// =============================================================================
// CAPACITY
// =============================================================================

type CapacityDTO struct {
	ID          string          `json:"id"`
	Limit       int             `json:"limit"`
	Allocated   int             `json:"allocated"`
	Available   int             `json:"available"`
	Constrained bool            `json:"constrained"`
	Utilization decimal.Decimal `json:"utilization"`
}

type EmployeeLoadDTO struct {
	EmployeeID string          `json:"employeeId"`
	Percentage int             `json:"percentage"`
	Available  int             `json:"available"`
	FTE        decimal.Decimal `json:"fte"`
}

func projectCapacityDTO(c allocation.ProjectCapacity) CapacityDTO {
	return CapacityDTO{
		ID:          string(c.ProjectID),
		Limit:       c.Required,
		Allocated:   c.Allocated,
		Available:   c.Available(),
		Constrained: c.Constrained(),
		Utilization: c.Utilization(),
	}
}

func demandCapacityDTO(c allocation.DemandCapacity) CapacityDTO {
	return CapacityDTO{
		ID:          strconv.FormatInt(int64(c.DemandID), 10),
		Limit:       c.Quantity,
		Allocated:   c.AllocatedCount,
		Available:   c.Available(),
		Constrained: c.Constrained(),
		Utilization: c.Utilization(),
	}
}

func employeeLoadDTO(l allocation.EmployeeLoad) EmployeeLoadDTO {
	return EmployeeLoadDTO{
		EmployeeID: string(l.EmployeeID),
		Percentage: l.Percentage,
		Available:  l.Available(),
		FTE:        l.FTE(),
	}
}

// =============================================================================
// ALLOCATION REQUESTS
// =============================================================================

// AllocateRequest carries the request context plus either a multi-select of
// employee ids or explicit candidates (or both).
type AllocateRequest struct {
	ProjectID    string                 `json:"projectId"`
	DemandID     int64                  `json:"demandId"`
	StartDate    *allocation.Date       `json:"startDate,omitempty"`
	EndDate      *allocation.Date       `json:"endDate,omitempty"`
	Percentage   int                    `json:"percentage,omitempty"`
	EmployeeIDs  []string               `json:"employeeIds,omitempty"`
	Candidates   []allocation.Candidate `json:"candidates,omitempty"`
	GroupID      string                 `json:"groupId,omitempty"`
	RequestedBy  string                 `json:"requestedBy,omitempty"`
	AllOrNothing bool                   `json:"allOrNothing,omitempty"`
}

func (r AllocateRequest) requestContext() allocation.RequestContext {
	return allocation.RequestContext{
		ProjectID:    allocation.ProjectID(r.ProjectID),
		DemandID:     allocation.DemandID(r.DemandID),
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		Percentage:   r.Percentage,
		GroupID:      r.GroupID,
		RequestedBy:  r.RequestedBy,
		AllOrNothing: r.AllOrNothing,
	}
}

func (r AllocateRequest) candidates() []allocation.Candidate {
	rc := r.requestContext()
	out := make([]allocation.Candidate, 0, len(r.EmployeeIDs)+len(r.Candidates))
	for _, id := range r.EmployeeIDs {
		out = append(out, rc.Apply(allocation.Candidate{EmployeeID: allocation.EmployeeID(id)}))
	}
	return append(out, r.Candidates...)
}

// =============================================================================
// VALIDATION RESPONSE
// =============================================================================

type RejectionDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`

	Level     string `json:"level,omitempty"`
	TargetID  string `json:"targetId,omitempty"`
	Current   *int   `json:"current,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	Total     *int   `json:"total,omitempty"`
	Available *int   `json:"available,omitempty"`
	Excess    *int   `json:"excess,omitempty"`

	EmployeeID         string `json:"employeeId,omitempty"`
	CombinedPercentage *int   `json:"combinedPercentage,omitempty"`
}

type DecisionDTO struct {
	Candidate  allocation.Candidate `json:"candidate"`
	Accepted   bool                 `json:"accepted"`
	Rejections []RejectionDTO       `json:"rejections,omitempty"`
}

type ValidationResponse struct {
	AllAccepted bool          `json:"allAccepted"`
	Accepted    int           `json:"accepted"`
	Rejected    int           `json:"rejected"`
	Decisions   []DecisionDTO `json:"decisions"`
	Warnings    []string      `json:"warnings,omitempty"`
}

func intPtr(n int) *int { return &n }

func toRejectionDTO(err error) RejectionDTO {
	dto := RejectionDTO{Message: err.Error()}
	var (
		ce  *allocation.CapacityExceededError
		bc  *allocation.BatchConflictError
		ice *allocation.InvalidCandidateError
	)
	switch {
	case errors.As(err, &ce):
		dto.Kind = "CapacityExceeded"
		dto.Level = string(ce.Level)
		dto.TargetID = ce.TargetID
		dto.Current = intPtr(ce.Current)
		dto.Requested = intPtr(ce.Requested)
		dto.Total = intPtr(ce.Total)
		dto.Available = intPtr(ce.Available)
		dto.Excess = intPtr(ce.Excess)
	case errors.As(err, &bc):
		dto.Kind = "BatchLocalConflict"
		dto.EmployeeID = string(bc.EmployeeID)
		dto.CombinedPercentage = intPtr(bc.CombinedPercentage)
	case errors.Is(err, allocation.ErrInvalidDateRange):
		dto.Kind = "DateRangeInvalid"
	case errors.As(err, &ice):
		dto.Kind = "InvalidCandidate"
	default:
		dto.Kind = "Rejected"
	}
	return dto
}

func toValidationResponse(r *allocation.ValidationReport) ValidationResponse {
	resp := ValidationResponse{Decisions: make([]DecisionDTO, 0, len(r.Decisions))}
	for _, d := range r.Decisions {
		dto := DecisionDTO{Candidate: d.Candidate, Accepted: d.Accepted()}
		for _, rej := range d.Rejections {
			dto.Rejections = append(dto.Rejections, toRejectionDTO(rej))
		}
		if d.Accepted() {
			resp.Accepted++
		} else {
			resp.Rejected++
		}
		resp.Decisions = append(resp.Decisions, dto)
	}
	resp.AllAccepted = resp.Rejected == 0
	for _, w := range r.Warnings {
		resp.Warnings = append(resp.Warnings, w.Error())
	}
	return resp
}

// =============================================================================
// COMMIT RESPONSE
// =============================================================================

type AllocationDTO struct {
	allocation.Record
	GroupID string `json:"groupId,omitempty"`
}

func toAllocationDTO(a allocation.Allocation) AllocationDTO {
	return AllocationDTO{
		Record: allocation.Record{
			ID:                   a.ID,
			EmployeeID:           a.EmployeeID,
			ProjectID:            a.ProjectID,
			DemandID:             a.DemandID,
			StartDate:            a.StartDate,
			EndDate:              a.EndDate,
			AllocationPercentage: a.Percentage,
			Status:               a.Status,
		},
		GroupID: a.GroupID,
	}
}

type FailureDTO struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employeeId"`
	Reason     string `json:"reason"`
}

type CommitDTO struct {
	GroupID   string          `json:"groupId"`
	Attempted int             `json:"attempted"`
	Succeeded int             `json:"succeeded"`
	Committed []AllocationDTO `json:"committed"`
	Failures  []FailureDTO    `json:"failures,omitempty"`
}

func toCommitDTO(r *allocation.CommitResult) *CommitDTO {
	if r == nil {
		return nil
	}
	dto := &CommitDTO{
		GroupID:   r.GroupID,
		Attempted: r.Attempted,
		Succeeded: r.Succeeded,
		Committed: make([]AllocationDTO, 0, len(r.Committed)),
	}
	for _, a := range r.Committed {
		dto.Committed = append(dto.Committed, toAllocationDTO(a))
	}
	for _, f := range r.Failures {
		dto.Failures = append(dto.Failures, FailureDTO{ID: string(f.ID), EmployeeID: string(f.EmployeeID), Reason: f.Reason})
	}
	return dto
}

type ReconcileDTO struct {
	Attempts int      `json:"attempts"`
	Stale    bool     `json:"stale"`
	Pending  []string `json:"pending,omitempty"`
}

func toReconcileDTO(r allocation.ReconcileResult) *ReconcileDTO {
	pending := append([]string(nil), r.Pending...)
	sort.Strings(pending)
	return &ReconcileDTO{Attempts: r.Attempts, Stale: r.Stale, Pending: pending}
}

type AllocateResponse struct {
	Validation     ValidationResponse `json:"validation"`
	Commit         *CommitDTO         `json:"commit,omitempty"`
	Error          string             `json:"error,omitempty"`
	Retryable      bool               `json:"retryable,omitempty"`
	Reconciliation *ReconcileDTO      `json:"reconciliation,omitempty"`
}

// ErrorResponse is returned for every non-2xx that is not an allocation outcome.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type RefreshResponse struct {
	Changed int64 `json:"changed"`
}
