/*
handlers.go - HTTP API handlers for the allocation engine

PURPOSE:
  Exposes the allocation capacity engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Entities:
    GET    /api/employees                  List employees
    POST   /api/employees                  Create employee
    GET    /api/employees/{id}             Get employee
    GET    /api/employees/{id}/load        Current allocation percentage
    POST   /api/projects                   Create project
    GET    /api/projects/{id}              Get project
    GET    /api/projects/{id}/capacity     Headcount capacity
    POST   /api/demands                    Create demand
    GET    /api/demands/{id}               Get demand
    GET    /api/demands/{id}/capacity      Headcount capacity

  Allocations:
    POST   /api/allocations/validate       Dry-run validation
    POST   /api/allocations                Validate and commit (?wait=true waits for reconciliation)
    GET    /api/allocations/{id}           Get allocation
    POST   /api/allocations/{id}/cancel    Mark Cancelled
    POST   /api/allocations/{id}/complete  Mark Completed

  Admin:
    POST   /api/admin/refresh              Recompute derived aggregates now

  Scenarios (scenarios.go):
    GET    /api/scenarios                  List demo scenarios
    GET    /api/scenarios/current          Currently loaded scenario
    POST   /api/scenarios/load             Reset and load a scenario
    POST   /api/scenarios/reset            Reset the database

ERROR HANDLING:
  - 400: Malformed body or id
  - 404: Entity not found
  - 422: Every candidate rejected, nothing committed
  - 207: Batch partially committed
  - 502: Batch submission failed; retry the batch
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *allocation.Engine
	Logger *logrus.Entry

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around store and engine.
func NewHandler(store *sqlite.Store, engine *allocation.Engine, logger *logrus.Entry) *Handler {
	return &Handler{Store: store, Engine: engine, Logger: logger}
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list employees", err)
		return
	}
	dtos := make([]EmployeeDTO, 0, len(employees))
	for _, e := range employees {
		dtos = append(dtos, toEmployeeDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	e := allocation.Employee{ID: allocation.EmployeeID(req.ID), Name: req.Name}
	if err := h.Store.SaveEmployee(r.Context(), e); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(e))
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := h.Store.GetEmployee(r.Context(), allocation.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		writeLookupError(w, "employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*e))
}

func (h *Handler) GetEmployeeLoad(w http.ResponseWriter, r *http.Request) {
	load, found, err := h.Engine.Reader.ReadEmployeeLoad(r.Context(), allocation.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read employee load", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "employee not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, employeeLoadDTO(load))
}

// =============================================================================
// PROJECTS
// =============================================================================

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	if req.RequiredResources < 0 {
		writeError(w, http.StatusBadRequest, "requiredResources must be >= 0", nil)
		return
	}
	if req.StartDate != nil && req.EndDate != nil && req.StartDate.After(*req.EndDate) {
		writeError(w, http.StatusBadRequest, "startDate must not be after endDate", nil)
		return
	}
	p := allocation.Project{
		ID:                allocation.ProjectID(req.ID),
		Name:              req.Name,
		RequiredResources: req.RequiredResources,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
	}
	if err := h.Store.SaveProject(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save project", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectDTO(p))
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProject(r.Context(), allocation.ProjectID(chi.URLParam(r, "id")))
	if err != nil {
		writeLookupError(w, "project", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(*p))
}

func (h *Handler) GetProjectCapacity(w http.ResponseWriter, r *http.Request) {
	c, found, err := h.Engine.Reader.ReadProjectCapacity(r.Context(), allocation.ProjectID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read project capacity", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "project not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, projectCapacityDTO(c))
}

// =============================================================================
// DEMANDS
// =============================================================================

func (h *Handler) CreateDemand(w http.ResponseWriter, r *http.Request) {
	var req CreateDemandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "projectId is required", nil)
		return
	}
	if req.Quantity < 0 {
		writeError(w, http.StatusBadRequest, "quantity must be >= 0", nil)
		return
	}
	if _, err := h.Store.GetProject(r.Context(), allocation.ProjectID(req.ProjectID)); err != nil {
		writeLookupError(w, "project", err)
		return
	}
	d := allocation.Demand{
		ID:        allocation.DemandID(req.ID),
		ProjectID: allocation.ProjectID(req.ProjectID),
		Skill:     req.Skill,
		Band:      req.Band,
		Quantity:  req.Quantity,
	}
	id, err := h.Store.SaveDemand(r.Context(), d)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save demand", err)
		return
	}
	d.ID = id
	writeJSON(w, http.StatusCreated, toDemandDTO(d))
}

func (h *Handler) GetDemand(w http.ResponseWriter, r *http.Request) {
	id, ok := demandIDParam(w, r)
	if !ok {
		return
	}
	d, err := h.Store.GetDemand(r.Context(), id)
	if err != nil {
		writeLookupError(w, "demand", err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandDTO(*d))
}

func (h *Handler) GetDemandCapacity(w http.ResponseWriter, r *http.Request) {
	id, ok := demandIDParam(w, r)
	if !ok {
		return
	}
	c, found, err := h.Engine.Reader.ReadDemandCapacity(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read demand capacity", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "demand not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, demandCapacityDTO(c))
}

func demandIDParam(w http.ResponseWriter, r *http.Request) (allocation.DemandID, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "demand id must be an integer", err)
		return 0, false
	}
	return allocation.DemandID(n), true
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// ValidateAllocations runs the engine's checks without committing.
func (h *Handler) ValidateAllocations(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	candidates := req.candidates()
	if len(candidates) == 0 {
		writeError(w, http.StatusBadRequest, "no candidates", nil)
		return
	}

	report, err := h.Engine.Validate(r.Context(), req.requestContext(), candidates)
	if err != nil {
		writeError(w, http.StatusRequestTimeout, "validation abandoned", err)
		return
	}
	writeJSON(w, http.StatusOK, toValidationResponse(report))
}

// CreateAllocations validates and commits. With ?wait=true the response
// includes the reconciliation result; otherwise reconciliation runs in the
// background and is only logged.
func (h *Handler) CreateAllocations(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	candidates := req.candidates()
	if len(candidates) == 0 {
		writeError(w, http.StatusBadRequest, "no candidates", nil)
		return
	}

	outcome, err := h.Engine.Allocate(r.Context(), req.requestContext(), candidates)
	if outcome == nil {
		writeError(w, http.StatusRequestTimeout, "allocation abandoned before commit", err)
		return
	}

	resp := AllocateResponse{
		Validation: toValidationResponse(outcome.Report),
		Commit:     toCommitDTO(outcome.Commit),
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Retryable = allocation.IsRetryable(err)
	}
	if outcome.Reconciliation != nil && r.URL.Query().Get("wait") == "true" {
		select {
		case res := <-outcome.Reconciliation:
			resp.Reconciliation = toReconcileDTO(res)
		case <-r.Context().Done():
			outcome.CancelReconciliation()
		}
	}

	writeJSON(w, allocateStatus(outcome, err), resp)
}

func allocateStatus(outcome *allocation.AllocationOutcome, err error) int {
	switch {
	case errors.Is(err, allocation.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, allocation.ErrPartialCommit):
		return http.StatusMultiStatus
	case err != nil:
		return http.StatusInternalServerError
	case outcome.Commit == nil:
		return http.StatusUnprocessableEntity
	case !outcome.Report.AllAccepted():
		return http.StatusMultiStatus
	default:
		return http.StatusCreated
	}
}

func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	a, err := h.Store.GetAllocation(r.Context(), allocation.AllocationID(chi.URLParam(r, "id")))
	if err != nil {
		writeLookupError(w, "allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(*a))
}

func (h *Handler) CancelAllocation(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, allocation.StatusCancelled)
}

func (h *Handler) CompleteAllocation(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, allocation.StatusCompleted)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, status allocation.Status) {
	id := allocation.AllocationID(chi.URLParam(r, "id"))
	if err := h.Store.SetStatus(r.Context(), id, status); err != nil {
		writeLookupError(w, "allocation", err)
		return
	}
	h.Logger.WithFields(logrus.Fields{"allocation_id": id, "status": status}).Info("allocation status changed")
	a, err := h.Store.GetAllocation(r.Context(), id)
	if err != nil {
		writeLookupError(w, "allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(*a))
}

// =============================================================================
// ADMIN
// =============================================================================

func (h *Handler) RefreshAggregates(w http.ResponseWriter, r *http.Request) {
	changed, err := h.Store.RefreshAggregates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to refresh aggregates", err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Changed: changed})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeLookupError(w http.ResponseWriter, what string, err error) {
	if allocation.IsNotFound(err) {
		writeError(w, http.StatusNotFound, what+" not found", nil)
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to load "+what, err)
}
