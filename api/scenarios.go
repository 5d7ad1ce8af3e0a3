/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	staffing data. Each scenario creates employees, projects, demands and
	existing allocations that put one capacity rule under pressure.

AVAILABLE SCENARIOS:

	open-staffing:      Project with free seats, nobody allocated yet
	over-allocated:     Employees already near 100% elsewhere
	full-demand:        Demand at quantity, project still has room
	dated-project:      Project with start/end dates to exercise containment

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create employees, projects and demands
 3. Commit existing allocations through CreateBatch (store-enforced)
 4. Refresh aggregates so snapshots start consistent

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "over-allocated"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Allocation endpoints to run against a loaded scenario
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/allocation-engine/allocation"
)

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rule        string `json:"rule"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "open-staffing",
		Name:        "Open Staffing",
		Description: "Platform project needs 4 engineers, 5 people on the bench",
		Rule:        "none",
	},
	{
		ID:          "over-allocated",
		Name:        "Over-Allocated Employees",
		Description: "Two engineers already at 80% and 100% on other work",
		Rule:        "employee",
	},
	{
		ID:          "full-demand",
		Name:        "Full Demand",
		Description: "Go demand filled (2/2) while the project still has 2 open seats",
		Rule:        "demand",
	},
	{
		ID:          "dated-project",
		Name:        "Dated Project",
		Description: "Project runs 2025-01-01 to 2025-06-30",
		Rule:        "dates",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var load func(ctx context.Context) error
	switch req.ScenarioID {
	case "open-staffing":
		load = h.loadOpenStaffingScenario
	case "over-allocated":
		load = h.loadOverAllocatedScenario
	case "full-demand":
		load = h.loadFullDemandScenario
	case "dated-project":
		load = h.loadDatedProjectScenario
	default:
		writeError(w, http.StatusBadRequest, "unknown scenario", nil)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load scenario", err)
		return
	}
	if _, err := h.Store.RefreshAggregates(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to refresh aggregates", err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.Logger.WithField("scenario", req.ScenarioID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// Every scenario shares the same bench of five engineers and a bench project
// that existing allocations can point at.
const (
	scenarioBench       allocation.ProjectID = "bench"
	scenarioPlatform    allocation.ProjectID = "platform"
	scenarioBenchDemand allocation.DemandID  = 1
	scenarioGoDemand    allocation.DemandID  = 10
	scenarioQADemand    allocation.DemandID  = 11
)

func (h *Handler) seedBench(ctx context.Context) error {
	people := []allocation.Employee{
		{ID: "emp-ada", Name: "Ada Lovelace"},
		{ID: "emp-alan", Name: "Alan Turing"},
		{ID: "emp-grace", Name: "Grace Hopper"},
		{ID: "emp-ken", Name: "Ken Thompson"},
		{ID: "emp-barbara", Name: "Barbara Liskov"},
	}
	for _, e := range people {
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return fmt.Errorf("save employee %s: %w", e.ID, err)
		}
	}
	if err := h.Store.SaveProject(ctx, allocation.Project{ID: scenarioBench, Name: "Bench"}); err != nil {
		return err
	}
	_, err := h.Store.SaveDemand(ctx, allocation.Demand{ID: scenarioBenchDemand, ProjectID: scenarioBench, Skill: "any"})
	return err
}

func (h *Handler) seedPlatform(ctx context.Context, p allocation.Project, goQuantity int) error {
	if err := h.Store.SaveProject(ctx, p); err != nil {
		return err
	}
	if _, err := h.Store.SaveDemand(ctx, allocation.Demand{ID: scenarioGoDemand, ProjectID: p.ID, Skill: "Go", Band: "B2", Quantity: goQuantity}); err != nil {
		return err
	}
	_, err := h.Store.SaveDemand(ctx, allocation.Demand{ID: scenarioQADemand, ProjectID: p.ID, Skill: "QA", Band: "B1", Quantity: 2})
	return err
}

// seedAllocations commits existing allocations through the store's own
// enforcement, failing if any record is refused.
func (h *Handler) seedAllocations(ctx context.Context, records ...allocation.Record) error {
	for i := range records {
		records[i].ID = allocation.NewAllocationID()
		records[i].Status = allocation.StatusActive
	}
	res, err := h.Store.CreateBatch(ctx, "scenario-seed", records)
	if err != nil {
		return err
	}
	for _, st := range res.Statuses {
		if !st.Success {
			return fmt.Errorf("seed allocation refused: %s", st.Error)
		}
	}
	return nil
}

func (h *Handler) loadOpenStaffingScenario(ctx context.Context) error {
	if err := h.seedBench(ctx); err != nil {
		return err
	}
	return h.seedPlatform(ctx, allocation.Project{ID: scenarioPlatform, Name: "Platform Rewrite", RequiredResources: 4}, 3)
}

func (h *Handler) loadOverAllocatedScenario(ctx context.Context) error {
	if err := h.loadOpenStaffingScenario(ctx); err != nil {
		return err
	}
	return h.seedAllocations(ctx,
		allocation.Record{EmployeeID: "emp-ada", ProjectID: scenarioBench, DemandID: scenarioBenchDemand, AllocationPercentage: 80},
		allocation.Record{EmployeeID: "emp-alan", ProjectID: scenarioBench, DemandID: scenarioBenchDemand, AllocationPercentage: 100},
	)
}

func (h *Handler) loadFullDemandScenario(ctx context.Context) error {
	if err := h.loadOpenStaffingScenario(ctx); err != nil {
		return err
	}
	// The Go demand is resized to exactly the two seeded allocations.
	if _, err := h.Store.SaveDemand(ctx, allocation.Demand{ID: scenarioGoDemand, ProjectID: scenarioPlatform, Skill: "Go", Band: "B2", Quantity: 2}); err != nil {
		return err
	}
	return h.seedAllocations(ctx,
		allocation.Record{EmployeeID: "emp-grace", ProjectID: scenarioPlatform, DemandID: scenarioGoDemand, AllocationPercentage: 50},
		allocation.Record{EmployeeID: "emp-ken", ProjectID: scenarioPlatform, DemandID: scenarioGoDemand, AllocationPercentage: 50},
	)
}

func (h *Handler) loadDatedProjectScenario(ctx context.Context) error {
	if err := h.seedBench(ctx); err != nil {
		return err
	}
	return h.seedPlatform(ctx, allocation.Project{
		ID:                scenarioPlatform,
		Name:              "H1 Migration",
		RequiredResources: 3,
		StartDate:         allocation.DatePtr(allocation.MustParseDate("2025-01-01")),
		EndDate:           allocation.DatePtr(allocation.MustParseDate("2025-06-30")),
	}, 3)
}
