package allocation_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/allocation/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	benchProject allocation.ProjectID = "P-BENCH"
	benchDemand  allocation.DemandID  = 1

	projectID allocation.ProjectID = "P-1"
	demandID  allocation.DemandID  = 7
	// seedDemand is a second, unconstrained demand on projectID used to seed
	// project headcount without touching demandID.
	seedDemand allocation.DemandID = 8
)

var fastPolicy = allocation.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fixture is a memory store seeded with a bench project, the project under
// test and five employees E-1..E-5.
type fixture struct {
	store  *store.Memory
	engine *allocation.Engine
	rc     allocation.RequestContext
	seq    int
}

func newFixture(t *testing.T, required, quantity int) *fixture {
	t.Helper()
	m := store.NewMemory()
	m.PutProject(allocation.Project{ID: benchProject, Name: "Bench"})
	m.PutDemand(allocation.Demand{ID: benchDemand, ProjectID: benchProject})
	m.PutProject(allocation.Project{ID: projectID, Name: "Platform", RequiredResources: required})
	m.PutDemand(allocation.Demand{ID: demandID, ProjectID: projectID, Skill: "Go", Band: "B2", Quantity: quantity})
	m.PutDemand(allocation.Demand{ID: seedDemand, ProjectID: projectID, Skill: "QA"})
	for _, id := range []allocation.EmployeeID{"E-1", "E-2", "E-3", "E-4", "E-5"} {
		m.PutEmployee(allocation.Employee{ID: id, Name: string(id)})
	}
	return &fixture{
		store: m,
		engine: allocation.NewEngine(m,
			allocation.WithLogger(quietLogger()),
			allocation.WithRetryPolicy(fastPolicy),
		),
		rc: allocation.RequestContext{ProjectID: projectID, DemandID: demandID, RequestedBy: "tester"},
	}
}

// withDates replaces the project under test with a dated copy.
func (f *fixture) withDates(start, end string) {
	p, _ := f.store.GetProject(context.Background(), projectID)
	p.StartDate = allocation.DatePtr(allocation.MustParseDate(start))
	p.EndDate = allocation.DatePtr(allocation.MustParseDate(end))
	f.store.PutProject(*p)
}

func (f *fixture) existing(emp allocation.EmployeeID, project allocation.ProjectID, demand allocation.DemandID, pct int) {
	f.seq++
	f.store.PutAllocation(allocation.Allocation{
		ID:         allocation.AllocationID(fmt.Sprintf("seed-%d", f.seq)),
		EmployeeID: emp,
		ProjectID:  project,
		DemandID:   demand,
		Percentage: pct,
		Status:     allocation.StatusActive,
	})
	f.store.Refresh()
}

// load gives emp an existing pct% allocation on the bench.
func (f *fixture) load(emp allocation.EmployeeID, pct int) {
	f.existing(emp, benchProject, benchDemand, pct)
}

func candidate(emp allocation.EmployeeID, pct int) allocation.Candidate {
	return allocation.Candidate{EmployeeID: emp, ProjectID: projectID, DemandID: demandID, Percentage: pct}
}

func snapshotWith(projects []allocation.ProjectCapacity, demands []allocation.DemandCapacity, employees []allocation.EmployeeLoad) *allocation.Snapshot {
	snap := allocation.NewSnapshot()
	for _, p := range projects {
		snap.Projects[p.ProjectID] = p
	}
	for _, d := range demands {
		snap.Demands[d.DemandID] = d
	}
	for _, e := range employees {
		snap.Employees[e.EmployeeID] = e
	}
	return snap
}
