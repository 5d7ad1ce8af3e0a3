// Package store provides EntityStore implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/allocation-engine/allocation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory EntityStore. Like the real store, it recomputes the
// derived aggregates (project allocated resources, demand allocated count,
// employee percentage) separately from writes: after a write the published
// aggregates stay stale for Lag reads, then catch up.
type Memory struct {
	mu          sync.Mutex
	employees   map[allocation.EmployeeID]allocation.Employee
	projects    map[allocation.ProjectID]allocation.Project
	demands     map[allocation.DemandID]allocation.Demand
	allocations map[allocation.AllocationID]allocation.Allocation
	order       []allocation.AllocationID

	// Lag is the number of entity reads after a write before aggregates are
	// republished. Zero publishes synchronously.
	Lag          int
	readsPending int
	dirty        bool

	// Failure injection.
	readErr       error
	transportErr  error
	persistOnFail bool
	rejectIDs     map[allocation.AllocationID]string
}

var _ allocation.EntityStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		employees:   make(map[allocation.EmployeeID]allocation.Employee),
		projects:    make(map[allocation.ProjectID]allocation.Project),
		demands:     make(map[allocation.DemandID]allocation.Demand),
		allocations: make(map[allocation.AllocationID]allocation.Allocation),
		rejectIDs:   make(map[allocation.AllocationID]string),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

// PutEmployee stores e as-is, including its aggregate.
func (m *Memory) PutEmployee(e allocation.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
}

func (m *Memory) PutProject(p allocation.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

func (m *Memory) PutDemand(d allocation.Demand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.demands[d.ID] = d
}

// PutAllocation stores an existing allocation. Aggregates are not touched
// until the next Refresh.
func (m *Memory) PutAllocation(a allocation.Allocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.allocations[a.ID]; !ok {
		m.order = append(m.order, a.ID)
	}
	m.allocations[a.ID] = a
}

// =============================================================================
// FAILURE INJECTION
// =============================================================================

// FailReads makes every Get return err until called again with nil.
func (m *Memory) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailTransport makes the next CreateBatch return err. When persist is true
// the records are written before the error is returned, as happens when a
// response is lost in transit.
func (m *Memory) FailTransport(err error, persist bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transportErr = err
	m.persistOnFail = persist
}

// RejectRecord makes CreateBatch report a failure for id.
func (m *Memory) RejectRecord(id allocation.AllocationID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectIDs[id] = reason
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetEmployee(_ context.Context, id allocation.EmployeeID) (*allocation.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beforeReadLocked(); err != nil {
		return nil, err
	}
	e, ok := m.employees[id]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	return &e, nil
}

func (m *Memory) GetProject(_ context.Context, id allocation.ProjectID) (*allocation.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beforeReadLocked(); err != nil {
		return nil, err
	}
	p, ok := m.projects[id]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	return &p, nil
}

func (m *Memory) GetDemand(_ context.Context, id allocation.DemandID) (*allocation.Demand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beforeReadLocked(); err != nil {
		return nil, err
	}
	d, ok := m.demands[id]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	return &d, nil
}

func (m *Memory) GetAllocation(_ context.Context, id allocation.AllocationID) (*allocation.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	a, ok := m.allocations[id]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	return &a, nil
}

// Allocations returns every stored allocation in insertion order.
func (m *Memory) Allocations() []allocation.Allocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]allocation.Allocation, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.allocations[id])
	}
	return out
}

func (m *Memory) beforeReadLocked() error {
	if m.readErr != nil {
		return m.readErr
	}
	if m.dirty {
		m.readsPending--
		if m.readsPending < 0 {
			m.refreshLocked()
		}
	}
	return nil
}

// =============================================================================
// WRITES
// =============================================================================

// CreateBatch admits each record against live totals. Rejected records are
// reported and skipped; the rest are written together.
func (m *Memory) CreateBatch(_ context.Context, groupID string, records []allocation.Record) (allocation.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transportErr != nil {
		err := m.transportErr
		persist := m.persistOnFail
		m.transportErr, m.persistOnFail = nil, false
		if persist {
			m.admitLocked(groupID, records)
		}
		return allocation.BatchResult{}, err
	}
	return m.admitLocked(groupID, records), nil
}

func (m *Memory) admitLocked(groupID string, records []allocation.Record) allocation.BatchResult {
	totals := m.liveTotalsLocked()
	result := allocation.BatchResult{GroupID: groupID, Statuses: make([]allocation.RecordStatus, 0, len(records))}
	var admitted []allocation.Allocation
	inBatch := make(map[allocation.AllocationID]struct{}, len(records))

	for _, rec := range records {
		status := allocation.RecordStatus{ID: rec.ID}
		if err := m.checkRecordLocked(rec, totals, inBatch); err != nil {
			status.Error = err.Error()
		} else {
			status.Success = true
			inBatch[rec.ID] = struct{}{}
			admitted = append(admitted, rec.Allocation(groupID))
		}
		result.Statuses = append(result.Statuses, status)
	}

	for _, a := range admitted {
		m.allocations[a.ID] = a
		m.order = append(m.order, a.ID)
	}
	if len(admitted) > 0 {
		m.markDirtyLocked()
	}
	return result
}

func (m *Memory) checkRecordLocked(rec allocation.Record, totals *allocation.LiveTotals, inBatch map[allocation.AllocationID]struct{}) error {
	if reason, ok := m.rejectIDs[rec.ID]; ok {
		return fmt.Errorf("%s", reason)
	}
	if rec.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, exists := m.allocations[rec.ID]; exists {
		return fmt.Errorf("allocation %s already exists", rec.ID)
	}
	if _, dup := inBatch[rec.ID]; dup {
		return fmt.Errorf("allocation %s already exists", rec.ID)
	}
	if _, ok := m.employees[rec.EmployeeID]; !ok {
		return fmt.Errorf("employee %s not found", rec.EmployeeID)
	}
	project, ok := m.projects[rec.ProjectID]
	if !ok {
		return fmt.Errorf("project %s not found", rec.ProjectID)
	}
	demand, ok := m.demands[rec.DemandID]
	if !ok {
		return fmt.Errorf("demand %d not found", rec.DemandID)
	}
	return totals.Admit(rec, &project, &demand)
}

// SetStatus changes an allocation's status, e.g. to Cancelled.
func (m *Memory) SetStatus(_ context.Context, id allocation.AllocationID, status allocation.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocations[id]
	if !ok {
		return allocation.ErrNotFound
	}
	a.Status = status
	m.allocations[id] = a
	m.markDirtyLocked()
	return nil
}

// =============================================================================
// AGGREGATES
// =============================================================================

// Refresh republishes aggregates immediately.
func (m *Memory) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
}

func (m *Memory) markDirtyLocked() {
	if m.Lag <= 0 {
		m.refreshLocked()
		return
	}
	m.dirty = true
	m.readsPending = m.Lag
}

func (m *Memory) liveTotalsLocked() *allocation.LiveTotals {
	totals := allocation.NewLiveTotals()
	for _, a := range m.allocations {
		totals.Add(a)
	}
	return totals
}

func (m *Memory) refreshLocked() {
	totals := m.liveTotalsLocked()
	for id, e := range m.employees {
		e.CurrentAllocationPercentage = totals.EmployeePercentage[id]
		m.employees[id] = e
	}
	for id, p := range m.projects {
		p.AllocatedResources = totals.ProjectCount[id]
		m.projects[id] = p
	}
	for id, d := range m.demands {
		d.AllocatedCount = totals.DemandCount[id]
		m.demands[id] = d
	}
	m.dirty = false
	m.readsPending = 0
}
