/*
store.go - Contract with the external entity store

PURPOSE:
  The engine does not own persistence. It reads capacity holders by id and
  submits allocation batches; everything else (aggregate computation, final
  invariant enforcement) belongs to the store.

EVENTUAL CONSISTENCY:
  Project.AllocatedResources, Demand.AllocatedCount and
  Employee.CurrentAllocationPercentage are computed by the store after a
  write. A GetProject issued right after CreateBatch may still return the old
  value. See reconcile.go.

ATOMIC BATCHES:
  CreateBatch submits every record under one transactional group. The store
  reports a status per record; records it rejects are not persisted. A
  non-nil error means the submission itself failed and nothing can be
  assumed about individual records.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite-backed store
  - allocation/store/memory.go: In-memory store for tests
*/
package allocation

import "context"

// EntityStore is the external persistence collaborator.
type EntityStore interface {
	// GetEmployee returns ErrNotFound when the employee does not exist.
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	GetProject(ctx context.Context, id ProjectID) (*Project, error)
	GetDemand(ctx context.Context, id DemandID) (*Demand, error)
	GetAllocation(ctx context.Context, id AllocationID) (*Allocation, error)

	// CreateBatch persists records under groupID and reports per-record status.
	CreateBatch(ctx context.Context, groupID string, records []Record) (BatchResult, error)
}

// RecordStatus is the store's verdict on one submitted record.
type RecordStatus struct {
	ID      AllocationID
	Success bool
	Error   string
}

type BatchResult struct {
	GroupID  string
	Statuses []RecordStatus
}

// Succeeded counts the records the store accepted.
func (r BatchResult) Succeeded() int {
	n := 0
	for _, s := range r.Statuses {
		if s.Success {
			n++
		}
	}
	return n
}

// StatusAt returns the status for the i-th submitted record. ok is false when
// the store reported nothing for that position or reported a different id.
func (r BatchResult) StatusAt(i int, id AllocationID) (RecordStatus, bool) {
	if i < 0 || i >= len(r.Statuses) || r.Statuses[i].ID != id {
		return RecordStatus{}, false
	}
	return r.Statuses[i], true
}

// StatusFor returns the first status reported for id, if any.
func (r BatchResult) StatusFor(id AllocationID) (RecordStatus, bool) {
	for _, s := range r.Statuses {
		if s.ID == id {
			return s, true
		}
	}
	return RecordStatus{}, false
}
