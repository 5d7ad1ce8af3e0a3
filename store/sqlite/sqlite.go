/*
Package sqlite provides a SQLite-backed implementation of allocation.EntityStore.

PURPOSE:
  Persists employees, projects, demands and allocations. Plays the part of the
  external entity store: it is the final arbiter of every capacity invariant
  and it owns the derived aggregate columns.

KEY TABLES:
  employees:   current_allocation_percentage (derived)
  projects:    required_resources, allocated_resources (derived), start/end dates
  demands:     quantity, allocated_count (derived)
  allocations: one row per allocation, grouped by group_id

DERIVED AGGREGATES:
  The derived columns are NOT updated by CreateBatch or SetStatus. They are
  recomputed by RefreshAggregates, which the server runs on a schedule
  (api/scheduler.go). Reads in between see the previous values, which is the
  eventual consistency the engine is built to tolerate.

AUTHORITATIVE ENFORCEMENT:
  CreateBatch recomputes live totals from Active allocations inside the write
  transaction and admits records one by one. Rejected records are reported in
  the BatchResult and not written; the admitted ones commit together.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; SQLite allows a single writer.

USAGE:
  store, err := sqlite.New("./data/allocations.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := allocation.NewEngine(store)

SEE ALSO:
  - allocation/store.go: Interface definition
  - allocation/enforce.go: Invariant checks shared with the memory store
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/allocation-engine/allocation"
)

// Store implements allocation.EntityStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ allocation.EntityStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		current_allocation_percentage INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		required_resources INTEGER NOT NULL DEFAULT 0,
		allocated_resources INTEGER NOT NULL DEFAULT 0,
		start_date TEXT,
		end_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS demands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL REFERENCES projects(id),
		skill TEXT NOT NULL DEFAULT '',
		band TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0,
		allocated_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_demands_project
		ON demands(project_id);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		project_id TEXT NOT NULL REFERENCES projects(id),
		demand_id INTEGER NOT NULL REFERENCES demands(id),
		start_date TEXT,
		end_date TEXT,
		percentage INTEGER NOT NULL,
		status TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Live totals are computed from Active rows on every batch.
	CREATE INDEX IF NOT EXISTS idx_allocations_status
		ON allocations(status);
	CREATE INDEX IF NOT EXISTS idx_allocations_employee
		ON allocations(employee_id, status);
	CREATE INDEX IF NOT EXISTS idx_allocations_group
		ON allocations(group_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DATE COLUMNS
// =============================================================================

func dateValue(d *allocation.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanDate(ns sql.NullString) (*allocation.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := allocation.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// =============================================================================
// EMPLOYEES
// =============================================================================

// SaveEmployee upserts an employee. The derived percentage is left untouched
// on update.
func (s *Store) SaveEmployee(ctx context.Context, e allocation.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, current_allocation_percentage, created_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, e.ID, e.Name, now())
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id allocation.EmployeeID) (*allocation.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e allocation.Employee
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, current_allocation_percentage FROM employees WHERE id = ?", id,
	).Scan(&e.ID, &e.Name, &e.CurrentAllocationPercentage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, allocation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]allocation.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, current_allocation_percentage FROM employees ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []allocation.Employee
	for rows.Next() {
		var e allocation.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.CurrentAllocationPercentage); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// PROJECTS
// =============================================================================

func (s *Store) SaveProject(ctx context.Context, p allocation.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, required_resources, allocated_resources, start_date, end_date, created_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			required_resources = excluded.required_resources,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`, p.ID, p.Name, p.RequiredResources, dateValue(p.StartDate), dateValue(p.EndDate), now())
	return err
}

func (s *Store) GetProject(ctx context.Context, id allocation.ProjectID) (*allocation.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProject(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getProject(ctx context.Context, q queryer, id allocation.ProjectID) (*allocation.Project, error) {
	var (
		p          allocation.Project
		start, end sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, name, required_resources, allocated_resources, start_date, end_date
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.RequiredResources, &p.AllocatedResources, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, allocation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.StartDate, err = scanDate(start); err != nil {
		return nil, err
	}
	if p.EndDate, err = scanDate(end); err != nil {
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// DEMANDS
// =============================================================================

// SaveDemand upserts a demand. When d.ID is zero a new id is assigned and
// returned.
func (s *Store) SaveDemand(ctx context.Context, d allocation.Demand) (allocation.DemandID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO demands (project_id, skill, band, quantity, allocated_count, created_at)
			VALUES (?, ?, ?, ?, 0, ?)
		`, d.ProjectID, d.Skill, d.Band, d.Quantity, now())
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		return allocation.DemandID(id), err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO demands (id, project_id, skill, band, quantity, allocated_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			skill = excluded.skill,
			band = excluded.band,
			quantity = excluded.quantity
	`, d.ID, d.ProjectID, d.Skill, d.Band, d.Quantity, now())
	return d.ID, err
}

func (s *Store) GetDemand(ctx context.Context, id allocation.DemandID) (*allocation.Demand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDemand(ctx, s.db, id)
}

func getDemand(ctx context.Context, q queryer, id allocation.DemandID) (*allocation.Demand, error) {
	var d allocation.Demand
	err := q.QueryRowContext(ctx, `
		SELECT id, project_id, skill, band, quantity, allocated_count
		FROM demands WHERE id = ?
	`, id).Scan(&d.ID, &d.ProjectID, &d.Skill, &d.Band, &d.Quantity, &d.AllocatedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, allocation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (s *Store) GetAllocation(ctx context.Context, id allocation.AllocationID) (*allocation.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		a          allocation.Allocation
		start, end sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, project_id, demand_id, start_date, end_date, percentage, status, group_id
		FROM allocations WHERE id = ?
	`, id).Scan(&a.ID, &a.EmployeeID, &a.ProjectID, &a.DemandID, &start, &end, &a.Percentage, &a.Status, &a.GroupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, allocation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.StartDate, err = scanDate(start); err != nil {
		return nil, err
	}
	if a.EndDate, err = scanDate(end); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateBatch writes records under groupID in one transaction. Each record is
// checked against live totals; rejected records and records whose insert
// fails are reported, not written. Statuses line up with records by position.
func (s *Store) CreateBatch(ctx context.Context, groupID string, records []allocation.Record) (allocation.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return allocation.BatchResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	totals, err := liveTotals(ctx, sqlTx)
	if err != nil {
		return allocation.BatchResult{}, fmt.Errorf("failed to load live totals: %w", err)
	}

	result := allocation.BatchResult{GroupID: groupID, Statuses: make([]allocation.RecordStatus, 0, len(records))}
	created := now()
	for _, rec := range records {
		status := allocation.RecordStatus{ID: rec.ID}
		if err := admit(ctx, sqlTx, totals, rec); err != nil {
			status.Error = err.Error()
			result.Statuses = append(result.Statuses, status)
			continue
		}
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO allocations (id, employee_id, project_id, demand_id, start_date, end_date, percentage, status, group_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.EmployeeID, rec.ProjectID, rec.DemandID,
			dateValue(rec.StartDate), dateValue(rec.EndDate),
			rec.AllocationPercentage, string(allocation.StatusActive), groupID, created)
		if err != nil {
			// A failed statement leaves the transaction usable; only this record is lost.
			status.Error = fmt.Sprintf("failed to insert allocation %s: %v", rec.ID, err)
			result.Statuses = append(result.Statuses, status)
			continue
		}
		totals.Count(rec)
		status.Success = true
		result.Statuses = append(result.Statuses, status)
	}

	if err := sqlTx.Commit(); err != nil {
		return allocation.BatchResult{}, fmt.Errorf("failed to commit batch: %w", err)
	}
	return result, nil
}

func admit(ctx context.Context, tx *sql.Tx, totals *allocation.LiveTotals, rec allocation.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("id is required")
	}
	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM allocations WHERE id = ?", rec.ID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("allocation %s already exists", rec.ID)
	}
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM employees WHERE id = ?", rec.EmployeeID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("employee %s not found", rec.EmployeeID)
	}
	project, err := getProject(ctx, tx, rec.ProjectID)
	if err != nil {
		return fmt.Errorf("project %s: %w", rec.ProjectID, err)
	}
	demand, err := getDemand(ctx, tx, rec.DemandID)
	if err != nil {
		return fmt.Errorf("demand %d: %w", rec.DemandID, err)
	}
	return totals.Check(rec, project, demand)
}

func liveTotals(ctx context.Context, q queryer) (*allocation.LiveTotals, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT employee_id, project_id, demand_id, percentage
		FROM allocations WHERE status = ?
	`, string(allocation.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := allocation.NewLiveTotals()
	for rows.Next() {
		a := allocation.Allocation{Status: allocation.StatusActive}
		if err := rows.Scan(&a.EmployeeID, &a.ProjectID, &a.DemandID, &a.Percentage); err != nil {
			return nil, err
		}
		totals.Add(a)
	}
	return totals, rows.Err()
}

// SetStatus moves an allocation to a new status. Aggregates follow on the
// next RefreshAggregates.
func (s *Store) SetStatus(ctx context.Context, id allocation.AllocationID, status allocation.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE allocations SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return allocation.ErrNotFound
	}
	return nil
}

// =============================================================================
// AGGREGATES
// =============================================================================

// RefreshAggregates recomputes every derived column from Active allocations
// and returns how many rows changed.
func (s *Store) RefreshAggregates(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	statements := []string{
		`UPDATE employees SET current_allocation_percentage = (
			SELECT COALESCE(SUM(percentage), 0) FROM allocations
			WHERE allocations.employee_id = employees.id AND status = 'Active')
		 WHERE current_allocation_percentage != (
			SELECT COALESCE(SUM(percentage), 0) FROM allocations
			WHERE allocations.employee_id = employees.id AND status = 'Active')`,
		`UPDATE projects SET allocated_resources = (
			SELECT COUNT(1) FROM allocations
			WHERE allocations.project_id = projects.id AND status = 'Active')
		 WHERE allocated_resources != (
			SELECT COUNT(1) FROM allocations
			WHERE allocations.project_id = projects.id AND status = 'Active')`,
		`UPDATE demands SET allocated_count = (
			SELECT COUNT(1) FROM allocations
			WHERE allocations.demand_id = demands.id AND status = 'Active')
		 WHERE allocated_count != (
			SELECT COUNT(1) FROM allocations
			WHERE allocations.demand_id = demands.id AND status = 'Active')`,
	}

	var changed int64
	for _, stmt := range statements {
		res, err := sqlTx.ExecContext(ctx, stmt)
		if err != nil {
			return 0, fmt.Errorf("failed to refresh aggregates: %w", err)
		}
		n, _ := res.RowsAffected()
		changed += n
	}
	if err := sqlTx.Commit(); err != nil {
		return 0, err
	}
	return changed, nil
}

// Reset clears all data.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"allocations", "demands", "projects", "employees"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
