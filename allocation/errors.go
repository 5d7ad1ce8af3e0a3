/*
errors.go - Rejection and failure taxonomy for the allocation engine

PURPOSE:
  Every way a candidate can be turned down, and every way a commit can go
  wrong, has a structured type here. Rejections are returned as values inside
  a ValidationReport, not raised, so callers can render exact numbers.

ERROR CATEGORIES:
  1. Rejections (recoverable, never auto-retried):
     CapacityExceededError, BatchConflictError, DateRangeError, InvalidCandidateError
  2. Warnings (validation continues):
     SnapshotUnavailableError - the check it guards is skipped, the store decides
  3. Commit failures:
     PartialCommitError - some records failed at the store
     TransportError     - the batch could not be submitted; retry the whole batch

USAGE:
  if errors.Is(err, allocation.ErrCapacityExceeded) {
      var ce *allocation.CapacityExceededError
      errors.As(err, &ce)
      ...
  }
*/
package allocation

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned by an EntityStore when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrBatchConflict       = errors.New("batch-local conflict")
	ErrInvalidDateRange    = errors.New("invalid date range")
	ErrInvalidCandidate    = errors.New("invalid candidate")
	ErrSnapshotUnavailable = errors.New("capacity snapshot unavailable")
	ErrPartialCommit       = errors.New("partial commit failure")
	ErrTransport           = errors.New("batch transport failure")

	// ErrEmptyBatch is returned when a commit is attempted with no candidates.
	ErrEmptyBatch = errors.New("empty batch")
)

// =============================================================================
// CAPACITY
// =============================================================================

type Level string

const (
	LevelEmployee Level = "Employee"
	LevelProject  Level = "Project"
	LevelDemand   Level = "Demand"
)

// CapacityExceededError reports which constraint failed and by how much.
//
// For the employee level Current/Requested/Total are percentages and Available
// is 100 - Current. For project and demand levels they are headcounts and
// Available is the number of allocations that could still be added (canAllocate).
type CapacityExceededError struct {
	Level     Level
	TargetID  string
	Current   int
	Requested int
	Total     int
	Limit     int
	Available int
	Excess    int
}

func (e *CapacityExceededError) Error() string {
	switch e.Level {
	case LevelEmployee:
		return fmt.Sprintf("employee %s would be allocated %d%% (current %d%% + requested %d%%), available %d%%",
			e.TargetID, e.Total, e.Current, e.Requested, e.Available)
	default:
		return fmt.Sprintf("%s %s would have %d allocations against a limit of %d (excess %d, can allocate %d)",
			strings.ToLower(string(e.Level)), e.TargetID, e.Total, e.Limit, e.Excess, e.Available)
	}
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// =============================================================================
// BATCH-LOCAL CONFLICT
// =============================================================================

type BatchConflictError struct {
	EmployeeID         EmployeeID
	CombinedPercentage int
	Candidates         int
}

func (e *BatchConflictError) Error() string {
	return fmt.Sprintf("employee %s appears %d times in this batch with a combined %d%%, exceeding %d%%",
		e.EmployeeID, e.Candidates, e.CombinedPercentage, MaxPercentage)
}

func (e *BatchConflictError) Unwrap() error { return ErrBatchConflict }

// =============================================================================
// DATES / FIELDS
// =============================================================================

type DateRangeError struct {
	Reason string
}

func (e *DateRangeError) Error() string { return "invalid date range: " + e.Reason }

func (e *DateRangeError) Unwrap() error { return ErrInvalidDateRange }

type InvalidCandidateError struct {
	Field  string
	Reason string
}

func (e *InvalidCandidateError) Error() string {
	return fmt.Sprintf("invalid candidate: %s %s", e.Field, e.Reason)
}

func (e *InvalidCandidateError) Unwrap() error { return ErrInvalidCandidate }

// =============================================================================
// SNAPSHOT
// =============================================================================

type Target string

const (
	TargetEmployee Target = "employee"
	TargetProject  Target = "project"
	TargetDemand   Target = "demand"
)

// SnapshotUnavailableError is a warning. The check depending on the missing
// snapshot is skipped and the store's own enforcement is trusted instead.
type SnapshotUnavailableError struct {
	Target Target
	ID     string
	Cause  error // nil when the entity was simply not found
}

func (e *SnapshotUnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s %s not found; capacity check deferred to store", e.Target, e.ID)
	}
	return fmt.Sprintf("%s %s could not be read (%v); capacity check deferred to store", e.Target, e.ID, e.Cause)
}

func (e *SnapshotUnavailableError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrSnapshotUnavailable}
	}
	return []error{ErrSnapshotUnavailable, e.Cause}
}

// =============================================================================
// COMMIT
// =============================================================================

// RecordFailure is a store-reported failure for one record of a batch.
type RecordFailure struct {
	ID         AllocationID
	EmployeeID EmployeeID
	Reason     string
}

type PartialCommitError struct {
	Succeeded int
	Attempted int
	Failures  []RecordFailure
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("%d of %d allocations committed, %d failed", e.Succeeded, e.Attempted, len(e.Failures))
}

func (e *PartialCommitError) Unwrap() error { return ErrPartialCommit }

// TransportError means the batch submission itself did not complete. Verified
// is a best-effort count of records found in the store afterwards.
type TransportError struct {
	Attempted int
	Verified  int
	Cause     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("batch submission failed (%v); %d of %d records verified present, retry the batch",
		e.Cause, e.Verified, e.Attempted)
}

func (e *TransportError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Cause}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if resubmitting the whole batch may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsClientError returns true if the error is due to the submitted candidates.
func IsClientError(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrBatchConflict) ||
		errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrInvalidCandidate) ||
		errors.Is(err, ErrEmptyBatch)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
