package allocation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/allocation-engine/allocation"
)

func awaitReconcile(t *testing.T, outcome *allocation.AllocationOutcome) allocation.ReconcileResult {
	t.Helper()
	require.NotNil(t, outcome.Reconciliation, "reconciliation should have started")
	select {
	case res := <-outcome.Reconciliation:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("reconciliation did not finish")
		return allocation.ReconcileResult{}
	}
}

// =============================================================================
// VALIDATE
// =============================================================================

func TestEngine_Validate_EmployeeOverCapacity_Rejected(t *testing.T) {
	// GIVEN: E-1 is 80% allocated elsewhere
	// WHEN: Validating a 30% allocation
	// THEN: Rejected with the exact shortfall

	f := newFixture(t, 0, 0)
	f.load("E-1", 80)

	report, err := f.engine.Validate(context.Background(), f.rc, []allocation.Candidate{candidate("E-1", 30)})
	require.NoError(t, err)

	require.Len(t, report.Rejected(), 1)
	ce, ok := report.Decisions[0].CapacityRejection(allocation.LevelEmployee)
	require.True(t, ok)
	assert.Equal(t, 20, ce.Available)
	assert.Equal(t, 10, ce.Excess)
}

func TestEngine_Validate_ProjectHeadcount(t *testing.T) {
	// GIVEN: Project requires 5 and already has 4
	// WHEN: Validating 2 more
	// THEN: Both rejected, canAllocate = 1

	f := newFixture(t, 5, 0)
	for _, e := range []allocation.EmployeeID{"E-1", "E-2", "E-3", "E-4"} {
		f.existing(e, projectID, seedDemand, 10)
	}

	report, err := f.engine.Validate(context.Background(), f.rc, f.rc.Candidates("E-1", "E-5"))
	require.NoError(t, err)

	assert.Empty(t, report.Accepted())
	ce, ok := report.Decisions[1].CapacityRejection(allocation.LevelProject)
	require.True(t, ok)
	assert.Equal(t, 1, ce.Available)
}

func TestEngine_Validate_DemandHeadcount(t *testing.T) {
	f := newFixture(t, 0, 1)
	f.existing("E-1", projectID, demandID, 50)

	report, err := f.engine.Validate(context.Background(), f.rc, []allocation.Candidate{candidate("E-2", 50)})
	require.NoError(t, err)

	_, ok := report.Decisions[0].CapacityRejection(allocation.LevelDemand)
	assert.True(t, ok)
}

func TestEngine_Validate_BatchConflict_RejectedBeforeAnyRead(t *testing.T) {
	// GIVEN: Store reads fail (so any read would surface as a warning)
	// WHEN: E-1 is submitted twice at 60% and 50%
	// THEN: Both rejected as a batch conflict and no read was attempted

	f := newFixture(t, 0, 0)
	f.store.FailReads(errors.New("should not be read"))

	report, err := f.engine.Validate(context.Background(), f.rc, []allocation.Candidate{
		candidate("E-1", 60),
		candidate("E-1", 50),
	})
	require.NoError(t, err)

	assert.Empty(t, report.Warnings)
	for _, d := range report.Decisions {
		assert.True(t, d.Has(allocation.ErrBatchConflict))
	}
}

func TestEngine_Allocate_SharedCandidateID_RejectedBeforeAnyRead(t *testing.T) {
	// GIVEN: Store reads fail, two candidates share id "dup", a third is distinct
	// WHEN: Validating, then allocating with reads restored
	// THEN: Both "dup" candidates rejected without a read; only the third commits

	f := newFixture(t, 0, 0)
	f.store.FailReads(errors.New("should not be read"))
	a, b, c := candidate("E-1", 50), candidate("E-2", 50), candidate("E-3", 50)
	a.ID, b.ID = "dup", "dup"

	report, err := f.engine.Validate(context.Background(), f.rc, []allocation.Candidate{a, b})
	require.NoError(t, err)
	assert.Empty(t, report.Warnings)
	for _, d := range report.Decisions {
		assert.True(t, d.Has(allocation.ErrInvalidCandidate))
	}

	f.store.FailReads(nil)
	outcome, err := f.engine.Allocate(context.Background(), f.rc, []allocation.Candidate{a, b, c})
	require.NoError(t, err)
	require.NotNil(t, outcome.Commit)
	assert.Equal(t, 1, outcome.Commit.Succeeded)
	require.Len(t, f.store.Allocations(), 1)
	assert.Equal(t, allocation.EmployeeID("E-3"), f.store.Allocations()[0].EmployeeID)
	awaitReconcile(t, outcome)
}

func TestEngine_Validate_StartAfterEnd_RejectedBeforeAnyRead(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.store.FailReads(errors.New("should not be read"))

	rc := f.rc
	rc.StartDate = allocation.DatePtr(allocation.MustParseDate("2025-05-01"))
	rc.EndDate = allocation.DatePtr(allocation.MustParseDate("2025-04-01"))

	report, err := f.engine.Validate(context.Background(), rc, rc.Candidates("E-1"))
	require.NoError(t, err)

	assert.Empty(t, report.Warnings)
	assert.True(t, report.Decisions[0].Has(allocation.ErrInvalidDateRange))
}

func TestEngine_Validate_OutsideProjectDates_Rejected(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.withDates("2025-01-01", "2025-06-30")

	rc := f.rc
	rc.StartDate = allocation.DatePtr(allocation.MustParseDate("2025-06-01"))
	rc.EndDate = allocation.DatePtr(allocation.MustParseDate("2025-07-31"))

	report, err := f.engine.Validate(context.Background(), rc, rc.Candidates("E-1"))
	require.NoError(t, err)

	assert.True(t, report.Decisions[0].Has(allocation.ErrInvalidDateRange))
}

func TestEngine_Validate_InvalidFields_Rejected(t *testing.T) {
	f := newFixture(t, 0, 0)
	rc := allocation.RequestContext{ProjectID: projectID} // no demand selected

	report, err := f.engine.Validate(context.Background(), rc, []allocation.Candidate{
		{EmployeeID: "E-1", Percentage: 150},
	})
	require.NoError(t, err)

	fields := map[string]bool{}
	for _, r := range report.Decisions[0].Rejections {
		var ice *allocation.InvalidCandidateError
		require.True(t, errors.As(r, &ice))
		fields[ice.Field] = true
	}
	assert.True(t, fields["demandId"])
	assert.True(t, fields["percentage"])
}

func TestEngine_Validate_DefaultPercentageIsHundred(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.load("E-1", 1)

	report, err := f.engine.Validate(context.Background(), f.rc, f.rc.Candidates("E-1", "E-2"))
	require.NoError(t, err)

	assert.Equal(t, 100, report.Decisions[0].Candidate.Percentage)
	assert.False(t, report.Decisions[0].Accepted(), "E-1 already has load, a full-time allocation cannot fit")
	assert.True(t, report.Decisions[1].Accepted())
}

func TestEngine_Validate_SnapshotReadFails_FailsOpenWithWarning(t *testing.T) {
	// GIVEN: The store is timing out
	// WHEN: Validating
	// THEN: Candidate accepted, warnings name every skipped target and wrap the cause

	f := newFixture(t, 1, 1)
	cause := errors.New("read timeout")
	f.store.FailReads(cause)

	report, err := f.engine.Validate(context.Background(), f.rc, f.rc.Candidates("E-1"))
	require.NoError(t, err)

	assert.True(t, report.AllAccepted())
	require.Len(t, report.Warnings, 3)
	for _, w := range report.Warnings {
		assert.ErrorIs(t, w, allocation.ErrSnapshotUnavailable)
		assert.ErrorIs(t, w, cause)
	}
}

func TestEngine_Validate_UnknownEmployee_WarnsAndDefersToStore(t *testing.T) {
	f := newFixture(t, 0, 0)

	report, err := f.engine.Validate(context.Background(), f.rc, f.rc.Candidates("E-404"))
	require.NoError(t, err)

	assert.True(t, report.AllAccepted())
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, allocation.TargetEmployee, report.Warnings[0].Target)
	assert.Nil(t, report.Warnings[0].Cause)
}

func TestEngine_Validate_Idempotent(t *testing.T) {
	// Validation performs no writes: repeating it yields the same decisions.
	f := newFixture(t, 2, 0)
	f.load("E-1", 90)
	candidates := f.rc.Candidates("E-1", "E-2", "E-3")

	first, err := f.engine.Validate(context.Background(), f.rc, candidates)
	require.NoError(t, err)
	second, err := f.engine.Validate(context.Background(), f.rc, candidates)
	require.NoError(t, err)

	assert.Equal(t, first.Decisions, second.Decisions)
	assert.Len(t, f.store.Allocations(), 1)
}

func TestEngine_Validate_CancelledContext(t *testing.T) {
	f := newFixture(t, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Validate(ctx, f.rc, f.rc.Candidates("E-1"))
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// ALLOCATE
// =============================================================================

func TestEngine_Allocate_AllAccepted_CommitsOneGroup(t *testing.T) {
	// GIVEN: A project needing 3 people
	// WHEN: Allocating 3 employees at 50%
	// THEN: All committed under one group id and aggregates reconcile

	f := newFixture(t, 3, 3)
	rc := f.rc
	rc.Percentage = 50

	outcome, err := f.engine.Allocate(context.Background(), rc, rc.Candidates("E-1", "E-2", "E-3"))
	require.NoError(t, err)
	require.NotNil(t, outcome.Commit)

	assert.Equal(t, 3, outcome.Commit.Succeeded)
	stored := f.store.Allocations()
	require.Len(t, stored, 3)
	for _, a := range stored {
		assert.Equal(t, outcome.Commit.GroupID, a.GroupID)
		assert.Equal(t, allocation.StatusActive, a.Status)
		assert.Equal(t, 50, a.Percentage)
	}

	res := awaitReconcile(t, outcome)
	assert.False(t, res.Stale)
	assert.Equal(t, 3, res.Projects[projectID].Allocated)
	assert.Equal(t, 3, res.Demands[demandID].AllocatedCount)
	assert.Equal(t, 50, res.Employees["E-2"].Percentage)
}

func TestEngine_Allocate_UsesRequestedGroupID(t *testing.T) {
	f := newFixture(t, 0, 0)
	rc := f.rc
	rc.GroupID = "grp-42"

	outcome, err := f.engine.Allocate(context.Background(), rc, rc.Candidates("E-1"))
	require.NoError(t, err)

	assert.Equal(t, "grp-42", outcome.Commit.GroupID)
	awaitReconcile(t, outcome)
}

func TestEngine_Allocate_MixedBatch_CommitsOnlyAccepted(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.load("E-1", 100)

	outcome, err := f.engine.Allocate(context.Background(), f.rc, f.rc.Candidates("E-1", "E-2"))
	require.NoError(t, err)

	require.NotNil(t, outcome.Commit)
	assert.Equal(t, 1, outcome.Commit.Succeeded)
	assert.Equal(t, allocation.EmployeeID("E-2"), outcome.Commit.Committed[0].EmployeeID)
	assert.Len(t, outcome.Report.Rejected(), 1)
	awaitReconcile(t, outcome)
}

func TestEngine_Allocate_AllOrNothing_NoCommitOnAnyRejection(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.load("E-1", 100)
	rc := f.rc
	rc.AllOrNothing = true

	outcome, err := f.engine.Allocate(context.Background(), rc, rc.Candidates("E-1", "E-2"))
	require.NoError(t, err)

	assert.Nil(t, outcome.Commit)
	assert.Nil(t, outcome.Reconciliation)
	assert.Len(t, f.store.Allocations(), 1, "only the seeded allocation")
}

func TestEngine_Allocate_NothingAccepted_NoCommit(t *testing.T) {
	f := newFixture(t, 0, 0)

	outcome, err := f.engine.Allocate(context.Background(), f.rc, []allocation.Candidate{
		candidate("E-1", 70),
		candidate("E-1", 70),
	})
	require.NoError(t, err)

	assert.Nil(t, outcome.Commit)
	assert.Empty(t, f.store.Allocations())
}

func TestEngine_Allocate_CancelledBeforeCommit_NoSideEffects(t *testing.T) {
	f := newFixture(t, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := f.engine.Allocate(ctx, f.rc, f.rc.Candidates("E-1"))

	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.store.Allocations())
}

func TestEngine_Allocate_PartialCommit_ExactCounts(t *testing.T) {
	// GIVEN: The store will refuse one of three records
	// WHEN: Allocating all three
	// THEN: PartialCommitError reports 2 of 3 and names the failed record

	f := newFixture(t, 0, 0)
	f.store.RejectRecord("alloc-2", "row lock timeout")

	candidates := []allocation.Candidate{candidate("E-1", 50), candidate("E-2", 50), candidate("E-3", 50)}
	for i := range candidates {
		candidates[i].ID = allocation.AllocationID([]string{"alloc-1", "alloc-2", "alloc-3"}[i])
	}

	outcome, err := f.engine.Allocate(context.Background(), f.rc, candidates)

	var pce *allocation.PartialCommitError
	require.ErrorAs(t, err, &pce)
	assert.Equal(t, 2, pce.Succeeded)
	assert.Equal(t, 3, pce.Attempted)
	require.Len(t, pce.Failures, 1)
	assert.Equal(t, allocation.AllocationID("alloc-2"), pce.Failures[0].ID)
	assert.Equal(t, "row lock timeout", pce.Failures[0].Reason)
	assert.False(t, allocation.IsRetryable(err))

	assert.Len(t, f.store.Allocations(), 2)
	awaitReconcile(t, outcome)
}

func TestEngine_Allocate_TransportFailure_VerifiesAndIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		persist  bool
		verified int
	}{
		{"response lost after write", true, 2},
		{"request never arrived", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0, 0)
			f.store.FailTransport(errors.New("connection reset"), tt.persist)

			outcome, err := f.engine.Allocate(context.Background(), f.rc, f.rc.Candidates("E-1", "E-2"))

			var te *allocation.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, 2, te.Attempted)
			assert.Equal(t, tt.verified, te.Verified)
			assert.True(t, allocation.IsRetryable(err))
			assert.Equal(t, tt.verified, outcome.Commit.Succeeded)
			if tt.verified > 0 {
				awaitReconcile(t, outcome)
			} else {
				assert.Nil(t, outcome.Reconciliation)
			}
		})
	}
}

func TestEngine_Allocate_StoreIsFinalArbiter(t *testing.T) {
	// GIVEN: Aggregates lag far behind, so the snapshot shows an empty project
	// WHEN: Two sequential flows each allocate the last seat
	// THEN: Client validation passes both times; the store rejects the second

	f := newFixture(t, 1, 0)
	f.store.Lag = 1000

	first, err := f.engine.Allocate(context.Background(), f.rc, f.rc.Candidates("E-1"))
	require.NoError(t, err)
	awaitReconcile(t, first)

	second, err := f.engine.Allocate(context.Background(), f.rc, f.rc.Candidates("E-2"))
	assert.True(t, second.Report.AllAccepted(), "stale snapshot lets the candidate through")
	var pce *allocation.PartialCommitError
	require.ErrorAs(t, err, &pce)
	assert.Equal(t, 0, pce.Succeeded)
	assert.Contains(t, pce.Failures[0].Reason, "fully staffed")
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestEngine_Reconcile_CatchesUpAfterLag(t *testing.T) {
	// GIVEN: Aggregates republish after two reads
	// WHEN: Allocating one employee
	// THEN: The first poll sees part of the update, the second sees all of it

	f := newFixture(t, 0, 0)
	f.store.Lag = 2

	outcome, err := f.engine.Allocate(context.Background(), f.rc, f.rc.Candidates("E-1"))
	require.NoError(t, err)

	res := awaitReconcile(t, outcome)
	assert.False(t, res.Stale)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 100, res.Employees["E-1"].Percentage)
}

func TestEngine_Reconcile_GivesUp_ReportsStaleView(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.store.Lag = 1000

	outcome, err := f.engine.Allocate(context.Background(), f.rc, f.rc.Candidates("E-1"))
	require.NoError(t, err)

	res := awaitReconcile(t, outcome)
	assert.True(t, res.Stale)
	assert.Equal(t, fastPolicy.MaxAttempts, res.Attempts)
	assert.Equal(t, []string{"demand 7", "employee E-1", "project P-1"}, res.Pending)
	assert.NoError(t, res.Err)
	assert.Len(t, f.store.Allocations(), 1, "committed data is unaffected")
}

func TestEngine_Reconcile_Cancel(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.store.Lag = 1000
	engine := allocation.NewEngine(f.store,
		allocation.WithLogger(quietLogger()),
		allocation.WithRetryPolicy(allocation.RetryPolicy{MaxAttempts: 1000, Delay: 20 * time.Millisecond}),
	)

	outcome, err := engine.Allocate(context.Background(), f.rc, f.rc.Candidates("E-1"))
	require.NoError(t, err)
	outcome.CancelReconciliation()

	res := awaitReconcile(t, outcome)
	assert.True(t, res.Stale)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Len(t, f.store.Allocations(), 1)
}

func TestExpectationFor_BaselinePlusDelta(t *testing.T) {
	snap := snapshotWith(
		[]allocation.ProjectCapacity{{ProjectID: projectID, Required: 5, Allocated: 2}},
		[]allocation.DemandCapacity{{DemandID: demandID, Quantity: 5, AllocatedCount: 1}},
		[]allocation.EmployeeLoad{{EmployeeID: "E-1", Percentage: 20}},
	)
	committed := []allocation.Allocation{
		{EmployeeID: "E-1", ProjectID: projectID, DemandID: demandID, Percentage: 30},
		{EmployeeID: "E-2", ProjectID: projectID, DemandID: demandID, Percentage: 40},
	}

	exp := allocation.ExpectationFor(snap, committed)

	assert.Equal(t, 4, exp.Projects[projectID])
	assert.Equal(t, 3, exp.Demands[demandID])
	assert.Equal(t, 50, exp.Employees["E-1"])
	_, polled := exp.Employees["E-2"]
	assert.False(t, polled, "targets without a snapshot are not polled")
}
