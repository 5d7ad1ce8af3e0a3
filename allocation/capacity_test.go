package allocation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/allocation-engine/allocation"
)

// =============================================================================
// EMPLOYEE PERCENTAGE
// =============================================================================

func TestCapacity_Employee_OverHundred_Rejected(t *testing.T) {
	// GIVEN: E-1 is already 80% allocated
	// WHEN: Requesting another 30%
	// THEN: Rejected at employee level with available 20, excess 10

	snap := snapshotWith(nil, nil, []allocation.EmployeeLoad{{EmployeeID: "E-1", Percentage: 80}})
	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{candidate("E-1", 30)})

	require.Len(t, ds, 1)
	assert.False(t, ds[0].Accepted())
	ce, ok := ds[0].CapacityRejection(allocation.LevelEmployee)
	require.True(t, ok)
	assert.Equal(t, 80, ce.Current)
	assert.Equal(t, 30, ce.Requested)
	assert.Equal(t, 110, ce.Total)
	assert.Equal(t, 20, ce.Available)
	assert.Equal(t, 10, ce.Excess)
	assert.ErrorIs(t, ce, allocation.ErrCapacityExceeded)
}

func TestCapacity_Employee_ExactlyHundred_Accepted(t *testing.T) {
	snap := snapshotWith(nil, nil, []allocation.EmployeeLoad{{EmployeeID: "E-1", Percentage: 80}})
	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{candidate("E-1", 20)})

	assert.True(t, ds[0].Accepted())
}

func TestCapacity_Employee_BatchTotalCounts(t *testing.T) {
	// GIVEN: E-1 at 50%, two 30% candidates in one batch
	// WHEN: Checking capacity (without the conflict detector)
	// THEN: Both rejected, requested is the batch total 60

	snap := snapshotWith(nil, nil, []allocation.EmployeeLoad{{EmployeeID: "E-1", Percentage: 50}})
	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{
		candidate("E-1", 30),
		candidate("E-1", 30),
	})

	for _, d := range ds {
		ce, ok := d.CapacityRejection(allocation.LevelEmployee)
		require.True(t, ok)
		assert.Equal(t, 60, ce.Requested)
		assert.Equal(t, 10, ce.Excess)
	}
}

func TestCapacity_Employee_SixtyPercentLoaded(t *testing.T) {
	// GIVEN: E-1 is 60% allocated
	// WHEN: Requesting 45%, then 40%
	// THEN: 45% rejected with 40 available, 40% accepted

	snap := snapshotWith(nil, nil, []allocation.EmployeeLoad{{EmployeeID: "E-1", Percentage: 60}})

	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{candidate("E-1", 45)})
	ce, ok := ds[0].CapacityRejection(allocation.LevelEmployee)
	require.True(t, ok)
	assert.Equal(t, 105, ce.Total)
	assert.Equal(t, 40, ce.Available)
	assert.Equal(t, 5, ce.Excess)

	ds = allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{candidate("E-1", 40)})
	assert.True(t, ds[0].Accepted())
}

func TestCapacity_Employee_MissingSnapshot_NotChecked(t *testing.T) {
	ds := allocation.CapacityValidator{}.Validate(allocation.NewSnapshot(), []allocation.Candidate{candidate("E-9", 100)})
	assert.True(t, ds[0].Accepted())
}

// =============================================================================
// PROJECT HEADCOUNT
// =============================================================================

func TestCapacity_Project_OverRequired_AllCandidatesRejected(t *testing.T) {
	// GIVEN: Project requires 5, has 4
	// WHEN: Allocating two more
	// THEN: Both rejected; canAllocate 1, excess 1

	snap := snapshotWith([]allocation.ProjectCapacity{{ProjectID: projectID, Required: 5, Allocated: 4}}, nil, nil)
	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{
		candidate("E-1", 50),
		candidate("E-2", 50),
	})

	for _, d := range ds {
		ce, ok := d.CapacityRejection(allocation.LevelProject)
		require.True(t, ok)
		assert.Equal(t, string(projectID), ce.TargetID)
		assert.Equal(t, 4, ce.Current)
		assert.Equal(t, 2, ce.Requested)
		assert.Equal(t, 1, ce.Available)
		assert.Equal(t, 1, ce.Excess)
	}
}

func TestCapacity_Project_FillsExactly_Accepted(t *testing.T) {
	snap := snapshotWith([]allocation.ProjectCapacity{{ProjectID: projectID, Required: 5, Allocated: 3}}, nil, nil)
	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{
		candidate("E-1", 50),
		candidate("E-2", 50),
	})

	assert.True(t, ds[0].Accepted())
	assert.True(t, ds[1].Accepted())
}

func TestCapacity_Project_ZeroRequired_Unconstrained(t *testing.T) {
	snap := snapshotWith([]allocation.ProjectCapacity{{ProjectID: projectID, Required: 0, Allocated: 40}}, nil, nil)
	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{candidate("E-1", 50)})

	assert.True(t, ds[0].Accepted())
}

func TestCapacity_Project_OverAllocatedAlready_AvailableIsZero(t *testing.T) {
	snap := snapshotWith([]allocation.ProjectCapacity{{ProjectID: projectID, Required: 2, Allocated: 3}}, nil, nil)
	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{candidate("E-1", 50)})

	ce, ok := ds[0].CapacityRejection(allocation.LevelProject)
	require.True(t, ok)
	assert.Equal(t, 0, ce.Available)
	assert.Equal(t, 2, ce.Excess)
}

// =============================================================================
// DEMAND HEADCOUNT
// =============================================================================

func TestCapacity_Demand_Full_Rejected(t *testing.T) {
	snap := snapshotWith(nil, []allocation.DemandCapacity{{DemandID: demandID, ProjectID: projectID, Quantity: 2, AllocatedCount: 2}}, nil)
	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{candidate("E-1", 50)})

	ce, ok := ds[0].CapacityRejection(allocation.LevelDemand)
	require.True(t, ok)
	assert.Equal(t, "7", ce.TargetID)
	assert.Equal(t, 0, ce.Available)
	assert.Equal(t, 1, ce.Excess)
}

func TestCapacity_Demand_TwoForOneSeat_GroupRejected(t *testing.T) {
	// GIVEN: Demand with quantity 3 and 2 already allocated
	// WHEN: Two candidates target it, then one
	// THEN: Both of the pair rejected with excess 1, the single one accepted

	snap := snapshotWith(nil, []allocation.DemandCapacity{{DemandID: demandID, ProjectID: projectID, Quantity: 3, AllocatedCount: 2}}, nil)

	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{candidate("E-1", 50), candidate("E-2", 50)})
	require.Len(t, ds, 2)
	for _, d := range ds {
		ce, ok := d.CapacityRejection(allocation.LevelDemand)
		require.True(t, ok)
		assert.Equal(t, 2, ce.Current)
		assert.Equal(t, 2, ce.Requested)
		assert.Equal(t, 4, ce.Total)
		assert.Equal(t, 1, ce.Available)
		assert.Equal(t, 1, ce.Excess)
	}

	ds = allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{candidate("E-1", 50)})
	assert.True(t, ds[0].Accepted())
}

func TestCapacity_Demand_ZeroQuantity_Unconstrained(t *testing.T) {
	snap := snapshotWith(nil, []allocation.DemandCapacity{{DemandID: demandID, ProjectID: projectID, Quantity: 0, AllocatedCount: 9}}, nil)
	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{candidate("E-1", 50)})

	assert.True(t, ds[0].Accepted())
}

// =============================================================================
// INDEPENDENCE
// =============================================================================

func TestCapacity_ChecksAreIndependent_AllViolationsReported(t *testing.T) {
	// GIVEN: Employee, project and demand all at their limits
	// WHEN: Requesting one more allocation
	// THEN: All three rejections are reported on the same candidate

	snap := snapshotWith(
		[]allocation.ProjectCapacity{{ProjectID: projectID, Required: 1, Allocated: 1}},
		[]allocation.DemandCapacity{{DemandID: demandID, ProjectID: projectID, Quantity: 1, AllocatedCount: 1}},
		[]allocation.EmployeeLoad{{EmployeeID: "E-1", Percentage: 100}},
	)
	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{candidate("E-1", 10)})

	require.Len(t, ds[0].Rejections, 3)
	for _, level := range []allocation.Level{allocation.LevelEmployee, allocation.LevelProject, allocation.LevelDemand} {
		_, ok := ds[0].CapacityRejection(level)
		assert.True(t, ok, "expected %s rejection", level)
	}
}

func TestCapacity_EmployeeRejection_StillCountsTowardProject(t *testing.T) {
	// GIVEN: Project has room for exactly one, and E-1 is full
	// WHEN: E-1 and E-2 are both requested
	// THEN: Project check sees both candidates and rejects both; E-1 also
	//       fails its own check

	snap := snapshotWith(
		[]allocation.ProjectCapacity{{ProjectID: projectID, Required: 1, Allocated: 0}},
		nil,
		[]allocation.EmployeeLoad{{EmployeeID: "E-1", Percentage: 100}, {EmployeeID: "E-2", Percentage: 0}},
	)
	ds := allocation.CapacityValidator{}.Validate(snap, []allocation.Candidate{
		candidate("E-1", 10),
		candidate("E-2", 10),
	})

	_, empRejected := ds[0].CapacityRejection(allocation.LevelEmployee)
	assert.True(t, empRejected)
	_, projRejected := ds[1].CapacityRejection(allocation.LevelProject)
	assert.True(t, projRejected)
}

func TestCapacity_AlreadyRejected_NotCounted(t *testing.T) {
	// Decisions rejected by an earlier stage do not consume capacity.
	snap := snapshotWith([]allocation.ProjectCapacity{{ProjectID: projectID, Required: 1, Allocated: 0}}, nil, nil)
	ds := allocation.NewDecisions([]allocation.Candidate{candidate("E-1", 10), candidate("E-2", 10)})
	ds[0].Reject(&allocation.DateRangeError{Reason: "test"})

	allocation.CapacityValidator{}.Apply(snap, ds)

	assert.Len(t, ds[0].Rejections, 1)
	assert.True(t, ds[1].Accepted())
}
