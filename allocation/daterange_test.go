package allocation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/allocation-engine/allocation"
)

func dated(emp allocation.EmployeeID, start, end string) allocation.Candidate {
	c := candidate(emp, 50)
	if start != "" {
		c.StartDate = allocation.DatePtr(allocation.MustParseDate(start))
	}
	if end != "" {
		c.EndDate = allocation.DatePtr(allocation.MustParseDate(end))
	}
	return c
}

func datedProject(start, end string) *allocation.Snapshot {
	return snapshotWith([]allocation.ProjectCapacity{{
		ProjectID: projectID,
		StartDate: allocation.DatePtr(allocation.MustParseDate(start)),
		EndDate:   allocation.DatePtr(allocation.MustParseDate(end)),
	}}, nil, nil)
}

func TestDateRange_StartAfterEnd_Rejected(t *testing.T) {
	ds := allocation.DateRangeValidator{}.Validate(allocation.NewSnapshot(), []allocation.Candidate{
		dated("E-1", "2025-03-10", "2025-03-01"),
	})

	assert.True(t, ds[0].Has(allocation.ErrInvalidDateRange))
}

func TestDateRange_SameDay_Accepted(t *testing.T) {
	ds := allocation.DateRangeValidator{}.Validate(allocation.NewSnapshot(), []allocation.Candidate{
		dated("E-1", "2025-03-10", "2025-03-10"),
	})

	assert.True(t, ds[0].Accepted())
}

func TestDateRange_Containment(t *testing.T) {
	snap := datedProject("2025-01-01", "2025-06-30")

	tests := []struct {
		name     string
		start    string
		end      string
		accepted bool
	}{
		{"inside", "2025-02-01", "2025-05-31", true},
		{"exact bounds", "2025-01-01", "2025-06-30", true},
		{"starts before project", "2024-12-31", "2025-03-01", false},
		{"ends after project", "2025-02-01", "2025-07-01", false},
		{"no dates", "", "", true},
		{"open end inside", "2025-02-01", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := allocation.DateRangeValidator{}.Validate(snap, []allocation.Candidate{dated("E-1", tt.start, tt.end)})
			assert.Equal(t, tt.accepted, ds[0].Accepted(), "rejections: %v", ds[0].Rejections)
		})
	}
}

func TestDateRange_ProjectWithoutBothDates_NotChecked(t *testing.T) {
	// GIVEN: Project has a start date only
	// THEN: Containment is skipped entirely
	snap := snapshotWith([]allocation.ProjectCapacity{{
		ProjectID: projectID,
		StartDate: allocation.DatePtr(allocation.MustParseDate("2025-01-01")),
	}}, nil, nil)

	ds := allocation.DateRangeValidator{}.Validate(snap, []allocation.Candidate{dated("E-1", "2020-01-01", "2020-02-01")})

	assert.True(t, ds[0].Accepted())
}

func TestDateRange_BothBoundsViolated_TwoRejections(t *testing.T) {
	snap := datedProject("2025-01-01", "2025-06-30")
	ds := allocation.DateRangeValidator{}.Validate(snap, []allocation.Candidate{dated("E-1", "2024-06-01", "2025-12-31")})

	assert.Len(t, ds[0].Rejections, 2)
}
