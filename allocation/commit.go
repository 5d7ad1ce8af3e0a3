/*
commit.go - Batch Allocation Committer

PURPOSE:
  Turns accepted candidates into Active records and submits them to the store
  as one atomic batch under a single group id.

OUTCOMES:
  all records accepted   -> CommitResult, nil
  some records rejected  -> CommitResult, *PartialCommitError (exact counts + per-record detail)
  submission failed      -> CommitResult, *TransportError (best-effort verified count)

  Nothing is retried here. The caller decides whether to resubmit.

  Store statuses are matched to records by position, never by id: a record
  only counts as committed if the store reported success for that slot.

VERIFICATION AFTER TRANSPORT FAILURE:
  A transport error says nothing about what reached the store. Each submitted
  id is re-read; records found are counted as committed. A failed re-read is
  counted as absent, so Verified may under-report.
*/
package allocation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type CommitResult struct {
	GroupID   string
	Attempted int
	Succeeded int
	Committed []Allocation
	Failures  []RecordFailure
}

type Committer struct {
	Store  EntityStore
	Logger *logrus.Entry
}

func NewCommitter(store EntityStore, logger *logrus.Entry) *Committer {
	return &Committer{Store: store, Logger: logger}
}

// Commit submits candidates as one batch. groupID may be empty, in which case
// a new one is generated. Candidates without an ID get a random UUID.
func (c *Committer) Commit(ctx context.Context, groupID string, candidates []Candidate) (*CommitResult, error) {
	if len(candidates) == 0 {
		return nil, ErrEmptyBatch
	}
	if groupID == "" {
		groupID = uuid.NewString()
	}

	records := make([]Record, len(candidates))
	for i, cand := range candidates {
		if cand.ID == "" {
			cand.ID = NewAllocationID()
		}
		records[i] = cand.ToRecord()
	}

	result := &CommitResult{GroupID: groupID, Attempted: len(records)}
	log := c.logger().WithFields(logrus.Fields{"group_id": groupID, "attempted": len(records)})

	batch, err := c.Store.CreateBatch(ctx, groupID, records)
	if err != nil {
		result.Committed = c.verify(ctx, groupID, records)
		result.Succeeded = len(result.Committed)
		log.WithError(err).WithField("verified", result.Succeeded).Warn("batch submission failed")
		metricCommits.WithLabelValues(commitOutcomeTransport).Inc()
		return result, &TransportError{Attempted: len(records), Verified: result.Succeeded, Cause: err}
	}

	for i, rec := range records {
		status, ok := batch.StatusAt(i, rec.ID)
		if ok && status.Success {
			result.Committed = append(result.Committed, rec.Allocation(groupID))
			continue
		}
		reason := "no status reported by store"
		if ok {
			reason = status.Error
		}
		result.Failures = append(result.Failures, RecordFailure{ID: rec.ID, EmployeeID: rec.EmployeeID, Reason: reason})
	}
	result.Succeeded = len(result.Committed)

	if len(result.Failures) > 0 {
		log.WithFields(logrus.Fields{"succeeded": result.Succeeded, "failed": len(result.Failures)}).Warn("batch partially committed")
		metricCommits.WithLabelValues(commitOutcomePartial).Inc()
		return result, &PartialCommitError{Succeeded: result.Succeeded, Attempted: result.Attempted, Failures: result.Failures}
	}

	log.Info("batch committed")
	metricCommits.WithLabelValues(commitOutcomeSuccess).Inc()
	return result, nil
}

// verify re-reads each submitted record and returns those present.
func (c *Committer) verify(ctx context.Context, groupID string, records []Record) []Allocation {
	var found []Allocation
	for _, rec := range records {
		a, err := c.Store.GetAllocation(ctx, rec.ID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				c.logger().WithError(err).WithField("allocation_id", rec.ID).Debug("verification read failed")
			}
			continue
		}
		if a.GroupID == "" {
			a.GroupID = groupID
		}
		found = append(found, *a)
	}
	return found
}

func (c *Committer) logger() *logrus.Entry {
	if c.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return c.Logger
}
