package allocation

import "errors"

// =============================================================================
// DECISION - Per-candidate verdict
// =============================================================================

// Decision records every rejection raised against one candidate. A candidate
// with no rejections is accepted.
type Decision struct {
	Candidate  Candidate
	Rejections []error
}

func (d Decision) Accepted() bool { return len(d.Rejections) == 0 }

// Reject appends a rejection.
func (d *Decision) Reject(err error) {
	d.Rejections = append(d.Rejections, err)
}

// Has reports whether any rejection matches target (errors.Is semantics).
func (d Decision) Has(target error) bool {
	for _, r := range d.Rejections {
		if errors.Is(r, target) {
			return true
		}
	}
	return false
}

// CapacityRejection returns the first capacity rejection at the given level.
func (d Decision) CapacityRejection(level Level) (*CapacityExceededError, bool) {
	for _, r := range d.Rejections {
		var ce *CapacityExceededError
		if errors.As(r, &ce) && ce.Level == level {
			return ce, true
		}
	}
	return nil, false
}

// NewDecisions wraps candidates in undecided (accepted) decisions.
func NewDecisions(candidates []Candidate) []Decision {
	ds := make([]Decision, len(candidates))
	for i, c := range candidates {
		ds[i] = Decision{Candidate: c}
	}
	return ds
}

// live returns the indices of decisions that are still accepted.
func live(ds []Decision) []int {
	idx := make([]int, 0, len(ds))
	for i := range ds {
		if ds[i].Accepted() {
			idx = append(idx, i)
		}
	}
	return idx
}

// groupBy partitions indices by key, keeping first-seen key order so that
// results are deterministic.
func groupBy[K comparable](ds []Decision, idx []int, key func(Candidate) K) ([]K, map[K][]int) {
	var order []K
	groups := make(map[K][]int)
	for _, i := range idx {
		k := key(ds[i].Candidate)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}
	return order, groups
}
