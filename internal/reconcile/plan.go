package reconcile

import "sort"

// Plan is the minimal set of attach/detach calls needed to converge an
// agent's attached-block set onto the desired set. ToAttach and
// ToDetach are always disjoint and never contain the user's own block
// in ToDetach.
type Plan struct {
	ToAttach []string
	ToDetach []string
}

// IsEmpty reports whether the plan requires no calls.
func (p Plan) IsEmpty() bool { return len(p.ToAttach) == 0 && len(p.ToDetach) == 0 }

// ComputePlan diffs the observed attachment set against the desired
// set:
//
//	toAttach = desired \ observed
//	toDetach = (observed \ {userBlock}) \ desired
//
// The user's own block is never a detach candidate regardless of what
// the external service reports, so the user's personal context survives
// every run. Output order is sorted for deterministic call sequences.
func ComputePlan(userBlock string, desired, observed []string) Plan {
	des := toSet(desired)
	obs := toSet(observed)

	var p Plan
	for id := range des {
		if !obs[id] {
			p.ToAttach = append(p.ToAttach, id)
		}
	}
	for id := range obs {
		if id == userBlock {
			continue
		}
		if !des[id] {
			p.ToDetach = append(p.ToDetach, id)
		}
	}
	sort.Strings(p.ToAttach)
	sort.Strings(p.ToDetach)
	return p
}

func toSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = true
		}
	}
	return s
}
