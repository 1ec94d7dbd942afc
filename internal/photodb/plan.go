package photodb

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// CurrentMeeting is the slice of a stored meeting the planner needs.
type CurrentMeeting struct {
	ID       uuid.UUID
	Title    string
	PhotoIDs []uuid.UUID
}

// MeetingUpdate pairs an existing meeting id with its new desired state.
type MeetingUpdate struct {
	ID   uuid.UUID
	Spec MeetingSpec
}

// ReconcilePlan is the diff between stored meetings and the cluster engine's
// desired meetings. Applying Delete, Update and Create in that order converges
// the stored state.
type ReconcilePlan struct {
	Create []MeetingSpec
	Update []MeetingUpdate
	Delete []uuid.UUID
}

// PlanReconcile matches desired meetings against current ones so stable
// clusters keep their meeting id. A desired meeting adopts the current meeting
// it overlaps most, provided the shared photos make up at least half of the
// larger of the two sets. Unmatched current meetings are deleted, unmatched
// desired meetings created. The default meeting is never part of a plan.
func PlanReconcile(current []CurrentMeeting, desired []MeetingSpec) ReconcilePlan {
	membership := make(map[uuid.UUID]int, 64)
	for i, cm := range current {
		for _, id := range cm.PhotoIDs {
			membership[id] = i
		}
	}

	type match struct {
		desired int
		current int
		shared  int
	}
	var matches []match
	for di, spec := range desired {
		shared := make(map[int]int)
		for _, id := range spec.PhotoIDs {
			if ci, ok := membership[id]; ok {
				shared[ci]++
			}
		}
		for ci, n := range shared {
			larger := len(spec.PhotoIDs)
			if l := len(current[ci].PhotoIDs); l > larger {
				larger = l
			}
			if 2*n >= larger {
				matches = append(matches, match{desired: di, current: ci, shared: n})
			}
		}
	}

	// Greedy by overlap size; ties broken by meeting id bytes so the plan is
	// deterministic for a given input.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].shared != matches[j].shared {
			return matches[i].shared > matches[j].shared
		}
		return bytes.Compare(
			current[matches[i].current].ID[:],
			current[matches[j].current].ID[:],
		) < 0
	})

	var plan ReconcilePlan
	desiredTaken := make(map[int]bool, len(desired))
	currentTaken := make(map[int]bool, len(current))
	for _, m := range matches {
		if desiredTaken[m.desired] || currentTaken[m.current] {
			continue
		}
		desiredTaken[m.desired] = true
		currentTaken[m.current] = true
		plan.Update = append(plan.Update, MeetingUpdate{
			ID:   current[m.current].ID,
			Spec: desired[m.desired],
		})
	}

	for di, spec := range desired {
		if !desiredTaken[di] {
			plan.Create = append(plan.Create, spec)
		}
	}
	for ci, cm := range current {
		if !currentTaken[ci] {
			plan.Delete = append(plan.Delete, cm.ID)
		}
	}
	return plan
}
