package projection

import (
	"time"

	"memodesk/api/internal/assumption"
	"memodesk/api/internal/eventlog"
)

// PackState holds every assumption pack appended to a session, in log order,
// plus the lineage queries drift checking depends on.
type PackState struct {
	Packs []assumption.Pack `json:"packs"`
}

// ProjectPacks folds assumption_pack events. Packs are immutable snapshots;
// status transitions arrive as new packs with a lineage back-reference. A
// lineage naming a parent that never appeared earlier in the log is cleared
// so the reference graph stays a forest.
func ProjectPacks(events []eventlog.Event) PackState {
	var state PackState
	seen := make(map[string]bool)
	for _, e := range sortedCopy(events) {
		if e.Role != eventlog.RoleAssumptionPack {
			continue
		}
		decoded, err := eventlog.Decode(e)
		if err != nil {
			continue
		}
		pack := decoded.(assumption.Pack)
		if seen[pack.PackID] {
			continue
		}
		seen[pack.PackID] = true
		if pack.CreatedAt.IsZero() {
			pack.CreatedAt = e.CreatedAt
		}
		if pack.Lineage != nil && pack.Lineage.ParentPackID != "" && !seen[pack.Lineage.ParentPackID] {
			pack.Lineage = nil
		}
		state.Packs = append(state.Packs, pack)
	}
	return state
}

// Find returns the pack with the given id, or nil.
func (s PackState) Find(packID string) *assumption.Pack {
	for i := range s.Packs {
		if s.Packs[i].PackID == packID {
			return &s.Packs[i]
		}
	}
	return nil
}

// Latest returns the pack with the maximum CreatedAt, or nil.
func (s PackState) Latest() *assumption.Pack {
	return s.pick(func(assumption.Pack) bool { return true }, time.Time{})
}

// LatestLocked returns the newest locked pack, or nil. Locked packs are the
// only valid input to downstream computation.
func (s PackState) LatestLocked() *assumption.Pack {
	return s.pick(func(p assumption.Pack) bool { return p.Status == assumption.StatusLocked }, time.Time{})
}

// LockedBefore returns the closest ancestor locked pack created strictly
// before t, for drift checking.
func (s PackState) LockedBefore(t time.Time) *assumption.Pack {
	return s.pick(func(p assumption.Pack) bool { return p.Status == assumption.StatusLocked }, t)
}

func (s PackState) pick(match func(assumption.Pack) bool, before time.Time) *assumption.Pack {
	var best *assumption.Pack
	for i := range s.Packs {
		p := &s.Packs[i]
		if !match(*p) {
			continue
		}
		if !before.IsZero() && !p.CreatedAt.Before(before) {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	return best
}
