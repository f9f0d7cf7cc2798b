package projection

import (
	"memodesk/api/internal/assumption"
	"memodesk/api/internal/eventlog"
)

// ProjectFacts folds fact_pack events into the ordered list of extraction
// snapshots for a session. Fact packs are immutable; there is nothing to
// merge or remove.
func ProjectFacts(events []eventlog.Event) []assumption.FactPack {
	var packs []assumption.FactPack
	seen := make(map[string]bool)
	for _, e := range sortedCopy(events) {
		if e.Role != eventlog.RoleFactPack {
			continue
		}
		decoded, err := eventlog.Decode(e)
		if err != nil {
			continue
		}
		pack := decoded.(assumption.FactPack)
		if seen[pack.FactPackID] {
			continue
		}
		seen[pack.FactPackID] = true
		if pack.CreatedAt.IsZero() {
			pack.CreatedAt = e.CreatedAt
		}
		packs = append(packs, pack)
	}
	return packs
}
