package projection

import (
	"testing"
	"time"

	"memodesk/api/internal/assumption"
	"memodesk/api/internal/eventlog"
)

func packEvent(t *testing.T, seq int, pack assumption.Pack) eventlog.Event {
	t.Helper()
	pack.CreatedAt = testEpoch.Add(time.Duration(seq) * time.Second)
	return event(t, seq, eventlog.RoleAssumptionPack, pack)
}

func TestProjectPacksLineageQueries(t *testing.T) {
	events := []eventlog.Event{
		packEvent(t, 0, assumption.Pack{PackID: "pack_a", Status: assumption.StatusDraft}),
		packEvent(t, 1, assumption.Pack{PackID: "pack_b", Status: assumption.StatusLocked, Lineage: &assumption.Lineage{ParentPackID: "pack_a", Reason: "locked"}}),
		packEvent(t, 2, assumption.Pack{PackID: "pack_c", Status: assumption.StatusDraft, Lineage: &assumption.Lineage{ParentPackID: "pack_b", Reason: "revision"}}),
		packEvent(t, 3, assumption.Pack{PackID: "pack_d", Status: assumption.StatusLocked, Lineage: &assumption.Lineage{ParentPackID: "pack_c", Reason: "locked"}}),
	}

	state := ProjectPacks(events)
	if len(state.Packs) != 4 {
		t.Fatalf("expected 4 packs, got %d", len(state.Packs))
	}
	if got := state.Latest(); got == nil || got.PackID != "pack_d" {
		t.Fatalf("Latest: %+v", got)
	}
	if got := state.LatestLocked(); got == nil || got.PackID != "pack_d" {
		t.Fatalf("LatestLocked: %+v", got)
	}
	lockedD := state.Find("pack_d")
	if got := state.LockedBefore(lockedD.CreatedAt); got == nil || got.PackID != "pack_b" {
		t.Fatalf("LockedBefore: %+v", got)
	}
}

func TestProjectPacksClearsDanglingLineage(t *testing.T) {
	events := []eventlog.Event{
		packEvent(t, 0, assumption.Pack{PackID: "pack_a", Lineage: &assumption.Lineage{ParentPackID: "pack_future", Reason: "bad"}}),
		packEvent(t, 1, assumption.Pack{PackID: "pack_future"}),
	}
	state := ProjectPacks(events)
	if state.Find("pack_a").Lineage != nil {
		t.Fatalf("forward lineage reference survived; the graph must stay a forest")
	}
}

func TestProjectPacksDeduplicates(t *testing.T) {
	events := []eventlog.Event{
		packEvent(t, 0, assumption.Pack{PackID: "pack_a", Status: assumption.StatusDraft}),
		packEvent(t, 1, assumption.Pack{PackID: "pack_a", Status: assumption.StatusLocked}),
	}
	state := ProjectPacks(events)
	if len(state.Packs) != 1 {
		t.Fatalf("expected 1 pack, got %d", len(state.Packs))
	}
	if state.Packs[0].Status != assumption.StatusDraft {
		t.Fatalf("replayed pack id overwrote the original")
	}
}

func TestProjectFactsOrderedDedup(t *testing.T) {
	events := []eventlog.Event{
		event(t, 0, eventlog.RoleFactPack, assumption.FactPack{FactPackID: "facts_1", Facts: []assumption.Fact{{FactID: "fact_rev", Label: "revenue"}}}),
		event(t, 1, eventlog.RoleFactPack, assumption.FactPack{FactPackID: "facts_2"}),
		event(t, 2, eventlog.RoleFactPack, assumption.FactPack{FactPackID: "facts_1"}),
	}
	packs := ProjectFacts(events)
	if len(packs) != 2 {
		t.Fatalf("expected 2 fact packs, got %d", len(packs))
	}
	if packs[0].FactPackID != "facts_1" || packs[1].FactPackID != "facts_2" {
		t.Fatalf("fact packs out of order: %+v", packs)
	}
}
