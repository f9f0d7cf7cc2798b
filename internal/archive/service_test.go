package archive

import (
	"testing"
)

func TestCommitVersionAndHistory(t *testing.T) {
	svc := New(t.TempDir())

	first, err := svc.CommitVersion("draft_1", "ver_1", "Memo", "first draft", "ana")
	if err != nil {
		t.Fatalf("CommitVersion: %v", err)
	}
	if first.Hash == "" || first.Author != "ana" {
		t.Fatalf("commit info: %+v", first)
	}

	second, err := svc.CommitVersion("draft_1", "ver_2", "Memo", "second draft", "bob")
	if err != nil {
		t.Fatalf("second CommitVersion: %v", err)
	}

	history, err := svc.History("draft_1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("history not newest first: %+v", history)
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := New(t.TempDir())
	for i, content := range []string{"a", "b", "c"} {
		if _, err := svc.CommitVersion("draft_1", "ver", "Memo", content, "ana"); err != nil {
			t.Fatalf("CommitVersion %d: %v", i, err)
		}
	}
	history, err := svc.History("draft_1", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("limit not applied, got %d commits", len(history))
	}
}

func TestHistoryForUnknownDraftIsEmpty(t *testing.T) {
	svc := New(t.TempDir())
	history, err := svc.History("draft_missing", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no commits, got %d", len(history))
	}
}

func TestContentAtCommit(t *testing.T) {
	svc := New(t.TempDir())
	info, err := svc.CommitVersion("draft_1", "ver_1", "Memo", "archived body", "ana")
	if err != nil {
		t.Fatalf("CommitVersion: %v", err)
	}
	content, err := svc.Content("draft_1", info.Hash)
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if content != "# Memo\n\narchived body\n" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestDraftsAreIsolated(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.CommitVersion("draft_a", "ver_1", "A", "content a", "ana"); err != nil {
		t.Fatalf("CommitVersion: %v", err)
	}
	if _, err := svc.CommitVersion("draft_b", "ver_1", "B", "content b", "bob"); err != nil {
		t.Fatalf("CommitVersion: %v", err)
	}
	histA, err := svc.History("draft_a", 10)
	if err != nil {
		t.Fatalf("History a: %v", err)
	}
	histB, err := svc.History("draft_b", 10)
	if err != nil {
		t.Fatalf("History b: %v", err)
	}
	if len(histA) != 1 || len(histB) != 1 {
		t.Fatalf("drafts share history: %d %d", len(histA), len(histB))
	}
}
