package projection

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"memodesk/api/internal/eventlog"
)

var testEpoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func event(t *testing.T, seq int, role eventlog.Role, payload any) eventlog.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return eventlog.Event{
		TenantKey:  "acme",
		SessionKey: "draft_1",
		EventID:    fmt.Sprintf("evt_%04d", seq),
		Role:       role,
		Payload:    raw,
		Actor:      "ana",
		CreatedAt:  testEpoch.Add(time.Duration(seq) * time.Second),
	}
}

func TestProjectDraftVersionsAndThreads(t *testing.T) {
	events := []eventlog.Event{
		event(t, 0, eventlog.RoleSession, eventlog.SessionPayload{Title: "Series B memo"}),
		event(t, 1, eventlog.RoleVersion, eventlog.VersionPayload{VersionID: "ver_1", Title: "Series B memo", Content: "draft one"}),
		event(t, 2, eventlog.RoleVersion, eventlog.VersionPayload{VersionID: "ver_2", Title: "Series B memo", Content: "draft two"}),
		event(t, 3, eventlog.RoleComment, eventlog.CommentPayload{CommentID: "cmt_root", VersionID: "ver_2", Kind: "edit", Text: "tighten this", ThreadID: "cmt_root"}),
		event(t, 4, eventlog.RoleComment, eventlog.CommentPayload{CommentID: "cmt_reply", VersionID: "ver_2", Kind: "edit", Text: "agreed", ThreadID: "cmt_root", ParentID: "cmt_root"}),
	}

	state := ProjectDraft(events)
	if state.TenantKey != "acme" || state.Title != "Series B memo" {
		t.Fatalf("envelope fields: %q %q", state.TenantKey, state.Title)
	}
	if len(state.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(state.Versions))
	}
	if state.Versions[0].VersionID != "ver_1" || state.Versions[1].VersionID != "ver_2" {
		t.Fatalf("versions out of order: %+v", state.Versions)
	}
	if len(state.Threads) != 1 {
		t.Fatalf("expected 1 thread, got %d", len(state.Threads))
	}
	thread := state.Threads[0]
	if thread.Root.CommentID != "cmt_root" {
		t.Fatalf("wrong root: %s", thread.Root.CommentID)
	}
	if len(thread.Replies) != 1 || thread.Replies[0].CommentID != "cmt_reply" {
		t.Fatalf("wrong replies: %+v", thread.Replies)
	}
}

func TestProjectDraftStatusLastWriteWins(t *testing.T) {
	events := []eventlog.Event{
		event(t, 0, eventlog.RoleVersion, eventlog.VersionPayload{VersionID: "ver_1", Content: "text"}),
		event(t, 1, eventlog.RoleComment, eventlog.CommentPayload{CommentID: "cmt_1", VersionID: "ver_1", Kind: "edit", Text: "fix"}),
		event(t, 2, eventlog.RoleCommentStatus, eventlog.CommentStatusPayload{CommentID: "cmt_1", Status: "accepted"}),
		event(t, 3, eventlog.RoleCommentStatus, eventlog.CommentStatusPayload{CommentID: "cmt_1", Status: "rejected"}),
	}

	state := ProjectDraft(events)
	if got := state.Comments["cmt_1"].Status; got != "rejected" {
		t.Fatalf("expected the later status to win, got %q", got)
	}
}

func TestProjectDraftIgnoresUnknownStatusTarget(t *testing.T) {
	events := []eventlog.Event{
		event(t, 0, eventlog.RoleComment, eventlog.CommentPayload{CommentID: "cmt_1", VersionID: "ver_1", Kind: "edit", Text: "fix"}),
		event(t, 1, eventlog.RoleCommentStatus, eventlog.CommentStatusPayload{CommentID: "cmt_ghost", Status: "accepted"}),
	}

	state := ProjectDraft(events)
	if got := state.Comments["cmt_1"].Status; got != "open" {
		t.Fatalf("status leaked onto wrong comment: %q", got)
	}
	if _, exists := state.Comments["cmt_ghost"]; exists {
		t.Fatalf("status update materialized a comment")
	}
}

func TestProjectDraftUnorderedInput(t *testing.T) {
	events := []eventlog.Event{
		event(t, 3, eventlog.RoleCommentStatus, eventlog.CommentStatusPayload{CommentID: "cmt_1", Status: "accepted"}),
		event(t, 1, eventlog.RoleComment, eventlog.CommentPayload{CommentID: "cmt_1", VersionID: "ver_1", Kind: "edit", Text: "fix"}),
		event(t, 0, eventlog.RoleVersion, eventlog.VersionPayload{VersionID: "ver_1", Content: "text"}),
	}

	state := ProjectDraft(events)
	if len(state.Versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(state.Versions))
	}
	if got := state.Comments["cmt_1"].Status; got != "accepted" {
		t.Fatalf("fold must re-sort its input, got status %q", got)
	}
}
