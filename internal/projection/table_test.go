package projection

import (
	"testing"

	"memodesk/api/internal/eventlog"
)

func TestFoldTableLifecycle(t *testing.T) {
	events := []eventlog.Event{
		event(t, 0, eventlog.RoleTask, eventlog.TablePayload{ID: "task_1", Fields: map[string]any{"title": "read data room", "state": "open"}}),
		event(t, 1, eventlog.RoleTask, eventlog.TablePayload{ID: "task_2", Fields: map[string]any{"title": "call founders"}}),
		event(t, 2, eventlog.RoleTaskUpdate, eventlog.TablePayload{ID: "task_1", Fields: map[string]any{"state": "done"}}),
		event(t, 3, eventlog.RoleTaskRemoval, eventlog.TablePayload{ID: "task_2"}),
	}

	rows := ProjectTasks(events)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows["task_1"]
	if row.Fields["title"] != "read data room" {
		t.Fatalf("create fields lost: %+v", row.Fields)
	}
	if row.Fields["state"] != "done" {
		t.Fatalf("update did not merge: %+v", row.Fields)
	}
}

func TestFoldTableFirstCreateWins(t *testing.T) {
	events := []eventlog.Event{
		event(t, 0, eventlog.RoleTask, eventlog.TablePayload{ID: "task_1", Fields: map[string]any{"title": "first"}}),
		event(t, 1, eventlog.RoleTask, eventlog.TablePayload{ID: "task_1", Fields: map[string]any{"title": "second"}}),
	}
	rows := ProjectTasks(events)
	if rows["task_1"].Fields["title"] != "first" {
		t.Fatalf("later create overwrote the row: %+v", rows["task_1"])
	}
}

func TestFoldTableIgnoresUpdateToUnknownID(t *testing.T) {
	events := []eventlog.Event{
		event(t, 0, eventlog.RoleTaskUpdate, eventlog.TablePayload{ID: "task_ghost", Fields: map[string]any{"state": "done"}}),
	}
	if rows := ProjectTasks(events); len(rows) != 0 {
		t.Fatalf("update materialized a row: %+v", rows)
	}
}

func TestStashHasNoUpdates(t *testing.T) {
	events := []eventlog.Event{
		event(t, 0, eventlog.RoleStashItem, eventlog.TablePayload{ID: "stash_1", Fields: map[string]any{"note": "keep"}}),
		event(t, 1, eventlog.RoleStashRemoval, eventlog.TablePayload{ID: "stash_1"}),
		event(t, 2, eventlog.RoleStashItem, eventlog.TablePayload{ID: "stash_2", Fields: map[string]any{"note": "other"}}),
	}
	rows := ProjectStash(events)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if _, alive := rows["stash_1"]; alive {
		t.Fatalf("removed stash item survived")
	}
}

func TestSortedRowsCreationOrder(t *testing.T) {
	events := []eventlog.Event{
		event(t, 0, eventlog.RoleCalendarEntry, eventlog.TablePayload{ID: "cal_b", Fields: map[string]any{"when": "monday"}}),
		event(t, 1, eventlog.RoleCalendarEntry, eventlog.TablePayload{ID: "cal_a", Fields: map[string]any{"when": "friday"}}),
	}
	rows := SortedRows(ProjectCalendar(events))
	if len(rows) != 2 || rows[0].ID != "cal_b" || rows[1].ID != "cal_a" {
		t.Fatalf("rows not in creation order: %+v", rows)
	}
}
