package projection

import (
	"sort"
	"time"

	"memodesk/api/internal/eventlog"
)

// TableSpec configures the generic fold for a map-like concept: which roles
// seed an aggregate, which shallow-merge fields into it, and which remove it.
type TableSpec struct {
	Creating map[eventlog.Role]bool
	Updating map[eventlog.Role]bool
	Removing map[eventlog.Role]bool
}

// Row is one folded aggregate.
type Row struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedBy string         `json:"createdBy"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`

	order int
}

// FoldTable folds events through spec. The first creating event per id seeds
// the row; updating events shallow-merge named fields, last write winning per
// field; updates to unknown ids are ignored; removing events delete the id.
func FoldTable(events []eventlog.Event, spec TableSpec) map[string]Row {
	rows := make(map[string]Row)
	for i, e := range sortedCopy(events) {
		if !spec.Creating[e.Role] && !spec.Updating[e.Role] && !spec.Removing[e.Role] {
			continue
		}
		decoded, err := eventlog.Decode(e)
		if err != nil {
			continue
		}
		payload, ok := decoded.(eventlog.TablePayload)
		if !ok {
			continue
		}

		switch {
		case spec.Creating[e.Role]:
			if _, exists := rows[payload.ID]; exists {
				continue
			}
			fields := make(map[string]any, len(payload.Fields))
			for k, v := range payload.Fields {
				fields[k] = v
			}
			rows[payload.ID] = Row{
				ID:        payload.ID,
				Fields:    fields,
				CreatedBy: e.Actor,
				CreatedAt: e.CreatedAt,
				UpdatedAt: e.CreatedAt,
				order:     i,
			}
		case spec.Updating[e.Role]:
			row, exists := rows[payload.ID]
			if !exists {
				continue
			}
			for k, v := range payload.Fields {
				row.Fields[k] = v
			}
			row.UpdatedAt = e.CreatedAt
			rows[payload.ID] = row
		case spec.Removing[e.Role]:
			delete(rows, payload.ID)
		}
	}
	return rows
}

// SortedRows flattens a fold result into creation order for stable listings.
func SortedRows(rows map[string]Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// ProjectTasks folds the task board.
func ProjectTasks(events []eventlog.Event) map[string]Row {
	return FoldTable(events, TableSpec{
		Creating: map[eventlog.Role]bool{eventlog.RoleTask: true},
		Updating: map[eventlog.Role]bool{eventlog.RoleTaskUpdate: true},
		Removing: map[eventlog.Role]bool{eventlog.RoleTaskRemoval: true},
	})
}

// ProjectCalendar folds the calendar.
func ProjectCalendar(events []eventlog.Event) map[string]Row {
	return FoldTable(events, TableSpec{
		Creating: map[eventlog.Role]bool{eventlog.RoleCalendarEntry: true},
		Updating: map[eventlog.Role]bool{eventlog.RoleCalendarUpdate: true},
		Removing: map[eventlog.Role]bool{eventlog.RoleCalendarRemoval: true},
	})
}

// ProjectStash folds the stash. Stash items have no update role; they are
// added and tombstoned only.
func ProjectStash(events []eventlog.Event) map[string]Row {
	return FoldTable(events, TableSpec{
		Creating: map[eventlog.Role]bool{eventlog.RoleStashItem: true},
		Removing: map[eventlog.Role]bool{eventlog.RoleStashRemoval: true},
	})
}
