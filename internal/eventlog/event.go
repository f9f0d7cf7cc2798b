// Package eventlog is the append-only collaborative document log. Every
// mutable concept in the product is an ordered sequence of immutable typed
// events scoped to a (tenant, session) pair; current state is reconstructed
// on read by the projectors in internal/projection.
package eventlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"memodesk/api/internal/anchor"
	"memodesk/api/internal/assumption"
)

// Role is the closed event discriminator. Logical deletion is represented by
// a later removal/update role referencing the same target id; events are
// never mutated or deleted.
type Role string

const (
	RoleSession         Role = "session"
	RoleSessionPointer  Role = "session_pointer"
	RoleVersion         Role = "version"
	RoleComment         Role = "comment"
	RoleCommentStatus   Role = "comment_status_update"
	RoleAssumptionPack  Role = "assumption_pack"
	RoleFactPack        Role = "fact_pack"
	RoleTask            Role = "task"
	RoleTaskUpdate      Role = "task_update"
	RoleTaskRemoval     Role = "task_removal"
	RoleCalendarEntry   Role = "calendar_entry"
	RoleCalendarUpdate  Role = "calendar_update"
	RoleCalendarRemoval Role = "calendar_removal"
	RoleStashItem       Role = "stash_item"
	RoleStashRemoval    Role = "stash_removal"
)

var knownRoles = map[Role]bool{
	RoleSession:         true,
	RoleSessionPointer:  true,
	RoleVersion:         true,
	RoleComment:         true,
	RoleCommentStatus:   true,
	RoleAssumptionPack:  true,
	RoleFactPack:        true,
	RoleTask:            true,
	RoleTaskUpdate:      true,
	RoleTaskRemoval:     true,
	RoleCalendarEntry:   true,
	RoleCalendarUpdate:  true,
	RoleCalendarRemoval: true,
	RoleStashItem:       true,
	RoleStashRemoval:    true,
}

// KnownRole reports whether role belongs to the closed discriminator set.
func KnownRole(role Role) bool {
	return knownRoles[role]
}

// Event is the immutable envelope persisted to the log.
type Event struct {
	TenantKey  string          `json:"tenantKey,omitempty"`
	SessionKey string          `json:"sessionKey"`
	EventID    string          `json:"eventId"`
	Role       Role            `json:"role"`
	Payload    json.RawMessage `json:"payload"`
	Actor      string          `json:"actor"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Less orders events by the (CreatedAt, EventID) lexical tuple. The id
// tiebreak keeps the order total even under coarse timestamp resolution.
func Less(a, b Event) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.EventID < b.EventID
}

// VersionSource links a version to the external artifact it was imported
// from, for deduplication of repeated imports.
type VersionSource struct {
	Kind       string `json:"kind"`
	JobID      string `json:"jobId"`
	ArtifactID string `json:"artifactId"`
}

// VersionPayload is the payload of a RoleVersion event. Versions are never
// edited in place; a new version is always a new event.
type VersionPayload struct {
	VersionID string         `json:"versionId"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Source    *VersionSource `json:"source,omitempty"`
}

// CommentPayload is the payload of a RoleComment event. A comment with no
// ParentID is a thread root; comments sharing a ThreadID form one thread.
type CommentPayload struct {
	CommentID string        `json:"commentId"`
	VersionID string        `json:"versionId"`
	Kind      string        `json:"kind"`
	Text      string        `json:"text"`
	Anchor    anchor.Anchor `json:"anchor"`
	ThreadID  string        `json:"threadId"`
	ParentID  string        `json:"parentId,omitempty"`
}

// Comment kinds and statuses.
const (
	CommentKindEdit        = "edit"
	CommentKindPraise      = "praise"
	CommentKindAlternative = "alternative"

	CommentStatusOpen     = "open"
	CommentStatusAccepted = "accepted"
	CommentStatusRejected = "rejected"
)

// CommentStatusPayload layers a status transition onto an existing comment.
// The latest status event for a CommentID wins.
type CommentStatusPayload struct {
	CommentID string `json:"commentId"`
	Status    string `json:"status"`
}

// SessionPointerPayload is the denormalized listing pointer appended to a
// tenant's index partition alongside session creation. Pointers are listing
// aids, never the source of truth for entity state.
type SessionPointerPayload struct {
	SessionKey string `json:"sessionKey"`
	Title      string `json:"title,omitempty"`
}

// SessionPayload is the initial payload recorded when a session is created.
type SessionPayload struct {
	Title string          `json:"title,omitempty"`
	Extra json.RawMessage `json:"extra,omitempty"`
}

// TablePayload is the shared payload shape for the map-like concepts (task
// board, calendar, stash): a target id plus named fields that creating events
// seed and updating events shallow-merge.
type TablePayload struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Decode is the single schema-validated decode step at the point events are
// read off the log. It returns the typed payload for the event's role so
// projector and service code can assume well-typed input.
func Decode(e Event) (any, error) {
	switch e.Role {
	case RoleSession:
		return decodeInto[SessionPayload](e)
	case RoleSessionPointer:
		p, err := decodeInto[SessionPointerPayload](e)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.SessionKey) == "" {
			return nil, fmt.Errorf("event %s: session pointer without session key", e.EventID)
		}
		return p, nil
	case RoleVersion:
		p, err := decodeInto[VersionPayload](e)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.VersionID) == "" {
			return nil, fmt.Errorf("event %s: version without version id", e.EventID)
		}
		return p, nil
	case RoleComment:
		p, err := decodeInto[CommentPayload](e)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.CommentID) == "" {
			return nil, fmt.Errorf("event %s: comment without comment id", e.EventID)
		}
		return p, nil
	case RoleCommentStatus:
		p, err := decodeInto[CommentStatusPayload](e)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.CommentID) == "" {
			return nil, fmt.Errorf("event %s: status update without comment id", e.EventID)
		}
		return p, nil
	case RoleAssumptionPack:
		p, err := decodeInto[assumption.Pack](e)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.PackID) == "" {
			return nil, fmt.Errorf("event %s: assumption pack without pack id", e.EventID)
		}
		return p, nil
	case RoleFactPack:
		p, err := decodeInto[assumption.FactPack](e)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.FactPackID) == "" {
			return nil, fmt.Errorf("event %s: fact pack without id", e.EventID)
		}
		return p, nil
	case RoleTask, RoleTaskUpdate, RoleTaskRemoval,
		RoleCalendarEntry, RoleCalendarUpdate, RoleCalendarRemoval,
		RoleStashItem, RoleStashRemoval:
		p, err := decodeInto[TablePayload](e)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("event %s: %s without target id", e.EventID, e.Role)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("event %s: unknown role %q", e.EventID, e.Role)
	}
}

func decodeInto[T any](e Event) (T, error) {
	var payload T
	if len(e.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s payload for event %s: %w", e.Role, e.EventID, err)
	}
	return payload, nil
}
