// Package projection reconstructs current aggregate state from ordered event
// sequences. Every projector is a pure fold: no I/O, safe to run repeatedly
// and in parallel across independent aggregate keys.
package projection

import (
	"sort"
	"time"

	"memodesk/api/internal/anchor"
	"memodesk/api/internal/eventlog"
)

// Version is one projected draft version. Versions accumulate append-only and
// are never merged.
type Version struct {
	VersionID string                  `json:"versionId"`
	Title     string                  `json:"title"`
	Content   string                  `json:"content"`
	Source    *eventlog.VersionSource `json:"source,omitempty"`
	CreatedBy string                  `json:"createdBy"`
	CreatedAt time.Time               `json:"createdAt"`
}

// Comment is a projected comment with the latest folded status.
type Comment struct {
	CommentID string        `json:"commentId"`
	VersionID string        `json:"versionId"`
	Kind      string        `json:"kind"`
	Status    string        `json:"status"`
	Text      string        `json:"text"`
	Anchor    anchor.Anchor `json:"anchor"`
	ThreadID  string        `json:"threadId"`
	ParentID  string        `json:"parentId,omitempty"`
	CreatedBy string        `json:"createdBy"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt *time.Time    `json:"updatedAt,omitempty"`

	order int
}

// Thread is a root comment plus its ordered replies.
type Thread struct {
	ThreadID string     `json:"threadId"`
	Root     *Comment   `json:"root"`
	Replies  []*Comment `json:"replies"`
}

// DraftState is the materialized view of a draft session.
type DraftState struct {
	TenantKey string              `json:"tenantKey,omitempty"`
	Title     string              `json:"title,omitempty"`
	Versions  []Version           `json:"versions"`
	Threads   []Thread            `json:"threads"`
	Comments  map[string]*Comment `json:"-"`
}

// FindVersion returns the projected version with the given id, or nil.
func (s DraftState) FindVersion(versionID string) *Version {
	for i := range s.Versions {
		if s.Versions[i].VersionID == versionID {
			return &s.Versions[i]
		}
	}
	return nil
}

// ProjectDraft folds a draft session's events into versions and comment
// threads. Status updates fold onto the matching comment only; updates for
// unknown ids are ignored so partial log replays stay harmless. When two
// writers race on the same comment's status, the later event in the
// (CreatedAt, EventID) order wins.
func ProjectDraft(events []eventlog.Event) DraftState {
	ordered := sortedCopy(events)

	state := DraftState{Comments: make(map[string]*Comment)}
	threadOrder := make(map[string]int)
	threads := make(map[string][]*Comment)

	for i, e := range ordered {
		if state.TenantKey == "" && e.TenantKey != "" {
			state.TenantKey = e.TenantKey
		}
		decoded, err := eventlog.Decode(e)
		if err != nil {
			continue
		}
		switch payload := decoded.(type) {
		case eventlog.SessionPayload:
			if state.Title == "" {
				state.Title = payload.Title
			}
		case eventlog.VersionPayload:
			state.Versions = append(state.Versions, Version{
				VersionID: payload.VersionID,
				Title:     payload.Title,
				Content:   payload.Content,
				Source:    payload.Source,
				CreatedBy: e.Actor,
				CreatedAt: e.CreatedAt,
			})
		case eventlog.CommentPayload:
			if _, exists := state.Comments[payload.CommentID]; exists {
				continue
			}
			threadID := payload.ThreadID
			if threadID == "" {
				threadID = payload.CommentID
			}
			c := &Comment{
				CommentID: payload.CommentID,
				VersionID: payload.VersionID,
				Kind:      payload.Kind,
				Status:    eventlog.CommentStatusOpen,
				Text:      payload.Text,
				Anchor:    payload.Anchor,
				ThreadID:  threadID,
				ParentID:  payload.ParentID,
				CreatedBy: e.Actor,
				CreatedAt: e.CreatedAt,
				order:     i,
			}
			state.Comments[c.CommentID] = c
			if _, seen := threadOrder[threadID]; !seen {
				threadOrder[threadID] = len(threadOrder)
			}
			threads[threadID] = append(threads[threadID], c)
		case eventlog.CommentStatusPayload:
			c, exists := state.Comments[payload.CommentID]
			if !exists {
				continue
			}
			c.Status = payload.Status
			at := e.CreatedAt
			c.UpdatedAt = &at
		}
	}

	state.Threads = buildThreads(threads, threadOrder)
	return state
}

// buildThreads picks each thread's root (the comment without a parent, or the
// earliest one when none is marked) and sorts replies by creation order.
func buildThreads(threads map[string][]*Comment, order map[string]int) []Thread {
	out := make([]Thread, 0, len(threads))
	for threadID, comments := range threads {
		var root *Comment
		for _, c := range comments {
			if c.ParentID == "" {
				root = c
				break
			}
		}
		if root == nil {
			root = comments[0]
		}
		var replies []*Comment
		for _, c := range comments {
			if c != root {
				replies = append(replies, c)
			}
		}
		sort.SliceStable(replies, func(i, j int) bool { return replies[i].order < replies[j].order })
		out = append(out, Thread{ThreadID: threadID, Root: root, Replies: replies})
	}
	sort.SliceStable(out, func(i, j int) bool { return order[out[i].ThreadID] < order[out[j].ThreadID] })
	return out
}

// sortedCopy re-establishes the (CreatedAt, EventID) total order so a fold
// is correct even when the caller merged streams out of order.
func sortedCopy(events []eventlog.Event) []eventlog.Event {
	ordered := append([]eventlog.Event(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool { return eventlog.Less(ordered[i], ordered[j]) })
	return ordered
}
