// Package review orchestrates the draft lifecycle on top of the event log:
// version creation, comment threads, and applying accepted edits through the
// external text-revision collaborator. Every operation appends at most one
// batch of new events and never mutates existing ones.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"memodesk/api/internal/anchor"
	"memodesk/api/internal/eventlog"
	"memodesk/api/internal/projection"
	"memodesk/api/internal/util"
)

var (
	// ErrNoAcceptedComments is the normal, recoverable outcome of applying
	// edits when no accepted top-level comments exist for the base version.
	ErrNoAcceptedComments = errors.New("no accepted comments for version")

	// ErrEmptyRevisionOutput reports that the revision collaborator
	// returned nothing usable; no version is committed in that case.
	ErrEmptyRevisionOutput = errors.New("revision produced empty output")

	// ErrDraftNotFound and ErrVersionNotFound classify lookups of unknown
	// drafts and versions.
	ErrDraftNotFound   = errors.New("draft not found")
	ErrVersionNotFound = errors.New("version not found")

	// ErrNoBlobStore reports that artifact import was requested without a
	// configured object store.
	ErrNoBlobStore = errors.New("artifact store not configured")

	// ErrInvalidInput classifies caller mistakes: missing fields, unknown
	// kinds or statuses. Mapped to BAD_REQUEST at the HTTP boundary.
	ErrInvalidInput = errors.New("invalid input")
)

// EditRequest is one structured edit handed to the revision collaborator.
type EditRequest struct {
	Quote       string `json:"quote"`
	Context     string `json:"context,omitempty"`
	Instruction string `json:"instruction"`
	Kind        string `json:"kind"`
}

// Reviser is the text-revision collaborator: possibly slow, treated as
// untrusted. It either returns revised content or an error; the service
// appends exactly one version on success and nothing on failure.
type Reviser interface {
	Revise(ctx context.Context, baseContent string, edits []EditRequest) (string, error)
}

// BlobStore resolves a (bucket, key) reference to raw bytes when importing an
// external artifact into a draft version.
type BlobStore interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// Service is the draft-review service. All collaborators are injected; there
// is no global state.
type Service struct {
	log     eventlog.Store
	reviser Reviser
	blobs   BlobStore
}

// New creates the service. reviser and blobs may be nil when the deployment
// does not wire those collaborators; the corresponding operations then fail
// with a classified error.
func New(log eventlog.Store, reviser Reviser, blobs BlobStore) *Service {
	return &Service{log: log, reviser: reviser, blobs: blobs}
}

// VersionResult reports the outcome of an operation that lands on a version.
type VersionResult struct {
	DraftID         string `json:"draftId"`
	VersionID       string `json:"versionId"`
	AlreadyImported bool   `json:"alreadyImported,omitempty"`
}

// CreateDraft creates the draft session and its first version.
func (s *Service) CreateDraft(ctx context.Context, tenantKey, title, content, actor string) (VersionResult, error) {
	if strings.TrimSpace(title) == "" {
		return VersionResult{}, fmt.Errorf("%w: draft title is required", ErrInvalidInput)
	}
	draftID := util.NewID("draft")

	initial, _ := json.Marshal(eventlog.SessionPayload{Title: title})
	if _, err := s.log.EnsureSession(ctx, tenantKey, draftID, initial, actor); err != nil {
		return VersionResult{}, fmt.Errorf("create draft session: %w", err)
	}
	return s.appendVersion(ctx, tenantKey, draftID, title, content, actor, nil)
}

// AddVersion appends a new version. A prior version is never mutated. When
// source matches an existing version's (kind, jobId, artifactId) triple the
// existing version id is returned with AlreadyImported set and nothing is
// appended.
func (s *Service) AddVersion(ctx context.Context, draftID, title, content, actor string, source *eventlog.VersionSource) (VersionResult, error) {
	state, err := s.projectDraft(ctx, draftID)
	if err != nil {
		return VersionResult{}, err
	}
	if source != nil {
		for _, v := range state.Versions {
			if v.Source != nil && *v.Source == *source {
				return VersionResult{DraftID: draftID, VersionID: v.VersionID, AlreadyImported: true}, nil
			}
		}
	}
	tenantKey := state.TenantKey
	return s.appendVersion(ctx, tenantKey, draftID, title, content, actor, source)
}

// ImportArtifact fetches an external artifact and records it as a new
// version, deduplicated on the source triple.
func (s *Service) ImportArtifact(ctx context.Context, draftID, bucket, key, jobID, artifactID, actor string) (VersionResult, error) {
	if s.blobs == nil {
		return VersionResult{}, ErrNoBlobStore
	}
	if bucket == "" || key == "" {
		return VersionResult{}, fmt.Errorf("%w: artifact bucket and key are required", ErrInvalidInput)
	}

	source := &eventlog.VersionSource{Kind: "artifact", JobID: jobID, ArtifactID: artifactID}
	state, err := s.projectDraft(ctx, draftID)
	if err != nil {
		return VersionResult{}, err
	}
	for _, v := range state.Versions {
		if v.Source != nil && *v.Source == *source {
			return VersionResult{DraftID: draftID, VersionID: v.VersionID, AlreadyImported: true}, nil
		}
	}

	data, err := s.blobs.Fetch(ctx, bucket, key)
	if err != nil {
		return VersionResult{}, fmt.Errorf("fetch artifact %s/%s: %w", bucket, key, err)
	}
	return s.appendVersion(ctx, state.TenantKey, draftID, path.Base(key), string(data), actor, source)
}

// AddComment appends a comment event. An empty threadID starts a new thread
// with this comment as root.
func (s *Service) AddComment(ctx context.Context, draftID, versionID, kind, text string, a anchor.Anchor, actor, threadID, parentID string) (string, error) {
	switch kind {
	case eventlog.CommentKindEdit, eventlog.CommentKindPraise, eventlog.CommentKindAlternative:
	default:
		return "", fmt.Errorf("%w: unknown comment kind %q", ErrInvalidInput, kind)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: comment text is required", ErrInvalidInput)
	}

	state, err := s.projectDraft(ctx, draftID)
	if err != nil {
		return "", err
	}
	if state.FindVersion(versionID) == nil {
		return "", fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}

	commentID := util.NewID("cmt")
	if threadID == "" {
		threadID = commentID
	}
	payload, err := json.Marshal(eventlog.CommentPayload{
		CommentID: commentID,
		VersionID: versionID,
		Kind:      kind,
		Text:      text,
		Anchor:    a,
		ThreadID:  threadID,
		ParentID:  parentID,
	})
	if err != nil {
		return "", fmt.Errorf("encode comment: %w", err)
	}
	if _, err := s.log.Append(ctx, eventlog.Event{
		TenantKey:  state.TenantKey,
		SessionKey: draftID,
		Role:       eventlog.RoleComment,
		Payload:    payload,
		Actor:      actor,
	}); err != nil {
		return "", fmt.Errorf("append comment: %w", err)
	}
	return commentID, nil
}

// SetCommentStatus appends a status-update event without checking that the
// comment exists: the projector silently ignores updates to unknown ids, so
// the append is an idempotent no-op from the log's perspective.
func (s *Service) SetCommentStatus(ctx context.Context, draftID, commentID, status, actor string) error {
	switch status {
	case eventlog.CommentStatusOpen, eventlog.CommentStatusAccepted, eventlog.CommentStatusRejected:
	default:
		return fmt.Errorf("%w: unknown comment status %q", ErrInvalidInput, status)
	}
	payload, err := json.Marshal(eventlog.CommentStatusPayload{CommentID: commentID, Status: status})
	if err != nil {
		return fmt.Errorf("encode status update: %w", err)
	}
	if _, err := s.log.Append(ctx, eventlog.Event{
		SessionKey: draftID,
		Role:       eventlog.RoleCommentStatus,
		Payload:    payload,
		Actor:      actor,
	}); err != nil {
		return fmt.Errorf("append status update: %w", err)
	}
	return nil
}

// ApplyAcceptedEdits collects the base version's accepted, non-praise,
// top-level comments, delegates the rewrite to the revision collaborator,
// and appends exactly one new version on success. On empty or failed output
// nothing is appended, so a cancelled call leaves no partial state.
func (s *Service) ApplyAcceptedEdits(ctx context.Context, draftID, baseVersionID, actor string) (VersionResult, error) {
	state, err := s.projectDraft(ctx, draftID)
	if err != nil {
		return VersionResult{}, err
	}
	base := state.FindVersion(baseVersionID)
	if base == nil {
		return VersionResult{}, fmt.Errorf("%w: %s", ErrVersionNotFound, baseVersionID)
	}

	var eligible []*projection.Comment
	for _, c := range state.Comments {
		if c.VersionID != baseVersionID || c.ParentID != "" {
			continue
		}
		if c.Status != eventlog.CommentStatusAccepted || c.Kind == eventlog.CommentKindPraise {
			continue
		}
		eligible = append(eligible, c)
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].CommentID < eligible[j].CommentID
	})

	var edits []EditRequest
	for _, c := range eligible {
		edits = append(edits, EditRequest{
			Quote:       c.Anchor.Quote,
			Context:     c.Anchor.Context,
			Instruction: c.Text,
			Kind:        c.Kind,
		})
	}
	if len(edits) == 0 {
		return VersionResult{}, ErrNoAcceptedComments
	}
	if s.reviser == nil {
		return VersionResult{}, ErrEmptyRevisionOutput
	}

	revised, err := s.reviser.Revise(ctx, base.Content, edits)
	if err != nil {
		return VersionResult{}, fmt.Errorf("%w: %v", ErrEmptyRevisionOutput, err)
	}
	if strings.TrimSpace(revised) == "" {
		return VersionResult{}, ErrEmptyRevisionOutput
	}
	return s.appendVersion(ctx, state.TenantKey, draftID, base.Title, revised, actor, nil)
}

// ResolveAnchor relocates a recorded anchor inside the given version's
// current content. A miss is an orphaned annotation, not an error.
func (s *Service) ResolveAnchor(ctx context.Context, draftID, versionID string, a anchor.Anchor) (anchor.Span, bool, error) {
	state, err := s.projectDraft(ctx, draftID)
	if err != nil {
		return anchor.Span{}, false, err
	}
	version := state.FindVersion(versionID)
	if version == nil {
		return anchor.Span{}, false, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	span, ok := anchor.Resolve(a, version.Content)
	return span, ok, nil
}

// Draft returns the projected state of a draft session.
func (s *Service) Draft(ctx context.Context, draftID string) (projection.DraftState, error) {
	return s.projectDraft(ctx, draftID)
}

func (s *Service) projectDraft(ctx context.Context, draftID string) (projection.DraftState, error) {
	events, err := s.log.List(ctx, draftID)
	if err != nil {
		return projection.DraftState{}, fmt.Errorf("list draft events: %w", err)
	}
	if len(events) == 0 {
		return projection.DraftState{}, fmt.Errorf("%w: %s", ErrDraftNotFound, draftID)
	}
	return projection.ProjectDraft(events), nil
}

func (s *Service) appendVersion(ctx context.Context, tenantKey, draftID, title, content, actor string, source *eventlog.VersionSource) (VersionResult, error) {
	versionID := util.NewID("ver")
	payload, err := json.Marshal(eventlog.VersionPayload{
		VersionID: versionID,
		Title:     title,
		Content:   content,
		Source:    source,
	})
	if err != nil {
		return VersionResult{}, fmt.Errorf("encode version: %w", err)
	}
	if _, err := s.log.Append(ctx, eventlog.Event{
		TenantKey:  tenantKey,
		SessionKey: draftID,
		Role:       eventlog.RoleVersion,
		Payload:    payload,
		Actor:      actor,
	}); err != nil {
		return VersionResult{}, fmt.Errorf("append version: %w", err)
	}
	return VersionResult{DraftID: draftID, VersionID: versionID}, nil
}
