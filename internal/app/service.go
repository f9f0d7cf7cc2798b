package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"memodesk/api/internal/anchor"
	"memodesk/api/internal/archive"
	"memodesk/api/internal/assumption"
	"memodesk/api/internal/cache"
	"memodesk/api/internal/config"
	"memodesk/api/internal/eventlog"
	"memodesk/api/internal/projection"
	"memodesk/api/internal/review"
	"memodesk/api/internal/search"
	"memodesk/api/internal/util"
)

// Service orchestrates the event log, the projectors, the draft-review
// service, and the optional collaborators (archive, cache, search). Archive
// mirroring and search indexing are best-effort and never fail an append.
type Service struct {
	cfg     config.Config
	log     eventlog.Store
	review  *review.Service
	archive *archive.Service
	cache   *cache.Snapshots
	search  *search.Service
}

func NewService(cfg config.Config, store eventlog.Store, reviewSvc *review.Service, archiveSvc *archive.Service, snapshots *cache.Snapshots, searchSvc *search.Service) *Service {
	return &Service{
		cfg:     cfg,
		log:     store,
		review:  reviewSvc,
		archive: archiveSvc,
		cache:   snapshots,
		search:  searchSvc,
	}
}

// Ping checks event store connectivity for readiness probes.
func (s *Service) Ping(ctx context.Context) error {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := s.log.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// ── sessions ──

func (s *Service) EnsureSession(ctx context.Context, tenantKey, sessionKey, title, actor string) (bool, error) {
	if strings.TrimSpace(tenantKey) == "" || strings.TrimSpace(sessionKey) == "" {
		return false, badRequest("tenantKey and sessionKey are required")
	}
	var initial json.RawMessage
	if title != "" {
		initial, _ = json.Marshal(eventlog.SessionPayload{Title: title})
	}
	return s.log.EnsureSession(ctx, tenantKey, sessionKey, initial, actor)
}

func (s *Service) ListSessions(ctx context.Context, tenantKey, prefix string, limit int) ([]eventlog.SessionRef, error) {
	if strings.TrimSpace(tenantKey) == "" {
		return nil, badRequest("tenantKey is required")
	}
	if limit <= 0 {
		limit = 50
	}
	refs, err := s.log.ListSessions(ctx, tenantKey, prefix, limit)
	if err != nil {
		return nil, err
	}
	if refs == nil {
		refs = []eventlog.SessionRef{}
	}
	return refs, nil
}

// ── drafts ──

func (s *Service) CreateDraft(ctx context.Context, tenantKey, title, content, actor string) (review.VersionResult, error) {
	result, err := s.review.CreateDraft(ctx, tenantKey, title, content, actor)
	if err != nil {
		return review.VersionResult{}, err
	}
	s.afterVersionAppend(ctx, result)
	return result, nil
}

func (s *Service) GetDraft(ctx context.Context, draftID string) (projection.DraftState, error) {
	if s.cache != nil {
		var state projection.DraftState
		err := s.cache.Get(ctx, draftID, "draft", &state)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			log.Printf("cache: get draft %s: %v", draftID, err)
		}
	}
	state, err := s.review.Draft(ctx, draftID)
	if err != nil {
		return projection.DraftState{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, draftID, "draft", state); err != nil {
			log.Printf("cache: set draft %s: %v", draftID, err)
		}
	}
	return state, nil
}

func (s *Service) AddVersion(ctx context.Context, draftID, title, content, actor string, source *eventlog.VersionSource) (review.VersionResult, error) {
	result, err := s.review.AddVersion(ctx, draftID, title, content, actor, source)
	if err != nil {
		return review.VersionResult{}, err
	}
	if !result.AlreadyImported {
		s.afterVersionAppend(ctx, result)
	}
	return result, nil
}

func (s *Service) ImportArtifact(ctx context.Context, draftID, bucket, key, jobID, artifactID, actor string) (review.VersionResult, error) {
	result, err := s.review.ImportArtifact(ctx, draftID, bucket, key, jobID, artifactID, actor)
	if err != nil {
		return review.VersionResult{}, err
	}
	if !result.AlreadyImported {
		s.afterVersionAppend(ctx, result)
	}
	return result, nil
}

func (s *Service) AddComment(ctx context.Context, draftID, versionID, kind, text string, a anchor.Anchor, actor, threadID, parentID string) (string, error) {
	commentID, err := s.review.AddComment(ctx, draftID, versionID, kind, text, a, actor, threadID, parentID)
	if err != nil {
		return "", err
	}
	s.invalidate(ctx, draftID)
	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:      commentID,
			DraftID: draftID,
			Text:    text,
			Quote:   a.Quote,
			Kind:    kind,
			Status:  eventlog.CommentStatusOpen,
		})
	}
	return commentID, nil
}

func (s *Service) SetCommentStatus(ctx context.Context, draftID, commentID, status, actor string) error {
	if err := s.review.SetCommentStatus(ctx, draftID, commentID, status, actor); err != nil {
		return err
	}
	s.invalidate(ctx, draftID)
	return nil
}

func (s *Service) ApplyAcceptedEdits(ctx context.Context, draftID, baseVersionID, actor string) (review.VersionResult, error) {
	result, err := s.review.ApplyAcceptedEdits(ctx, draftID, baseVersionID, actor)
	if err != nil {
		return review.VersionResult{}, err
	}
	s.afterVersionAppend(ctx, result)
	return result, nil
}

func (s *Service) ResolveAnchor(ctx context.Context, draftID, versionID string, a anchor.Anchor) (anchor.Span, bool, error) {
	return s.review.ResolveAnchor(ctx, draftID, versionID, a)
}

// VersionHistory lists the draft's mirrored archive commits, newest first.
func (s *Service) VersionHistory(ctx context.Context, draftID string, limit int) ([]archive.CommitInfo, error) {
	if s.archive == nil {
		return []archive.CommitInfo{}, nil
	}
	history, err := s.archive.History(draftID, limit)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []archive.CommitInfo{}
	}
	return history, nil
}

// ArchivedContent reads the mirrored content at one archive commit.
func (s *Service) ArchivedContent(ctx context.Context, draftID, hash string) (string, error) {
	if s.archive == nil {
		return "", notFound("draft archive not configured")
	}
	content, err := s.archive.Content(draftID, hash)
	if err != nil {
		return "", notFound("no archived content at " + hash)
	}
	return content, nil
}

// afterVersionAppend mirrors the new version into the git archive, indexes it
// for search, and drops stale projection snapshots. Failures are logged only.
func (s *Service) afterVersionAppend(ctx context.Context, result review.VersionResult) {
	s.invalidate(ctx, result.DraftID)

	if s.archive == nil && s.search == nil {
		return
	}
	state, err := s.review.Draft(ctx, result.DraftID)
	if err != nil {
		log.Printf("post-append projection for draft %s: %v", result.DraftID, err)
		return
	}
	version := state.FindVersion(result.VersionID)
	if version == nil {
		return
	}

	if s.archive != nil {
		if _, err := s.archive.CommitVersion(result.DraftID, version.VersionID, version.Title, version.Content, version.CreatedBy); err != nil {
			log.Printf("archive: mirror version %s of draft %s: %v", version.VersionID, result.DraftID, err)
		}
	}
	if s.search != nil {
		s.search.IndexVersion(search.VersionRecord{
			ID:      version.VersionID,
			DraftID: result.DraftID,
			Title:   version.Title,
			Content: version.Content,
		})
	}
}

func (s *Service) invalidate(ctx context.Context, sessionKey string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, sessionKey); err != nil {
		log.Printf("cache: invalidate %s: %v", sessionKey, err)
	}
}

// ── assumption packs ──

// PackValidation reports a validation run, including the derived pack id when
// one was appended.
type PackValidation struct {
	PackID        string            `json:"packId"`
	DerivedPackID string            `json:"derivedPackId,omitempty"`
	Result        assumption.Result `json:"result"`
}

func (s *Service) CreatePack(ctx context.Context, sessionKey string, pack assumption.Pack, actor string) (assumption.Pack, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return assumption.Pack{}, badRequest("sessionKey is required")
	}
	if len(pack.Assumptions) == 0 {
		return assumption.Pack{}, badRequest("pack has no assumptions")
	}
	pack.PackID = util.NewID("pack")
	pack.SessionID = sessionKey
	pack.CreatedAt = time.Now().UTC()
	pack.CreatedBy = actor
	if pack.Status == "" {
		pack.Status = assumption.StatusDraft
	}
	pack.Lineage = nil
	if err := s.appendPack(ctx, sessionKey, pack, actor); err != nil {
		return assumption.Pack{}, err
	}
	s.invalidate(ctx, sessionKey)
	return pack, nil
}

// ValidatePack runs the rule engine against a pack, using the closest locked
// ancestor for drift checking. Unless the run fails, a derived validated pack
// built from the normalized assumptions is appended.
func (s *Service) ValidatePack(ctx context.Context, sessionKey, packID, actor string) (PackValidation, error) {
	state, pack, err := s.findPack(ctx, sessionKey, packID)
	if err != nil {
		return PackValidation{}, err
	}

	prevLocked := state.LockedBefore(pack.CreatedAt)
	result := assumption.Validate(*pack, prevLocked)
	validation := PackValidation{PackID: packID, Result: result}
	if result.Status == assumption.CheckFail {
		return validation, nil
	}

	derived := result.Normalized.Derive(assumption.StatusValidated, "validated", util.NewID("pack"), actor, time.Now().UTC())
	if err := s.appendPack(ctx, sessionKey, derived, actor); err != nil {
		return PackValidation{}, err
	}
	s.invalidate(ctx, sessionKey)
	validation.DerivedPackID = derived.PackID
	return validation, nil
}

// LockPack derives a locked pack after a validation run that must not fail.
// Locked packs are the only valid input to downstream computation.
func (s *Service) LockPack(ctx context.Context, sessionKey, packID, reason, actor string) (assumption.Pack, error) {
	state, pack, err := s.findPack(ctx, sessionKey, packID)
	if err != nil {
		return assumption.Pack{}, err
	}

	prevLocked := state.LockedBefore(pack.CreatedAt)
	result := assumption.Validate(*pack, prevLocked)
	if result.Status == assumption.CheckFail {
		return assumption.Pack{}, conflict("VALIDATION_FAILED", "pack fails validation and cannot be locked", result.Checks)
	}
	if reason == "" {
		reason = "locked"
	}

	locked := result.Normalized.Derive(assumption.StatusLocked, reason, util.NewID("pack"), actor, time.Now().UTC())
	if err := s.appendPack(ctx, sessionKey, locked, actor); err != nil {
		return assumption.Pack{}, err
	}
	s.invalidate(ctx, sessionKey)
	return locked, nil
}

func (s *Service) Packs(ctx context.Context, sessionKey string) (projection.PackState, error) {
	events, err := s.log.List(ctx, sessionKey)
	if err != nil {
		return projection.PackState{}, err
	}
	return projection.ProjectPacks(events), nil
}

func (s *Service) LatestPack(ctx context.Context, sessionKey string, lockedOnly bool) (*assumption.Pack, error) {
	state, err := s.Packs(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if lockedOnly {
		return state.LatestLocked(), nil
	}
	return state.Latest(), nil
}

func (s *Service) AddFactPack(ctx context.Context, sessionKey string, facts []assumption.Fact, actor string) (assumption.FactPack, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return assumption.FactPack{}, badRequest("sessionKey is required")
	}
	if len(facts) == 0 {
		return assumption.FactPack{}, badRequest("fact pack has no facts")
	}
	pack := assumption.FactPack{
		FactPackID: util.NewID("facts"),
		SessionID:  sessionKey,
		CreatedAt:  time.Now().UTC(),
		CreatedBy:  actor,
		Facts:      facts,
	}
	payload, err := json.Marshal(pack)
	if err != nil {
		return assumption.FactPack{}, fmt.Errorf("encode fact pack: %w", err)
	}
	if _, err := s.log.Append(ctx, eventlog.Event{
		SessionKey: sessionKey,
		Role:       eventlog.RoleFactPack,
		Payload:    payload,
		Actor:      actor,
	}); err != nil {
		return assumption.FactPack{}, err
	}
	s.invalidate(ctx, sessionKey)
	return pack, nil
}

func (s *Service) FactPacks(ctx context.Context, sessionKey string) ([]assumption.FactPack, error) {
	events, err := s.log.List(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	packs := projection.ProjectFacts(events)
	if packs == nil {
		packs = []assumption.FactPack{}
	}
	return packs, nil
}

func (s *Service) findPack(ctx context.Context, sessionKey, packID string) (projection.PackState, *assumption.Pack, error) {
	state, err := s.Packs(ctx, sessionKey)
	if err != nil {
		return projection.PackState{}, nil, err
	}
	pack := state.Find(packID)
	if pack == nil {
		return projection.PackState{}, nil, notFound("assumption pack " + packID + " not found")
	}
	return state, pack, nil
}

func (s *Service) appendPack(ctx context.Context, sessionKey string, pack assumption.Pack, actor string) error {
	payload, err := json.Marshal(pack)
	if err != nil {
		return fmt.Errorf("encode assumption pack: %w", err)
	}
	_, err = s.log.Append(ctx, eventlog.Event{
		SessionKey: sessionKey,
		Role:       eventlog.RoleAssumptionPack,
		Payload:    payload,
		Actor:      actor,
	})
	return err
}

// ── tasks, calendar, stash ──

// tableRoles configures the shared add/update/remove handling per concept.
type tableRoles struct {
	prefix  string
	create  eventlog.Role
	update  eventlog.Role
	remove  eventlog.Role
	project func([]eventlog.Event) map[string]projection.Row
}

var (
	taskRoles = tableRoles{
		prefix:  "task",
		create:  eventlog.RoleTask,
		update:  eventlog.RoleTaskUpdate,
		remove:  eventlog.RoleTaskRemoval,
		project: projection.ProjectTasks,
	}
	calendarRoles = tableRoles{
		prefix:  "cal",
		create:  eventlog.RoleCalendarEntry,
		update:  eventlog.RoleCalendarUpdate,
		remove:  eventlog.RoleCalendarRemoval,
		project: projection.ProjectCalendar,
	}
	stashRoles = tableRoles{
		prefix:  "stash",
		create:  eventlog.RoleStashItem,
		remove:  eventlog.RoleStashRemoval,
		project: projection.ProjectStash,
	}
)

func (s *Service) AddTableItem(ctx context.Context, roles tableRoles, sessionKey string, fields map[string]any, actor string) (string, error) {
	if len(fields) == 0 {
		return "", badRequest("fields are required")
	}
	id := util.NewID(roles.prefix)
	if err := s.appendTable(ctx, roles.create, sessionKey, id, fields, actor); err != nil {
		return "", err
	}
	s.invalidate(ctx, sessionKey)
	return id, nil
}

func (s *Service) UpdateTableItem(ctx context.Context, roles tableRoles, sessionKey, id string, fields map[string]any, actor string) error {
	if roles.update == "" {
		return badRequest("updates are not supported here")
	}
	if len(fields) == 0 {
		return badRequest("fields are required")
	}
	if err := s.appendTable(ctx, roles.update, sessionKey, id, fields, actor); err != nil {
		return err
	}
	s.invalidate(ctx, sessionKey)
	return nil
}

func (s *Service) RemoveTableItem(ctx context.Context, roles tableRoles, sessionKey, id, actor string) error {
	if err := s.appendTable(ctx, roles.remove, sessionKey, id, nil, actor); err != nil {
		return err
	}
	s.invalidate(ctx, sessionKey)
	return nil
}

func (s *Service) TableRows(ctx context.Context, roles tableRoles, sessionKey string) ([]projection.Row, error) {
	events, err := s.log.List(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	rows := projection.SortedRows(roles.project(events))
	if rows == nil {
		rows = []projection.Row{}
	}
	return rows, nil
}

func (s *Service) appendTable(ctx context.Context, role eventlog.Role, sessionKey, id string, fields map[string]any, actor string) error {
	if strings.TrimSpace(sessionKey) == "" || strings.TrimSpace(id) == "" {
		return badRequest("sessionKey and id are required")
	}
	payload, err := json.Marshal(eventlog.TablePayload{ID: id, Fields: fields})
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", role, err)
	}
	_, err = s.log.Append(ctx, eventlog.Event{
		SessionKey: sessionKey,
		Role:       role,
		Payload:    payload,
		Actor:      actor,
	})
	return err
}

// ── search ──

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}
