package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"memodesk/api/internal/anchor"
	"memodesk/api/internal/assumption"
	"memodesk/api/internal/eventlog"
	"memodesk/api/internal/review"
	"memodesk/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"eventStore": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["eventStore"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.URL.Path == "/api/sessions" {
		if r.Method == http.MethodGet {
			s.handleListSessions(w, r)
			return
		}
		if r.Method == http.MethodPost {
			s.handleEnsureSession(w, r)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/drafts" {
		s.handleCreateDraft(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "drafts" {
		s.handleDrafts(w, r, parts[2], parts)
		return
	}

	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "sessions" {
		s.handleSessionScoped(w, r, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// commentInput is the request body shared by comment creation.
type commentInput struct {
	VersionID string        `json:"versionId"`
	Kind      string        `json:"kind"`
	Text      string        `json:"text"`
	Anchor    anchor.Anchor `json:"anchor"`
	ThreadID  string        `json:"threadId"`
	ParentID  string        `json:"parentId"`
}

func (s *HTTPServer) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	var body struct {
		TenantKey string `json:"tenantKey"`
		Title     string `json:"title"`
		Content   string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.TenantKey) == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "tenantKey is required", nil)
		return
	}
	result, err := s.service.CreateDraft(r.Context(), body.TenantKey, body.Title, body.Content, actor)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleDrafts(w http.ResponseWriter, r *http.Request, draftID string, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodGet {
		state, err := s.service.GetDraft(r.Context(), draftID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}

	if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
		limit := queryInt(r, "limit", 50)
		history, err := s.service.VersionHistory(r.Context(), draftID, limit)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": history})
		return
	}

	if len(parts) == 5 && parts[3] == "history" && r.Method == http.MethodGet {
		content, err := s.service.ArchivedContent(r.Context(), draftID, parts[4])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hash": parts[4], "content": content})
		return
	}

	if len(parts) == 4 && parts[3] == "versions" && r.Method == http.MethodPost {
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			Title   string                  `json:"title"`
			Content string                  `json:"content"`
			Source  *eventlog.VersionSource `json:"source"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		result, err := s.service.AddVersion(r.Context(), draftID, body.Title, body.Content, actor, body.Source)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
		return
	}

	if len(parts) == 4 && parts[3] == "import" && r.Method == http.MethodPost {
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			Bucket     string `json:"bucket"`
			Key        string `json:"key"`
			JobID      string `json:"jobId"`
			ArtifactID string `json:"artifactId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		result, err := s.service.ImportArtifact(r.Context(), draftID, body.Bucket, body.Key, body.JobID, body.ArtifactID, actor)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		status := http.StatusCreated
		if result.AlreadyImported {
			status = http.StatusOK
		}
		writeJSON(w, status, result)
		return
	}

	if len(parts) == 4 && parts[3] == "comments" && r.Method == http.MethodPost {
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		var body commentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		commentID, err := s.service.AddComment(r.Context(), draftID, body.VersionID, body.Kind, body.Text, body.Anchor, actor, body.ThreadID, body.ParentID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"commentId": commentID})
		return
	}

	if len(parts) == 6 && parts[3] == "comments" && parts[5] == "status" && r.Method == http.MethodPost {
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		if err := s.service.SetCommentStatus(r.Context(), draftID, parts[4], body.Status, actor); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 6 && parts[3] == "versions" && parts[5] == "revise" && r.Method == http.MethodPost {
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		result, err := s.service.ApplyAcceptedEdits(r.Context(), draftID, parts[4], actor)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
		return
	}

	if len(parts) == 6 && parts[3] == "versions" && parts[5] == "resolve-anchor" && r.Method == http.MethodPost {
		var body anchor.Anchor
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		span, found, err := s.service.ResolveAnchor(r.Context(), draftID, parts[4], body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		if !found {
			writeJSON(w, http.StatusOK, map[string]any{"span": nil, "resolved": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"span": span, "resolved": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSessionScoped(w http.ResponseWriter, r *http.Request, sessionKey string, parts []string) {
	rest := parts[3:]

	if rest[0] == "packs" {
		s.handlePacks(w, r, sessionKey, rest)
		return
	}

	if rest[0] == "facts" && len(rest) == 1 {
		if r.Method == http.MethodGet {
			packs, err := s.service.FactPacks(r.Context(), sessionKey)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"factPacks": packs})
			return
		}
		if r.Method == http.MethodPost {
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			var body struct {
				Facts []assumption.Fact `json:"facts"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
				return
			}
			pack, err := s.service.AddFactPack(r.Context(), sessionKey, body.Facts, actor)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, pack)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	var roles tableRoles
	switch rest[0] {
	case "tasks":
		roles = taskRoles
	case "calendar":
		roles = calendarRoles
	case "stash":
		roles = stashRoles
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	s.handleTable(w, r, roles, sessionKey, rest)
}

func (s *HTTPServer) handlePacks(w http.ResponseWriter, r *http.Request, sessionKey string, rest []string) {
	if len(rest) == 1 {
		if r.Method == http.MethodGet {
			state, err := s.service.Packs(r.Context(), sessionKey)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, state)
			return
		}
		if r.Method == http.MethodPost {
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			var body assumption.Pack
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
				return
			}
			pack, err := s.service.CreatePack(r.Context(), sessionKey, body, actor)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, pack)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 2 && rest[1] == "latest" && r.Method == http.MethodGet {
		lockedOnly := r.URL.Query().Get("locked") == "true"
		pack, err := s.service.LatestPack(r.Context(), sessionKey, lockedOnly)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pack": pack})
		return
	}

	if len(rest) == 3 && rest[2] == "validate" && r.Method == http.MethodPost {
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		validation, err := s.service.ValidatePack(r.Context(), sessionKey, rest[1], actor)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, validation)
		return
	}

	if len(rest) == 3 && rest[2] == "lock" && r.Method == http.MethodPost {
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		locked, err := s.service.LockPack(r.Context(), sessionKey, rest[1], body.Reason, actor)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, locked)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTable(w http.ResponseWriter, r *http.Request, roles tableRoles, sessionKey string, rest []string) {
	if len(rest) == 1 {
		if r.Method == http.MethodGet {
			rows, err := s.service.TableRows(r.Context(), roles, sessionKey)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": rows})
			return
		}
		if r.Method == http.MethodPost {
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
				return
			}
			id, err := s.service.AddTableItem(r.Context(), roles, sessionKey, body.Fields, actor)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"id": id})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 2 {
		itemID := rest[1]
		if r.Method == http.MethodPut {
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
				return
			}
			if err := s.service.UpdateTableItem(r.Context(), roles, sessionKey, itemID, body.Fields, actor); err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		if r.Method == http.MethodDelete {
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			if err := s.service.RemoveTableItem(r.Context(), roles, sessionKey, itemID, actor); err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleEnsureSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	var body struct {
		TenantKey  string `json:"tenantKey"`
		SessionKey string `json:"sessionKey"`
		Title      string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	created, err := s.service.EnsureSession(r.Context(), body.TenantKey, body.SessionKey, body.Title, actor)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"created": created, "sessionKey": body.SessionKey})
}

func (s *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	tenantKey := strings.TrimSpace(r.URL.Query().Get("tenantKey"))
	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
	limit := queryInt(r, "limit", 50)
	refs, err := s.service.ListSessions(r.Context(), tenantKey, prefix, limit)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": refs})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "q is required", nil)
		return
	}
	response := s.service.Search(search.Query{
		Text:          q,
		FilterType:    search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
		FilterDraftID: strings.TrimSpace(r.URL.Query().Get("draftId")),
		Limit:         queryInt(r, "limit", 20),
		Offset:        queryInt(r, "offset", 0),
	})
	writeJSON(w, http.StatusOK, response)
}

// requireActor reads the caller identity header. Actors are opaque strings;
// there is no authentication at this boundary.
func (s *HTTPServer) requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(r.Header.Get("X-Actor"))
	if actor == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "X-Actor header is required", nil)
		return "", false
	}
	return actor, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Actor, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, review.ErrNoAcceptedComments):
		return http.StatusConflict, "NO_ACCEPTED_COMMENTS", "No accepted comments for this version", nil
	case errors.Is(err, review.ErrEmptyRevisionOutput):
		return http.StatusBadGateway, "EMPTY_REVISION_OUTPUT", "Revision produced no usable output", nil
	case errors.Is(err, review.ErrDraftNotFound), errors.Is(err, review.ErrVersionNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case errors.Is(err, review.ErrNoBlobStore):
		return http.StatusServiceUnavailable, "ARTIFACT_STORE_UNAVAILABLE", "Artifact store not configured", nil
	case errors.Is(err, review.ErrInvalidInput):
		return http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil
	case errors.Is(err, eventlog.ErrUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Event store unavailable", nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
