package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"memodesk/api/internal/config"
	"memodesk/api/internal/eventlog"
	"memodesk/api/internal/review"
)

type fakeReviser struct {
	reviseFunc func(ctx context.Context, base string, edits []review.EditRequest) (string, error)
}

func (f *fakeReviser) Revise(ctx context.Context, base string, edits []review.EditRequest) (string, error) {
	if f.reviseFunc == nil {
		return base + " (revised)", nil
	}
	return f.reviseFunc(ctx, base, edits)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := eventlog.NewMemoryLog()
	reviewSvc := review.New(log, &fakeReviser{}, nil)
	service := NewService(config.Config{}, log, reviewSvc, nil, nil, nil)
	server := httptest.NewServer(NewHTTPServer(service, "*").Handler())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any, actor string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealthAndReady(t *testing.T) {
	server := newTestServer(t)
	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", nil, "")
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Fatalf("health: %d %+v", resp.StatusCode, payload)
	}
	resp, payload = doJSON(t, http.MethodGet, server.URL+"/api/ready", nil, "")
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Fatalf("ready: %d %+v", resp.StatusCode, payload)
	}
}

func TestMutationRequiresActor(t *testing.T) {
	server := newTestServer(t)
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/drafts", map[string]any{
		"tenantKey": "acme", "title": "Memo", "content": "text",
	}, "")
	if resp.StatusCode != http.StatusBadRequest || payload["code"] != "BAD_REQUEST" {
		t.Fatalf("expected BAD_REQUEST, got %d %+v", resp.StatusCode, payload)
	}
}

func TestDraftReviewLifecycle(t *testing.T) {
	server := newTestServer(t)

	resp, created := doJSON(t, http.MethodPost, server.URL+"/api/drafts", map[string]any{
		"tenantKey": "acme", "title": "Series B memo", "content": "the flawed paragraph",
	}, "ana")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create draft: %d %+v", resp.StatusCode, created)
	}
	draftID := created["draftId"].(string)
	versionID := created["versionId"].(string)

	resp, state := doJSON(t, http.MethodGet, server.URL+"/api/drafts/"+draftID, nil, "")
	if resp.StatusCode != http.StatusOK || state["title"] != "Series B memo" {
		t.Fatalf("get draft: %d %+v", resp.StatusCode, state)
	}

	// Applying edits before anything is accepted is the documented conflict.
	resp, payload := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/drafts/%s/versions/%s/revise", server.URL, draftID, versionID), nil, "ana")
	if resp.StatusCode != http.StatusConflict || payload["code"] != "NO_ACCEPTED_COMMENTS" {
		t.Fatalf("expected NO_ACCEPTED_COMMENTS, got %d %+v", resp.StatusCode, payload)
	}

	resp, comment := doJSON(t, http.MethodPost, server.URL+"/api/drafts/"+draftID+"/comments", map[string]any{
		"versionId": versionID,
		"kind":      "edit",
		"text":      "remove the flaw",
		"anchor":    map[string]any{"start": 4, "end": 10, "quote": "flawed"},
	}, "bob")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add comment: %d %+v", resp.StatusCode, comment)
	}
	commentID := comment["commentId"].(string)

	resp, payload = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/drafts/%s/comments/%s/status", server.URL, draftID, commentID),
		map[string]any{"status": "accepted"}, "ana")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set status: %d %+v", resp.StatusCode, payload)
	}

	resp, revised := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/drafts/%s/versions/%s/revise", server.URL, draftID, versionID), nil, "ana")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("revise: %d %+v", resp.StatusCode, revised)
	}
	if revised["versionId"] == versionID {
		t.Fatalf("revision reused the base version id")
	}

	resp, span := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/drafts/%s/versions/%s/resolve-anchor", server.URL, draftID, versionID),
		map[string]any{"start": 4, "end": 10, "quote": "flawed"}, "")
	if resp.StatusCode != http.StatusOK || span["resolved"] != true {
		t.Fatalf("resolve anchor: %d %+v", resp.StatusCode, span)
	}
}

func TestUnknownDraftIs404(t *testing.T) {
	server := newTestServer(t)
	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/drafts/draft_ghost", nil, "")
	if resp.StatusCode != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %d %+v", resp.StatusCode, payload)
	}
}

func TestPackLifecycle(t *testing.T) {
	server := newTestServer(t)
	base := server.URL + "/api/sessions/deal_1/packs"

	evidence := []map[string]any{{"note": "data room"}}
	assumptions := []map[string]any{
		{"key": "target_year", "valueType": "number", "value": 2030, "evidence": evidence},
		{"key": "investment_year", "valueType": "number", "value": 2024, "evidence": evidence},
		{"key": "investment_amount", "valueType": "number", "value": 1000000, "evidence": evidence},
		{"key": "shares", "valueType": "number", "value": 10000, "evidence": evidence},
		{"key": "total_shares", "valueType": "number", "value": 100000, "evidence": evidence},
		{"key": "price_per_share", "valueType": "number", "value": 100, "evidence": evidence},
		{"key": "per_multiples", "valueType": "number_array", "value": []float64{10, 20}, "evidence": evidence},
		{"key": "net_income_target_year", "valueType": "number", "value": 500000, "evidence": evidence},
	}

	resp, pack := doJSON(t, http.MethodPost, base, map[string]any{"assumptions": assumptions}, "ana")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create pack: %d %+v", resp.StatusCode, pack)
	}
	packID := pack["packId"].(string)

	resp, validation := doJSON(t, http.MethodPost, base+"/"+packID+"/validate", nil, "ana")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate: %d %+v", resp.StatusCode, validation)
	}
	result := validation["result"].(map[string]any)
	if result["status"] != "pass" {
		t.Fatalf("expected pass, got %+v", result)
	}

	resp, locked := doJSON(t, http.MethodPost, base+"/"+packID+"/lock",
		map[string]any{"reason": "IC approved"}, "ana")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("lock: %d %+v", resp.StatusCode, locked)
	}
	if locked["status"] != "locked" {
		t.Fatalf("lock result: %+v", locked)
	}
	lineage := locked["lineage"].(map[string]any)
	if lineage["parentPackId"] != packID {
		t.Fatalf("lineage: %+v", lineage)
	}

	resp, latest := doJSON(t, http.MethodGet, base+"/latest?locked=true", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("latest: %d %+v", resp.StatusCode, latest)
	}
	latestPack := latest["pack"].(map[string]any)
	if latestPack["packId"] != locked["packId"] {
		t.Fatalf("latest locked pack mismatch: %+v", latestPack)
	}
}

func TestLockRefusedOnFailingPack(t *testing.T) {
	server := newTestServer(t)
	base := server.URL + "/api/sessions/deal_2/packs"

	resp, pack := doJSON(t, http.MethodPost, base, map[string]any{
		"assumptions": []map[string]any{
			{"key": "target_year", "valueType": "number", "value": 2030},
		},
	}, "ana")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create pack: %d %+v", resp.StatusCode, pack)
	}
	packID := pack["packId"].(string)

	resp, payload := doJSON(t, http.MethodPost, base+"/"+packID+"/lock", map[string]any{}, "ana")
	if resp.StatusCode != http.StatusConflict || payload["code"] != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %d %+v", resp.StatusCode, payload)
	}
}

func TestTaskBoardRoutes(t *testing.T) {
	server := newTestServer(t)
	base := server.URL + "/api/sessions/deal_1/tasks"

	resp, created := doJSON(t, http.MethodPost, base, map[string]any{
		"fields": map[string]any{"title": "read data room", "state": "open"},
	}, "ana")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add task: %d %+v", resp.StatusCode, created)
	}
	taskID := created["id"].(string)

	resp, payload := doJSON(t, http.MethodPut, base+"/"+taskID, map[string]any{
		"fields": map[string]any{"state": "done"},
	}, "bob")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update task: %d %+v", resp.StatusCode, payload)
	}

	resp, listing := doJSON(t, http.MethodGet, base, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: %d %+v", resp.StatusCode, listing)
	}
	items := listing["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 task, got %d", len(items))
	}
	fields := items[0].(map[string]any)["fields"].(map[string]any)
	if fields["state"] != "done" || fields["title"] != "read data room" {
		t.Fatalf("task fields: %+v", fields)
	}

	resp, _ = doJSON(t, http.MethodDelete, base+"/"+taskID, nil, "ana")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove task: %d", resp.StatusCode)
	}
	resp, listing = doJSON(t, http.MethodGet, base, nil, "")
	if len(listing["items"].([]any)) != 0 {
		t.Fatalf("task survived removal: %+v", listing)
	}
}

func TestSessionRoutes(t *testing.T) {
	server := newTestServer(t)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/sessions", map[string]any{
		"tenantKey": "acme", "sessionKey": "deal_1", "title": "Deal one",
	}, "ana")
	if resp.StatusCode != http.StatusCreated || payload["created"] != true {
		t.Fatalf("ensure session: %d %+v", resp.StatusCode, payload)
	}

	// Losing the creation race is 200, not an error.
	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/sessions", map[string]any{
		"tenantKey": "acme", "sessionKey": "deal_1",
	}, "bob")
	if resp.StatusCode != http.StatusOK || payload["created"] != false {
		t.Fatalf("ensure session again: %d %+v", resp.StatusCode, payload)
	}

	resp, listing := doJSON(t, http.MethodGet, server.URL+"/api/sessions?tenantKey=acme&prefix=deal_", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list sessions: %d %+v", resp.StatusCode, listing)
	}
	sessions := listing["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %+v", sessions)
	}
}

func TestSearchWithoutBackendsIsEmpty(t *testing.T) {
	server := newTestServer(t)
	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/search?q=memo", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: %d %+v", resp.StatusCode, payload)
	}
	if results := payload["results"].([]any); len(results) != 0 {
		t.Fatalf("expected empty results, got %+v", results)
	}
}
