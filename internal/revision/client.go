// Package revision is the HTTP client for the text-revision collaborator:
// it hands a base document plus structured edit requests to an external
// rewrite service and returns the revised content. The collaborator is
// treated as untrusted and possibly slow; calls are bounded by the request
// context and a generous client timeout, and a cancelled call produces no
// side effects here or upstream.
package revision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"memodesk/api/internal/review"
)

// Client posts revision requests to a configured endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the revision endpoint.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type reviseRequest struct {
	BaseContent string               `json:"baseContent"`
	Edits       []review.EditRequest `json:"edits"`
}

type reviseResponse struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Revise sends the base content and edit list and returns the revised text.
// Empty output is returned as-is; classifying it is the caller's concern.
func (c *Client) Revise(ctx context.Context, baseContent string, edits []review.EditRequest) (string, error) {
	body, err := json.Marshal(reviseRequest{BaseContent: baseContent, Edits: edits})
	if err != nil {
		return "", fmt.Errorf("encode revise request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/revise", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build revise request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call revision service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("revision service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded reviseResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode revise response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("revision service: %s", decoded.Error)
	}
	return decoded.Content, nil
}
