// Package search indexes draft versions and review comments for full-text
// lookup, preferring Meilisearch and falling back to Postgres FTS over the
// event log.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultVersion ResultType = "version"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	DraftID string     `json:"draftId"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterType    ResultType // empty = all types
	FilterDraftID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// VersionRecord is the data indexed for a draft version.
type VersionRecord struct {
	ID      string `json:"id"`
	DraftID string `json:"draftId"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// CommentRecord is the data indexed for a review comment.
type CommentRecord struct {
	ID      string `json:"id"`
	DraftID string `json:"draftId"`
	Text    string `json:"text"`
	Quote   string `json:"quote"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
}
