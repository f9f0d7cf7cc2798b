package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the event
// log as a fallback. Version and comment events carry their searchable text
// in the payload; the events table maintains a generated tsvector over it.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over version and comment events with ts_rank
// ordering and ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	roles := []string{"version", "comment"}
	switch q.FilterType {
	case ResultVersion:
		roles = []string{"version"}
	case ResultComment:
		roles = []string{"comment"}
	}

	query := `
		SELECT e.role,
			coalesce(e.payload->>'versionId', e.payload->>'commentId', e.event_id) AS id,
			e.session_key,
			coalesce(e.payload->>'title', e.payload->'anchor'->>'quote', '') AS title,
			ts_headline('english',
				coalesce(e.payload->>'content', e.payload->>'text', ''),
				plainto_tsquery('english', $1),
				'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(e.fts, plainto_tsquery('english', $1)) AS rank
		FROM events e
		WHERE e.fts @@ plainto_tsquery('english', $1)
			AND e.role = ANY($2::text[])
	`
	args := []any{q.Text, rolesArray(roles)}
	argN := 3
	if q.FilterDraftID != "" {
		query += fmt.Sprintf(" AND e.session_key = $%d", argN)
		args = append(args, q.FilterDraftID)
		argN++
	}
	query += fmt.Sprintf(" ORDER BY rank DESC LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, limit, offset)

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			role string
			r    Result
			rank float64
		)
		if err := rows.Scan(&role, &r.ID, &r.DraftID, &r.Title, &r.Snippet, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if role == "comment" {
			r.Type = ResultComment
		} else {
			r.Type = ResultVersion
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts rows: %w", err)
	}
	return results, len(results), nil
}

// rolesArray renders a text[] literal for ANY() filtering.
func rolesArray(roles []string) string {
	return "{" + strings.Join(roles, ",") + "}"
}
