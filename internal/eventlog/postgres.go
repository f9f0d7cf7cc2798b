package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"memodesk/api/internal/util"
)

// listPageSize bounds one keyset page when streaming a session. List hides
// the pagination and returns a single ordered slice.
const listPageSize = 500

// PostgresLog is the durable Store backed by Postgres. Events land in an
// append-only table; the only conditional write in the system is the session
// row insert in EnsureSession.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog wraps an open database handle.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// Append persists one event.
func (p *PostgresLog) Append(ctx context.Context, e Event) (Event, error) {
	e = stamp(e)
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO events (event_id, tenant_key, session_key, role, payload, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.EventID, e.TenantKey, e.SessionKey, string(e.Role), payloadJSON(e.Payload), e.Actor, e.CreatedAt); err != nil {
		return Event{}, storeErr("append event", err)
	}
	return e, nil
}

// List streams the session's events in (created_at, event_id) order using
// keyset pagination on the same tuple.
func (p *PostgresLog) List(ctx context.Context, sessionKey string) ([]Event, error) {
	var (
		out       []Event
		lastAt    time.Time
		lastID    string
		firstPage = true
	)
	for {
		query := `
			SELECT event_id, tenant_key, session_key, role, payload, actor, created_at
			FROM events
			WHERE session_key = $1
		`
		args := []any{sessionKey}
		if !firstPage {
			query += ` AND (created_at, event_id) > ($2, $3)`
			args = append(args, lastAt, lastID)
		}
		query += ` ORDER BY created_at, event_id LIMIT ` + fmt.Sprint(listPageSize)

		rows, err := p.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, storeErr("list events", err)
		}
		count := 0
		for rows.Next() {
			var (
				e       Event
				role    string
				payload []byte
			)
			if err := rows.Scan(&e.EventID, &e.TenantKey, &e.SessionKey, &role, &payload, &e.Actor, &e.CreatedAt); err != nil {
				rows.Close()
				return nil, storeErr("scan event", err)
			}
			e.Role = Role(role)
			e.Payload = json.RawMessage(payload)
			e.CreatedAt = e.CreatedAt.UTC()
			out = append(out, e)
			lastAt, lastID = e.CreatedAt, e.EventID
			count++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, storeErr("iterate events", err)
		}
		rows.Close()
		if count < listPageSize {
			return out, nil
		}
		firstPage = false
	}
}

// EnsureSession performs the conditional create. The losing writer's conflict
// is success: no error, no duplicate creation event.
func (p *PostgresLog) EnsureSession(ctx context.Context, tenantKey, sessionKey string, initial json.RawMessage, actor string) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("begin ensure session", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (tenant_key, session_key, payload, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_key, session_key) DO NOTHING
	`, tenantKey, sessionKey, payloadJSON(initial), actor)
	if err != nil {
		return false, storeErr("ensure session", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("ensure session result", err)
	}
	if inserted == 0 {
		return false, nil
	}

	var session SessionPayload
	if len(initial) > 0 {
		_ = json.Unmarshal(initial, &session)
	}
	creation := stamp(Event{
		TenantKey:  tenantKey,
		SessionKey: sessionKey,
		Role:       RoleSession,
		Payload:    initial,
		Actor:      actor,
	})
	pointerPayload, _ := json.Marshal(SessionPointerPayload{SessionKey: sessionKey, Title: session.Title})
	pointer := stamp(Event{
		TenantKey:  tenantKey,
		SessionKey: TenantPartition(tenantKey),
		Role:       RoleSessionPointer,
		Payload:    pointerPayload,
		Actor:      actor,
	})
	for _, e := range []Event{creation, pointer} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (event_id, tenant_key, session_key, role, payload, actor, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.EventID, e.TenantKey, e.SessionKey, string(e.Role), payloadJSON(e.Payload), e.Actor, e.CreatedAt); err != nil {
			return false, storeErr("append session event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, storeErr("commit ensure session", err)
	}
	return true, nil
}

// ListSessions folds the tenant partition's pointer events, newest first.
func (p *PostgresLog) ListSessions(ctx context.Context, tenantKey, prefix string, limit int) ([]SessionRef, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT payload, created_at
		FROM events
		WHERE session_key = $1 AND role = $2 AND payload->>'sessionKey' LIKE $3 || '%'
		ORDER BY created_at DESC, event_id DESC
		LIMIT $4
	`, TenantPartition(tenantKey), string(RoleSessionPointer), prefix, limit)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	defer rows.Close()

	var refs []SessionRef
	for rows.Next() {
		var (
			payload   []byte
			createdAt time.Time
		)
		if err := rows.Scan(&payload, &createdAt); err != nil {
			return nil, storeErr("scan session pointer", err)
		}
		var pointer SessionPointerPayload
		if err := json.Unmarshal(payload, &pointer); err != nil || pointer.SessionKey == "" {
			continue
		}
		refs = append(refs, SessionRef{
			TenantKey:  tenantKey,
			SessionKey: pointer.SessionKey,
			Title:      pointer.Title,
			CreatedAt:  createdAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate session pointers", err)
	}
	return refs, nil
}

// Ping reports backend reachability for readiness checks.
func (p *PostgresLog) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func stamp(e Event) Event {
	if e.EventID == "" {
		e.EventID = util.NewID("evt")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	return e
}

func payloadJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

// IsUnavailable reports whether err belongs to the transient storage class.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
