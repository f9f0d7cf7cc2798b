package eventlog

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// MemoryLog is an in-process Store used by tests and embedded setups. It
// honors the same ordering and idempotency guarantees as the Postgres
// backend.
type MemoryLog struct {
	mu       sync.Mutex
	events   []Event
	sessions map[string]bool
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{sessions: make(map[string]bool)}
}

// Append stores a copy of e, stamping EventID and CreatedAt when unset.
func (m *MemoryLog) Append(ctx context.Context, e Event) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e), nil
}

func (m *MemoryLog) appendLocked(e Event) Event {
	e = stamp(e)
	e.Payload = append(json.RawMessage(nil), e.Payload...)
	m.events = append(m.events, e)
	return e
}

// List returns the session's events in (CreatedAt, EventID) order.
func (m *MemoryLog) List(ctx context.Context, sessionKey string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, e := range m.events {
		if e.SessionKey == sessionKey {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out, nil
}

// EnsureSession creates the session once. A second caller observes created
// false with no error and no extra creation event.
func (m *MemoryLog) EnsureSession(ctx context.Context, tenantKey, sessionKey string, initial json.RawMessage, actor string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey + "\x00" + sessionKey
	if m.sessions[key] {
		return false, nil
	}
	m.sessions[key] = true

	var session SessionPayload
	if len(initial) > 0 {
		_ = json.Unmarshal(initial, &session)
	}
	m.appendLocked(Event{
		TenantKey:  tenantKey,
		SessionKey: sessionKey,
		Role:       RoleSession,
		Payload:    initial,
		Actor:      actor,
	})
	pointer, _ := json.Marshal(SessionPointerPayload{SessionKey: sessionKey, Title: session.Title})
	m.appendLocked(Event{
		TenantKey:  tenantKey,
		SessionKey: TenantPartition(tenantKey),
		Role:       RoleSessionPointer,
		Payload:    pointer,
		Actor:      actor,
	})
	return true, nil
}

// ListSessions folds the tenant partition's pointer events, newest first.
func (m *MemoryLog) ListSessions(ctx context.Context, tenantKey, prefix string, limit int) ([]SessionRef, error) {
	events, err := m.List(ctx, TenantPartition(tenantKey))
	if err != nil {
		return nil, err
	}

	var refs []SessionRef
	for _, e := range events {
		if e.Role != RoleSessionPointer {
			continue
		}
		decoded, err := Decode(e)
		if err != nil {
			continue
		}
		pointer := decoded.(SessionPointerPayload)
		if prefix != "" && !strings.HasPrefix(pointer.SessionKey, prefix) {
			continue
		}
		refs = append(refs, SessionRef{
			TenantKey:  tenantKey,
			SessionKey: pointer.SessionKey,
			Title:      pointer.Title,
			CreatedAt:  e.CreatedAt,
		})
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].CreatedAt.After(refs[j].CreatedAt) })
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}
