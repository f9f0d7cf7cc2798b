package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnavailable classifies backend outages. Callers may retry with backoff;
// the log itself never retries internally.
var ErrUnavailable = errors.New("event store unavailable")

// SessionRef is a listing entry folded from a tenant's pointer events.
type SessionRef struct {
	TenantKey  string    `json:"tenantKey"`
	SessionKey string    `json:"sessionKey"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store is the durable event store collaborator: append, ordered query by
// partition key, and a conditional create-if-absent primitive. Implementations
// may be embedded or networked; the core is agnostic.
type Store interface {
	// Append persists one event, filling EventID and CreatedAt when unset,
	// and returns the stored event. It only fails when the backend is down.
	Append(ctx context.Context, e Event) (Event, error)

	// List returns the full event stream for a session in ascending
	// (CreatedAt, EventID) order. Pagination is internal; the caller sees
	// one logical stream.
	List(ctx context.Context, sessionKey string) ([]Event, error)

	// EnsureSession conditionally creates a session. When a concurrent
	// caller already created it, the condition failure is success: created
	// is false and err is nil, and no duplicate creation event is written.
	EnsureSession(ctx context.Context, tenantKey, sessionKey string, initial json.RawMessage, actor string) (created bool, err error)

	// ListSessions folds the tenant's pointer events into session refs,
	// newest first, optionally filtered by session-key prefix.
	ListSessions(ctx context.Context, tenantKey, prefix string, limit int) ([]SessionRef, error)
}

// TenantPartition is the reserved partition key holding a tenant's
// denormalized session pointers.
func TenantPartition(tenantKey string) string {
	return "tenant::" + tenantKey
}
