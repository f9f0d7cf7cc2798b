// Package assumption models structured numeric assumption snapshots and the
// rule engine that validates them before they feed downstream computation.
package assumption

import "time"

// Status is the lifecycle stage of a pack. Packs never change status in
// place; a transition always produces a new pack carrying a Lineage
// back-reference to its parent.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusValidated Status = "validated"
	StatusLocked    Status = "locked"
)

// ValueType declares the shape of an assumption value.
type ValueType string

const (
	TypeNumber      ValueType = "number"
	TypeString      ValueType = "string"
	TypeNumberArray ValueType = "number_array"
)

// Evidence ties an assumption to either an extracted fact or a free-text
// justification note.
type Evidence struct {
	FactID string `json:"factId,omitempty"`
	Note   string `json:"note,omitempty"`
}

// Assumption is one keyed input in a pack.
type Assumption struct {
	Key       string     `json:"key"`
	ValueType ValueType  `json:"valueType"`
	Value     any        `json:"value"`
	Unit      string     `json:"unit,omitempty"`
	Required  bool       `json:"required"`
	Evidence  []Evidence `json:"evidence,omitempty"`
}

// Scenario is a named variant layered over the base assumptions.
type Scenario struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Overrides   map[string]any `json:"overrides,omitempty"`
}

// Lineage records how a pack was derived from another pack.
type Lineage struct {
	ParentPackID string `json:"parentPackId,omitempty"`
	Reason       string `json:"reason"`
}

// Pack is an immutable assumption snapshot.
type Pack struct {
	PackID      string       `json:"packId"`
	SessionID   string       `json:"sessionId"`
	CreatedAt   time.Time    `json:"createdAt"`
	CreatedBy   string       `json:"createdBy"`
	Status      Status       `json:"status"`
	Lineage     *Lineage     `json:"lineage,omitempty"`
	Assumptions []Assumption `json:"assumptions"`
	Scenarios   []Scenario   `json:"scenarios,omitempty"`
}

// Lookup returns the assumption for key, or nil.
func (p Pack) Lookup(key string) *Assumption {
	for i := range p.Assumptions {
		if p.Assumptions[i].Key == key {
			return &p.Assumptions[i]
		}
	}
	return nil
}

// Derive produces a new pack in the given status with lineage pointing back
// at p. The caller assigns the new PackID and CreatedAt just before append.
func (p Pack) Derive(status Status, reason, packID, createdBy string, createdAt time.Time) Pack {
	derived := p
	derived.PackID = packID
	derived.CreatedAt = createdAt
	derived.CreatedBy = createdBy
	derived.Status = status
	derived.Lineage = &Lineage{ParentPackID: p.PackID, Reason: reason}
	derived.Assumptions = append([]Assumption(nil), p.Assumptions...)
	derived.Scenarios = append([]Scenario(nil), p.Scenarios...)
	return derived
}
