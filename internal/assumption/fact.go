package assumption

import "time"

// Confidence tiers for extracted facts.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// FactSource records where a fact was extracted from.
type FactSource struct {
	ArtifactID string `json:"artifactId"`
	Page       int    `json:"page,omitempty"`
	Excerpt    string `json:"excerpt,omitempty"`
}

// Fact is one extracted value with provenance.
type Fact struct {
	FactID     string     `json:"factId"`
	Label      string     `json:"label"`
	Value      any        `json:"value"`
	Unit       string     `json:"unit,omitempty"`
	Source     FactSource `json:"source"`
	Confidence string     `json:"confidence"`
}

// FactPack is an immutable extraction snapshot feeding assumption suggestion.
type FactPack struct {
	FactPackID string    `json:"factPackId"`
	SessionID  string    `json:"sessionId"`
	CreatedAt  time.Time `json:"createdAt"`
	CreatedBy  string    `json:"createdBy"`
	Facts      []Fact    `json:"facts"`
}
