package domain

// HighRiskRule is a CEL predicate over a single transaction.
// A transaction matching any enabled rule is force-included when high-risk inclusion is on.
type HighRiskRule struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// CEL expression; must evaluate to bool
	Expression string `json:"expression" yaml:"expression"`

	// Whether rule is active
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// High-risk match sources recorded on forced sample items.
const (
	HighRiskByAmount    = "amount-over-limit"
	HighRiskByIndicator = "indicator-high"
)
