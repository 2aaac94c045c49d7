package domain

// RiskTier is the categorical risk level derived from the additive score.
type RiskTier string

const (
	TierLow    RiskTier = "LOW"
	TierMedium RiskTier = "MEDIUM"
	TierHigh   RiskTier = "HIGH"
)

// Severity labels an individual risk factor.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// RiskFactor is one human-readable entry in the assessment, in rule
// evaluation order.
type RiskFactor struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// RiskAssessment is the deterministic rule-based risk result for one
// transaction. Recomputed on every evaluation, never cached across records.
type RiskAssessment struct {
	Score   int          `json:"score"`
	Tier    RiskTier     `json:"tier"`
	Factors []RiskFactor `json:"factors"`
}
