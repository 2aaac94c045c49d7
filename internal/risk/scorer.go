// Package risk implements the deterministic rule-based risk scoring engine.
package risk

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Score thresholds for the tier mapping. Exact fixed constants of the
// design; downstream consumers depend on bit-for-bit reproducibility.
const (
	highTierThreshold   = 7
	mediumTierThreshold = 4
)

// Input carries everything a rule may inspect.
type Input struct {
	Tx         *domain.Transaction
	Derived    domain.DerivedFeatures
	Validation domain.ValidationResult
}

// outcome is the contribution of a single rule.
type outcome struct {
	points   int
	severity domain.Severity
	reason   string
	emit     bool
}

// rule is one row of the decision table.
type rule struct {
	name string
	eval func(in Input) outcome
}

// decisionTable is the fixed, ordered rule set. Rules are evaluated
// independently top-to-bottom with no short-circuiting; each contributes its
// points and, when emit is set, one factor in table order. The transaction
// type and amount rows always emit (every branch has a description).
var decisionTable = []rule{
	{
		name: "transaction-type",
		eval: func(in Input) outcome {
			if in.Tx.Type.HighRisk() {
				return outcome{3, domain.SeverityHigh, "high-risk transaction type (fraud typically occurs in TRANSFER/CASH_OUT)", true}
			}
			return outcome{0, domain.SeverityLow, "low-risk transaction type", true}
		},
	},
	{
		name: "amount-tier",
		eval: func(in Input) outcome {
			switch {
			case in.Tx.Amount > 100000:
				return outcome{3, domain.SeverityHigh, "large transaction amount (>$100k)", true}
			case in.Tx.Amount > 50000:
				return outcome{2, domain.SeverityMedium, "medium transaction amount ($50k-$100k)", true}
			default:
				return outcome{0, domain.SeverityLow, "small transaction amount (<$50k)", true}
			}
		},
	},
	{
		name: "account-emptying",
		eval: func(in Input) outcome {
			if in.Derived.AccountEmptied && in.Tx.Type.HighRisk() {
				return outcome{4, domain.SeverityHigh, "account emptied after transaction (high fraud indicator)", true}
			}
			return outcome{}
		},
	},
	{
		name: "amount-balance-ratio",
		eval: func(in Input) outcome {
			switch {
			case in.Derived.AmountToBalanceRatio > 0.8:
				return outcome{3, domain.SeverityHigh, "high amount-to-balance ratio (>80%)", true}
			case in.Derived.AmountToBalanceRatio > 0.5:
				return outcome{2, domain.SeverityMedium, "medium amount-to-balance ratio (50-80%)", true}
			default:
				return outcome{}
			}
		},
	},
	{
		name: "balance-consistency",
		eval: func(in Input) outcome {
			if !in.Validation.Consistent() {
				return outcome{2, domain.SeverityMedium, "balance inconsistencies detected", true}
			}
			return outcome{}
		},
	},
}

// Scorer applies the fixed decision table. Stateless; safe for concurrent use.
type Scorer struct{}

// NewScorer creates a risk scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score evaluates the decision table and maps the summed score to a tier.
func (s *Scorer) Score(tx *domain.Transaction, derived domain.DerivedFeatures, vr domain.ValidationResult) domain.RiskAssessment {
	in := Input{Tx: tx, Derived: derived, Validation: vr}

	assessment := domain.RiskAssessment{
		Factors: make([]domain.RiskFactor, 0, len(decisionTable)),
	}

	for _, r := range decisionTable {
		out := r.eval(in)
		assessment.Score += out.points
		if out.emit {
			assessment.Factors = append(assessment.Factors, domain.RiskFactor{
				Severity:    out.severity,
				Description: out.reason,
			})
		}
	}

	assessment.Tier = tierFor(assessment.Score)
	return assessment
}

// tierFor maps the additive score to a categorical tier.
func tierFor(score int) domain.RiskTier {
	switch {
	case score >= highTierThreshold:
		return domain.TierHigh
	case score >= mediumTierThreshold:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}
