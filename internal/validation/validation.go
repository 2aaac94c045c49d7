// Package validation checks balance arithmetic consistency and produces
// corrected records for inconsistent sides.
package validation

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Tolerance is the absolute deviation, in currency units, below which a
// recorded balance agrees with its expected value. Fixed by design; it is
// not relative to the amount.
const Tolerance = 0.01

// Validator checks a record against the accounting identity "sender loses
// amount, receiver gains amount". Stateless and pure.
type Validator struct{}

// NewValidator creates a balance validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate computes expected post-transaction balances and flags each side.
func (v *Validator) Validate(tx *domain.Transaction) domain.ValidationResult {
	expectedOrig := tx.OldBalanceOrig - tx.Amount
	expectedDest := tx.OldBalanceDest + tx.Amount

	return domain.ValidationResult{
		ExpectedNewBalanceOrig: expectedOrig,
		ExpectedNewBalanceDest: expectedDest,
		OrigValid:              math.Abs(tx.NewBalanceOrig-expectedOrig) < Tolerance,
		DestValid:              math.Abs(tx.NewBalanceDest-expectedDest) < Tolerance,
	}
}

// Correct returns a record with the expected balance substituted on each
// invalid side, independently. The amount field is trusted over manually
// entered balances. Returns tx unchanged (same pointer) when both sides are
// valid; otherwise a new record, leaving the input untouched.
func (v *Validator) Correct(tx *domain.Transaction, vr domain.ValidationResult) *domain.Transaction {
	if vr.Consistent() {
		return tx
	}

	corrected := tx
	if !vr.OrigValid {
		corrected = corrected.WithNewBalanceOrig(vr.ExpectedNewBalanceOrig)
	}
	if !vr.DestValid {
		corrected = corrected.WithNewBalanceDest(vr.ExpectedNewBalanceDest)
	}
	return corrected
}
