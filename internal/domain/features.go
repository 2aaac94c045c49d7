package domain

// DerivedFeatures holds the consistency and behavior features computed from a
// transaction record. Computed, never persisted on their own; recomputed
// whenever the record changes (e.g. after a balance correction).
type DerivedFeatures struct {
	// BalanceDiffOrig is how much the sender's balance dropped.
	BalanceDiffOrig float64 `json:"balanceDiffOrig"`

	// BalanceDiffDest is how much the receiver's balance grew.
	BalanceDiffDest float64 `json:"balanceDiffDest"`

	// AmountToBalanceRatio is amount / (oldBalanceOrig + 1). The +1 smoothing
	// avoids division by zero for senders with an empty prior balance.
	AmountToBalanceRatio float64 `json:"amountToBalanceRatio"`

	// AccountEmptied is true only for a strictly-positive-to-exactly-zero
	// transition of the sender's balance.
	AccountEmptied bool `json:"accountEmptied"`
}

// ValidationResult holds the balance arithmetic consistency check for both
// sides of a transaction. Valid means the recorded post-transaction balance
// is within 0.01 currency units of the value implied by the amount.
type ValidationResult struct {
	ExpectedNewBalanceOrig float64 `json:"expectedNewBalanceOrig"`
	ExpectedNewBalanceDest float64 `json:"expectedNewBalanceDest"`
	OrigValid              bool    `json:"origValid"`
	DestValid              bool    `json:"destValid"`
}

// Consistent reports whether both sides passed the balance check.
func (v ValidationResult) Consistent() bool {
	return v.OrigValid && v.DestValid
}
