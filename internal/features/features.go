// Package features derives consistency and behavior features from a
// transaction record.
package features

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Deriver computes DerivedFeatures from a transaction record.
// Stateless and pure; safe for concurrent use.
type Deriver struct{}

// NewDeriver creates a feature deriver.
func NewDeriver() *Deriver {
	return &Deriver{}
}

// Derive computes the derived features for a record.
//
// The ratio denominator is oldBalanceOrig + 1, a fixed smoothing so a sender
// with a zero prior balance does not divide by zero. AccountEmptied requires a
// strictly positive prior balance and an exactly-zero post balance; a
// zero-to-zero transition is not an emptied account.
func (d *Deriver) Derive(tx *domain.Transaction) domain.DerivedFeatures {
	return domain.DerivedFeatures{
		BalanceDiffOrig:      tx.OldBalanceOrig - tx.NewBalanceOrig,
		BalanceDiffDest:      tx.NewBalanceDest - tx.OldBalanceDest,
		AmountToBalanceRatio: tx.Amount / (tx.OldBalanceOrig + 1),
		AccountEmptied:       tx.OldBalanceOrig > 0 && tx.NewBalanceOrig == 0,
	}
}
