// Package classifier bridges the evaluation pipeline to the externally
// trained fraud classifier.
package classifier

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Adapter packages a record and its derived features into the feature vector
// the classifier was trained on, invokes it, and normalizes the output into a
// typed classification. Stateless; the classifier is passed per call.
type Adapter struct{}

// NewAdapter creates a classification adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Vector assembles the ten-field feature vector. The categorical type is
// passed raw; the trained pipeline owns its encoding.
func (a *Adapter) Vector(tx *domain.Transaction, derived domain.DerivedFeatures) *domain.FeatureVector {
	emptied := 0
	if derived.AccountEmptied {
		emptied = 1
	}
	return &domain.FeatureVector{
		Type:                 string(tx.Type),
		Amount:               tx.Amount,
		OldBalanceOrig:       tx.OldBalanceOrig,
		NewBalanceOrig:       tx.NewBalanceOrig,
		OldBalanceDest:       tx.OldBalanceDest,
		NewBalanceDest:       tx.NewBalanceDest,
		BalanceDiffOrig:      derived.BalanceDiffOrig,
		BalanceDiffDest:      derived.BalanceDiffDest,
		AmountToBalanceRatio: derived.AmountToBalanceRatio,
		AccountEmptied:       emptied,
	}
}

// Classify runs the classifier and normalizes its output. Classifier errors
// are wrapped and surfaced, never swallowed; the caller decides how much of
// the evaluation bundle survives the failure.
func (a *Adapter) Classify(ctx context.Context, tx *domain.Transaction, derived domain.DerivedFeatures, clf domain.Classifier) (*domain.Classification, error) {
	if clf == nil {
		return nil, domain.ErrClassifierUnavailable
	}

	fv := a.Vector(tx, derived)

	pred, err := clf.Predict(ctx, fv)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}

	probs, err := clf.PredictProbability(ctx, fv)
	if err != nil {
		return nil, fmt.Errorf("predict probability: %w", err)
	}

	label := domain.LabelLegitimate
	if pred == 1 {
		label = domain.LabelFraud
	}

	return &domain.Classification{
		Label:                 label,
		FraudProbability:      probs[1],
		LegitimateProbability: probs[0],
	}, nil
}
