package domain

import (
	"context"
	"errors"
)

// ErrClassifierUnavailable indicates no classifier is wired or the
// collaborator could not be reached.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// Label is the classifier's verdict for a transaction.
type Label string

const (
	LabelFraud      Label = "FRAUD"
	LabelLegitimate Label = "LEGITIMATE"
)

// Classification is the normalized output of the external classifier.
type Classification struct {
	Label                 Label   `json:"label"`
	FraudProbability      float64 `json:"fraudProbability"`
	LegitimateProbability float64 `json:"legitimateProbability"`
}

// FeatureVector is the exact ten-field input the external classifier was
// trained on. Field order and JSON key names match the training pipeline's
// columns; changing either is a contract violation the classifier will
// reject, not something handled defensively here.
type FeatureVector struct {
	Type                 string  `json:"type"`
	Amount               float64 `json:"amount"`
	OldBalanceOrig       float64 `json:"oldbalanceOrg"`
	NewBalanceOrig       float64 `json:"newbalanceOrig"`
	OldBalanceDest       float64 `json:"oldbalanceDest"`
	NewBalanceDest       float64 `json:"newbalanceDest"`
	BalanceDiffOrig      float64 `json:"balanceDiffOrig"`
	BalanceDiffDest      float64 `json:"balanceDiffDest"`
	AmountToBalanceRatio float64 `json:"amount_to_balance_ratio"`
	AccountEmptied       int     `json:"is_account_emptied"`
}

// Classifier is the two-operation capability exposed by the externally
// trained binary classifier. Implementations must be safe for concurrent
// read-only use. Training, tuning and serialization of the model live
// entirely behind this interface.
type Classifier interface {
	// Predict returns 0 (legitimate) or 1 (fraud).
	Predict(ctx context.Context, fv *FeatureVector) (int, error)

	// PredictProbability returns [p_legitimate, p_fraud], summing to 1.
	PredictProbability(ctx context.Context, fv *FeatureVector) ([2]float64, error)
}
