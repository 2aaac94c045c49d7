package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// stubClassifier returns canned outputs for testing.
type stubClassifier struct {
	prediction int
	probs      [2]float64
	err        error

	lastVector *domain.FeatureVector
}

func (s *stubClassifier) Predict(ctx context.Context, fv *domain.FeatureVector) (int, error) {
	s.lastVector = fv
	return s.prediction, s.err
}

func (s *stubClassifier) PredictProbability(ctx context.Context, fv *domain.FeatureVector) ([2]float64, error) {
	s.lastVector = fv
	return s.probs, s.err
}

func TestVector(t *testing.T) {
	a := NewAdapter()

	tx := &domain.Transaction{
		Type:           domain.TypeTransfer,
		Amount:         1000,
		OldBalanceOrig: 1000,
		NewBalanceOrig: 0,
		OldBalanceDest: 500,
		NewBalanceDest: 1500,
	}
	derived := domain.DerivedFeatures{
		BalanceDiffOrig:      1000,
		BalanceDiffDest:      1000,
		AmountToBalanceRatio: 0.999,
		AccountEmptied:       true,
	}

	fv := a.Vector(tx, derived)

	if fv.Type != "TRANSFER" {
		t.Errorf("expected type TRANSFER, got %s", fv.Type)
	}
	if fv.Amount != 1000 || fv.OldBalanceOrig != 1000 || fv.NewBalanceOrig != 0 {
		t.Errorf("unexpected originator fields: %+v", fv)
	}
	if fv.OldBalanceDest != 500 || fv.NewBalanceDest != 1500 {
		t.Errorf("unexpected destination fields: %+v", fv)
	}
	if fv.BalanceDiffOrig != 1000 || fv.BalanceDiffDest != 1000 {
		t.Errorf("unexpected diff fields: %+v", fv)
	}
	if fv.AmountToBalanceRatio != 0.999 {
		t.Errorf("expected ratio 0.999, got %v", fv.AmountToBalanceRatio)
	}
	if fv.AccountEmptied != 1 {
		t.Errorf("expected AccountEmptied 1, got %d", fv.AccountEmptied)
	}
}

func TestClassify(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	tx := &domain.Transaction{Type: domain.TypeCashOut, Amount: 100}
	derived := domain.DerivedFeatures{}

	t.Run("FraudLabel", func(t *testing.T) {
		clf := &stubClassifier{prediction: 1, probs: [2]float64{0.1, 0.9}}

		c, err := a.Classify(ctx, tx, derived, clf)
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}

		if c.Label != domain.LabelFraud {
			t.Errorf("expected FRAUD, got %s", c.Label)
		}
		if c.FraudProbability != 0.9 {
			t.Errorf("expected fraud probability 0.9, got %v", c.FraudProbability)
		}
		if c.LegitimateProbability != 0.1 {
			t.Errorf("expected legitimate probability 0.1, got %v", c.LegitimateProbability)
		}
	})

	t.Run("LegitimateLabel", func(t *testing.T) {
		clf := &stubClassifier{prediction: 0, probs: [2]float64{0.8, 0.2}}

		c, err := a.Classify(ctx, tx, derived, clf)
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}

		if c.Label != domain.LabelLegitimate {
			t.Errorf("expected LEGITIMATE, got %s", c.Label)
		}
	})

	t.Run("NilClassifier", func(t *testing.T) {
		_, err := a.Classify(ctx, tx, derived, nil)
		if !errors.Is(err, domain.ErrClassifierUnavailable) {
			t.Errorf("expected ErrClassifierUnavailable, got %v", err)
		}
	})

	t.Run("PredictError", func(t *testing.T) {
		clf := &stubClassifier{err: errors.New("feature shape mismatch")}

		_, err := a.Classify(ctx, tx, derived, clf)
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "feature shape mismatch") {
			t.Errorf("expected wrapped classifier error, got %v", err)
		}
	})
}
