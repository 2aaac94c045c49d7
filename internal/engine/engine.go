// Package engine sequences the evaluation pipeline for one transaction:
// validation, correction, feature derivation, risk scoring, classification.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/validation"
)

// EngineVersion identifies the pipeline in evaluation metadata.
const EngineVersion = "kestrel-1.0"

// Engine runs the evaluation pipeline. It holds only stateless collaborators
// and no classifier: the classifier is an explicit parameter on every
// Evaluate call, never an engine-held singleton. Each call is independent and
// allocates its own record, feature, and assessment values, so Engine is safe
// for concurrent use.
type Engine struct {
	validator *validation.Validator
	deriver   *features.Deriver
	scorer    *risk.Scorer
	adapter   *classifier.Adapter
}

// New creates an evaluation engine.
func New() *Engine {
	return &Engine{
		validator: validation.NewValidator(),
		deriver:   features.NewDeriver(),
		scorer:    risk.NewScorer(),
		adapter:   classifier.NewAdapter(),
	}
}

// Evaluate runs the full pipeline for one raw record.
//
// The record is validated up front; an invalid record returns an error with
// no partial result. When a balance fails the consistency check, the expected
// value replaces it for downstream derivation and classification, while the
// risk assessment keeps scoring the pre-correction validation result (the
// original inconsistency is the signal; scoring and classification run on
// cleaned data).
//
// A classifier failure is recovered locally: the returned evaluation carries
// everything computed before the classifier call, with ClassificationError
// set. It is never retried here.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.Transaction, clf domain.Classifier) (*domain.Evaluation, error) {
	start := time.Now()

	if err := tx.Validate(); err != nil {
		return nil, err
	}

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	vr := e.validator.Validate(tx)
	corrected := e.validator.Correct(tx, vr)
	derived := e.deriver.Derive(corrected)

	riskStart := time.Now()
	assessment := e.scorer.Score(corrected, derived, vr)
	riskMs := time.Since(riskStart).Milliseconds()

	eval := &domain.Evaluation{
		ID:         uuid.New().String(),
		TenantID:   tx.TenantID,
		TxID:       tx.ID,
		Timestamp:  time.Now().UTC(),
		Record:     tx,
		Validation: vr,
		Derived:    derived,
		Risk:       assessment,
	}
	if corrected != tx {
		eval.Corrected = corrected
	}

	classifyStart := time.Now()
	classification, err := e.adapter.Classify(ctx, corrected, derived, clf)
	if err != nil {
		eval.ClassificationError = err.Error()
	} else {
		eval.Classification = classification
	}

	eval.Metadata = domain.EvaluationMetadata{
		RiskMs:        riskMs,
		ClassifyMs:    time.Since(classifyStart).Milliseconds(),
		TotalMs:       time.Since(start).Milliseconds(),
		EngineVersion: EngineVersion,
	}

	return eval, nil
}
