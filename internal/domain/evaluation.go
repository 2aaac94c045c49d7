package domain

import (
	"time"
)

// Evaluation is the complete result bundle for one transaction: validation,
// optional correction, derived features, rule-based risk, and classification.
// Steps never apply partially; a classifier failure still carries everything
// computed before the classifier call, with ClassificationError set.
type Evaluation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`

	// Record is the transaction as submitted.
	Record *Transaction `json:"record"`

	// Corrected is non-nil when at least one balance failed validation and
	// was replaced by its expected value for downstream derivation and
	// classification.
	Corrected *Transaction `json:"corrected,omitempty"`

	// Validation reflects the record as submitted, before any correction.
	Validation ValidationResult `json:"validation"`

	// Derived is computed from the corrected record when a correction applied.
	Derived DerivedFeatures `json:"derived"`

	Risk RiskAssessment `json:"risk"`

	// Classification is nil when the classifier call failed; the failure
	// message is then carried in ClassificationError.
	Classification      *Classification `json:"classification,omitempty"`
	ClassificationError string          `json:"classificationError,omitempty"`

	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID       string `json:"traceId"`
	IngestMs      int64  `json:"ingestMs"`
	RiskMs        int64  `json:"riskMs"`
	ClassifyMs    int64  `json:"classifyMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// WasCorrected reports whether either balance was substituted.
func (e *Evaluation) WasCorrected() bool {
	return e.Corrected != nil
}

// EvaluationResponse is the API response for a transaction evaluation.
type EvaluationResponse struct {
	EvaluationID string `json:"evaluationId"`
	TxID         string `json:"txId"`
	TenantID     string `json:"tenantId"`

	Validation ValidationResult `json:"validation"`
	Corrected  *Transaction     `json:"corrected,omitempty"`
	Derived    DerivedFeatures  `json:"derived"`
	Risk       RiskAssessment   `json:"risk"`

	Classification      *Classification `json:"classification,omitempty"`
	ClassificationError string          `json:"classificationError,omitempty"`

	Metadata EvaluationMetadata `json:"metadata"`
}

// ToResponse converts an Evaluation to the API response shape.
func (e *Evaluation) ToResponse() *EvaluationResponse {
	return &EvaluationResponse{
		EvaluationID:        e.ID,
		TxID:                e.TxID,
		TenantID:            e.TenantID,
		Validation:          e.Validation,
		Corrected:           e.Corrected,
		Derived:             e.Derived,
		Risk:                e.Risk,
		Classification:      e.Classification,
		ClassificationError: e.ClassificationError,
		Metadata:            e.Metadata,
	}
}
