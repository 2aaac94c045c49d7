package domain

import "time"

// AlertPolicy is a CEL expression over a completed evaluation that decides
// whether the result is published to the alert topic. Policies route results;
// they never alter the fixed risk decision table or the classifier contract.
type AlertPolicy struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Expression is a CEL expression returning bool. Available variables:
	// score (int), tier (string), label (string), fraud_probability (double),
	// amount (double), tx_type (string), account_emptied (bool),
	// consistent (bool).
	Expression string `json:"expression"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// PolicyMatch records one policy that fired for an evaluation.
type PolicyMatch struct {
	PolicyID   string `json:"policyId"`
	PolicyName string `json:"policyName"`
	Reason     string `json:"reason,omitempty"`
}

// DefaultAlertPolicy alerts on the outcomes that always warrant attention.
// Loaded when a tenant has no policies configured.
const DefaultAlertPolicyExpression = `tier == "HIGH" || label == "FRAUD"`
