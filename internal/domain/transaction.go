// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidInput indicates a raw field violated its type or range constraint.
// Surfaced to the caller before any processing begins.
var ErrInvalidInput = errors.New("invalid input")

// TxType is the transaction type. Only the four categories below are valid;
// anything else is a contract violation of the inbound interface.
type TxType string

const (
	TypePayment  TxType = "PAYMENT"
	TypeTransfer TxType = "TRANSFER"
	TypeCashOut  TxType = "CASH_OUT"
	TypeDeposit  TxType = "DEPOSIT"
)

// ParseTxType validates a raw type string against the fixed enum.
func ParseTxType(s string) (TxType, error) {
	switch TxType(s) {
	case TypePayment, TypeTransfer, TypeCashOut, TypeDeposit:
		return TxType(s), nil
	}
	return "", fmt.Errorf("%w: unrecognized transaction type %q", ErrInvalidInput, s)
}

// HighRisk reports whether the type belongs to the high-risk pair.
// Fraud in the source dataset occurs almost exclusively in TRANSFER and CASH_OUT.
func (t TxType) HighRisk() bool {
	return t == TypeTransfer || t == TypeCashOut
}

// Transaction is a single financial transaction record under evaluation.
// Immutable once validated: corrections produce a new record via the
// WithNewBalance helpers, never a mutation in place.
type Transaction struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Type TxType `json:"type"`

	// Monetary fields, all non-negative.
	Amount         float64 `json:"amount"`
	OldBalanceOrig float64 `json:"oldBalanceOrig"`
	NewBalanceOrig float64 `json:"newBalanceOrig"`
	OldBalanceDest float64 `json:"oldBalanceDest"`
	NewBalanceDest float64 `json:"newBalanceDest"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate enforces the record invariants: a recognized type and
// non-negative monetary fields.
func (tx *Transaction) Validate() error {
	if _, err := ParseTxType(string(tx.Type)); err != nil {
		return err
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"amount", tx.Amount},
		{"oldBalanceOrig", tx.OldBalanceOrig},
		{"newBalanceOrig", tx.NewBalanceOrig},
		{"oldBalanceDest", tx.OldBalanceDest},
		{"newBalanceDest", tx.NewBalanceDest},
	}
	for _, f := range fields {
		if f.value < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %v", ErrInvalidInput, f.name, f.value)
		}
	}
	return nil
}

// WithNewBalanceOrig returns a copy with the sender's post-transaction
// balance replaced.
func (tx *Transaction) WithNewBalanceOrig(v float64) *Transaction {
	c := *tx
	c.NewBalanceOrig = v
	return &c
}

// WithNewBalanceDest returns a copy with the receiver's post-transaction
// balance replaced.
func (tx *Transaction) WithNewBalanceDest(v float64) *Transaction {
	c := *tx
	c.NewBalanceDest = v
	return &c
}

// Digest returns a canonical content hash of the evaluated fields.
// Two requests carrying identical raw records share a digest, which is the
// cache key for idempotent re-submissions.
func (tx *Transaction) Digest() string {
	h := sha256.New()
	h.Write([]byte(tx.Type))
	for _, v := range []float64{
		tx.Amount, tx.OldBalanceOrig, tx.NewBalanceOrig, tx.OldBalanceDest, tx.NewBalanceDest,
	} {
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatFloat(v, 'g', -1, 64)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TransactionRequest is the API request payload for transaction evaluation.
type TransactionRequest struct {
	Type           string  `json:"type"`
	Amount         float64 `json:"amount"`
	OldBalanceOrig float64 `json:"oldBalanceOrig"`
	NewBalanceOrig float64 `json:"newBalanceOrig"`
	OldBalanceDest float64 `json:"oldBalanceDest"`
	NewBalanceDest float64 `json:"newBalanceDest"`
}

// ToTransaction converts a request to a Transaction domain object.
// The record is not yet validated; callers run Validate before evaluation.
func (r *TransactionRequest) ToTransaction() *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		Type:           TxType(r.Type),
		Amount:         r.Amount,
		OldBalanceOrig: r.OldBalanceOrig,
		NewBalanceOrig: r.NewBalanceOrig,
		OldBalanceDest: r.OldBalanceDest,
		NewBalanceDest: r.NewBalanceDest,
		Timestamp:      now,
		CreatedAt:      now,
	}
}
