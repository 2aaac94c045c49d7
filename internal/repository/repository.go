// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, type, amount,
			old_balance_orig, new_balance_orig,
			old_balance_dest, new_balance_dest,
			timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, string(tx.Type), tx.Amount,
		tx.OldBalanceOrig, tx.NewBalanceOrig,
		tx.OldBalanceDest, tx.NewBalanceDest,
		tx.Timestamp, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, type, amount,
			   old_balance_orig, new_balance_orig,
			   old_balance_dest, new_balance_dest,
			   timestamp, created_at
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction
	var txType string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &txType, &tx.Amount,
		&tx.OldBalanceOrig, &tx.NewBalanceOrig,
		&tx.OldBalanceDest, &tx.NewBalanceDest,
		&tx.Timestamp, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Type = domain.TxType(txType)
	return &tx, nil
}

// SaveEvaluation stores an evaluation result with tenant isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.Evaluation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	record, _ := json.Marshal(eval.Record)
	validationJSON, _ := json.Marshal(eval.Validation)
	derived, _ := json.Marshal(eval.Derived)
	factors, _ := json.Marshal(eval.Risk.Factors)
	metadata, _ := json.Marshal(eval.Metadata)

	var corrected []byte
	if eval.Corrected != nil {
		corrected, _ = json.Marshal(eval.Corrected)
	}

	var label sql.NullString
	var fraudProb sql.NullFloat64
	var classification []byte
	if eval.Classification != nil {
		classification, _ = json.Marshal(eval.Classification)
		label = sql.NullString{String: string(eval.Classification.Label), Valid: true}
		fraudProb = sql.NullFloat64{Float64: eval.Classification.FraudProbability, Valid: true}
	}

	query := `
		INSERT INTO evaluations (
			id, tenant_id, tx_id, tier, risk_score, label, fraud_probability,
			timestamp, record, corrected, validation, derived, factors,
			classification, classification_error, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, tenantID, eval.TxID, string(eval.Risk.Tier), eval.Risk.Score,
		label, fraudProb,
		eval.Timestamp, string(record), nullableString(corrected),
		string(validationJSON), string(derived), string(factors),
		nullableString(classification), eval.ClassificationError, string(metadata),
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := evaluationSelect + ` WHERE tenant_id = ? AND id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evalID)
	eval, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return eval, err
}

// ListEvaluationsByTransaction retrieves all evaluations for a transaction.
func (r *SQLRepository) ListEvaluationsByTransaction(ctx context.Context, tenantID string, txID string) ([]*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := evaluationSelect + ` WHERE tenant_id = ? AND tx_id = ? ORDER BY timestamp DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*domain.Evaluation
	for rows.Next() {
		eval, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}

	return evals, rows.Err()
}

const evaluationSelect = `
	SELECT id, tenant_id, tx_id, tier, risk_score,
		   timestamp, record, corrected, validation, derived, factors,
		   classification, classification_error, metadata
	FROM evaluations`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(s scanner) (*domain.Evaluation, error) {
	var eval domain.Evaluation
	var tier string
	var record, validationJSON, derived, factors, metadata string
	var corrected, classification, classificationErr sql.NullString

	err := s.Scan(
		&eval.ID, &eval.TenantID, &eval.TxID, &tier, &eval.Risk.Score,
		&eval.Timestamp, &record, &corrected, &validationJSON, &derived, &factors,
		&classification, &classificationErr, &metadata,
	)
	if err != nil {
		return nil, err
	}

	eval.Risk.Tier = domain.RiskTier(tier)
	json.Unmarshal([]byte(record), &eval.Record)
	json.Unmarshal([]byte(validationJSON), &eval.Validation)
	json.Unmarshal([]byte(derived), &eval.Derived)
	json.Unmarshal([]byte(factors), &eval.Risk.Factors)
	json.Unmarshal([]byte(metadata), &eval.Metadata)

	if corrected.Valid && corrected.String != "" {
		json.Unmarshal([]byte(corrected.String), &eval.Corrected)
	}
	if classification.Valid && classification.String != "" {
		json.Unmarshal([]byte(classification.String), &eval.Classification)
	}
	if classificationErr.Valid {
		eval.ClassificationError = classificationErr.String
	}

	return &eval, nil
}

// SaveAlertPolicy stores an alert policy with tenant isolation.
func (r *SQLRepository) SaveAlertPolicy(ctx context.Context, tenantID string, policy *domain.AlertPolicy) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if policy.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO alert_policies (
			id, tenant_id, name, description, expression, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		policy.ID, tenantID, policy.Name, policy.Description,
		policy.Expression, enabled, now, now,
	)
	return err
}

// ListAlertPolicies retrieves all enabled alert policies for a tenant.
func (r *SQLRepository) ListAlertPolicies(ctx context.Context, tenantID string) ([]*domain.AlertPolicy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, enabled, created_at, updated_at
		FROM alert_policies
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.AlertPolicy
	for rows.Next() {
		var p domain.AlertPolicy
		var enabled int

		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.Description,
			&p.Expression, &enabled, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}

		p.Enabled = enabled == 1
		policies = append(policies, &p)
	}

	return policies, rows.Err()
}

// DeleteAlertPolicy soft-deletes a policy by setting enabled = 0.
func (r *SQLRepository) DeleteAlertPolicy(ctx context.Context, tenantID string, policyID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE alert_policies
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, policyID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// nullableString maps empty JSON blobs to SQL NULL.
func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
