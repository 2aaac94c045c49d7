package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:             "tx-001",
			Type:           domain.TypeTransfer,
			Amount:         1000.00,
			OldBalanceOrig: 5000,
			NewBalanceOrig: 4000,
			OldBalanceDest: 200,
			NewBalanceDest: 1200,
			Timestamp:      time.Now().UTC(),
			CreatedAt:      time.Now().UTC(),
		}

		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		if retrieved.Type != domain.TypeTransfer {
			t.Errorf("expected type TRANSFER, got %s", retrieved.Type)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "tenant-002", "tx-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx-test"}

		if err := repo.SaveTransaction(ctx, "", tx); err == nil {
			t.Error("expected error for empty tenantID")
		}

		if _, err := repo.GetTransaction(ctx, "", "tx-001"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, tenantID, "no-such-tx")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		_, err = repo.GetEvaluation(ctx, tenantID, "no-such-eval")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestEvaluationRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	eval := &domain.Evaluation{
		ID:        "eval-001",
		TenantID:  tenantID,
		TxID:      "tx-001",
		Timestamp: time.Now().UTC(),
		Record: &domain.Transaction{
			ID:             "tx-001",
			Type:           domain.TypeCashOut,
			Amount:         30000,
			OldBalanceOrig: 40000,
			NewBalanceOrig: 40000,
			NewBalanceDest: 30000,
		},
		Corrected: &domain.Transaction{
			ID:             "tx-001",
			Type:           domain.TypeCashOut,
			Amount:         30000,
			OldBalanceOrig: 40000,
			NewBalanceOrig: 10000,
			NewBalanceDest: 30000,
		},
		Validation: domain.ValidationResult{
			ExpectedNewBalanceOrig: 10000,
			ExpectedNewBalanceDest: 30000,
			OrigValid:              false,
			DestValid:              true,
		},
		Derived: domain.DerivedFeatures{
			BalanceDiffOrig:      30000,
			BalanceDiffDest:      30000,
			AmountToBalanceRatio: 0.75,
		},
		Risk: domain.RiskAssessment{
			Score: 7,
			Tier:  domain.TierHigh,
			Factors: []domain.RiskFactor{
				{Severity: domain.SeverityHigh, Description: "high-risk transaction type (fraud typically occurs in TRANSFER/CASH_OUT)"},
				{Severity: domain.SeverityMedium, Description: "balance inconsistencies detected"},
			},
		},
		Classification: &domain.Classification{
			Label:                 domain.LabelFraud,
			FraudProbability:      0.91,
			LegitimateProbability: 0.09,
		},
		Metadata: domain.EvaluationMetadata{
			TraceID:       "trace-001",
			EngineVersion: "kestrel-1.0",
		},
	}

	if err := repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
		t.Fatalf("SaveEvaluation failed: %v", err)
	}

	retrieved, err := repo.GetEvaluation(ctx, tenantID, eval.ID)
	if err != nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}

	if retrieved.Risk.Score != 7 || retrieved.Risk.Tier != domain.TierHigh {
		t.Errorf("unexpected risk: %+v", retrieved.Risk)
	}
	if len(retrieved.Risk.Factors) != 2 {
		t.Errorf("expected 2 factors, got %d", len(retrieved.Risk.Factors))
	}
	if retrieved.Corrected == nil || retrieved.Corrected.NewBalanceOrig != 10000 {
		t.Errorf("unexpected corrected record: %+v", retrieved.Corrected)
	}
	if retrieved.Validation.OrigValid {
		t.Error("expected OrigValid false")
	}
	if retrieved.Classification == nil || retrieved.Classification.Label != domain.LabelFraud {
		t.Errorf("unexpected classification: %+v", retrieved.Classification)
	}
	if retrieved.Metadata.TraceID != "trace-001" {
		t.Errorf("expected trace-001, got %s", retrieved.Metadata.TraceID)
	}

	t.Run("PartialBundle", func(t *testing.T) {
		partial := &domain.Evaluation{
			ID:        "eval-002",
			TenantID:  tenantID,
			TxID:      "tx-001",
			Timestamp: time.Now().UTC(),
			Record:    eval.Record,
			Validation: domain.ValidationResult{
				OrigValid: true, DestValid: true,
			},
			Risk: domain.RiskAssessment{
				Score: 3, Tier: domain.TierLow,
				Factors: []domain.RiskFactor{},
			},
			ClassificationError: "classifier unavailable: request timeout",
		}

		if err := repo.SaveEvaluation(ctx, tenantID, partial); err != nil {
			t.Fatalf("SaveEvaluation failed: %v", err)
		}

		got, err := repo.GetEvaluation(ctx, tenantID, partial.ID)
		if err != nil {
			t.Fatalf("GetEvaluation failed: %v", err)
		}
		if got.Classification != nil {
			t.Errorf("expected nil classification, got %+v", got.Classification)
		}
		if got.ClassificationError != partial.ClassificationError {
			t.Errorf("expected error %q, got %q", partial.ClassificationError, got.ClassificationError)
		}
		if got.Corrected != nil {
			t.Errorf("expected nil corrected, got %+v", got.Corrected)
		}
	})

	t.Run("ListByTransaction", func(t *testing.T) {
		evals, err := repo.ListEvaluationsByTransaction(ctx, tenantID, "tx-001")
		if err != nil {
			t.Fatalf("ListEvaluationsByTransaction failed: %v", err)
		}
		if len(evals) != 2 {
			t.Errorf("expected 2 evaluations, got %d", len(evals))
		}
	})
}

func TestAlertPolicies(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	p := &domain.AlertPolicy{
		ID:          "policy-001",
		Name:        "High value",
		Description: "amount over threshold",
		Expression:  `amount > 100000.0`,
		Enabled:     true,
	}

	t.Run("SaveAndList", func(t *testing.T) {
		if err := repo.SaveAlertPolicy(ctx, tenantID, p); err != nil {
			t.Fatalf("SaveAlertPolicy failed: %v", err)
		}

		policies, err := repo.ListAlertPolicies(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListAlertPolicies failed: %v", err)
		}
		if len(policies) != 1 {
			t.Fatalf("expected 1 policy, got %d", len(policies))
		}
		if policies[0].Expression != p.Expression {
			t.Errorf("expected expression %q, got %q", p.Expression, policies[0].Expression)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		p.Expression = `amount > 50000.0`
		if err := repo.SaveAlertPolicy(ctx, tenantID, p); err != nil {
			t.Fatalf("SaveAlertPolicy failed: %v", err)
		}

		policies, err := repo.ListAlertPolicies(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListAlertPolicies failed: %v", err)
		}
		if len(policies) != 1 {
			t.Fatalf("expected 1 policy after upsert, got %d", len(policies))
		}
		if policies[0].Expression != `amount > 50000.0` {
			t.Errorf("expected updated expression, got %q", policies[0].Expression)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		policies, err := repo.ListAlertPolicies(ctx, "tenant-002")
		if err != nil {
			t.Fatalf("ListAlertPolicies failed: %v", err)
		}
		if len(policies) != 0 {
			t.Errorf("expected no policies for other tenant, got %d", len(policies))
		}
	})

	t.Run("DeleteDisables", func(t *testing.T) {
		if err := repo.DeleteAlertPolicy(ctx, tenantID, p.ID); err != nil {
			t.Fatalf("DeleteAlertPolicy failed: %v", err)
		}

		policies, err := repo.ListAlertPolicies(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListAlertPolicies failed: %v", err)
		}
		if len(policies) != 0 {
			t.Errorf("expected no enabled policies after delete, got %d", len(policies))
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		err := repo.DeleteAlertPolicy(ctx, tenantID, "no-such-policy")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
