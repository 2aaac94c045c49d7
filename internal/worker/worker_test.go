package worker

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-worker-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func newPolicyEngine(t *testing.T) *policy.Engine {
	t.Helper()

	policies, err := policy.NewEngine()
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	if err := policies.LoadPolicies(policy.DefaultPolicies()); err != nil {
		t.Fatalf("failed to load default policies: %v", err)
	}
	return policies
}

func TestWorkerProcessesIngestedTransaction(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	repo := newTestRepo(t)
	lru := cache.NewLRUCache(100)

	w := NewWorker(eventBus, repo, lru, engine.New(), newPolicyEngine(t), domain.ClassifierConfig{Type: "none"}, time.Minute)
	if err := w.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if stats := w.GetStats(); stats.SubscriptionCount != 1 {
		t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
	}

	completed := make(chan *domain.Evaluation, 1)
	_, err := eventBus.Subscribe(ctx, tenantID, domain.TopicEvaluationCompleted, func(ctx context.Context, msg *domain.Message) error {
		var eval domain.Evaluation
		if err := json.Unmarshal(msg.Payload, &eval); err != nil {
			return err
		}
		completed <- &eval
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	alerts := make(chan []byte, 1)
	_, err = eventBus.Subscribe(ctx, tenantID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		alerts <- msg.Payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	payload, _ := json.Marshal(TransactionMessage{
		TxID:           "tx-async-001",
		Type:           "TRANSFER",
		Amount:         150000,
		OldBalanceOrig: 150000,
		NewBalanceOrig: 0,
		NewBalanceDest: 150000,
	})
	if err := eventBus.Publish(ctx, tenantID, domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	var eval *domain.Evaluation
	select {
	case eval = <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completed evaluation")
	}

	if eval.TxID != "tx-async-001" {
		t.Errorf("expected tx-async-001, got %s", eval.TxID)
	}
	if eval.Risk.Tier != domain.TierHigh || eval.Risk.Score != 13 {
		t.Errorf("unexpected risk: %+v", eval.Risk)
	}

	// HIGH tier matches the default alert policy.
	select {
	case data := <-alerts:
		var alert map[string]any
		if err := json.Unmarshal(data, &alert); err != nil {
			t.Fatalf("failed to parse alert: %v", err)
		}
		if alert["txId"] != "tx-async-001" {
			t.Errorf("unexpected alert: %+v", alert)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert")
	}

	// The bundle is persisted for later retrieval.
	saved, err := repo.GetEvaluation(ctx, tenantID, eval.ID)
	if err != nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}
	if saved.Risk.Score != 13 {
		t.Errorf("expected score 13, got %d", saved.Risk.Score)
	}

	// And cached under the record digest.
	tx := &domain.Transaction{
		ID:             "tx-async-001",
		TenantID:       tenantID,
		Type:           domain.TypeTransfer,
		Amount:         150000,
		OldBalanceOrig: 150000,
		NewBalanceOrig: 0,
		NewBalanceDest: 150000,
	}
	cached, err := lru.GetEvaluation(ctx, tenantID, tx.Digest())
	if err != nil {
		t.Fatalf("GetEvaluation from cache failed: %v", err)
	}
	if cached == nil {
		t.Error("expected evaluation to be cached by digest")
	}
}

func TestWorkerSkipsInvalidMessage(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, nil, nil, engine.New(), nil, domain.ClassifierConfig{Type: "none"}, time.Minute)
	if err := w.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	completed := make(chan struct{}, 1)
	_, err := eventBus.Subscribe(ctx, tenantID, domain.TopicEvaluationCompleted, func(ctx context.Context, msg *domain.Message) error {
		completed <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Unknown transaction type fails input validation; no bundle is produced.
	payload, _ := json.Marshal(TransactionMessage{
		TxID:   "tx-bad",
		Type:   "WIRE",
		Amount: 100,
	})
	if err := eventBus.Publish(ctx, tenantID, domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-completed:
		t.Error("expected no completed evaluation for invalid input")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWorkerStop(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	w := NewWorker(eventBus, nil, nil, engine.New(), nil, domain.ClassifierConfig{}, 0)
	if err := w.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if stats := w.GetStats(); stats.SubscriptionCount != 1 {
		t.Errorf("expected global subscription, got %d", stats.SubscriptionCount)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if stats := w.GetStats(); stats.SubscriptionCount != 0 {
		t.Errorf("expected no subscriptions after stop, got %d", stats.SubscriptionCount)
	}
}
