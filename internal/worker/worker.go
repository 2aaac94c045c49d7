// Package worker provides async transaction processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// Worker consumes ingested transactions from the EventBus and runs the
// evaluation pipeline on them.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	cache    domain.Cache
	engine   *engine.Engine
	policies *policy.Engine
	clfCfg   domain.ClassifierConfig
	cacheTTL time.Duration

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, eng *engine.Engine, policies *policy.Engine, clfCfg domain.ClassifierConfig, cacheTTL time.Duration) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Worker{
		bus:      bus,
		repo:     repo,
		cache:    cache,
		engine:   eng,
		policies: policies,
		clfCfg:   clfCfg,
		cacheTTL: cacheTTL,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processTransaction(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionIngested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processTransaction(ctx, msg.TenantID, msg)
}

// TransactionMessage is the message payload for async transaction processing.
type TransactionMessage struct {
	TxID           string  `json:"txId"`
	TenantID       string  `json:"tenantId"`
	TraceID        string  `json:"traceId"`
	Type           string  `json:"type"`
	Amount         float64 `json:"amount"`
	OldBalanceOrig float64 `json:"oldBalanceOrig"`
	NewBalanceOrig float64 `json:"newBalanceOrig"`
	OldBalanceDest float64 `json:"oldBalanceDest"`
	NewBalanceDest float64 `json:"newBalanceDest"`
}

// processTransaction runs the evaluation pipeline on one ingested record.
func (w *Worker) processTransaction(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if txMsg.TenantID != "" {
		tenantID = txMsg.TenantID
	}

	traceID := txMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:             txMsg.TxID,
		TenantID:       tenantID,
		Type:           domain.TxType(txMsg.Type),
		Amount:         txMsg.Amount,
		OldBalanceOrig: txMsg.OldBalanceOrig,
		NewBalanceOrig: txMsg.NewBalanceOrig,
		OldBalanceDest: txMsg.OldBalanceDest,
		NewBalanceDest: txMsg.NewBalanceDest,
		Timestamp:      now,
		CreatedAt:      now,
	}

	slog.Debug("processing transaction",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// Identical records short-circuit to the cached bundle.
	digest := tx.Digest()
	if w.cache != nil {
		cached, err := w.cache.GetEvaluation(ctx, tenantID, digest)
		if err != nil {
			slog.Warn("evaluation cache lookup failed", "error", err)
		}
		if cached != nil {
			return nil
		}
	}

	var clf domain.Classifier
	if w.clfCfg.Type == "bus" {
		clf = classifier.NewBusClassifier(w.bus, tenantID, w.clfCfg)
	}

	eval, err := w.engine.Evaluate(ctx, tx, clf)
	if err != nil {
		slog.Error("evaluation failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}
	eval.Metadata.TraceID = traceID
	eval.Metadata.TotalMs = time.Since(start).Milliseconds()

	if w.repo != nil {
		if err := w.repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
			slog.Error("failed to save evaluation",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	if w.cache != nil {
		if err := w.cache.SetEvaluation(ctx, tenantID, digest, eval, w.cacheTTL); err != nil {
			slog.Warn("failed to cache evaluation", "error", err)
		}
	}

	// Publish the completed bundle
	resultPayload, _ := json.Marshal(eval)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicEvaluationCompleted, resultPayload); err != nil {
		slog.Error("failed to publish evaluation completed",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	// Run alert policies over the bundle
	if w.policies != nil {
		if matches := w.policies.Evaluate(eval); len(matches) > 0 {
			alertPayload, _ := json.Marshal(map[string]any{
				"evaluationId": eval.ID,
				"txId":         eval.TxID,
				"tier":         eval.Risk.Tier,
				"score":        eval.Risk.Score,
				"matches":      matches,
			})
			if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, alertPayload); err != nil {
				slog.Error("failed to publish alert",
					"tx_id", tx.ID,
					"error", err,
				)
			}
		}
	}

	slog.Info("transaction processed",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
		"tier", eval.Risk.Tier,
		"score", eval.Risk.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
