package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *engine.Engine
	policies *policy.Engine
	clfCfg   domain.ClassifierConfig
	cacheTTL time.Duration
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, policies *policy.Engine, clfCfg domain.ClassifierConfig, cacheTTL time.Duration, version string) *Handler {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   eng,
		policies: policies,
		clfCfg:   clfCfg,
		cacheTTL: cacheTTL,
		version:  version,
	}
}

// classifierFor builds a per-request classifier client, or nil when
// classification is disabled. The classifier is always passed to the engine
// explicitly; the engine never holds one.
func (h *Handler) classifierFor(tenantID string) domain.Classifier {
	if h.clfCfg.Type != "bus" || h.bus == nil {
		return nil
	}
	return classifier.NewBusClassifier(h.bus, tenantID, h.clfCfg)
}

// Evaluate handles POST /evaluate requests.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	// Parse request
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx := req.ToTransaction()
	tx.TenantID = tenantID

	if err := tx.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	// Identical records are served from cache without re-running the
	// pipeline or the classifier.
	digest := tx.Digest()
	if h.cache != nil {
		cached, err := h.cache.GetEvaluation(ctx, tenantID, digest)
		if err != nil {
			slog.Warn("evaluation cache lookup failed", "error", err)
		}
		if cached != nil {
			writeJSON(w, http.StatusOK, cached.ToResponse())
			return
		}
	}

	tx.ID = uuid.New().String()
	ingestMs := time.Since(start).Milliseconds()

	// Save transaction if repository is available
	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			slog.Error("failed to save transaction", "error", err)
			// The evaluation still runs; persistence is best effort here.
		}
	}

	eval, err := h.engine.Evaluate(ctx, tx, h.classifierFor(tenantID))
	if err != nil {
		// Only invalid input reaches here; pipeline faults downstream of
		// validation are carried inside the bundle instead.
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	eval.Metadata.TraceID = traceID
	eval.Metadata.IngestMs = ingestMs
	eval.Metadata.TotalMs = time.Since(start).Milliseconds()

	if h.repo != nil {
		if err := h.repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
			slog.Error("failed to save evaluation", "error", err)
		}
	}

	if h.cache != nil {
		if err := h.cache.SetEvaluation(ctx, tenantID, digest, eval, h.cacheTTL); err != nil {
			slog.Warn("failed to cache evaluation", "error", err)
		}
	}

	h.dispatch(ctx, tenantID, eval)

	writeJSON(w, http.StatusOK, eval.ToResponse())
}

// alertEvent is published on the alert topic when a policy matches.
type alertEvent struct {
	EvaluationID string               `json:"evaluationId"`
	TxID         string               `json:"txId"`
	Tier         domain.RiskTier      `json:"tier"`
	Score        int                  `json:"score"`
	Matches      []domain.PolicyMatch `json:"matches"`
}

// dispatch runs alert policies over the completed bundle and publishes
// completion and alert events. Failures are logged, never surfaced to the
// caller: the evaluation itself already succeeded.
func (h *Handler) dispatch(ctx context.Context, tenantID string, eval *domain.Evaluation) {
	if h.bus == nil {
		return
	}

	if data, err := json.Marshal(eval); err == nil {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicEvaluationCompleted, data); err != nil {
			slog.Warn("failed to publish evaluation completed", "error", err)
		}
	}

	if h.policies == nil {
		return
	}

	matches := h.policies.Evaluate(eval)
	if len(matches) == 0 {
		return
	}

	event := alertEvent{
		EvaluationID: eval.ID,
		TxID:         eval.TxID,
		Tier:         eval.Risk.Tier,
		Score:        eval.Risk.Score,
		Matches:      matches,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, data); err != nil {
		slog.Warn("failed to publish alert", "error", err)
	}

	slog.Info("alert policies matched",
		"evaluation_id", eval.ID,
		"tier", eval.Risk.Tier,
		"score", eval.Risk.Score,
		"matches", len(matches),
	)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	evalID := chi.URLParam(r, "id")

	if evalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluation id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	eval, err := h.repo.GetEvaluation(ctx, tenantID, evalID)
	if err != nil {
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListTransactionEvaluations retrieves all evaluations for a transaction.
func (h *Handler) ListTransactionEvaluations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	evals, err := h.repo.ListEvaluationsByTransaction(ctx, tenantID, txID)
	if err != nil {
		slog.Error("failed to list evaluations", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list evaluations",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evaluations": evals,
		"count":       len(evals),
	})
}

// ListPolicies returns all loaded alert policies.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	loaded := h.policies.GetLoadedPolicies()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetPolicy retrieves an alert policy by ID from the loaded engine policies.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "id")

	if policyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	for _, p := range h.policies.GetLoadedPolicies() {
		if p.ID == policyID {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "policy not found",
	})
}

// CreatePolicyRequest is the request body for creating an alert policy.
type CreatePolicyRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Enabled     bool   `json:"enabled"`
}

// CreatePolicy creates a new alert policy and saves it to the database.
// After saving, call POST /policies/reload to hot-reload into the engine.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	cfg := &domain.AlertPolicy{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to compile
	if err := h.policies.ValidatePolicy(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveAlertPolicy(ctx, tenantID, cfg); err != nil {
			slog.Error("failed to save alert policy", "id", cfg.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save policy",
			})
			return
		}
	}

	slog.Info("alert policy created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy":  cfg,
		"message": "Policy created. Call POST /policies/reload to apply changes.",
	})
}

// DeletePolicy disables an alert policy and auto-reloads the engine.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	policyID := chi.URLParam(r, "id")

	if policyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteAlertPolicy(ctx, tenantID, policyID); err != nil {
			slog.Error("failed to delete alert policy", "id", policyID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "policy not found",
			})
			return
		}

		// Auto-reload the engine after delete
		dbPolicies, err := h.repo.ListAlertPolicies(ctx, tenantID)
		if err != nil {
			slog.Error("failed to reload policies after delete", "error", err)
		} else if err := h.policies.ReloadPolicies(dbPolicies); err != nil {
			slog.Error("failed to reload policies into engine", "error", err)
		}
	}

	slog.Info("alert policy deleted", "id", policyID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Policy deleted and engine reloaded.",
	})
}

// ReloadPolicies reloads all alert policies from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbPolicies, err := h.repo.ListAlertPolicies(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list policies from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	if err := h.policies.ReloadPolicies(dbPolicies); err != nil {
		slog.Error("failed to reload policies into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("alert policies reloaded from database", "count", len(dbPolicies))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policies reloaded successfully",
		"count":   len(dbPolicies),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
