package cron

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/outline-bot/subscription-service/internal/domain/ports"
	"github.com/outline-bot/subscription-service/internal/scheduler"
	"github.com/outline-bot/subscription-service/pkg/observability"
	"github.com/outline-bot/subscription-service/pkg/resilience"
)

// SweepHandler exposes the scheduler's recovery sweep and operational stats
// behind the cron secret.
type SweepHandler struct {
	worker   *scheduler.Worker
	db       ports.DBPort
	subs     ports.SubscriptionRepository
	jobs     ports.JobRepository
	vpn      ports.KeyProvisioner
	logger   *zap.Logger
	timeouts *resilience.TimeoutConfig
	secret   string
}

// NewSweepHandler creates a new cron sweep handler
func NewSweepHandler(
	worker *scheduler.Worker,
	db ports.DBPort,
	subs ports.SubscriptionRepository,
	jobs ports.JobRepository,
	vpn ports.KeyProvisioner,
	logger *zap.Logger,
	timeouts *resilience.TimeoutConfig,
	secret string,
) *SweepHandler {
	return &SweepHandler{
		worker:   worker,
		db:       db,
		subs:     subs,
		jobs:     jobs,
		vpn:      vpn,
		logger:   logger,
		timeouts: timeouts,
		secret:   secret,
	}
}

// SweepResponse reports a manual sweep run
type SweepResponse struct {
	Success     bool   `json:"success"`
	PendingJobs int64  `json:"pending_jobs"`
	SweptAt     string `json:"swept_at"`
	Error       string `json:"error,omitempty"`
}

// StatsResponse reports subscription and transfer statistics
type StatsResponse struct {
	Success             bool             `json:"success"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
	PendingJobs         int64            `json:"pending_jobs"`
	TransferBytes       map[string]int64 `json:"transfer_bytes,omitempty"`
	CollectedAt         string           `json:"collected_at"`
	Error               string           `json:"error,omitempty"`
}

func (h *SweepHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("X-Cron-Secret") == h.secret {
		return true
	}
	h.logger.Warn("unauthorized cron request",
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	return false
}

// HandleSweep handles the POST /cron/sweep endpoint. It fires everything due
// right now, the manual recovery path when firings were missed.
func (h *SweepHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(w, r) {
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	h.worker.Sweep(ctx)

	pending, err := h.jobs.CountPending(ctx, nil)
	if err != nil {
		h.logger.Error("count pending jobs failed", zap.Error(err))
	}
	observability.UpdatePendingJobs(float64(pending))

	h.logger.Info("manual sweep completed", zap.Int64("pending_jobs", pending))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SweepResponse{
		Success:     true,
		PendingJobs: pending,
		SweptAt:     time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleStats handles the GET /cron/stats endpoint
func (h *SweepHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(w, r) {
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	resp := StatsResponse{Success: true, CollectedAt: time.Now().UTC().Format(time.RFC3339)}

	// Both counts come from one read-only transaction so the numbers are a
	// consistent snapshot, not two reads straddling a sweep.
	err := h.db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		active, err := h.subs.ListActive(ctx, tx)
		if err != nil {
			return err
		}
		pending, err := h.jobs.CountPending(ctx, tx)
		if err != nil {
			return err
		}
		resp.ActiveSubscriptions = len(active)
		resp.PendingJobs = pending
		return nil
	})
	if err != nil {
		h.logger.Error("collect stats failed", zap.Error(err))
		resp.Success = false
		resp.Error = "could not read subscriptions"
	} else {
		observability.UpdateActiveSubscriptions(float64(resp.ActiveSubscriptions))
		observability.UpdatePendingJobs(float64(resp.PendingJobs))
	}

	// Transfer metrics are best-effort; the Outline server may be unreachable
	if transfer, err := h.vpn.TransferMetrics(ctx); err != nil {
		h.logger.Warn("transfer metrics unavailable", zap.Error(err))
	} else {
		resp.TransferBytes = transfer
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Success {
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(resp)
}
