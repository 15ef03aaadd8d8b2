package payment

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/outline-bot/subscription-service/internal/domain"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
	"github.com/outline-bot/subscription-service/pkg/resilience"
)

// CallbackHandler finalizes provider payment callbacks relayed by the chat
// front-end.
type CallbackHandler struct {
	paymentService ports.PaymentService
	logger         *zap.Logger
	timeouts       *resilience.TimeoutConfig
	secret         string
}

// NewCallbackHandler creates a new payment callback handler
func NewCallbackHandler(
	paymentService ports.PaymentService,
	logger *zap.Logger,
	timeouts *resilience.TimeoutConfig,
	secret string,
) *CallbackHandler {
	return &CallbackHandler{
		paymentService: paymentService,
		logger:         logger,
		timeouts:       timeouts,
		secret:         secret,
	}
}

// CallbackRequest is the relayed provider callback
type CallbackRequest struct {
	PaymentID        string `json:"payment_id"`
	ExternalChargeID string `json:"external_charge_id"`
	ProviderChargeID string `json:"provider_charge_id"`
}

// CallbackResponse reports what the callback provisioned
type CallbackResponse struct {
	Success bool   `json:"success"`
	Action  string `json:"action,omitempty"`
	EndDate string `json:"end_date,omitempty"`
	VPNKey  string `json:"vpn_key,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// HandleCallback handles the POST /payments/callback endpoint
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed", "")
		return
	}
	if r.Header.Get("X-Cron-Secret") != h.secret {
		h.logger.Warn("unauthorized payment callback",
			zap.String("remote_addr", r.RemoteAddr))
		h.respondError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.PaymentID == "" || req.ExternalChargeID == "" || req.ProviderChargeID == "" {
		h.respondError(w, http.StatusBadRequest,
			"payment_id, external_charge_id and provider_charge_id are required", "")
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	result, err := h.paymentService.ProcessSuccess(ctx, req.PaymentID, req.ExternalChargeID, req.ProviderChargeID)
	if err != nil {
		code := domain.GetErrorCode(err)
		switch {
		case domain.IsDomainError(err, domain.ErrorCodePaymentNotFound):
			h.respondError(w, http.StatusNotFound, "payment not found", string(code))
		case domain.IsDomainError(err, domain.ErrorCodePaymentProcessed):
			h.respondError(w, http.StatusConflict, "payment already processed", string(code))
		default:
			h.logger.Error("payment callback failed",
				zap.String("payment_id", req.PaymentID),
				zap.Error(err))
			h.respondError(w, http.StatusInternalServerError, "internal error", string(code))
		}
		return
	}

	h.logger.Info("payment callback processed",
		zap.String("payment_id", req.PaymentID),
		zap.String("action", result.Action))

	h.respondJSON(w, http.StatusOK, CallbackResponse{
		Success: true,
		Action:  result.Action,
		EndDate: result.EndDate.Format(time.RFC3339),
		VPNKey:  result.VPNKey,
	})
}

func (h *CallbackHandler) respondError(w http.ResponseWriter, status int, msg, code string) {
	h.respondJSON(w, status, CallbackResponse{Success: false, Error: msg, Code: code})
}

func (h *CallbackHandler) respondJSON(w http.ResponseWriter, status int, resp CallbackResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
