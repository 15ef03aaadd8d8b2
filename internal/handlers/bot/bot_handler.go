package bot

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/outline-bot/subscription-service/internal/domain"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
	"github.com/outline-bot/subscription-service/pkg/resilience"
)

// Handler is the chat front-end's relay surface. The bot process translates
// chat updates into these calls and renders the JSON back into messages, so
// every endpoint is secret-authenticated and user-addressed.
type Handler struct {
	users       ports.UserService
	referrals   ports.ReferralService
	subs        ports.SubscriptionService
	payments    ports.PaymentService
	tariffs     ports.TariffRepository
	botUsername string
	logger      *zap.Logger
	timeouts    *resilience.TimeoutConfig
	secret      string
}

// NewHandler creates a new bot relay handler
func NewHandler(
	users ports.UserService,
	referrals ports.ReferralService,
	subs ports.SubscriptionService,
	payments ports.PaymentService,
	tariffs ports.TariffRepository,
	botUsername string,
	logger *zap.Logger,
	timeouts *resilience.TimeoutConfig,
	secret string,
) *Handler {
	return &Handler{
		users:       users,
		referrals:   referrals,
		subs:        subs,
		payments:    payments,
		tariffs:     tariffs,
		botUsername: botUsername,
		logger:      logger,
		timeouts:    timeouts,
		secret:      secret,
	}
}

// StartRequest registers a user, optionally with an inbound referral code
type StartRequest struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	RefCode  string `json:"ref_code,omitempty"`
}

// StartResponse reports the registration outcome
type StartResponse struct {
	Success      bool   `json:"success"`
	UserID       int64  `json:"user_id,omitempty"`
	ReferralCode string `json:"referral_code,omitempty"`
	BonusApplied bool   `json:"bonus_applied,omitempty"`
	Error        string `json:"error,omitempty"`
	Code         string `json:"code,omitempty"`
}

// TrialRequest activates the free trial for a user
type TrialRequest struct {
	UserID int64 `json:"user_id"`
}

// SubscriptionResponse reports the state shown to a subscribed user
type SubscriptionResponse struct {
	Success     bool   `json:"success"`
	EndDate     string `json:"end_date,omitempty"`
	VPNKey      string `json:"vpn_key,omitempty"`
	DeviceLimit int    `json:"device_limit,omitempty"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
}

// ReferralsResponse reports referral statistics for a referrer
type ReferralsResponse struct {
	Success   bool     `json:"success"`
	RefLink   string   `json:"ref_link,omitempty"`
	Total     int      `json:"total"`
	Usernames []string `json:"usernames,omitempty"`
	Error     string   `json:"error,omitempty"`
	Code      string   `json:"code,omitempty"`
}

// TariffItem is one purchasable plan
type TariffItem struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	DurationDays int    `json:"duration_days"`
	Price        string `json:"price"`
}

// TariffsResponse lists the purchasable plans
type TariffsResponse struct {
	Success bool         `json:"success"`
	Tariffs []TariffItem `json:"tariffs"`
	Error   string       `json:"error,omitempty"`
}

// InvoiceRequest asks for a payment invoice for a tariff
type InvoiceRequest struct {
	UserID   int64 `json:"user_id"`
	TariffID int64 `json:"tariff_id"`
}

// InvoiceResponse carries what the bot needs to issue a payment request
type InvoiceResponse struct {
	Success      bool   `json:"success"`
	PaymentID    string `json:"payment_id,omitempty"`
	Payload      string `json:"payload,omitempty"`
	Amount       string `json:"amount,omitempty"`
	DurationDays int    `json:"duration_days,omitempty"`
	Label        string `json:"label,omitempty"`
	Error        string `json:"error,omitempty"`
	Code         string `json:"code,omitempty"`
}

func (h *Handler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("X-Cron-Secret") == h.secret {
		return true
	}
	h.logger.Warn("unauthorized bot request",
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr))
	h.respondJSON(w, http.StatusUnauthorized, StartResponse{Success: false, Error: "unauthorized"})
	return false
}

// HandleStart handles POST /bot/start
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondJSON(w, http.StatusMethodNotAllowed, StartResponse{Success: false, Error: "only POST method is allowed"})
		return
	}
	if !h.authorized(w, r) {
		return
	}

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		h.respondJSON(w, http.StatusBadRequest, StartResponse{Success: false, Error: "user_id is required"})
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	result, err := h.users.Start(ctx, req.UserID, req.Username, req.RefCode)
	if err != nil {
		code := domain.GetErrorCode(err)
		status := http.StatusInternalServerError
		msg := "internal error"
		if domain.IsBusinessError(err) {
			status = http.StatusConflict
			msg = err.Error()
		} else {
			h.logger.Error("start failed", zap.Int64("user_id", req.UserID), zap.Error(err))
		}
		h.respondJSON(w, status, StartResponse{Success: false, Error: msg, Code: string(code)})
		return
	}

	h.respondJSON(w, http.StatusOK, StartResponse{
		Success:      true,
		UserID:       result.User.ID,
		ReferralCode: result.User.ReferralCode,
		BonusApplied: result.BonusApplied,
	})
}

// HandleTrial handles POST /bot/trial
func (h *Handler) HandleTrial(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondJSON(w, http.StatusMethodNotAllowed, SubscriptionResponse{Success: false, Error: "only POST method is allowed"})
		return
	}
	if !h.authorized(w, r) {
		return
	}

	var req TrialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		h.respondJSON(w, http.StatusBadRequest, SubscriptionResponse{Success: false, Error: "user_id is required"})
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	sub, key, err := h.subs.ActivateTrial(ctx, req.UserID)
	if err != nil {
		code := domain.GetErrorCode(err)
		switch {
		case domain.IsDomainError(err, domain.ErrorCodeUserNotFound):
			h.respondJSON(w, http.StatusNotFound, SubscriptionResponse{Success: false, Error: "user not found", Code: string(code)})
		case domain.IsDomainError(err, domain.ErrorCodeTrialAlreadyUsed):
			h.respondJSON(w, http.StatusConflict, SubscriptionResponse{Success: false, Error: "trial already used", Code: string(code)})
		default:
			h.logger.Error("trial activation failed", zap.Int64("user_id", req.UserID), zap.Error(err))
			h.respondJSON(w, http.StatusInternalServerError, SubscriptionResponse{Success: false, Error: "internal error", Code: string(code)})
		}
		return
	}

	h.respondJSON(w, http.StatusOK, SubscriptionResponse{
		Success: true,
		EndDate: sub.EndDate.Format(time.RFC3339),
		VPNKey:  key,
	})
}

// HandleSubscription handles GET /bot/subscription?user_id=N
func (h *Handler) HandleSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondJSON(w, http.StatusMethodNotAllowed, SubscriptionResponse{Success: false, Error: "only GET method is allowed"})
		return
	}
	if !h.authorized(w, r) {
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID == 0 {
		h.respondJSON(w, http.StatusBadRequest, SubscriptionResponse{Success: false, Error: "user_id is required"})
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	info, err := h.subs.Info(ctx, userID)
	if err != nil {
		code := domain.GetErrorCode(err)
		switch {
		case domain.IsDomainError(err, domain.ErrorCodeSubscriptionNotFound),
			domain.IsDomainError(err, domain.ErrorCodeSubscriptionNotActive):
			h.respondJSON(w, http.StatusNotFound, SubscriptionResponse{Success: false, Error: "no active subscription", Code: string(code)})
		default:
			h.logger.Error("subscription info failed", zap.Int64("user_id", userID), zap.Error(err))
			h.respondJSON(w, http.StatusInternalServerError, SubscriptionResponse{Success: false, Error: "internal error", Code: string(code)})
		}
		return
	}

	h.respondJSON(w, http.StatusOK, SubscriptionResponse{
		Success:     true,
		EndDate:     info.EndDate.Format(time.RFC3339),
		VPNKey:      info.VPNKey,
		DeviceLimit: info.DeviceLimit,
	})
}

// HandleReferrals handles GET /bot/referrals?user_id=N
func (h *Handler) HandleReferrals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondJSON(w, http.StatusMethodNotAllowed, ReferralsResponse{Success: false, Error: "only GET method is allowed"})
		return
	}
	if !h.authorized(w, r) {
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID == 0 {
		h.respondJSON(w, http.StatusBadRequest, ReferralsResponse{Success: false, Error: "user_id is required"})
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	info, err := h.referrals.Info(ctx, userID, h.botUsername)
	if err != nil {
		code := domain.GetErrorCode(err)
		if domain.IsDomainError(err, domain.ErrorCodeUserNotFound) {
			h.respondJSON(w, http.StatusNotFound, ReferralsResponse{Success: false, Error: "user not found", Code: string(code)})
			return
		}
		h.logger.Error("referral info failed", zap.Int64("user_id", userID), zap.Error(err))
		h.respondJSON(w, http.StatusInternalServerError, ReferralsResponse{Success: false, Error: "internal error", Code: string(code)})
		return
	}

	h.respondJSON(w, http.StatusOK, ReferralsResponse{
		Success:   true,
		RefLink:   info.RefLink,
		Total:     info.Total,
		Usernames: info.ReferredUsernames,
	})
}

// HandleTariffs handles GET /bot/tariffs
func (h *Handler) HandleTariffs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondJSON(w, http.StatusMethodNotAllowed, TariffsResponse{Success: false, Error: "only GET method is allowed"})
		return
	}
	if !h.authorized(w, r) {
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	tariffs, err := h.tariffs.ListActive(ctx, nil)
	if err != nil {
		h.logger.Error("list tariffs failed", zap.Error(err))
		h.respondJSON(w, http.StatusInternalServerError, TariffsResponse{Success: false, Error: "internal error"})
		return
	}

	items := make([]TariffItem, 0, len(tariffs))
	for _, t := range tariffs {
		items = append(items, TariffItem{
			ID:           t.ID,
			Name:         t.Name,
			DurationDays: t.DurationDays,
			Price:        t.Price.StringFixed(2),
		})
	}
	h.respondJSON(w, http.StatusOK, TariffsResponse{Success: true, Tariffs: items})
}

// HandleInvoice handles POST /bot/invoice
func (h *Handler) HandleInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondJSON(w, http.StatusMethodNotAllowed, InvoiceResponse{Success: false, Error: "only POST method is allowed"})
		return
	}
	if !h.authorized(w, r) {
		return
	}

	var req InvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.TariffID == 0 {
		h.respondJSON(w, http.StatusBadRequest, InvoiceResponse{Success: false, Error: "user_id and tariff_id are required"})
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	invoice, err := h.payments.CreateInvoice(ctx, req.UserID, req.TariffID)
	if err != nil {
		code := domain.GetErrorCode(err)
		if domain.IsDomainError(err, domain.ErrorCodeTariffNotFound) {
			h.respondJSON(w, http.StatusNotFound, InvoiceResponse{Success: false, Error: "tariff not found", Code: string(code)})
			return
		}
		h.logger.Error("create invoice failed",
			zap.Int64("user_id", req.UserID),
			zap.Int64("tariff_id", req.TariffID),
			zap.Error(err))
		h.respondJSON(w, http.StatusInternalServerError, InvoiceResponse{Success: false, Error: "internal error", Code: string(code)})
		return
	}

	h.respondJSON(w, http.StatusOK, InvoiceResponse{
		Success:      true,
		PaymentID:    invoice.PaymentID,
		Payload:      invoice.Payload,
		Amount:       invoice.Amount.StringFixed(2),
		DurationDays: invoice.DurationDays,
		Label:        invoice.Label,
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
