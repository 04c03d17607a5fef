package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"vacstation/backend/libs/ledger"
	"vacstation/backend/services/billing-service/internal/models"
	"vacstation/backend/services/billing-service/internal/repository"
	"vacstation/backend/services/billing-service/internal/service"
)

// Checkout is the account-facing billing surface.
type Checkout interface {
	CreateTopUp(ctx context.Context, in service.TopUpInput) (*service.TopUpResult, error)
	CancelSubscription(ctx context.Context, accountID, token string) error
	Balance(ctx context.Context, accountID string) (int64, error)
	Payments(ctx context.Context, accountID string, limit int) ([]models.ProcessedPayment, error)
	Intents(ctx context.Context, accountID string, limit int) ([]models.PaymentIntent, error)
	Transactions(ctx context.Context, accountID string, limit int) ([]ledger.Entry, error)
}

// AccountHandlers serves /billing/me/* reads.
type AccountHandlers struct {
	checkout Checkout
	logger   *zap.Logger
}

// NewAccountHandlers builds handlers.
func NewAccountHandlers(checkout Checkout, logger *zap.Logger) *AccountHandlers {
	return &AccountHandlers{checkout: checkout, logger: logger}
}

// Balance handles GET /billing/me/balance.
func (h *AccountHandlers) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	balance, err := h.checkout.Balance(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load balance", zap.String("account_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"balance":    balance,
	})
}

// Transactions handles GET /billing/me/transactions.
func (h *AccountHandlers) Transactions(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	entries, err := h.checkout.Transactions(r.Context(), id, limitParam(r))
	if err != nil {
		h.logger.Error("failed to load transactions", zap.String("account_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": entries,
	})
}

// Payments handles GET /billing/me/payments.
func (h *AccountHandlers) Payments(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	payments, err := h.checkout.Payments(r.Context(), id, limitParam(r))
	if err != nil {
		h.logger.Error("failed to load payments", zap.String("account_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load payments")
		return
	}
	if payments == nil {
		payments = []models.ProcessedPayment{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
	})
}

// Intents handles GET /billing/me/topups.
func (h *AccountHandlers) Intents(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	intents, err := h.checkout.Intents(r.Context(), id, limitParam(r))
	if err != nil {
		h.logger.Error("failed to load intents", zap.String("account_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load top-ups")
		return
	}
	if intents == nil {
		intents = []models.PaymentIntent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"topups": intents,
	})
}

type cancelSubscriptionRequest struct {
	Token string `json:"token"`
}

// CancelSubscription handles POST /billing/me/subscriptions/cancel.
func (h *AccountHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var req cancelSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	err := h.checkout.CancelSubscription(r.Context(), id, req.Token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case errors.Is(err, repository.ErrIntentNotFound):
		writeError(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, service.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, "payment gateway unavailable")
	default:
		h.logger.Error("failed to cancel subscription", zap.String("account_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel subscription")
	}
}
