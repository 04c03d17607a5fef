package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"vacstation/backend/services/billing-service/internal/gateway"
	"vacstation/backend/services/billing-service/internal/service"
)

type topUpRequest struct {
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	Description string `json:"description"`
	PayerEmail  string `json:"payer_email"`
	PayerName   string `json:"payer_name"`
}

// NewTopUpHandler returns POST /billing/me/topups handler.
func NewTopUpHandler(checkout Checkout, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := accountID(w, r)
		if !ok {
			return
		}
		var req topUpRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		res, err := checkout.CreateTopUp(r.Context(), service.TopUpInput{
			AccountID:   id,
			Amount:      req.Amount,
			Method:      req.Method,
			Description: req.Description,
			Payer:       gateway.Payer{Email: req.PayerEmail, Name: req.PayerName},
		})
		switch {
		case err == nil:
			writeJSON(w, http.StatusCreated, res)
		case errors.Is(err, service.ErrInvalidTopUp):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrGatewayUnavailable):
			writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		default:
			logger.Error("failed to create top-up", zap.String("account_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create top-up")
		}
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
