package gateway

import (
	"strings"

	"github.com/shopspring/decimal"

	"vacstation/backend/services/billing-service/internal/models"
)

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a decimal currency amount to cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts cents to a decimal currency amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// NormalizeStatus maps Mercado Pago payment statuses onto the ranked set.
func NormalizeStatus(raw string) models.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return models.PaymentApproved
	case "rejected", "cancelled", "refunded", "charged_back":
		return models.PaymentRejected
	default:
		return models.PaymentPending
	}
}
