package service

import (
	"context"

	"vacstation/backend/libs/ledger"
	"vacstation/backend/services/billing-service/internal/gateway"
	"vacstation/backend/services/billing-service/internal/models"
)

// IntentStore persists correlation records.
type IntentStore interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	AttachGateway(ctx context.Context, token, gatewayID, redirectURL string) error
	Get(ctx context.Context, token string) (*models.PaymentIntent, error)
	Claim(ctx context.Context, token, paymentID string) (bool, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.PaymentIntent, error)
	Cancel(ctx context.Context, token, accountID string) error
}

// PaymentStore persists processed payment events.
type PaymentStore interface {
	Get(ctx context.Context, externalID string) (*models.ProcessedPayment, error)
	Record(ctx context.Context, p *models.ProcessedPayment) (bool, error)
	Settle(ctx context.Context, p *models.ProcessedPayment) (bool, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.ProcessedPayment, error)
}

// Gateway is the subset of the payment provider the service uses.
type Gateway interface {
	CreateIntent(ctx context.Context, req gateway.IntentRequest) (gateway.Intent, error)
	GetPayment(ctx context.Context, paymentID string) (gateway.Payment, error)
	GetAuthorizedPayment(ctx context.Context, id string) (gateway.Payment, error)
	CancelSubscription(ctx context.Context, preapprovalID string) error
}

// Wallet is the ledger surface billing needs.
type Wallet interface {
	OpenAccount(ctx context.Context, accountID string) error
	Credit(ctx context.Context, accountID string, amount int64, key string) (ledger.CreditResult, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	Entries(ctx context.Context, accountID string, limit int) ([]ledger.Entry, error)
}
