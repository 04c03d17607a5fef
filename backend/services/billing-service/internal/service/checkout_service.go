package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vacstation/backend/libs/ledger"
	"vacstation/backend/services/billing-service/internal/gateway"
	"vacstation/backend/services/billing-service/internal/metrics"
	"vacstation/backend/services/billing-service/internal/models"
	"vacstation/backend/services/billing-service/internal/repository"
)

// Payment methods accepted for top-ups.
const (
	MethodPix          = "pix"
	MethodCard         = "card"
	MethodSubscription = "subscription"
)

var (
	// ErrInvalidTopUp covers amount, method and payer validation failures.
	ErrInvalidTopUp = errors.New("checkout: invalid top-up")
	// ErrGatewayUnavailable means the checkout could not be opened at the gateway.
	ErrGatewayUnavailable = errors.New("checkout: payment gateway unavailable")
)

// TopUpInput is a request to add credit to an account.
type TopUpInput struct {
	AccountID   string
	Amount      int64
	Method      string
	Description string
	Payer       gateway.Payer
}

// TopUpResult points the payer at the gateway checkout.
type TopUpResult struct {
	Token       string            `json:"token"`
	Kind        models.IntentKind `json:"kind"`
	IntentID    string            `json:"intent_id"`
	RedirectURL string            `json:"redirect_url"`
}

// CheckoutService opens payment intents and serves account reads.
type CheckoutService struct {
	intents   IntentStore
	payments  PaymentStore
	gateway   Gateway
	wallet    Wallet
	maxAmount int64
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewCheckoutService builds service. maxAmount <= 0 disables the upper bound.
func NewCheckoutService(intents IntentStore, payments PaymentStore, gw Gateway, wallet Wallet, maxAmount int64, m *metrics.Metrics, logger *zap.Logger) *CheckoutService {
	return &CheckoutService{
		intents:   intents,
		payments:  payments,
		gateway:   gw,
		wallet:    wallet,
		maxAmount: maxAmount,
		metrics:   m,
		logger:    logger,
	}
}

// CreateTopUp records a correlation token and opens the gateway checkout.
func (s *CheckoutService) CreateTopUp(ctx context.Context, in TopUpInput) (*TopUpResult, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	if err := s.wallet.OpenAccount(ctx, in.AccountID); err != nil {
		return nil, err
	}

	kind := models.IntentOneTime
	if in.Method == MethodSubscription {
		kind = models.IntentRecurring
	}
	intent := &models.PaymentIntent{
		Token:     uuid.NewString(),
		AccountID: in.AccountID,
		Amount:    in.Amount,
		Kind:      kind,
		Method:    in.Method,
		Status:    models.IntentPending,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		s.countTopUp(kind, "error")
		return nil, err
	}

	gwIntent, err := s.gateway.CreateIntent(ctx, gateway.IntentRequest{
		Token:       intent.Token,
		Amount:      in.Amount,
		Kind:        kind,
		Method:      in.Method,
		Description: in.Description,
		Payer:       in.Payer,
	})
	if err != nil {
		s.countTopUp(kind, "gateway_error")
		s.logger.Warn("gateway refused checkout",
			zap.String("account_id", in.AccountID),
			zap.String("token", intent.Token),
			zap.Error(err),
		)
		if errors.Is(err, gateway.ErrRejectedRequest) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTopUp, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if err := s.intents.AttachGateway(ctx, intent.Token, gwIntent.ID, gwIntent.RedirectURL); err != nil {
		s.countTopUp(kind, "error")
		return nil, err
	}

	s.countTopUp(kind, "created")
	s.logger.Info("top-up intent created",
		zap.String("account_id", in.AccountID),
		zap.String("token", intent.Token),
		zap.String("kind", string(kind)),
		zap.Int64("amount", in.Amount),
	)
	return &TopUpResult{
		Token:       intent.Token,
		Kind:        kind,
		IntentID:    gwIntent.ID,
		RedirectURL: gwIntent.RedirectURL,
	}, nil
}

func (s *CheckoutService) validate(in TopUpInput) error {
	if strings.TrimSpace(in.AccountID) == "" {
		return fmt.Errorf("%w: account required", ErrInvalidTopUp)
	}
	if in.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTopUp)
	}
	if s.maxAmount > 0 && in.Amount > s.maxAmount {
		return fmt.Errorf("%w: amount above limit", ErrInvalidTopUp)
	}
	switch in.Method {
	case MethodPix, MethodCard, MethodSubscription:
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidTopUp, in.Method)
	}
	if !strings.Contains(in.Payer.Email, "@") {
		return fmt.Errorf("%w: payer email required", ErrInvalidTopUp)
	}
	return nil
}

// CancelSubscription stops a recurring intent owned by accountID.
func (s *CheckoutService) CancelSubscription(ctx context.Context, accountID, token string) error {
	intent, err := s.intents.Get(ctx, token)
	if err != nil {
		return err
	}
	if intent.AccountID != accountID || intent.Kind != models.IntentRecurring {
		return repository.ErrIntentNotFound
	}
	if intent.GatewayIntentID != "" {
		if err := s.gateway.CancelSubscription(ctx, intent.GatewayIntentID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
	}
	if err := s.intents.Cancel(ctx, token, accountID); err != nil {
		return err
	}
	s.logger.Info("subscription cancelled", zap.String("account_id", accountID), zap.String("token", token))
	return nil
}

// Balance returns the account balance snapshot. Accounts that never topped
// up read as zero.
func (s *CheckoutService) Balance(ctx context.Context, accountID string) (int64, error) {
	balance, err := s.wallet.Balance(ctx, accountID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0, nil
	}
	return balance, err
}

// Payments lists processed payments.
func (s *CheckoutService) Payments(ctx context.Context, accountID string, limit int) ([]models.ProcessedPayment, error) {
	return s.payments.ListByAccount(ctx, accountID, limit)
}

// Intents lists top-up intents.
func (s *CheckoutService) Intents(ctx context.Context, accountID string, limit int) ([]models.PaymentIntent, error) {
	return s.intents.ListByAccount(ctx, accountID, limit)
}

// Transactions lists ledger entries.
func (s *CheckoutService) Transactions(ctx context.Context, accountID string, limit int) ([]ledger.Entry, error) {
	return s.wallet.Entries(ctx, accountID, limit)
}

func (s *CheckoutService) countTopUp(kind models.IntentKind, result string) {
	if s.metrics != nil {
		s.metrics.TopUps.WithLabelValues(string(kind), result).Inc()
	}
}
