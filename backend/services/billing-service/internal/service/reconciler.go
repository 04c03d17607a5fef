package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vacstation/backend/services/billing-service/internal/gateway"
	"vacstation/backend/services/billing-service/internal/metrics"
	"vacstation/backend/services/billing-service/internal/models"
	"vacstation/backend/services/billing-service/internal/repository"
	"vacstation/backend/services/billing-service/internal/webhook"
)

// Outcome classifies a processed notification.
type Outcome string

const (
	OutcomeCredited  Outcome = "credited"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomePending   Outcome = "pending"
	OutcomeRejected  Outcome = "rejected"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeIgnored   Outcome = "ignored"
)

// ErrTransient means nothing was acknowledged; the gateway must redeliver.
var ErrTransient = errors.New("reconciler: transient failure")

// Delivery is one webhook request as received.
type Delivery struct {
	Body      []byte
	Signature string
	RequestID string
}

// Ack is returned for every notification that may be acknowledged.
type Ack struct {
	Outcome   Outcome `json:"outcome"`
	PaymentID string  `json:"payment_id,omitempty"`
}

// Reconciler turns at-least-once gateway notifications into exactly one
// ledger credit per approved payment.
type Reconciler struct {
	intents  IntentStore
	payments PaymentStore
	gateway  Gateway
	wallet   Wallet
	verifier *webhook.Verifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewReconciler wires the reconciler. verifier and m may be nil.
func NewReconciler(intents IntentStore, payments PaymentStore, gw Gateway, wallet Wallet, verifier *webhook.Verifier, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		intents:  intents,
		payments: payments,
		gateway:  gw,
		wallet:   wallet,
		verifier: verifier,
		metrics:  m,
		logger:   logger,
	}
}

// HandleNotification processes one delivery. A nil error means the caller
// should answer 200; ErrTransient means it should not.
func (r *Reconciler) HandleNotification(ctx context.Context, d Delivery) (Ack, error) {
	start := time.Now()
	ack, err := r.handle(ctx, d)
	if r.metrics != nil {
		r.metrics.WebhookDuration.Observe(time.Since(start).Seconds())
		label := string(ack.Outcome)
		if err != nil {
			label = "transient_error"
		}
		r.metrics.WebhookOutcomes.WithLabelValues(label).Inc()
	}
	return ack, err
}

func (r *Reconciler) handle(ctx context.Context, d Delivery) (Ack, error) {
	n, err := webhook.Parse(d.Body)
	if err != nil {
		r.logger.Warn("rejecting webhook payload", zap.Error(err))
		return Ack{Outcome: OutcomeInvalid}, nil
	}
	if _, ok := n.(webhook.IgnoredNotification); ok {
		r.logger.Debug("ignoring webhook topic", zap.String("resource_id", n.ResourceID()))
		return Ack{Outcome: OutcomeIgnored}, nil
	}

	if err := r.verifier.Verify(d.Signature, d.RequestID, n.ResourceID()); err != nil {
		r.logger.Warn("webhook signature rejected",
			zap.String("resource_id", n.ResourceID()),
			zap.String("request_id", d.RequestID),
			zap.Error(err),
		)
		return Ack{Outcome: OutcomeInvalid}, nil
	}

	payment, err := r.fetch(ctx, n)
	if errors.Is(err, gateway.ErrNotFound) {
		r.logger.Warn("webhook names unknown payment", zap.String("resource_id", n.ResourceID()))
		return Ack{Outcome: OutcomeInvalid}, nil
	}
	if err != nil {
		return Ack{}, fmt.Errorf("%w: fetch payment %s: %v", ErrTransient, n.ResourceID(), err)
	}
	ack := Ack{PaymentID: payment.ID}
	log := r.logger.With(zap.String("payment_id", payment.ID), zap.String("status", payment.RawStatus))

	existing, err := r.payments.Get(ctx, payment.ID)
	switch {
	case errors.Is(err, repository.ErrPaymentNotFound):
	case err != nil:
		return Ack{}, fmt.Errorf("%w: load payment: %v", ErrTransient, err)
	case existing.Status.Terminal() || existing.Status.Rank() >= payment.Status.Rank():
		log.Info("duplicate payment notification", zap.String("recorded_status", string(existing.Status)))
		ack.Outcome = OutcomeDuplicate
		return ack, nil
	}

	intent, err := r.intents.Get(ctx, payment.CorrelationToken)
	if errors.Is(err, repository.ErrIntentNotFound) || (err == nil && !intent.Accepts(payment.ID)) {
		log.Warn("payment does not match an open intent", zap.String("token", payment.CorrelationToken))
		ack.Outcome = OutcomeUnmatched
		return ack, nil
	}
	if err != nil {
		return Ack{}, fmt.Errorf("%w: load intent: %v", ErrTransient, err)
	}

	record := &models.ProcessedPayment{
		ExternalID:  payment.ID,
		AccountID:   intent.AccountID,
		IntentToken: intent.Token,
		Amount:      payment.Amount,
		Status:      payment.Status,
		Method:      payment.Method,
	}

	switch payment.Status {
	case models.PaymentApproved:
		return r.credit(ctx, log, intent, record)
	case models.PaymentRejected:
		ack.Outcome = OutcomeRejected
	default:
		ack.Outcome = OutcomePending
	}

	if _, err := r.payments.Record(ctx, record); err != nil {
		return Ack{}, fmt.Errorf("%w: record payment: %v", ErrTransient, err)
	}
	log.Info("payment status recorded", zap.String("account_id", intent.AccountID))
	return ack, nil
}

// credit claims a one-time intent for the payment, applies the ledger credit
// keyed by the payment id and only then records the payment. A failure after
// the claim is healed by the redelivery because the claim and the credit are
// both idempotent for the same payment id.
func (r *Reconciler) credit(ctx context.Context, log *zap.Logger, intent *models.PaymentIntent, record *models.ProcessedPayment) (Ack, error) {
	ack := Ack{PaymentID: record.ExternalID}
	if record.Amount <= 0 {
		log.Warn("approved payment without amount")
		ack.Outcome = OutcomeInvalid
		return ack, nil
	}
	if record.Amount != intent.Amount {
		log.Warn("approved amount differs from intent",
			zap.Int64("intent_amount", intent.Amount),
			zap.Int64("paid_amount", record.Amount),
		)
	}

	if intent.Kind != models.IntentRecurring {
		claimed, err := r.intents.Claim(ctx, intent.Token, record.ExternalID)
		if err != nil {
			return Ack{}, fmt.Errorf("%w: claim intent: %v", ErrTransient, err)
		}
		if !claimed {
			log.Warn("intent already consumed by another payment", zap.String("token", intent.Token))
			ack.Outcome = OutcomeUnmatched
			return ack, nil
		}
	}

	if err := r.wallet.OpenAccount(ctx, intent.AccountID); err != nil {
		return Ack{}, fmt.Errorf("%w: open account: %v", ErrTransient, err)
	}
	result, err := r.wallet.Credit(ctx, intent.AccountID, record.Amount, record.ExternalID)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: credit: %v", ErrTransient, err)
	}
	if _, err := r.payments.Settle(ctx, record); err != nil {
		return Ack{}, fmt.Errorf("%w: settle payment: %v", ErrTransient, err)
	}

	if r.metrics != nil && result.Applied {
		r.metrics.CreditedAmount.Add(float64(record.Amount))
	}
	log.Info("payment credited",
		zap.String("account_id", intent.AccountID),
		zap.Int64("amount", record.Amount),
		zap.Int64("balance", result.Balance),
		zap.Bool("applied", result.Applied),
	)
	ack.Outcome = OutcomeCredited
	return ack, nil
}

func (r *Reconciler) fetch(ctx context.Context, n webhook.Notification) (gateway.Payment, error) {
	switch v := n.(type) {
	case webhook.PaymentNotification:
		return r.gateway.GetPayment(ctx, v.PaymentID)
	case webhook.AuthorizedPaymentNotification:
		return r.gateway.GetAuthorizedPayment(ctx, v.ID)
	}
	return gateway.Payment{}, fmt.Errorf("unsupported notification %T", n)
}
