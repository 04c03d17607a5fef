package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vacstation/backend/libs/retry"
	"vacstation/backend/services/billing-service/internal/models"
)

var (
	// ErrNotFound means the gateway does not know the requested id.
	ErrNotFound = errors.New("gateway: not found")
	// ErrUnavailable is a transient gateway failure (network, 5xx, 429, open breaker).
	ErrUnavailable = errors.New("gateway: unavailable")
	// ErrRejectedRequest is a non-retryable 4xx answer.
	ErrRejectedRequest = errors.New("gateway: request rejected")
)

// Payer identifies the person paying.
type Payer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// IntentRequest describes a checkout to open at the gateway.
type IntentRequest struct {
	Token       string
	Amount      int64
	Kind        models.IntentKind
	Method      string
	Description string
	Payer       Payer
}

// Intent is the gateway side of a checkout.
type Intent struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirect_url"`
}

// Payment is the authoritative view of a gateway payment.
type Payment struct {
	ID               string
	Status           models.PaymentStatus
	RawStatus        string
	Amount           int64
	CorrelationToken string
	Method           string
}

// Config configures the Mercado Pago client.
type Config struct {
	BaseURL         string
	AccessToken     string
	NotificationURL string
	SuccessURL      string
	FailureURL      string
	Currency        string
	Timeout         time.Duration
	Retry           retry.Config
}

// MercadoPago talks to the Mercado Pago REST API.
type MercadoPago struct {
	cfg      Config
	client   *http.Client
	policies []failsafe.Policy[response]
	logger   *zap.Logger
}

type response struct {
	status int
	body   []byte
}

// NewMercadoPago builds a client. Requests are retried on network errors,
// 5xx and 429 and pass through a circuit breaker.
func NewMercadoPago(cfg Config, logger *zap.Logger) *MercadoPago {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mercadopago.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Currency == "" {
		cfg.Currency = "BRL"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.Config{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
	}

	retryable := func(r response, err error) bool {
		return err != nil || r.status >= 500 || r.status == http.StatusTooManyRequests
	}
	return &MercadoPago{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		policies: []failsafe.Policy[response]{
			retry.NewPolicy(cfg.Retry, retryable),
			retry.NewBreaker(5, 10, 15*time.Second, retryable),
		},
		logger: logger,
	}
}

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	Payer             Payer             `json:"payer"`
	ExternalReference string            `json:"external_reference"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	BackURLs          map[string]string `json:"back_urls,omitempty"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	PaymentMethods    *paymentMethods   `json:"payment_methods,omitempty"`
}

type paymentMethods struct {
	ExcludedPaymentTypes []map[string]string `json:"excluded_payment_types,omitempty"`
	Installments         int                 `json:"installments,omitempty"`
}

type autoRecurring struct {
	Frequency         int     `json:"frequency"`
	FrequencyType     string  `json:"frequency_type"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
}

type preapprovalRequest struct {
	Reason            string        `json:"reason"`
	ExternalReference string        `json:"external_reference"`
	PayerEmail        string        `json:"payer_email"`
	AutoRecurring     autoRecurring `json:"auto_recurring"`
	BackURL           string        `json:"back_url,omitempty"`
	Status            string        `json:"status"`
}

type checkoutResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// CreateIntent opens a hosted checkout (one-time) or a monthly preapproval
// (recurring) carrying Token as the external reference.
func (c *MercadoPago) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	amount := FromMinorUnits(req.Amount).InexactFloat64()
	description := req.Description
	if description == "" {
		description = "Vacuum station credit"
	}

	var (
		path string
		body any
	)
	switch req.Kind {
	case models.IntentRecurring:
		path = "/preapproval"
		body = preapprovalRequest{
			Reason:            description,
			ExternalReference: req.Token,
			PayerEmail:        req.Payer.Email,
			AutoRecurring: autoRecurring{
				Frequency:         1,
				FrequencyType:     "months",
				TransactionAmount: amount,
				CurrencyID:        c.cfg.Currency,
			},
			BackURL: c.cfg.SuccessURL,
			Status:  "pending",
		}
	default:
		path = "/checkout/preferences"
		pref := preferenceRequest{
			Items: []preferenceItem{{
				Title:      description,
				Quantity:   1,
				UnitPrice:  amount,
				CurrencyID: c.cfg.Currency,
			}},
			Payer:             req.Payer,
			ExternalReference: req.Token,
			NotificationURL:   c.cfg.NotificationURL,
			PaymentMethods:    methodFilter(req.Method),
		}
		if c.cfg.SuccessURL != "" {
			pref.BackURLs = map[string]string{"success": c.cfg.SuccessURL, "failure": c.cfg.FailureURL, "pending": c.cfg.SuccessURL}
			pref.AutoReturn = "approved"
		}
		body = pref
	}

	var out checkoutResponse
	if err := c.call(ctx, http.MethodPost, path, body, req.Token, &out); err != nil {
		return Intent{}, err
	}
	if out.ID == "" || out.InitPoint == "" {
		return Intent{}, fmt.Errorf("%w: checkout response without id or init_point", ErrRejectedRequest)
	}
	return Intent{ID: out.ID, RedirectURL: out.InitPoint}, nil
}

func methodFilter(method string) *paymentMethods {
	switch method {
	case "pix":
		return &paymentMethods{
			ExcludedPaymentTypes: []map[string]string{{"id": "credit_card"}, {"id": "debit_card"}, {"id": "ticket"}},
		}
	case "card":
		return &paymentMethods{
			ExcludedPaymentTypes: []map[string]string{{"id": "bank_transfer"}, {"id": "ticket"}},
			Installments:         1,
		}
	}
	return nil
}

type paymentResponse struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	ExternalReference string          `json:"external_reference"`
	PaymentMethodID   string          `json:"payment_method_id"`
}

// GetPayment fetches /v1/payments/{id}.
func (c *MercadoPago) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var out paymentResponse
	if err := c.call(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, "", &out); err != nil {
		return Payment{}, err
	}
	return Payment{
		ID:               out.ID.String(),
		Status:           NormalizeStatus(out.Status),
		RawStatus:        out.Status,
		Amount:           ToMinorUnits(out.TransactionAmount),
		CorrelationToken: out.ExternalReference,
		Method:           out.PaymentMethodID,
	}, nil
}

type authorizedPaymentResponse struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	ExternalReference string          `json:"external_reference"`
	Payment           *struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
	} `json:"payment"`
}

// GetAuthorizedPayment fetches a subscription charge. The underlying payment
// id is used as the payment id so a parallel "payment" notification for the
// same charge resolves to the same idempotency key.
func (c *MercadoPago) GetAuthorizedPayment(ctx context.Context, id string) (Payment, error) {
	var out authorizedPaymentResponse
	if err := c.call(ctx, http.MethodGet, "/authorized_payments/"+url.PathEscape(id), nil, "", &out); err != nil {
		return Payment{}, err
	}
	p := Payment{
		ID:               "authorized:" + out.ID.String(),
		Status:           models.PaymentPending,
		RawStatus:        out.Status,
		Amount:           ToMinorUnits(out.TransactionAmount),
		CorrelationToken: out.ExternalReference,
		Method:           "subscription",
	}
	if out.Payment != nil && out.Payment.ID.String() != "" {
		p.ID = out.Payment.ID.String()
		p.RawStatus = out.Payment.Status
		p.Status = NormalizeStatus(out.Payment.Status)
	}
	return p, nil
}

// CancelSubscription stops a preapproval at the gateway.
func (c *MercadoPago) CancelSubscription(ctx context.Context, preapprovalID string) error {
	return c.call(ctx, http.MethodPut, "/preapproval/"+url.PathEscape(preapprovalID), map[string]string{"status": "cancelled"}, "", nil)
}

func (c *MercadoPago) call(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = data
	}

	resp, err := retry.Do[response](ctx, func(ctx context.Context) (response, error) {
		return c.do(ctx, method, path, payload, idempotencyKey)
	}, c.policies...)
	if err != nil {
		c.logger.Warn("mercadopago request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.status == http.StatusNotFound:
		return ErrNotFound
	case resp.status >= 500 || resp.status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.status)
	case resp.status >= 300:
		c.logger.Warn("mercadopago rejected request",
			zap.String("path", path),
			zap.Int("status", resp.status),
			zap.ByteString("body", truncate(resp.body, 512)),
		)
		return fmt.Errorf("%w: status %d", ErrRejectedRequest, resp.status)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("gateway: decode %s: %w", path, err)
	}
	return nil
}

func (c *MercadoPago) do(ctx context.Context, method, path string, payload []byte, idempotencyKey string) (response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return response{status: resp.StatusCode}, err
	}
	return response{status: resp.StatusCode, body: data}, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
