package clients

import (
	"context"
	"net/http"
)

// BillingClient proxies requests to billing-service.
type BillingClient struct {
	base *BaseClient
}

// NewBillingClient returns client instance.
func NewBillingClient(baseURL string, httpClient HTTPDoer) *BillingClient {
	return &BillingClient{base: NewBaseClient(baseURL, httpClient)}
}

// Balance fetches the account balance.
func (c *BillingClient) Balance(ctx context.Context, accountID string) (*Response, error) {
	return c.base.Do(ctx, http.MethodGet, "/billing/me/balance", "", nil, accountHeaders(accountID))
}

// Payments fetches processed payments, forwarding paging parameters.
func (c *BillingClient) Payments(ctx context.Context, accountID, rawQuery string) (*Response, error) {
	return c.base.Do(ctx, http.MethodGet, "/billing/me/payments", rawQuery, nil, accountHeaders(accountID))
}

// CreateTopUp starts a checkout for the account.
func (c *BillingClient) CreateTopUp(ctx context.Context, accountID string, body []byte) (*Response, error) {
	return c.base.Do(ctx, http.MethodPost, "/billing/me/topups", "", body, accountHeaders(accountID))
}

// webhookHeaders are the gateway notification headers billing verifies.
var webhookHeaders = []string{"Content-Type", "X-Signature", "X-Request-Id"}

// Webhook relays a payment gateway notification unchanged.
func (c *BillingClient) Webhook(ctx context.Context, method, rawQuery string, body []byte, in http.Header) (*Response, error) {
	headers := http.Header{}
	for _, name := range webhookHeaders {
		if v := in.Get(name); v != "" {
			headers.Set(name, v)
		}
	}
	return c.base.Do(ctx, method, "/webhooks/mercadopago", rawQuery, body, headers)
}
