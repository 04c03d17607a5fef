package clients

import (
	"context"
	"net/http"
)

// SessionsClient proxies calls to sessions-service.
type SessionsClient struct {
	base *BaseClient
}

// NewSessionsClient returns client.
func NewSessionsClient(baseURL string, httpClient HTTPDoer) *SessionsClient {
	return &SessionsClient{base: NewBaseClient(baseURL, httpClient)}
}

// Activate opens a paid device session.
func (c *SessionsClient) Activate(ctx context.Context, accountID string, body []byte) (*Response, error) {
	return c.base.Do(ctx, http.MethodPost, "/sessions/activate", "", body, accountHeaders(accountID))
}

// Deactivate stops the caller's running session.
func (c *SessionsClient) Deactivate(ctx context.Context, accountID string, body []byte) (*Response, error) {
	return c.base.Do(ctx, http.MethodPost, "/sessions/deactivate", "", body, accountHeaders(accountID))
}

// SessionsMe fetches activation history, or one session when the query
// names an id.
func (c *SessionsClient) SessionsMe(ctx context.Context, accountID, rawQuery string) (*Response, error) {
	return c.base.Do(ctx, http.MethodGet, "/sessions/me", rawQuery, nil, accountHeaders(accountID))
}
