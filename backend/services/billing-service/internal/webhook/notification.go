package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPayload marks a body that is not one of the recognized shapes.
var ErrInvalidPayload = errors.New("webhook: invalid payload")

// Notification is one of PaymentNotification, AuthorizedPaymentNotification
// or IgnoredNotification.
type Notification interface {
	// ResourceID is the gateway id named by data.id.
	ResourceID() string
	notification()
}

// PaymentNotification announces a change on a one-off payment.
type PaymentNotification struct {
	PaymentID string
	Action    string
}

// AuthorizedPaymentNotification announces a subscription charge.
type AuthorizedPaymentNotification struct {
	ID     string
	Action string
}

// IgnoredNotification is a recognized topic that never moves money.
type IgnoredNotification struct {
	Type string
	ID   string
}

func (n PaymentNotification) ResourceID() string { return n.PaymentID }
func (n AuthorizedPaymentNotification) ResourceID() string { return n.ID }
func (n IgnoredNotification) ResourceID() string { return n.ID }

func (PaymentNotification) notification() {}
func (AuthorizedPaymentNotification) notification() {}
func (IgnoredNotification) notification() {}

type envelope struct {
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	Action string          `json:"action"`
	Data   *envelopeData   `json:"data"`
	ID     json.RawMessage `json:"id"`
}

type envelopeData struct {
	ID json.RawMessage `json:"id"`
}

var (
	resourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	ignoredTypes      = map[string]bool{
		"subscription_preapproval":      true,
		"subscription_preapproval_plan": true,
		"merchant_order":                true,
		"plan":                          true,
		"point_integration_wh":          true,
		"topic_merchant_order_wh":       true,
	}
)

// Parse classifies a webhook body. Unknown types, missing data.id and ids
// outside the gateway's alphabet are ErrInvalidPayload.
func Parse(raw []byte) (Notification, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	kind := strings.TrimSpace(env.Type)
	if kind == "" {
		kind = strings.TrimSpace(env.Topic)
	}
	if kind == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	id, err := rawID(env.Data.ID)
	if err != nil {
		return nil, err
	}

	switch {
	case kind == "payment":
		return PaymentNotification{PaymentID: id, Action: env.Action}, nil
	case kind == "subscription_authorized_payment":
		return AuthorizedPaymentNotification{ID: id, Action: env.Action}, nil
	case ignoredTypes[kind]:
		return IgnoredNotification{Type: kind, ID: id}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, kind)
}

// rawID accepts data.id as a JSON string or an integer.
func rawID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing data.id", ErrInvalidPayload)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("%w: data.id is neither string nor number", ErrInvalidPayload)
		}
		s = n.String()
	}
	s = strings.TrimSpace(s)
	if !resourceIDPattern.MatchString(s) {
		return "", fmt.Errorf("%w: malformed data.id", ErrInvalidPayload)
	}
	return s, nil
}
