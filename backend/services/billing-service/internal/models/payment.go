package models

import "time"

// IntentKind separates one-off top-ups from recurring subscriptions.
type IntentKind string

const (
	IntentOneTime   IntentKind = "one_time"
	IntentRecurring IntentKind = "recurring"
)

// IntentStatus tracks whether a correlation token can still be matched.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentCredited  IntentStatus = "credited"
	IntentCancelled IntentStatus = "cancelled"
)

// PaymentIntent is the correlation record minted before the payer is sent to
// the gateway. Token travels as the gateway's external reference.
type PaymentIntent struct {
	Token           string       `json:"token"`
	AccountID       string       `json:"account_id"`
	Amount          int64        `json:"amount"`
	Kind            IntentKind   `json:"kind"`
	Method          string       `json:"method"`
	Status          IntentStatus `json:"status"`
	GatewayIntentID string       `json:"gateway_intent_id,omitempty"`
	RedirectURL     string       `json:"redirect_url,omitempty"`
	ConsumedBy      string       `json:"consumed_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Matchable reports whether a payment may still be credited against the intent.
func (i PaymentIntent) Matchable() bool {
	switch i.Kind {
	case IntentRecurring:
		return i.Status != IntentCancelled
	default:
		return i.Status == IntentPending
	}
}

// Accepts reports whether paymentID may be credited against the intent. A
// consumed one-time intent still accepts the payment that consumed it.
func (i PaymentIntent) Accepts(paymentID string) bool {
	if i.Kind != IntentRecurring && i.Status == IntentCredited {
		return i.ConsumedBy != "" && i.ConsumedBy == paymentID
	}
	return i.Matchable()
}

// PaymentStatus is the normalized gateway status.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

// Rank orders statuses so a later, lower-ranked delivery never overwrites a
// terminal one.
func (s PaymentStatus) Rank() int {
	switch s {
	case PaymentApproved, PaymentRejected:
		return 2
	case PaymentPending:
		return 1
	}
	return 0
}

// Terminal reports whether the status can no longer change.
func (s PaymentStatus) Terminal() bool {
	return s.Rank() == 2
}

// ProcessedPayment is the durable record of a gateway payment id.
type ProcessedPayment struct {
	ExternalID  string        `json:"external_id"`
	AccountID   string        `json:"account_id"`
	IntentToken string        `json:"intent_token"`
	Amount      int64         `json:"amount"`
	Status      PaymentStatus `json:"status"`
	Method      string        `json:"method"`
	ProcessedAt time.Time     `json:"processed_at"`
}
