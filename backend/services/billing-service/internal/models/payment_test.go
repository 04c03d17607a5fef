package models

import "testing"

func TestIntentAccepts(t *testing.T) {
	tests := []struct {
		name    string
		intent  PaymentIntent
		payment string
		want    bool
	}{
		{"pending one-time", PaymentIntent{Kind: IntentOneTime, Status: IntentPending}, "pay-1", true},
		{"consumed by same payment", PaymentIntent{Kind: IntentOneTime, Status: IntentCredited, ConsumedBy: "pay-1"}, "pay-1", true},
		{"consumed by other payment", PaymentIntent{Kind: IntentOneTime, Status: IntentCredited, ConsumedBy: "pay-1"}, "pay-2", false},
		{"consumed without holder", PaymentIntent{Kind: IntentOneTime, Status: IntentCredited}, "pay-1", false},
		{"recurring open", PaymentIntent{Kind: IntentRecurring, Status: IntentPending}, "pay-9", true},
		{"recurring cancelled", PaymentIntent{Kind: IntentRecurring, Status: IntentCancelled}, "pay-9", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.intent.Accepts(tt.payment); got != tt.want {
				t.Fatalf("Accepts(%q) = %v, want %v", tt.payment, got, tt.want)
			}
		})
	}
}
