package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"vacstation/backend/libs/ledger"
	"vacstation/backend/services/billing-service/internal/gateway"
	"vacstation/backend/services/billing-service/internal/models"
	"vacstation/backend/services/billing-service/internal/webhook"
)

type reconcilerFixture struct {
	intents  *fakeIntents
	payments *fakePayments
	gateway  *fakeGateway
	store    *ledger.MemoryStore
	ledger   *ledger.Ledger
	rec      *Reconciler
}

func newReconcilerFixture(t *testing.T, verifier *webhook.Verifier, intents ...models.PaymentIntent) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		intents: newFakeIntents(intents...),
		gateway: newFakeGateway(),
		store:   ledger.NewMemoryStore(),
	}
	f.payments = newFakePayments(f.intents)
	f.ledger = ledger.New(f.store, zap.NewNop())
	f.rec = NewReconciler(f.intents, f.payments, f.gateway, f.ledger, verifier, nil, zap.NewNop())
	return f
}

func paymentBody(id string) []byte {
	return []byte(fmt.Sprintf(`{"type":"payment","action":"payment.updated","data":{"id":"%s"}}`, id))
}

func oneTimeIntent(token, account string, amount int64) models.PaymentIntent {
	return models.PaymentIntent{
		Token:     token,
		AccountID: account,
		Amount:    amount,
		Kind:      models.IntentOneTime,
		Method:    "pix",
		Status:    models.IntentPending,
	}
}

func (f *reconcilerFixture) balance(t *testing.T, account string) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func TestApprovedPaymentCreditsOnceAcrossRedeliveries(t *testing.T) {
	f := newReconcilerFixture(t, nil, oneTimeIntent("tok-1", "acct-1", 2000))
	f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentApproved, RawStatus: "approved", Amount: 2000, CorrelationToken: "tok-1"})

	ack, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")})
	if err != nil || ack.Outcome != OutcomeCredited {
		t.Fatalf("expected credited, got %+v %v", ack, err)
	}
	for i := 0; i < 3; i++ {
		ack, err = f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")})
		if err != nil || ack.Outcome != OutcomeDuplicate {
			t.Fatalf("redelivery %d: expected duplicate, got %+v %v", i, ack, err)
		}
	}

	if got := f.balance(t, "acct-1"); got != 2000 {
		t.Fatalf("expected balance 2000, got %d", got)
	}
	if f.intents.status("tok-1") != models.IntentCredited {
		t.Fatalf("expected one-time intent to be consumed")
	}
}

func TestConcurrentDeliveriesCreditOnce(t *testing.T) {
	f := newReconcilerFixture(t, nil, oneTimeIntent("tok-1", "acct-1", 500))
	f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentApproved, Amount: 500, CorrelationToken: "tok-1"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")}); err != nil {
				t.Errorf("handle: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.balance(t, "acct-1"); got != 500 {
		t.Fatalf("expected a single credit of 500, got %d", got)
	}
}

func TestLatePendingDoesNotRevertApproved(t *testing.T) {
	f := newReconcilerFixture(t, nil, oneTimeIntent("tok-1", "acct-1", 1000))
	f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentApproved, Amount: 1000, CorrelationToken: "tok-1"})
	if _, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentPending, Amount: 1000, CorrelationToken: "tok-1"})
	ack, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")})
	if err != nil || ack.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %+v %v", ack, err)
	}
	if f.payments.status("pay-1") != models.PaymentApproved {
		t.Fatalf("status reverted to %s", f.payments.status("pay-1"))
	}
	if got := f.balance(t, "acct-1"); got != 1000 {
		t.Fatalf("expected balance 1000, got %d", got)
	}
}

func TestPendingThenApprovedCredits(t *testing.T) {
	f := newReconcilerFixture(t, nil, oneTimeIntent("tok-1", "acct-1", 300))
	f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentPending, Amount: 300, CorrelationToken: "tok-1"})

	ack, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")})
	if err != nil || ack.Outcome != OutcomePending {
		t.Fatalf("expected pending, got %+v %v", ack, err)
	}
	ack, _ = f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")})
	if ack.Outcome != OutcomeDuplicate {
		t.Fatalf("expected repeated pending to be duplicate, got %s", ack.Outcome)
	}

	f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentApproved, Amount: 300, CorrelationToken: "tok-1"})
	ack, err = f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")})
	if err != nil || ack.Outcome != OutcomeCredited {
		t.Fatalf("expected credited, got %+v %v", ack, err)
	}
	if got := f.balance(t, "acct-1"); got != 300 {
		t.Fatalf("expected balance 300, got %d", got)
	}
}

func TestRejectedPaymentIsRecordedWithoutCredit(t *testing.T) {
	f := newReconcilerFixture(t, nil, oneTimeIntent("tok-1", "acct-1", 300))
	f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentRejected, Amount: 300, CorrelationToken: "tok-1"})

	ack, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")})
	if err != nil || ack.Outcome != OutcomeRejected {
		t.Fatalf("expected rejected, got %+v %v", ack, err)
	}
	if f.payments.status("pay-1") != models.PaymentRejected {
		t.Fatalf("expected rejected record")
	}
	if _, err := f.ledger.Balance(context.Background(), "acct-1"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected no account activity, got %v", err)
	}
	if f.intents.status("tok-1") != models.IntentPending {
		t.Fatalf("rejected payment must leave intent open")
	}
}

func TestUnmatchedAndInvalidAreAcknowledged(t *testing.T) {
	f := newReconcilerFixture(t, nil, oneTimeIntent("tok-1", "acct-1", 300))
	f.gateway.setPayment(gateway.Payment{ID: "pay-x", Status: models.PaymentApproved, Amount: 300, CorrelationToken: "nope"})

	cases := []struct {
		name string
		body []byte
		want Outcome
	}{
		{"unknown token", paymentBody("pay-x"), OutcomeUnmatched},
		{"unknown payment", paymentBody("pay-missing"), OutcomeInvalid},
		{"malformed", []byte(`{"type":"payment"`), OutcomeInvalid},
		{"unknown type", []byte(`{"type":"chargeback","data":{"id":"1"}}`), OutcomeInvalid},
		{"ignored topic", []byte(`{"type":"merchant_order","data":{"id":"1"}}`), OutcomeIgnored},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack, err := f.rec.HandleNotification(context.Background(), Delivery{Body: tc.body})
			if err != nil {
				t.Fatalf("expected acknowledgement, got %v", err)
			}
			if ack.Outcome != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, ack.Outcome)
			}
		})
	}
}

func TestSecondPaymentOnConsumedIntentIsUnmatched(t *testing.T) {
	f := newReconcilerFixture(t, nil, oneTimeIntent("tok-1", "acct-1", 100))
	f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentApproved, Amount: 100, CorrelationToken: "tok-1"})
	f.gateway.setPayment(gateway.Payment{ID: "pay-2", Status: models.PaymentApproved, Amount: 100, CorrelationToken: "tok-1"})

	if ack, _ := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")}); ack.Outcome != OutcomeCredited {
		t.Fatalf("expected first payment credited, got %s", ack.Outcome)
	}
	if ack, _ := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-2")}); ack.Outcome != OutcomeUnmatched {
		t.Fatalf("expected second payment unmatched, got %s", ack.Outcome)
	}
	if got := f.balance(t, "acct-1"); got != 100 {
		t.Fatalf("expected balance 100, got %d", got)
	}
}

func TestConcurrentPaymentsOnOneTimeIntentCreditOnce(t *testing.T) {
	f := newReconcilerFixture(t, nil, oneTimeIntent("tok-1", "acct-1", 1000))
	f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentApproved, Amount: 1000, CorrelationToken: "tok-1"})
	f.gateway.setPayment(gateway.Payment{ID: "pay-2", Status: models.PaymentApproved, Amount: 1000, CorrelationToken: "tok-1"})

	// both deliveries see the intent pending before either one credits
	var loaded sync.WaitGroup
	loaded.Add(2)
	f.intents.afterGet = func() {
		loaded.Done()
		loaded.Wait()
	}

	outcomes := make([]Outcome, 2)
	var wg sync.WaitGroup
	for i, id := range []string{"pay-1", "pay-2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			ack, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody(id)})
			if err != nil {
				t.Errorf("%s: %v", id, err)
			}
			outcomes[i] = ack.Outcome
		}(i, id)
	}
	wg.Wait()

	credited, unmatched := 0, 0
	for _, o := range outcomes {
		switch o {
		case OutcomeCredited:
			credited++
		case OutcomeUnmatched:
			unmatched++
		}
	}
	if credited != 1 || unmatched != 1 {
		t.Fatalf("expected one credited and one unmatched, got %v", outcomes)
	}
	if got := f.balance(t, "acct-1"); got != 1000 {
		t.Fatalf("expected balance 1000, got %d", got)
	}
	winner := f.intents.consumedBy("tok-1")
	if winner != "pay-1" && winner != "pay-2" {
		t.Fatalf("expected intent consumed by a payment, got %q", winner)
	}
}

func TestRecurringIntentCreditsEveryCharge(t *testing.T) {
	sub := models.PaymentIntent{Token: "sub-1", AccountID: "acct-1", Amount: 5000, Kind: models.IntentRecurring, Method: "subscription", Status: models.IntentPending}
	f := newReconcilerFixture(t, nil, sub)
	f.gateway.authorized["auth-1"] = gateway.Payment{ID: "901", Status: models.PaymentApproved, Amount: 5000, CorrelationToken: "sub-1"}
	f.gateway.authorized["auth-2"] = gateway.Payment{ID: "902", Status: models.PaymentApproved, Amount: 5000, CorrelationToken: "sub-1"}
	f.gateway.setPayment(gateway.Payment{ID: "901", Status: models.PaymentApproved, Amount: 5000, CorrelationToken: "sub-1"})

	for _, id := range []string{"auth-1", "auth-2"} {
		body := []byte(fmt.Sprintf(`{"type":"subscription_authorized_payment","data":{"id":"%s"}}`, id))
		ack, err := f.rec.HandleNotification(context.Background(), Delivery{Body: body})
		if err != nil || ack.Outcome != OutcomeCredited {
			t.Fatalf("%s: expected credited, got %+v %v", id, ack, err)
		}
	}
	// the plain payment notification for the first charge must not credit again
	ack, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("901")})
	if err != nil || ack.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %+v %v", ack, err)
	}

	if got := f.balance(t, "acct-1"); got != 10000 {
		t.Fatalf("expected two charges credited, got %d", got)
	}
	if f.intents.status("sub-1") != models.IntentPending {
		t.Fatalf("recurring intent must stay open")
	}
}

func TestTransientFailuresAreNotAcknowledged(t *testing.T) {
	t.Run("gateway unavailable", func(t *testing.T) {
		f := newReconcilerFixture(t, nil, oneTimeIntent("tok-1", "acct-1", 100))
		f.gateway.err = gateway.ErrUnavailable

		_, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")})
		if !errors.Is(err, ErrTransient) {
			t.Fatalf("expected transient, got %v", err)
		}
	})

	t.Run("intent store down", func(t *testing.T) {
		f := newReconcilerFixture(t, nil, oneTimeIntent("tok-1", "acct-1", 100))
		f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentApproved, Amount: 100, CorrelationToken: "tok-1"})
		f.intents.getErr = errors.New("connection refused")

		_, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")})
		if !errors.Is(err, ErrTransient) {
			t.Fatalf("expected transient, got %v", err)
		}
	})

	t.Run("settle fails after credit", func(t *testing.T) {
		f := newReconcilerFixture(t, nil, oneTimeIntent("tok-1", "acct-1", 100))
		f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentApproved, Amount: 100, CorrelationToken: "tok-1"})
		f.payments.settleErr = errors.New("connection reset")

		if _, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")}); !errors.Is(err, ErrTransient) {
			t.Fatalf("expected transient, got %v", err)
		}

		if f.intents.consumedBy("tok-1") != "pay-1" {
			t.Fatalf("expected intent held by pay-1 after the failed settle")
		}

		f.payments.settleErr = nil
		ack, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1")})
		if err != nil || ack.Outcome != OutcomeCredited {
			t.Fatalf("expected redelivery to settle, got %+v %v", ack, err)
		}
		if got := f.balance(t, "acct-1"); got != 100 {
			t.Fatalf("expected a single credit after redelivery, got %d", got)
		}
	})
}

func TestSignatureIsEnforcedWhenConfigured(t *testing.T) {
	verifier := webhook.NewVerifier("s3cret", 0)
	f := newReconcilerFixture(t, verifier, oneTimeIntent("tok-1", "acct-1", 100))
	f.gateway.setPayment(gateway.Payment{ID: "pay-1", Status: models.PaymentApproved, Amount: 100, CorrelationToken: "tok-1"})

	ack, err := f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1"), Signature: "ts=1,v1=00", RequestID: "req-1"})
	if err != nil || ack.Outcome != OutcomeInvalid {
		t.Fatalf("expected invalid, got %+v %v", ack, err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := hex.EncodeToString(webhook.Sign([]byte("s3cret"), "pay-1", "req-1", ts))
	ack, err = f.rec.HandleNotification(context.Background(), Delivery{Body: paymentBody("pay-1"), Signature: "ts=" + ts + ",v1=" + sig, RequestID: "req-1"})
	if err != nil || ack.Outcome != OutcomeCredited {
		t.Fatalf("expected credited, got %+v %v", ack, err)
	}
}
