package service

import (
	"context"
	"sync"
	"time"

	"vacstation/backend/services/billing-service/internal/gateway"
	"vacstation/backend/services/billing-service/internal/models"
	"vacstation/backend/services/billing-service/internal/repository"
)

type fakeIntents struct {
	mu       sync.Mutex
	intents  map[string]*models.PaymentIntent
	getErr   error
	afterGet func()
}

func newFakeIntents(intents ...models.PaymentIntent) *fakeIntents {
	f := &fakeIntents{intents: make(map[string]*models.PaymentIntent)}
	for i := range intents {
		in := intents[i]
		f.intents[in.Token] = &in
	}
	return f
}

func (f *fakeIntents) Create(_ context.Context, intent *models.PaymentIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *intent
	f.intents[intent.Token] = &cp
	return nil
}

func (f *fakeIntents) AttachGateway(_ context.Context, token, gatewayID, redirectURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[token]
	if !ok {
		return repository.ErrIntentNotFound
	}
	in.GatewayIntentID = gatewayID
	in.RedirectURL = redirectURL
	return nil
}

func (f *fakeIntents) Get(_ context.Context, token string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	if f.getErr != nil {
		f.mu.Unlock()
		return nil, f.getErr
	}
	in, ok := f.intents[token]
	if !ok {
		f.mu.Unlock()
		return nil, repository.ErrIntentNotFound
	}
	cp := *in
	hook := f.afterGet
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &cp, nil
}

func (f *fakeIntents) Claim(_ context.Context, token, paymentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[token]
	if !ok || in.Kind != models.IntentOneTime {
		return false, nil
	}
	switch {
	case in.Status == models.IntentPending:
	case in.Status == models.IntentCredited && in.ConsumedBy == paymentID:
	default:
		return false, nil
	}
	in.Status = models.IntentCredited
	in.ConsumedBy = paymentID
	return true, nil
}

func (f *fakeIntents) ListByAccount(_ context.Context, accountID string, _ int) ([]models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentIntent
	for _, in := range f.intents {
		if in.AccountID == accountID {
			out = append(out, *in)
		}
	}
	return out, nil
}

func (f *fakeIntents) Cancel(_ context.Context, token, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[token]
	if !ok || in.AccountID != accountID || in.Kind != models.IntentRecurring {
		return repository.ErrIntentNotFound
	}
	in.Status = models.IntentCancelled
	return nil
}

func (f *fakeIntents) status(token string) models.IntentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intents[token].Status
}

func (f *fakeIntents) consumedBy(token string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intents[token].ConsumedBy
}

// fakePayments mirrors the rank-guarded upsert of the SQL repository.
type fakePayments struct {
	mu        sync.Mutex
	payments  map[string]models.ProcessedPayment
	intents   *fakeIntents
	settleErr error
}

func newFakePayments(intents *fakeIntents) *fakePayments {
	return &fakePayments{payments: make(map[string]models.ProcessedPayment), intents: intents}
}

func (f *fakePayments) Get(_ context.Context, externalID string) (*models.ProcessedPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[externalID]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return &p, nil
}

func (f *fakePayments) Record(_ context.Context, p *models.ProcessedPayment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsert(p), nil
}

func (f *fakePayments) Settle(_ context.Context, p *models.ProcessedPayment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settleErr != nil {
		return false, f.settleErr
	}
	changed := f.upsert(p)
	f.intents.mu.Lock()
	if in, ok := f.intents.intents[p.IntentToken]; ok && in.Kind == models.IntentOneTime && in.Status == models.IntentPending {
		in.Status = models.IntentCredited
		in.ConsumedBy = p.ExternalID
	}
	f.intents.mu.Unlock()
	return changed, nil
}

func (f *fakePayments) upsert(p *models.ProcessedPayment) bool {
	if prev, ok := f.payments[p.ExternalID]; ok {
		if prev.Status != models.PaymentPending || p.Status == models.PaymentPending {
			return false
		}
	}
	cp := *p
	cp.ProcessedAt = time.Now().UTC()
	f.payments[p.ExternalID] = cp
	return true
}

func (f *fakePayments) ListByAccount(_ context.Context, accountID string, _ int) ([]models.ProcessedPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ProcessedPayment
	for _, p := range f.payments {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePayments) status(id string) models.PaymentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payments[id].Status
}

type fakeGateway struct {
	mu         sync.Mutex
	payments   map[string]gateway.Payment
	authorized map[string]gateway.Payment
	err        error
	created    []gateway.IntentRequest
	cancelled  []string
	createErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		payments:   make(map[string]gateway.Payment),
		authorized: make(map[string]gateway.Payment),
	}
}

func (g *fakeGateway) setPayment(p gateway.Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = p
}

func (g *fakeGateway) CreateIntent(_ context.Context, req gateway.IntentRequest) (gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return gateway.Intent{}, g.createErr
	}
	g.created = append(g.created, req)
	return gateway.Intent{ID: "gw-" + req.Token, RedirectURL: "https://pay.example/" + req.Token}, nil
}

func (g *fakeGateway) GetPayment(_ context.Context, paymentID string) (gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return gateway.Payment{}, g.err
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return gateway.Payment{}, gateway.ErrNotFound
	}
	return p, nil
}

func (g *fakeGateway) GetAuthorizedPayment(_ context.Context, id string) (gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return gateway.Payment{}, g.err
	}
	p, ok := g.authorized[id]
	if !ok {
		return gateway.Payment{}, gateway.ErrNotFound
	}
	return p, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, preapprovalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, preapprovalID)
	return nil
}
