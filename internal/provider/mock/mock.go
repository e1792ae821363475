// Package mock fabricates provider responses for development and demos.
package mock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"mkopaji/internal/provider"
)

// Scenario is one of the canned outcomes a mock status check can report.
type Scenario struct {
	Status  string
	Message string
}

var scenarios = []Scenario{
	{Status: provider.StatusSuccess, Message: "Payment completed successfully (MOCK)"},
	{Status: provider.StatusPending, Message: "Payment pending (MOCK)"},
	{Status: provider.StatusSuccess, Message: "Payment confirmed (MOCK)"},
}

// Provider never talks to the network.
type Provider struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

func New() *Provider {
	return &Provider{
		rnd: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6d6f636b)),
		now: time.Now,
	}
}

// NewWithSource is New with a fixed random source and clock.
func NewWithSource(src rand.Source, now func() time.Time) *Provider {
	return &Provider{rnd: rand.New(src), now: now}
}

func (p *Provider) Name() string { return "Mock M-Pesa" }

func (p *Provider) Type() provider.ProviderType { return provider.ProviderMock }

func (p *Provider) IsConfigured() bool { return true }

func (p *Provider) STKPush(_ context.Context, req provider.STKPushReq) (*provider.STKPushResp, error) {
	if req.Amount <= 0 {
		return nil, &provider.ProviderError{Code: provider.ErrInvalidAmount, Message: "amount must be greater than zero"}
	}
	return &provider.STKPushResp{
		MerchantRequestID:   "mock-merchant-" + uuid.NewString(),
		CheckoutRequestID:   "mock_" + uuid.NewString(),
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing (MOCK)",
		CustomerMessage:     "Success. Request accepted for processing (MOCK)",
	}, nil
}

// QueryStatus picks one of the canned scenarios at random.
func (p *Provider) QueryStatus(_ context.Context, checkoutRequestID string) (*provider.StatusResp, error) {
	sc := p.Pick()
	return &provider.StatusResp{
		CheckoutRequestID:  checkoutRequestID,
		Status:             sc.Status,
		ResultDesc:         sc.Message,
		MpesaReceiptNumber: fmt.Sprintf("MOCK%d", p.now().UnixMilli()),
	}, nil
}

// Pick returns a uniformly random scenario.
func (p *Provider) Pick() Scenario {
	p.mu.Lock()
	defer p.mu.Unlock()
	return scenarios[p.rnd.IntN(len(scenarios))]
}
