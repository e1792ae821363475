package payment

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mkopaji/internal/domain/payment"
	"mkopaji/internal/pending"
	"mkopaji/internal/provider"
	"mkopaji/internal/provider/mock"
	"mkopaji/internal/store/repositories"
)

type fakeProvider struct {
	configured bool
	pushResp   *provider.STKPushResp
	pushErr    error
	statusResp *provider.StatusResp
	statusErr  error

	mu      sync.Mutex
	pushes  []provider.STKPushReq
	queries []string
}

func (f *fakeProvider) Name() string                { return "fake" }
func (f *fakeProvider) Type() provider.ProviderType { return provider.ProviderMpesa }
func (f *fakeProvider) IsConfigured() bool          { return f.configured }

func (f *fakeProvider) STKPush(_ context.Context, req provider.STKPushReq) (*provider.STKPushResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, req)
	return f.pushResp, f.pushErr
}

func (f *fakeProvider) QueryStatus(_ context.Context, id string) (*provider.StatusResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, id)
	return f.statusResp, f.statusErr
}

type fakeHistory struct {
	mu      sync.Mutex
	saved   map[string]*payment.Request
	updates []payment.Status
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{saved: map[string]*payment.Request{}}
}

func (h *fakeHistory) Save(_ context.Context, r *payment.Request) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved[r.CheckoutRequestID] = r
	return nil
}

func (h *fakeHistory) UpdateStatus(_ context.Context, id string, st payment.Status, receipt, desc string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.saved[id]
	if !ok {
		return repositories.ErrNotFound
	}
	h.updates = append(h.updates, st)
	return r.Transition(st, receipt, desc, time.Now())
}

func (h *fakeHistory) FindByCheckoutID(_ context.Context, id string) (*payment.Request, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.saved[id]; ok {
		return r, nil
	}
	return nil, repositories.ErrNotFound
}

func (h *fakeHistory) List(_ context.Context, limit, offset int) ([]*payment.Request, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := []*payment.Request{}
	for _, r := range h.saved {
		out = append(out, r)
	}
	return out, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	svc     *Service
	real    *fakeProvider
	history *fakeHistory
	tracker *pending.Tracker
	clock   *clock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	real := &fakeProvider{
		configured: true,
		pushResp: &provider.STKPushResp{
			MerchantRequestID:   "29115-34620561-1",
			CheckoutRequestID:   "ws_CO_1",
			ResponseCode:        "0",
			ResponseDescription: "Success. Request accepted for processing",
			CustomerMessage:     "Success. Request accepted for processing",
		},
	}
	tracker := pending.NewTracker(pending.NewMemoryStore(), 2*time.Minute).WithClock(c.now)
	history := newFakeHistory()
	mk := mock.NewWithSource(rand.NewPCG(1, 2), c.now)

	svc := NewService(real, mk, tracker, history, opts)
	svc.now = c.now
	return &fixture{svc: svc, real: real, history: history, tracker: tracker, clock: c}
}

func TestInitiateSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Shortcode: "174379", Environment: "sandbox", AutoFallback: true})

	res := f.svc.InitiateSTKPush(ctx, "0712345678", 100, "INV1", "Order")
	require.True(t, res.Success)
	assert.Equal(t, "ws_CO_1", res.CheckoutRequestID)
	assert.Equal(t, "29115-34620561-1", res.MerchantRequestID)
	assert.Equal(t, "0", res.ResponseCode)
	assert.Equal(t, "mpesa", res.Provider)

	require.Len(t, f.real.pushes, 1)
	assert.Equal(t, "254712345678", f.real.pushes[0].PhoneNumber)

	p, err := f.tracker.Active(ctx, "254712345678")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", p.CheckoutRequestID)

	stored, err := f.history.FindByCheckoutID(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, stored.Status)
	assert.NotContains(t, stored.MSISDNHash, "254712345678")
}

func TestInitiateUsesRealProviderInMockMode(t *testing.T) {
	f := newFixture(t, Options{MockMode: true})

	res := f.svc.InitiateSTKPush(context.Background(), "254712345678", 10, "INV1", "")
	assert.True(t, res.Success)
	assert.Equal(t, "mpesa", res.Provider)
	assert.Len(t, f.real.pushes, 1)
}

func TestInitiateFailureShape(t *testing.T) {
	f := newFixture(t, Options{})
	f.real.pushResp = nil
	f.real.pushErr = &provider.ProviderError{Code: provider.ErrAuthFailed, Message: "M-Pesa authentication failed"}

	res := f.svc.InitiateSTKPush(context.Background(), "254712345678", 10, "INV1", "")
	assert.False(t, res.Success)
	assert.Equal(t, "1", res.ResponseCode)
	assert.Equal(t, "STK Push failed", res.ResponseDescription)
	assert.Equal(t, "Payment request failed. Please try again.", res.CustomerMessage)
	assert.Equal(t, "M-Pesa authentication failed", res.Error)
	assert.Equal(t, provider.ErrAuthFailed, res.ErrorCode)
	assert.Equal(t, "mpesa", res.Provider)

	_, err := f.tracker.Active(context.Background(), "254712345678")
	assert.True(t, errors.Is(err, pending.ErrNotFound), "failed push is not tracked")
}

func TestInitiateRejectsBadPhone(t *testing.T) {
	f := newFixture(t, Options{})

	res := f.svc.InitiateSTKPush(context.Background(), "12345", 10, "INV1", "")
	assert.False(t, res.Success)
	assert.Equal(t, provider.ErrInvalidPhone, res.ErrorCode)
	assert.Empty(t, f.real.pushes)
}

func TestInitiateRetryAfterCancelledStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.True(t, f.svc.InitiateSTKPush(ctx, "254712345678", 10, "INV1", "").Success)

	f.real.statusResp = &provider.StatusResp{Status: provider.StatusCancelled, ResultCode: "1032"}
	require.Equal(t, provider.StatusCancelled, f.svc.CheckTransactionStatus(ctx, "ws_CO_1").Status)

	f.real.pushResp = &provider.STKPushResp{MerchantRequestID: "m_2", CheckoutRequestID: "ws_CO_2", ResponseCode: "0"}
	again := f.svc.InitiateSTKPush(ctx, "0712345678", 10, "INV1", "")
	require.True(t, again.Success)
	assert.Equal(t, "ws_CO_2", again.CheckoutRequestID)
	assert.Len(t, f.real.pushes, 2)
}

func TestInitiateSupersedesPendingRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.True(t, f.svc.InitiateSTKPush(ctx, "254712345678", 10, "INV1", "").Success)

	f.real.pushResp = &provider.STKPushResp{MerchantRequestID: "m_2", CheckoutRequestID: "ws_CO_2", ResponseCode: "0"}
	again := f.svc.InitiateSTKPush(ctx, "0712345678", 20, "INV2", "")
	require.True(t, again.Success)
	assert.Len(t, f.real.pushes, 2, "every push reaches the provider")

	p, err := f.tracker.Active(ctx, "254712345678")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_2", p.CheckoutRequestID)
	assert.EqualValues(t, 20, p.Amount)

	_, err = f.tracker.Lookup(ctx, "ws_CO_1")
	assert.True(t, errors.Is(err, pending.ErrNotFound))
	n, err := f.tracker.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCheckStatusSuccessResolvesPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.True(t, f.svc.InitiateSTKPush(ctx, "254712345678", 10, "INV1", "").Success)

	f.real.statusResp = &provider.StatusResp{
		CheckoutRequestID:  "ws_CO_1",
		Status:             provider.StatusSuccess,
		ResultCode:         "0",
		ResultDesc:         "The service request is processed successfully.",
		MpesaReceiptNumber: "NLJ7RT61SV",
		Data:               map[string]any{"ResultCode": "0"},
	}

	res := f.svc.CheckTransactionStatus(ctx, "ws_CO_1")
	require.True(t, res.Success)
	assert.Equal(t, provider.StatusSuccess, res.Status)
	assert.Equal(t, "NLJ7RT61SV", res.MpesaReceiptNumber)
	assert.Equal(t, "mpesa", res.Provider)
	assert.NotNil(t, res.Data)

	_, err := f.tracker.Lookup(ctx, "ws_CO_1")
	assert.True(t, errors.Is(err, pending.ErrNotFound))
	assert.Equal(t, []payment.Status{payment.StatusSuccess}, f.history.updates)
}

func TestCheckStatusDefaultsToPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.True(t, f.svc.InitiateSTKPush(ctx, "254712345678", 10, "INV1", "").Success)
	f.real.statusResp = &provider.StatusResp{CheckoutRequestID: "ws_CO_1"}

	res := f.svc.CheckTransactionStatus(ctx, "ws_CO_1")
	assert.True(t, res.Success)
	assert.Equal(t, provider.StatusPending, res.Status)

	_, err := f.tracker.Lookup(ctx, "ws_CO_1")
	assert.NoError(t, err, "pending entry stays until success")
	assert.Empty(t, f.history.updates)
}

func TestCheckStatusFailedKeepsPendingEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.True(t, f.svc.InitiateSTKPush(ctx, "254712345678", 10, "INV1", "").Success)
	f.real.statusResp = &provider.StatusResp{Status: provider.StatusCancelled, ResultCode: "1032"}

	res := f.svc.CheckTransactionStatus(ctx, "ws_CO_1")
	assert.Equal(t, provider.StatusCancelled, res.Status)

	_, err := f.tracker.Lookup(ctx, "ws_CO_1")
	assert.NoError(t, err)
	assert.Equal(t, []payment.Status{payment.StatusCancelled}, f.history.updates)
}

func TestCheckStatusRateLimited(t *testing.T) {
	f := newFixture(t, Options{})
	f.real.statusResp = &provider.StatusResp{Status: provider.StatusPending, RateLimited: true}

	res := f.svc.CheckTransactionStatus(context.Background(), "ws_CO_9")
	assert.True(t, res.Success)
	assert.True(t, res.RateLimited)
	assert.Equal(t, provider.StatusPending, res.Status)
	assert.Equal(t, "Rate limit reached. Payment may be completed.", res.Message)
	assert.Equal(t, "mpesa", res.Provider)
}

func TestCheckStatusProviderError(t *testing.T) {
	f := newFixture(t, Options{})
	f.real.statusErr = &provider.ProviderError{Code: provider.ErrProviderDown, Message: "M-Pesa unreachable"}

	res := f.svc.CheckTransactionStatus(context.Background(), "ws_CO_9")
	assert.False(t, res.Success)
	assert.Equal(t, provider.StatusUnknown, res.Status)
	assert.Equal(t, "M-Pesa unreachable", res.Error)
	assert.Equal(t, "mpesa", res.Provider)
}

func TestCheckStatusMockIDs(t *testing.T) {
	f := newFixture(t, Options{MockMode: true})

	for _, id := range []string{"mock_123", "ws_fallback_1"} {
		res := f.svc.CheckTransactionStatus(context.Background(), id)
		assert.True(t, res.Success, id)
		assert.True(t, res.IsMock, id)
		assert.Equal(t, "mock", res.Provider, id)
		assert.Contains(t, []string{provider.StatusSuccess, provider.StatusPending}, res.Status, id)
		assert.Regexp(t, `^MOCK\d+$`, res.MpesaReceiptNumber, id)
		assert.Contains(t, res.Message, "(MOCK)", id)
	}
	assert.Empty(t, f.real.queries)
}

func TestCheckStatusMockIDWithoutMockMode(t *testing.T) {
	f := newFixture(t, Options{})
	f.real.statusResp = &provider.StatusResp{Status: provider.StatusPending}

	res := f.svc.CheckTransactionStatus(context.Background(), "mock_123")
	assert.False(t, res.IsMock)
	assert.Equal(t, []string{"mock_123"}, f.real.queries)
}

func TestCheckStatusRealIDInMockMode(t *testing.T) {
	f := newFixture(t, Options{MockMode: true})
	f.real.statusResp = &provider.StatusResp{Status: provider.StatusPending}

	res := f.svc.CheckTransactionStatus(context.Background(), "ws_CO_1")
	assert.Equal(t, "mpesa", res.Provider)
	assert.Len(t, f.real.queries, 1)
}

func TestCheckStatusExpiresStaleEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.True(t, f.svc.InitiateSTKPush(ctx, "254712345678", 10, "INV1", "").Success)
	f.real.statusResp = &provider.StatusResp{Status: provider.StatusPending}

	f.clock.t = f.clock.t.Add(3 * time.Minute)
	f.svc.CheckTransactionStatus(ctx, "ws_CO_1")

	_, err := f.tracker.Lookup(ctx, "ws_CO_1")
	assert.True(t, errors.Is(err, pending.ErrNotFound))
}

func TestCallbackReceiptFillsStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.True(t, f.svc.InitiateSTKPush(ctx, "254712345678", 10, "INV1", "").Success)

	require.NoError(t, f.svc.HandleCallback(ctx, provider.CallbackResult{
		CheckoutRequestID:  "ws_CO_1",
		ResultCode:         0,
		Status:             provider.StatusSuccess,
		MpesaReceiptNumber: "NLJ7RT61SV",
	}))

	_, err := f.tracker.Lookup(ctx, "ws_CO_1")
	assert.True(t, errors.Is(err, pending.ErrNotFound), "terminal callback resolves the entry")

	stored, err := f.history.FindByCheckoutID(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, stored.Status)
	assert.Equal(t, "NLJ7RT61SV", stored.MpesaReceiptNumber)
}

func TestCallbackReceiptAfterSuccessfulStatusCheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.True(t, f.svc.InitiateSTKPush(ctx, "254712345678", 10, "INV1", "").Success)

	f.real.statusResp = &provider.StatusResp{
		CheckoutRequestID: "ws_CO_1",
		Status:            provider.StatusSuccess,
		ResultCode:        "0",
		ResultDesc:        "The service request is processed successfully.",
	}
	res := f.svc.CheckTransactionStatus(ctx, "ws_CO_1")
	require.Equal(t, provider.StatusSuccess, res.Status)
	assert.Empty(t, res.MpesaReceiptNumber)

	require.NoError(t, f.svc.HandleCallback(ctx, provider.CallbackResult{
		CheckoutRequestID:  "ws_CO_1",
		ResultCode:         0,
		Status:             provider.StatusSuccess,
		MpesaReceiptNumber: "NLJ7RT61SV",
	}))

	list, err := f.svc.History(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, payment.StatusSuccess, list[0].Status)
	assert.Equal(t, "NLJ7RT61SV", list[0].MpesaReceiptNumber)
}

func TestCallbackPendingRecordsReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.True(t, f.svc.InitiateSTKPush(ctx, "254712345678", 10, "INV1", "").Success)

	require.NoError(t, f.svc.HandleCallback(ctx, provider.CallbackResult{
		CheckoutRequestID:  "ws_CO_1",
		Status:             provider.StatusPending,
		MpesaReceiptNumber: "NLJ7RT61SV",
	}))

	f.real.statusResp = &provider.StatusResp{Status: provider.StatusPending}
	res := f.svc.CheckTransactionStatus(ctx, "ws_CO_1")
	assert.Equal(t, "NLJ7RT61SV", res.MpesaReceiptNumber)
}

func TestCallbackForUnknownRequest(t *testing.T) {
	f := newFixture(t, Options{})
	assert.NoError(t, f.svc.HandleCallback(context.Background(), provider.CallbackResult{
		CheckoutRequestID: "ws_unknown",
		ResultCode:        1032,
		Status:            provider.StatusCancelled,
	}))
}

func TestStatusAndFlags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{AutoFallback: true})
	require.True(t, f.svc.InitiateSTKPush(ctx, "254712345678", 10, "INV1", "").Success)

	st := f.svc.Status(ctx)
	assert.Equal(t, ServiceStatus{
		Provider:        "mpesa",
		MpesaConfigured: true,
		MockMode:        false,
		AutoFallback:    true,
		IsConfigured:    true,
		PendingRequests: 1,
	}, st)

	f.svc.SetMockMode(true)
	f.svc.SetAutoFallback(false)
	st = f.svc.Status(ctx)
	assert.Equal(t, "mock", st.Provider)
	assert.True(t, st.MockMode)
	assert.False(t, st.AutoFallback)
}

func TestIsConfigured(t *testing.T) {
	f := newFixture(t, Options{})
	f.real.configured = false
	assert.False(t, f.svc.IsConfigured())

	f.svc.SetMockMode(true)
	assert.True(t, f.svc.IsConfigured())
	assert.True(t, f.svc.Status(context.Background()).IsConfigured)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.True(t, f.svc.InitiateSTKPush(ctx, "254712345678", 10, "INV1", "").Success)

	list, err := f.svc.History(ctx, 0, -1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	noDB := NewService(f.real, mock.New(), f.tracker, nil, Options{})
	assert.False(t, noDB.HistoryEnabled())
	_, err = noDB.History(ctx, 10, 0)
	assert.True(t, errors.Is(err, ErrHistoryDisabled))
}

func TestNewServiceFromRegistry(t *testing.T) {
	tracker := pending.NewTracker(pending.NewMemoryStore(), time.Minute)
	reg := provider.NewRegistry()
	reg.RegisterProvider(&fakeProvider{configured: true})

	_, err := NewServiceFromRegistry(reg, tracker, nil, Options{})
	var se ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "init", se.Op)

	reg.RegisterProvider(mock.New())
	svc, err := NewServiceFromRegistry(reg, tracker, nil, Options{})
	require.NoError(t, err)
	assert.True(t, svc.MpesaConfigured())
}

func TestFlagsAreSafeForConcurrentUse(t *testing.T) {
	f := newFixture(t, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(on bool) {
			defer wg.Done()
			f.svc.SetMockMode(on)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_ = f.svc.Status(context.Background())
		}()
	}
	wg.Wait()
}
