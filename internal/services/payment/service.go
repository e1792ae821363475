package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mkopaji/internal/domain/payment"
	"mkopaji/internal/logging"
	"mkopaji/internal/monitoring"
	"mkopaji/internal/pending"
	"mkopaji/internal/provider"
	"mkopaji/internal/provider/base"
	"mkopaji/internal/store/repositories"
)

const (
	failedResponseCode        = "1"
	failedResponseDescription = "STK Push failed"
	failedCustomerMessage     = "Payment request failed. Please try again."
	rateLimitedMessage        = "Rate limit reached. Payment may be completed."
)

// InitiateResult is returned for every STK push attempt, successful or not.
type InitiateResult struct {
	Success             bool   `json:"success"`
	MerchantRequestID   string `json:"merchantRequestId,omitempty"`
	CheckoutRequestID   string `json:"checkoutRequestId,omitempty"`
	ResponseCode        string `json:"responseCode"`
	ResponseDescription string `json:"responseDescription"`
	CustomerMessage     string `json:"customerMessage"`
	Error               string `json:"error,omitempty"`
	ErrorCode           string `json:"errorCode,omitempty"`
	Provider            string `json:"provider"`
}

// StatusResult is returned for every status check.
type StatusResult struct {
	Success            bool           `json:"success"`
	CheckoutRequestID  string         `json:"checkoutRequestId"`
	Status             string         `json:"status"`
	Message            string         `json:"message,omitempty"`
	ResultCode         string         `json:"resultCode,omitempty"`
	ResultDesc         string         `json:"resultDesc,omitempty"`
	MpesaReceiptNumber string         `json:"mpesaReceiptNumber,omitempty"`
	RateLimited        bool           `json:"rateLimited,omitempty"`
	IsMock             bool           `json:"isMock,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
	Error              string         `json:"error,omitempty"`
	Provider           string         `json:"provider"`
}

// ServiceStatus describes the facade's current mode.
type ServiceStatus struct {
	Provider        string `json:"provider"`
	MpesaConfigured bool   `json:"mpesaConfigured"`
	MockMode        bool   `json:"mockMode"`
	AutoFallback    bool   `json:"autoFallback"`
	IsConfigured    bool   `json:"isConfigured"`
	PendingRequests int    `json:"pendingRequests"`
}

// Options carries the facade's startup settings.
type Options struct {
	Shortcode    string
	Environment  string
	MockMode     bool
	AutoFallback bool
}

// Service is the single entry point for payment operations. It hides whether
// answers come from M-Pesa or the mock provider.
type Service struct {
	real    provider.Provider
	mock    provider.Provider
	tracker *pending.Tracker
	history repositories.PaymentRequestRepository // nil without a database
	opts    Options
	now     func() time.Time

	mu           sync.RWMutex
	mockMode     bool
	autoFallback bool
}

// NewService creates a new payment service. history may be nil.
func NewService(real, mock provider.Provider, tracker *pending.Tracker, history repositories.PaymentRequestRepository, opts Options) *Service {
	s := &Service{
		real:         real,
		mock:         mock,
		tracker:      tracker,
		history:      history,
		opts:         opts,
		now:          time.Now,
		mockMode:     opts.MockMode,
		autoFallback: opts.AutoFallback,
	}
	log.Info().
		Str("provider", s.providerName()).
		Bool("mpesa_configured", real.IsConfigured()).
		Bool("mock_mode", opts.MockMode).
		Bool("auto_fallback", opts.AutoFallback).
		Msg("payment service initialized")
	return s
}

// NewServiceFromRegistry builds the service from the registered mpesa and mock
// providers.
func NewServiceFromRegistry(reg *provider.Registry, tracker *pending.Tracker, history repositories.PaymentRequestRepository, opts Options) (*Service, error) {
	real, err := reg.GetProvider(provider.ProviderMpesa)
	if err != nil {
		return nil, ServiceError{Op: "init", Message: "real provider missing", Err: err}
	}
	mock, err := reg.GetProvider(provider.ProviderMock)
	if err != nil {
		return nil, ServiceError{Op: "init", Message: "mock provider missing", Err: err}
	}
	return NewService(real, mock, tracker, history, opts), nil
}

// InitiateSTKPush prompts the customer's phone. The real provider is always
// used; mock mode only affects status checks.
func (s *Service) InitiateSTKPush(ctx context.Context, phone string, amount int64, accountReference, description string) InitiateResult {
	log.Info().
		Str("phone", logging.MaskPhone(phone)).
		Str("amount", base.FormatAmount(amount)).
		Str("shortcode", s.opts.Shortcode).
		Str("environment", s.opts.Environment).
		Msg("initiating STK push")

	normalized, err := base.NormalizePhone(phone)
	if err != nil {
		return s.initiateFailed(err)
	}

	// an earlier request for the phone is replaced once the new push is accepted
	if prev, err := s.tracker.Active(ctx, normalized); err == nil {
		log.Info().
			Str("phone", logging.MaskPhone(normalized)).
			Str("checkout_request_id", prev.CheckoutRequestID).
			Msg("superseding pending request")
	} else if !errors.Is(err, pending.ErrNotFound) {
		log.Warn().Err(err).Msg("pending lookup failed")
	}

	resp, err := s.real.STKPush(ctx, provider.STKPushReq{
		Amount:           amount,
		PhoneNumber:      normalized,
		AccountReference: accountReference,
		Description:      description,
	})
	if err != nil {
		return s.initiateFailed(err)
	}

	name := string(s.real.Type())
	monitoring.RecordSTKPush(name, "accepted")
	log.Info().
		Str("checkout_request_id", resp.CheckoutRequestID).
		Str("merchant_request_id", resp.MerchantRequestID).
		Msg("STK push accepted")

	if err := s.tracker.Track(ctx, pending.Request{
		Phone:             normalized,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		Amount:            amount,
		AccountReference:  accountReference,
		Provider:          name,
		CreatedAt:         s.now(),
	}); err != nil {
		log.Error().Err(err).Str("checkout_request_id", resp.CheckoutRequestID).Msg("track pending request failed")
	}
	s.reportPending(ctx)
	s.saveHistory(ctx, resp, normalized, amount, accountReference, description, name)

	return InitiateResult{
		Success:             true,
		MerchantRequestID:   resp.MerchantRequestID,
		CheckoutRequestID:   resp.CheckoutRequestID,
		ResponseCode:        resp.ResponseCode,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
		Provider:            name,
	}
}

func (s *Service) initiateFailed(err error) InitiateResult {
	code := provider.ErrorCode(err)
	monitoring.RecordSTKPush(string(provider.ProviderMpesa), "failed")
	log.Error().Err(err).Str("code", code).Msg("STK push failed")
	return InitiateResult{
		Success:             false,
		ResponseCode:        failedResponseCode,
		ResponseDescription: failedResponseDescription,
		CustomerMessage:     failedCustomerMessage,
		Error:               err.Error(),
		ErrorCode:           code,
		Provider:            string(provider.ProviderMpesa),
	}
}

// CheckTransactionStatus reports the outcome of a previously initiated push.
func (s *Service) CheckTransactionStatus(ctx context.Context, checkoutRequestID string) StatusResult {
	if expired, err := s.tracker.ExpireIfStale(ctx, checkoutRequestID); err != nil {
		log.Warn().Err(err).Str("checkout_request_id", checkoutRequestID).Msg("pending expiry check failed")
	} else if expired {
		monitoring.RecordExpired(1)
		s.reportPending(ctx)
	}

	if s.MockMode() && isMockID(checkoutRequestID) {
		return s.mockStatus(ctx, checkoutRequestID)
	}

	name := string(s.real.Type())
	resp, err := s.real.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		monitoring.RecordStatusCheck(name, provider.StatusUnknown)
		log.Error().Err(err).Str("checkout_request_id", checkoutRequestID).Msg("status check failed")
		return StatusResult{
			Success:           false,
			CheckoutRequestID: checkoutRequestID,
			Status:            provider.StatusUnknown,
			Error:             err.Error(),
			Provider:          name,
		}
	}

	if resp.RateLimited {
		monitoring.RecordStatusCheck(name, "rate_limited")
		log.Warn().Str("checkout_request_id", checkoutRequestID).Msg("status check rate limited")
		return StatusResult{
			Success:           true,
			CheckoutRequestID: checkoutRequestID,
			Status:            provider.StatusPending,
			Message:           rateLimitedMessage,
			RateLimited:       true,
			Provider:          name,
		}
	}

	status := resp.Status
	if status == "" {
		status = provider.StatusPending
	}
	receipt := resp.MpesaReceiptNumber
	if receipt == "" {
		if p, err := s.tracker.Lookup(ctx, checkoutRequestID); err == nil {
			receipt = p.MpesaReceiptNumber
		}
	}

	if status == provider.StatusSuccess {
		if _, err := s.tracker.Resolve(ctx, checkoutRequestID); err != nil {
			log.Warn().Err(err).Str("checkout_request_id", checkoutRequestID).Msg("resolve pending request failed")
		}
		s.reportPending(ctx)
	}
	if provider.IsTerminal(status) {
		s.updateHistory(ctx, checkoutRequestID, status, receipt, resp.ResultDesc)
	}

	monitoring.RecordStatusCheck(name, status)
	return StatusResult{
		Success:            true,
		CheckoutRequestID:  checkoutRequestID,
		Status:             status,
		Message:            resp.ResultDesc,
		ResultCode:         resp.ResultCode,
		ResultDesc:         resp.ResultDesc,
		MpesaReceiptNumber: receipt,
		Data:               resp.Data,
		Provider:           name,
	}
}

func (s *Service) mockStatus(ctx context.Context, checkoutRequestID string) StatusResult {
	name := string(s.mock.Type())
	resp, err := s.mock.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		monitoring.RecordStatusCheck(name, provider.StatusUnknown)
		return StatusResult{
			Success:           false,
			CheckoutRequestID: checkoutRequestID,
			Status:            provider.StatusUnknown,
			Error:             err.Error(),
			Provider:          name,
			IsMock:            true,
		}
	}
	monitoring.RecordStatusCheck(name, resp.Status)
	log.Info().
		Str("checkout_request_id", checkoutRequestID).
		Str("status", resp.Status).
		Msg("mock status check")
	return StatusResult{
		Success:            true,
		CheckoutRequestID:  checkoutRequestID,
		Status:             resp.Status,
		Message:            resp.ResultDesc,
		MpesaReceiptNumber: resp.MpesaReceiptNumber,
		Provider:           name,
		IsMock:             true,
	}
}

// HandleCallback applies an STK callback to the pending entry and history.
func (s *Service) HandleCallback(ctx context.Context, cb provider.CallbackResult) error {
	monitoring.RecordCallback(cb.Status)
	log.Info().
		Str("checkout_request_id", cb.CheckoutRequestID).
		Int("result_code", cb.ResultCode).
		Str("status", cb.Status).
		Msg("STK callback received")

	err := s.tracker.Record(ctx, cb.CheckoutRequestID, cb.Status, cb.MpesaReceiptNumber)
	switch {
	case errors.Is(err, pending.ErrNotFound):
		log.Debug().Str("checkout_request_id", cb.CheckoutRequestID).Msg("callback for untracked request")
	case err != nil:
		return ServiceError{Op: "callback", Message: "record outcome", Err: err}
	}

	if provider.IsTerminal(cb.Status) {
		if _, err := s.tracker.Resolve(ctx, cb.CheckoutRequestID); err != nil {
			return ServiceError{Op: "callback", Message: "resolve pending request", Err: err}
		}
		s.reportPending(ctx)
		s.updateHistory(ctx, cb.CheckoutRequestID, cb.Status, cb.MpesaReceiptNumber, cb.ResultDesc)
	}
	return nil
}

// History lists stored requests newest first. It returns ErrHistoryDisabled
// when the service runs without a database.
func (s *Service) History(ctx context.Context, limit, offset int) ([]*payment.Request, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.history.List(ctx, limit, offset)
}

// HistoryEnabled reports whether a history store is attached.
func (s *Service) HistoryEnabled() bool { return s.history != nil }

// IsConfigured reports whether the facade can answer requests.
func (s *Service) IsConfigured() bool {
	return s.MockMode() || s.real.IsConfigured()
}

// MpesaConfigured reports whether M-Pesa credentials are present.
func (s *Service) MpesaConfigured() bool { return s.real.IsConfigured() }

// Status returns the facade's mode and the number of tracked requests.
func (s *Service) Status(ctx context.Context) ServiceStatus {
	s.mu.RLock()
	mockMode, autoFallback := s.mockMode, s.autoFallback
	s.mu.RUnlock()

	n, err := s.tracker.Count(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("count pending requests failed")
	}
	return ServiceStatus{
		Provider:        s.providerName(),
		MpesaConfigured: s.real.IsConfigured(),
		MockMode:        mockMode,
		AutoFallback:    autoFallback,
		IsConfigured:    true,
		PendingRequests: n,
	}
}

// MockMode reports whether mock-looking IDs are answered by the mock provider.
func (s *Service) MockMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mockMode
}

// AutoFallback returns the stored fallback flag.
func (s *Service) AutoFallback() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoFallback
}

// SetMockMode switches mock mode at runtime.
func (s *Service) SetMockMode(enabled bool) {
	s.mu.Lock()
	s.mockMode = enabled
	s.mu.Unlock()
	log.Info().Bool("enabled", enabled).Msg("mock mode switched")
}

// SetAutoFallback stores the flag. No code path consults it yet.
func (s *Service) SetAutoFallback(enabled bool) {
	s.mu.Lock()
	s.autoFallback = enabled
	s.mu.Unlock()
	log.Info().Bool("enabled", enabled).Msg("auto fallback switched")
}

func (s *Service) providerName() string {
	if s.MockMode() {
		return string(provider.ProviderMock)
	}
	return string(provider.ProviderMpesa)
}

func (s *Service) reportPending(ctx context.Context) {
	if n, err := s.tracker.Count(ctx); err == nil {
		monitoring.SetPending(n)
	}
}

func (s *Service) saveHistory(ctx context.Context, resp *provider.STKPushResp, phone string, amount int64, accountRef, desc, providerName string) {
	if s.history == nil {
		return
	}
	msisdn, err := payment.NewMSISDN(phone)
	if err != nil {
		log.Warn().Err(err).Msg("history: bad msisdn")
	}
	req, err := payment.NewRequest(resp.CheckoutRequestID, resp.MerchantRequestID, payment.Money(amount), msisdn, accountRef, desc, providerName, s.now())
	if err != nil {
		log.Error().Err(err).Msg("history: build request failed")
		return
	}
	if err := s.history.Save(ctx, req); err != nil {
		log.Error().Err(err).Str("checkout_request_id", resp.CheckoutRequestID).Msg("history: save failed")
	}
}

func (s *Service) updateHistory(ctx context.Context, checkoutRequestID, status, receipt, resultDesc string) {
	if s.history == nil {
		return
	}
	st, err := payment.ParseStatus(status)
	if err != nil {
		log.Warn().Err(err).Msg("history: unmapped status")
		return
	}
	err = s.history.UpdateStatus(ctx, checkoutRequestID, st, receipt, resultDesc)
	var de payment.DomainError
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrNotFound):
		log.Debug().Str("checkout_request_id", checkoutRequestID).Msg("history: no stored request")
	case errors.As(err, &de):
		log.Debug().Err(err).Msg("history: transition skipped")
	default:
		log.Error().Err(err).Str("checkout_request_id", checkoutRequestID).Msg("history: update failed")
	}
}

// isMockID matches identifiers produced by the mock provider or a fallback path.
func isMockID(checkoutRequestID string) bool {
	return strings.Contains(checkoutRequestID, "mock") || strings.Contains(checkoutRequestID, "fallback")
}

// ErrHistoryDisabled is returned by History when no database is attached.
var ErrHistoryDisabled = errors.New("payment history requires a database")

// ServiceError represents a payment service error
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment service %s: %s (%v)", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("payment service %s: %s", e.Op, e.Message)
}

func (e ServiceError) Unwrap() error {
	return e.Err
}
