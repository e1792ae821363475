package mpesa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"mkopaji/internal/config"
	"mkopaji/internal/provider"
	"mkopaji/internal/provider/base"
)

// Provider implements the M-Pesa Daraja STK push API
type Provider struct {
	cfg       config.MpesaCfg
	retry     config.RetryCfg
	http      *base.HTTPClient
	validator *base.RequestValidator
	now       func() time.Time

	mu    sync.Mutex
	token *accessToken
}

// accessToken represents cached M-Pesa access token
type accessToken struct {
	Token     string
	ExpiresAt time.Time
}

// tokens are refreshed this long before Daraja expires them
const tokenSkew = time.Minute

// New creates a Daraja client for the configured shortcode.
func New(cfg config.MpesaCfg, retry config.RetryCfg) *Provider {
	url := cfg.BaseURL
	if url == "" {
		url = baseURL(cfg.Environment)
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	return &Provider{
		cfg:       cfg,
		retry:     retry,
		http:      base.NewHTTPClient("mpesa", url, cfg.Timeout),
		validator: base.NewRequestValidator(1, 250000),
		now:       time.Now,
	}
}

// Name returns the provider name
func (p *Provider) Name() string { return "M-Pesa (Safaricom Daraja)" }

func (p *Provider) Type() provider.ProviderType { return provider.ProviderMpesa }

// IsConfigured reports whether every credential Daraja needs is present.
func (p *Provider) IsConfigured() bool {
	return p.cfg.ConsumerKey != "" &&
		p.cfg.ConsumerSecret != "" &&
		p.cfg.Shortcode != "" &&
		p.cfg.Passkey != ""
}

// STKPush initiates STK push payment. It is never retried: a second attempt
// could prompt the customer twice.
func (p *Provider) STKPush(ctx context.Context, req provider.STKPushReq) (*provider.STKPushResp, error) {
	if !p.IsConfigured() {
		return nil, notConfigured()
	}
	if err := p.validator.ValidateSTKPushReq(&req); err != nil {
		return nil, err
	}

	token, err := p.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := timestamp(p.now())
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = p.cfg.CallbackURL
	}

	payload := map[string]any{
		"BusinessShortCode": p.cfg.Shortcode,
		"Password":          password(p.cfg.Shortcode, p.cfg.Passkey, ts),
		"Timestamp":         ts,
		"TransactionType":   p.cfg.TransactionType,
		"Amount":            req.Amount,
		"PartyA":            req.PhoneNumber,
		"PartyB":            p.cfg.Shortcode,
		"PhoneNumber":       req.PhoneNumber,
		"CallBackURL":       callbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.Description,
	}

	res, err := p.http.PostJSON(ctx, pathSTKPush, payload, bearer(token))
	if err != nil {
		return nil, transportError(ctx, err)
	}

	var response struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CustomerMessage     string `json:"CustomerMessage"`
		ErrorCode           string `json:"errorCode"`
		ErrorMessage        string `json:"errorMessage"`
	}
	parseErr := res.UnmarshalJSON(&response)

	if res.StatusCode == http.StatusTooManyRequests || rateLimitCodes[response.ErrorCode] {
		return nil, &provider.ProviderError{
			Code:       provider.ErrRateLimited,
			Message:    "M-Pesa rate limit reached",
			StatusCode: res.StatusCode,
		}
	}
	if response.ErrorCode != "" {
		return nil, &provider.ProviderError{
			Code:       response.ErrorCode,
			Message:    response.ErrorMessage,
			StatusCode: res.StatusCode,
		}
	}
	if !res.IsSuccess() {
		return nil, &provider.ProviderError{
			Code:        "api_error",
			Message:     fmt.Sprintf("API returned status %d", res.StatusCode),
			ProviderErr: res.String(),
			StatusCode:  res.StatusCode,
		}
	}
	if parseErr != nil {
		return nil, &provider.ProviderError{
			Code:    provider.ErrResponseParse,
			Message: fmt.Sprintf("failed to parse STK response: %v", parseErr),
		}
	}
	if response.ResponseCode != "0" {
		return nil, &provider.ProviderError{
			Code:    provider.ErrSTKFailed,
			Message: response.ResponseDescription,
		}
	}

	p.logOperation("stk_push", map[string]any{
		"checkout_request_id": response.CheckoutRequestID,
		"merchant_request_id": response.MerchantRequestID,
		"amount":              req.Amount,
		"shortcode":           p.cfg.Shortcode,
	})

	return &provider.STKPushResp{
		MerchantRequestID:   response.MerchantRequestID,
		CheckoutRequestID:   response.CheckoutRequestID,
		ResponseCode:        response.ResponseCode,
		ResponseDescription: response.ResponseDescription,
		CustomerMessage:     response.CustomerMessage,
	}, nil
}

// QueryStatus asks Daraja for the outcome of an STK prompt.
func (p *Provider) QueryStatus(ctx context.Context, checkoutRequestID string) (*provider.StatusResp, error) {
	if !p.IsConfigured() {
		return nil, notConfigured()
	}

	token, err := p.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := timestamp(p.now())
	payload := map[string]any{
		"BusinessShortCode": p.cfg.Shortcode,
		"Password":          password(p.cfg.Shortcode, p.cfg.Passkey, ts),
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutRequestID,
	}

	res, err := backoff.RetryWithData(func() (*base.HTTPResponse, error) {
		res, err := p.http.PostJSON(ctx, pathSTKQuery, payload, bearer(token))
		if err != nil {
			return nil, err
		}
		if isGatewayFailure(res.StatusCode) {
			return nil, fmt.Errorf("status query: gateway returned %d", res.StatusCode)
		}
		return res, nil
	}, p.policy(ctx))
	if err != nil {
		return nil, transportError(ctx, err)
	}

	var response struct {
		ResponseCode        flexString `json:"ResponseCode"`
		ResponseDescription string     `json:"ResponseDescription"`
		MerchantRequestID   string     `json:"MerchantRequestID"`
		CheckoutRequestID   string     `json:"CheckoutRequestID"`
		ResultCode          flexString `json:"ResultCode"`
		ResultDesc          string     `json:"ResultDesc"`
		ErrorCode           string     `json:"errorCode"`
		ErrorMessage        string     `json:"errorMessage"`
	}
	parseErr := res.UnmarshalJSON(&response)

	if res.StatusCode == http.StatusTooManyRequests || rateLimitCodes[response.ErrorCode] {
		log.Warn().Str("checkout_request_id", checkoutRequestID).Msg("M-Pesa status query rate limited")
		return &provider.StatusResp{
			CheckoutRequestID: checkoutRequestID,
			Status:            provider.StatusPending,
			RateLimited:       true,
		}, nil
	}

	if response.ErrorCode == codeStillProcessing {
		return &provider.StatusResp{
			CheckoutRequestID: checkoutRequestID,
			Status:            provider.StatusPending,
			ResultDesc:        response.ErrorMessage,
			Data:              map[string]any{"errorCode": response.ErrorCode, "errorMessage": response.ErrorMessage},
		}, nil
	}
	if response.ErrorCode != "" {
		return nil, &provider.ProviderError{
			Code:       response.ErrorCode,
			Message:    response.ErrorMessage,
			StatusCode: res.StatusCode,
		}
	}
	if !res.IsSuccess() {
		return nil, &provider.ProviderError{
			Code:        "api_error",
			Message:     fmt.Sprintf("API returned status %d", res.StatusCode),
			ProviderErr: res.String(),
			StatusCode:  res.StatusCode,
		}
	}
	if parseErr != nil {
		return nil, &provider.ProviderError{
			Code:    provider.ErrResponseParse,
			Message: fmt.Sprintf("failed to parse status response: %v", parseErr),
		}
	}

	status := provider.StatusPending
	if code, ok := parseResultCode(string(response.ResultCode)); ok {
		status = statusFromResultCode(code)
	}

	p.logOperation("status_query", map[string]any{
		"checkout_request_id": checkoutRequestID,
		"result_code":         string(response.ResultCode),
		"status":              status,
	})

	return &provider.StatusResp{
		CheckoutRequestID: checkoutRequestID,
		Status:            status,
		ResultCode:        string(response.ResultCode),
		ResultDesc:        response.ResultDesc,
		Data: map[string]any{
			"ResponseCode":        string(response.ResponseCode),
			"ResponseDescription": response.ResponseDescription,
			"MerchantRequestID":   response.MerchantRequestID,
			"CheckoutRequestID":   response.CheckoutRequestID,
			"ResultCode":          string(response.ResultCode),
			"ResultDesc":          response.ResultDesc,
		},
	}, nil
}

// getAccessToken returns the cached OAuth token, fetching a new one when it
// is missing or about to expire.
func (p *Provider) getAccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != nil && p.token.ExpiresAt.After(p.now().Add(tokenSkew)) {
		return p.token.Token, nil
	}

	headers := map[string]string{
		"Authorization": basicAuth(p.cfg.ConsumerKey, p.cfg.ConsumerSecret),
	}

	res, err := backoff.RetryWithData(func() (*base.HTTPResponse, error) {
		res, err := p.http.Get(ctx, pathOAuth, headers)
		if err != nil {
			return nil, err
		}
		if res.StatusCode >= 500 {
			return nil, fmt.Errorf("auth: gateway returned %d", res.StatusCode)
		}
		return res, nil
	}, p.policy(ctx))
	if err != nil {
		return "", &provider.ProviderError{
			Code:        provider.ErrAuthFailed,
			Message:     "failed to get access token",
			ProviderErr: err.Error(),
		}
	}
	if res.StatusCode != http.StatusOK {
		return "", &provider.ProviderError{
			Code:        provider.ErrAuthFailed,
			Message:     fmt.Sprintf("auth failed with status %d", res.StatusCode),
			ProviderErr: res.String(),
			StatusCode:  res.StatusCode,
		}
	}

	var authResponse struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   any    `json:"expires_in"`
	}
	if err := res.UnmarshalJSON(&authResponse); err != nil || authResponse.AccessToken == "" {
		return "", &provider.ProviderError{
			Code:    provider.ErrAuthFailed,
			Message: "failed to parse auth response",
		}
	}

	p.token = &accessToken{
		Token:     authResponse.AccessToken,
		ExpiresAt: p.now().Add(expiresIn(authResponse.ExpiresIn)),
	}
	return p.token.Token, nil
}

// policy bounds retries by the configured attempt count and the caller's context.
func (p *Provider) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.retry.InitialInterval > 0 {
		b.InitialInterval = p.retry.InitialInterval
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.retry.MaxAttempts-1)), ctx)
}

// logOperation logs provider operations for debugging
func (p *Provider) logOperation(operation string, details map[string]any) {
	log.Info().
		Str("provider", "mpesa").
		Str("operation", operation).
		Str("environment", p.cfg.Environment).
		Fields(details).
		Msg("M-Pesa operation")
}

func expiresIn(v any) time.Duration {
	secs := 3600
	switch t := v.(type) {
	case float64:
		secs = int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			secs = n
		}
	}
	if secs <= 0 {
		secs = 3600
	}
	return time.Duration(secs) * time.Second
}

func isGatewayFailure(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &provider.ProviderError{
			Code:        provider.ErrProviderTimeout,
			Message:     "M-Pesa request timed out",
			ProviderErr: err.Error(),
		}
	}
	return &provider.ProviderError{
		Code:        provider.ErrProviderDown,
		Message:     "M-Pesa request failed",
		ProviderErr: err.Error(),
	}
}

func notConfigured() error {
	return &provider.ProviderError{
		Code:    provider.ErrNotConfigured,
		Message: "M-Pesa credentials are not configured",
	}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
