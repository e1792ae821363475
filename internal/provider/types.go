package provider

// Provider identification
type ProviderType string

const (
	ProviderMpesa ProviderType = "mpesa"
	ProviderMock  ProviderType = "mock"
)

// STK Push (customer prompted payments)
type STKPushReq struct {
	Amount           int64  `json:"amount"`
	PhoneNumber      string `json:"phone_number"`
	AccountReference string `json:"account_reference"`
	Description      string `json:"description"`
	CallbackURL      string `json:"callback_url,omitempty"`
}

type STKPushResp struct {
	MerchantRequestID   string `json:"merchant_request_id"`
	CheckoutRequestID   string `json:"checkout_request_id"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
	CustomerMessage     string `json:"customer_message"`
}

// StatusResp is the outcome of an STK push status query.
type StatusResp struct {
	CheckoutRequestID  string         `json:"checkout_request_id"`
	Status             string         `json:"status"`
	ResultCode         string         `json:"result_code,omitempty"`
	ResultDesc         string         `json:"result_desc,omitempty"`
	MpesaReceiptNumber string         `json:"mpesa_receipt_number,omitempty"`
	RateLimited        bool           `json:"rate_limited,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
}

// CallbackResult is the parsed STK callback Daraja posts to CallBackURL.
type CallbackResult struct {
	MerchantRequestID  string `json:"merchant_request_id"`
	CheckoutRequestID  string `json:"checkout_request_id"`
	ResultCode         int    `json:"result_code"`
	ResultDesc         string `json:"result_desc"`
	Amount             int64  `json:"amount,omitempty"`
	MpesaReceiptNumber string `json:"mpesa_receipt_number,omitempty"`
	PhoneNumber        string `json:"phone_number,omitempty"`
	TransactionDate    string `json:"transaction_date,omitempty"`
	Status             string `json:"status"`
}

// Transaction status constants
const (
	StatusSuccess   = "success"
	StatusPending   = "pending"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusUnknown   = "unknown"
)

// IsTerminal reports whether no further status change is expected.
func IsTerminal(status string) bool {
	switch status {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Common error types
type ProviderError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ProviderErr string `json:"provider_error,omitempty"`
	StatusCode  int    `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.ProviderErr != "" {
		return e.Message + ": " + e.ProviderErr
	}
	return e.Message
}

// Error codes
const (
	ErrInvalidCredentials = "invalid_credentials"
	ErrInvalidPhone       = "invalid_phone"
	ErrInvalidAmount      = "invalid_amount"
	ErrInvalidReference   = "invalid_account_ref"
	ErrProviderTimeout    = "provider_timeout"
	ErrProviderDown       = "provider_down"
	ErrRateLimited        = "rate_limited"
	ErrAuthFailed         = "auth_failed"
	ErrNotConfigured      = "not_configured"
	ErrResponseParse      = "response_parse_failed"
	ErrSTKFailed          = "stk_failed"
	ErrUnknownError       = "unknown_error"
)
