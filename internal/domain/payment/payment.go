package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Request is the stored history of one STK push.
type Request struct {
	ID                 int64
	CheckoutRequestID  string
	MerchantRequestID  string
	MSISDNHash         string
	Amount             Money
	Currency           Currency
	AccountReference   string
	Description        string
	Provider           string
	Status             Status
	ResultDesc         string
	MpesaReceiptNumber string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Money is a whole-shilling amount; M-Pesa does not accept cents.
type Money int64

type Currency string

const KES Currency = "KES"

type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// ParseStatus maps a provider status string onto Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusSuccess, StatusFailed, StatusCancelled, StatusExpired:
		return st, nil
	}
	return "", DomainError{Code: ErrInvalidStatus, Message: fmt.Sprintf("unknown status %q", s)}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// MSISDN represents a mobile phone number with validation
type MSISDN struct {
	value string
}

// NewMSISDN creates a new MSISDN with validation
func NewMSISDN(phone string) (*MSISDN, error) {
	normalized := strings.TrimSpace(phone)
	if normalized == "" {
		return nil, fmt.Errorf("phone number cannot be empty")
	}
	if len(normalized) < 10 || len(normalized) > 15 {
		return nil, fmt.Errorf("invalid phone number format: %s", phone)
	}
	return &MSISDN{value: normalized}, nil
}

func (m *MSISDN) String() string {
	return m.value
}

// Hash returns a privacy-preserving hash of the phone number
func (m *MSISDN) Hash() string {
	h := sha256.Sum256([]byte(m.value))
	return hex.EncodeToString(h[:])
}

// NewRequest builds a pending history entry for an accepted STK push.
func NewRequest(checkoutID, merchantID string, amount Money, msisdn *MSISDN, accountRef, desc, provider string, now time.Time) (*Request, error) {
	if strings.TrimSpace(checkoutID) == "" {
		return nil, DomainError{Code: ErrMissingCheckout, Message: "checkout request ID is required"}
	}
	if amount <= 0 {
		return nil, DomainError{Code: ErrInvalidAmount, Message: fmt.Sprintf("amount must be positive: %d", amount)}
	}

	var hash string
	if msisdn != nil {
		hash = msisdn.Hash()
	}
	return &Request{
		CheckoutRequestID: checkoutID,
		MerchantRequestID: merchantID,
		MSISDNHash:        hash,
		Amount:            amount,
		Currency:          KES,
		AccountReference:  accountRef,
		Description:       desc,
		Provider:          provider,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Transition moves a pending request to status. Terminal requests are read only,
// except that repeating the same terminal status may fill a missing receipt or
// result description.
func (r *Request) Transition(status Status, receipt, resultDesc string, now time.Time) error {
	if r.Status.Terminal() {
		if r.Status != status {
			return DomainError{Code: ErrReadOnly, Message: fmt.Sprintf("request %s already %s", r.CheckoutRequestID, r.Status)}
		}
		if r.MpesaReceiptNumber == "" && receipt != "" {
			r.MpesaReceiptNumber = receipt
			r.UpdatedAt = now
		}
		if r.ResultDesc == "" && resultDesc != "" {
			r.ResultDesc = resultDesc
			r.UpdatedAt = now
		}
		return nil
	}
	r.Status = status
	if receipt != "" {
		r.MpesaReceiptNumber = receipt
	}
	if resultDesc != "" {
		r.ResultDesc = resultDesc
	}
	r.UpdatedAt = now
	return nil
}

// DomainError represents a domain-level error
type DomainError struct {
	Message string
	Code    string
}

func (e DomainError) Error() string {
	return fmt.Sprintf("domain error [%s]: %s", e.Code, e.Message)
}

// Domain error codes
const (
	ErrInvalidAmount   = "INVALID_AMOUNT"
	ErrInvalidStatus   = "INVALID_STATUS"
	ErrMissingCheckout = "MISSING_CHECKOUT_ID"
	ErrReadOnly        = "REQUEST_READ_ONLY"
)
