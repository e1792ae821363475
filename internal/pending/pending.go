// Package pending tracks STK pushes that are waiting for the customer,
// keyed by phone number and forgotten after a fixed timeout.
package pending

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("pending request not found")

// DefaultTimeout is how long an unanswered prompt blocks a new one.
const DefaultTimeout = 2 * time.Minute

// Request is an outstanding payment request.
type Request struct {
	Phone              string    `json:"phone"`
	CheckoutRequestID  string    `json:"checkout_request_id"`
	MerchantRequestID  string    `json:"merchant_request_id,omitempty"`
	Amount             int64     `json:"amount"`
	AccountReference   string    `json:"account_reference,omitempty"`
	Provider           string    `json:"provider"`
	Status             string    `json:"status"`
	MpesaReceiptNumber string    `json:"mpesa_receipt_number,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Expired reports whether r is older than timeout at now.
func (r Request) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.CreatedAt) > timeout
}

// Store holds at most one request per phone number.
type Store interface {
	Save(ctx context.Context, r Request) error
	ByPhone(ctx context.Context, phone string) (*Request, error)
	ByCheckoutID(ctx context.Context, checkoutRequestID string) (*Request, error)
	Delete(ctx context.Context, phone string) error
	List(ctx context.Context) ([]Request, error)
}
