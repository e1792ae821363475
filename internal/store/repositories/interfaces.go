package repositories

import (
	"context"
	"errors"

	"mkopaji/internal/domain/payment"
)

var ErrNotFound = errors.New("record not found")

// PaymentRequestRepository defines the contract for STK push history
type PaymentRequestRepository interface {
	Save(ctx context.Context, r *payment.Request) error
	UpdateStatus(ctx context.Context, checkoutRequestID string, status payment.Status, receipt, resultDesc string) error
	FindByCheckoutID(ctx context.Context, checkoutRequestID string) (*payment.Request, error)
	List(ctx context.Context, limit, offset int) ([]*payment.Request, error)
}
