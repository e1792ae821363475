package provider

import (
	"context"
	"errors"
)

// Provider is a mobile-money backend able to prompt a customer and report
// the outcome of that prompt.
type Provider interface {
	Name() string
	Type() ProviderType
	IsConfigured() bool
	STKPush(ctx context.Context, req STKPushReq) (*STKPushResp, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResp, error)
}

// ErrorCode extracts the ProviderError code from err, or ErrUnknownError.
func ErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrUnknownError
}
