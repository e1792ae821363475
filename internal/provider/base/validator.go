package base

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"mkopaji/internal/provider"
)

// Daraja field limits
const (
	MaxAccountReferenceLen = 12
	MaxDescriptionLen      = 13
	DefaultDescription     = "Payment"
)

// Safaricom and Airtel ranges: 2547xxxxxxxx and 2541xxxxxxxx
var kenyanMSISDN = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizePhone converts the usual local spellings of a Kenyan mobile
// number into the 2547xxxxxxxx form Daraja expects.
func NormalizePhone(phone string) (string, error) {
	normalized := strings.NewReplacer(" ", "", "-", "", "+", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))

	switch {
	case strings.HasPrefix(normalized, "0") && len(normalized) == 10:
		normalized = "254" + normalized[1:]
	case (strings.HasPrefix(normalized, "7") || strings.HasPrefix(normalized, "1")) && len(normalized) == 9:
		normalized = "254" + normalized
	}

	if !kenyanMSISDN.MatchString(normalized) {
		return "", &provider.ProviderError{
			Code:    provider.ErrInvalidPhone,
			Message: fmt.Sprintf("invalid phone number format: %q", phone),
		}
	}
	return normalized, nil
}

// AmountValidator validates payment amounts
type AmountValidator struct {
	minAmount int64
	maxAmount int64
	currency  string
}

// NewAmountValidator creates an amount validator with limits
func NewAmountValidator(currency string, minAmount, maxAmount int64) *AmountValidator {
	return &AmountValidator{
		minAmount: minAmount,
		maxAmount: maxAmount,
		currency:  currency,
	}
}

// ValidateAmount validates payment amount
func (v *AmountValidator) ValidateAmount(amount int64) error {
	if amount <= 0 {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidAmount,
			Message: "amount must be greater than zero",
		}
	}

	if amount < v.minAmount {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidAmount,
			Message: fmt.Sprintf("amount must be at least %d %s", v.minAmount, v.currency),
		}
	}

	if v.maxAmount > 0 && amount > v.maxAmount {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidAmount,
			Message: fmt.Sprintf("amount must not exceed %d %s", v.maxAmount, v.currency),
		}
	}

	return nil
}

// RequestValidator provides common request validation
type RequestValidator struct {
	amountValidator *AmountValidator
}

// NewRequestValidator creates a validator with M-Pesa per-transaction limits.
func NewRequestValidator(minAmount, maxAmount int64) *RequestValidator {
	return &RequestValidator{
		amountValidator: NewAmountValidator("KES", minAmount, maxAmount),
	}
}

// ValidateSTKPushReq validates req and normalizes it in place.
func (v *RequestValidator) ValidateSTKPushReq(req *provider.STKPushReq) error {
	if err := v.amountValidator.ValidateAmount(req.Amount); err != nil {
		return err
	}

	normalizedPhone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return err
	}
	req.PhoneNumber = normalizedPhone

	ref := strings.TrimSpace(req.AccountReference)
	if ref == "" {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidReference,
			Message: "account reference is required",
		}
	}
	req.AccountReference = truncate(ref, MaxAccountReferenceLen)

	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = DefaultDescription
	}
	req.Description = truncate(desc, MaxDescriptionLen)

	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// FormatAmount formats amount for display
func FormatAmount(amount int64) string {
	return fmt.Sprintf("KSh %d", amount)
}
