package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Tracker applies the expiry rule on top of a Store.
type Tracker struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

func NewTracker(store Store, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{store: store, timeout: timeout, now: time.Now}
}

// WithClock replaces the tracker's time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) Timeout() time.Duration { return t.timeout }

// Track records r as the outstanding request for its phone, replacing any
// earlier one.
func (t *Tracker) Track(ctx context.Context, r Request) error {
	if r.Phone == "" || r.CheckoutRequestID == "" {
		return fmt.Errorf("pending request needs phone and checkout id")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.now()
	}
	if r.Status == "" {
		r.Status = "pending"
	}
	return t.store.Save(ctx, r)
}

// Active returns the unexpired request for phone. An expired entry is
// removed on sight and reported as ErrNotFound.
func (t *Tracker) Active(ctx context.Context, phone string) (*Request, error) {
	r, err := t.store.ByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if r.Expired(t.now(), t.timeout) {
		if err := t.store.Delete(ctx, phone); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return r, nil
}

// Lookup finds the entry for a checkout ID regardless of its age.
func (t *Tracker) Lookup(ctx context.Context, checkoutRequestID string) (*Request, error) {
	return t.store.ByCheckoutID(ctx, checkoutRequestID)
}

// ExpireIfStale drops the entry for checkoutRequestID only if it has
// outlived the timeout.
func (t *Tracker) ExpireIfStale(ctx context.Context, checkoutRequestID string) (bool, error) {
	r, err := t.store.ByCheckoutID(ctx, checkoutRequestID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !r.Expired(t.now(), t.timeout) {
		return false, nil
	}
	return true, t.store.Delete(ctx, r.Phone)
}

// Resolve drops the entry for checkoutRequestID whatever its age.
func (t *Tracker) Resolve(ctx context.Context, checkoutRequestID string) (bool, error) {
	r, err := t.store.ByCheckoutID(ctx, checkoutRequestID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, t.store.Delete(ctx, r.Phone)
}

// Record stores a callback outcome on the entry, keeping its creation time.
func (t *Tracker) Record(ctx context.Context, checkoutRequestID, status, receipt string) error {
	r, err := t.store.ByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		return err
	}
	r.Status = status
	if receipt != "" {
		r.MpesaReceiptNumber = receipt
	}
	return t.store.Save(ctx, *r)
}

// Sweep removes every expired entry and returns how many it removed.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	all, err := t.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := t.now()
	removed := 0
	for _, r := range all {
		if !r.Expired(now, t.timeout) {
			continue
		}
		if err := t.store.Delete(ctx, r.Phone); err != nil {
			return removed, err
		}
		removed++
		log.Debug().
			Str("checkout_request_id", r.CheckoutRequestID).
			Dur("age", now.Sub(r.CreatedAt)).
			Msg("pending request expired")
	}
	return removed, nil
}

// Count returns the number of tracked entries, expired or not.
func (t *Tracker) Count(ctx context.Context) (int, error) {
	all, err := t.store.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}
