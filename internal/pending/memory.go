package pending

import (
	"context"
	"sync"
)

// MemoryStore keeps pending requests in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	byPhone    map[string]Request
	byCheckout map[string]string // checkout ID -> phone
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPhone:    make(map[string]Request),
		byCheckout: make(map[string]string),
	}
}

func (s *MemoryStore) Save(_ context.Context, r Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byPhone[r.Phone]; ok && old.CheckoutRequestID != r.CheckoutRequestID {
		delete(s.byCheckout, old.CheckoutRequestID)
	}
	s.byPhone[r.Phone] = r
	s.byCheckout[r.CheckoutRequestID] = r.Phone
	return nil
}

func (s *MemoryStore) ByPhone(_ context.Context, phone string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byPhone[phone]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) ByCheckoutID(_ context.Context, checkoutRequestID string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	phone, ok := s.byCheckout[checkoutRequestID]
	if !ok {
		return nil, ErrNotFound
	}
	r := s.byPhone[phone]
	return &r, nil
}

func (s *MemoryStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.byPhone[phone]; ok {
		delete(s.byCheckout, r.CheckoutRequestID)
		delete(s.byPhone, phone)
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Request, 0, len(s.byPhone))
	for _, r := range s.byPhone {
		out = append(out, r)
	}
	return out, nil
}
