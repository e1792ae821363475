package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mkopaji:pending:"

// expiryGrace keeps a Redis key alive slightly past the timeout so an entry
// that is exactly at the timeout is still readable, matching Request.Expired.
const expiryGrace = time.Second

// RedisStore shares pending requests between instances. Entries carry a TTL
// just past the pending timeout so Redis forgets them on its own.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTimeout
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func phoneKey(phone string) string { return keyPrefix + "phone:" + phone }
func checkoutKey(id string) string { return keyPrefix + "checkout:" + id }

func (s *RedisStore) Save(ctx context.Context, r Request) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode pending request: %w", err)
	}

	ttl := entryTTL(s.ttl, r.CreatedAt, time.Now())
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, phoneKey(r.Phone), b, ttl)
		pipe.Set(ctx, checkoutKey(r.CheckoutRequestID), r.Phone, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save pending request: %w", err)
	}
	return nil
}

// entryTTL keeps the original deadline when an entry is rewritten.
func entryTTL(timeout time.Duration, createdAt, now time.Time) time.Duration {
	ttl := timeout + expiryGrace
	if !createdAt.IsZero() {
		ttl -= now.Sub(createdAt)
	}
	if ttl < expiryGrace {
		ttl = expiryGrace
	}
	return ttl
}

func (s *RedisStore) ByPhone(ctx context.Context, phone string) (*Request, error) {
	b, err := s.rdb.Get(ctx, phoneKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pending request: %w", err)
	}
	var r Request
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode pending request: %w", err)
	}
	return &r, nil
}

func (s *RedisStore) ByCheckoutID(ctx context.Context, checkoutRequestID string) (*Request, error) {
	phone, err := s.rdb.Get(ctx, checkoutKey(checkoutRequestID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pending index: %w", err)
	}
	r, err := s.ByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	// the phone may have moved on to a newer request
	if r.CheckoutRequestID != checkoutRequestID {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *RedisStore) Delete(ctx context.Context, phone string) error {
	r, err := s.ByPhone(ctx, phone)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, phoneKey(phone), checkoutKey(r.CheckoutRequestID)).Err(); err != nil {
		return fmt.Errorf("delete pending request: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Request, error) {
	var out []Request
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"phone:*", 100).Iterator()
	for iter.Next(ctx) {
		b, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("load pending request: %w", err)
		}
		var r Request
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("decode pending request: %w", err)
		}
		out = append(out, r)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan pending requests: %w", err)
	}
	return out, nil
}
