package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Open connects to dsn and pings the server.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

func MustOpen(ctx context.Context, dsn string) *pgxpool.Pool {
	pool, err := Open(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("db open fail")
	}
	return pool
}

const schema = `
CREATE TABLE IF NOT EXISTS payment_requests (
	id                   BIGSERIAL PRIMARY KEY,
	checkout_request_id  TEXT NOT NULL UNIQUE,
	merchant_request_id  TEXT NOT NULL DEFAULT '',
	msisdn_hash          TEXT NOT NULL DEFAULT '',
	amount               BIGINT NOT NULL,
	currency             TEXT NOT NULL DEFAULT 'KES',
	account_reference    TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	provider             TEXT NOT NULL,
	status               TEXT NOT NULL,
	result_desc          TEXT NOT NULL DEFAULT '',
	mpesa_receipt_number TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS payment_requests_created_idx ON payment_requests (created_at DESC);
`

// EnsureSchema creates the history table if it is missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
