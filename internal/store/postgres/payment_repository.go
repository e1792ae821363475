package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mkopaji/internal/domain/payment"
	"mkopaji/internal/store/repositories"
)

const requestColumns = `id, checkout_request_id, merchant_request_id, msisdn_hash, amount, currency,
	account_reference, description, provider, status, result_desc, mpesa_receipt_number,
	created_at, updated_at`

// paymentRequestRepository implements PaymentRequestRepository with pure data access
type paymentRequestRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPaymentRequestRepository creates a new payment request repository
func NewPaymentRequestRepository(db *pgxpool.Pool) repositories.PaymentRequestRepository {
	return &paymentRequestRepository{db: db, now: time.Now}
}

// Save inserts r, or refreshes the row already stored under its checkout ID.
func (r *paymentRequestRepository) Save(ctx context.Context, p *payment.Request) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO payment_requests (checkout_request_id, merchant_request_id, msisdn_hash, amount, currency,
			account_reference, description, provider, status, result_desc, mpesa_receipt_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (checkout_request_id) DO UPDATE
		SET status = EXCLUDED.status,
		    result_desc = EXCLUDED.result_desc,
		    mpesa_receipt_number = EXCLUDED.mpesa_receipt_number,
		    updated_at = EXCLUDED.updated_at
		RETURNING id`,
		p.CheckoutRequestID, p.MerchantRequestID, p.MSISDNHash, int64(p.Amount), string(p.Currency),
		p.AccountReference, p.Description, p.Provider, string(p.Status), p.ResultDesc,
		p.MpesaReceiptNumber, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
}

// UpdateStatus applies a status transition inside a row-locking transaction.
func (r *paymentRequestRepository) UpdateStatus(ctx context.Context, checkoutRequestID string, status payment.Status, receipt, resultDesc string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanRequest(tx.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM payment_requests
		WHERE checkout_request_id = $1
		FOR UPDATE`, checkoutRequestID))
	if err != nil {
		return err
	}
	before := *p
	if err := p.Transition(status, receipt, resultDesc, r.now()); err != nil {
		return err
	}
	if before.Status == p.Status &&
		before.MpesaReceiptNumber == p.MpesaReceiptNumber &&
		before.ResultDesc == p.ResultDesc {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE payment_requests
		SET status = $1, mpesa_receipt_number = $2, result_desc = $3, updated_at = $4
		WHERE id = $5`,
		string(p.Status), p.MpesaReceiptNumber, p.ResultDesc, p.UpdatedAt, p.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindByCheckoutID finds a request by its Daraja checkout ID
func (r *paymentRequestRepository) FindByCheckoutID(ctx context.Context, checkoutRequestID string) (*payment.Request, error) {
	return scanRequest(r.db.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM payment_requests
		WHERE checkout_request_id = $1`, checkoutRequestID))
}

// List returns requests newest first with pagination
func (r *paymentRequestRepository) List(ctx context.Context, limit, offset int) ([]*payment.Request, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM payment_requests
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*payment.Request{}
	for rows.Next() {
		p, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// scanRequest scans a single row into a payment request
func scanRequest(row pgx.Row) (*payment.Request, error) {
	var (
		p        payment.Request
		amount   int64
		currency string
		status   string
	)
	err := row.Scan(
		&p.ID, &p.CheckoutRequestID, &p.MerchantRequestID, &p.MSISDNHash, &amount, &currency,
		&p.AccountReference, &p.Description, &p.Provider, &status, &p.ResultDesc,
		&p.MpesaReceiptNumber, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repositories.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Amount = payment.Money(amount)
	p.Currency = payment.Currency(currency)
	p.Status = payment.Status(status)
	return &p, nil
}
