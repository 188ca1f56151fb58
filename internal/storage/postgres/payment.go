package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-settlement/internal/domain/order"
)

const (
	createPaymentSQL = `INSERT INTO payments (order_id, amount, method, status, paid_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	createPaymentCancelSQL = `INSERT INTO payment_cancels (payment_id, amount, reason, cancelled_at)
		VALUES ($1, $2, $3, $4)`

	createPurchaseSQL = `INSERT INTO purchases (order_id, content_id, seller_id, user_id, guest_key, status, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
)

var (
	_ order.PaymentRepository  = (*PaymentRepository)(nil)
	_ order.PurchaseRepository = (*PurchaseRepository)(nil)
)

// PaymentRepository implements order.PaymentRepository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create persists a payment together with its cancellations.
func (r *PaymentRepository) Create(ctx context.Context, p *order.Payment) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, createPaymentSQL,
			p.OrderID, p.Amount, string(p.Method), string(p.Status), p.PaidAt,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("creating payment for order %d: %w", p.OrderID, err)
		}
		for _, c := range p.Cancels {
			if _, err := tx.Exec(ctx, createPaymentCancelSQL, p.ID, c.Amount, c.Reason, c.CancelledAt); err != nil {
				return fmt.Errorf("creating cancel of payment %d: %w", p.ID, err)
			}
		}
		return nil
	})
}

// PurchaseRepository implements order.PurchaseRepository backed by PostgreSQL.
type PurchaseRepository struct {
	pool *pgxpool.Pool
}

// NewPurchaseRepository returns a PurchaseRepository that uses the given pool.
func NewPurchaseRepository(pool *pgxpool.Pool) *PurchaseRepository {
	return &PurchaseRepository{pool: pool}
}

// Create persists a purchase.
func (r *PurchaseRepository) Create(ctx context.Context, p *order.Purchase) error {
	err := r.pool.QueryRow(ctx, createPurchaseSQL,
		p.OrderID, p.ContentID, p.SellerID, p.UserID, p.GuestKey, string(p.Status), p.PurchasedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("creating purchase for order %d: %w", p.OrderID, err)
	}
	return nil
}
