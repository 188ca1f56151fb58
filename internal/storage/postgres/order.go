package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-settlement/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (user_id, guest_key, content_id, seller_id, items,
		original_price, coupon_discount_price, final_price, user_coupon_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	setMerchantUIDSQL = `UPDATE orders SET merchant_uid = $2, updated_at = now() WHERE id = $1`

	getOrderSQL = `SELECT id, COALESCE(merchant_uid, ''), user_id, guest_key, content_id, seller_id, items,
		original_price, coupon_discount_price, final_price, user_coupon_id, status,
		failure_reason, paid_at, created_at, updated_at
		FROM orders WHERE id = $1`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, failure_reason = $3, paid_at = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	err = r.pool.QueryRow(ctx, createOrderSQL,
		o.UserID, o.GuestKey, o.ContentID, o.SellerID, itemsJSON,
		o.OriginalPrice, o.CouponDiscountPrice, o.FinalPrice, o.UserCouponID, string(o.Status),
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}
	return nil
}

// SetMerchantUID stores the merchant uid derived from the order id.
func (r *OrderRepository) SetMerchantUID(ctx context.Context, id int64, merchantUID string) error {
	if _, err := r.pool.Exec(ctx, setMerchantUIDSQL, id, merchantUID); err != nil {
		return fmt.Errorf("setting merchant uid of order %d: %w", id, err)
	}
	return nil
}

// Get returns the order with the given id.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	return &o, nil
}

// UpdateStatus persists the status, failure reason and payment time.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	err := r.pool.QueryRow(ctx, updateOrderStatusSQL, o.ID, string(o.Status), o.FailureReason, o.PaidAt).
		Scan(&o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrOrderNotFound
		}
		return fmt.Errorf("updating status of order %d: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		status    string
	)
	err := row.Scan(
		&o.ID, &o.MerchantUID, &o.UserID, &o.GuestKey, &o.ContentID, &o.SellerID, &itemsJSON,
		&o.OriginalPrice, &o.CouponDiscountPrice, &o.FinalPrice, &o.UserCouponID, &status,
		&o.FailureReason, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	return o, nil
}
