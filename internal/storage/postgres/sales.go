package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
)

const (
	// A sale is refunded when its payment was cancelled or has any cancel
	// record. Free orders never reach settlement.
	listSalesSQL = `SELECT p.id, p.order_id, p.seller_id, o.final_price, p.purchased_at,
		(pay.status = 'CANCELLED' OR EXISTS (
			SELECT 1 FROM payment_cancels pc WHERE pc.payment_id = pay.id
		)) AS refunded
		FROM purchases p
		JOIN orders o ON o.id = p.order_id
		JOIN payments pay ON pay.order_id = p.order_id
		WHERE p.seller_id = $1
		  AND p.status = 'COMPLETED'
		  AND o.final_price > 0
		  AND p.purchased_at >= $2 AND p.purchased_at < $3
		ORDER BY p.purchased_at, p.id`

	listSellersWithSalesSQL = `SELECT DISTINCT p.seller_id
		FROM purchases p
		JOIN orders o ON o.id = p.order_id
		WHERE p.status = 'COMPLETED'
		  AND o.final_price > 0
		  AND p.purchased_at >= $1 AND p.purchased_at < $2
		ORDER BY p.seller_id`
)

var _ settlement.SaleSource = (*SaleRepository)(nil)

// SaleRepository implements settlement.SaleSource over purchases, orders and
// payments.
type SaleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns a SaleRepository that uses the given pool.
func NewSaleRepository(pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{pool: pool}
}

// ListSales returns the seller's paid purchases in [from, to).
func (r *SaleRepository) ListSales(ctx context.Context, sellerID int64, from, to time.Time) ([]settlement.Sale, error) {
	rows, err := r.pool.Query(ctx, listSalesSQL, sellerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing sales of seller %d: %w", sellerID, err)
	}

	sales, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (settlement.Sale, error) {
		var s settlement.Sale
		err := row.Scan(&s.PurchaseID, &s.OrderID, &s.SellerID, &s.Amount, &s.PurchasedAt, &s.Refunded)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing sales of seller %d: %w", sellerID, err)
	}
	return sales, nil
}

// SellersWithSales returns the ids of sellers with paid purchases in
// [from, to).
func (r *SaleRepository) SellersWithSales(ctx context.Context, from, to time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, listSellersWithSalesSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing sellers with sales: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("listing sellers with sales: %w", err)
	}
	return ids, nil
}
