package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-settlement/internal/domain/coupon"
)

const (
	getUserCouponByCodeSQL = `SELECT uc.id, uc.code, uc.user_id, uc.expires_at, uc.used_at, uc.used_order_id,
		t.id, t.name, t.discount_type, t.value, t.max_discount, t.min_order_amount
		FROM user_coupons uc
		JOIN coupon_templates t ON t.id = uc.template_id
		WHERE UPPER(uc.code) = UPPER($1)`

	markCouponUsedSQL = `UPDATE user_coupons SET used_at = $3, used_order_id = $2
		WHERE id = $1 AND used_at IS NULL`

	listCouponCodesSQL = `SELECT UPPER(code) FROM user_coupons`

	existingCouponCodesSQL = `SELECT UPPER(code) FROM user_coupons WHERE UPPER(code) = ANY($1)`

	issueCouponsSQL = `INSERT INTO user_coupons (code, user_id, template_id, expires_at)
		SELECT t.code, t.user_id, $3, $4
		FROM unnest($1::text[], $2::bigint[]) AS t(code, user_id)
		ON CONFLICT (code) DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an issued coupon by its code (case-insensitive).
// Returns coupon.ErrInvalidCoupon when no coupon has the code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.UserCoupon, error) {
	rows, err := r.pool.Query(ctx, getUserCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanUserCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// MarkUsed redeems the coupon unless it was redeemed already.
func (r *CouponRepository) MarkUsed(ctx context.Context, couponID, orderID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, markCouponUsedSQL, couponID, orderID, at)
	if err != nil {
		return fmt.Errorf("marking coupon %d used: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCouponUsed
	}
	return nil
}

// ForEachCode calls fn with every issued code, upper cased.
func (r *CouponRepository) ForEachCode(ctx context.Context, fn func(code string)) error {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	defer rows.Close()

	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	return nil
}

// ExistingCodes returns the subset of codes that are already issued.
func (r *CouponRepository) ExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, existingCouponCodesSQL, codes)
	if err != nil {
		return nil, fmt.Errorf("checking coupon codes: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("checking coupon codes: %w", err)
	}

	existing := make(map[string]struct{}, len(found))
	for _, code := range found {
		existing[code] = struct{}{}
	}
	return existing, nil
}

// IssueBatch issues coupons of templateID in one statement. Codes that are
// already taken are skipped; the number of issued coupons is returned.
func (r *CouponRepository) IssueBatch(ctx context.Context, templateID int64, expiresAt *time.Time, issues []coupon.Issue) (int64, error) {
	codes := make([]string, len(issues))
	users := make([]int64, len(issues))
	for i, is := range issues {
		codes[i] = is.Code
		users[i] = is.UserID
	}

	tag, err := r.pool.Exec(ctx, issueCouponsSQL, codes, users, templateID, expiresAt)
	if err != nil {
		return 0, fmt.Errorf("issuing %d coupons of template %d: %w", len(issues), templateID, err)
	}
	return tag.RowsAffected(), nil
}

func scanUserCoupon(row pgx.CollectableRow) (coupon.UserCoupon, error) {
	var (
		c            coupon.UserCoupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.UserID, &c.ExpiresAt, &c.UsedAt, &c.UsedOrderID,
		&c.Template.ID, &c.Template.Name, &discountType, &c.Template.Value,
		&c.Template.MaxDiscount, &c.Template.MinOrderAmount,
	)
	c.Template.DiscountType = coupon.DiscountType(discountType)
	return c, err
}
