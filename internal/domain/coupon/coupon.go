package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount, optionally
	// capped by the template's MaxDiscount.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixed takes a fixed amount, never more than the order amount.
	DiscountFixed DiscountType = "FIXED"
)

var (
	// ErrInvalidCoupon is returned when a coupon code does not exist.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponNotOwned is returned when the coupon belongs to another user.
	ErrCouponNotOwned = errors.New("coupon not owned by user")
	// ErrCouponExpired is returned when a coupon is past its expiry.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsed is returned when a coupon was already redeemed.
	ErrCouponUsed = errors.New("coupon already used")
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Template is the discount rule shared by every coupon issued from it.
type Template struct {
	ID           int64
	Name         string
	DiscountType DiscountType
	Value        decimal.Decimal
	// MaxDiscount caps percentage discounts. Nil means uncapped.
	MaxDiscount    *decimal.Decimal
	MinOrderAmount decimal.Decimal
}

// CalculateDiscount returns the discount the template grants on amount, in
// whole won. Orders below MinOrderAmount get no discount.
func (t Template) CalculateDiscount(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() || amount.LessThan(t.MinOrderAmount) {
		return zero
	}

	var discount decimal.Decimal
	switch t.DiscountType {
	case DiscountPercentage:
		discount = amount.Mul(t.Value).Div(hundred).Floor()
		if t.MaxDiscount != nil {
			discount = decimal.Min(discount, *t.MaxDiscount)
		}
	case DiscountFixed:
		discount = t.Value
	default:
		return zero
	}

	discount = decimal.Min(discount, amount)
	if discount.IsNegative() {
		return zero
	}
	return discount
}

// UserCoupon is a coupon issued to a single member.
type UserCoupon struct {
	ID          int64
	Code        string
	UserID      int64
	Template    Template
	ExpiresAt   *time.Time
	UsedAt      *time.Time
	UsedOrderID *int64
}

// Usable reports why the coupon cannot be redeemed at now, or nil.
func (c *UserCoupon) Usable(now time.Time) error {
	if c.UsedAt != nil {
		return ErrCouponUsed
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ErrCouponExpired
	}
	return nil
}

// Repository provides lookup and redemption of issued coupons.
type Repository interface {
	// FindByCode returns ErrInvalidCoupon when no coupon has the code.
	FindByCode(ctx context.Context, code string) (*UserCoupon, error)
	// MarkUsed redeems the coupon for orderID. It returns ErrCouponUsed when
	// the coupon was redeemed concurrently.
	MarkUsed(ctx context.Context, couponID, orderID int64, at time.Time) error
}

// Issue is a coupon to be issued to a member. Codes are stored upper case.
type Issue struct {
	Code   string
	UserID int64
}
