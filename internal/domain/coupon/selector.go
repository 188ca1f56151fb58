package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Applied is the coupon chosen for an order and the discount it grants.
type Applied struct {
	Coupon   *UserCoupon
	Discount decimal.Decimal
}

// Selector picks the single most valuable coupon among the codes a member
// submitted. Coupons never stack.
type Selector struct {
	repo Repository
	now  func() time.Time
}

// NewSelector creates a Selector backed by the given Repository.
func NewSelector(repo Repository) *Selector {
	return &Selector{repo: repo, now: time.Now}
}

// Best returns the coupon with the largest discount on amount, or nil when no
// code yields a discount. Unknown, foreign, expired and used codes are
// skipped; only storage failures are returned as errors.
func (s *Selector) Best(ctx context.Context, userID int64, codes []string, amount decimal.Decimal) (*Applied, error) {
	if !amount.IsPositive() || len(codes) == 0 {
		return nil, nil
	}

	lg := zctx.From(ctx)
	now := s.now()
	seen := make(map[string]struct{}, len(codes))

	var best *Applied
	for _, code := range codes {
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}

		c, err := s.repo.FindByCode(ctx, code)
		if err != nil {
			if errors.Is(err, ErrInvalidCoupon) {
				lg.Debug("Skipping coupon", zap.String("code", code), zap.Error(err))
				continue
			}
			return nil, errors.Wrap(err, "lookup coupon")
		}
		if err := check(c, userID, now); err != nil {
			lg.Debug("Skipping coupon", zap.String("code", code), zap.Error(err))
			continue
		}

		discount := c.Template.CalculateDiscount(amount)
		if !discount.IsPositive() {
			continue
		}
		if best == nil || discount.GreaterThan(best.Discount) {
			best = &Applied{Coupon: c, Discount: discount}
		}
	}
	return best, nil
}

func check(c *UserCoupon, userID int64, now time.Time) error {
	if c.UserID != userID {
		return ErrCouponNotOwned
	}
	return c.Usable(now)
}
