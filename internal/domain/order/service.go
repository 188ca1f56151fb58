package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-settlement/internal/domain/coupon"
)

// CouponSelector picks the best coupon of a member for an order amount.
type CouponSelector interface {
	Best(ctx context.Context, userID int64, codes []string, amount decimal.Decimal) (*coupon.Applied, error)
}

// CouponRedeemer marks a coupon as used by an order.
type CouponRedeemer interface {
	MarkUsed(ctx context.Context, couponID, orderID int64, at time.Time) error
}

// OptionSelection is a requested option and quantity.
type OptionSelection struct {
	OptionID int64
	Quantity int
}

// CreateOrderRequest holds the input for creating an order.
type CreateOrderRequest struct {
	ContentID   int64
	Options     []OptionSelection
	CouponCodes []string
}

// Completion is the outcome of completing a free order. A failed completion
// leaves the order FAILED with Reason; it is not returned as an error.
type Completion struct {
	Completed bool
	Reason    string
	Payment   *Payment
	Purchase  *Purchase
}

// CreateOrderResult holds the output of CreateOrder.
type CreateOrderResult struct {
	Order         *Order
	AppliedCoupon *coupon.Applied
	// Completion is nil unless the order was free.
	Completion *Completion
}

// Service encapsulates order creation and cancellation.
type Service struct {
	contents  ContentRepository
	orders    Repository
	payments  PaymentRepository
	purchases PurchaseRepository
	coupons   CouponSelector
	redeemer  CouponRedeemer
	now       func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	contents ContentRepository,
	orders Repository,
	payments PaymentRepository,
	purchases PurchaseRepository,
	coupons CouponSelector,
	redeemer CouponRedeemer,
) *Service {
	return &Service{
		contents:  contents,
		orders:    orders,
		payments:  payments,
		purchases: purchases,
		coupons:   coupons,
		redeemer:  redeemer,
		now:       time.Now,
	}
}

func (s *Service) processorFor(user UserContext) (processor, error) {
	switch user.Kind {
	case UserMember:
		return memberProcessor{userID: user.UserID, coupons: s.coupons}, nil
	case UserGuest:
		if user.GuestKey == "" {
			return nil, ErrUnknownUser
		}
		return guestProcessor{guestKey: user.GuestKey}, nil
	default:
		return nil, ErrUnknownUser
	}
}

// CreateOrder prices the selected options, applies the best coupon, persists
// the order and completes it right away when nothing is left to pay.
func (s *Service) CreateOrder(ctx context.Context, user UserContext, req CreateOrderRequest) (*CreateOrderResult, error) {
	p, err := s.processorFor(user)
	if err != nil {
		return nil, err
	}
	if len(req.Options) == 0 {
		return nil, ErrNoOptions
	}

	content, err := s.contents.Get(ctx, req.ContentID)
	if err != nil {
		return nil, errors.Wrap(err, "get content")
	}

	items, original, err := priceItems(content, req.Options)
	if err != nil {
		return nil, err
	}

	applied, err := p.bestCoupon(ctx, req.CouponCodes, original)
	if err != nil {
		return nil, errors.Wrap(err, "select coupon")
	}

	discount := decimal.Zero
	var couponID *int64
	if applied != nil {
		discount = applied.Discount
		id := applied.Coupon.ID
		couponID = &id
	}

	o := &Order{
		ContentID:           content.ID,
		SellerID:            content.SellerID,
		Items:               items,
		OriginalPrice:       original,
		CouponDiscountPrice: discount,
		FinalPrice:          original.Sub(discount),
		UserCouponID:        couponID,
		Status:              StatusPending,
	}
	p.stamp(o)

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	o.MerchantUID = MerchantUID(o.ID, o.CreatedAt)
	if err := s.orders.SetMerchantUID(ctx, o.ID, o.MerchantUID); err != nil {
		return nil, errors.Wrap(err, "set merchant uid")
	}

	result := &CreateOrderResult{Order: o, AppliedCoupon: applied}
	if o.IsFree() {
		c := s.completeFree(ctx, p, o, applied)
		result.Completion = &c
	}
	return result, nil
}

func priceItems(content *Content, selections []OptionSelection) ([]Item, decimal.Decimal, error) {
	items := make([]Item, 0, len(selections))
	total := decimal.Zero
	for _, sel := range selections {
		opt, ok := content.Option(sel.OptionID)
		if !ok {
			return nil, decimal.Zero, &OptionNotFoundError{ContentID: content.ID, OptionID: sel.OptionID}
		}
		if sel.Quantity <= 0 {
			return nil, decimal.Zero, &InvalidQuantityError{OptionID: sel.OptionID, Quantity: sel.Quantity}
		}

		line := opt.Price.Mul(decimal.NewFromInt(int64(sel.Quantity)))
		items = append(items, Item{
			OptionID:   opt.ID,
			OptionKind: opt.Kind,
			OptionName: opt.Name,
			UnitPrice:  opt.Price,
			Quantity:   sel.Quantity,
			TotalPrice: line,
		})
		total = total.Add(line)
	}
	return items, total, nil
}

// completeFree records a zero amount payment and a completed purchase, redeems
// the coupon and marks the order PAID. The steps are separate writes; the
// first failure marks the order FAILED and is reported in the Completion.
func (s *Service) completeFree(ctx context.Context, p processor, o *Order, applied *coupon.Applied) Completion {
	now := s.now()

	payment := &Payment{
		OrderID: o.ID,
		Amount:  decimal.Zero,
		Method:  PaymentFree,
		Status:  PaymentCompleted,
		PaidAt:  &now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return s.fail(ctx, o, errors.Wrap(err, "create payment"))
	}

	purchase := &Purchase{
		OrderID:     o.ID,
		ContentID:   o.ContentID,
		SellerID:    o.SellerID,
		Status:      PurchaseCompleted,
		PurchasedAt: now,
	}
	p.stampPurchase(purchase)
	if err := s.purchases.Create(ctx, purchase); err != nil {
		return s.fail(ctx, o, errors.Wrap(err, "create purchase"))
	}

	if applied != nil {
		if err := s.redeemer.MarkUsed(ctx, applied.Coupon.ID, o.ID, now); err != nil {
			return s.fail(ctx, o, errors.Wrap(err, "redeem coupon"))
		}
	}

	o.Status = StatusPaid
	o.PaidAt = &now
	if err := s.orders.UpdateStatus(ctx, o); err != nil {
		o.PaidAt = nil
		return s.fail(ctx, o, errors.Wrap(err, "mark order paid"))
	}

	return Completion{Completed: true, Payment: payment, Purchase: purchase}
}

func (s *Service) fail(ctx context.Context, o *Order, cause error) Completion {
	lg := zctx.From(ctx).With(zap.Int64("order_id", o.ID))
	lg.Warn("Free order completion failed", zap.Error(cause))

	o.Status = StatusFailed
	o.FailureReason = cause.Error()
	if err := s.orders.UpdateStatus(ctx, o); err != nil {
		lg.Error("Mark order failed", zap.Error(err))
	}
	return Completion{Reason: cause.Error()}
}

// CancelOrder cancels a pending order placed by user.
func (s *Service) CancelOrder(ctx context.Context, user UserContext, orderID int64) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !user.owns(o) {
		return nil, ErrOrderNotFound
	}
	if o.Status != StatusPending {
		return nil, errors.Wrapf(ErrOrderNotCancellable, "order %d is %s", o.ID, o.Status)
	}

	o.Status = StatusCancelled
	if err := s.orders.UpdateStatus(ctx, o); err != nil {
		return nil, errors.Wrap(err, "cancel order")
	}
	return o, nil
}
