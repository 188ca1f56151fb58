package order

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-settlement/internal/domain/coupon"
)

// UserKind discriminates UserContext.
type UserKind int

const (
	UserUnknown UserKind = iota
	UserMember
	UserGuest
)

// UserContext identifies who places an order: a signed-in member or a guest
// holding a guest key.
type UserContext struct {
	Kind     UserKind
	UserID   int64
	GuestKey string
}

// Member returns the context of a signed-in member.
func Member(userID int64) UserContext {
	return UserContext{Kind: UserMember, UserID: userID}
}

// Guest returns the context of a guest buyer.
func Guest(guestKey string) UserContext {
	return UserContext{Kind: UserGuest, GuestKey: guestKey}
}

// owns reports whether o was placed by u.
func (u UserContext) owns(o *Order) bool {
	switch u.Kind {
	case UserMember:
		return o.UserID != nil && *o.UserID == u.UserID
	case UserGuest:
		return o.UserID == nil && o.GuestKey != "" && o.GuestKey == u.GuestKey
	default:
		return false
	}
}

// processor holds the behaviour that differs between members and guests.
type processor interface {
	stamp(o *Order)
	stampPurchase(p *Purchase)
	bestCoupon(ctx context.Context, codes []string, amount decimal.Decimal) (*coupon.Applied, error)
}

type memberProcessor struct {
	userID  int64
	coupons CouponSelector
}

func (p memberProcessor) stamp(o *Order) {
	id := p.userID
	o.UserID = &id
}

func (p memberProcessor) stampPurchase(pu *Purchase) {
	id := p.userID
	pu.UserID = &id
}

func (p memberProcessor) bestCoupon(ctx context.Context, codes []string, amount decimal.Decimal) (*coupon.Applied, error) {
	return p.coupons.Best(ctx, p.userID, codes, amount)
}

// guestProcessor ignores coupon codes: guests cannot own coupons.
type guestProcessor struct {
	guestKey string
}

func (p guestProcessor) stamp(o *Order)            { o.GuestKey = p.guestKey }
func (p guestProcessor) stampPurchase(pu *Purchase) { pu.GuestKey = p.guestKey }

func (guestProcessor) bestCoupon(context.Context, []string, decimal.Decimal) (*coupon.Applied, error) {
	return nil, nil
}
