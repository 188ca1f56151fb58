package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is how an order was paid.
type PaymentMethod string

const (
	PaymentFree     PaymentMethod = "FREE"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
)

// PaymentStatus is the payment lifecycle state.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Payment is the single payment record of an order.
type Payment struct {
	ID      int64
	OrderID int64
	Amount  decimal.Decimal
	Method  PaymentMethod
	Status  PaymentStatus
	PaidAt  *time.Time
	Cancels []PaymentCancel
}

// PaymentCancel is a full or partial cancellation of a payment.
type PaymentCancel struct {
	Amount      decimal.Decimal
	Reason      string
	CancelledAt time.Time
}

// PurchaseStatus is the purchase lifecycle state.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "PENDING"
	PurchaseCompleted PurchaseStatus = "COMPLETED"
)

// Purchase grants the buyer access to the content once payment completed.
// Completed purchases feed seller settlement.
type Purchase struct {
	ID          int64
	OrderID     int64
	ContentID   int64
	SellerID    int64
	UserID      *int64
	GuestKey    string
	Status      PurchaseStatus
	PurchasedAt time.Time
}

// PaymentRepository persists payments.
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
}

// PurchaseRepository persists purchases.
type PurchaseRepository interface {
	Create(ctx context.Context, p *Purchase) error
}
