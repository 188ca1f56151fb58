package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
	StatusFailed    Status = "FAILED"
)

// Order is a request to buy options of a single content.
//
// FinalPrice = OriginalPrice - CouponDiscountPrice and is never negative.
type Order struct {
	ID int64
	// MerchantUID is derived from ID and therefore assigned after the first
	// save.
	MerchantUID         string
	UserID              *int64
	GuestKey            string
	ContentID           int64
	SellerID            int64
	Items               []Item
	OriginalPrice       decimal.Decimal
	CouponDiscountPrice decimal.Decimal
	FinalPrice          decimal.Decimal
	UserCouponID        *int64
	Status              Status
	FailureReason       string
	PaidAt              *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsFree reports whether nothing is left to pay.
func (o *Order) IsFree() bool {
	return o.FinalPrice.IsZero()
}

// Item is one purchased option line.
type Item struct {
	OptionID   int64           `json:"optionId"`
	OptionKind OptionKind      `json:"optionKind"`
	OptionName string          `json:"optionName"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// MerchantUID builds the human readable order number: "ORD", the UTC
// creation date and the zero padded order id.
func MerchantUID(id int64, createdAt time.Time) string {
	return fmt.Sprintf("ORD%s%010d", createdAt.UTC().Format("20060102"), id)
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts o and fills ID, CreatedAt and UpdatedAt.
	Create(ctx context.Context, o *Order) error
	SetMerchantUID(ctx context.Context, id int64, merchantUID string) error
	// Get returns ErrOrderNotFound when the order does not exist.
	Get(ctx context.Context, id int64) (*Order, error)
	// UpdateStatus persists Status, FailureReason and PaidAt.
	UpdateStatus(ctx context.Context, o *Order) error
}

// ErrValidation is matched by every input validation error of this package.
var ErrValidation = errors.New("validation failed")

var (
	// ErrNoOptions is returned when an order selects no options.
	ErrNoOptions = fmt.Errorf("at least one option is required: %w", ErrValidation)
	// ErrUnknownUser is returned for a user context that is neither a member
	// nor a guest.
	ErrUnknownUser = fmt.Errorf("member id or guest key is required: %w", ErrValidation)
	// ErrContentNotFound is returned when the ordered content does not exist.
	ErrContentNotFound = errors.New("content not found")
	// ErrOrderNotFound is returned when an order does not exist or belongs to
	// someone else.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotCancellable is returned when cancelling an order that is no
	// longer pending.
	ErrOrderNotCancellable = errors.New("order cannot be cancelled")
)

// OptionNotFoundError indicates the content has no option with the given id.
type OptionNotFoundError struct {
	ContentID int64
	OptionID  int64
}

func (e *OptionNotFoundError) Error() string {
	return fmt.Sprintf("option %d not found in content %d", e.OptionID, e.ContentID)
}

// Is makes the error match ErrValidation.
func (e *OptionNotFoundError) Is(target error) bool { return target == ErrValidation }

// InvalidQuantityError indicates a non-positive quantity.
type InvalidQuantityError struct {
	OptionID int64
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for option %d, got %d", e.OptionID, e.Quantity)
}

// Is makes the error match ErrValidation.
func (e *InvalidQuantityError) Is(target error) bool { return target == ErrValidation }
