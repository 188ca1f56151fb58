// Package settlement aggregates completed purchases into per-seller payout
// cycles and drives their approval and payout.
package settlement

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-settlement/internal/domain/fee"
)

// Status is the settlement lifecycle state.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusProcessing    Status = "PROCESSING"
	StatusCompleted     Status = "COMPLETED"
	StatusOnHold        Status = "ON_HOLD"
	StatusCancelled     Status = "CANCELLED"
	StatusNotApplicable Status = "NOT_APPLICABLE"
)

// transitions lists the allowed forward moves. NOT_APPLICABLE is only ever
// assigned on creation.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusOnHold, StatusCancelled},
	StatusOnHold:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusOnHold},
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNotApplicable:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// TransferStatus tracks the asynchronous payout result reported by the PG.
type TransferStatus string

const (
	TransferNone      TransferStatus = "NONE"
	TransferRequested TransferStatus = "REQUESTED"
	TransferSucceeded TransferStatus = "SUCCEEDED"
	TransferFailed    TransferStatus = "FAILED"
)

// HoldReasonUnverified is the hold reason of settlements created for sellers
// whose payout account is not verified yet. Such settlements are recomputed
// by the next aggregation run.
const HoldReasonUnverified = "seller payout account is not verified"

// Settlement is the payout to one seller for one cycle.
type Settlement struct {
	ID       int64
	SellerID int64

	StartDate     time.Time
	EndDate       time.Time
	ScheduledDate time.Time

	Totals

	Status  Status
	Version int

	HoldReason     string
	ApprovedBy     *int64
	ApprovalReason string
	ApprovedAmount decimal.Decimal
	SettledAt      *time.Time

	APITranID      string
	BillingTranID  string
	GroupKey       string
	BankTranID     string
	TransferStatus TransferStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// replaceable reports whether aggregation may recompute s. Rows that moved
// money or were decided by an admin are left alone.
func (s *Settlement) replaceable() bool {
	switch s.Status {
	case StatusPending, StatusNotApplicable:
		return true
	case StatusOnHold:
		return s.HoldReason == HoldReasonUnverified && s.ApprovedBy == nil
	default:
		return false
	}
}

// Item is one purchase included in a settlement. Rates are captured at
// aggregation time and never follow later policy changes.
type Item struct {
	ID           int64
	SettlementID int64
	PurchaseID   int64
	OrderID      int64
	PolicyID     int64

	SalesAmount   decimal.Decimal
	CapturedRates fee.Rates

	PgFee                   decimal.Decimal
	PlatformFee             decimal.Decimal
	VatAmount               decimal.Decimal
	TotalFee                decimal.Decimal
	SettlementAmount        decimal.Decimal
	SettlementAmountDisplay decimal.Decimal
	PgFeeRefundExpected     decimal.Decimal

	IsRefunded  bool
	PurchasedAt time.Time
}

// Breakdown recomputes the fee split of the item from its captured rates.
func (i Item) Breakdown() fee.Breakdown {
	return fee.Calculate(i.SalesAmount, i.CapturedRates)
}

var (
	// ErrSettlementNotFound is returned when a settlement does not exist.
	ErrSettlementNotFound = errors.New("settlement not found")
	// ErrNoSettlementIDs is returned when an approval names no settlements.
	ErrNoSettlementIDs = errors.New("at least one settlement id is required")
)

// ConcurrencyConflictError is returned when a settlement changed since it
// was loaded.
type ConcurrencyConflictError struct {
	SettlementID int64
	Version      int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("settlement %d was modified concurrently (expected version %d)", e.SettlementID, e.Version)
}

// InvalidTransitionError is returned for a transition the lifecycle forbids.
type InvalidTransitionError struct {
	SettlementID int64
	From         Status
	To           Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("settlement %d cannot move from %s to %s", e.SettlementID, e.From, e.To)
}
