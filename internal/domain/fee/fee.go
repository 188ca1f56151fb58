// Package fee resolves the versioned fee policies that apply to a sale and
// computes the per-item fee breakdown used by settlement.
package fee

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Scope is the reach of a fee policy.
type Scope string

const (
	// ScopePlatform applies to every seller without a more specific policy.
	ScopePlatform Scope = "PLATFORM"
	// ScopeSeller applies to a single seller and overrides platform policies.
	ScopeSeller Scope = "SELLER"
)

// Rates is the full rate set of a policy. Applied rates are what is actually
// deducted, display rates are shown to sellers and baseline rates are the
// published standard.
type Rates struct {
	PgFeeApplied        decimal.Decimal
	PgFeeDisplay        decimal.Decimal
	PgFeeBaseline       decimal.Decimal
	PlatformFeeApplied  decimal.Decimal
	PlatformFeeDisplay  decimal.Decimal
	PlatformFeeBaseline decimal.Decimal
	VAT                 decimal.Decimal
}

// Policy is an immutable, versioned fee policy row. A policy is superseded by
// inserting a row with a higher version in the same scope.
type Policy struct {
	ID            int64
	Scope         Scope
	SellerID      *int64
	Version       int
	EffectiveFrom time.Time
	// EffectiveTo is exclusive. Nil means open ended.
	EffectiveTo *time.Time
	Rates       Rates
	CreatedAt   time.Time
}

// Covers reports whether at falls inside [EffectiveFrom, EffectiveTo).
func (p Policy) Covers(at time.Time) bool {
	if at.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || at.Before(*p.EffectiveTo)
}

// Repository provides access to stored fee policies.
type Repository interface {
	// ListForSeller returns every platform policy plus the policies scoped to
	// the given seller.
	ListForSeller(ctx context.Context, sellerID int64) ([]Policy, error)
	// Insert stores p with the next version of its scope and fills ID,
	// Version and CreatedAt.
	Insert(ctx context.Context, p *Policy) error
}

// PolicyNotFoundError is returned when no policy covers a sale. Aggregation of
// the affected seller cannot complete until a policy is published.
type PolicyNotFoundError struct {
	SellerID int64
	At       time.Time
}

func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("no fee policy for seller %d at %s", e.SellerID, e.At.Format(time.RFC3339))
}

// InvalidPolicyError reports a rejected policy publication.
type InvalidPolicyError struct {
	Field  string
	Reason string
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid fee policy %s: %s", e.Field, e.Reason)
}
