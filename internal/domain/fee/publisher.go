package fee

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// NewPolicy is the input for publishing a fee policy.
type NewPolicy struct {
	Scope         Scope
	SellerID      *int64
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Rates         Rates
}

// Publisher validates and stores new fee policy versions. Existing rows are
// never updated.
type Publisher struct {
	repo Repository
}

// NewPublisher creates a Publisher backed by repo.
func NewPublisher(repo Repository) *Publisher {
	return &Publisher{repo: repo}
}

// Publish stores np as the next version of its scope.
func (p *Publisher) Publish(ctx context.Context, np NewPolicy) (*Policy, error) {
	if err := np.validate(); err != nil {
		return nil, err
	}

	policy := &Policy{
		Scope:         np.Scope,
		SellerID:      np.SellerID,
		EffectiveFrom: np.EffectiveFrom,
		EffectiveTo:   np.EffectiveTo,
		Rates:         np.Rates,
	}
	if np.Scope == ScopePlatform {
		policy.SellerID = nil
	}
	if err := p.repo.Insert(ctx, policy); err != nil {
		return nil, errors.Wrap(err, "insert fee policy")
	}
	return policy, nil
}

var one = decimal.NewFromInt(1)

func (np NewPolicy) validate() error {
	switch np.Scope {
	case ScopePlatform:
	case ScopeSeller:
		if np.SellerID == nil {
			return &InvalidPolicyError{Field: "sellerId", Reason: "required for SELLER scope"}
		}
	default:
		return &InvalidPolicyError{Field: "scope", Reason: "must be PLATFORM or SELLER"}
	}

	if np.EffectiveFrom.IsZero() {
		return &InvalidPolicyError{Field: "effectiveFrom", Reason: "required"}
	}
	if np.EffectiveTo != nil && !np.EffectiveFrom.Before(*np.EffectiveTo) {
		return &InvalidPolicyError{Field: "effectiveTo", Reason: "must be after effectiveFrom"}
	}

	rates := []struct {
		field string
		value decimal.Decimal
	}{
		{"pgFeeRateApplied", np.Rates.PgFeeApplied},
		{"pgFeeRateDisplay", np.Rates.PgFeeDisplay},
		{"pgFeeRateBaseline", np.Rates.PgFeeBaseline},
		{"platformFeeRateApplied", np.Rates.PlatformFeeApplied},
		{"platformFeeRateDisplay", np.Rates.PlatformFeeDisplay},
		{"platformFeeRateBaseline", np.Rates.PlatformFeeBaseline},
		{"vatRate", np.Rates.VAT},
	}
	for _, r := range rates {
		if r.value.IsNegative() || r.value.GreaterThanOrEqual(one) {
			return &InvalidPolicyError{Field: r.field, Reason: "must be in [0, 1)"}
		}
	}
	return nil
}
