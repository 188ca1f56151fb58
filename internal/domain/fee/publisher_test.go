package fee

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_Publish(t *testing.T) {
	repo := &mockPolicyRepo{}
	p := NewPublisher(repo)
	ctx := context.Background()

	first, err := p.Publish(ctx, NewPolicy{Scope: ScopePlatform, EffectiveFrom: date(2025, 1, 1), Rates: standardRates()})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := p.Publish(ctx, NewPolicy{Scope: ScopePlatform, EffectiveFrom: date(2025, 6, 1), Rates: ratesWithPg("0.025")})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	seller, err := p.Publish(ctx, NewPolicy{Scope: ScopeSeller, SellerID: ptr(int64(3)), EffectiveFrom: date(2025, 1, 1), Rates: standardRates()})
	require.NoError(t, err)
	assert.Equal(t, 1, seller.Version, "versions are per scope")

	// The first row is untouched by supersession.
	assert.Equal(t, 1, repo.policies[0].Version)
	assert.True(t, d("0.029").Equal(repo.policies[0].Rates.PgFeeApplied))
}

func TestPublisher_PlatformDropsSellerID(t *testing.T) {
	repo := &mockPolicyRepo{}
	got, err := NewPublisher(repo).Publish(context.Background(), NewPolicy{
		Scope:         ScopePlatform,
		SellerID:      ptr(int64(9)),
		EffectiveFrom: date(2025, 1, 1),
		Rates:         standardRates(),
	})
	require.NoError(t, err)
	assert.Nil(t, got.SellerID)
}

func TestPublisher_Validation(t *testing.T) {
	badRate := standardRates()
	badRate.VAT = d("1")
	negRate := standardRates()
	negRate.PlatformFeeApplied = d("-0.01")

	tests := []struct {
		name      string
		in        NewPolicy
		wantField string
	}{
		{
			name:      "unknown scope",
			in:        NewPolicy{Scope: "GLOBAL", EffectiveFrom: date(2025, 1, 1), Rates: standardRates()},
			wantField: "scope",
		},
		{
			name:      "seller scope without seller",
			in:        NewPolicy{Scope: ScopeSeller, EffectiveFrom: date(2025, 1, 1), Rates: standardRates()},
			wantField: "sellerId",
		},
		{
			name:      "missing start",
			in:        NewPolicy{Scope: ScopePlatform, Rates: standardRates()},
			wantField: "effectiveFrom",
		},
		{
			name:      "empty window",
			in:        NewPolicy{Scope: ScopePlatform, EffectiveFrom: date(2025, 1, 1), EffectiveTo: ptr(date(2025, 1, 1)), Rates: standardRates()},
			wantField: "effectiveTo",
		},
		{
			name:      "rate of one",
			in:        NewPolicy{Scope: ScopePlatform, EffectiveFrom: date(2025, 1, 1), Rates: badRate},
			wantField: "vatRate",
		},
		{
			name:      "negative rate",
			in:        NewPolicy{Scope: ScopePlatform, EffectiveFrom: date(2025, 1, 1), Rates: negRate},
			wantField: "platformFeeRateApplied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockPolicyRepo{}
			_, err := NewPublisher(repo).Publish(context.Background(), tt.in)

			var invalid *InvalidPolicyError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.wantField, invalid.Field)
			assert.Empty(t, repo.policies)
		})
	}
}

func TestPublisher_InsertError(t *testing.T) {
	repo := &mockPolicyRepo{insertErr: errors.New("unique violation")}
	_, err := NewPublisher(repo).Publish(context.Background(), NewPolicy{
		Scope: ScopePlatform, EffectiveFrom: date(2025, 1, 1), Rates: standardRates(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert fee policy")
}
