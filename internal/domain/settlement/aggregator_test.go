package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace-settlement/internal/domain/fee"
)

const sellerID = int64(7)

var (
	aggregatedAt = time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC)
	march        = MonthlyCycle(2025, time.March, 10, time.UTC)
)

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 12, 0, 0, 0, time.UTC)
}

func marchSales() []Sale {
	return []Sale{
		{PurchaseID: 1, OrderID: 11, SellerID: sellerID, Amount: d("150000"), PurchasedAt: day(time.March, 3)},
		{PurchaseID: 2, OrderID: 12, SellerID: sellerID, Amount: d("33333"), PurchasedAt: day(time.March, 15)},
		{PurchaseID: 3, OrderID: 13, SellerID: sellerID, Amount: d("50000"), PurchasedAt: day(time.March, 20), Refunded: true},
		{PurchaseID: 4, OrderID: 14, SellerID: sellerID, Amount: d("70000"), PurchasedAt: day(time.April, 2)},
	}
}

func platformPolicy() fee.Policy {
	return fee.Policy{
		ID:            1,
		Scope:         fee.ScopePlatform,
		Version:       1,
		EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Rates:         standardRates(),
	}
}

type aggregatorFixture struct {
	repo    *mockRepo
	sales   *mockSales
	sellers *mockSellers
	agg     *Aggregator
}

func newAggregatorFixture(policies ...fee.Policy) *aggregatorFixture {
	if len(policies) == 0 {
		policies = []fee.Policy{platformPolicy()}
	}
	f := &aggregatorFixture{
		repo:  newMockRepo(),
		sales: &mockSales{sales: marchSales()},
		sellers: &mockSellers{accounts: map[int64]*PayoutAccount{
			sellerID: {SellerID: sellerID, Nickname: "gopher", Verified: true, BillingTranID: "BT-7"},
		}},
	}
	resolver := fee.NewResolver(&mockPolicies{policies: policies})
	f.agg = NewAggregator(f.repo, f.sales, resolver, f.sellers)
	f.agg.now = func() time.Time { return aggregatedAt }
	return f
}

func TestAggregateSeller(t *testing.T) {
	f := newAggregatorFixture()

	res, err := f.agg.AggregateSeller(context.Background(), sellerID, march)
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.False(t, res.Skipped)

	s := res.Settlement
	assert.Equal(t, StatusPending, s.Status)
	assert.Equal(t, TransferNone, s.TransferStatus)
	assert.True(t, march.Start.Equal(s.StartDate))
	assert.True(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC).Equal(s.EndDate))
	assert.True(t, time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC).Equal(s.ScheduledDate))

	assert.Equal(t, 3, s.ItemCount)
	assert.Equal(t, 1, s.RefundCount)
	assertMoney(t, "183333", s.TotalSalesAmount, "TotalSalesAmount")
	assertMoney(t, "50000", s.TotalRefundAmount, "TotalRefundAmount")
	assertMoney(t, "15932", s.TotalFee, "TotalFee")
	assertMoney(t, "167401", s.SettlementAmount, "SettlementAmount")
	assert.True(t, s.TotalSalesAmount.Sub(s.TotalFee).Equal(s.SettlementAmount))
	assert.True(t, s.TotalSalesAmount.Sub(s.TotalFeeDisplay).Equal(s.SettlementAmountDisplay))

	stored := f.repo.items[s.ID]
	require.Len(t, stored, 3)
	for _, it := range stored {
		assert.Equal(t, s.ID, it.SettlementID)
		assert.Equal(t, int64(1), it.PolicyID)
	}
	assertMoney(t, "136965", stored[0].SettlementAmount, "item SettlementAmount")
	assertMoney(t, "1980", stored[0].PgFeeRefundExpected, "item PgFeeRefundExpected")
}

func TestAggregateSeller_CapturesRatesOfPolicyInForce(t *testing.T) {
	sellerRates := standardRates()
	sellerRates.PlatformFeeApplied = d("0.03")
	sellerPolicy := fee.Policy{
		ID:            2,
		Scope:         fee.ScopeSeller,
		SellerID:      func() *int64 { id := sellerID; return &id }(),
		Version:       1,
		EffectiveFrom: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Rates:         sellerRates,
	}
	f := newAggregatorFixture(platformPolicy(), sellerPolicy)

	res, err := f.agg.AggregateSeller(context.Background(), sellerID, march)
	require.NoError(t, err)

	byPurchase := make(map[int64]Item)
	for _, it := range res.Items {
		byPurchase[it.PurchaseID] = it
	}
	assert.Equal(t, int64(1), byPurchase[1].PolicyID)
	assert.Equal(t, int64(2), byPurchase[2].PolicyID)
	assertMoney(t, "0.03", byPurchase[2].CapturedRates.PlatformFeeApplied, "captured platform rate")
	assertMoney(t, "1000", byPurchase[2].PlatformFee, "PlatformFee")
}

func TestAggregateSeller_ReplacesPending(t *testing.T) {
	f := newAggregatorFixture()
	ctx := context.Background()

	first, err := f.agg.AggregateSeller(ctx, sellerID, march)
	require.NoError(t, err)

	f.sales.sales = append(f.sales.sales, Sale{
		PurchaseID: 5, OrderID: 15, SellerID: sellerID, Amount: d("10000"), PurchasedAt: day(time.March, 28),
	})
	second, err := f.agg.AggregateSeller(ctx, sellerID, march)
	require.NoError(t, err)

	assert.NotEqual(t, first.Settlement.ID, second.Settlement.ID)
	require.Len(t, f.repo.settlements, 1)
	assert.NotContains(t, f.repo.items, first.Settlement.ID)
	assert.Equal(t, 4, second.Settlement.ItemCount)
	assertMoney(t, "193333", second.Settlement.TotalSalesAmount, "TotalSalesAmount")
}

func TestAggregateSeller_SkipsSettledRows(t *testing.T) {
	admin := int64(1)
	tests := []struct {
		name     string
		existing Settlement
	}{
		{name: "completed", existing: Settlement{Status: StatusCompleted}},
		{name: "processing", existing: Settlement{Status: StatusProcessing}},
		{name: "cancelled", existing: Settlement{Status: StatusCancelled}},
		{name: "held by admin", existing: Settlement{Status: StatusOnHold, HoldReason: "manual review", ApprovedBy: &admin}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAggregatorFixture()
			tt.existing.SellerID = sellerID
			tt.existing.StartDate = march.Start
			tt.existing.SettlementAmount = d("1")
			existing := f.repo.put(tt.existing, nil)

			res, err := f.agg.AggregateSeller(context.Background(), sellerID, march)
			require.NoError(t, err)

			assert.True(t, res.Skipped)
			assert.Equal(t, existing.ID, res.Settlement.ID)
			require.Len(t, f.repo.settlements, 1)
			assertMoney(t, "1", f.repo.settlements[existing.ID].SettlementAmount, "untouched amount")
		})
	}
}

func TestAggregateSeller_UnverifiedSellerOnHold(t *testing.T) {
	f := newAggregatorFixture()
	f.sellers.accounts[sellerID].Verified = false
	ctx := context.Background()

	res, err := f.agg.AggregateSeller(ctx, sellerID, march)
	require.NoError(t, err)
	assert.Equal(t, StatusOnHold, res.Settlement.Status)
	assert.Equal(t, HoldReasonUnverified, res.Settlement.HoldReason)

	// Once verified, the next run recomputes the held settlement.
	f.sellers.accounts[sellerID].Verified = true
	res, err = f.agg.AggregateSeller(ctx, sellerID, march)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, StatusPending, res.Settlement.Status)
	assert.Empty(t, res.Settlement.HoldReason)
	require.Len(t, f.repo.settlements, 1)
}

func TestAggregateSeller_AllRefundedIsNotApplicable(t *testing.T) {
	f := newAggregatorFixture()
	for i := range f.sales.sales {
		f.sales.sales[i].Refunded = true
	}

	res, err := f.agg.AggregateSeller(context.Background(), sellerID, march)
	require.NoError(t, err)

	s := res.Settlement
	assert.Equal(t, StatusNotApplicable, s.Status)
	assert.Equal(t, 3, s.RefundCount)
	assert.True(t, s.TotalSalesAmount.IsZero())
	assert.True(t, s.SettlementAmount.IsZero())
	assertMoney(t, "233333", s.TotalRefundAmount, "TotalRefundAmount")
}

func TestAggregateSeller_NoSales(t *testing.T) {
	f := newAggregatorFixture()
	f.sales.sales = nil

	res, err := f.agg.AggregateSeller(context.Background(), sellerID, march)
	require.NoError(t, err)
	assert.Nil(t, res.Settlement)
	assert.Empty(t, f.repo.settlements)
}

func TestAggregateSeller_PolicyNotFound(t *testing.T) {
	late := platformPolicy()
	late.EffectiveFrom = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	f := newAggregatorFixture(late)

	_, err := f.agg.AggregateSeller(context.Background(), sellerID, march)

	var pnf *fee.PolicyNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, sellerID, pnf.SellerID)
	assert.Empty(t, f.repo.settlements)
}

func TestAggregateSeller_SaveFailure(t *testing.T) {
	f := newAggregatorFixture()
	f.repo.replaceErr = errors.New("connection reset")

	_, err := f.agg.AggregateSeller(context.Background(), sellerID, march)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save settlement")
}

func TestAggregateCycle_ContinuesOnError(t *testing.T) {
	f := newAggregatorFixture()
	f.sales.sales = append(f.sales.sales,
		Sale{PurchaseID: 20, OrderID: 30, SellerID: 8, Amount: d("20000"), PurchasedAt: day(time.March, 5)},
		Sale{PurchaseID: 21, OrderID: 31, SellerID: 9, Amount: d("30000"), PurchasedAt: day(time.March, 6)},
	)
	f.sales.failFor = 8

	report, err := f.agg.AggregateCycle(context.Background(), march)
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, int64(8), report.Failures[0].SellerID)
	require.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Created())
	assert.Zero(t, report.Skipped())

	statuses := make(map[int64]Status)
	for _, res := range report.Results {
		statuses[res.SellerID] = res.Settlement.Status
	}
	assert.Equal(t, StatusPending, statuses[sellerID])
	assert.Equal(t, StatusOnHold, statuses[9])
}

func TestAggregateCycle_ListSellersFailure(t *testing.T) {
	f := newAggregatorFixture()
	f.sales.listErr = errors.New("db down")

	_, err := f.agg.AggregateCycle(context.Background(), march)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list sellers with sales")
}
