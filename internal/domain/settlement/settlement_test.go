package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusOnHold, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusOnHold, StatusProcessing, true},
		{StatusOnHold, StatusCancelled, true},
		{StatusOnHold, StatusPending, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusOnHold, true},
		{StatusProcessing, StatusCancelled, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusOnHold, false},
		{StatusCancelled, StatusPending, false},
		{StatusNotApplicable, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusNotApplicable.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, StatusOnHold.IsTerminal())
}

func TestSettlement_Replaceable(t *testing.T) {
	admin := int64(1)
	tests := []struct {
		name string
		s    Settlement
		want bool
	}{
		{name: "pending", s: Settlement{Status: StatusPending}, want: true},
		{name: "not applicable", s: Settlement{Status: StatusNotApplicable}, want: true},
		{name: "held for unverified account", s: Settlement{Status: StatusOnHold, HoldReason: HoldReasonUnverified}, want: true},
		{name: "held by admin", s: Settlement{Status: StatusOnHold, HoldReason: "fraud review"}, want: false},
		{name: "held after approval attempt", s: Settlement{Status: StatusOnHold, HoldReason: HoldReasonUnverified, ApprovedBy: &admin}, want: false},
		{name: "processing", s: Settlement{Status: StatusProcessing}, want: false},
		{name: "completed", s: Settlement{Status: StatusCompleted}, want: false},
		{name: "cancelled", s: Settlement{Status: StatusCancelled}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.replaceable())
		})
	}
}

func TestSummarize(t *testing.T) {
	rates := standardRates()
	items := []Item{
		{SalesAmount: d("33333"), CapturedRates: rates, PurchasedAt: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)},
		{SalesAmount: d("150000"), CapturedRates: rates, PurchasedAt: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)},
		{SalesAmount: d("50000"), CapturedRates: rates, IsRefunded: true, PurchasedAt: time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)},
	}

	got := Summarize(items)

	assert.Equal(t, 3, got.ItemCount)
	assert.Equal(t, 1, got.RefundCount)
	assert.Equal(t, 2, got.SettledItemCount())
	assertMoney(t, "183333", got.TotalSalesAmount, "TotalSalesAmount")
	assertMoney(t, "50000", got.TotalRefundAmount, "TotalRefundAmount")
	assertMoney(t, "15932", got.TotalFee, "TotalFee")
	assertMoney(t, "167401", got.SettlementAmount, "SettlementAmount")
	assertMoney(t, "2420", got.PgFeeRefundExpected, "PgFeeRefundExpected")
	assertMoney(t, "0.1", got.VatRate, "VatRate")
}

func TestSummarize_Identity(t *testing.T) {
	rates := standardRates()
	var items []Item
	for i, sales := range []string{"1", "999", "10001", "33333", "150000", "2749990"} {
		items = append(items, Item{
			SalesAmount:   d(sales),
			CapturedRates: rates,
			PurchasedAt:   time.Date(2025, 3, i+1, 0, 0, 0, 0, time.UTC),
		})
	}

	got := Summarize(items)
	assert.True(t, got.TotalSalesAmount.Sub(got.TotalFee).Equal(got.SettlementAmount))
	assert.True(t, got.TotalSalesAmount.Sub(got.TotalFeeDisplay).Equal(got.SettlementAmountDisplay))
}

func TestSummarize_Empty(t *testing.T) {
	got := Summarize(nil)
	assert.Zero(t, got.ItemCount)
	assert.True(t, got.TotalSalesAmount.IsZero())
	assert.True(t, got.SettlementAmount.IsZero())
}
