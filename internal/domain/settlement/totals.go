package settlement

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-settlement/internal/domain/fee"
)

// Totals are the aggregate amounts of a settlement. Refunded items only
// contribute to TotalRefundAmount and RefundCount.
type Totals struct {
	ItemCount         int
	RefundCount       int
	TotalSalesAmount  decimal.Decimal
	TotalRefundAmount decimal.Decimal

	PgFee               decimal.Decimal
	PgFeeDisplay        decimal.Decimal
	PgFeeDifference     decimal.Decimal
	FeeVatDifference    decimal.Decimal
	PgFeeRefundExpected decimal.Decimal

	PlatformFee        decimal.Decimal
	PlatformFeeDisplay decimal.Decimal
	PlatformFeeForgone decimal.Decimal

	VatRate          decimal.Decimal
	VatAmount        decimal.Decimal
	VatAmountDisplay decimal.Decimal

	TotalFee                decimal.Decimal
	TotalFeeDisplay         decimal.Decimal
	SettlementAmount        decimal.Decimal
	SettlementAmountDisplay decimal.Decimal
}

// SettledItemCount is the number of items that are paid out.
func (t Totals) SettledItemCount() int {
	return t.ItemCount - t.RefundCount
}

// Summarize recomputes settlement totals from items. VatRate is the rate
// captured by the most recent non-refunded item.
func Summarize(items []Item) Totals {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PurchasedAt.Before(sorted[j].PurchasedAt)
	})

	t := Totals{ItemCount: len(items)}
	for _, it := range sorted {
		if it.IsRefunded {
			t.RefundCount++
			t.TotalRefundAmount = t.TotalRefundAmount.Add(it.SalesAmount)
			continue
		}
		t.add(it.Breakdown())
		t.VatRate = it.CapturedRates.VAT
	}
	return t
}

func (t *Totals) add(b fee.Breakdown) {
	t.TotalSalesAmount = t.TotalSalesAmount.Add(b.Sales)
	t.PgFee = t.PgFee.Add(b.PgFee)
	t.PgFeeDisplay = t.PgFeeDisplay.Add(b.PgFeeDisplay)
	t.PgFeeDifference = t.PgFeeDifference.Add(b.PgFeeDifference)
	t.FeeVatDifference = t.FeeVatDifference.Add(b.FeeVatDifference)
	t.PgFeeRefundExpected = t.PgFeeRefundExpected.Add(b.PgFeeRefundExpected)
	t.PlatformFee = t.PlatformFee.Add(b.PlatformFee)
	t.PlatformFeeDisplay = t.PlatformFeeDisplay.Add(b.PlatformFeeDisplay)
	t.PlatformFeeForgone = t.PlatformFeeForgone.Add(b.PlatformFeeForgone)
	t.VatAmount = t.VatAmount.Add(b.VatAmount)
	t.VatAmountDisplay = t.VatAmountDisplay.Add(b.VatAmountDisplay)
	t.TotalFee = t.TotalFee.Add(b.TotalFee)
	t.TotalFeeDisplay = t.TotalFeeDisplay.Add(b.TotalFeeDisplay)
	t.SettlementAmount = t.SettlementAmount.Add(b.SettlementAmount)
	t.SettlementAmountDisplay = t.SettlementAmountDisplay.Add(b.SettlementAmountDisplay)
}
