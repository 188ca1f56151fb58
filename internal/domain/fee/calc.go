package fee

import "github.com/shopspring/decimal"

// Breakdown is the fee split of a single sale. Every monetary field is
// rounded to whole won, and derived totals are built from the rounded parts
// so SettlementAmount == Sales - TotalFee holds exactly.
type Breakdown struct {
	Sales decimal.Decimal

	PgFee               decimal.Decimal
	PgFeeDisplay        decimal.Decimal
	PgFeeDifference     decimal.Decimal
	FeeVatDifference    decimal.Decimal
	PgFeeRefundExpected decimal.Decimal

	PlatformFee        decimal.Decimal
	PlatformFeeDisplay decimal.Decimal
	PlatformFeeForgone decimal.Decimal

	VatAmount        decimal.Decimal
	VatAmountDisplay decimal.Decimal

	TotalFee        decimal.Decimal
	TotalFeeDisplay decimal.Decimal

	SettlementAmount        decimal.Decimal
	SettlementAmountDisplay decimal.Decimal
}

// Calculate splits sales into PG, platform and VAT fees under both the
// applied and the display rates.
func Calculate(sales decimal.Decimal, r Rates) Breakdown {
	b := Breakdown{Sales: sales}

	b.PgFee = won(sales.Mul(r.PgFeeApplied))
	b.PgFeeDisplay = won(sales.Mul(r.PgFeeDisplay))
	b.PgFeeDifference = b.PgFeeDisplay.Sub(b.PgFee).Abs()
	b.FeeVatDifference = won(b.PgFeeDifference.Mul(r.VAT))
	b.PgFeeRefundExpected = b.PgFeeDifference.Add(b.FeeVatDifference)

	b.PlatformFee = won(sales.Mul(r.PlatformFeeApplied))
	b.PlatformFeeDisplay = won(sales.Mul(r.PlatformFeeDisplay))
	b.PlatformFeeForgone = decimal.Max(decimal.Zero,
		won(sales.Mul(r.PlatformFeeBaseline.Sub(r.PlatformFeeApplied))))

	b.VatAmount = won(b.PgFee.Add(b.PlatformFee).Mul(r.VAT))
	b.VatAmountDisplay = won(b.PgFeeDisplay.Add(b.PlatformFeeDisplay).Mul(r.VAT))

	b.TotalFee = b.PgFee.Add(b.PlatformFee).Add(b.VatAmount)
	b.TotalFeeDisplay = b.PgFeeDisplay.Add(b.PlatformFeeDisplay).Add(b.VatAmountDisplay)

	b.SettlementAmount = sales.Sub(b.TotalFee)
	b.SettlementAmountDisplay = sales.Sub(b.TotalFeeDisplay)
	return b
}

// won rounds to whole KRW, half away from zero.
func won(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}
