package main

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
)

var settlementHeader = []string{
	"settlement_id", "seller_id", "start_date", "end_date", "scheduled_date", "status",
	"item_count", "refund_count", "total_sales_amount", "total_refund_amount",
	"pg_fee", "pg_fee_display", "pg_fee_difference", "fee_vat_difference", "pg_fee_refund_expected",
	"platform_fee", "platform_fee_display", "platform_fee_forgone",
	"vat_rate", "vat_amount", "total_fee", "total_fee_display",
	"settlement_amount", "settlement_amount_display",
	"approved_by", "settled_at", "api_tran_id", "transfer_status",
}

func writeSettlements(w io.Writer, settlements []settlement.Settlement) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(settlementHeader); err != nil {
		return errors.Wrap(err, "write header")
	}

	for _, s := range settlements {
		approvedBy := ""
		if s.ApprovedBy != nil {
			approvedBy = strconv.FormatInt(*s.ApprovedBy, 10)
		}
		settledAt := ""
		if s.SettledAt != nil {
			settledAt = s.SettledAt.UTC().Format(time.RFC3339)
		}

		row := []string{
			strconv.FormatInt(s.ID, 10),
			strconv.FormatInt(s.SellerID, 10),
			s.StartDate.Format(time.DateOnly),
			s.EndDate.Format(time.DateOnly),
			s.ScheduledDate.Format(time.DateOnly),
			string(s.Status),
			strconv.Itoa(s.ItemCount),
			strconv.Itoa(s.RefundCount),
		}
		row = appendDecimals(row,
			s.TotalSalesAmount, s.TotalRefundAmount,
			s.PgFee, s.PgFeeDisplay, s.PgFeeDifference, s.FeeVatDifference, s.PgFeeRefundExpected,
			s.PlatformFee, s.PlatformFeeDisplay, s.PlatformFeeForgone,
			s.VatRate, s.VatAmount, s.TotalFee, s.TotalFeeDisplay,
			s.SettlementAmount, s.SettlementAmountDisplay,
		)
		row = append(row, approvedBy, settledAt, s.APITranID, string(s.TransferStatus))

		if err := cw.Write(row); err != nil {
			return errors.Wrapf(err, "write settlement %d", s.ID)
		}
	}

	cw.Flush()
	return cw.Error()
}

var itemHeader = []string{
	"settlement_id", "seller_id", "item_id", "purchase_id", "order_id", "policy_id", "purchased_at",
	"sales_amount", "pg_fee_rate", "platform_fee_rate", "vat_rate",
	"pg_fee", "platform_fee", "vat_amount", "total_fee",
	"settlement_amount", "settlement_amount_display", "pg_fee_refund_expected", "refunded",
}

// writeItems writes the items of settlements in settlement order.
func writeItems(w io.Writer, settlements []settlement.Settlement, items map[int64][]settlement.Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(itemHeader); err != nil {
		return errors.Wrap(err, "write header")
	}

	for _, s := range settlements {
		for _, it := range items[s.ID] {
			row := []string{
				strconv.FormatInt(s.ID, 10),
				strconv.FormatInt(s.SellerID, 10),
				strconv.FormatInt(it.ID, 10),
				strconv.FormatInt(it.PurchaseID, 10),
				strconv.FormatInt(it.OrderID, 10),
				strconv.FormatInt(it.PolicyID, 10),
				it.PurchasedAt.UTC().Format(time.RFC3339),
			}
			row = appendDecimals(row,
				it.SalesAmount,
				it.CapturedRates.PgFeeApplied, it.CapturedRates.PlatformFeeApplied, it.CapturedRates.VAT,
				it.PgFee, it.PlatformFee, it.VatAmount, it.TotalFee,
				it.SettlementAmount, it.SettlementAmountDisplay, it.PgFeeRefundExpected,
			)
			row = append(row, strconv.FormatBool(it.IsRefunded))

			if err := cw.Write(row); err != nil {
				return errors.Wrapf(err, "write item %d", it.ID)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func appendDecimals(row []string, values ...decimal.Decimal) []string {
	for _, v := range values {
		row = append(row, v.String())
	}
	return row
}
