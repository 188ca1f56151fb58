package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Aggregator turns completed purchases into per-seller settlements.
type Aggregator struct {
	settlements Repository
	sales       SaleSource
	policies    PolicySource
	sellers     SellerDirectory
	now         func() time.Time
}

// NewAggregator creates an Aggregator.
func NewAggregator(settlements Repository, sales SaleSource, policies PolicySource, sellers SellerDirectory) *Aggregator {
	return &Aggregator{
		settlements: settlements,
		sales:       sales,
		policies:    policies,
		sellers:     sellers,
		now:         time.Now,
	}
}

// SellerResult is the outcome of aggregating one seller.
type SellerResult struct {
	SellerID   int64
	Settlement *Settlement
	Items      []Item
	// Skipped is set when the existing settlement of the cycle can no longer
	// be recomputed. Settlement then holds that existing row.
	Skipped bool
}

// SellerFailure is a seller whose aggregation failed.
type SellerFailure struct {
	SellerID int64
	Err      error
}

// CycleReport summarizes an aggregation run over all sellers of a cycle.
type CycleReport struct {
	Cycle    Cycle
	Results  []SellerResult
	Failures []SellerFailure
}

// Created returns the number of settlements written by the run.
func (r *CycleReport) Created() int {
	var n int
	for _, res := range r.Results {
		if !res.Skipped && res.Settlement != nil {
			n++
		}
	}
	return n
}

// Skipped returns the number of sellers whose settlement was left alone.
func (r *CycleReport) Skipped() int {
	var n int
	for _, res := range r.Results {
		if res.Skipped {
			n++
		}
	}
	return n
}

// AggregateCycle aggregates every seller with sales in the cycle. A failing
// seller does not stop the run; it is reported in CycleReport.Failures.
func (a *Aggregator) AggregateCycle(ctx context.Context, c Cycle) (*CycleReport, error) {
	sellerIDs, err := a.sales.SellersWithSales(ctx, c.Start, c.End)
	if err != nil {
		return nil, errors.Wrap(err, "list sellers with sales")
	}

	lg := zctx.From(ctx).With(zap.Time("cycle_start", c.Start))
	report := &CycleReport{Cycle: c}
	for _, sellerID := range sellerIDs {
		res, err := a.AggregateSeller(ctx, sellerID, c)
		if err != nil {
			lg.Warn("Aggregate seller failed", zap.Int64("seller_id", sellerID), zap.Error(err))
			report.Failures = append(report.Failures, SellerFailure{SellerID: sellerID, Err: err})
			continue
		}
		report.Results = append(report.Results, *res)
	}
	lg.Info("Cycle aggregated",
		zap.Int("sellers", len(sellerIDs)),
		zap.Int("created", report.Created()),
		zap.Int("skipped", report.Skipped()),
		zap.Int("failed", len(report.Failures)),
	)
	return report, nil
}

// AggregateSeller computes the settlement of one seller for the cycle. An
// existing settlement is recomputed only while no money moved and no admin
// decided on it; otherwise it is returned untouched with Skipped set.
func (a *Aggregator) AggregateSeller(ctx context.Context, sellerID int64, c Cycle) (*SellerResult, error) {
	previous, err := a.settlements.FindBySellerPeriod(ctx, sellerID, c.Start)
	switch {
	case errors.Is(err, ErrSettlementNotFound):
		previous = nil
	case err != nil:
		return nil, errors.Wrap(err, "find settlement")
	case !previous.replaceable():
		zctx.From(ctx).Debug("Settlement already past recomputation",
			zap.Int64("settlement_id", previous.ID),
			zap.String("status", string(previous.Status)),
		)
		return &SellerResult{SellerID: sellerID, Settlement: previous, Skipped: true}, nil
	}

	sales, err := a.sales.ListSales(ctx, sellerID, c.Start, c.End)
	if err != nil {
		return nil, errors.Wrap(err, "list sales")
	}
	if len(sales) == 0 && previous == nil {
		return &SellerResult{SellerID: sellerID}, nil
	}

	snap, err := a.policies.Snapshot(ctx, sellerID)
	if err != nil {
		return nil, errors.Wrap(err, "load fee policies")
	}

	items := make([]Item, 0, len(sales))
	for _, sale := range sales {
		policy, err := snap.Policy(sale.PurchasedAt)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve fee policy for purchase %d", sale.PurchaseID)
		}
		it := Item{
			PurchaseID:    sale.PurchaseID,
			OrderID:       sale.OrderID,
			PolicyID:      policy.ID,
			SalesAmount:   sale.Amount,
			CapturedRates: policy.Rates,
			IsRefunded:    sale.Refunded,
			PurchasedAt:   sale.PurchasedAt,
		}
		b := it.Breakdown()
		it.PgFee = b.PgFee
		it.PlatformFee = b.PlatformFee
		it.VatAmount = b.VatAmount
		it.TotalFee = b.TotalFee
		it.SettlementAmount = b.SettlementAmount
		it.SettlementAmountDisplay = b.SettlementAmountDisplay
		it.PgFeeRefundExpected = b.PgFeeRefundExpected
		items = append(items, it)
	}

	account, err := a.sellers.PayoutAccount(ctx, sellerID)
	if err != nil {
		return nil, errors.Wrap(err, "get payout account")
	}

	now := a.now()
	s := &Settlement{
		SellerID:       sellerID,
		StartDate:      c.Start,
		EndDate:        c.LastDay(),
		ScheduledDate:  c.Scheduled,
		Totals:         Summarize(items),
		Status:         StatusPending,
		TransferStatus: TransferNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	switch {
	case s.SettledItemCount() == 0:
		s.Status = StatusNotApplicable
	case !account.Verified:
		s.Status = StatusOnHold
		s.HoldReason = HoldReasonUnverified
	}

	if err := a.settlements.Replace(ctx, previous, s, items); err != nil {
		return nil, errors.Wrap(err, "save settlement")
	}
	zctx.From(ctx).Info("Settlement aggregated",
		zap.Int64("seller_id", sellerID),
		zap.Int64("settlement_id", s.ID),
		zap.String("status", string(s.Status)),
		zap.Int("items", s.ItemCount),
		zap.String("settlement_amount", s.SettlementAmount.String()),
	)
	return &SellerResult{SellerID: sellerID, Settlement: s, Items: items}, nil
}
