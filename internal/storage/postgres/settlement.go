package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
)

const (
	settlementColumns = `id, seller_id, settlement_start_date, settlement_end_date, scheduled_settlement_date,
		item_count, refund_count, total_sales_amount, total_refund_amount,
		pg_fee, pg_fee_display, pg_fee_difference, fee_vat_difference, pg_fee_refund_expected,
		platform_fee, platform_fee_display, platform_fee_forgone,
		vat_rate, vat_amount, vat_amount_display,
		total_fee, total_fee_display, settlement_amount, settlement_amount_display,
		status, version, hold_reason, approved_by, approval_reason, approved_amount, settled_at,
		api_tran_id, billing_tran_id, group_key, bank_tran_id, transfer_status,
		created_at, updated_at`

	getSettlementSQL = `SELECT ` + settlementColumns + ` FROM settlements WHERE id = $1`

	findSettlementBySellerPeriodSQL = `SELECT ` + settlementColumns + ` FROM settlements
		WHERE seller_id = $1 AND settlement_start_date = $2::DATE`

	findSettlementByTransferSQL = `SELECT ` + settlementColumns + ` FROM settlements
		WHERE api_tran_id = $1 OR group_key = $1
		ORDER BY id DESC
		LIMIT 1`

	listSettlementsByPeriodSQL = `SELECT ` + settlementColumns + ` FROM settlements
		WHERE settlement_start_date = $1::DATE
		ORDER BY seller_id`

	deleteSettlementSQL = `DELETE FROM settlements WHERE id = $1 AND version = $2`

	insertSettlementSQL = `INSERT INTO settlements (seller_id, settlement_start_date, settlement_end_date,
		scheduled_settlement_date,
		item_count, refund_count, total_sales_amount, total_refund_amount,
		pg_fee, pg_fee_display, pg_fee_difference, fee_vat_difference, pg_fee_refund_expected,
		platform_fee, platform_fee_display, platform_fee_forgone,
		vat_rate, vat_amount, vat_amount_display,
		total_fee, total_fee_display, settlement_amount, settlement_amount_display,
		status, hold_reason)
		VALUES ($1, $2::DATE, $3::DATE, $4::DATE, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24, $25)
		RETURNING id, version, created_at, updated_at`

	updateSettlementSQL = `UPDATE settlements SET
		item_count = $3, refund_count = $4, total_sales_amount = $5, total_refund_amount = $6,
		pg_fee = $7, pg_fee_display = $8, pg_fee_difference = $9, fee_vat_difference = $10,
		pg_fee_refund_expected = $11, platform_fee = $12, platform_fee_display = $13,
		platform_fee_forgone = $14, vat_rate = $15, vat_amount = $16, vat_amount_display = $17,
		total_fee = $18, total_fee_display = $19, settlement_amount = $20, settlement_amount_display = $21,
		status = $22, hold_reason = $23, approved_by = $24, approval_reason = $25, approved_amount = $26,
		settled_at = $27, api_tran_id = $28, billing_tran_id = $29, group_key = $30, bank_tran_id = $31,
		transfer_status = $32,
		version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`

	listSettlementItemsSQL = `SELECT id, settlement_id, purchase_id, order_id, policy_id, sales_amount,
		captured_pg_fee_rate, captured_pg_fee_display, captured_pg_fee_baseline,
		captured_platform_fee_rate, captured_platform_display, captured_platform_baseline,
		captured_vat_rate,
		pg_fee, platform_fee, vat_amount, total_fee, settlement_amount, settlement_amount_display,
		pg_fee_refund_expected, is_refunded, purchased_at
		FROM settlement_items
		WHERE settlement_id = $1
		ORDER BY purchased_at, id`

	insertSettlementItemSQL = `INSERT INTO settlement_items (settlement_id, purchase_id, order_id, policy_id,
		sales_amount,
		captured_pg_fee_rate, captured_pg_fee_display, captured_pg_fee_baseline,
		captured_platform_fee_rate, captured_platform_display, captured_platform_baseline,
		captured_vat_rate,
		pg_fee, platform_fee, vat_amount, total_fee, settlement_amount, settlement_amount_display,
		pg_fee_refund_expected, is_refunded, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id`
)

// uniqueViolation is the PostgreSQL error code of a unique constraint
// violation.
const uniqueViolation = "23505"

var _ settlement.Repository = (*SettlementRepository)(nil)

// SettlementRepository implements settlement.Repository backed by
// PostgreSQL. Writes are guarded by the version column.
type SettlementRepository struct {
	pool *pgxpool.Pool
}

// NewSettlementRepository returns a SettlementRepository that uses the given
// pool.
func NewSettlementRepository(pool *pgxpool.Pool) *SettlementRepository {
	return &SettlementRepository{pool: pool}
}

func (r *SettlementRepository) Get(ctx context.Context, id int64) (*settlement.Settlement, error) {
	return findSettlement(ctx, r.pool, getSettlementSQL, id)
}

func (r *SettlementRepository) FindBySellerPeriod(ctx context.Context, sellerID int64, start time.Time) (*settlement.Settlement, error) {
	return findSettlement(ctx, r.pool, findSettlementBySellerPeriodSQL, sellerID, start)
}

func (r *SettlementRepository) FindByTransferID(ctx context.Context, id string) (*settlement.Settlement, error) {
	if id == "" {
		return nil, settlement.ErrSettlementNotFound
	}
	return findSettlement(ctx, r.pool, findSettlementByTransferSQL, id)
}

// ListByPeriod returns every settlement of the cycle starting at start,
// ordered by seller.
func (r *SettlementRepository) ListByPeriod(ctx context.Context, start time.Time) ([]settlement.Settlement, error) {
	rows, err := r.pool.Query(ctx, listSettlementsByPeriodSQL, start)
	if err != nil {
		return nil, fmt.Errorf("listing settlements starting %s: %w", start.Format(time.DateOnly), err)
	}

	list, err := pgx.CollectRows(rows, scanSettlement)
	if err != nil {
		return nil, fmt.Errorf("listing settlements starting %s: %w", start.Format(time.DateOnly), err)
	}
	return list, nil
}

func (r *SettlementRepository) ListItems(ctx context.Context, settlementID int64) ([]settlement.Item, error) {
	rows, err := r.pool.Query(ctx, listSettlementItemsSQL, settlementID)
	if err != nil {
		return nil, fmt.Errorf("listing items of settlement %d: %w", settlementID, err)
	}

	items, err := pgx.CollectRows(rows, scanSettlementItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of settlement %d: %w", settlementID, err)
	}
	return items, nil
}

// Replace deletes previous and inserts s with its items in one transaction.
// Items get their ID and SettlementID filled.
func (r *SettlementRepository) Replace(ctx context.Context, previous, s *settlement.Settlement, items []settlement.Item) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if previous != nil {
			tag, err := tx.Exec(ctx, deleteSettlementSQL, previous.ID, previous.Version)
			if err != nil {
				return fmt.Errorf("deleting settlement %d: %w", previous.ID, err)
			}
			if tag.RowsAffected() == 0 {
				return &settlement.ConcurrencyConflictError{SettlementID: previous.ID, Version: previous.Version}
			}
		}

		t := s.Totals
		err := tx.QueryRow(ctx, insertSettlementSQL,
			s.SellerID, s.StartDate, s.EndDate, s.ScheduledDate,
			t.ItemCount, t.RefundCount, t.TotalSalesAmount, t.TotalRefundAmount,
			t.PgFee, t.PgFeeDisplay, t.PgFeeDifference, t.FeeVatDifference, t.PgFeeRefundExpected,
			t.PlatformFee, t.PlatformFeeDisplay, t.PlatformFeeForgone,
			t.VatRate, t.VatAmount, t.VatAmountDisplay,
			t.TotalFee, t.TotalFeeDisplay, t.SettlementAmount, t.SettlementAmountDisplay,
			string(s.Status), s.HoldReason,
		).Scan(&s.ID, &s.Version, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return &settlement.ConcurrencyConflictError{SettlementID: s.ID, Version: s.Version}
			}
			return fmt.Errorf("inserting settlement for seller %d: %w", s.SellerID, err)
		}
		s.TransferStatus = settlement.TransferNone

		return insertItems(ctx, tx, s.ID, items)
	})
}

func insertItems(ctx context.Context, tx pgx.Tx, settlementID int64, items []settlement.Item) error {
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range items {
		it := &items[i]
		it.SettlementID = settlementID
		rates := it.CapturedRates
		batch.Queue(insertSettlementItemSQL,
			settlementID, it.PurchaseID, it.OrderID, it.PolicyID, it.SalesAmount,
			rates.PgFeeApplied, rates.PgFeeDisplay, rates.PgFeeBaseline,
			rates.PlatformFeeApplied, rates.PlatformFeeDisplay, rates.PlatformFeeBaseline,
			rates.VAT,
			it.PgFee, it.PlatformFee, it.VatAmount, it.TotalFee, it.SettlementAmount, it.SettlementAmountDisplay,
			it.PgFeeRefundExpected, it.IsRefunded, it.PurchasedAt,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&it.ID)
		})
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting items of settlement %d: %w", settlementID, err)
	}
	return nil
}

// Update persists s when its version matches and advances s.Version.
func (r *SettlementRepository) Update(ctx context.Context, s *settlement.Settlement) error {
	t := s.Totals
	err := r.pool.QueryRow(ctx, updateSettlementSQL,
		s.ID, s.Version,
		t.ItemCount, t.RefundCount, t.TotalSalesAmount, t.TotalRefundAmount,
		t.PgFee, t.PgFeeDisplay, t.PgFeeDifference, t.FeeVatDifference,
		t.PgFeeRefundExpected, t.PlatformFee, t.PlatformFeeDisplay,
		t.PlatformFeeForgone, t.VatRate, t.VatAmount, t.VatAmountDisplay,
		t.TotalFee, t.TotalFeeDisplay, t.SettlementAmount, t.SettlementAmountDisplay,
		string(s.Status), s.HoldReason, s.ApprovedBy, s.ApprovalReason, s.ApprovedAmount,
		s.SettledAt, s.APITranID, s.BillingTranID, s.GroupKey, s.BankTranID,
		string(s.TransferStatus),
	).Scan(&s.Version, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &settlement.ConcurrencyConflictError{SettlementID: s.ID, Version: s.Version}
		}
		return fmt.Errorf("updating settlement %d: %w", s.ID, err)
	}
	return nil
}

func findSettlement(ctx context.Context, q querier, query string, args ...any) (*settlement.Settlement, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding settlement: %w", err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSettlement)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settlement.ErrSettlementNotFound
		}
		return nil, fmt.Errorf("finding settlement: %w", err)
	}
	return &s, nil
}

func scanSettlement(row pgx.CollectableRow) (settlement.Settlement, error) {
	var (
		s                      settlement.Settlement
		status, transferStatus string
	)
	t := &s.Totals
	err := row.Scan(
		&s.ID, &s.SellerID, &s.StartDate, &s.EndDate, &s.ScheduledDate,
		&t.ItemCount, &t.RefundCount, &t.TotalSalesAmount, &t.TotalRefundAmount,
		&t.PgFee, &t.PgFeeDisplay, &t.PgFeeDifference, &t.FeeVatDifference, &t.PgFeeRefundExpected,
		&t.PlatformFee, &t.PlatformFeeDisplay, &t.PlatformFeeForgone,
		&t.VatRate, &t.VatAmount, &t.VatAmountDisplay,
		&t.TotalFee, &t.TotalFeeDisplay, &t.SettlementAmount, &t.SettlementAmountDisplay,
		&status, &s.Version, &s.HoldReason, &s.ApprovedBy, &s.ApprovalReason, &s.ApprovedAmount, &s.SettledAt,
		&s.APITranID, &s.BillingTranID, &s.GroupKey, &s.BankTranID, &transferStatus,
		&s.CreatedAt, &s.UpdatedAt,
	)
	s.Status = settlement.Status(status)
	s.TransferStatus = settlement.TransferStatus(transferStatus)
	return s, err
}

func scanSettlementItem(row pgx.CollectableRow) (settlement.Item, error) {
	var it settlement.Item
	rates := &it.CapturedRates
	err := row.Scan(
		&it.ID, &it.SettlementID, &it.PurchaseID, &it.OrderID, &it.PolicyID, &it.SalesAmount,
		&rates.PgFeeApplied, &rates.PgFeeDisplay, &rates.PgFeeBaseline,
		&rates.PlatformFeeApplied, &rates.PlatformFeeDisplay, &rates.PlatformFeeBaseline,
		&rates.VAT,
		&it.PgFee, &it.PlatformFee, &it.VatAmount, &it.TotalFee, &it.SettlementAmount, &it.SettlementAmountDisplay,
		&it.PgFeeRefundExpected, &it.IsRefunded, &it.PurchasedAt,
	)
	return it, err
}
