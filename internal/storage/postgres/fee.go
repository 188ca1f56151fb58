package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-settlement/internal/domain/fee"
)

const (
	listFeePoliciesSQL = `SELECT id, scope, seller_id, version, effective_from, effective_to,
		pg_fee_applied, pg_fee_display, pg_fee_baseline,
		platform_fee_applied, platform_fee_display, platform_fee_baseline,
		vat_rate, created_at
		FROM fee_policies
		WHERE scope = 'PLATFORM' OR seller_id = $1
		ORDER BY scope, version`

	// The advisory lock serializes publications of one scope so that two
	// writers cannot compute the same next version. Seller ids are hashed
	// into the int4 key space; a collision only serializes two scopes.
	lockFeeScopeSQL = `SELECT pg_advisory_xact_lock(hashtext('fee_policies'), hashtext(COALESCE($1::BIGINT, 0)::TEXT))`

	insertFeePolicySQL = `INSERT INTO fee_policies (scope, seller_id, version, effective_from, effective_to,
		pg_fee_applied, pg_fee_display, pg_fee_baseline,
		platform_fee_applied, platform_fee_display, platform_fee_baseline, vat_rate)
		SELECT $1::TEXT, $2::BIGINT, COALESCE(MAX(version), 0) + 1, $3::TIMESTAMPTZ, $4::TIMESTAMPTZ,
			$5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC
		FROM fee_policies
		WHERE scope = $1 AND COALESCE(seller_id, 0) = COALESCE($2::BIGINT, 0)
		RETURNING id, version, created_at`
)

var _ fee.Repository = (*FeePolicyRepository)(nil)

// FeePolicyRepository implements fee.Repository backed by PostgreSQL.
type FeePolicyRepository struct {
	pool *pgxpool.Pool
}

// NewFeePolicyRepository returns a FeePolicyRepository that uses the given pool.
func NewFeePolicyRepository(pool *pgxpool.Pool) *FeePolicyRepository {
	return &FeePolicyRepository{pool: pool}
}

// ListForSeller returns the platform policies and the policies of the seller.
func (r *FeePolicyRepository) ListForSeller(ctx context.Context, sellerID int64) ([]fee.Policy, error) {
	rows, err := r.pool.Query(ctx, listFeePoliciesSQL, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing fee policies of seller %d: %w", sellerID, err)
	}

	policies, err := pgx.CollectRows(rows, scanPolicy)
	if err != nil {
		return nil, fmt.Errorf("listing fee policies of seller %d: %w", sellerID, err)
	}
	return policies, nil
}

// Insert stores p as the next version of its scope.
func (r *FeePolicyRepository) Insert(ctx context.Context, p *fee.Policy) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockFeeScopeSQL, p.SellerID); err != nil {
			return fmt.Errorf("locking fee policy scope: %w", err)
		}
		err := tx.QueryRow(ctx, insertFeePolicySQL,
			string(p.Scope), p.SellerID, p.EffectiveFrom, p.EffectiveTo,
			p.Rates.PgFeeApplied, p.Rates.PgFeeDisplay, p.Rates.PgFeeBaseline,
			p.Rates.PlatformFeeApplied, p.Rates.PlatformFeeDisplay, p.Rates.PlatformFeeBaseline,
			p.Rates.VAT,
		).Scan(&p.ID, &p.Version, &p.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting fee policy: %w", err)
		}
		return nil
	})
}

func scanPolicy(row pgx.CollectableRow) (fee.Policy, error) {
	var (
		p     fee.Policy
		scope string
	)
	err := row.Scan(
		&p.ID, &scope, &p.SellerID, &p.Version, &p.EffectiveFrom, &p.EffectiveTo,
		&p.Rates.PgFeeApplied, &p.Rates.PgFeeDisplay, &p.Rates.PgFeeBaseline,
		&p.Rates.PlatformFeeApplied, &p.Rates.PlatformFeeDisplay, &p.Rates.PlatformFeeBaseline,
		&p.Rates.VAT, &p.CreatedAt,
	)
	p.Scope = fee.Scope(scope)
	return p, err
}
