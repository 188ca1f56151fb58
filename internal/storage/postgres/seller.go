package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-settlement/internal/domain/seller"
	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
)

const (
	sellerColumns = `id, nickname, bank_code, account_number, holder_name, holder_info, holder_type,
		verification_status, billing_tran_id, verified_at, last_verification_code,
		last_verification_message, updated_at`

	findSellerByNicknameSQL = `SELECT ` + sellerColumns + ` FROM sellers WHERE nickname = $1`

	getSellerSQL = `SELECT ` + sellerColumns + ` FROM sellers WHERE id = $1`

	updateSellerVerificationSQL = `UPDATE sellers SET
		verification_status = $2, billing_tran_id = $3, verified_at = $4,
		last_verification_code = $5, last_verification_message = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`
)

var (
	_ seller.Repository          = (*SellerRepository)(nil)
	_ settlement.SellerDirectory = (*SellerRepository)(nil)
)

// SellerRepository implements seller.Repository and
// settlement.SellerDirectory backed by PostgreSQL.
type SellerRepository struct {
	pool *pgxpool.Pool
}

// NewSellerRepository returns a SellerRepository that uses the given pool.
func NewSellerRepository(pool *pgxpool.Pool) *SellerRepository {
	return &SellerRepository{pool: pool}
}

// FindByNickname returns seller.ErrSellerNotFound when no seller has the
// nickname.
func (r *SellerRepository) FindByNickname(ctx context.Context, nickname string) (*seller.Seller, error) {
	return r.findOne(ctx, findSellerByNicknameSQL, nickname)
}

// UpdateVerification persists the verification fields of s.
func (r *SellerRepository) UpdateVerification(ctx context.Context, s *seller.Seller) error {
	err := r.pool.QueryRow(ctx, updateSellerVerificationSQL,
		s.ID, string(s.VerificationStatus), s.BillingTranID, s.VerifiedAt,
		s.LastVerificationCode, s.LastVerificationMessage,
	).Scan(&s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return seller.ErrSellerNotFound
		}
		return fmt.Errorf("updating verification of seller %d: %w", s.ID, err)
	}
	return nil
}

// PayoutAccount returns the payout destination of the seller.
func (r *SellerRepository) PayoutAccount(ctx context.Context, sellerID int64) (*settlement.PayoutAccount, error) {
	s, err := r.findOne(ctx, getSellerSQL, sellerID)
	if err != nil {
		return nil, err
	}
	return &settlement.PayoutAccount{
		SellerID:      s.ID,
		Nickname:      s.Nickname,
		Verified:      s.IsVerified(),
		BillingTranID: s.BillingTranID,
		HolderName:    s.HolderName,
	}, nil
}

func (r *SellerRepository) findOne(ctx context.Context, query string, arg any) (*seller.Seller, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding seller %v: %w", arg, err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSeller)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, seller.ErrSellerNotFound
		}
		return nil, fmt.Errorf("finding seller %v: %w", arg, err)
	}
	return &s, nil
}

func scanSeller(row pgx.CollectableRow) (seller.Seller, error) {
	var (
		s                  seller.Seller
		holderType, status string
	)
	err := row.Scan(
		&s.ID, &s.Nickname, &s.BankCode, &s.AccountNumber, &s.HolderName, &s.HolderInfo, &holderType,
		&status, &s.BillingTranID, &s.VerifiedAt, &s.LastVerificationCode,
		&s.LastVerificationMessage, &s.UpdatedAt,
	)
	s.HolderType = seller.HolderType(holderType)
	s.VerificationStatus = seller.VerificationStatus(status)
	return s, err
}
