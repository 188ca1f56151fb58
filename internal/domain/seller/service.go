package seller

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Account is the bank account submitted for verification.
type Account struct {
	BankCode      string
	AccountNumber string
	HolderName    string
	HolderInfo    string
	HolderType    HolderType
}

// Result is the PG partner's answer to an account verification.
type Result struct {
	Verified      bool
	Code          string
	Message       string
	BillingTranID string
}

// Gateway is the PG partner as seen by account verification.
type Gateway interface {
	// Authenticate performs partner authentication.
	Authenticate(ctx context.Context) error
	// VerifyAccount checks the account holder. Business rejections are
	// returned as a Result with Verified false; errors are transport
	// failures.
	VerifyAccount(ctx context.Context, acc Account) (Result, error)
}

// Service verifies seller payout accounts.
type Service struct {
	sellers Repository
	gateway Gateway
	now     func() time.Time
}

// NewService creates a Service.
func NewService(sellers Repository, gateway Gateway) *Service {
	return &Service{sellers: sellers, gateway: gateway, now: time.Now}
}

// VerifyAccount verifies the payout account of the seller with the given
// nickname. A VERIFIED seller is never downgraded by a later failure.
func (s *Service) VerifyAccount(ctx context.Context, nickname string) (*Seller, error) {
	sel, err := s.sellers.FindByNickname(ctx, nickname)
	if err != nil {
		return nil, errors.Wrap(err, "find seller")
	}
	lg := zctx.From(ctx).With(zap.String("seller", nickname))

	if err := s.gateway.Authenticate(ctx); err != nil {
		lg.Warn("Partner auth failed", zap.Error(err))
		if err := s.recordFailure(ctx, sel, "", err.Error()); err != nil {
			return nil, err
		}
		return sel, &VerificationError{Nickname: nickname, Stage: StageAuth, Err: err}
	}

	res, err := s.gateway.VerifyAccount(ctx, Account{
		BankCode:      sel.BankCode,
		AccountNumber: sel.AccountNumber,
		HolderName:    sel.HolderName,
		HolderInfo:    sel.HolderInfo,
		HolderType:    sel.HolderType,
	})
	if err != nil {
		return nil, errors.Wrap(err, "verify account")
	}

	if !res.Verified {
		lg.Info("Account verification rejected", zap.String("code", res.Code), zap.String("message", res.Message))
		if err := s.recordFailure(ctx, sel, res.Code, res.Message); err != nil {
			return nil, err
		}
		return sel, &VerificationError{Nickname: nickname, Stage: StageVerify, Code: res.Code, Message: res.Message}
	}

	now := s.now()
	sel.VerificationStatus = VerificationVerified
	sel.BillingTranID = res.BillingTranID
	sel.VerifiedAt = &now
	sel.LastVerificationCode = res.Code
	sel.LastVerificationMessage = res.Message
	if err := s.sellers.UpdateVerification(ctx, sel); err != nil {
		return nil, errors.Wrap(err, "save verification")
	}
	lg.Info("Account verified")
	return sel, nil
}

func (s *Service) recordFailure(ctx context.Context, sel *Seller, code, message string) error {
	if !sel.IsVerified() {
		sel.VerificationStatus = VerificationFailed
	}
	sel.LastVerificationCode = code
	sel.LastVerificationMessage = message
	if err := s.sellers.UpdateVerification(ctx, sel); err != nil {
		return errors.Wrap(err, "save verification")
	}
	return nil
}
