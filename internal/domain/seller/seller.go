// Package seller holds seller payout accounts and their verification against
// the PG partner.
package seller

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// VerificationStatus is the payout account verification state.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "UNVERIFIED"
	VerificationVerified   VerificationStatus = "VERIFIED"
	VerificationFailed     VerificationStatus = "FAILED"
)

// HolderType is the legal type of the account holder.
type HolderType string

const (
	HolderIndividual HolderType = "INDIVIDUAL"
	HolderBusiness   HolderType = "BUSINESS"
)

// ErrSellerNotFound is returned when a seller does not exist.
var ErrSellerNotFound = errors.New("seller not found")

// Seller is a content seller and its payout bank account.
type Seller struct {
	ID            int64
	Nickname      string
	BankCode      string
	AccountNumber string
	HolderName    string
	// HolderInfo is the birth date (YYMMDD) for individuals or the business
	// registration number for businesses.
	HolderInfo string
	HolderType HolderType

	VerificationStatus      VerificationStatus
	BillingTranID           string
	VerifiedAt              *time.Time
	LastVerificationCode    string
	LastVerificationMessage string
	UpdatedAt               time.Time
}

// IsVerified reports whether payouts to the seller's account are allowed.
func (s *Seller) IsVerified() bool {
	return s.VerificationStatus == VerificationVerified
}

// Repository provides seller lookups and verification updates.
type Repository interface {
	FindByNickname(ctx context.Context, nickname string) (*Seller, error)
	// UpdateVerification persists the verification fields of s.
	UpdateVerification(ctx context.Context, s *Seller) error
}

// Stage is the verification step that failed.
type Stage string

const (
	StageAuth   Stage = "partner_auth"
	StageVerify Stage = "account_verification"
)

// VerificationError reports a rejection by the PG partner.
type VerificationError struct {
	Nickname string
	Stage    Stage
	Code     string
	Message  string
	Err      error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("seller %q %s failed: %v", e.Nickname, e.Stage, e.Err)
	}
	return fmt.Sprintf("seller %q %s rejected: [%s] %s", e.Nickname, e.Stage, e.Code, e.Message)
}

func (e *VerificationError) Unwrap() error { return e.Err }
