package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-settlement/internal/domain/fee"
)

// Repository persists settlements and their items.
type Repository interface {
	// Get returns ErrSettlementNotFound when the settlement does not exist.
	Get(ctx context.Context, id int64) (*Settlement, error)
	ListItems(ctx context.Context, settlementID int64) ([]Item, error)
	// FindBySellerPeriod returns ErrSettlementNotFound when the seller has no
	// settlement starting at start.
	FindBySellerPeriod(ctx context.Context, sellerID int64, start time.Time) (*Settlement, error)
	// Replace deletes previous (when not nil) and inserts s with its items in
	// one transaction. It returns ConcurrencyConflictError when previous
	// changed since it was loaded.
	Replace(ctx context.Context, previous, s *Settlement, items []Item) error
	// Update persists s when its version still matches and increments
	// s.Version. It returns ConcurrencyConflictError otherwise.
	Update(ctx context.Context, s *Settlement) error
	// FindByTransferID returns the settlement paid out by the PG transfer
	// with the given API transaction id or group key.
	FindByTransferID(ctx context.Context, id string) (*Settlement, error)
}

// Sale is a completed purchase as seen by settlement.
type Sale struct {
	PurchaseID  int64
	OrderID     int64
	SellerID    int64
	Amount      decimal.Decimal
	PurchasedAt time.Time
	Refunded    bool
}

// SaleSource lists completed purchases.
type SaleSource interface {
	// ListSales returns the seller's completed paid purchases in [from, to),
	// refunded ones included.
	ListSales(ctx context.Context, sellerID int64, from, to time.Time) ([]Sale, error)
	// SellersWithSales returns the sellers with completed purchases in
	// [from, to).
	SellersWithSales(ctx context.Context, from, to time.Time) ([]int64, error)
}

// PolicySource loads the fee policies of a seller.
type PolicySource interface {
	Snapshot(ctx context.Context, sellerID int64) (*fee.Snapshot, error)
}

// PayoutAccount is the payout destination of a seller.
type PayoutAccount struct {
	SellerID      int64
	Nickname      string
	Verified      bool
	BillingTranID string
	HolderName    string
}

// SellerDirectory looks up seller payout accounts.
type SellerDirectory interface {
	PayoutAccount(ctx context.Context, sellerID int64) (*PayoutAccount, error)
}

// AuthResult is the outcome of partner authentication.
type AuthResult struct {
	Code        string
	Message     string
	AccessToken string
	ExpiresIn   int
}

// TransferRequest asks the PG to pay a settlement out.
type TransferRequest struct {
	SettlementID  int64
	BillingTranID string
	Amount        decimal.Decimal
	Memo          string
}

// TransferResult identifies an executed PG transfer.
type TransferResult struct {
	APITranID  string
	GroupKey   string
	BankTranID string
	Code       string
	Message    string
}

// PayoutGateway is the PG partner as seen by settlement approval.
type PayoutGateway interface {
	Authenticate(ctx context.Context) (AuthResult, error)
	// Transfer requests and executes a payout.
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
}
