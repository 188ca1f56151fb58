package payple

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/xenking/marketplace-settlement/internal/domain/seller"
	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
)

// SellerGateway adapts the Client to account verification.
type SellerGateway struct {
	client *Client
}

var _ seller.Gateway = (*SellerGateway)(nil)

// NewSellerGateway creates a SellerGateway.
func NewSellerGateway(client *Client) *SellerGateway {
	return &SellerGateway{client: client}
}

func (g *SellerGateway) Authenticate(ctx context.Context) error {
	_, err := g.client.Authenticate(ctx)
	return err
}

// VerifyAccount maps a Payple rejection to an unverified Result. Only
// transport failures are returned as errors.
func (g *SellerGateway) VerifyAccount(ctx context.Context, acc seller.Account) (seller.Result, error) {
	infoType := HolderBirthDate
	if acc.HolderType == seller.HolderBusiness {
		infoType = HolderBusinessNumber
	}

	resp, err := g.client.VerifyAccount(ctx, AccountRequest{
		BankCode:       acc.BankCode,
		AccountNumber:  acc.AccountNumber,
		HolderInfoType: infoType,
		HolderInfo:     acc.HolderInfo,
	})
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return seller.Result{Code: apiErr.Code, Message: apiErr.Message}, nil
	case err != nil:
		return seller.Result{}, err
	}
	return seller.Result{
		Verified:      true,
		Code:          resp.Result,
		Message:       resp.Message,
		BillingTranID: resp.BillingTranID,
	}, nil
}

// PayoutGateway adapts the Client to settlement payouts.
type PayoutGateway struct {
	client *Client
}

var _ settlement.PayoutGateway = (*PayoutGateway)(nil)

// NewPayoutGateway creates a PayoutGateway.
func NewPayoutGateway(client *Client) *PayoutGateway {
	return &PayoutGateway{client: client}
}

func (g *PayoutGateway) Authenticate(ctx context.Context) (settlement.AuthResult, error) {
	resp, err := g.client.Authenticate(ctx)
	return settlement.AuthResult{
		Code:        resp.Result,
		Message:     resp.Message,
		AccessToken: resp.AccessToken,
		ExpiresIn:   resp.ExpiresIn,
	}, err
}

// Transfer registers the payout and executes it right away.
func (g *PayoutGateway) Transfer(ctx context.Context, req settlement.TransferRequest) (settlement.TransferResult, error) {
	registered, err := g.client.RequestTransfer(ctx, TransferRequest{
		BillingTranID: req.BillingTranID,
		Amount:        req.Amount,
		PrintContent:  req.Memo,
		DistinctKey:   "settlement-" + strconv.FormatInt(req.SettlementID, 10),
	})
	if err != nil {
		return settlement.TransferResult{}, errors.Wrap(err, "request transfer")
	}

	executed, err := g.client.ExecuteTransfer(ctx, registered.GroupKey, registered.BillingTranID)
	if err != nil {
		return settlement.TransferResult{GroupKey: registered.GroupKey}, errors.Wrap(err, "execute transfer")
	}

	apiTranID := executed.APITranID
	if apiTranID == "" {
		apiTranID = registered.APITranID
	}
	return settlement.TransferResult{
		APITranID:  apiTranID,
		GroupKey:   registered.GroupKey,
		BankTranID: executed.BankTranID,
		Code:       executed.Result,
		Message:    executed.Message,
	}, nil
}

// Outcome converts the callback into a settlement transfer outcome.
func (w *TransferWebhook) Outcome() settlement.TransferOutcome {
	return settlement.TransferOutcome{
		TransferID: w.TransferID(),
		BankTranID: w.BankTranID,
		Succeeded:  w.Succeeded(),
		Code:       w.Result,
		Message:    w.Message,
	}
}
