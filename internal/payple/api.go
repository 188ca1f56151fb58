package payple

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// tokenLeeway is subtracted from the token lifetime before caching it.
const tokenLeeway = 60 * time.Second

type partner struct {
	CustID  string `json:"cst_id"`
	CustKey string `json:"custKey"`
}

func (c *Client) partner() partner {
	return partner{CustID: c.cfg.CustID, CustKey: c.cfg.CustKey}
}

type result struct {
	Result  string `json:"result"`
	Message string `json:"message"`
}

func (r result) check(op, want string) error {
	if r.Result != want {
		return &APIError{Op: op, Code: r.Result, Message: r.Message}
	}
	return nil
}

// AuthResponse is the partner authentication response.
type AuthResponse struct {
	Result      string `json:"result"`
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Authenticate performs partner authentication and caches the issued token.
// A result code other than T0000 is returned as an APIError along with the
// response.
func (c *Client) Authenticate(ctx context.Context) (AuthResponse, error) {
	const op = "partner auth"

	req := struct {
		partner
		Code string `json:"code"`
	}{partner: c.partner(), Code: "as12345678"}

	var resp AuthResponse
	if err := c.post(ctx, op, "/oauth/token", req, &resp); err != nil {
		return resp, err
	}
	if err := (result{Result: resp.Result, Message: resp.Message}).check(op, CodeAuthOK); err != nil {
		return resp, err
	}

	ttl := time.Duration(resp.ExpiresIn)*time.Second - tokenLeeway
	if ttl > 0 {
		if err := c.tokens.Set(ctx, resp.AccessToken, ttl); err != nil {
			return resp, errors.Wrap(err, "cache access token")
		}
	}
	return resp, nil
}

// token returns a cached access token, authenticating when none is cached.
func (c *Client) token(ctx context.Context) (string, error) {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return "", errors.Wrap(err, "read cached access token")
	}
	if token != "" {
		return token, nil
	}
	resp, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

// postAuthorized posts with the cached access token. A token Payple no
// longer accepts is replaced once by a fresh one, which also overwrites the
// shared cache for every other caller.
func (c *Client) postAuthorized(ctx context.Context, op, path string, in, out any, opts ...callOption) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	err = c.post(ctx, op, path, in, out, append(opts, withToken(token))...)
	if !isUnauthorized(err) {
		return err
	}

	zctx.From(ctx).Info("Payple rejected cached access token, authenticating again", zap.String("op", op))
	resp, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}
	return c.post(ctx, op, path, in, out, append(opts, withToken(resp.AccessToken))...)
}

func isUnauthorized(err error) bool {
	var extErr *ExternalServiceError
	return errors.As(err, &extErr) && extErr.StatusCode == http.StatusUnauthorized
}

// HolderInfoType tells Payple how to interpret the account holder info.
type HolderInfoType string

const (
	// HolderBirthDate is a 6 digit birth date of an individual.
	HolderBirthDate HolderInfoType = "0"
	// HolderBusinessNumber is a 10 digit business registration number.
	HolderBusinessNumber HolderInfoType = "6"
)

// AccountRequest is an account holder verification request.
type AccountRequest struct {
	BankCode       string
	AccountNumber  string
	HolderInfoType HolderInfoType
	HolderInfo     string
	SubID          string
}

// AccountResponse is the account holder verification response.
type AccountResponse struct {
	Result            string `json:"result"`
	Message           string `json:"message"`
	BillingTranID     string `json:"billing_tran_id"`
	AccountHolderName string `json:"account_holder_name"`
	TranDtime         string `json:"tran_dtime"`
}

// VerifyAccount checks that the account exists and belongs to the holder.
// A rejection is returned as an APIError along with the response.
func (c *Client) VerifyAccount(ctx context.Context, ar AccountRequest) (AccountResponse, error) {
	const op = "account verification"


	req := struct {
		partner
		SubID          string `json:"sub_id,omitempty"`
		BankCode       string `json:"bank_code_std"`
		AccountNumber  string `json:"account_num"`
		HolderInfoType string `json:"account_holder_info_type"`
		HolderInfo     string `json:"account_holder_info"`
	}{
		partner:        c.partner(),
		SubID:          ar.SubID,
		BankCode:       ar.BankCode,
		AccountNumber:  ar.AccountNumber,
		HolderInfoType: string(ar.HolderInfoType),
		HolderInfo:     ar.HolderInfo,
	}

	var resp AccountResponse
	if err := c.postAuthorized(ctx, op, "/inquiry/real_name", req, &resp); err != nil {
		return resp, err
	}
	return resp, result{Result: resp.Result, Message: resp.Message}.check(op, CodeOK)
}

// TransferRequest registers a pending transfer to a verified account.
type TransferRequest struct {
	BillingTranID string
	Amount        decimal.Decimal
	PrintContent  string
	// DistinctKey deduplicates the request on the Payple side. It is
	// generated when empty and reused by retries.
	DistinctKey string
}

// TransferResponse identifies a registered or executed transfer.
type TransferResponse struct {
	Result        string `json:"result"`
	Message       string `json:"message"`
	GroupKey      string `json:"group_key"`
	BillingTranID string `json:"billing_tran_id"`
	APITranID     string `json:"api_tran_id"`
	APITranDtm    string `json:"api_tran_dtm"`
	BankTranID    string `json:"bank_tran_id"`
	TranAmount    string `json:"tran_amt"`
}

// RequestTransfer registers a pending transfer. The money only moves once
// the group is executed.
func (c *Client) RequestTransfer(ctx context.Context, tr TransferRequest) (TransferResponse, error) {
	const op = "transfer request"

	if tr.DistinctKey == "" {
		tr.DistinctKey = uuid.NewString()
	}

	req := struct {
		partner
		BillingTranID string `json:"billing_tran_id"`
		Amount        string `json:"tran_amt"`
		PrintContent  string `json:"print_content,omitempty"`
		DistinctKey   string `json:"distinct_key"`
	}{
		partner:       c.partner(),
		BillingTranID: tr.BillingTranID,
		Amount:        tr.Amount.StringFixed(0),
		PrintContent:  tr.PrintContent,
		DistinctKey:   tr.DistinctKey,
	}

	var resp TransferResponse
	if err := c.postAuthorized(ctx, op, "/transfer/request", req, &resp); err != nil {
		return resp, err
	}
	return resp, result{Result: resp.Result, Message: resp.Message}.check(op, CodeOK)
}

// ExecuteTransfer executes the pending transfers of a group. The final bank
// result is reported asynchronously to the configured webhook.
func (c *Client) ExecuteTransfer(ctx context.Context, groupKey, billingTranID string) (TransferResponse, error) {
	const op = "transfer execute"


	req := struct {
		partner
		GroupKey      string `json:"group_key"`
		BillingTranID string `json:"billing_tran_id"`
		ExecuteType   string `json:"execute_type"`
		WebhookURL    string `json:"webhook_url,omitempty"`
	}{
		partner:       c.partner(),
		GroupKey:      groupKey,
		BillingTranID: billingTranID,
		ExecuteType:   "NOW",
		WebhookURL:    c.cfg.WebhookURL,
	}

	var resp TransferResponse
	if err := c.postAuthorized(ctx, op, "/transfer/execute", req, &resp,
		withTimeout(c.cfg.TransferReadTimeout),
	); err != nil {
		return resp, err
	}
	return resp, result{Result: resp.Result, Message: resp.Message}.check(op, CodeOK)
}

// Remain is the balance of the partner payout account.
type Remain struct {
	Amount    decimal.Decimal
	CheckedAt time.Time
}

// Remain returns the balance available for payouts.
func (c *Client) Remain(ctx context.Context) (*Remain, error) {
	const op = "account remain"


	var resp struct {
		Result    string `json:"result"`
		Message   string `json:"message"`
		RemainAmt string `json:"remain_amt"`
	}
	if err := c.postAuthorized(ctx, op, "/inquiry/remain", c.partner(), &resp); err != nil {
		return nil, err
	}
	if err := (result{Result: resp.Result, Message: resp.Message}).check(op, CodeOK); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(resp.RemainAmt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse remain amount %q", resp.RemainAmt)
	}
	return &Remain{Amount: amount, CheckedAt: c.now()}, nil
}
