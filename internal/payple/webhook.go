package payple

import (
	"encoding/json"
	"io"

	"github.com/go-faster/errors"
)

// TransferWebhook is the asynchronous transfer result posted by Payple.
type TransferWebhook struct {
	Result        string `json:"result"`
	Message       string `json:"message"`
	CustID        string `json:"cst_id"`
	GroupKey      string `json:"group_key"`
	BillingTranID string `json:"billing_tran_id"`
	APITranID     string `json:"api_tran_id"`
	APITranDtm    string `json:"api_tran_dtm"`
	BankTranID    string `json:"bank_tran_id"`
	BankTranDate  string `json:"bank_tran_date"`
	BankRspCode   string `json:"bank_rsp_code"`
	TranAmount    string `json:"tran_amt"`
}

// Succeeded reports whether the bank accepted the transfer.
func (w *TransferWebhook) Succeeded() bool { return w.Result == CodeOK }

// TransferID returns the id the transfer was registered under.
func (w *TransferWebhook) TransferID() string {
	if w.APITranID != "" {
		return w.APITranID
	}
	return w.GroupKey
}

// ParseTransferWebhook decodes a transfer result callback.
func ParseTransferWebhook(r io.Reader) (*TransferWebhook, error) {
	var w TransferWebhook
	if err := json.NewDecoder(io.LimitReader(r, maxResponseSize)).Decode(&w); err != nil {
		return nil, errors.Wrap(err, "decode transfer webhook")
	}
	if w.Result == "" {
		return nil, errors.New("transfer webhook has no result code")
	}
	if w.TransferID() == "" {
		return nil, errors.New("transfer webhook has no transfer id")
	}
	return &w, nil
}
