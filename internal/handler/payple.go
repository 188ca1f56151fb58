package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
	"github.com/xenking/marketplace-settlement/internal/payple"
)

// WebhookTokenHeader authenticates PG webhooks.
const WebhookTokenHeader = "X-Webhook-Token"

type webhookResponse struct {
	SettlementID   int64  `json:"settlementId"`
	Status         string `json:"status"`
	TransferStatus string `json:"transferStatus"`
}

// PaypleTransferWebhook handles POST /webhooks/payple/transfer, recording
// the asynchronous result of a payout. Repeated deliveries are harmless.
func (h *Handler) PaypleTransferWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(WebhookTokenHeader)
	if h.cfg.WebhookToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.WebhookToken)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Code: CodeUnauthorized, Message: "invalid webhook token"})
		return
	}

	hook, err := payple.ParseTransferWebhook(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, r, &requestError{msg: err.Error()})
		return
	}

	s, err := h.deps.Approver.RecordTransferResult(r.Context(), hook.Outcome())
	if err != nil {
		if errors.Is(err, settlement.ErrSettlementNotFound) {
			zctx.From(r.Context()).Warn("Webhook for unknown transfer", zap.String("transfer_id", hook.TransferID()))
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{
		SettlementID:   s.ID,
		Status:         string(s.Status),
		TransferStatus: string(s.TransferStatus),
	})
}

type remainResponse struct {
	Amount    decimal.Decimal `json:"amount"`
	CheckedAt time.Time       `json:"checkedAt"`
}

// PaypleRemain handles GET /admin/payple/remain.
func (h *Handler) PaypleRemain(w http.ResponseWriter, r *http.Request) {
	rem, err := h.deps.Balance.Remain(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, remainResponse{Amount: rem.Amount, CheckedAt: rem.CheckedAt})
}
