// Package handler exposes the order, settlement and seller operations over
// HTTP with a chi router.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/marketplace-settlement/internal/domain/auth"
	"github.com/xenking/marketplace-settlement/internal/domain/fee"
	"github.com/xenking/marketplace-settlement/internal/domain/order"
	"github.com/xenking/marketplace-settlement/internal/domain/seller"
	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
	"github.com/xenking/marketplace-settlement/internal/payple"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// OrderService creates and cancels orders.
type OrderService interface {
	CreateOrder(ctx context.Context, user order.UserContext, req order.CreateOrderRequest) (*order.CreateOrderResult, error)
	CancelOrder(ctx context.Context, user order.UserContext, orderID int64) (*order.Order, error)
}

// Approver drives settlement approval and admin transitions.
type Approver interface {
	Approve(ctx context.Context, req settlement.ApproveRequest) (*settlement.ApproveResult, error)
	Cancel(ctx context.Context, id, adminUserID int64, reason string) (*settlement.Settlement, error)
	Hold(ctx context.Context, id int64, reason string) (*settlement.Settlement, error)
	RecordTransferResult(ctx context.Context, out settlement.TransferOutcome) (*settlement.Settlement, error)
}

// Aggregator builds settlements for a cycle.
type Aggregator interface {
	AggregateCycle(ctx context.Context, c settlement.Cycle) (*settlement.CycleReport, error)
	AggregateSeller(ctx context.Context, sellerID int64, c settlement.Cycle) (*settlement.SellerResult, error)
}

// SellerVerifier verifies seller payout accounts.
type SellerVerifier interface {
	VerifyAccount(ctx context.Context, nickname string) (*seller.Seller, error)
}

// PolicyPublisher publishes fee policy versions.
type PolicyPublisher interface {
	Publish(ctx context.Context, np fee.NewPolicy) (*fee.Policy, error)
}

// BalanceChecker reports the PG payout balance.
type BalanceChecker interface {
	Remain(ctx context.Context) (*payple.Remain, error)
}

// Config holds the settings the handlers need.
type Config struct {
	// APIKeyPepper is the HMAC key used to hash admin API keys.
	APIKeyPepper []byte
	// WebhookToken authenticates PG webhooks. Webhooks are rejected when it
	// is empty.
	WebhookToken string
	// ScheduledDay and Location define settlement cycles.
	ScheduledDay int
	Location     *time.Location
	// OrderLimit guards the public order routes, usually a per-buyer rate
	// limit keyed by BuyerKey. Nil leaves them unlimited.
	OrderLimit func(http.Handler) http.Handler
}

// Deps are the services behind the handlers.
type Deps struct {
	Orders     OrderService
	Approver   Approver
	Aggregator Aggregator
	Sellers    SellerVerifier
	Policies   PolicyPublisher
	Balance    BalanceChecker
	APIKeys    auth.Repository
}

// Handler serves the HTTP API.
type Handler struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(cfg Config, deps Deps) *Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Handler{cfg: cfg, deps: deps, now: time.Now}
}

// Routes returns the API router. Mount it under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if h.cfg.OrderLimit != nil {
			r.Use(h.cfg.OrderLimit)
		}
		r.Post("/orders", h.CreateOrder)
		r.Post("/orders/{orderID}/cancel", h.CancelOrder)
	})
	r.Post("/webhooks/payple/transfer", h.PaypleTransferWebhook)

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.authenticate)

		r.With(requireScope(auth.ScopeSettlementApprove)).Post("/settlements/approve", h.ApproveSettlements)
		r.Group(func(r chi.Router) {
			r.Use(requireScope(auth.ScopeSettlementManage))
			r.Post("/settlements/aggregate", h.AggregateSettlements)
			r.Post("/settlements/{settlementID}/cancel", h.CancelSettlement)
			r.Post("/settlements/{settlementID}/hold", h.HoldSettlement)
			r.Get("/payple/remain", h.PaypleRemain)
		})
		r.With(requireScope(auth.ScopeSellerVerify)).Post("/sellers/{nickname}/verify-account", h.VerifySellerAccount)
		r.With(requireScope(auth.ScopeFeePolicyWrite)).Post("/fee-policies", h.PublishFeePolicy)
	})
	return r
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return &requestError{msg: "invalid request body: " + err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestError is a malformed request.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}
