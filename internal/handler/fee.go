package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-settlement/internal/domain/fee"
)

type ratesBody struct {
	PgFeeApplied        decimal.Decimal `json:"pgFeeApplied"`
	PgFeeDisplay        decimal.Decimal `json:"pgFeeDisplay"`
	PgFeeBaseline       decimal.Decimal `json:"pgFeeBaseline"`
	PlatformFeeApplied  decimal.Decimal `json:"platformFeeApplied"`
	PlatformFeeDisplay  decimal.Decimal `json:"platformFeeDisplay"`
	PlatformFeeBaseline decimal.Decimal `json:"platformFeeBaseline"`
	VatRate             decimal.Decimal `json:"vatRate"`
}

type publishPolicyRequest struct {
	Scope         string     `json:"scope"`
	SellerID      *int64     `json:"sellerId"`
	EffectiveFrom time.Time  `json:"effectiveFrom"`
	EffectiveTo   *time.Time `json:"effectiveTo"`
	Rates         ratesBody  `json:"rates"`
}

type policyResponse struct {
	ID            int64      `json:"id"`
	Scope         string     `json:"scope"`
	SellerID      *int64     `json:"sellerId,omitempty"`
	Version       int        `json:"version"`
	EffectiveFrom time.Time  `json:"effectiveFrom"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`
	Rates         ratesBody  `json:"rates"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// PublishFeePolicy handles POST /admin/fee-policies.
func (h *Handler) PublishFeePolicy(w http.ResponseWriter, r *http.Request) {
	var req publishPolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.deps.Policies.Publish(r.Context(), fee.NewPolicy{
		Scope:         fee.Scope(req.Scope),
		SellerID:      req.SellerID,
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
		Rates: fee.Rates{
			PgFeeApplied:        req.Rates.PgFeeApplied,
			PgFeeDisplay:        req.Rates.PgFeeDisplay,
			PgFeeBaseline:       req.Rates.PgFeeBaseline,
			PlatformFeeApplied:  req.Rates.PlatformFeeApplied,
			PlatformFeeDisplay:  req.Rates.PlatformFeeDisplay,
			PlatformFeeBaseline: req.Rates.PlatformFeeBaseline,
			VAT:                 req.Rates.VatRate,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, policyResponse{
		ID:            p.ID,
		Scope:         string(p.Scope),
		SellerID:      p.SellerID,
		Version:       p.Version,
		EffectiveFrom: p.EffectiveFrom,
		EffectiveTo:   p.EffectiveTo,
		Rates: ratesBody{
			PgFeeApplied:        p.Rates.PgFeeApplied,
			PgFeeDisplay:        p.Rates.PgFeeDisplay,
			PgFeeBaseline:       p.Rates.PgFeeBaseline,
			PlatformFeeApplied:  p.Rates.PlatformFeeApplied,
			PlatformFeeDisplay:  p.Rates.PlatformFeeDisplay,
			PlatformFeeBaseline: p.Rates.PlatformFeeBaseline,
			VatRate:             p.Rates.VAT,
		},
		CreatedAt: p.CreatedAt,
	})
}
