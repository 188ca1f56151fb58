package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
)

type approveRequest struct {
	SettlementIDs           []int64 `json:"settlementIds"`
	AdminUserID             int64   `json:"adminUserId"`
	ApprovalReason          string  `json:"approvalReason"`
	ExecutePaypleSettlement bool    `json:"executePaypleSettlement"`
}

type paypleResult struct {
	Success         bool   `json:"success"`
	ResponseCode    string `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
	AccessToken     string `json:"accessToken,omitempty"`
	ExpiresIn       int    `json:"expiresIn,omitempty"`
}

type failedSettlement struct {
	SettlementID  int64  `json:"settlementId"`
	FailureReason string `json:"failureReason"`
}

type approveResponse struct {
	Success                   bool               `json:"success"`
	ApprovedSettlementCount   int                `json:"approvedSettlementCount"`
	ApprovedItemCount         int                `json:"approvedItemCount"`
	TotalApprovedAmount       decimal.Decimal    `json:"totalApprovedAmount"`
	ApprovedAt                time.Time          `json:"approvedAt"`
	PaypleResult              *paypleResult      `json:"paypleResult,omitempty"`
	FailedSettlements         []failedSettlement `json:"failedSettlements"`
	ExcludedRefundedItemCount int                `json:"excludedRefundedItemCount"`
}

// ApproveSettlements handles POST /admin/settlements/approve. The acting
// admin is the owner of the API key; a different adminUserId is rejected.
func (h *Handler) ApproveSettlements(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	key, _ := apiKeyFrom(r.Context())
	if req.AdminUserID != 0 && req.AdminUserID != key.AdminUserID {
		writeJSON(w, http.StatusForbidden, errorResponse{Code: CodeForbidden, Message: "adminUserId does not match the api key"})
		return
	}

	res, err := h.deps.Approver.Approve(r.Context(), settlement.ApproveRequest{
		SettlementIDs:   req.SettlementIDs,
		AdminUserID:     key.AdminUserID,
		Reason:          req.ApprovalReason,
		ExecuteTransfer: req.ExecutePaypleSettlement,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := approveResponse{
		Success:                   res.Success,
		ApprovedSettlementCount:   res.ApprovedSettlementCount,
		ApprovedItemCount:         res.ApprovedItemCount,
		TotalApprovedAmount:       res.TotalApprovedAmount,
		ApprovedAt:                res.ApprovedAt,
		FailedSettlements:         make([]failedSettlement, len(res.FailedSettlements)),
		ExcludedRefundedItemCount: res.ExcludedRefundedItemCount,
	}
	for i, f := range res.FailedSettlements {
		resp.FailedSettlements[i] = failedSettlement{SettlementID: f.SettlementID, FailureReason: f.Reason}
	}
	if pg := res.PGResult; pg != nil {
		resp.PaypleResult = &paypleResult{
			Success:         pg.Success,
			ResponseCode:    pg.ResponseCode,
			ResponseMessage: pg.ResponseMessage,
			AccessToken:     pg.AccessToken,
			ExpiresIn:       pg.ExpiresIn,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type aggregateRequest struct {
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	SellerID *int64 `json:"sellerId"`
}

type sellerFailure struct {
	SellerID int64  `json:"sellerId"`
	Error    string `json:"error"`
}

type aggregateResponse struct {
	SettlementStartDate string               `json:"settlementStartDate"`
	SettlementEndDate   string               `json:"settlementEndDate"`
	Created             int                  `json:"created"`
	Skipped             int                  `json:"skipped"`
	Settlements         []settlementResponse `json:"settlements"`
	Failures            []sellerFailure      `json:"failures"`
}

// AggregateSettlements handles POST /admin/settlements/aggregate. Without a
// year and month the previous cycle is aggregated.
func (h *Handler) AggregateSettlements(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var cycle settlement.Cycle
	switch {
	case req.Year == 0 && req.Month == 0:
		cycle = settlement.CycleOf(h.now().In(h.cfg.Location), h.cfg.ScheduledDay).Previous(h.cfg.ScheduledDay)
	case req.Month < 1 || req.Month > 12 || req.Year < 2000:
		writeError(w, r, badRequest("invalid cycle %d-%02d", req.Year, req.Month))
		return
	default:
		cycle = settlement.MonthlyCycle(req.Year, time.Month(req.Month), h.cfg.ScheduledDay, h.cfg.Location)
	}

	resp := aggregateResponse{
		SettlementStartDate: cycle.Start.Format(time.DateOnly),
		SettlementEndDate:   cycle.LastDay().Format(time.DateOnly),
		Settlements:         []settlementResponse{},
		Failures:            []sellerFailure{},
	}

	if req.SellerID != nil {
		res, err := h.deps.Aggregator.AggregateSeller(r.Context(), *req.SellerID, cycle)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.addResult(*res)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	report, err := h.deps.Aggregator.AggregateCycle(r.Context(), cycle)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, res := range report.Results {
		resp.addResult(res)
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, sellerFailure{SellerID: f.SellerID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (resp *aggregateResponse) addResult(res settlement.SellerResult) {
	if res.Settlement == nil {
		return
	}
	if res.Skipped {
		resp.Skipped++
	} else {
		resp.Created++
	}
	resp.Settlements = append(resp.Settlements, toSettlementResponse(res.Settlement))
}

type transitionRequest struct {
	Reason string `json:"reason"`
}

// CancelSettlement handles POST /admin/settlements/{settlementID}/cancel.
func (h *Handler) CancelSettlement(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.transitionInput(w, r)
	if !ok {
		return
	}
	key, _ := apiKeyFrom(r.Context())

	s, err := h.deps.Approver.Cancel(r.Context(), id, key.AdminUserID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(s))
}

// HoldSettlement handles POST /admin/settlements/{settlementID}/hold.
func (h *Handler) HoldSettlement(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.transitionInput(w, r)
	if !ok {
		return
	}

	s, err := h.deps.Approver.Hold(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(s))
}

func (h *Handler) transitionInput(w http.ResponseWriter, r *http.Request) (int64, transitionRequest, bool) {
	var req transitionRequest
	id, err := pathID(r, "settlementID")
	if err == nil {
		err = decodeJSON(r, &req)
	}
	if err == nil && req.Reason == "" {
		err = badRequest("reason is required")
	}
	if err != nil {
		writeError(w, r, err)
		return 0, req, false
	}
	return id, req, true
}

// settlementResponse carries the fields of record of a settlement.
type settlementResponse struct {
	ID                      int64           `json:"id"`
	SellerID                int64           `json:"sellerId"`
	SettlementStartDate     string          `json:"settlementStartDate"`
	SettlementEndDate       string          `json:"settlementEndDate"`
	ScheduledSettlementDate string          `json:"scheduledSettlementDate"`
	ItemCount               int             `json:"itemCount"`
	RefundCount             int             `json:"refundCount"`
	TotalSalesAmount        decimal.Decimal `json:"totalSalesAmount"`
	TotalRefundAmount       decimal.Decimal `json:"totalRefundAmount"`
	PgFee                   decimal.Decimal `json:"pgFee"`
	PgFeeDisplay            decimal.Decimal `json:"pgFeeDisplay"`
	PgFeeDifference         decimal.Decimal `json:"pgFeeDifference"`
	PgFeeRefundExpected     decimal.Decimal `json:"pgFeeRefundExpected"`
	PlatformFee             decimal.Decimal `json:"platformFee"`
	PlatformFeeDisplay      decimal.Decimal `json:"platformFeeDisplay"`
	PlatformFeeForgone      decimal.Decimal `json:"platformFeeForgone"`
	VatRate                 decimal.Decimal `json:"vatRate"`
	VatAmount               decimal.Decimal `json:"vatAmount"`
	TotalFee                decimal.Decimal `json:"totalFee"`
	TotalFeeDisplay         decimal.Decimal `json:"totalFeeDisplay"`
	SettlementAmount        decimal.Decimal `json:"settlementAmount"`
	SettlementAmountDisplay decimal.Decimal `json:"settlementAmountDisplay"`
	Status                  string          `json:"status"`
	Version                 int             `json:"version"`
	HoldReason              string          `json:"holdReason,omitempty"`
	ApprovedBy              *int64          `json:"approvedBy,omitempty"`
	ApprovalReason          string          `json:"approvalReason,omitempty"`
	SettledAt               *time.Time      `json:"settledAt,omitempty"`
	TransferStatus          string          `json:"transferStatus"`
}

func toSettlementResponse(s *settlement.Settlement) settlementResponse {
	return settlementResponse{
		ID:                      s.ID,
		SellerID:                s.SellerID,
		SettlementStartDate:     s.StartDate.Format(time.DateOnly),
		SettlementEndDate:       s.EndDate.Format(time.DateOnly),
		ScheduledSettlementDate: s.ScheduledDate.Format(time.DateOnly),
		ItemCount:               s.ItemCount,
		RefundCount:             s.RefundCount,
		TotalSalesAmount:        s.TotalSalesAmount,
		TotalRefundAmount:       s.TotalRefundAmount,
		PgFee:                   s.PgFee,
		PgFeeDisplay:            s.PgFeeDisplay,
		PgFeeDifference:         s.PgFeeDifference,
		PgFeeRefundExpected:     s.PgFeeRefundExpected,
		PlatformFee:             s.PlatformFee,
		PlatformFeeDisplay:      s.PlatformFeeDisplay,
		PlatformFeeForgone:      s.PlatformFeeForgone,
		VatRate:                 s.VatRate,
		VatAmount:               s.VatAmount,
		TotalFee:                s.TotalFee,
		TotalFeeDisplay:         s.TotalFeeDisplay,
		SettlementAmount:        s.SettlementAmount,
		SettlementAmountDisplay: s.SettlementAmountDisplay,
		Status:                  string(s.Status),
		Version:                 s.Version,
		HoldReason:              s.HoldReason,
		ApprovedBy:              s.ApprovedBy,
		ApprovalReason:          s.ApprovalReason,
		SettledAt:               s.SettledAt,
		TransferStatus:          string(s.TransferStatus),
	}
}
