package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-settlement/internal/domain/order"
	"github.com/xenking/marketplace-settlement/pkg/httpmiddleware"
)

// Buyer identity headers. A member request carries X-User-ID, a guest
// request X-Guest-Key.
const (
	UserIDHeader   = "X-User-ID"
	GuestKeyHeader = "X-Guest-Key"
)

type optionSelection struct {
	OptionID int64 `json:"optionId"`
	Quantity int   `json:"quantity"`
}

type createOrderRequest struct {
	ContentID   int64             `json:"contentId"`
	Options     []optionSelection `json:"options"`
	CouponCodes []string          `json:"couponCodes"`
}

type orderItemResponse struct {
	OptionID   int64           `json:"optionId"`
	OptionKind string          `json:"optionKind"`
	OptionName string          `json:"optionName"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type orderResponse struct {
	ID                  int64               `json:"id"`
	MerchantUID         string              `json:"merchantUid"`
	ContentID           int64               `json:"contentId"`
	SellerID            int64               `json:"sellerId"`
	Items               []orderItemResponse `json:"items"`
	OriginalPrice       decimal.Decimal     `json:"originalPrice"`
	CouponDiscountPrice decimal.Decimal     `json:"couponDiscountPrice"`
	FinalPrice          decimal.Decimal     `json:"finalPrice"`
	UserCouponID        *int64              `json:"userCouponId,omitempty"`
	Status              string              `json:"status"`
	FailureReason       string              `json:"failureReason,omitempty"`
	PaidAt              *time.Time          `json:"paidAt,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
}

type appliedCouponResponse struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Discount decimal.Decimal `json:"discount"`
}

type completionResponse struct {
	Completed  bool   `json:"completed"`
	Reason     string `json:"reason,omitempty"`
	PaymentID  int64  `json:"paymentId,omitempty"`
	PurchaseID int64  `json:"purchaseId,omitempty"`
}

type createOrderResponse struct {
	Order         orderResponse          `json:"order"`
	AppliedCoupon *appliedCouponResponse `json:"appliedCoupon,omitempty"`
	Completion    *completionResponse    `json:"completion,omitempty"`
}

// BuyerKey identifies the buyer of a request for rate limiting. Anonymous
// requests fall back to the client address.
func BuyerKey(r *http.Request) string {
	if id := r.Header.Get(UserIDHeader); id != "" {
		return "user:" + id
	}
	if key := r.Header.Get(GuestKeyHeader); key != "" {
		return "guest:" + key
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}

// buyer resolves the member or guest placing the request.
func buyer(r *http.Request) (order.UserContext, error) {
	if raw := r.Header.Get(UserIDHeader); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return order.UserContext{}, badRequest("invalid %s header", UserIDHeader)
		}
		return order.Member(id), nil
	}
	if key := r.Header.Get(GuestKeyHeader); key != "" {
		return order.Guest(key), nil
	}
	return order.UserContext{}, order.ErrUnknownUser
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user, err := buyer(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	selections := make([]order.OptionSelection, len(req.Options))
	for i, o := range req.Options {
		selections[i] = order.OptionSelection{OptionID: o.OptionID, Quantity: o.Quantity}
	}

	res, err := h.deps.Orders.CreateOrder(r.Context(), user, order.CreateOrderRequest{
		ContentID:   req.ContentID,
		Options:     selections,
		CouponCodes: req.CouponCodes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := createOrderResponse{Order: toOrderResponse(res.Order)}
	if a := res.AppliedCoupon; a != nil {
		resp.AppliedCoupon = &appliedCouponResponse{
			Code:     a.Coupon.Code,
			Name:     a.Coupon.Template.Name,
			Discount: a.Discount,
		}
	}
	if c := res.Completion; c != nil {
		resp.Completion = &completionResponse{Completed: c.Completed, Reason: c.Reason}
		if c.Payment != nil {
			resp.Completion.PaymentID = c.Payment.ID
		}
		if c.Purchase != nil {
			resp.Completion.PurchaseID = c.Purchase.ID
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// CancelOrder handles POST /orders/{orderID}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	user, err := buyer(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	orderID, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.deps.Orders.CancelOrder(r.Context(), user, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			OptionID:   it.OptionID,
			OptionKind: string(it.OptionKind),
			OptionName: it.OptionName,
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
			TotalPrice: it.TotalPrice,
		}
	}
	return orderResponse{
		ID:                  o.ID,
		MerchantUID:         o.MerchantUID,
		ContentID:           o.ContentID,
		SellerID:            o.SellerID,
		Items:               items,
		OriginalPrice:       o.OriginalPrice,
		CouponDiscountPrice: o.CouponDiscountPrice,
		FinalPrice:          o.FinalPrice,
		UserCouponID:        o.UserCouponID,
		Status:              string(o.Status),
		FailureReason:       o.FailureReason,
		PaidAt:              o.PaidAt,
		CreatedAt:           o.CreatedAt,
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s", name)
	}
	return id, nil
}
