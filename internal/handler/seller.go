package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/marketplace-settlement/internal/domain/seller"
)

type sellerVerificationResponse struct {
	Nickname           string     `json:"nickname"`
	VerificationStatus string     `json:"verificationStatus"`
	VerifiedAt         *time.Time `json:"verifiedAt,omitempty"`
	ResultCode         string     `json:"resultCode,omitempty"`
	ResultMessage      string     `json:"resultMessage,omitempty"`
}

// VerifySellerAccount handles POST /admin/sellers/{nickname}/verify-account.
// A PG rejection answers 422 with the stored seller state.
func (h *Handler) VerifySellerAccount(w http.ResponseWriter, r *http.Request) {
	nickname := chi.URLParam(r, "nickname")

	sel, err := h.deps.Sellers.VerifyAccount(r.Context(), nickname)
	var verifyErr *seller.VerificationError
	switch {
	case errors.As(err, &verifyErr) && sel != nil:
		writeJSON(w, http.StatusUnprocessableEntity, struct {
			errorResponse
			Seller sellerVerificationResponse `json:"seller"`
		}{
			errorResponse: errorResponse{Code: CodePGRejected, Message: err.Error(), PGCode: verifyErr.Code},
			Seller:        toSellerResponse(sel),
		})
		return
	case err != nil:
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSellerResponse(sel))
}

func toSellerResponse(s *seller.Seller) sellerVerificationResponse {
	return sellerVerificationResponse{
		Nickname:           s.Nickname,
		VerificationStatus: string(s.VerificationStatus),
		VerifiedAt:         s.VerifiedAt,
		ResultCode:         s.LastVerificationCode,
		ResultMessage:      s.LastVerificationMessage,
	}
}
