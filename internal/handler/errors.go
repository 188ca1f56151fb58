package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-settlement/internal/domain/coupon"
	"github.com/xenking/marketplace-settlement/internal/domain/fee"
	"github.com/xenking/marketplace-settlement/internal/domain/order"
	"github.com/xenking/marketplace-settlement/internal/domain/seller"
	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
	"github.com/xenking/marketplace-settlement/internal/payple"
	"github.com/xenking/marketplace-settlement/pkg/resilience"
)

// Error codes of the JSON error body.
const (
	CodeValidation      = "VALIDATION"
	CodeNotFound        = "NOT_FOUND"
	CodeBusinessRule    = "BUSINESS_RULE"
	CodeConflict        = "CONFLICT"
	CodePolicyNotFound  = "POLICY_NOT_FOUND"
	CodePGRejected      = "PG_REJECTED"
	CodeExternalService = "EXTERNAL_SERVICE"
	CodeCircuitOpen     = "CIRCUIT_OPEN"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeInternal        = "INTERNAL"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// PGCode is the partner result code of a PG rejection.
	PGCode string `json:"pgCode,omitempty"`
}

// classify maps an error to a status and response body.
func classify(err error) (int, errorResponse) {
	var (
		reqErr     *requestError
		policyErr  *fee.InvalidPolicyError
		noPolicy   *fee.PolicyNotFoundError
		transition *settlement.InvalidTransitionError
		conflict   *settlement.ConcurrencyConflictError
		verifyErr  *seller.VerificationError
		apiErr     *payple.APIError
		openErr    *resilience.CircuitOpenError
		extErr     *payple.ExternalServiceError
	)

	switch {
	case errors.As(err, &reqErr),
		errors.As(err, &policyErr),
		errors.Is(err, order.ErrValidation),
		errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, settlement.ErrNoSettlementIDs):
		return http.StatusBadRequest, errorResponse{Code: CodeValidation, Message: err.Error()}
	case errors.Is(err, order.ErrContentNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, settlement.ErrSettlementNotFound),
		errors.Is(err, seller.ErrSellerNotFound):
		return http.StatusNotFound, errorResponse{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, order.ErrOrderNotCancellable), errors.As(err, &transition):
		return http.StatusConflict, errorResponse{Code: CodeBusinessRule, Message: err.Error()}
	case errors.As(err, &conflict):
		return http.StatusConflict, errorResponse{Code: CodeConflict, Message: err.Error()}
	case errors.As(err, &noPolicy):
		return http.StatusUnprocessableEntity, errorResponse{Code: CodePolicyNotFound, Message: err.Error()}
	case errors.As(err, &verifyErr):
		return http.StatusUnprocessableEntity, errorResponse{Code: CodePGRejected, Message: err.Error(), PGCode: verifyErr.Code}
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, errorResponse{Code: CodePGRejected, Message: err.Error(), PGCode: apiErr.Code}
	case errors.As(err, &openErr):
		return http.StatusServiceUnavailable, errorResponse{Code: CodeCircuitOpen, Message: err.Error()}
	case errors.As(err, &extErr):
		return http.StatusBadGateway, errorResponse{Code: CodeExternalService, Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorResponse{Code: CodeInternal, Message: "internal server error"}
	}
}

// writeError writes the mapped error response. Unexpected errors are logged
// and hidden from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}
